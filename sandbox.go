package hooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	lua "github.com/yuin/gopher-lua"
)

// ScriptResult is the normalized output of one script execution. Scripts
// return a table: { allowed = bool, error = string?, data = table? }.
type ScriptResult struct {
	Allowed bool
	Error   string
	Data    map[string]any
}

// Sandbox builds the capability surface visible to script code and executes
// scripts on pool handles under a wall-clock budget. Scripts see a read-only
// context table, a secret(name) accessor, and the base/string/table/math
// libraries only.
type Sandbox struct {
	secrets SecretResolver
	timeout time.Duration
	logger  Logger
}

// SandboxOption customizes sandbox construction.
type SandboxOption func(*Sandbox)

// WithSandboxSecrets wires the resolver backing the secret(name) accessor.
func WithSandboxSecrets(resolver SecretResolver) SandboxOption {
	return func(s *Sandbox) {
		if resolver != nil {
			s.secrets = resolver
		}
	}
}

// WithSandboxLogger overrides the sandbox logger.
func WithSandboxLogger(logger Logger) SandboxOption {
	return func(s *Sandbox) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSandbox builds a sandbox with the script timeout from cfg.
func NewSandbox(cfg Config, opts ...SandboxOption) *Sandbox {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	sandbox := &Sandbox{
		secrets: noSecrets{},
		timeout: cfg.GetScriptTimeout(),
		logger:  defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sandbox)
		}
	}

	return sandbox
}

// Execute runs source on the handle with contextData exposed as the
// `context` global. A script exceeding the wall-clock budget is forcibly
// terminated, reported as ErrScriptTimeout, and its handle flagged broken so
// the pool discards the interpreter.
func (s *Sandbox) Execute(ctx context.Context, handle *Handle, source string, contextData map[string]any) (*ScriptResult, error) {
	L := handle.State()

	L.SetGlobal("context", goValueToLua(L, contextData))
	L.SetGlobal("secret", L.NewFunction(s.secretAccessor(ctx)))

	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	L.SetContext(tctx)

	fn, err := L.LoadString(source)
	if err != nil {
		return nil, goerrors.Wrap(ErrScriptFailed, goerrors.CategoryOperation,
			"script failed to compile: "+err.Error())
	}

	base := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		if tctx.Err() != nil {
			handle.MarkBroken()
			return nil, goerrors.Wrap(ErrScriptTimeout, goerrors.CategoryOperation,
				fmt.Sprintf("script exceeded its %s budget", s.timeout))
		}
		return nil, goerrors.Wrap(ErrScriptFailed, goerrors.CategoryOperation,
			luaErrorMessage(err))
	}

	if L.GetTop() <= base {
		return nil, ErrMalformedResult.WithMetadata(map[string]any{
			"reason": "script returned no value",
		})
	}

	returned := L.Get(base + 1)
	L.SetTop(base)

	return parseScriptResult(returned)
}

func (s *Sandbox) secretAccessor(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		name := L.CheckString(1)
		value, err := s.secrets.Resolve(ctx, name)
		if err != nil {
			// Script-level error, never a process fault.
			L.RaiseError("secret %q is not defined", name)
			return 0
		}
		L.Push(lua.LString(value))
		return 1
	}
}

func parseScriptResult(value lua.LValue) (*ScriptResult, error) {
	table, ok := value.(*lua.LTable)
	if !ok {
		return nil, ErrMalformedResult.WithMetadata(map[string]any{
			"reason": "result is not a table",
			"type":   value.Type().String(),
		})
	}

	allowed, ok := table.RawGetString("allowed").(lua.LBool)
	if !ok {
		return nil, ErrMalformedResult.WithMetadata(map[string]any{
			"reason": "missing boolean 'allowed' field",
		})
	}

	result := &ScriptResult{Allowed: bool(allowed)}

	if ev := table.RawGetString("error"); ev != lua.LNil {
		msg, ok := ev.(lua.LString)
		if !ok {
			return nil, ErrMalformedResult.WithMetadata(map[string]any{
				"reason": "'error' field is not a string",
			})
		}
		result.Error = string(msg)
	}

	if dv := table.RawGetString("data"); dv != lua.LNil {
		dataTable, ok := dv.(*lua.LTable)
		if !ok {
			return nil, ErrMalformedResult.WithMetadata(map[string]any{
				"reason": "'data' field is not a table",
			})
		}
		data, ok := luaValueToGo(dataTable).(map[string]any)
		if !ok {
			return nil, ErrMalformedResult.WithMetadata(map[string]any{
				"reason": "'data' field is not a map",
			})
		}
		result.Data = data
	}

	return result, nil
}

// newSandboxHandle creates an interpreter with the restricted library
// surface: base, table, string, and math. No io, os, package, or coroutine,
// and the load family is stripped from base so scripts cannot evaluate
// arbitrary code or touch the filesystem.
func newSandboxHandle() (*Handle, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("opening lua lib %q: %w", lib.name, err)
		}
	}

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "collectgarbage"} {
		L.SetGlobal(name, lua.LNil)
	}

	// Everything registered past this point (context, secret, user globals)
	// is wiped when the handle returns to the pool.
	baseline := make(map[string]struct{})
	L.G.Global.ForEach(func(k, _ lua.LValue) {
		if name, ok := k.(lua.LString); ok {
			baseline[string(name)] = struct{}{}
		}
	})

	return &Handle{state: L, baseline: baseline}, nil
}

func luaErrorMessage(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		return apiErr.Object.String()
	}
	return err.Error()
}

type noSecrets struct{}

func (noSecrets) Resolve(context.Context, string) (string, error) {
	return "", ErrSecretNotFound
}

func goValueToLua(L *lua.LState, value any) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int32:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case time.Time:
		return lua.LString(v.Format(time.RFC3339))
	case map[string]any:
		table := L.NewTable()
		for key, item := range v {
			table.RawSetString(key, goValueToLua(L, item))
		}
		return table
	case []string:
		table := L.NewTable()
		for i, item := range v {
			table.RawSetInt(i+1, lua.LString(item))
		}
		return table
	case []any:
		table := L.NewTable()
		for i, item := range v {
			table.RawSetInt(i+1, goValueToLua(L, item))
		}
		return table
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

func luaValueToGo(value lua.LValue) any {
	switch v := value.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return float64(v)
	case *lua.LTable:
		if n := v.MaxN(); n > 0 {
			items := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				items = append(items, luaValueToGo(v.RawGetInt(i)))
			}
			return items
		}
		out := map[string]any{}
		v.ForEach(func(k, item lua.LValue) {
			out[k.String()] = luaValueToGo(item)
		})
		return out
	default:
		return nil
	}
}
