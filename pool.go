package hooks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	lua "github.com/yuin/gopher-lua"
)

// Handle is a borrowed interpreter slot. Callers must return it with
// Release; a handle whose execution corrupted the interpreter must be
// flagged with MarkBroken so the pool discards the state instead of reusing
// it.
type Handle struct {
	state    *lua.LState
	baseline map[string]struct{}
	broken   bool
}

// State exposes the underlying interpreter for the sandbox bridge.
func (h *Handle) State() *lua.LState {
	return h.state
}

// MarkBroken flags the handle so Release discards the interpreter state.
func (h *Handle) MarkBroken() {
	h.broken = true
}

// reset wipes every global the previous execution introduced, leaving only
// the baseline library surface. No state leaks between borrowers.
func (h *Handle) reset() {
	globals := h.state.G.Global

	var extras []lua.LValue
	globals.ForEach(func(k, _ lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok {
			extras = append(extras, k)
			return
		}
		if _, keep := h.baseline[string(name)]; !keep {
			extras = append(extras, k)
		}
	})

	for _, k := range extras {
		globals.RawSet(k, lua.LNil)
	}

	h.state.SetTop(0)
	h.state.SetContext(context.Background())
}

// InterpreterPool owns a bounded set of sandboxed Lua interpreters.
// Acquisition is FIFO-fair: when every slot is busy, callers queue in
// arrival order up to the configured acquire timeout. Release returns a
// clean state to the pool, or discards and replaces it when flagged broken.
type InterpreterPool struct {
	mu      sync.Mutex
	idle    []*Handle
	waiters []chan *Handle
	size    int
	closed  bool

	max     int
	timeout time.Duration
	factory func() (*Handle, error)
	logger  Logger

	active  atomic.Int64
	waiting atomic.Int64
}

// PoolOption customizes pool construction.
type PoolOption func(*InterpreterPool)

// WithPoolLogger overrides the pool's logger.
func WithPoolLogger(logger Logger) PoolOption {
	return func(p *InterpreterPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// withPoolFactory swaps the interpreter factory (tests only).
func withPoolFactory(factory func() (*Handle, error)) PoolOption {
	return func(p *InterpreterPool) {
		if factory != nil {
			p.factory = factory
		}
	}
}

// NewInterpreterPool builds a pool sized and timed per cfg. Interpreters are
// created lazily on first demand.
func NewInterpreterPool(cfg Config, opts ...PoolOption) *InterpreterPool {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	pool := &InterpreterPool{
		max:     cfg.GetMaxPoolSize(),
		timeout: cfg.GetAcquireTimeout(),
		factory: newSandboxHandle,
		logger:  defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(pool)
		}
	}

	return pool
}

// Active reports how many interpreters are currently lent out.
func (p *InterpreterPool) Active() int {
	return int(p.active.Load())
}

// Waiting reports how many acquisitions are queued for a free interpreter.
func (p *InterpreterPool) Waiting() int {
	return int(p.waiting.Load())
}

// Acquire borrows an interpreter, blocking FIFO behind earlier waiters when
// the pool is at capacity. It fails with ErrPoolExhausted once the acquire
// timeout elapses, never hangs.
func (p *InterpreterPool) Acquire(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if len(p.idle) > 0 {
		handle := p.idle[0]
		p.idle = p.idle[1:]
		p.active.Add(1)
		p.mu.Unlock()
		return handle, nil
	}

	if p.size < p.max {
		p.size++
		p.mu.Unlock()

		handle, err := p.factory()
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create interpreter")
		}

		p.active.Add(1)
		return handle, nil
	}

	waiter := make(chan *Handle, 1)
	p.waiters = append(p.waiters, waiter)
	p.waiting.Add(1)
	p.mu.Unlock()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case handle := <-waiter:
		p.waiting.Add(-1)
		if handle == nil {
			return nil, ErrPoolClosed
		}
		return handle, nil
	case <-ctx.Done():
		if handle, delivered := p.abandon(waiter); delivered {
			if handle != nil {
				return handle, nil
			}
			return nil, ErrPoolClosed
		}
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "interpreter acquisition cancelled")
	case <-timer.C:
		if handle, delivered := p.abandon(waiter); delivered {
			if handle != nil {
				return handle, nil
			}
			return nil, ErrPoolClosed
		}
		return nil, ErrPoolExhausted.WithMetadata(map[string]any{
			"timeout": p.timeout.String(),
			"max":     p.max,
		})
	}
}

// abandon removes a timed-out waiter from the queue. When delivery already
// raced the timeout, the in-flight handle is claimed and returned instead.
func (p *InterpreterPool) abandon(waiter chan *Handle) (*Handle, bool) {
	p.mu.Lock()
	for i, w := range p.waiters {
		if w == waiter {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			p.waiting.Add(-1)
			return nil, false
		}
	}
	p.mu.Unlock()

	handle := <-waiter
	p.waiting.Add(-1)
	return handle, true
}

// Release returns a handle to the pool. Clean handles are reset and reused;
// broken handles are closed and replaced with a fresh interpreter.
func (p *InterpreterPool) Release(handle *Handle) {
	p.active.Add(-1)
	if handle == nil {
		return
	}

	if handle.broken {
		handle.state.Close()

		replacement, err := p.factory()
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			p.logger.Error("failed to replace broken interpreter: %v", err)
			return
		}
		handle = replacement
	} else {
		handle.reset()
	}

	p.deliver(handle)
}

func (p *InterpreterPool) deliver(handle *Handle) {
	p.mu.Lock()
	if p.closed {
		p.size--
		p.mu.Unlock()
		handle.state.Close()
		return
	}

	if len(p.waiters) > 0 {
		waiter := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.active.Add(1)
		p.mu.Unlock()
		waiter <- handle
		return
	}

	p.idle = append(p.idle, handle)
	p.mu.Unlock()
}

// Close shuts the pool down. Queued waiters fail with ErrPoolClosed; idle
// interpreters are closed immediately and outstanding handles are closed as
// they come back through Release.
func (p *InterpreterPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	waiters := p.waiters
	idle := p.idle
	p.waiters = nil
	p.idle = nil
	p.size -= len(idle)
	p.mu.Unlock()

	for _, waiter := range waiters {
		waiter <- nil
	}
	for _, handle := range idle {
		handle.state.Close()
	}
}
