// Package hooks provides the extensibility and policy layer for an identity
// platform: administrators bind small Lua scripts to lifecycle hook points
// (sign-up, sign-in, token issuance, API-key and OAuth-client lifecycles)
// and define a relationship/attribute authorization model that gates access
// to platform resources.
//
// Hook dispatch:
//   - The Registry declares the 16 recognized hook points, each with an
//     execution mode (blocking, async, enrichment) and per-field input rules.
//     Dispatcher resolves the scripts bound to a hook, runs them through the
//     InterpreterPool per the mode's contract, and returns a normalized
//     HookResult. Blocking scripts short-circuit on the first denial,
//     enrichment scripts shallow-merge their data last-write-wins, and async
//     scripts are fire-and-forget.
//   - Every script execution records a Span; every dispatch with bound
//     scripts records a Trace. Traces run best-effort so observability
//     failures never affect the triggering operation.
//
// Authorization:
//   - Tuples store relationship grants (entity, relation, subject) with
//     idempotent creation and platform-wide wildcard grants. An
//     AuthorizationModel maps permissions to required relations and declares
//     relation inheritance; the transitive closure is precomputed on every
//     model write so checks never walk the graph.
//   - Evaluator.CheckPermission fails closed: any internal error resolves to
//     a denial, and every evaluation emits exactly one audit entry through a
//     best-effort AuditSink.
//
// Sandboxing:
//   - Scripts run inside pooled gopher-lua states opened with a restricted
//     library surface (base/string/table/math only). Each execution sees a
//     read-only context table and a secret(name) accessor; wall-clock budgets
//     are enforced and a timed-out state is discarded rather than reused.
package hooks
