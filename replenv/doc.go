// Package replenv is the sandboxed execution environment a session's model
// writes code against.
//
// Code is Starlark, a small Python dialect with no filesystem, network or
// OS access. Each Environment keeps one global namespace for its lifetime,
// so variables assigned by one Execute call are visible to the next. The
// context document is exposed through a narrow capability set (see
// DefaultCapabilities): slicing, line access, substring and regex search,
// partitioning, sub-model queries via llm_query, and the FINAL/FINAL_VAR
// answer slot.
//
// Executions never return Go errors. Parse errors, runtime errors with their
// Starlark backtrace, an exhausted step budget and context cancellation are
// reported in ExecResult.Error.
package replenv
