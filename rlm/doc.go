// Package rlm implements a recursive language model loop: a driving model
// explores a context too large for one prompt by writing code against a
// sandboxed REPL (package replenv), observing the output, and repeating
// until it commits to an answer.
//
// # Session Lifecycle
//
// A Session is created by an Engine and driven by Completion:
//
//   - Idle: created, no context yet.
//   - Iterating: one model request per iteration, up to MaxIterations.
//   - Paused: the model asked for caller-executed tool calls.
//   - Done: a final answer was produced.
//   - Failed: a model request failed; failures are never retried.
//   - Closed: terminal.
//
// # Turn Priority
//
// Each model response is classified in strict order. Tool calls pause the
// session and nothing in the response is executed. Otherwise every
// ```repl (or python, py, starlark, unlabeled) block is executed in order
// and one observation turn is appended. Then the loop looks for a final
// answer: the REPL answer slot, FINAL_VAR(name), then FINAL(text).
//
// When the budget runs out the session makes one more request with no
// tools and returns whatever the model says as a forced final answer.
//
// # Pausing and Resuming
//
//	res, err := sess.Completion(ctx, rlm.Input{Context: doc, Query: q, Tools: tools})
//	if res.Kind == rlm.ResultPaused {
//	    results := runTools(res.ToolCalls)
//	    res, err = sess.Completion(ctx, rlm.Input{ToolResults: results})
//	}
//
// Resuming continues the same iteration budget on the same REPL. Results
// must match the pending call ids one to one; anything else is a
// *ProtocolError and the session stays paused.
//
// # Sub-queries
//
// Code calls llm_query(fragment, question) to have the recursive model read
// a fragment. Sub-queries are single completions without tools, and nesting
// is bounded by MaxSubQueryDepth.
package rlm
