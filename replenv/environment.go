package replenv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"go.uber.org/zap"

	"github.com/martinemde/rlm/contextnorm"
)

// SubQuerier answers a question about a fragment of context with a fresh
// model call. It is how llm_query reaches a model from inside the sandbox.
type SubQuerier interface {
	SubQuery(ctx context.Context, fragment, question string) (string, error)
}

// ExecResult holds the outcome of one code execution.
type ExecResult struct {
	Stdout   string        `json:"stdout"`
	Value    string        `json:"value,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the execution ended in an error.
func (r ExecResult) Failed() bool {
	return r.Error != ""
}

// Output renders the result the way the model sees it.
func (r ExecResult) Output() string {
	var parts []string
	if r.Stdout != "" {
		parts = append(parts, strings.TrimRight(r.Stdout, "\n"))
	}
	if r.Value != "" {
		parts = append(parts, r.Value)
	}
	if r.Error != "" {
		parts = append(parts, "Error: "+r.Error)
	}
	if len(parts) == 0 {
		return "(no output)"
	}
	return strings.Join(parts, "\n")
}

const (
	// DefaultMaxSteps bounds a single execution. It is generous enough to
	// scan multi-megabyte contexts line by line.
	DefaultMaxSteps uint64 = 50_000_000

	// DefaultMaxOutput caps printed output captured per execution.
	DefaultMaxOutput = 100_000

	threadKeyContext = "rlm.context"
	threadKeyEnv     = "rlm.env"
)

// fileOptions enables the Python-like dialect models expect: top-level
// loops, while, reassignment of globals, sets and recursion.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Option configures an Environment.
type Option func(*Environment)

// WithMaxSteps sets the Starlark step budget per execution. Zero disables it.
func WithMaxSteps(n uint64) Option {
	return func(e *Environment) {
		e.maxSteps = n
	}
}

// WithMaxOutput caps the printed output captured per execution.
func WithMaxOutput(n int) Option {
	return func(e *Environment) {
		e.maxOutput = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Environment) {
		e.logger = l
	}
}

// WithCapabilities replaces the default capability set.
func WithCapabilities(r *CapabilityRegistry) Option {
	return func(e *Environment) {
		e.caps = r
	}
}

// WithID sets the environment identifier instead of a random one.
func WithID(id string) Option {
	return func(e *Environment) {
		e.id = id
	}
}

// Environment is a persistent Starlark namespace bound to one context
// document. Executions are serialized; globals defined by one execution are
// visible to the next.
type Environment struct {
	id        string
	doc       contextnorm.Document
	sub       SubQuerier
	caps      *CapabilityRegistry
	maxSteps  uint64
	maxOutput int
	logger    *zap.Logger

	mu       sync.Mutex
	globals  starlark.StringDict
	capNames map[string]bool
	answer   *string
	runs     int

	// vars is the user variable list as of the last execution. It has its
	// own lock so it can be read while code runs.
	varsMu sync.RWMutex
	vars   []string

	// derived views of the context, built on first use
	runes []rune
	lines []string
}

// New creates an Environment over doc. sub may be nil, in which case
// llm_query fails when called.
func New(doc contextnorm.Document, sub SubQuerier, opts ...Option) *Environment {
	e := &Environment{
		doc:       doc,
		sub:       sub,
		maxSteps:  DefaultMaxSteps,
		maxOutput: DefaultMaxOutput,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.id == "" {
		e.id = "env_" + uuid.New().String()[:8]
	}
	if e.caps == nil {
		e.caps = DefaultCapabilities()
	}

	e.globals = make(starlark.StringDict)
	e.capNames = make(map[string]bool)
	for _, c := range e.caps.List() {
		e.globals[c.Name] = c.Build(e)
		e.capNames[c.Name] = true
	}
	return e
}

// ID returns the environment identifier.
func (e *Environment) ID() string {
	return e.id
}

// Document returns the context the environment was built over.
func (e *Environment) Document() contextnorm.Document {
	return e.doc
}

// Capabilities returns the capability registry in use.
func (e *Environment) Capabilities() *CapabilityRegistry {
	return e.caps
}

// Execute runs code in the environment. Parse errors, runtime errors,
// exhausted step budgets and cancellation are all reported in
// ExecResult.Error; Execute itself never fails.
func (e *Environment) Execute(ctx context.Context, code string) ExecResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	e.runs++

	if err := ctx.Err(); err != nil {
		return ExecResult{Error: "execution cancelled: " + err.Error(), Duration: time.Since(start)}
	}

	out := &limitedBuffer{limit: e.maxOutput}
	thread := &starlark.Thread{
		Name: e.id,
		Print: func(_ *starlark.Thread, msg string) {
			out.WriteString(msg)
			out.WriteString("\n")
		},
	}
	thread.SetLocal(threadKeyContext, ctx)
	thread.SetLocal(threadKeyEnv, e)
	if e.maxSteps > 0 {
		thread.SetMaxExecutionSteps(e.maxSteps)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	result := ExecResult{}
	f, err := fileOptions.Parse("<repl>", code, 0)
	if err != nil {
		result.Error = formatError(err)
		result.Duration = time.Since(start)
		return result
	}
	captured := captureLastExpr(f)

	err = starlark.ExecREPLChunk(f, thread, e.globals)
	e.snapshotVariables()
	result.Stdout = out.String()
	if err != nil {
		result.Error = formatError(err)
	} else if captured {
		if v, ok := e.globals[lastValueName]; ok && v != starlark.None {
			result.Value = v.String()
		}
	}
	result.Duration = time.Since(start)

	e.logger.Debug("code executed",
		zap.String("env_id", e.id),
		zap.Int("run", e.runs),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Bool("failed", result.Failed()),
		zap.Uint64("steps", thread.ExecutionSteps()),
		zap.Duration("duration", result.Duration),
	)
	return result
}

// Answer returns the final answer set by FINAL or FINAL_VAR, if any.
func (e *Environment) Answer() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.answer == nil {
		return "", false
	}
	return *e.answer, true
}

// ClearAnswer empties the answer slot.
func (e *Environment) ClearAnswer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.answer = nil
}

// Lookup returns the display form of a global variable. Strings are
// returned without quotes.
func (e *Environment) Lookup(name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.globals[name]
	if !ok {
		return "", false
	}
	return displayString(v), true
}

// Variables returns the sorted names of user-defined globals as of the last
// finished execution. It does not wait for running code.
func (e *Environment) Variables() []string {
	e.varsMu.RLock()
	defer e.varsMu.RUnlock()
	return append([]string(nil), e.vars...)
}

// snapshotVariables is called by Execute with e.mu held.
func (e *Environment) snapshotVariables() {
	vars := e.userVariables(e.globals)
	e.varsMu.Lock()
	e.vars = vars
	e.varsMu.Unlock()
}

// Runs returns how many executions the environment has performed.
func (e *Environment) Runs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs
}

func (e *Environment) userVariables(globals starlark.StringDict) []string {
	names := make([]string, 0, len(globals))
	for name := range globals {
		if e.capNames[name] || name == lastValueName {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// setAnswer is called from builtins while e.mu is held by Execute.
func (e *Environment) setAnswer(s string) {
	e.answer = &s
}

// liveGlobals merges globals from earlier executions with the values the
// running chunk has assigned so far. Only valid while Execute holds e.mu.
func (e *Environment) liveGlobals(thread *starlark.Thread) starlark.StringDict {
	merged := make(starlark.StringDict, len(e.globals))
	for k, v := range e.globals {
		merged[k] = v
	}
	for depth := 1; depth < thread.CallStackDepth(); depth++ {
		if fn, ok := thread.DebugFrame(depth).Callable().(*starlark.Function); ok {
			for k, v := range fn.Globals() {
				merged[k] = v
			}
			break
		}
	}
	return merged
}

// lastValueName receives the value of a trailing expression statement.
const lastValueName = "_"

// captureLastExpr rewrites a trailing expression statement into an
// assignment to "_" so its value can be reported.
func captureLastExpr(f *syntax.File) bool {
	if len(f.Stmts) == 0 {
		return false
	}
	last, ok := f.Stmts[len(f.Stmts)-1].(*syntax.ExprStmt)
	if !ok {
		return false
	}
	start, _ := last.X.Span()
	f.Stmts[len(f.Stmts)-1] = &syntax.AssignStmt{
		OpPos: start,
		Op:    syntax.EQ,
		LHS:   &syntax.Ident{NamePos: start, Name: lastValueName},
		RHS:   last.X,
	}
	return true
}

func formatError(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	return err.Error()
}

func displayString(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}

// limitedBuffer keeps at most limit bytes and notes that output was dropped.
type limitedBuffer struct {
	sb        strings.Builder
	limit     int
	truncated bool
}

func (b *limitedBuffer) WriteString(s string) {
	if b.limit <= 0 {
		b.sb.WriteString(s)
		return
	}
	remaining := b.limit - b.sb.Len()
	if remaining <= 0 {
		b.truncated = true
		return
	}
	if len(s) > remaining {
		s = s[:remaining]
		b.truncated = true
	}
	b.sb.WriteString(s)
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return b.sb.String() + fmt.Sprintf("\n... [output truncated at %d characters]\n", b.limit)
	}
	return b.sb.String()
}
