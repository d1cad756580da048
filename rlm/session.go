package rlm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/martinemde/rlm/contextnorm"
	"github.com/martinemde/rlm/replenv"
	"github.com/martinemde/rlm/unifiedllm"
)

// SessionState represents the current lifecycle state of a session.
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateIterating SessionState = "iterating"
	StatePaused    SessionState = "paused"
	StateDone      SessionState = "done"
	StateFailed    SessionState = "failed"
	StateClosed    SessionState = "closed"
)

// Input is one Completion call. A nil ToolResults starts a new run over
// Context and Query; a non-nil ToolResults resumes a paused run and ignores
// Context.
type Input struct {
	Context     any
	Query       string
	Tools       []unifiedllm.ToolDefinition
	ToolResults []unifiedllm.ToolResult
}

// ResultKind discriminates Completion outcomes.
type ResultKind string

const (
	ResultFinal  ResultKind = "final"
	ResultPaused ResultKind = "paused"
)

// Result is the outcome of a Completion call: either a final answer or a
// batch of tool calls the caller must run before resuming.
type Result struct {
	Kind      ResultKind            `json:"kind"`
	SessionID string                `json:"session_id"`
	Answer    string                `json:"answer,omitempty"`
	Text      string                `json:"text,omitempty"`
	ToolCalls []unifiedllm.ToolCall `json:"tool_calls,omitempty"`
	Iteration int                   `json:"iteration"`
	Forced    bool                  `json:"forced,omitempty"`
}

// SessionInfo is a point-in-time summary of a session.
type SessionInfo struct {
	ID                 string           `json:"id"`
	State              SessionState     `json:"state"`
	Model              string           `json:"model"`
	RecursiveModel     string           `json:"recursive_model"`
	HasContext         bool             `json:"has_context"`
	ContextKind        contextnorm.Kind `json:"context_kind,omitempty"`
	ContextChars       int              `json:"context_chars"`
	Query              string           `json:"query,omitempty"`
	NumTools           int              `json:"num_tools"`
	ConversationLength int              `json:"conversation_length"`
	Iteration          int              `json:"iteration"`
	MaxIterations      int              `json:"max_iterations"`
	PendingToolCallIDs []string         `json:"pending_tool_call_ids,omitempty"`
	SubQueries         int              `json:"sub_queries"`
	Variables          []string         `json:"variables,omitempty"`
}

// Session drives one model through the think / act / observe loop over a
// single context. Completion calls are serialized; the inspection methods
// are safe to call concurrently with a running Completion.
type Session struct {
	id      string
	engine  *Engine
	config  EngineConfig
	client  *unifiedllm.Client
	logger  *zap.Logger
	emitter *EventEmitter

	run sync.Mutex // held for the duration of Completion and Reset

	mu          sync.Mutex
	state       SessionState
	initialized bool
	history     []Turn
	doc         contextnorm.Document
	query       string
	tools       []unifiedllm.ToolDefinition
	env         *replenv.Environment
	subqueries  *SubQueryManager
	pending     *ToolCallBatch
	iteration   int
	lastErr     error
}

func newSession(e *Engine, cfg EngineConfig) *Session {
	id := uuid.New().String()
	logger := e.logger.With(zap.String("session_id", id))
	return &Session{
		id:      id,
		engine:  e,
		config:  cfg,
		client:  e.client,
		logger:  logger,
		emitter: NewEventEmitter(id, e.eventBuffer, logger),
		state:   StateIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Config returns the session's effective configuration.
func (s *Session) Config() EngineConfig { return s.config }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Iteration returns how many model requests the current run has made,
// not counting forced finalization.
func (s *Session) Iteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iteration
}

// Conversation returns a copy of the conversation history.
func (s *Session) Conversation() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneHistory(s.history)
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// PendingIDs returns the ids of the tool calls awaiting results.
func (s *Session) PendingIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.IDs()
}

// HasPendingCall reports whether id belongs to the pending batch.
func (s *Session) HasPendingCall(id string) bool {
	for _, p := range s.PendingIDs() {
		if p == id {
			return true
		}
	}
	return false
}

// Environment returns the live execution environment, or nil before the
// first Completion.
func (s *Session) Environment() *replenv.Environment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.env
}

// SubQueries returns the sub-queries issued by the current run.
func (s *Session) SubQueries() []SubQueryRecord {
	s.mu.Lock()
	sub := s.subqueries
	s.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Records()
}

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent {
	return s.emitter.Events()
}

// Snapshot returns the serializable paused state. It is meaningful at any
// time but only carries a pending batch while the session is paused.
func (s *Session) Snapshot() PausedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() PausedState {
	p := PausedState{
		SessionID:    s.id,
		Conversation: cloneHistory(s.history),
		Query:        s.query,
		Iteration:    s.iteration,
	}
	if len(s.tools) > 0 {
		p.Tools = append([]unifiedllm.ToolDefinition(nil), s.tools...)
	}
	if s.pending != nil {
		batch := *s.pending
		batch.Calls = append([]unifiedllm.ToolCall(nil), s.pending.Calls...)
		p.Pending = &batch
	}
	if s.env != nil {
		p.EnvHandle = s.env.ID()
	}
	return p
}

// Info returns a summary of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	info := SessionInfo{
		ID:                 s.id,
		State:              s.state,
		Model:              s.config.Model,
		RecursiveModel:     s.config.RecursiveModel,
		HasContext:         s.initialized && s.doc.Kind != contextnorm.KindEmpty,
		Query:              s.query,
		NumTools:           len(s.tools),
		ConversationLength: len(s.history),
		Iteration:          s.iteration,
		MaxIterations:      s.config.MaxIterations,
		PendingToolCallIDs: s.pending.IDs(),
	}
	if s.initialized {
		info.ContextKind = s.doc.Kind
		info.ContextChars = s.doc.Len()
	}
	env, sub := s.env, s.subqueries
	s.mu.Unlock()

	// Neither call waits for running code.
	if env != nil {
		info.Variables = env.Variables()
	}
	if sub != nil {
		info.SubQueries = len(sub.Records())
	}
	return info
}

// Reset discards the conversation, environment and pending batch. The next
// Completion starts from scratch.
func (s *Session) Reset() {
	s.run.Lock()
	defer s.run.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = false
	s.history = nil
	s.doc = contextnorm.Document{}
	s.query = ""
	s.tools = nil
	s.env = nil
	s.subqueries = nil
	s.pending = nil
	s.iteration = 0
	s.lastErr = nil
	if s.state != StateClosed {
		s.state = StateIdle
	}
}

// Close terminates the session. A running Completion stops at its next
// iteration boundary with ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.emitter.Emit(EventSessionEnd, map[string]any{
		"state": string(StateClosed),
	})
	s.emitter.Close()
}

// Completion runs the loop until a final answer or a tool-call pause.
func (s *Session) Completion(ctx context.Context, in Input) (*Result, error) {
	s.run.Lock()
	defer s.run.Unlock()

	if s.State() == StateClosed {
		return nil, ErrSessionClosed
	}

	if in.ToolResults == nil {
		if err := s.initialize(in); err != nil {
			return nil, err
		}
	} else if err := s.resume(in); err != nil {
		return nil, err
	}
	return s.iterate(ctx)
}

// initialize normalizes the context once and builds a fresh environment.
func (s *Session) initialize(in Input) error {
	doc, err := contextnorm.Normalize(in.Context)
	if err != nil {
		return fmt.Errorf("normalize context: %w", err)
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		query = DefaultQuery
	}

	sub := NewSubQueryManager(s.client, s.config.RecursiveModel, s.config.Provider,
		s.config.MaxSubQueryDepth, s.config.SubQueryMaxChars, s.emitter, s.logger)
	caps := s.engine.capabilities()
	if s.config.MaxSubQueryDepth == 0 {
		caps.Unregister("llm_query")
	}
	env := replenv.New(doc, sub,
		replenv.WithMaxSteps(s.config.MaxExecutionSteps),
		replenv.WithCapabilities(caps),
		replenv.WithLogger(s.logger),
	)
	system := BuildSystemPrompt(env.Capabilities(), doc, len(in.Tools) > 0)

	s.mu.Lock()
	s.initialized = true
	s.doc = doc
	s.query = query
	s.tools = append([]unifiedllm.ToolDefinition(nil), in.Tools...)
	s.env = env
	s.subqueries = sub
	s.history = []Turn{NewSystemTurn(system), NewUserTurn(query)}
	s.pending = nil
	s.iteration = 0
	s.lastErr = nil
	s.state = StateIterating
	s.mu.Unlock()

	s.emitter.Emit(EventSessionStart, map[string]any{
		"query":          query,
		"context_kind":   string(doc.Kind),
		"context_chars":  doc.Len(),
		"max_iterations": s.config.MaxIterations,
		"model":          s.config.Model,
		"env_id":         env.ID(),
	})
	s.logger.Info("session initialized",
		zap.String("model", s.config.Model),
		zap.String("recursive_model", s.config.RecursiveModel),
		zap.String("context_kind", string(doc.Kind)),
		zap.Int("context_chars", doc.Len()),
		zap.Int("tools", len(in.Tools)),
	)
	return nil
}

// resume applies caller-supplied tool results to the paused conversation.
// A mismatch leaves the session exactly as it was.
func (s *Session) resume(in Input) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns, err := ApplyToolResults(s.snapshotLocked(), in.ToolResults)
	if err != nil {
		s.logger.Warn("rejected tool results", zap.Error(err))
		return err
	}
	ids := s.pending.IDs()
	s.history = turns
	s.pending = nil
	if in.Tools != nil {
		s.tools = append([]unifiedllm.ToolDefinition(nil), in.Tools...)
	}
	s.state = StateIterating

	s.emitter.Emit(EventToolCallsResumed, map[string]any{
		"iteration": s.iteration,
		"ids":       ids,
	})
	return nil
}

func (s *Session) iterate(ctx context.Context) (*Result, error) {
	for {
		s.mu.Lock()
		closed := s.state == StateClosed
		iter := s.iteration
		s.mu.Unlock()

		if closed {
			return nil, ErrSessionClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, s.fail(iter, err)
		}
		if iter >= s.config.MaxIterations {
			return s.forceFinal(ctx, iter)
		}

		s.emitter.Emit(EventIterationStart, map[string]any{"iteration": iter})
		resp, err := s.client.Complete(ctx, s.buildRequest(NextActionPrompt(s.queryText(), iter), true))
		s.mu.Lock()
		s.iteration++
		s.mu.Unlock()
		if err != nil {
			return nil, s.fail(iter, &ModelInvocationError{Iteration: iter, Err: err})
		}

		text := resp.Text()
		calls := resp.ToolCallsFromResponse()
		s.emitter.Emit(EventModelResponse, map[string]any{
			"iteration":  iter,
			"text":       text,
			"tool_calls": len(calls),
		})

		if len(calls) > 0 {
			return s.pause(iter, resp.ID, text, calls), nil
		}

		blocks := FindCodeBlocks(text)
		s.appendTurn(NewAssistantTurn(text, nil, blocks, resp.ID))
		if len(blocks) > 0 {
			s.appendTurn(s.execute(ctx, iter, blocks))
			s.checkLoop()
		}

		if answer, ok := s.finalAnswer(text); ok {
			return s.finish(iter, answer, false), nil
		}
	}
}

// pause records the batch and hands control back to the caller. Code in the
// same response is not executed.
func (s *Session) pause(iter int, responseID, text string, calls []unifiedllm.ToolCall) *Result {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "call_" + uuid.New().String()[:8]
		}
		if len(calls[i].Arguments) == 0 {
			calls[i].Arguments = []byte(`{}`)
		}
	}
	batch := &ToolCallBatch{Calls: calls, Iteration: iter}

	s.mu.Lock()
	s.history = append(s.history, NewAssistantTurn(text, calls, nil, responseID))
	s.pending = batch
	s.state = StatePaused
	s.mu.Unlock()

	s.emitter.Emit(EventToolCallsPending, map[string]any{
		"iteration": iter,
		"ids":       batch.IDs(),
	})
	s.logger.Info("paused for tool calls",
		zap.Int("iteration", iter),
		zap.Strings("ids", batch.IDs()),
	)

	return &Result{
		Kind:      ResultPaused,
		SessionID: s.id,
		Text:      text,
		ToolCalls: append([]unifiedllm.ToolCall(nil), calls...),
		Iteration: iter,
	}
}

// execute runs every block in order and renders one observation turn.
// Execution errors become part of the observation.
func (s *Session) execute(ctx context.Context, iter int, blocks []CodeBlock) Turn {
	var sb strings.Builder
	failed := 0
	for i, b := range blocks {
		res := s.env.Execute(ctx, b.Code)
		if res.Failed() {
			failed++
		}
		s.emitter.Emit(EventCodeExecuted, map[string]any{
			"iteration": iter,
			"block":     i + 1,
			"code":      b.Code,
			"output":    res.Output(),
			"failed":    res.Failed(),
			"duration":  res.Duration.String(),
		})

		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "REPL output (block %d of %d):\n", i+1, len(blocks))
		sb.WriteString(truncateObservation(res.Output(), s.config.MaxOutputChars, s.config.MaxOutputLines))
	}
	return NewObservationTurn(sb.String(), len(blocks), failed)
}

func (s *Session) checkLoop() {
	if !s.config.EnableLoopDetection {
		return
	}
	window := s.config.LoopDetectionWindow
	if !DetectLoop(s.Conversation(), window) {
		return
	}
	warning := loopWarning(window)
	s.appendTurn(NewSteeringTurn(warning))
	s.emitter.Emit(EventLoopDetection, map[string]any{"message": warning})
	s.logger.Warn("loop detected", zap.Int("window", window))
}

// finalAnswer checks, in order: the environment answer slot, a FINAL_VAR
// marker and a FINAL marker.
func (s *Session) finalAnswer(text string) (string, bool) {
	if answer, ok := s.env.Answer(); ok {
		return answer, true
	}
	if name, ok := FindFinalVar(text); ok {
		if v, ok := s.env.Lookup(name); ok {
			return v, true
		}
		msg := fmt.Sprintf("FINAL_VAR(%s) names a variable that is not defined in the REPL. "+
			"Assign it in a code block first, or answer with FINAL(...).", name)
		s.appendTurn(NewSteeringTurn(msg))
		s.emitter.Emit(EventWarning, map[string]any{"message": msg})
	}
	if answer, ok := FindFinal(text); ok {
		return answer, true
	}
	return "", false
}

// forceFinal spends the one extra request allowed after the budget is gone.
// The answer is never empty.
func (s *Session) forceFinal(ctx context.Context, iter int) (*Result, error) {
	s.emitter.Emit(EventForcedFinal, map[string]any{"iteration": iter})
	s.logger.Info("iteration budget exhausted, forcing final answer", zap.Int("iterations", iter))

	resp, err := s.client.Complete(ctx, s.buildRequest(ForcedFinalPrompt(s.queryText()), false))
	if err != nil {
		return nil, s.fail(iter, &ModelInvocationError{Iteration: iter, Err: err})
	}

	text := resp.Text()
	answer := UnwrapFinal(text)
	if answer == "" {
		answer = UnwrapFinal(lastAssistantText(s.Conversation()))
	}
	if answer == "" {
		answer = FallbackAnswer
	}
	s.appendTurn(NewAssistantTurn(text, nil, nil, resp.ID))
	return s.finish(iter, answer, true), nil
}

func (s *Session) finish(iter int, answer string, forced bool) *Result {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = StateDone
	}
	s.mu.Unlock()

	s.emitter.Emit(EventFinalAnswer, map[string]any{
		"iteration": iter,
		"answer":    answer,
		"forced":    forced,
	})
	s.logger.Info("final answer",
		zap.Int("iteration", iter),
		zap.Bool("forced", forced),
		zap.Int("answer_chars", len(answer)),
	)
	return &Result{
		Kind:      ResultFinal,
		SessionID: s.id,
		Answer:    answer,
		Iteration: iter,
		Forced:    forced,
	}
}

func (s *Session) fail(iter int, err error) error {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = StateFailed
	}
	s.lastErr = err
	s.mu.Unlock()

	s.emitter.Emit(EventError, map[string]any{
		"iteration": iter,
		"error":     err.Error(),
	})
	s.logger.Error("session failed", zap.Int("iteration", iter), zap.Error(err))
	return err
}

// buildRequest assembles the system turn, the stored conversation and a
// transient instruction that is not recorded.
func (s *Session) buildRequest(instruction string, withTools bool) unifiedllm.Request {
	s.mu.Lock()
	messages := ConvertHistoryToMessages(s.history)
	tools := s.tools
	s.mu.Unlock()

	req := unifiedllm.Request{
		Model:    s.config.Model,
		Provider: s.config.Provider,
		Messages: append(messages, unifiedllm.UserMessage(instruction)),
		Metadata: map[string]string{"session_id": s.id},
	}
	if withTools && len(tools) > 0 {
		req.ToolDefs = tools
		req.ToolChoice = &unifiedllm.ToolChoice{Mode: "auto"}
	}
	return req
}

func (s *Session) appendTurn(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, t)
}

func (s *Session) queryText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

