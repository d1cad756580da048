package rlm

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventKind identifies the type of session event.
type EventKind string

const (
	EventSessionStart     EventKind = "session_start"
	EventSessionEnd       EventKind = "session_end"
	EventIterationStart   EventKind = "iteration_start"
	EventModelResponse    EventKind = "model_response"
	EventCodeExecuted     EventKind = "code_executed"
	EventToolCallsPending EventKind = "tool_calls_pending"
	EventToolCallsResumed EventKind = "tool_calls_resumed"
	EventSubQueryStart    EventKind = "sub_query_start"
	EventSubQueryEnd      EventKind = "sub_query_end"
	EventFinalAnswer      EventKind = "final_answer"
	EventForcedFinal      EventKind = "forced_final"
	EventLoopDetection    EventKind = "loop_detection"
	EventWarning          EventKind = "warning"
	EventError            EventKind = "error"
)

// SessionEvent is a typed event emitted by the session loop.
type SessionEvent struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter delivers typed events to the host application via a channel
// and mirrors each one to the debug log. Nobody is required to read the
// channel; when it is full, events are counted and dropped.
type EventEmitter struct {
	sessionID string
	ch        chan SessionEvent
	logger    *zap.Logger
	closed    bool
	dropped   int
	mu        sync.Mutex
}

// NewEventEmitter creates a new EventEmitter with a buffered channel. A nil
// logger disables mirroring.
func NewEventEmitter(sessionID string, bufferSize int, logger *zap.Logger) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventEmitter{
		sessionID: sessionID,
		ch:        make(chan SessionEvent, bufferSize),
		logger:    logger,
	}
}

// Emit sends an event to the channel. If the emitter is closed, the event
// is silently dropped.
func (e *EventEmitter) Emit(kind EventKind, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := SessionEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	}
	if ce := e.logger.Check(zap.DebugLevel, "session event"); ce != nil {
		ce.Write(
			zap.String("session_id", e.sessionID),
			zap.String("kind", string(kind)),
			zap.Any("data", data),
		)
	}
	select {
	case e.ch <- event:
	default:
		e.dropped++
	}
}

// Dropped returns how many events were discarded because the channel was full.
func (e *EventEmitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan SessionEvent {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
