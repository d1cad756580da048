package rlm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/martinemde/rlm/unifiedllm"
)

// SubQueryStatus represents the lifecycle state of a sub-query.
type SubQueryStatus string

const (
	SubQueryRunning   SubQueryStatus = "running"
	SubQueryCompleted SubQueryStatus = "completed"
	SubQueryFailed    SubQueryStatus = "failed"
)

// SubQueryRecord tracks one llm_query call.
type SubQueryRecord struct {
	ID            string         `json:"id"`
	Question      string         `json:"question"`
	FragmentChars int            `json:"fragment_chars"`
	Depth         int            `json:"depth"`
	Status        SubQueryStatus `json:"status"`
	ResultChars   int            `json:"result_chars"`
	Error         string         `json:"error,omitempty"`
	Duration      time.Duration  `json:"duration"`
}

type depthKey struct{}

// WithDepth returns a context carrying the sub-query nesting depth.
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// DepthFrom returns the sub-query nesting depth carried by ctx.
func DepthFrom(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// SubQueryManager answers llm_query calls for one session. Each call is a
// single leaf completion against the recursive model, with no tools and no
// REPL of its own.
type SubQueryManager struct {
	client   *unifiedllm.Client
	model    string
	provider string
	maxDepth int
	maxChars int
	emitter  *EventEmitter
	logger   *zap.Logger

	mu      sync.RWMutex
	records []SubQueryRecord
}

// NewSubQueryManager creates a manager. A nil emitter or logger is allowed.
func NewSubQueryManager(client *unifiedllm.Client, model, provider string, maxDepth, maxChars int, emitter *EventEmitter, logger *zap.Logger) *SubQueryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubQueryManager{
		client:   client,
		model:    model,
		provider: provider,
		maxDepth: maxDepth,
		maxChars: maxChars,
		emitter:  emitter,
		logger:   logger,
	}
}

// CanSpawn reports whether a sub-query is allowed at the depth carried by ctx.
func (m *SubQueryManager) CanSpawn(ctx context.Context) bool {
	return DepthFrom(ctx) < m.maxDepth
}

// SubQuery sends fragment and question to the recursive model and returns
// its answer. Oversized fragments are cut to the configured limit.
func (m *SubQueryManager) SubQuery(ctx context.Context, fragment, question string) (string, error) {
	depth := DepthFrom(ctx)
	if !m.CanSpawn(ctx) {
		return "", fmt.Errorf("maximum sub-query depth (%d) reached", m.maxDepth)
	}

	rec := SubQueryRecord{
		ID:            "sq_" + uuid.New().String()[:8],
		Question:      question,
		FragmentChars: len([]rune(fragment)),
		Depth:         depth + 1,
		Status:        SubQueryRunning,
	}
	m.emit(EventSubQueryStart, map[string]any{
		"id":             rec.ID,
		"question":       question,
		"fragment_chars": rec.FragmentChars,
		"depth":          rec.Depth,
	})

	start := time.Now()
	result, err := unifiedllm.Generate(WithDepth(ctx, depth+1), unifiedllm.GenerateOptions{
		Client:   m.client,
		Model:    m.model,
		Provider: m.provider,
		System:   subQuerySystemPrompt,
		Prompt:   subQueryPrompt(m.clip(fragment), question),
	})
	rec.Duration = time.Since(start)

	if err != nil {
		rec.Status = SubQueryFailed
		rec.Error = err.Error()
		m.record(rec)
		m.logger.Warn("sub-query failed",
			zap.String("id", rec.ID),
			zap.String("model", m.model),
			zap.Error(err),
		)
		m.emit(EventSubQueryEnd, map[string]any{"id": rec.ID, "error": rec.Error})
		return "", fmt.Errorf("sub-query: %w", err)
	}

	rec.Status = SubQueryCompleted
	rec.ResultChars = len([]rune(result.Text))
	m.record(rec)
	m.logger.Debug("sub-query completed",
		zap.String("id", rec.ID),
		zap.String("model", m.model),
		zap.Int("fragment_chars", rec.FragmentChars),
		zap.Int("result_chars", rec.ResultChars),
		zap.Duration("duration", rec.Duration),
	)
	m.emit(EventSubQueryEnd, map[string]any{"id": rec.ID, "result_chars": rec.ResultChars})
	return result.Text, nil
}

// Records returns every sub-query issued so far.
func (m *SubQueryManager) Records() []SubQueryRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SubQueryRecord, len(m.records))
	copy(out, m.records)
	return out
}

func (m *SubQueryManager) record(rec SubQueryRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

func (m *SubQueryManager) clip(fragment string) string {
	if m.maxChars <= 0 {
		return fragment
	}
	runes := []rune(fragment)
	if len(runes) <= m.maxChars {
		return fragment
	}
	return string(runes[:m.maxChars]) +
		fmt.Sprintf("\n[... fragment truncated, %d characters omitted ...]", len(runes)-m.maxChars)
}

func (m *SubQueryManager) emit(kind EventKind, data map[string]any) {
	if m.emitter != nil {
		m.emitter.Emit(kind, data)
	}
}
