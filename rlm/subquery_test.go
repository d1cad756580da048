package rlm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/rlm/unifiedllm/llmtest"
)

func TestSubQueryManagerDepthGuard(t *testing.T) {
	adapter := llmtest.NewScriptedAdapter()
	m := NewSubQueryManager(adapter.Client(), "gpt-4o", "", 1, 100, nil, nil)

	ctx := WithDepth(context.Background(), 1)
	assert.False(t, m.CanSpawn(ctx))

	_, err := m.SubQuery(ctx, "fragment", "question")
	require.Error(t, err)
	assert.Equal(t, "maximum sub-query depth (1) reached", err.Error())
	assert.Equal(t, 0, adapter.Calls())
	assert.Empty(t, m.Records())
}

func TestSubQueryManagerRecordsSuccess(t *testing.T) {
	adapter := llmtest.NewScriptedAdapter(llmtest.Text("inner"))
	m := NewSubQueryManager(adapter.Client(), "gpt-4o", "", 2, 100, nil, nil)

	answer, err := m.SubQuery(WithDepth(context.Background(), 1), "frag", "q")
	require.NoError(t, err)
	assert.Equal(t, "inner", answer)

	recs := m.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].Depth)
	assert.Equal(t, 4, recs[0].FragmentChars)
	assert.Equal(t, 5, recs[0].ResultChars)
	assert.Equal(t, SubQueryCompleted, recs[0].Status)
	assert.True(t, strings.HasPrefix(recs[0].ID, "sq_"))
}

func TestSubQueryManagerClipsFragment(t *testing.T) {
	adapter := llmtest.NewScriptedAdapter(llmtest.Text("ok"))
	m := NewSubQueryManager(adapter.Client(), "gpt-4o", "", 1, 5, nil, nil)

	_, err := m.SubQuery(context.Background(), "abcdefghij", "q")
	require.NoError(t, err)

	req := adapter.Requests()[0]
	assert.Equal(t, "gpt-4o", req.Model)
	prompt := req.Messages[len(req.Messages)-1].TextContent()
	assert.Contains(t, prompt, "abcde\n[... fragment truncated, 5 characters omitted ...]")
	assert.NotContains(t, prompt, "abcdef")
	assert.Equal(t, 10, m.Records()[0].FragmentChars)
}

func TestSubQueryManagerRecordsFailure(t *testing.T) {
	adapter := llmtest.NewScriptedAdapter(llmtest.Fail(errors.New("upstream down")))
	emitter := NewEventEmitter("s", 8, nil)
	m := NewSubQueryManager(adapter.Client(), "gpt-4o", "", 1, 0, emitter, nil)

	_, err := m.SubQuery(context.Background(), "frag", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")

	recs := m.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, SubQueryFailed, recs[0].Status)
	assert.Contains(t, recs[0].Error, "upstream down")

	emitter.Close()
	var kinds []EventKind
	for ev := range emitter.Events() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{EventSubQueryStart, EventSubQueryEnd}, kinds)
}
