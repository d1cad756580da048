package replenv

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/martinemde/rlm/contextnorm"
)

func TestDefaultCapabilities(t *testing.T) {
	r := DefaultCapabilities()
	assert.Equal(t, []string{
		"context", "context_entries", "peek", "lines", "line_count", "find",
		"search", "grep", "partition", "llm_query", "FINAL", "FINAL_VAR", "show_vars",
	}, r.Names())
	assert.Equal(t, 13, r.Count())

	desc := r.Describe()
	assert.Contains(t, desc, "- llm_query(fragment, question): ")
	assert.Equal(t, 13, strings.Count(desc, "\n"))
}

func TestCapabilityRegistryRegisterUnregister(t *testing.T) {
	r := NewCapabilityRegistry()
	r.Register(Capability{Name: "a", Description: "first"})
	r.Register(Capability{Name: "b", Description: "second"})
	r.Register(Capability{Name: "a", Description: "replaced"})

	assert.Equal(t, []string{"a", "b"}, r.Names())
	require.NotNil(t, r.Get("a"))
	assert.Equal(t, "replaced", r.Get("a").Description)

	r.Unregister("a")
	assert.Nil(t, r.Get("a"))
	assert.Equal(t, []string{"b"}, r.Names())

	r.Unregister("missing")
	assert.Equal(t, 1, r.Count())
}

func TestCapabilityRegistryClone(t *testing.T) {
	r := DefaultCapabilities()
	clone := r.Clone()
	clone.Unregister("llm_query")

	assert.NotNil(t, r.Get("llm_query"))
	assert.Nil(t, clone.Get("llm_query"))
}

func TestCustomCapabilities(t *testing.T) {
	r := DefaultCapabilities().Clone()
	r.Unregister("llm_query")
	r.Register(Capability{
		Name:        "word_count",
		Signature:   "word_count",
		Description: "number of words in the context",
		Build: func(e *Environment) starlark.Value {
			return starlark.MakeInt(len(strings.Fields(e.Document().Text)))
		},
	})

	env := New(contextnorm.MustNormalize("one two three"), nil, WithCapabilities(r))
	res := env.Execute(context.Background(), "word_count")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, "3", res.Value)

	res = env.Execute(context.Background(), `llm_query("a", "b")`)
	assert.True(t, res.Failed())
	assert.Same(t, r, env.Capabilities())
}
