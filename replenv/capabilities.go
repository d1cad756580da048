package replenv

import (
	"fmt"
	"strings"
	"sync"

	"go.starlark.net/starlark"
)

// CapabilityFunc builds the Starlark value bound to a capability name for
// one environment.
type CapabilityFunc func(env *Environment) starlark.Value

// Capability is a named value exposed to sandboxed code. Signature and
// Description are rendered into the system prompt.
type Capability struct {
	Name        string
	Signature   string
	Description string
	Build       CapabilityFunc
}

// CapabilityRegistry manages capability registration and lookup. Listing
// preserves registration order so prompts render deterministically.
type CapabilityRegistry struct {
	caps  map[string]*Capability
	order []string
	mu    sync.RWMutex
}

// NewCapabilityRegistry creates an empty CapabilityRegistry.
func NewCapabilityRegistry() *CapabilityRegistry {
	return &CapabilityRegistry{
		caps: make(map[string]*Capability),
	}
}

// Register adds or replaces a capability.
func (r *CapabilityRegistry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[c.Name]; !exists {
		r.order = append(r.order, c.Name)
	}
	r.caps[c.Name] = &c
}

// Unregister removes a capability.
func (r *CapabilityRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.caps[name]; !ok {
		return
	}
	delete(r.caps, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a capability by name, or nil if not found.
func (r *CapabilityRegistry) Get(name string) *Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps[name]
}

// List returns the capabilities in registration order.
func (r *CapabilityRegistry) List() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.caps[name])
	}
	return out
}

// Names returns capability names in registration order.
func (r *CapabilityRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Count returns the number of registered capabilities.
func (r *CapabilityRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caps)
}

// Clone returns a copy of the registry.
func (r *CapabilityRegistry) Clone() *CapabilityRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewCapabilityRegistry()
	for _, name := range r.order {
		c := *r.caps[name]
		clone.caps[name] = &c
		clone.order = append(clone.order, name)
	}
	return clone
}

// Describe renders one "- signature: description" line per capability.
func (r *CapabilityRegistry) Describe() string {
	var sb strings.Builder
	for _, c := range r.List() {
		sig := c.Signature
		if sig == "" {
			sig = c.Name
		}
		fmt.Fprintf(&sb, "- %s: %s\n", sig, c.Description)
	}
	return sb.String()
}

// DefaultCapabilities returns the standard capability set.
func DefaultCapabilities() *CapabilityRegistry {
	r := NewCapabilityRegistry()
	r.Register(Capability{
		Name:        "context",
		Signature:   "context",
		Description: "the full context as one string",
		Build:       func(e *Environment) starlark.Value { return starlark.String(e.doc.Text) },
	})
	r.Register(Capability{
		Name:        "context_entries",
		Signature:   "context_entries",
		Description: `the context as a list of {"role", "content"} dicts (role is "" for plain text)`,
		Build:       (*Environment).contextEntries,
	})
	r.Register(Capability{
		Name:        "peek",
		Signature:   "peek(start=0, end=None)",
		Description: "characters [start, end) of the context",
		Build:       builtin("peek", (*Environment).peek),
	})
	r.Register(Capability{
		Name:        "lines",
		Signature:   "lines(start=0, end=None)",
		Description: "list of context lines [start, end), 0-based",
		Build:       builtin("lines", (*Environment).linesBuiltin),
	})
	r.Register(Capability{
		Name:        "line_count",
		Signature:   "line_count()",
		Description: "number of lines in the context",
		Build:       builtin("line_count", (*Environment).lineCount),
	})
	r.Register(Capability{
		Name:        "find",
		Signature:   "find(substring, start=0)",
		Description: "character offset of the first occurrence at or after start, or -1",
		Build:       builtin("find", (*Environment).find),
	})
	r.Register(Capability{
		Name:        "search",
		Signature:   "search(substring, window=100, max_results=20)",
		Description: `occurrences as {"offset", "line", "snippet"} dicts with window characters of surrounding text`,
		Build:       builtin("search", (*Environment).search),
	})
	r.Register(Capability{
		Name:        "grep",
		Signature:   "grep(pattern, context_lines=0, max_results=50)",
		Description: `regex search over lines; returns blocks of "N: text" lines (N is 1-based)`,
		Build:       builtin("grep", (*Environment).grep),
	})
	r.Register(Capability{
		Name:        "partition",
		Signature:   "partition(n=4, overlap=0)",
		Description: "split the context into n chunks, each overlapping the previous by overlap characters",
		Build:       builtin("partition", (*Environment).partition),
	})
	r.Register(Capability{
		Name:        "llm_query",
		Signature:   "llm_query(fragment, question)",
		Description: "ask a sub-model a question about a fragment of text; returns its answer as a string",
		Build:       builtin("llm_query", (*Environment).llmQuery),
	})
	r.Register(Capability{
		Name:        "FINAL",
		Signature:   "FINAL(answer)",
		Description: "set the final answer",
		Build:       builtin("FINAL", (*Environment).final),
	})
	r.Register(Capability{
		Name:        "FINAL_VAR",
		Signature:   "FINAL_VAR(name)",
		Description: "set the final answer to the value of the variable with this name",
		Build:       builtin("FINAL_VAR", (*Environment).finalVar),
	})
	r.Register(Capability{
		Name:        "show_vars",
		Signature:   "show_vars()",
		Description: "sorted names of the variables you have defined",
		Build:       builtin("show_vars", (*Environment).showVars),
	})
	return r
}

type builtinMethod func(e *Environment, thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

func builtin(name string, m builtinMethod) CapabilityFunc {
	return func(e *Environment) starlark.Value {
		return starlark.NewBuiltin(name, func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return m(e, thread, fn, args, kwargs)
		})
	}
}
