// Package contextnorm turns the loosely typed context a caller supplies
// (plain text, message lists, JSON documents) into the two forms a session
// works with: an ordered list of role/content entries and one flattened
// string.
package contextnorm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind records which shape the input had.
type Kind string

const (
	KindEmpty   Kind = "empty"
	KindText    Kind = "text"
	KindEntries Kind = "entries"
)

// Entry is one role-tagged piece of context. Role is empty for plain text.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Document is normalized context. It is never mutated after Normalize
// returns it.
type Document struct {
	Kind    Kind    `json:"kind"`
	Entries []Entry `json:"entries"`
	Text    string  `json:"text"`
}

// Len returns the length of the flattened text in characters.
func (d Document) Len() int {
	return len([]rune(d.Text))
}

// Normalize converts input into a Document. It is pure: equal inputs yield
// equal documents. Accepted inputs are string, []string, Entry, []Entry,
// map[string]any, []map[string]any, []any (decoded JSON), json.RawMessage
// or []byte holding JSON, and nil.
func Normalize(input any) (Document, error) {
	switch v := input.(type) {
	case nil:
		return Document{Kind: KindEmpty, Entries: []Entry{}}, nil
	case string:
		return textDocument(v), nil
	case Document:
		return v, nil
	case Entry:
		return entriesDocument([]Entry{v}), nil
	case []Entry:
		return entriesDocument(v), nil
	case []string:
		entries := make([]Entry, len(v))
		for i, s := range v {
			entries[i] = Entry{Content: s}
		}
		return entriesDocument(entries), nil
	case map[string]any:
		e, err := entryFromMap(v)
		if err != nil {
			return Document{}, err
		}
		return entriesDocument([]Entry{e}), nil
	case []map[string]any:
		entries := make([]Entry, 0, len(v))
		for i, m := range v {
			e, err := entryFromMap(m)
			if err != nil {
				return Document{}, fmt.Errorf("context entry %d: %w", i, err)
			}
			entries = append(entries, e)
		}
		return entriesDocument(entries), nil
	case []any:
		entries := make([]Entry, 0, len(v))
		for i, item := range v {
			e, err := entryFromAny(item)
			if err != nil {
				return Document{}, fmt.Errorf("context entry %d: %w", i, err)
			}
			entries = append(entries, e)
		}
		return entriesDocument(entries), nil
	case json.RawMessage:
		return normalizeJSON(v)
	case []byte:
		return normalizeJSON(v)
	default:
		return Document{}, fmt.Errorf("unsupported context type %T", input)
	}
}

// MustNormalize is Normalize for inputs known to be valid, such as literals.
func MustNormalize(input any) Document {
	doc, err := Normalize(input)
	if err != nil {
		panic(err)
	}
	return doc
}

func normalizeJSON(raw []byte) (Document, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Normalize(nil)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Document{}, fmt.Errorf("decode context JSON: %w", err)
	}
	switch decoded.(type) {
	case []any, map[string]any, string, nil:
		return Normalize(decoded)
	default:
		// Scalars are kept as their JSON text.
		return textDocument(strings.TrimSpace(string(raw))), nil
	}
}

func textDocument(s string) Document {
	return Document{
		Kind:    KindText,
		Entries: []Entry{{Content: s}},
		Text:    s,
	}
}

func entriesDocument(entries []Entry) Document {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return Document{
		Kind:    KindEntries,
		Entries: out,
		Text:    Flatten(out),
	}
}

// Flatten renders entries as "role: content" lines joined by newlines.
// Entries without a role contribute their bare content.
func Flatten(entries []Entry) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		if e.Role == "" {
			lines[i] = e.Content
		} else {
			lines[i] = e.Role + ": " + e.Content
		}
	}
	return strings.Join(lines, "\n")
}

func entryFromAny(item any) (Entry, error) {
	switch v := item.(type) {
	case string:
		return Entry{Content: v}, nil
	case map[string]any:
		return entryFromMap(v)
	case Entry:
		return v, nil
	case nil:
		return Entry{}, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return Entry{}, fmt.Errorf("unsupported entry type %T", item)
		}
		return Entry{Content: string(raw)}, nil
	}
}

// entryFromMap reads an OpenAI-style message. Objects without a content key
// are kept whole as their JSON text.
func entryFromMap(m map[string]any) (Entry, error) {
	content, hasContent := m["content"]
	if !hasContent {
		raw, err := json.Marshal(m)
		if err != nil {
			return Entry{}, fmt.Errorf("encode context object: %w", err)
		}
		return Entry{Content: string(raw)}, nil
	}
	role, _ := m["role"].(string)
	text, err := ContentText(content)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Role: role, Content: text}, nil
}

// ContentText flattens message content: a string, an array of content parts
// (only "text" parts contribute), or any other JSON value as its encoding.
func ContentText(content any) (string, error) {
	switch c := content.(type) {
	case nil:
		return "", nil
	case string:
		return c, nil
	case []any:
		var parts []string
		for _, p := range c {
			switch part := p.(type) {
			case string:
				parts = append(parts, part)
			case map[string]any:
				if t, ok := part["text"].(string); ok {
					parts = append(parts, t)
				}
			}
		}
		return strings.Join(parts, "\n"), nil
	default:
		raw, err := json.Marshal(c)
		if err != nil {
			return "", fmt.Errorf("encode content: %w", err)
		}
		return string(raw), nil
	}
}
