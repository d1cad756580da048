package rlm

import (
	"regexp"
	"strings"
)

// CodeBlock is a fenced code block the loop will execute.
type CodeBlock struct {
	Lang string `json:"lang,omitempty"`
	Code string `json:"code"`
}

var fencePattern = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[ \t]*\r?\n(.*?)```")

// executableLangs are the fence languages routed to the environment. An
// unlabeled fence counts.
var executableLangs = map[string]bool{
	"":         true,
	"repl":     true,
	"python":   true,
	"py":       true,
	"starlark": true,
	"star":     true,
}

// FindCodeBlocks returns the executable fenced blocks in text, in order.
// Blocks tagged with another language (json, text, ...) are skipped, as are
// blocks with no code.
func FindCodeBlocks(text string) []CodeBlock {
	var blocks []CodeBlock
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		lang := strings.ToLower(m[1])
		if !executableLangs[lang] {
			continue
		}
		code := strings.TrimRight(m[2], " \t\r\n")
		if strings.TrimSpace(code) == "" {
			continue
		}
		blocks = append(blocks, CodeBlock{Lang: lang, Code: code})
	}
	return blocks
}

// stripFences removes every fenced block, executable or not, so final
// markers are only recognised in prose.
func stripFences(text string) string {
	return fencePattern.ReplaceAllString(text, "")
}

// FindFinalVar returns the variable named by a FINAL_VAR(name) marker that
// opens a line outside code fences.
func FindFinalVar(text string) (string, bool) {
	arg, ok := markerArgument(stripFences(text), "FINAL_VAR(", true)
	if !ok {
		return "", false
	}
	name := unquote(strings.TrimSpace(arg))
	if name == "" {
		return "", false
	}
	return name, true
}

// FindFinal returns the answer inside a FINAL(text) marker that opens a line
// outside code fences. A marker mentioned mid-sentence ("I will reply with
// FINAL(x)") does not count.
func FindFinal(text string) (string, bool) {
	return findFinal(text, true)
}

func findFinal(text string, lineStart bool) (string, bool) {
	arg, ok := markerArgument(stripFences(text), "FINAL(", lineStart)
	if !ok {
		return "", false
	}
	answer := unquote(strings.TrimSpace(arg))
	if answer == "" {
		return "", false
	}
	return answer, true
}

// UnwrapFinal returns the argument of a FINAL(...) marker anywhere in text,
// and the trimmed text otherwise. It is for replies that are answers
// regardless of markers.
func UnwrapFinal(text string) string {
	if answer, ok := findFinal(text, false); ok {
		return answer
	}
	return strings.TrimSpace(text)
}

// markerArgument finds the first occurrence of marker that starts a word, or
// with lineStart the first that is preceded only by blanks on its line, and
// returns everything up to its balancing parenthesis. An unbalanced marker
// runs to the last closing parenthesis, or to the end of its text.
func markerArgument(text, marker string, lineStart bool) (string, bool) {
	offset := 0
	for {
		i := strings.Index(text[offset:], marker)
		if i < 0 {
			return "", false
		}
		start := offset + i
		if lineStart && !opensLine(text, start) || start > 0 && isIdentByte(text[start-1]) {
			offset = start + len(marker)
			continue
		}
		body := text[start+len(marker):]
		depth := 1
		for j := 0; j < len(body); j++ {
			switch body[j] {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					return body[:j], true
				}
			}
		}
		if k := strings.LastIndexByte(body, ')'); k >= 0 {
			return body[:k], true
		}
		return body, true
	}
}

func opensLine(text string, i int) bool {
	lineStart := strings.LastIndexByte(text[:i], '\n') + 1
	return strings.TrimLeft(text[lineStart:i], " \t") == ""
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// unquote strips one pair of matching quotes around s.
func unquote(s string) string {
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return s
}
