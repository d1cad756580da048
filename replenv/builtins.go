package replenv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
	"go.starlark.net/starlark"
)

// grepTimeout bounds a single regex match so a pathological pattern cannot
// stall the session.
const grepTimeout = 2 * time.Second

func (e *Environment) contextEntries() starlark.Value {
	elems := make([]starlark.Value, 0, len(e.doc.Entries))
	for _, entry := range e.doc.Entries {
		d := starlark.NewDict(2)
		_ = d.SetKey(starlark.String("role"), starlark.String(entry.Role))
		_ = d.SetKey(starlark.String("content"), starlark.String(entry.Content))
		d.Freeze()
		elems = append(elems, d)
	}
	list := starlark.NewList(elems)
	list.Freeze()
	return list
}

func (e *Environment) contextRunes() []rune {
	if e.runes == nil {
		e.runes = []rune(e.doc.Text)
	}
	return e.runes
}

func (e *Environment) contextLines() []string {
	if e.lines == nil {
		if e.doc.Text == "" {
			e.lines = []string{}
		} else {
			e.lines = strings.Split(e.doc.Text, "\n")
		}
	}
	return e.lines
}

// sliceBounds resolves Python-style [start, end) bounds against n.
func sliceBounds(start int, end starlark.Value, n int) (int, int, error) {
	hi := n
	if end != nil && end != starlark.None {
		v, err := starlark.AsInt32(end)
		if err != nil {
			return 0, 0, fmt.Errorf("end: %w", err)
		}
		hi = v
	}
	lo := start
	if lo < 0 {
		lo += n
	}
	if hi < 0 {
		hi += n
	}
	lo = clamp(lo, 0, n)
	hi = clamp(hi, 0, n)
	if hi < lo {
		hi = lo
	}
	return lo, hi, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (e *Environment) peek(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start int
	var end starlark.Value = starlark.None
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "start?", &start, "end?", &end); err != nil {
		return nil, err
	}
	runes := e.contextRunes()
	lo, hi, err := sliceBounds(start, end, len(runes))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	return starlark.String(string(runes[lo:hi])), nil
}

func (e *Environment) linesBuiltin(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start int
	var end starlark.Value = starlark.None
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "start?", &start, "end?", &end); err != nil {
		return nil, err
	}
	all := e.contextLines()
	lo, hi, err := sliceBounds(start, end, len(all))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	elems := make([]starlark.Value, 0, hi-lo)
	for _, l := range all[lo:hi] {
		elems = append(elems, starlark.String(l))
	}
	return starlark.NewList(elems), nil
}

func (e *Environment) lineCount(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return starlark.MakeInt(len(e.contextLines())), nil
}

// runeIndex finds substring in the context at or after rune offset start and
// returns the rune offset of the match, or -1.
func (e *Environment) runeIndex(substring string, start int) int {
	text := e.doc.Text
	if start < 0 {
		start = 0
	}
	byteOff := 0
	for i := 0; i < start && byteOff < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[byteOff:])
		byteOff += size
	}
	if byteOff > len(text) {
		return -1
	}
	idx := strings.Index(text[byteOff:], substring)
	if idx < 0 {
		return -1
	}
	return start + utf8.RuneCountInString(text[byteOff:byteOff+idx])
}

func (e *Environment) find(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var substring string
	var start int
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "substring", &substring, "start?", &start); err != nil {
		return nil, err
	}
	if start > len(e.contextRunes()) {
		return starlark.MakeInt(-1), nil
	}
	return starlark.MakeInt(e.runeIndex(substring, start)), nil
}

func (e *Environment) search(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var substring string
	window, maxResults := 100, 20
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "substring", &substring, "window?", &window, "max_results?", &maxResults); err != nil {
		return nil, err
	}
	if substring == "" {
		return nil, fmt.Errorf("%s: substring must not be empty", fn.Name())
	}
	if window < 0 {
		window = 0
	}

	// One forward pass: rune offset and line number advance with the scan.
	text := e.doc.Text
	runes := e.contextRunes()
	subLen := utf8.RuneCountInString(substring)
	subLines := strings.Count(substring, "\n")
	byteOff, runeOff, line := 0, 0, 1
	var results []starlark.Value
	for len(results) < maxResults {
		i := strings.Index(text[byteOff:], substring)
		if i < 0 {
			break
		}
		skipped := text[byteOff : byteOff+i]
		runeOff += utf8.RuneCountInString(skipped)
		line += strings.Count(skipped, "\n")

		lo := clamp(runeOff-window, 0, len(runes))
		hi := clamp(runeOff+subLen+window, 0, len(runes))
		d := starlark.NewDict(3)
		_ = d.SetKey(starlark.String("offset"), starlark.MakeInt(runeOff))
		_ = d.SetKey(starlark.String("line"), starlark.MakeInt(line))
		_ = d.SetKey(starlark.String("snippet"), starlark.String(string(runes[lo:hi])))
		results = append(results, d)

		byteOff += i + len(substring)
		runeOff += subLen
		line += subLines
	}
	return starlark.NewList(results), nil
}

func (e *Environment) grep(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern string
	contextLines, maxResults := 0, 50
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "pattern", &pattern, "context_lines?", &contextLines, "max_results?", &maxResults); err != nil {
		return nil, err
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid pattern: %w", fn.Name(), err)
	}
	re.MatchTimeout = grepTimeout
	if contextLines < 0 {
		contextLines = 0
	}

	all := e.contextLines()
	var blocks []starlark.Value
	for i, line := range all {
		if len(blocks) >= maxResults {
			break
		}
		ok, err := re.MatchString(line)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fn.Name(), err)
		}
		if !ok {
			continue
		}
		lo := clamp(i-contextLines, 0, len(all))
		hi := clamp(i+contextLines+1, 0, len(all))
		block := make([]string, 0, hi-lo)
		for j := lo; j < hi; j++ {
			block = append(block, fmt.Sprintf("%d: %s", j+1, all[j]))
		}
		blocks = append(blocks, starlark.String(strings.Join(block, "\n")))
	}
	return starlark.NewList(blocks), nil
}

func (e *Environment) partition(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n, overlap := 4, 0
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "n?", &n, "overlap?", &overlap); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("%s: n must be positive", fn.Name())
	}
	if overlap < 0 {
		overlap = 0
	}

	runes := e.contextRunes()
	size := (len(runes) + n - 1) / n
	if size == 0 {
		return starlark.NewList([]starlark.Value{starlark.String("")}), nil
	}
	var chunks []starlark.Value
	for start := 0; start < len(runes); start += size {
		lo := clamp(start-overlap, 0, len(runes))
		hi := clamp(start+size, 0, len(runes))
		chunks = append(chunks, starlark.String(string(runes[lo:hi])))
	}
	return starlark.NewList(chunks), nil
}

func (e *Environment) llmQuery(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fragment, question string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "fragment", &fragment, "question", &question); err != nil {
		return nil, err
	}
	if e.sub == nil {
		return nil, errors.New("sub-queries are not available in this environment")
	}
	ctx, _ := thread.Local(threadKeyContext).(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}
	answer, err := e.sub.SubQuery(ctx, fragment, question)
	if err != nil {
		return nil, err
	}
	return starlark.String(answer), nil
}

func (e *Environment) final(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var answer starlark.Value
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "answer", &answer); err != nil {
		return nil, err
	}
	e.setAnswer(displayString(answer))
	return starlark.None, nil
}

func (e *Environment) finalVar(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	name = strings.Trim(strings.TrimSpace(name), `"'`)
	v, ok := e.liveGlobals(thread)[name]
	if !ok || e.capNames[name] {
		return nil, fmt.Errorf("variable %q is not defined", name)
	}
	e.setAnswer(displayString(v))
	return starlark.None, nil
}

func (e *Environment) showVars(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs); err != nil {
		return nil, err
	}
	names := e.userVariables(e.liveGlobals(thread))
	elems := make([]starlark.Value, len(names))
	for i, n := range names {
		elems[i] = starlark.String(n)
	}
	return starlark.NewList(elems), nil
}
