package rlm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindCodeBlocks(t *testing.T) {
	text := "First:\n```repl\nx = 1\n```\nThen:\n```python\nprint(x)\n```\n" +
		"Data:\n```json\n{\"a\": 1}\n```\n" +
		"Bare:\n```\ny = 2\n```\nEmpty:\n```repl\n\n```"

	blocks := FindCodeBlocks(text)
	assert.Equal(t, []CodeBlock{
		{Lang: "repl", Code: "x = 1"},
		{Lang: "python", Code: "print(x)"},
		{Lang: "", Code: "y = 2"},
	}, blocks)
}

func TestFindCodeBlocksNone(t *testing.T) {
	assert.Empty(t, FindCodeBlocks("no code here, just FINAL(1)"))
	assert.Empty(t, FindCodeBlocks("```go\nfmt.Println()\n```"))
}

func TestFindFinal(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{"plain", "FINAL(42)", "42", true},
		{"in prose", "I am sure now.\nFINAL(The answer is 42.)", "The answer is 42.", true},
		{"quoted", `FINAL("forty two")`, "forty two", true},
		{"nested parens", "FINAL(f(x) = 3 (approx))", "f(x) = 3 (approx)", true},
		{"unbalanced", "FINAL(open ended", "open ended", true},
		{"inside fence only", "```repl\nFINAL(1)\n```", "", false},
		{"part of a word", "NOTFINAL(1)", "", false},
		{"indented", "Done.\n   FINAL(7)", "7", true},
		{"mentioned mid-sentence", "Once I verify the number I will reply with FINAL(answer).", "", false},
		{"mention then real marker", "I will reply with FINAL(answer) later.\nFINAL(42)", "42", true},
		{"final var is not final", "FINAL_VAR(x)", "", false},
		{"empty", "FINAL()", "", false},
		{"absent", "still working", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindFinal(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindFinalVar(t *testing.T) {
	name, ok := FindFinalVar("Done.\nFINAL_VAR(answer)")
	assert.True(t, ok)
	assert.Equal(t, "answer", name)

	name, ok = FindFinalVar(`FINAL_VAR("answer")`)
	assert.True(t, ok)
	assert.Equal(t, "answer", name)

	_, ok = FindFinalVar("```repl\nFINAL_VAR(answer)\n```")
	assert.False(t, ok)

	_, ok = FindFinalVar("When done I will call FINAL_VAR(result).")
	assert.False(t, ok)
}

func TestUnwrapFinal(t *testing.T) {
	assert.Equal(t, "blue", UnwrapFinal("My answer: FINAL(blue)"))
	assert.Equal(t, "just text", UnwrapFinal("  just text \n"))
	assert.Equal(t, "", UnwrapFinal(""))
}
