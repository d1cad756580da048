package rlm

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// TruncateOutput shortens output to at most maxChars runes plus a marker.
// Head/tail keeps both ends, which is where errors and summaries land.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	runes := []rune(output)
	if len(runes) <= maxChars {
		return output
	}
	removed := len(runes) - maxChars

	switch mode {
	case TruncateTail:
		return fmt.Sprintf("[... %d characters truncated from the start ...]\n", removed) +
			string(runes[len(runes)-maxChars:])
	default:
		head := maxChars / 2
		tail := maxChars - head
		return string(runes[:head]) +
			fmt.Sprintf("\n[... %d characters truncated from the middle. "+
				"Print a narrower slice to see more ...]\n", removed) +
			string(runes[len(runes)-tail:])
	}
}

// TruncateLines applies line-based truncation using head/tail split.
func TruncateLines(output string, maxLines int) string {
	if maxLines <= 0 {
		return output
	}
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// truncateObservation applies the character limit first, since a single
// enormous line is the pathological case, then the line limit.
func truncateObservation(output string, maxChars, maxLines int) string {
	return TruncateLines(TruncateOutput(output, maxChars, TruncateHeadTail), maxLines)
}
