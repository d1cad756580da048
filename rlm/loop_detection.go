package rlm

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// codeSignature hashes a code block with surrounding whitespace ignored, so
// re-indented repeats still match.
func codeSignature(code string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(code)))
	return fmt.Sprintf("%x", h[:8])
}

// extractCodeSignatures returns signatures of the most recent executed code
// blocks in the history, oldest first.
func extractCodeSignatures(history []Turn, count int) []string {
	var sigs []string
	for i := len(history) - 1; i >= 0 && len(sigs) < count; i-- {
		turn := history[i]
		if turn.Kind == TurnAssistant && turn.Assistant != nil {
			for j := len(turn.Assistant.CodeBlocks) - 1; j >= 0 && len(sigs) < count; j-- {
				sigs = append(sigs, codeSignature(turn.Assistant.CodeBlocks[j].Code))
			}
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop checks if the last windowSize code blocks follow a repeating
// pattern of length 1, 2, or 3.
func DetectLoop(history []Turn, windowSize int) bool {
	if windowSize <= 1 {
		return false
	}
	sigs := extractCodeSignatures(history, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 || patternLen == windowSize {
			continue
		}
		if repeats(sigs, patternLen) {
			return true
		}
	}
	return false
}

func repeats(sigs []string, patternLen int) bool {
	for i := patternLen; i < len(sigs); i++ {
		if sigs[i] != sigs[i%patternLen] {
			return false
		}
	}
	return true
}

func loopWarning(window int) string {
	return fmt.Sprintf("Loop detected: your last %d code blocks repeat the same pattern and are not making progress. "+
		"Try a different approach, or give your best answer with FINAL(...).", window)
}
