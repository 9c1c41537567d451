package agentloop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/martinemde/ralphloop/llm"
)

// toolCallSignature computes a deterministic signature for a tool call
// (name + hash of arguments).
func toolCallSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// callTracker remembers the signatures of the tool calls made in one
// session.
type callTracker struct {
	sigs []string
}

func (t *callTracker) record(calls []llm.ToolCall) {
	for _, c := range calls {
		t.sigs = append(t.sigs, toolCallSignature(c.Name, c.Arguments))
	}
}

// repeating reports whether the last windowSize calls follow a repeating
// pattern of length 1, 2, or 3.
func (t *callTracker) repeating(windowSize int) bool {
	if windowSize <= 0 || len(t.sigs) < windowSize {
		return false
	}
	sigs := t.sigs[len(t.sigs)-windowSize:]

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
			if !allMatch {
				break
			}
		}
		if allMatch {
			return true
		}
	}

	return false
}
