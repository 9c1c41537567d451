package agentloop

import (
	"fmt"
	"unicode/utf8"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHead     TruncationMode = "head"
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// TruncatedMarker is appended to head-truncated file content.
const TruncatedMarker = "\n\n...<truncated>..."

// TruncateOutput limits output to maxChars runes. Head mode keeps the
// beginning and appends TruncatedMarker; head_tail keeps both ends; tail
// keeps the end.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	n := utf8.RuneCountInString(output)
	if maxChars <= 0 || n <= maxChars {
		return output
	}
	runes := []rune(output)
	removed := n - maxChars

	switch mode {
	case TruncateHead:
		return string(runes[:maxChars]) + TruncatedMarker

	case TruncateTail:
		return fmt.Sprintf("[output truncated: first %d characters removed]\n", removed) +
			string(runes[n-maxChars:])

	default:
		half := maxChars / 2
		return string(runes[:half]) +
			fmt.Sprintf("\n\n[output truncated: %d characters removed from the middle]\n\n", removed) +
			string(runes[n-(maxChars-half):])
	}
}

// truncateLine cuts s to at most limit runes without a marker.
func truncateLine(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
