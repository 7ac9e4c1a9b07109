package actions

import (
	"fmt"
	"strings"
)

// TruncationMode selects which part of an oversized output survives.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// Per-tool character ceilings. Anything unlisted gets the fallback.
var toolCharLimits = map[string]int{
	"read_file":  50000,
	"shell":      30000,
	"grep":       20000,
	"glob":       20000,
	"edit_file":  10000,
	"write_file": 1000,
	"delegate":   20000,
}

var toolTruncationModes = map[string]TruncationMode{
	"read_file":  TruncateHeadTail,
	"shell":      TruncateHeadTail,
	"grep":       TruncateTail,
	"glob":       TruncateTail,
	"edit_file":  TruncateTail,
	"write_file": TruncateTail,
	"delegate":   TruncateHeadTail,
}

// Line ceilings applied after character truncation.
var toolLineLimits = map[string]int{
	"shell": 256,
	"grep":  200,
	"glob":  500,
}

const fallbackCharLimit = 30000

// truncateChars drops the middle (head_tail) or the front (tail) of an
// output that exceeds maxChars, leaving a marker describing the cut.
func truncateChars(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars

	if mode == TruncateTail {
		return fmt.Sprintf("[output truncated: first %d characters removed; re-run with narrower parameters for the full output]\n\n", removed) +
			output[removed:]
	}

	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n\n[output truncated: %d characters removed from the middle; re-run with narrower parameters for the full output]\n\n", removed) +
		output[len(output)-half:]
}

// truncateLines keeps the head and tail halves of an output with too many
// lines.
func truncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	head := maxLines / 2
	tail := maxLines - head
	omitted := len(lines) - head - tail

	return strings.Join(lines[:head], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tail:], "\n")
}

// TruncateOutput applies the per-tool pipeline: characters first to bound
// pathological outputs, then lines for readability.
func TruncateOutput(output, toolName string) string {
	maxChars, ok := toolCharLimits[toolName]
	if !ok {
		maxChars = fallbackCharLimit
	}
	mode, ok := toolTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}

	result := truncateChars(output, maxChars, mode)
	if maxLines, ok := toolLineLimits[toolName]; ok {
		result = truncateLines(result, maxLines)
	}
	return result
}
