package agent

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/stewardhq/steward/backend"
)

// callSignature identifies a tool call by name plus a hash of its
// arguments, so identical re-invocations compare equal regardless of
// call id.
func callSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentCallSignatures returns the signatures of the last count tool
// calls in the history, in chronological order.
func recentCallSignatures(messages []backend.Message, count int) []string {
	var sigs []string
	for i := len(messages) - 1; i >= 0 && len(sigs) < count; i-- {
		msg := messages[i]
		if msg.Role != backend.RoleAssistant {
			continue
		}
		for j := len(msg.ToolCalls) - 1; j >= 0 && len(sigs) < count; j-- {
			tc := msg.ToolCalls[j]
			sigs = append(sigs, callSignature(tc.Name, tc.Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// detectCallLoop reports whether the last window tool calls repeat a
// pattern of length 1, 2, or 3, i.e. the model is stuck re-running the
// same calls and ignoring their results.
func detectCallLoop(messages []backend.Message, window int) bool {
	sigs := recentCallSignatures(messages, window)
	if len(sigs) < window {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if window%patternLen != 0 {
			continue
		}
		pattern := sigs[:patternLen]
		match := true
		for i := patternLen; i < window && match; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					match = false
					break
				}
			}
		}
		if match {
			return true
		}
	}
	return false
}
