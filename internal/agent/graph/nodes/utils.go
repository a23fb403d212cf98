package nodes

import (
	"fmt"
	"strings"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
)

const DefaultMaxResponseLength = 4000

// normalizeMaxLength returns a sane default when the provided value is invalid.
func normalizeMaxLength(n int) int {
	if n <= 0 {
		return DefaultMaxResponseLength
	}
	return n
}

// normalizeWhitespace collapses runs of whitespace into single spaces.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TruncateReply limits text to max runes, cutting at the last sentence end
// inside the limit when there is one in the second half.
func TruncateReply(text string, max int) string {
	max = normalizeMaxLength(max)
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}

	cut := string(runes[:max])
	if i := strings.LastIndexAny(cut, ".!?"); i >= 0 && len([]rune(cut[:i+1])) >= max/2 {
		return strings.TrimSpace(cut[:i+1])
	}
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}

// recoverInto converts a panic inside a node into an error on the state.
func recoverInto(node string, s *model.ConversationState) {
	if r := recover(); r != nil {
		s.Err = fmt.Errorf("panic in %s: %v", node, r)
	}
}
