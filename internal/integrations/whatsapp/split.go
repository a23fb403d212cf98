package whatsapp

import (
	"strings"
	"unicode/utf8"
)

// SplitMessage breaks text into parts of at most max runes, preferring sentence
// boundaries and hard-cutting sentences that are longer than max on their own.
func SplitMessage(text string, max int) []string {
	text = strings.TrimSpace(text)
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var (
		parts   []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			parts = append(parts, s)
		}
		current.Reset()
		size = 0
	}

	for _, sentence := range strings.SplitAfter(text, ". ") {
		n := utf8.RuneCountInString(sentence)
		if size+n <= max {
			current.WriteString(sentence)
			size += n
			continue
		}
		flush()

		runes := []rune(sentence)
		for len(runes) > max {
			parts = append(parts, strings.TrimSpace(string(runes[:max])))
			runes = runes[max:]
		}
		current.WriteString(string(runes))
		size = len(runes)
	}
	flush()
	return parts
}
