package knowledge

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minAnswerLength = 10
	ellipsis        = "..."
)

var boilerplatePrefixes = []string{
	"based on the provided context,",
	"based on the context provided,",
	"based on the context,",
	"according to the information provided,",
	"according to the provided information,",
	"according to the context,",
	"según el contexto proporcionado,",
	"según la información proporcionada,",
	"según el contexto,",
	"de acuerdo con el contexto,",
}

// PostProcess strips model boilerplate, drops near-empty answers and caps the
// length at the last full sentence that fits.
func PostProcess(answer string, maxLength int) string {
	answer = strings.TrimSpace(answer)
	for stripped := true; stripped; {
		stripped = false
		lower := strings.ToLower(answer)
		for _, p := range boilerplatePrefixes {
			if strings.HasPrefix(lower, p) {
				answer = strings.TrimSpace(answer[len(p):])
				stripped = true
				break
			}
		}
	}
	answer = upperFirst(answer)

	if utf8.RuneCountInString(answer) < minAnswerLength {
		return ""
	}
	if maxLength > 0 && utf8.RuneCountInString(answer) > maxLength {
		answer = truncateSentences(answer, maxLength)
	}
	return answer
}

func truncateSentences(text string, maxLength int) string {
	var b strings.Builder
	for _, sentence := range strings.SplitAfter(text, ".") {
		if utf8.RuneCountInString(b.String())+utf8.RuneCountInString(sentence) > maxLength {
			break
		}
		b.WriteString(sentence)
	}
	if out := strings.TrimSpace(b.String()); out != "" {
		return out
	}
	runes := []rune(text)
	if maxLength <= len(ellipsis) {
		return string(runes[:maxLength])
	}
	return string(runes[:maxLength-len(ellipsis)]) + ellipsis
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
