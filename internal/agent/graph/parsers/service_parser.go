package parsers

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 8 * 1024
	maxSubjectLen = 120
	maxSummaryLen = 120
	minBodyLen    = 10
)

var (
	ErrMissingRecipient = errors.New("no valid email address found")
	ErrMissingDetails   = errors.New("missing details")
)

var (
	emailRe       = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(?:\.[A-Za-z0-9\-]+)+`)
	subjectRe     = regexp.MustCompile(`(?i)(?:subject|asunto|t[ií]tulo)\s*[:\-]\s*([^\n.]+)`)
	aboutRe       = regexp.MustCompile(`(?i)\b(?:about|sobre|acerca de)\s+([^\n.]+)`)
	emailCmdRe    = regexp.MustCompile(`(?i)\b(?:send\s+(?:an\s+)?e-?mail\s+to|e-?mail|enviar\s+(?:un\s+)?(?:correo|e-?mail)\s+a|mandar\s+(?:un\s+)?(?:correo|e-?mail)\s+a)\b`)
	clockRe       = regexp.MustCompile(`(?i)\b(?:at|a\s+las|a\s+la)\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?`)
	relativeRe    = regexp.MustCompile(`(?i)\b(?:in|en|dentro\s+de)\s+(\d{1,3})\s*(minutes?|mins?|minutos?|hours?|hrs?|horas?|days?|d[ií]as?)\b`)
	summaryRe     = regexp.MustCompile(`(?i)\b(?:schedule|create|book|programar|agendar)\s+(?:an?\s+|una?\s+)?(.+)`)
	fillerRe      = regexp.MustCompile(`(?i)^(?:to|que|de|para)\s+`)
	reminderCmdRe = regexp.MustCompile(`(?i)^.*?\b(?:remind\s+me(?:\s+to)?|set\s+(?:a\s+)?reminder(?:\s+to)?|recu[eé]rdame|recordarme|crear\s+(?:un\s+)?recordatorio(?:\s+para)?)\s*`)
	timeMarkers   = []string{
		" tomorrow", " today", " next week", " at ", " on ", " in ",
		" mañana", " hoy", " la próxima semana", " la proxima semana", " próxima semana", " proxima semana",
		" a las ", " a la ", " para ", " en ",
	}
)

// ExtractEmails returns the distinct email addresses in text, in order.
func ExtractEmails(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range emailRe.FindAllString(text, -1) {
		m = strings.ToLower(strings.TrimRight(m, ".,;:"))
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// ParseEmailRequest builds an email from a user message such as
// "send an email to ana@example.com about the proposal".
func ParseEmailRequest(text, sender string) (model.EmailDraft, error) {
	text = clip(text)
	to := ExtractEmails(text)
	if len(to) == 0 {
		return model.EmailDraft{}, ErrMissingRecipient
	}

	subject := ""
	if m := subjectRe.FindStringSubmatch(text); m != nil {
		subject = m[1]
	} else if m := aboutRe.FindStringSubmatch(text); m != nil {
		subject = m[1]
	}
	subject = truncateRunes(strings.TrimSpace(emailRe.ReplaceAllString(subject, "")), maxSubjectLen)
	if subject == "" {
		subject = "Mensaje de WhatsApp de " + sender
	}

	body := emailRe.ReplaceAllString(text, "")
	body = emailCmdRe.ReplaceAllString(body, "")
	body = strings.Join(strings.Fields(body), " ")
	if utf8.RuneCountInString(body) < minBodyLen {
		body = "Mensaje enviado desde WhatsApp por " + sender + ":\n\n" + strings.TrimSpace(text)
	}

	return model.EmailDraft{To: to, Subject: subject, Body: body}, nil
}

// ParseWhen resolves relative day words and clock times against now.
// "tomorrow at 3pm" combines both; a bare clock time already past today rolls to tomorrow.
func ParseWhen(text string, now time.Time) (time.Time, bool) {
	lower := strings.ToLower(text)
	day := now
	dayFound := false

	switch {
	case strings.Contains(lower, "pasado mañana"), strings.Contains(lower, "day after tomorrow"):
		day, dayFound = now.AddDate(0, 0, 2), true
	case strings.Contains(lower, "tomorrow"), strings.Contains(lower, "mañana"):
		day, dayFound = now.AddDate(0, 0, 1), true
	case strings.Contains(lower, "next week"), strings.Contains(lower, "próxima semana"), strings.Contains(lower, "proxima semana"):
		day, dayFound = now.AddDate(0, 0, 7), true
	case strings.Contains(lower, "today"), strings.Contains(lower, "hoy"):
		day, dayFound = now, true
	}

	if m := clockRe.FindStringSubmatch(lower); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		switch strings.ReplaceAll(m[3], ".", "") {
		case "pm":
			if hour < 12 {
				hour += 12
			}
		case "am":
			if hour == 12 {
				hour = 0
			}
		}
		if hour > 23 || minute > 59 {
			return time.Time{}, false
		}
		at := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
		if !dayFound && !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at, true
	}

	if !dayFound {
		return time.Time{}, false
	}
	if day.Equal(now) {
		// "today" without a time means an hour from now
		return now.Add(time.Hour).Truncate(time.Minute), true
	}
	// a day without a time defaults to 10:00 local
	return time.Date(day.Year(), day.Month(), day.Day(), 10, 0, 0, 0, now.Location()), true
}

// ParseRelative resolves "in 30 minutes" / "en 2 horas" style offsets.
func ParseRelative(text string, now time.Time) (time.Time, bool) {
	m := relativeRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	unit := strings.ToLower(m[2])
	switch {
	case strings.HasPrefix(unit, "min"):
		return now.Add(time.Duration(n) * time.Minute), true
	case strings.HasPrefix(unit, "h"):
		return now.Add(time.Duration(n) * time.Hour), true
	default:
		return now.AddDate(0, 0, n), true
	}
}

// ParseEvent extracts a calendar event; start defaults to one hour from now.
func ParseEvent(text string, now time.Time, duration time.Duration) (model.EventDraft, error) {
	text = clip(text)
	if duration <= 0 {
		duration = time.Hour
	}

	summary := ""
	if m := summaryRe.FindStringSubmatch(text); m != nil {
		summary = cutAtMarkers(m[1])
	}
	summary = strings.Trim(emailRe.ReplaceAllString(summary, ""), " ,.;:")
	if summary == "" {
		summary = "Reunión"
	}
	summary = truncateRunes(capitalize(summary), maxSummaryLen)

	start, ok := ParseWhen(text, now)
	if !ok {
		if start, ok = ParseRelative(text, now); !ok {
			start = now.Add(time.Hour).Truncate(time.Minute)
		}
	}

	return model.EventDraft{
		Summary:     summary,
		Description: "Creado desde WhatsApp: " + strings.TrimSpace(text),
		Start:       start,
		End:         start.Add(duration),
		Attendees:   ExtractEmails(text),
	}, nil
}

// ParseReminder extracts the reminder text and due time; due defaults to one hour from now.
func ParseReminder(text string, now time.Time) (model.ReminderDraft, error) {
	text = clip(text)

	what := reminderCmdRe.ReplaceAllString(strings.TrimSpace(text), "")
	what = relativeRe.ReplaceAllString(what, " ")
	what = fillerRe.ReplaceAllString(strings.TrimSpace(what), "")
	what = strings.Trim(cutAtMarkers(" "+what), " ,.;:")
	if what == "" {
		return model.ReminderDraft{}, ErrMissingDetails
	}

	at, ok := ParseRelative(text, now)
	if !ok {
		if at, ok = ParseWhen(text, now); !ok {
			at = now.Add(time.Hour)
		}
	}
	return model.ReminderDraft{Text: capitalize(what), At: at}, nil
}

func cutAtMarkers(s string) string {
	lower := strings.ToLower(s)
	cut := len(s)
	for _, mk := range timeMarkers {
		if i := strings.Index(lower, mk); i >= 0 && i < cut {
			cut = i
		}
	}
	return strings.TrimSpace(s[:cut])
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return strings.ToUpper(string(r)) + s[size:]
}

func clip(s string) string {
	if len(s) > maxContentLen {
		return truncateRunes(s, maxContentLen)
	}
	return s
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
