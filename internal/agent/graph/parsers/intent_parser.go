package parsers

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
)

// fixed rule scores
const (
	ScoreGreeting = 0.9
	ScoreService  = 0.95
	ScoreInquiry  = 0.8
	ScoreDefault  = 0.5
)

// IntentRule is one ordered classification rule. A rule matches when any keyword
// phrase appears as whole words, or when any pattern matches the lower-cased text.
type IntentRule struct {
	Name     string
	Intent   model.Intent
	Topic    model.Topic
	Score    float64
	Keywords []string
	Patterns []*regexp.Regexp
}

// IntentMatch is the detector's verdict for one message.
type IntentMatch struct {
	Rule   string
	Intent model.Intent
	Topic  model.Topic
	Score  float64
}

// IntentDetector evaluates rules in order and returns the first match.
type IntentDetector struct {
	rules []IntentRule
}

func NewIntentDetector(rules ...IntentRule) *IntentDetector {
	return &IntentDetector{rules: rules}
}

// DefaultIntentDetector checks greetings first, then service patterns, then
// inquiry keywords; anything else is a general inquiry for the knowledge base.
func DefaultIntentDetector() *IntentDetector {
	return NewIntentDetector(
		IntentRule{
			Name: "greeting", Intent: model.IntentGreeting, Topic: model.TopicHello, Score: ScoreGreeting,
			Keywords: []string{
				"hola", "hello", "hi", "hey", "buenas", "buenos dias", "buenos días", "buenas tardes",
				"buenas noches", "good morning", "good afternoon", "good evening", "saludos",
			},
		},
		IntentRule{
			Name: "farewell", Intent: model.IntentGreeting, Topic: model.TopicFarewell, Score: ScoreGreeting,
			Keywords: []string{"bye", "goodbye", "adios", "adiós", "see you", "hasta luego", "hasta pronto", "chau", "chao"},
		},
		IntentRule{
			Name: "email", Intent: model.IntentServiceRequest, Topic: model.TopicEmail, Score: ScoreService,
			Patterns: compile(
				`\bsend\s+(?:an\s+)?e-?mail\s+to\s+(\S+)(?:\s+about\s+(.+))?`,
				`\be-?mail\s+(\S+@\S+)\s+about\s+(.+)`,
				`\benviar\s+(?:un\s+)?(?:correo|e-?mail)\s+a\s+(\S+)`,
				`\bmandar\s+(?:un\s+)?(?:correo|e-?mail)\s+a\s+(\S+)`,
			),
		},
		IntentRule{
			Name: "calendar", Intent: model.IntentServiceRequest, Topic: model.TopicCalendar, Score: ScoreService,
			Patterns: compile(
				`\bschedule\s+(?:a\s+)?meeting\b(.*)`,
				`\bcreate\s+(?:an\s+)?appointment\b(.*)`,
				`\bbook\s+(.+?)\s+on\s+(.+)`,
				`\bprogramar\s+(?:una\s+)?(?:cita|reuni[oó]n)\b(.*)`,
				`\bagendar\s+(.+?)\s+para\s+(.+)`,
			),
		},
		IntentRule{
			Name: "reminder", Intent: model.IntentServiceRequest, Topic: model.TopicReminder, Score: ScoreService,
			Patterns: compile(
				`\bremind\s+me\s+(.+)`,
				`\bset\s+(?:a\s+)?reminder\s+(.+)`,
				`\brecu[eé]rdame\s+(.+)`,
				`\brecordarme\s+(.+)`,
				`\bcrear\s+(?:un\s+)?recordatorio\s+(.+)`,
			),
		},
		IntentRule{
			Name: "data_query", Intent: model.IntentServiceRequest, Topic: model.TopicDataQuery, Score: ScoreService,
			Patterns: compile(
				`^(?:show\s+me|find|search(?:\s+for)?|list|look\s+up|lookup|mu[eé]strame|muestra|busca|encuentra|lista|consulta)\s+(.+)`,
			),
		},
		IntentRule{
			Name: "pricing", Intent: model.IntentGeneralInquiry, Topic: model.TopicPricing, Score: ScoreInquiry,
			Keywords: []string{"price", "prices", "pricing", "cost", "costs", "budget", "quote", "precio", "precios", "costo", "costos", "tarifa", "tarifas", "cotización", "cotizacion"},
		},
		IntentRule{
			Name: "services", Intent: model.IntentGeneralInquiry, Topic: model.TopicServices, Score: ScoreInquiry,
			Keywords: []string{"services", "what do you offer", "what do you do", "what can you do"},
		},
		IntentRule{
			Name: "scheduling", Intent: model.IntentGeneralInquiry, Topic: model.TopicScheduling, Score: ScoreInquiry,
			Keywords: []string{"schedule", "appointment", "meeting", "book a call", "cita", "reunión", "reunion", "agendar"},
		},
	)
}

// Detect classifies text. It never fails: unmatched text is a general inquiry.
func (d *IntentDetector) Detect(text string) IntentMatch {
	lowered := strings.ToLower(strings.TrimSpace(text))
	padded := " " + strings.Join(Tokenize(lowered), " ") + " "

	for _, rule := range d.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(padded, " "+kw+" ") {
				return IntentMatch{Rule: rule.Name, Intent: rule.Intent, Topic: rule.Topic, Score: rule.Score}
			}
		}
		for _, re := range rule.Patterns {
			if re.MatchString(lowered) {
				return IntentMatch{Rule: rule.Name, Intent: rule.Intent, Topic: rule.Topic, Score: rule.Score}
			}
		}
	}

	return IntentMatch{Rule: "default", Intent: model.IntentGeneralInquiry, Topic: model.TopicNone, Score: ScoreDefault}
}

// Tokenize lower-cases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}
