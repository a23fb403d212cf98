package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
)

func TestDefaultIntentDetector(t *testing.T) {
	d := DefaultIntentDetector()

	tests := []struct {
		input  string
		intent model.Intent
		topic  model.Topic
		score  float64
	}{
		{"Hola", model.IntentGreeting, model.TopicHello, ScoreGreeting},
		{"hola!!", model.IntentGreeting, model.TopicHello, ScoreGreeting},
		{"Buenos días, equipo", model.IntentGreeting, model.TopicHello, ScoreGreeting},
		{"Good morning", model.IntentGreeting, model.TopicHello, ScoreGreeting},
		{"ok, adiós", model.IntentGreeting, model.TopicFarewell, ScoreGreeting},
		{"Send an email to ana@example.com about the proposal", model.IntentServiceRequest, model.TopicEmail, ScoreService},
		{"enviar correo a juan@empresa.co con la propuesta", model.IntentServiceRequest, model.TopicEmail, ScoreService},
		{"schedule a meeting tomorrow at 3pm", model.IntentServiceRequest, model.TopicCalendar, ScoreService},
		{"Agendar demo para el viernes", model.IntentServiceRequest, model.TopicCalendar, ScoreService},
		{"remind me to call Ana tomorrow", model.IntentServiceRequest, model.TopicReminder, ScoreService},
		{"Recuérdame pagar la factura en 2 horas", model.IntentServiceRequest, model.TopicReminder, ScoreService},
		{"busca proyectos de retail", model.IntentServiceRequest, model.TopicDataQuery, ScoreService},
		{"What are your prices?", model.IntentGeneralInquiry, model.TopicPricing, ScoreInquiry},
		{"¿Cuál es el precio?", model.IntentGeneralInquiry, model.TopicPricing, ScoreInquiry},
		{"What services do you have", model.IntentGeneralInquiry, model.TopicServices, ScoreInquiry},
		{"quiero una cita", model.IntentGeneralInquiry, model.TopicScheduling, ScoreInquiry},
		{"¿Qué servicios ofrecen?", model.IntentGeneralInquiry, model.TopicNone, ScoreDefault},
		{"¿Cómo funciona el machine learning?", model.IntentGeneralInquiry, model.TopicNone, ScoreDefault},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := d.Detect(tt.input)
			assert.Equal(t, tt.intent, got.Intent)
			assert.Equal(t, tt.topic, got.Topic)
			assert.Equal(t, tt.score, got.Score)
		})
	}
}

func TestKeywordsMatchWholeWordsOnly(t *testing.T) {
	d := DefaultIntentDetector()

	// "hi" inside "this" / "which" must not be read as a greeting
	got := d.Detect("which of this applies to my company")
	assert.Equal(t, model.IntentGeneralInquiry, got.Intent)
	assert.Equal(t, model.TopicNone, got.Topic)
}

func TestGreetingWinsOverLaterRules(t *testing.T) {
	got := DefaultIntentDetector().Detect("hola, send an email to a@b.co")
	assert.Equal(t, model.IntentGreeting, got.Intent)
}

func TestServicePatternMatch(t *testing.T) {
	got := DefaultIntentDetector().Detect("send email to ana@example.com about budget review")
	assert.Equal(t, "email", got.Rule)
	assert.Equal(t, model.TopicEmail, got.Topic)
	assert.Equal(t, ScoreService, got.Score)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"qué", "servicios", "ofrecen"}, Tokenize("¿Qué servicios ofrecen?"))
	assert.Empty(t, Tokenize("  ¿¡!? "))
}
