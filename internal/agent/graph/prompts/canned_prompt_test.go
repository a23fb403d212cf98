package prompts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
)

func newTestReplies(t *testing.T) *CannedReplies {
	t.Helper()
	c, err := NewCannedReplies(model.PromptConfig{BusinessName: "Acme IA", BusinessType: "consultoría en IA"})
	require.NoError(t, err)
	return c
}

func TestCannedReplies_AllTemplatesRender(t *testing.T) {
	c := newTestReplies(t)
	names := []string{
		CannedHello, CannedFarewell, CannedPricing, CannedServices, CannedScheduling,
		CannedServiceUnavailable, CannedFallback, CannedAudioUnreadable, CannedUnsupported,
		CannedValidationError, CannedGenericError,
	}
	assert.ElementsMatch(t, names, c.Names())

	for _, name := range names {
		out, err := c.Render(context.Background(), name, nil)
		require.NoError(t, err, name)
		assert.NotEmpty(t, out, name)
		assert.NotContains(t, out, "{{", name)
	}
}

func TestCannedReplies_Greeting(t *testing.T) {
	out, err := newTestReplies(t).Render(context.Background(), CannedHello, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "¡Hola! Soy el Asistente AI de Acme IA")
	assert.Contains(t, out, "📧 Enviar emails")
}

func TestCannedReplies_ServiceUnavailableByTopic(t *testing.T) {
	c := newTestReplies(t)
	ctx := context.Background()

	email, err := c.Render(ctx, CannedServiceUnavailable, map[string]any{"Topic": string(model.TopicEmail)})
	require.NoError(t, err)
	assert.Contains(t, email, "enviar un email")

	cal, err := c.Render(ctx, CannedServiceUnavailable, map[string]any{"Topic": string(model.TopicReminder)})
	require.NoError(t, err)
	assert.Contains(t, cal, "calendario")

	other, err := c.Render(ctx, CannedServiceUnavailable, map[string]any{"Topic": string(model.TopicDataQuery)})
	require.NoError(t, err)
	assert.Contains(t, other, "no está disponible")
}

func TestCannedReplies_ValidationDetail(t *testing.T) {
	out, err := newTestReplies(t).Render(context.Background(), CannedValidationError, map[string]any{"Detail": "mensaje demasiado largo"})
	require.NoError(t, err)
	assert.Contains(t, out, "mensaje demasiado largo")
	assert.Contains(t, out, "más corto")
}

func TestCannedReplies_Unknown(t *testing.T) {
	_, err := newTestReplies(t).Render(context.Background(), "nope", nil)
	assert.Error(t, err)
}

func TestCannedForTopic(t *testing.T) {
	name, ok := CannedForTopic(model.TopicHello)
	assert.True(t, ok)
	assert.Equal(t, CannedHello, name)

	_, ok = CannedForTopic(model.TopicEmail)
	assert.False(t, ok)
	_, ok = CannedForTopic(model.TopicNone)
	assert.False(t, ok)
}

func TestKnowledgeTemplate(t *testing.T) {
	tpl := NewKnowledgeTemplate()
	msgs, err := tpl.Format(context.Background(), KnowledgeVars("Acme IA", "consultoría en IA", "¿Qué servicios ofrecen?", "user: hola", []string{"Ofrecemos ML.", "Ofrecemos datos."}))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, "Acme IA")
	assert.Contains(t, msgs[0].Content, "[0] Ofrecemos ML.")
	assert.Contains(t, msgs[0].Content, "[1] Ofrecemos datos.")
	assert.Contains(t, msgs[0].Content, "user: hola")
	assert.Equal(t, "¿Qué servicios ofrecen?", msgs[1].Content)
}
