package whatsapp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
)

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		wantType model.MessageType
		wantText string
		wantURL  string
	}{
		{"conversation", `{"conversation":"Hola"}`, model.MessageText, "Hola", ""},
		{"extended text", `{"extendedTextMessage":{"text":"¿Qué servicios ofrecen?"}}`, model.MessageText, "¿Qué servicios ofrecen?", ""},
		{"audio", `{"audioMessage":{"url":"https://mmg.whatsapp.net/a","mimetype":"audio/ogg; codecs=opus"}}`, model.MessageAudio, "", "https://mmg.whatsapp.net/a"},
		{"image with caption", `{"imageMessage":{"caption":"mi factura"}}`, model.MessageImage, "mi factura", ""},
		{"image without caption", `{"imageMessage":{}}`, model.MessageImage, "[Image received]", ""},
		{"document", `{"documentMessage":{"fileName":"cotizacion.pdf"}}`, model.MessageDocument, "[Document received: cotizacion.pdf]", ""},
		{"sticker", `{"stickerMessage":{}}`, model.MessageUnsupported, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"event":"messages.upsert","instance":"lunia","data":{"key":{"remoteJid":"573001112233@s.whatsapp.net","fromMe":false,"id":"MSG1"},"pushName":"Ana","messageTimestamp":1767225600,"message":` + tt.message + `}}`
			msg, err := ParseWebhook([]byte(body))
			require.NoError(t, err)
			assert.Equal(t, "573001112233", msg.Sender)
			assert.Equal(t, "MSG1", msg.ID)
			assert.Equal(t, "Ana", msg.PushName)
			assert.Equal(t, "lunia", msg.Instance)
			assert.Equal(t, tt.wantType, msg.Type)
			assert.Equal(t, tt.wantText, msg.Text)
			assert.Equal(t, tt.wantURL, msg.MediaURL)
			assert.Equal(t, time.Unix(1767225600, 0), msg.Timestamp)
		})
	}
}

func TestParseWebhookAcceptsUpperCaseEventAndStringTimestamp(t *testing.T) {
	body := `{"event":"MESSAGES_UPSERT","data":{"key":{"remoteJid":"1@s.whatsapp.net"},"messageTimestamp":"1767225600","message":{"conversation":"hi"}}}`
	msg, err := ParseWebhook([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1767225600, 0), msg.Timestamp)
}

func TestParseWebhookIgnores(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"other event", `{"event":"connection.update","data":{}}`, ErrIgnoredEvent},
		{"from self", `{"event":"messages.upsert","data":{"key":{"remoteJid":"1@s.whatsapp.net","fromMe":true},"message":{"conversation":"x"}}}`, ErrFromSelf},
		{"no sender", `{"event":"messages.upsert","data":{"key":{},"message":{"conversation":"x"}}}`, ErrNoSender},
		{"group", `{"event":"messages.upsert","data":{"key":{"remoteJid":"123-456@g.us"},"message":{"conversation":"x"}}}`, ErrUnsupportedJID},
		{"status", `{"event":"messages.upsert","data":{"key":{"remoteJid":"status@broadcast"},"message":{"conversation":"x"}}}`, ErrUnsupportedJID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWebhook([]byte(tt.body))
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, Ignored(err))
		})
	}
}

func TestParseWebhookRejectsInvalidJSON(t *testing.T) {
	_, err := ParseWebhook([]byte("{"))
	require.Error(t, err)
	assert.False(t, Ignored(err))
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"corto"}, SplitMessage("corto", 4000))
	assert.Equal(t,
		[]string{"Primera frase.", "Segunda frase.", "Tercera."},
		SplitMessage("Primera frase. Segunda frase. Tercera.", 20))
	assert.Equal(t, []string{"abcde", "fghij", "k"}, SplitMessage("abcdefghijk", 5))
}
