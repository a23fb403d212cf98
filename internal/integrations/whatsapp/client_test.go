package whatsapp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
	"github.com/Chative-whatsapp-agent/server/internal/metrics"
)

type recorded struct {
	path   string
	apiKey string
	body   map[string]any
}

type evolutionStub struct {
	mu       sync.Mutex
	calls    []recorded
	statuses []int
	reply    any
}

func (s *evolutionStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	s.calls = append(s.calls, recorded{path: r.URL.Path, apiKey: r.Header.Get("apikey"), body: body})
	status := http.StatusOK
	if len(s.statuses) > 0 {
		status, s.statuses = s.statuses[0], s.statuses[1:]
	}
	reply := s.reply
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if reply != nil {
		_ = json.NewEncoder(w).Encode(reply)
	} else {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

func newTestClient(t *testing.T, stub *evolutionStub, mutate ...func(*model.WhatsAppConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	cfg := model.WhatsAppConfig{
		APIURL:           srv.URL + "/",
		APIKey:           "secret",
		Instance:         "lunia",
		Timeout:          2 * time.Second,
		MaxRetries:       3,
		RetryWait:        time.Millisecond,
		MaxMessageLength: 4000,
		TypingDelay:      1200,
		MaxMediaBytes:    1024,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewClient(cfg)
}

func TestSendText(t *testing.T) {
	stub := &evolutionStub{}
	c := newTestClient(t, stub)

	require.NoError(t, c.SendText(context.Background(), "573001112233", "Hola"))

	require.Len(t, stub.calls, 1)
	call := stub.calls[0]
	assert.Equal(t, "/message/sendText/lunia", call.path)
	assert.Equal(t, "secret", call.apiKey)
	assert.Equal(t, "573001112233", call.body["number"])
	assert.Equal(t, map[string]any{"delay": float64(1200), "presence": "composing"}, call.body["options"])
	assert.Equal(t, map[string]any{"text": "Hola"}, call.body["textMessage"])
}

func TestSendTextSplitsLongMessages(t *testing.T) {
	stub := &evolutionStub{}
	c := newTestClient(t, stub, func(cfg *model.WhatsAppConfig) { cfg.MaxMessageLength = 20 })

	delivered := metrics.DeliveriesTotal.WithLabelValues("success")
	before := testutil.ToFloat64(delivered)

	require.NoError(t, c.SendText(context.Background(), "1", "Primera frase. Segunda frase. Tercera."))
	assert.Len(t, stub.calls, 3)
	assert.Equal(t, before+3, testutil.ToFloat64(delivered))
}

func TestSendTextRetriesServerErrors(t *testing.T) {
	stub := &evolutionStub{statuses: []int{http.StatusServiceUnavailable, http.StatusTooManyRequests}}
	c := newTestClient(t, stub)

	require.NoError(t, c.SendText(context.Background(), "1", "Hola"))
	assert.Len(t, stub.calls, 3)
}

func TestSendTextDoesNotRetryClientErrors(t *testing.T) {
	stub := &evolutionStub{statuses: []int{http.StatusBadRequest}}
	c := newTestClient(t, stub)

	err := c.SendText(context.Background(), "1", "Hola")
	require.Error(t, err)
	assert.Equal(t, errx.KindTransport, errx.KindOf(err))
	assert.Len(t, stub.calls, 1)
}

func TestSendTextGivesUpAfterRetries(t *testing.T) {
	stub := &evolutionStub{statuses: []int{500, 500, 500, 500, 500}}
	c := newTestClient(t, stub)

	err := c.SendText(context.Background(), "1", "Hola")
	assert.Equal(t, errx.KindTransport, errx.KindOf(err))
	assert.Len(t, stub.calls, 4)
}

func TestDryRunSendsNothing(t *testing.T) {
	stub := &evolutionStub{}
	c := newTestClient(t, stub, func(cfg *model.WhatsAppConfig) { cfg.DryRun = true })

	require.NoError(t, c.SendText(context.Background(), "1", "Hola"))
	require.NoError(t, c.SendPresence(context.Background(), "1"))
	assert.True(t, c.DryRun())
	assert.Empty(t, stub.calls)
}

func TestSendPresence(t *testing.T) {
	stub := &evolutionStub{}
	c := newTestClient(t, stub)

	require.NoError(t, c.SendPresence(context.Background(), "1"))
	require.Len(t, stub.calls, 1)
	assert.Equal(t, "/chat/presence/lunia", stub.calls[0].path)
	assert.Equal(t, "composing", stub.calls[0].body["presence"])
}

func TestInstanceStatus(t *testing.T) {
	stub := &evolutionStub{reply: map[string]any{"instance": map[string]any{"instanceName": "lunia", "state": "open"}}}
	c := newTestClient(t, stub)

	state, err := c.InstanceStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "open", state.Instance.State)
	assert.Equal(t, "/instance/connectionState/lunia", stub.calls[0].path)
}

func TestDownloadMedia(t *testing.T) {
	audio := []byte("OggS fake voice note payload")
	stub := &evolutionStub{reply: map[string]any{"base64": base64.StdEncoding.EncodeToString(audio), "mimetype": "audio/ogg; codecs=opus"}}
	c := newTestClient(t, stub)

	media, err := c.DownloadMedia(context.Background(), "MSG1")
	require.NoError(t, err)
	assert.Equal(t, audio, media.Data)
	assert.Equal(t, "audio/ogg; codecs=opus", media.MimeType)
	assert.Equal(t, "/chat/getBase64FromMediaMessage/lunia", stub.calls[0].path)
	assert.Equal(t, map[string]any{"key": map[string]any{"id": "MSG1"}}, stub.calls[0].body["message"])
}

func TestDownloadMediaRejectsLargeFiles(t *testing.T) {
	stub := &evolutionStub{reply: map[string]any{"base64": base64.StdEncoding.EncodeToString(make([]byte, 4096))}}
	c := newTestClient(t, stub)

	_, err := c.DownloadMedia(context.Background(), "MSG1")
	assert.Equal(t, errx.KindValidation, errx.KindOf(err))
}
