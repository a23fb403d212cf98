package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-whatsapp-agent/server/internal/agent/graph/conversations"
	"github.com/Chative-whatsapp-agent/server/internal/agent/knowledge"
	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	"github.com/Chative-whatsapp-agent/server/internal/agent/repo"
	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
	"github.com/Chative-whatsapp-agent/server/internal/inbox"
)

const (
	testAPIKey    = "test-key"
	testJWTSecret = "jwt-secret"
)

type fakeRunner struct{ inputs []model.QueryInput }

func (f *fakeRunner) Invoke(_ context.Context, in model.QueryInput) (*model.QueryResult, error) {
	f.inputs = append(f.inputs, in)
	return &model.QueryResult{ConversationID: in.ConversationID, Response: "¡Hola!", Intent: model.IntentGreeting}, nil
}

type fakeInbox struct {
	msgs []*model.InboundMessage
	err  error
}

func (f *fakeInbox) Accept(_ context.Context, msg *model.InboundMessage) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

type fakeKnowledge struct{ questions []string }

func (f *fakeKnowledge) Answer(_ context.Context, q model.KnowledgeQuery) (string, error) {
	f.questions = append(f.questions, q.Question)
	return "Ofrecemos consultoría en IA.", nil
}

func (f *fakeKnowledge) Rebuild(context.Context) (*knowledge.RebuildResult, error) {
	return &knowledge.RebuildResult{Files: 2, Chunks: 5}, nil
}

func (f *fakeKnowledge) AddDocument(_ context.Context, doc knowledge.DocumentInput) (int, error) {
	if doc.Content == "" {
		return 0, errx.Validation("document content is required")
	}
	return 1, nil
}

func (f *fakeKnowledge) Stats() knowledge.Stats {
	return knowledge.Stats{Status: "initialized", Documents: 5}
}

type fakeDatabase struct {
	table   string
	filters map[string]any
	limit   int
}

func (f *fakeDatabase) Insert(_ context.Context, table string, values map[string]any) (map[string]any, error) {
	f.table = table
	values["id"] = "row-1"
	return values, nil
}

func (f *fakeDatabase) Select(_ context.Context, table string, filters map[string]any, limit int) ([]map[string]any, error) {
	if table != "reminders" {
		return nil, errx.Validation("table is not available")
	}
	f.table, f.filters, f.limit = table, filters, limit
	return []map[string]any{{"id": "row-1"}}, nil
}

func (f *fakeDatabase) Update(_ context.Context, table, id string, values map[string]any) (map[string]any, error) {
	return values, nil
}

func (f *fakeDatabase) Delete(context.Context, string, string) error { return nil }

type fixture struct {
	handler   http.Handler
	runner    *fakeRunner
	inbox     *fakeInbox
	knowledge *fakeKnowledge
	database  *fakeDatabase
}

func newFixture(t *testing.T, mutate ...func(*Config, *Deps)) *fixture {
	t.Helper()
	memRepo, err := repo.NewMemorySessionRepository(100, time.Hour)
	require.NoError(t, err)

	f := &fixture{runner: &fakeRunner{}, inbox: &fakeInbox{}, knowledge: &fakeKnowledge{}, database: &fakeDatabase{}}
	cfg := Config{
		Server: model.ServerConfig{AllowedOrigins: []string{"*"}, MaxBodyBytes: 1024},
		Security: model.SecurityConfig{
			APIKeys:       []string{testAPIKey},
			JWTSecret:     testJWTSecret,
			JWTExpiration: time.Hour,
		},
	}
	deps := Deps{
		Runner:    f.runner,
		Inbox:     f.inbox,
		Sessions:  conversations.NewSessionManager(memRepo, model.SessionConfig{MaxTurns: 10, ContextTurns: 6}),
		Knowledge: f.knowledge,
		Database:  f.database,
	}
	for _, m := range mutate {
		m(&cfg, &deps)
	}
	f.handler = New(cfg, deps).Router()
	return f
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

const upsert = `{"event":"messages.upsert","data":{"key":{"remoteJid":"573001112233@s.whatsapp.net","id":"MSG1"},"message":{"conversation":"Hola"}}}`

func TestHealth(t *testing.T) {
	f := newFixture(t, func(_ *Config, d *Deps) {
		d.Checks = map[string]HealthCheck{"redis": func(context.Context) error { return nil }}
	})
	rec := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	components := body["components"].(map[string]any)
	assert.Equal(t, "healthy", components["redis"])
	assert.Equal(t, "not_configured", components["email"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestHealthDegradedWhenACheckFails(t *testing.T) {
	f := newFixture(t, func(_ *Config, d *Deps) {
		d.Checks = map[string]HealthCheck{"postgres": func(context.Context) error { return assert.AnError }}
	})
	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := newFixture(t).do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookAccepted(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/webhook/whatsapp", upsert)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "accepted", decode(t, rec)["status"])
	require.Len(t, f.inbox.msgs, 1)
	assert.Equal(t, "573001112233", f.inbox.msgs[0].Sender)
	assert.Equal(t, "Hola", f.inbox.msgs[0].Text)
}

func TestWebhookIgnoredAndInvalid(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/webhook/whatsapp", `{"event":"connection.update"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode(t, rec)["status"])

	rec = f.do(http.MethodPost, "/webhook/whatsapp", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.inbox.msgs)
}

func TestWebhookRateLimited(t *testing.T) {
	f := newFixture(t)
	f.inbox.err = inbox.ErrRateLimited

	rec := f.do(http.MethodPost, "/webhook/whatsapp", upsert)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestWebhookBodyLimit(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/webhook/whatsapp", `{"pad":"`+strings.Repeat("x", 2048)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func sign(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookSignature(t *testing.T) {
	f := newFixture(t, func(c *Config, _ *Deps) { c.Security.WebhookSecret = "hook-secret" })

	rec := f.do(http.MethodPost, "/webhook/whatsapp", upsert)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/webhook/whatsapp", upsert, "X-Signature-256", sign(upsert, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/webhook/whatsapp", upsert, "X-Signature-256", sign(upsert, "hook-secret"))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(http.MethodPost, "/webhook/whatsapp", upsert, "X-Hub-Signature-256", "sha256="+sign(upsert, "hook-secret"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, f.inbox.msgs, 2)
}

func TestAPIAuthentication(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/stats", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/stats", "", "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/stats", "", "X-API-Key", testAPIKey).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/stats", "", "Authorization", "Bearer "+testAPIKey).Code)
}

func TestTokenExchange(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/auth/token", `{"api_key":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/auth/token", `{"api_key":"`+testAPIKey+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Bearer", body["token_type"])
	token := body["access_token"].(string)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/stats", "", "Authorization", "Bearer "+token).Code)

	forged, err := NewAccessToken("intruder", "other-secret", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/stats", "", "Authorization", "Bearer "+forged).Code)

	expired, err := NewAccessToken("api-key:0", testJWTSecret, -time.Minute)
	require.NoError(t, err)
	rec = f.do(http.MethodGet, "/api/stats", "", "Authorization", "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Token has expired", decode(t, rec)["error"])
}

func TestAPIClosedWithoutCredentialsConfigured(t *testing.T) {
	f := newFixture(t, func(c *Config, _ *Deps) { c.Security = model.SecurityConfig{} })
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/stats", "", "X-API-Key", "anything").Code)
}

func TestTestMessageIsDryRun(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/test/message", `{"sender":"u1","message":"Hola"}`, "X-API-Key", testAPIKey)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.runner.inputs, 1)
	assert.True(t, f.runner.inputs[0].DryRun)
	assert.Equal(t, "¡Hola!", decode(t, rec)["response"])
}

func TestKnowledgeRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/knowledge-base/query", `{"question":"  "}`, "X-API-Key", testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/knowledge-base/query", `{"question":"¿Qué servicios ofrecen?"}`, "X-API-Key", testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["found"])
	assert.Equal(t, []string{"¿Qué servicios ofrecen?"}, f.knowledge.questions)

	rec = f.do(http.MethodPost, "/api/knowledge-base/documents", `{"content":"Horario: 9 a 18"}`, "X-API-Key", testAPIKey)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodPost, "/api/knowledge-base/documents", `{"content":""}`, "X-API-Key", testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/knowledge-base/rebuild", ``, "X-API-Key", testAPIKey)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/knowledge-base/stats", ``, "X-API-Key", testAPIKey)
	assert.Equal(t, "initialized", decode(t, rec)["status"])
}

func TestSessionRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/sessions/unknown", "", "X-API-Key", testAPIKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodDelete, "/api/sessions/unknown", "", "X-API-Key", testAPIKey)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, "/api/sessions/cleanup", "", "X-API-Key", testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["removed"])
}

func TestDatabaseRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/database/reminders?user_id=u1&limit=5", "", "X-API-Key", testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"user_id": "u1"}, f.database.filters)
	assert.Equal(t, 5, f.database.limit)

	rec = f.do(http.MethodGet, "/api/database/pg_user", "", "X-API-Key", testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/database/reminders?limit=-1", "", "X-API-Key", testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/database/user_queries", `{"query":"lista"}`, "X-API-Key", testAPIKey)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "user_queries", f.database.table)
}

func TestUnconfiguredIntegrationsAnswer503(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/api/email/send", `{}`},
		{http.MethodGet, "/api/calendar/events", ``},
		{http.MethodGet, "/api/whatsapp/status", ``},
		{http.MethodPost, "/api/send-message", `{}`},
	} {
		rec := f.do(tc.method, tc.path, tc.body, "X-API-Key", testAPIKey)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, tc.path)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := sign(string(body), "s")

	assert.True(t, verifySignature(body, sig, "s"))
	assert.True(t, verifySignature(body, "sha256="+sig, "s"))
	assert.False(t, verifySignature(body, "sha1="+sig, "s"))
	assert.False(t, verifySignature(body, "zz", "s"))
	assert.False(t, verifySignature(bytes.ToUpper(body), sig, "s"))
}

func TestAuthMiddlewareSetsPrincipal(t *testing.T) {
	s := New(Config{Security: model.SecurityConfig{
		APIKeys:       []string{"first-key", testAPIKey},
		JWTSecret:     testJWTSecret,
		JWTExpiration: time.Hour,
	}}, Deps{})

	var principal string
	h := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ = PrincipalFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "api-key:1", principal)

	token, err := NewAccessToken("ops-dashboard", testJWTSecret, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "ops-dashboard", principal)

	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)
}
