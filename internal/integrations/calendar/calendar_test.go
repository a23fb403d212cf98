package calendar

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
)

type recorded struct {
	method string
	path   string
	body   map[string]any
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		calls = append(calls, recorded{method: r.Method, path: r.URL.Path, body: body})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(context.Background(),
		model.CalendarConfig{CalendarID: "primary", TimeZone: "America/Bogota"},
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return c, &calls
}

func TestCreateEvent(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"evt1","summary":"Demo","status":"confirmed",
			"start":{"dateTime":"2026-03-11T10:00:00-05:00"},"end":{"dateTime":"2026-03-11T11:00:00-05:00"},
			"attendees":[{"email":"ana@example.com"}],"htmlLink":"https://calendar.example/evt1"}`)
	})

	start := time.Date(2026, 3, 11, 10, 0, 0, 0, time.FixedZone("COT", -5*3600))
	ev, err := c.CreateEvent(context.Background(), model.EventDraft{
		Summary:   "Demo",
		Start:     start,
		Attendees: []string{"ana@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, "evt1", ev.ID)
	assert.True(t, ev.Start.Equal(start))
	assert.True(t, ev.End.Equal(start.Add(time.Hour)))
	assert.Equal(t, []string{"ana@example.com"}, ev.Attendees)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, http.MethodPost, call.method)
	assert.True(t, strings.HasSuffix(call.path, "/calendars/primary/events"), call.path)
	assert.Equal(t, "Demo", call.body["summary"])
	end := call.body["end"].(map[string]any)
	assert.Equal(t, "2026-03-11T11:00:00-05:00", end["dateTime"])
	assert.Equal(t, "America/Bogota", end["timeZone"])
}

func TestCreateEventRequiresSummary(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := c.CreateEvent(context.Background(), model.EventDraft{Start: time.Now()})
	assert.Equal(t, errx.KindValidation, errx.KindOf(err))
	assert.Empty(t, *calls)
}

func TestListEvents(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("singleEvents"))
		assert.Equal(t, "startTime", r.URL.Query().Get("orderBy"))
		assert.Equal(t, "5", r.URL.Query().Get("maxResults"))
		_, _ = io.WriteString(w, `{"items":[
			{"id":"a","summary":"Uno","start":{"dateTime":"2026-03-11T10:00:00Z"}},
			{"id":"b","summary":"Dos","start":{"date":"2026-03-12"}}]}`)
	})

	events, err := c.ListEvents(context.Background(), time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), time.Time{}, 5)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Uno", events[0].Summary)
	assert.Equal(t, 12, events[1].Start.Day())
	assert.Equal(t, http.MethodGet, (*calls)[0].method)
}

func TestUpdateAndDeleteEvent(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPatch:
			_, _ = io.WriteString(w, `{"id":"evt1","summary":"Nuevo título"}`)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			_, _ = io.WriteString(w, `{"id":"evt1","summary":"Demo"}`)
		}
	})
	ctx := context.Background()

	title := "Nuevo título"
	ev, err := c.UpdateEvent(ctx, "evt1", EventPatch{Summary: &title})
	require.NoError(t, err)
	assert.Equal(t, "Nuevo título", ev.Summary)

	got, err := c.GetEvent(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, "Demo", got.Summary)

	require.NoError(t, c.DeleteEvent(ctx, "evt1"))

	require.Len(t, *calls, 3)
	assert.Equal(t, "Nuevo título", (*calls)[0].body["summary"])
	assert.NotContains(t, (*calls)[0].body, "start")
	assert.True(t, strings.HasSuffix((*calls)[2].path, "/calendars/primary/events/evt1"))
}

func TestAPIErrorIsIntegrationError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":403,"message":"forbidden"}}`)
	})
	_, err := c.GetEvent(context.Background(), "evt1")
	require.Error(t, err)
	assert.Equal(t, errx.KindIntegration, errx.KindOf(err))
}
