package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
	"github.com/Chative-whatsapp-agent/server/internal/integrations/calendar"
	"github.com/Chative-whatsapp-agent/server/internal/integrations/email"
)

const defaultEventWindow = 7 * 24 * time.Hour

type sendEmailRequest struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	HTML    bool     `json:"html"`
}

func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	if s.deps.Email == nil {
		unavailable(w, "email")
		return
	}
	var req sendEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.deps.Email.Send(r.Context(), email.Message{To: req.To, Subject: req.Subject, Body: req.Body, HTML: req.HTML}); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "sent", "to": req.To})
}

type eventRequest struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calendar == nil {
		unavailable(w, "calendar")
		return
	}
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Start.IsZero() {
		respondError(w, r, errx.Validation("start is required"))
		return
	}
	ev, err := s.deps.Calendar.CreateEvent(r.Context(), model.EventDraft{
		Summary:     strings.TrimSpace(req.Summary),
		Description: req.Description,
		Start:       req.Start,
		End:         req.End,
		Attendees:   req.Attendees,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ev)
}

// handleListEvents lists events between ?from and ?to (RFC 3339), defaulting to the next week.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calendar == nil {
		unavailable(w, "calendar")
		return
	}
	q := r.URL.Query()
	from, err := parseTimeParam(q.Get("from"), time.Now())
	if err != nil {
		respondError(w, r, err)
		return
	}
	to, err := parseTimeParam(q.Get("to"), from.Add(defaultEventWindow))
	if err != nil {
		respondError(w, r, err)
		return
	}
	limit, err := parseIntParam(q.Get("limit"), 50)
	if err != nil {
		respondError(w, r, err)
		return
	}

	events, err := s.deps.Calendar.ListEvents(r.Context(), from, to, int64(limit))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if events == nil {
		events = []calendar.Event{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calendar == nil {
		unavailable(w, "calendar")
		return
	}
	ev, err := s.deps.Calendar.GetEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calendar == nil {
		unavailable(w, "calendar")
		return
	}
	var patch calendar.EventPatch
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, r, err)
		return
	}
	ev, err := s.deps.Calendar.UpdateEvent(r.Context(), chi.URLParam(r, "eventID"), patch)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calendar == nil {
		unavailable(w, "calendar")
		return
	}
	if err := s.deps.Calendar.DeleteEvent(r.Context(), chi.URLParam(r, "eventID")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDatabaseInsert(w http.ResponseWriter, r *http.Request) {
	if s.deps.Database == nil {
		unavailable(w, "database")
		return
	}
	var values map[string]any
	if err := decodeJSON(r, &values); err != nil {
		respondError(w, r, err)
		return
	}
	row, err := s.deps.Database.Insert(r.Context(), chi.URLParam(r, "table"), values)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, row)
}

// handleDatabaseSelect treats every query parameter except limit as an equality filter.
func (s *Server) handleDatabaseSelect(w http.ResponseWriter, r *http.Request) {
	if s.deps.Database == nil {
		unavailable(w, "database")
		return
	}
	q := r.URL.Query()
	limit, err := parseIntParam(q.Get("limit"), 0)
	if err != nil {
		respondError(w, r, err)
		return
	}
	filters := map[string]any{}
	for k, v := range q {
		if k != "limit" && len(v) > 0 {
			filters[k] = v[0]
		}
	}

	rows, err := s.deps.Database.Select(r.Context(), chi.URLParam(r, "table"), filters, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"rows": rows, "count": len(rows)})
}

func (s *Server) handleDatabaseUpdate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Database == nil {
		unavailable(w, "database")
		return
	}
	var values map[string]any
	if err := decodeJSON(r, &values); err != nil {
		respondError(w, r, err)
		return
	}
	row, err := s.deps.Database.Update(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id"), values)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, row)
}

func (s *Server) handleDatabaseDelete(w http.ResponseWriter, r *http.Request) {
	if s.deps.Database == nil {
		unavailable(w, "database")
		return
	}
	if err := s.deps.Database.Delete(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWhatsAppStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.WhatsApp == nil {
		unavailable(w, "whatsapp")
		return
	}
	state, err := s.deps.WhatsApp.InstanceStatus(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func parseTimeParam(v string, fallback time.Time) (time.Time, error) {
	if v == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errx.Validation("time parameters must be RFC 3339")
	}
	return t, nil
}

func parseIntParam(v string, fallback int) (int, error) {
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errx.Validation("limit must be a non-negative integer")
	}
	return n, nil
}
