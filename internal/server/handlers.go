package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Chative-whatsapp-agent/server/internal/agent/knowledge"
	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
	"github.com/Chative-whatsapp-agent/server/internal/inbox"
	"github.com/Chative-whatsapp-agent/server/internal/integrations/whatsapp"
	"github.com/Chative-whatsapp-agent/server/internal/metrics"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

const healthTimeout = 3 * time.Second

var signatureHeaders = []string{"X-Signature-256", "X-Hub-Signature-256"}

func unavailable(w http.ResponseWriter, component string) {
	respondMessage(w, http.StatusServiceUnavailable, component+" is not configured")
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service": "whatsapp-agent",
		"status":  "running",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	components := map[string]string{
		"workflow":       configured(s.deps.Runner != nil),
		"knowledge_base": configured(s.deps.Knowledge != nil),
		"email":          configured(s.deps.Email != nil),
		"calendar":       configured(s.deps.Calendar != nil),
		"database":       configured(s.deps.Database != nil),
		"whatsapp":       configured(s.deps.WhatsApp != nil),
	}
	healthy := s.deps.Runner != nil
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			logx.Warn().Err(err).Str("component", name).Msg("Health check failed")
			components[name] = "unhealthy"
			healthy = false
			continue
		}
		components[name] = "healthy"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"components": components,
	})
}

func configured(ok bool) string {
	if ok {
		return "configured"
	}
	return "not_configured"
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondMessage(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if secret := s.cfg.Security.WebhookSecret; secret != "" {
		var sig string
		for _, h := range signatureHeaders {
			if sig = r.Header.Get(h); sig != "" {
				break
			}
		}
		if !verifySignature(body, sig, secret) {
			logx.Warn().Str("remote_ip", r.RemoteAddr).Msg("Webhook signature rejected")
			respondMessage(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	msg, err := whatsapp.ParseWebhook(body)
	if whatsapp.Ignored(err) {
		metrics.MessagesTotal.WithLabelValues("none", "ignored").Inc()
		logx.Debug().Err(err).Msg("Webhook ignored")
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": err.Error()})
		return
	}
	if err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	if s.deps.Inbox == nil {
		unavailable(w, "message processing")
		return
	}
	switch err := s.deps.Inbox.Accept(r.Context(), msg); {
	case errors.Is(err, inbox.ErrRateLimited):
		respondMessage(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, inbox.ErrShuttingDown):
		respondMessage(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		respondError(w, r, err)
	default:
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "message_id": msg.ID})
	}
}

type sendMessageRequest struct {
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sender == nil {
		unavailable(w, "whatsapp")
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.PhoneNumber == "" || strings.TrimSpace(req.Message) == "" {
		respondError(w, r, errx.Validation("phone_number and message are required"))
		return
	}
	if err := s.deps.Sender.SendText(r.Context(), req.PhoneNumber, req.Message); err != nil {
		respondError(w, r, err)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	logx.Info().Str("principal", principal).Str("to", req.PhoneNumber).Msg("Manual message sent")
	respondJSON(w, http.StatusOK, map[string]any{"status": "sent", "phone_number": req.PhoneNumber})
}

type testMessageRequest struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// handleTestMessage runs the workflow without delivering or persisting anything.
func (s *Server) handleTestMessage(w http.ResponseWriter, r *http.Request) {
	var req testMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Sender == "" {
		req.Sender = "test-user"
	}
	res, err := s.deps.Runner.Invoke(r.Context(), model.QueryInput{
		ConversationID: req.Sender,
		Sender:         req.Sender,
		Query:          req.Message,
		DryRun:         true,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type knowledgeQueryRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleKnowledgeQuery(w http.ResponseWriter, r *http.Request) {
	if s.deps.Knowledge == nil {
		unavailable(w, "knowledge base")
		return
	}
	var req knowledgeQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		respondError(w, r, errx.Validation("question is required"))
		return
	}
	answer, err := s.deps.Knowledge.Answer(r.Context(), model.KnowledgeQuery{Question: req.Question})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"question": req.Question, "answer": answer, "found": answer != ""})
}

func (s *Server) handleKnowledgeRebuild(w http.ResponseWriter, r *http.Request) {
	if s.deps.Knowledge == nil {
		unavailable(w, "knowledge base")
		return
	}
	res, err := s.deps.Knowledge.Rebuild(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleKnowledgeDocument(w http.ResponseWriter, r *http.Request) {
	if s.deps.Knowledge == nil {
		unavailable(w, "knowledge base")
		return
	}
	var doc knowledge.DocumentInput
	if err := decodeJSON(r, &doc); err != nil {
		respondError(w, r, err)
		return
	}
	chunks, err := s.deps.Knowledge.AddDocument(r.Context(), doc)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"status": "indexed", "chunks": chunks})
}

func (s *Server) handleKnowledgeStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Knowledge == nil {
		unavailable(w, "knowledge base")
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Knowledge.Stats())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		unavailable(w, "session store")
		return
	}
	sess, err := s.deps.Sessions.Get(r.Context(), chi.URLParam(r, "userID"))
	if errors.Is(err, model.ErrSessionNotFound) {
		respondMessage(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		unavailable(w, "session store")
		return
	}
	if err := s.deps.Sessions.Delete(r.Context(), chi.URLParam(r, "userID")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionCleanup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		unavailable(w, "session store")
		return
	}
	n, err := s.deps.Sessions.Purge(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}
	if s.deps.Sessions != nil {
		n, err := s.deps.Sessions.Count(r.Context())
		if err != nil {
			respondError(w, r, err)
			return
		}
		out["active_sessions"] = n
		out["max_turns"] = s.deps.Sessions.MaxTurns()
	}
	if s.deps.Knowledge != nil {
		out["knowledge_base"] = s.deps.Knowledge.Stats()
	}
	respondJSON(w, http.StatusOK, out)
}
