package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Chative-whatsapp-agent/server/internal/agent/graph"
	"github.com/Chative-whatsapp-agent/server/internal/agent/graph/conversations"
	"github.com/Chative-whatsapp-agent/server/internal/agent/knowledge"
	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	"github.com/Chative-whatsapp-agent/server/internal/integrations/calendar"
	"github.com/Chative-whatsapp-agent/server/internal/integrations/email"
	"github.com/Chative-whatsapp-agent/server/internal/integrations/whatsapp"
	"github.com/Chative-whatsapp-agent/server/internal/metrics"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

type Inbox interface {
	Accept(ctx context.Context, msg *model.InboundMessage) error
}

type KnowledgeAdmin interface {
	model.KnowledgeBase
	Rebuild(ctx context.Context) (*knowledge.RebuildResult, error)
	AddDocument(ctx context.Context, doc knowledge.DocumentInput) (int, error)
	Stats() knowledge.Stats
}

type InstanceStatus interface {
	InstanceStatus(ctx context.Context) (*whatsapp.InstanceState, error)
}

type Mailer interface {
	Send(ctx context.Context, m email.Message) error
}

type CalendarAPI interface {
	CreateEvent(ctx context.Context, draft model.EventDraft) (*calendar.Event, error)
	ListEvents(ctx context.Context, from, to time.Time, max int64) ([]calendar.Event, error)
	GetEvent(ctx context.Context, id string) (*calendar.Event, error)
	UpdateEvent(ctx context.Context, id string, patch calendar.EventPatch) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, id string) error
}

type DatabaseAPI interface {
	Insert(ctx context.Context, table string, values map[string]any) (map[string]any, error)
	Select(ctx context.Context, table string, filters map[string]any, limit int) ([]map[string]any, error)
	Update(ctx context.Context, table, id string, values map[string]any) (map[string]any, error)
	Delete(ctx context.Context, table, id string) error
}

// HealthCheck reports whether one backing component is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the components behind the HTTP surface. Everything except Runner
// is optional; routes for a missing component answer 503.
type Deps struct {
	Runner    graph.Runner
	Inbox     Inbox
	Sessions  *conversations.SessionManager
	Knowledge KnowledgeAdmin
	Sender    model.MessageSender
	WhatsApp  InstanceStatus
	Email     Mailer
	Calendar  CalendarAPI
	Database  DatabaseAPI
	Checks    map[string]HealthCheck
}

type Config struct {
	Server   model.ServerConfig
	Security model.SecurityConfig
}

type Server struct {
	cfg     Config
	deps    Deps
	started time.Time
	http    *http.Server
}

func New(cfg Config, deps Deps) *Server {
	s := &Server{cfg: cfg, deps: deps, started: time.Now()}
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Router builds the chi router with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(instrument)
	r.Use(middleware.Recoverer)
	if s.cfg.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	}
	r.Use(securityHeaders)
	r.Use(limitBody(s.cfg.Server.MaxBodyBytes))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Post("/webhook/whatsapp", s.handleWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/token", s.handleIssueToken)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/send-message", s.handleSendMessage)
			r.Post("/test/message", s.handleTestMessage)
			r.Get("/stats", s.handleStats)

			r.Route("/knowledge-base", func(r chi.Router) {
				r.Post("/query", s.handleKnowledgeQuery)
				r.Post("/rebuild", s.handleKnowledgeRebuild)
				r.Post("/documents", s.handleKnowledgeDocument)
				r.Get("/stats", s.handleKnowledgeStats)
			})

			r.Route("/sessions", func(r chi.Router) {
				r.Post("/cleanup", s.handleSessionCleanup)
				r.Get("/{userID}", s.handleGetSession)
				r.Delete("/{userID}", s.handleDeleteSession)
			})

			r.Post("/email/send", s.handleSendEmail)

			r.Route("/calendar/events", func(r chi.Router) {
				r.Post("/", s.handleCreateEvent)
				r.Get("/", s.handleListEvents)
				r.Get("/{eventID}", s.handleGetEvent)
				r.Put("/{eventID}", s.handleUpdateEvent)
				r.Delete("/{eventID}", s.handleDeleteEvent)
			})

			r.Route("/database/{table}", func(r chi.Router) {
				r.Post("/", s.handleDatabaseInsert)
				r.Get("/", s.handleDatabaseSelect)
				r.Put("/{id}", s.handleDatabaseUpdate)
				r.Delete("/{id}", s.handleDatabaseDelete)
			})

			r.Get("/whatsapp/status", s.handleWhatsAppStatus)
		})
	})

	return r
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	logx.Info().Str("addr", s.http.Addr).Msg("HTTP server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
