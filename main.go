package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Chative-whatsapp-agent/server/internal/agent/graph"
	"github.com/Chative-whatsapp-agent/server/internal/agent/graph/conversations"
	"github.com/Chative-whatsapp-agent/server/internal/agent/knowledge"
	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	"github.com/Chative-whatsapp-agent/server/internal/agent/repo"
	"github.com/Chative-whatsapp-agent/server/internal/agent/services"
	"github.com/Chative-whatsapp-agent/server/internal/core"
	"github.com/Chative-whatsapp-agent/server/internal/inbox"
	"github.com/Chative-whatsapp-agent/server/internal/integrations/calendar"
	"github.com/Chative-whatsapp-agent/server/internal/integrations/database"
	"github.com/Chative-whatsapp-agent/server/internal/integrations/email"
	"github.com/Chative-whatsapp-agent/server/internal/integrations/transcription"
	"github.com/Chative-whatsapp-agent/server/internal/integrations/whatsapp"
	"github.com/Chative-whatsapp-agent/server/internal/metrics"
	"github.com/Chative-whatsapp-agent/server/internal/ratelimit"
	"github.com/Chative-whatsapp-agent/server/internal/server"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
	pkgpostgres "github.com/Chative-whatsapp-agent/server/pkg/postgres"
	pkgredis "github.com/Chative-whatsapp-agent/server/pkg/redis"
)

// AppConfig defines every configurable parameter of the service, sourced from
// environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string           `envconfig:"LOG_LEVEL"`

	// Infrastructure
	Redis    pkgredis.Config
	Postgres pkgpostgres.Config

	Server        model.ServerConfig
	Security      model.SecurityConfig
	Workflow      model.WorkflowConfig
	Session       model.SessionConfig
	RateLimit     model.RateLimitConfig
	Knowledge     model.KnowledgeConfig
	Prompt        model.PromptConfig
	WhatsApp      model.WhatsAppConfig
	Email         model.EmailConfig
	Calendar      model.CalendarConfig
	Transcription model.TranscriptionConfig
}

// app holds the long-lived components and what must be closed on exit.
type app struct {
	cfg      AppConfig
	rdb      *goredis.Client
	pool     *pgxpool.Pool
	sessions *conversations.SessionManager
	closers  []func()
}

func main() {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env file: %v\n", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to process environment config: %v\n", err)
		os.Exit(1)
	}
	logx.Init(logx.LoggerOpts{Environment: cfg.Environment, Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logx.Fatal().Err(err).Msg("Service stopped with error")
	}
	logx.Info().Msg("Service stopped")
}

func run(ctx context.Context, cfg AppConfig) error {
	a := &app{cfg: cfg}
	defer a.close()

	logx.Info().Str("environment", cfg.Environment.String()).Msg("Starting WhatsApp agent")

	if err := a.connect(ctx); err != nil {
		return err
	}
	if err := a.buildSessions(ctx); err != nil {
		return err
	}

	kb := a.buildKnowledge(ctx)
	wa := whatsapp.NewClient(cfg.WhatsApp)
	if wa.DryRun() {
		logx.Warn().Msg("WhatsApp dry run enabled, replies are logged instead of sent")
	}

	deps := server.Deps{
		Sessions: a.sessions,
		Sender:   wa,
		WhatsApp: wa,
		Checks:   a.healthChecks(),
	}
	var dispatchOpts []services.Option

	if mailer := a.buildEmail(); mailer != nil {
		deps.Email = mailer
		dispatchOpts = append(dispatchOpts, services.WithMailer(mailer))
	}
	if cal := a.buildCalendar(ctx); cal != nil {
		deps.Calendar = cal
		dispatchOpts = append(dispatchOpts, services.WithCalendar(cal))
	}
	if store, err := a.buildDatabase(ctx); err != nil {
		return err
	} else if store != nil {
		deps.Database = store
		dispatchOpts = append(dispatchOpts, services.WithRecorder(store))
	}

	workflowCfg := graph.Config{
		Workflow: cfg.Workflow,
		Prompt:   cfg.Prompt,
		Sessions: a.sessions,
		Services: services.NewDispatcher(cfg.Calendar, dispatchOpts...),
		Sender:   wa,
	}
	if kb != nil {
		workflowCfg.Knowledge = kb
		deps.Knowledge = kb
	}
	runner, err := graph.BuildWorkflow(ctx, workflowCfg)
	if err != nil {
		return fmt.Errorf("build workflow: %w", err)
	}
	deps.Runner = runner

	limiter, err := ratelimit.New(cfg.RateLimit, a.redisClient())
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	inboxOpts := []inbox.Option{
		inbox.WithLimiter(limiter),
		inbox.WithTransport(wa),
		inbox.WithTimeout(cfg.Workflow.Timeout),
	}
	if t := a.buildTranscriber(ctx); t != nil {
		inboxOpts = append(inboxOpts, inbox.WithTranscriber(t))
	}
	processor := inbox.NewProcessor(runner, inboxOpts...)
	deps.Inbox = processor

	go a.sessionJanitor(ctx)

	srv := server.New(server.Config{Server: cfg.Server, Security: cfg.Security}, deps)
	if len(cfg.Security.APIKeys) == 0 && cfg.Security.JWTSecret == "" {
		logx.Warn().Msg("No API_KEYS or JWT_SECRET configured, admin API is closed")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logx.Info().Msg("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := processor.Shutdown(shutdownCtx); err != nil {
		logx.Warn().Err(err).Msg("In-flight messages did not finish before shutdown")
	}
	return nil
}

// connect opens Redis and Postgres when a component is configured to use them.
func (a *app) connect(ctx context.Context) error {
	needsRedis := a.cfg.Session.Backend == "redis" || a.cfg.RateLimit.Backend == "redis"
	if needsRedis {
		rdb, err := a.cfg.Redis.New()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.rdb = rdb
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		logx.Info().Msg("Connected to Redis")
	}

	if a.cfg.Postgres.Enabled() {
		pool, err := a.cfg.Postgres.New(ctx)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		logx.Info().Msg("Connected to Postgres")
	} else if a.cfg.Session.Backend == "postgres" {
		return errors.New("SESSION_BACKEND=postgres requires DATABASE_URL")
	}
	return nil
}

// redisClient returns nil as an untyped interface when Redis is not connected.
func (a *app) redisClient() goredis.UniversalClient {
	if a.rdb == nil {
		return nil
	}
	return a.rdb
}

func (a *app) buildSessions(ctx context.Context) error {
	cfg := a.cfg.Session
	var sessionRepo model.SessionRepository

	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		mem, err := repo.NewMemorySessionRepository(cfg.MaxSessions, cfg.TTL)
		if err != nil {
			return fmt.Errorf("memory sessions: %w", err)
		}
		sessionRepo = mem
	case "redis":
		var opts []repo.RedisOption
		if cfg.Locking {
			opts = append(opts, repo.WithLocker(pkgredis.NewLocker(a.rdb), cfg.LockExpiry))
		}
		sessionRepo = repo.NewRedisSessionRepository(a.rdb, cfg.TTL, opts...)
	case "postgres":
		pg := repo.NewPostgresSessionRepository(a.pool, cfg.TTL)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("session schema: %w", err)
		}
		sessionRepo = pg
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", cfg.Backend)
	}

	a.sessions = conversations.NewSessionManager(sessionRepo, cfg)
	logx.Info().Str("backend", cfg.Backend).Int("max_turns", cfg.MaxTurns).Dur("ttl", cfg.TTL).Msg("Session store ready")
	return nil
}

// buildKnowledge returns nil when the knowledge base cannot be started; the
// workflow then answers general questions with the fallback reply.
func (a *app) buildKnowledge(ctx context.Context) *knowledge.Service {
	cfg := a.cfg.Knowledge
	if cfg.APIKey == "" {
		logx.Warn().Msg("GEMINI_API_KEY not set, knowledge base disabled")
		return nil
	}

	client, err := knowledge.NewGeminiClient(ctx, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		logx.Error().Err(err).Msg("Knowledge base disabled")
		return nil
	}
	chat, err := knowledge.NewChatModel(ctx, client, cfg)
	if err != nil {
		logx.Error().Err(err).Msg("Knowledge base disabled")
		return nil
	}
	svc, err := knowledge.NewService(ctx, cfg, a.cfg.Prompt, knowledge.NewGeminiEmbedder(client, cfg.EmbeddingModel), chat)
	if err != nil {
		logx.Error().Err(err).Msg("Knowledge base disabled")
		return nil
	}
	if err := svc.Initialize(ctx); err != nil {
		logx.Error().Err(err).Str("data_dir", cfg.DataDir).Msg("Knowledge index build failed, continuing with current index")
	}
	return svc
}

func (a *app) buildEmail() *email.Client {
	if !a.cfg.Email.Enabled() {
		logx.Info().Msg("SMTP not configured, email service disabled")
		return nil
	}
	client, err := email.New(a.cfg.Email)
	if err != nil {
		logx.Error().Err(err).Msg("Email service disabled")
		return nil
	}
	return client
}

func (a *app) buildCalendar(ctx context.Context) *calendar.Client {
	if !a.cfg.Calendar.Enabled() {
		logx.Info().Msg("Google service account not configured, calendar service disabled")
		return nil
	}
	client, err := calendar.New(ctx, a.cfg.Calendar)
	if err != nil {
		logx.Error().Err(err).Msg("Calendar service disabled")
		return nil
	}
	return client
}

func (a *app) buildDatabase(ctx context.Context) (*database.Store, error) {
	if a.pool == nil {
		logx.Info().Msg("DATABASE_URL not set, database service disabled")
		return nil, nil
	}
	store := database.NewStore(a.pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("database schema: %w", err)
	}
	logx.Info().Strs("tables", store.Tables()).Msg("Database service ready")
	return store, nil
}

func (a *app) buildTranscriber(ctx context.Context) *transcription.Transcriber {
	if !a.cfg.Transcription.Enabled {
		return nil
	}
	t, err := transcription.New(ctx, a.cfg.Transcription)
	if err != nil {
		logx.Error().Err(err).Msg("Transcription disabled, voice notes get the unreadable-audio reply")
		return nil
	}
	a.closers = append(a.closers, func() { _ = t.Close() })
	return t
}

func (a *app) healthChecks() map[string]server.HealthCheck {
	checks := map[string]server.HealthCheck{}
	if a.rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() }
	}
	if a.pool != nil {
		checks["postgres"] = a.pool.Ping
	}
	return checks
}

// sessionJanitor purges expired sessions and refreshes the active-session gauge.
func (a *app) sessionJanitor(ctx context.Context) {
	interval := a.cfg.Session.CleanupInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		removed, err := a.sessions.Purge(ctx)
		if err != nil {
			logx.Warn().Err(err).Msg("Session cleanup failed")
			continue
		}
		if n, err := a.sessions.Count(ctx); err == nil {
			metrics.ActiveSessions.Set(float64(n))
		}
		if removed > 0 {
			logx.Debug().Int("removed", removed).Msg("Expired sessions purged")
		}
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
