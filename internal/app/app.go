// Package app assembles the application from its parts: configuration,
// database, generation backend, tool registry, and the turn orchestrator.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calico0/parley/db"
	"github.com/calico0/parley/internal/chat"
	"github.com/calico0/parley/internal/config"
	"github.com/calico0/parley/internal/gemini"
	"github.com/calico0/parley/internal/history"
	"github.com/calico0/parley/internal/observability"
	"github.com/calico0/parley/internal/persona"
	"github.com/calico0/parley/internal/tools"
)

const startupPingTimeout = 5 * time.Second

// App holds the assembled application. Serve mode populates every field;
// local (CLI) mode leaves Pool and History nil when no database is
// configured.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Pool         *pgxpool.Pool
	History      *history.Store
	Personas     *persona.Store
	Orchestrator *chat.Orchestrator

	// LocalUserID is the identity CLI turns run under.
	LocalUserID int64

	tracingShutdown func(context.Context) error
}

// historyRecorder adapts the history store to the orchestrator's recorder.
type historyRecorder struct {
	store *history.Store
}

func (r historyRecorder) Record(ctx context.Context, rec chat.Record) error {
	return r.store.Append(ctx, &history.Translation{
		UserID:         rec.UserID,
		OriginalText:   rec.OriginalText,
		TranslatedText: rec.TranslatedText,
		SpecialReport:  rec.SpecialReport,
	})
}

// nopRecorder discards records. Used when no database is configured.
type nopRecorder struct{}

func (nopRecorder) Record(context.Context, chat.Record) error { return nil }

// New assembles the application for serve mode: migrated database,
// tracing, and a fully persistent orchestrator.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.ValidateServe(); err != nil {
		return nil, err
	}

	tracingShutdown, err := observability.Setup(ctx, cfg.Otel, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	if err := db.Migrate(cfg.ConnString(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := history.New(pool, logger)

	orch, err := buildOrchestrator(ctx, cfg, logger, historyRecorder{store: store})
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &App{
		Config:          cfg,
		Logger:          logger,
		Pool:            pool,
		History:         store,
		Personas:        persona.NewStore(),
		Orchestrator:    orch,
		tracingShutdown: tracingShutdown,
	}, nil
}

// NewLocal assembles the application for one-shot CLI use. With a database
// configured, turns persist under a stable "local" user; without one, turns
// run unrecorded.
func NewLocal(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		Config:      cfg,
		Logger:      logger,
		Personas:    persona.NewStore(),
		LocalUserID: 1,
	}

	var recorder chat.Recorder = nopRecorder{}
	if cfg.HasDatabase() {
		if err := db.Migrate(cfg.ConnString(), logger); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.ConnString())
		if err != nil {
			return nil, fmt.Errorf("creating connection pool: %w", err)
		}
		store := history.New(pool, logger)
		local, err := store.EnsureUser(ctx, "local")
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("resolving local user: %w", err)
		}
		a.Pool = pool
		a.History = store
		a.LocalUserID = local.ID
		recorder = historyRecorder{store: store}
	}

	orch, err := buildOrchestrator(ctx, cfg, logger, recorder)
	if err != nil {
		if a.Pool != nil {
			a.Pool.Close()
		}
		return nil, err
	}
	a.Orchestrator = orch
	return a, nil
}

func buildOrchestrator(ctx context.Context, cfg *config.Config, logger *slog.Logger, recorder chat.Recorder) (*chat.Orchestrator, error) {
	backend, err := gemini.New(ctx, gemini.Config{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.ModelName,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating generation backend: %w", err)
	}

	registry := tools.NewRegistry(tools.Weather())

	orch, err := chat.New(chat.Config{
		Backend:       backend,
		Tools:         registry,
		Personas:      persona.NewStore(),
		Recorder:      recorder,
		Logger:        logger,
		ToolDecls:     registry.Declarations(),
		StreamTimeout: cfg.StreamTimeout,
		ToolTimeout:   cfg.ToolTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	return orch, nil
}

// Close releases the application's resources.
func (a *App) Close(ctx context.Context) {
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.tracingShutdown != nil {
		if err := a.tracingShutdown(ctx); err != nil {
			a.Logger.Warn("shutting down tracing", "error", err)
		}
	}
}
