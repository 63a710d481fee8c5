// Anamnesis - AI-led medical intake interview server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/anamnesis/internal/api"
	"github.com/ashureev/anamnesis/internal/config"
	"github.com/ashureev/anamnesis/internal/identity"
	"github.com/ashureev/anamnesis/internal/invoke"
	"github.com/ashureev/anamnesis/internal/middleware"
	"github.com/ashureev/anamnesis/internal/pipeline"
	"github.com/ashureev/anamnesis/internal/reasoner"
	"github.com/ashureev/anamnesis/internal/report"
	"github.com/ashureev/anamnesis/internal/retrieval"
	"github.com/ashureev/anamnesis/internal/session"
	"github.com/ashureev/anamnesis/internal/store"
	"github.com/ashureev/anamnesis/internal/transcript"
	"github.com/ashureev/anamnesis/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Interview sessions live only in memory, so rows left open by a previous
	// process belong to workers that no longer exist.
	interrupted, err := repo.MarkInterrupted(context.Background())
	if err != nil {
		slog.Error("Failed to close out interrupted interviews", "error", err)
		os.Exit(1)
	}
	slog.Info("Interrupted interview cleanup complete", "closed", interrupted)

	tlog, err := transcript.New(transcript.Config{
		Enabled:   cfg.TranscriptLog.Enabled,
		Dir:       cfg.TranscriptLog.Dir,
		QueueSize: cfg.TranscriptLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := tlog.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()

	// Collaborators: live clients when API keys are configured, deterministic
	// stand-ins otherwise so the server still runs end to end in development.
	var rz reasoner.Reasoner
	if cfg.ReasonerEnabled() {
		client, err := reasoner.NewClient(reasoner.Config{
			BaseURL:        cfg.Reasoner.URL,
			APIKey:         cfg.Reasoner.APIKey,
			Model:          cfg.Reasoner.Model,
			MaxTokens:      cfg.Reasoner.MaxTokens,
			RequestTimeout: cfg.Reasoner.RequestTimeout,
		}, logger)
		if err != nil {
			slog.Error("Failed to initialize reasoning client", "error", err)
			os.Exit(1)
		}
		rz = client
		slog.Info("Reasoning service configured", "model", cfg.Reasoner.Model)
	} else {
		rz = reasoner.NewScripted()
		slog.Info("No reasoner API key set, interview responses will be scripted")
	}

	var search retrieval.Searcher
	if cfg.RetrievalEnabled() {
		client, err := retrieval.NewClient(retrieval.Config{
			BaseURL:        cfg.Retrieval.URL,
			APIKey:         cfg.Retrieval.APIKey,
			MaxResults:     cfg.Retrieval.MaxResults,
			RequestTimeout: cfg.Retrieval.RequestTimeout,
		}, logger)
		if err != nil {
			slog.Error("Failed to initialize search client", "error", err)
			os.Exit(1)
		}
		search = client
		slog.Info("Medical literature retrieval configured", "max_results", cfg.Retrieval.MaxResults)
	} else {
		search = retrieval.Disabled{}
		slog.Info("No search API key set, research findings will be marked unavailable")
	}

	invoker := invoke.New(invoke.Policy{
		MaxAttempts: cfg.Retry.ReasonerMaxAttempts,
		BaseDelay:   cfg.Retry.ReasonerBaseDelay,
		MaxDelay:    cfg.Retry.ReasonerMaxDelay,
		Jitter:      cfg.Retry.ReasonerJitter,
	}, nil)

	// Base context for interview workers and background sweeps; cancelled on
	// SIGINT/SIGTERM so blocked workers wind down during shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := session.NewOrchestrator(ctx, session.Config{
		Registry:   session.NewRegistry(),
		Repo:       repo,
		Transcript: tlog,
		Invoker:    invoker,
		Resolvers:  collaborators(rz, search),
		Stages:     pipeline.Clinical(),
		Renderer:   report.NewRenderer(cfg.Report.WorkDir),
		Archive:    report.NewArchive(cfg.Report.ArchiveRoot, repo),
		Logger:     logger,
	})
	if err != nil {
		slog.Error("Failed to initialize interview orchestrator", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, orch, cfg)
	interviewHandler := api.NewInterviewHandler(baseHandler)
	defer interviewHandler.Close()
	patientHandler := api.NewPatientHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo, cfg)

	corsOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		corsOrigins = []string{cfg.FrontendURL}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(corsOrigins))

	// Health stays outside the identity group so load-balancer probes never
	// mint patient cookies.
	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		interviewHandler.RegisterRoutes(r)
		patientHandler.RegisterRoutes(r)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	// Note: answer long-polls hold the response open for the configured
	// answer-wait window, so WriteTimeout stays 0 and per-request deadlines
	// do the bounding.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start idle-session reaper.
	orch.StartReaper(ctx, cfg.AbandonTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// collaborators binds each pipeline role to its external service. The
// researcher is a two-step collaborator: the reasoner distills the stage
// prompt into a search query, then the query runs against trusted medical
// sources.
func collaborators(rz reasoner.Reasoner, search retrieval.Searcher) map[string]pipeline.CollaboratorFunc {
	complete := func(role string) pipeline.CollaboratorFunc {
		return func(ctx context.Context, prompt string) (string, error) {
			return rz.Complete(ctx, reasoner.Request{
				Role:   role,
				System: pipeline.PersonaFor(role),
				Prompt: prompt,
			})
		}
	}

	return map[string]pipeline.CollaboratorFunc{
		invoke.RoleInterviewer: complete(invoke.RoleInterviewer),
		invoke.RoleClinician:   complete(invoke.RoleClinician),
		invoke.RoleWriter:      complete(invoke.RoleWriter),
		invoke.RoleResearcher: func(ctx context.Context, prompt string) (string, error) {
			query, err := rz.Complete(ctx, reasoner.Request{
				Role:   invoke.RoleResearcher,
				System: pipeline.PersonaFor(invoke.RoleResearcher),
				Prompt: prompt,
			})
			if err != nil {
				return "", fmt.Errorf("distill search query: %w", err)
			}
			return search.Search(ctx, query)
		},
	}
}
