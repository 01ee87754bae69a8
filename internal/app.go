package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/casefile/internal/cache"
	"github.com/starford/casefile/internal/caseservice"
	"github.com/starford/casefile/internal/evidence"
	"github.com/starford/casefile/internal/generation"
	"github.com/starford/casefile/internal/narrative"
	"github.com/starford/casefile/internal/progress"
	"github.com/starford/casefile/internal/sessions"
	"github.com/starford/casefile/internal/source"
	"github.com/starford/casefile/internal/storage"
	"github.com/starford/casefile/internal/validation"
	"github.com/starford/casefile/internal/workflow"
)

// App holds the wired components shared by the HTTP server, the MCP server
// and the CLI commands.
type App struct {
	Config   *Config
	Logger   *slog.Logger
	Cache    *cache.DB
	Sessions *sessions.DB
	Source   *source.Client
	Engine   *workflow.Engine
	Service  *caseservice.Service
	Stream   *progress.Stream
}

// NewLogger returns the JSON logger every entry point uses.
func NewLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

// Open wires the vault, the cache, the session store, the generation stack
// and the workflow engine. Close releases them.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	for _, p := range []string{cfg.Cache.Path, cfg.Sessions.Path} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	cacheDB, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	sessionDB, err := sessions.Open(cfg.Sessions.Path)
	if err != nil {
		cacheDB.Close()
		return nil, fmt.Errorf("init sessions: %w", err)
	}

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Cache:    cacheDB,
		Sessions: sessionDB,
		Stream:   progress.NewStream(cfg.Events.Buffer),
	}

	narrator, err := newNarrator(ctx, cfg, app.Stream, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Source = source.NewClient(source.NewVault(store, logger), cacheDB, logger)
	app.Engine = workflow.NewEngine(sessionDB, evidence.NewCurator(app.Source), app.Source,
		narrator, app.Stream, cfg.Workflow.Engine(), logger)
	app.Service = caseservice.NewService(app.Engine, app.Source, cacheDB, app.Stream, logger)

	return app, nil
}

func newNarrator(ctx context.Context, cfg *Config, emitter progress.Emitter, logger *slog.Logger) (*narrative.Narrator, error) {
	backend, err := generation.NewBackend(ctx, cfg.Generation.Backend(), logger)
	if err != nil {
		return nil, fmt.Errorf("init generation: %w", err)
	}
	gen := generation.NewClient(backend, cfg.Generation.Tiers(), cfg.Generation.MaxTokens, emitter, logger)

	var prompts *generation.Prompts
	if cfg.Generation.Prompts != "" {
		prompts, err = generation.LoadPrompts(cfg.Generation.Prompts)
	} else {
		prompts, err = generation.DefaultPrompts()
	}
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	rules, err := validation.LoadRules(cfg.Validation.Rules)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	return narrative.New(gen, prompts, narrative.Config{
		Sections:    cfg.Narrative.Sections,
		MaxAttempts: cfg.Narrative.MaxAttempts,
		Byline:      cfg.Narrative.Byline,
		Rules:       rules,
		Emitter:     emitter,
	}, logger), nil
}

// Close stops background runs, then closes the stream and both databases.
func (a *App) Close() error {
	if a.Engine != nil {
		a.Engine.Close()
	}
	a.Stream.Close()
	return errors.Join(a.Sessions.Close(), a.Cache.Close())
}
