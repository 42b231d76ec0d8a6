// Command worldsim serves the world-order simulation: a registry of runs
// ticking on a schedule, persisted to SQLite and exposed over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/talgya/worldorder/internal/api"
	"github.com/talgya/worldorder/internal/archive"
	"github.com/talgya/worldorder/internal/config"
	"github.com/talgya/worldorder/internal/engine"
	"github.com/talgya/worldorder/internal/entropy"
	"github.com/talgya/worldorder/internal/llm"
	"github.com/talgya/worldorder/internal/persistence"
	"github.com/talgya/worldorder/internal/scenario"
	"github.com/talgya/worldorder/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worldsim exiting", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)
	slog.Info("World Order simulation starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Tracing ──────────────────────────────────────────────────────
	shutdownTracing, err := telemetry.Setup(ctx, "worldsim", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	// ── Database ─────────────────────────────────────────────────────
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath)

	if last, err := db.GetMeta(ctx, "last_boot"); err == nil && last != "" {
		slog.Info("previous boot", "at", last)
	}
	if err := db.SaveMeta(ctx, "last_boot", time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("recording boot time failed", "error", err)
	}

	// ── LLM ──────────────────────────────────────────────────────────
	llmClient := llm.NewClient(llm.Options{
		APIKey:    cfg.AnthropicKey,
		Model:     cfg.Model,
		MaxPerMin: cfg.LLMRate,
	})
	oracle := llm.NewOracle(llmClient)

	deps := engine.Deps{
		Store:               db,
		Adjudicator:         oracle,
		Rand:                entropy.New(cfg.Seed, cfg.RandomOrgKey),
		MaxYears:            cfg.MaxYears,
		Interval:            cfg.TickInterval,
		ConcurrentDecisions: cfg.ConcurrentDecisions,
	}
	if oracle.Enabled() {
		deps.Decider = oracle
		deps.Overseer = oracle
		deps.Thinker = oracle
		deps.Strategist = oracle
		slog.Info("LLM client enabled", "model", cfg.Model, "rate_per_min", cfg.LLMRate)
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set, factions follow fallback decisions and resolutions use heuristics")
	}

	// ── Sinks ────────────────────────────────────────────────────────
	hub := api.NewHub(cfg.MaxStreamClients)
	defer hub.Close()
	deps.Sinks = append(deps.Sinks, hub)

	if cfg.ArchiveDir != "" {
		arch := archive.NewWriter(cfg.ArchiveDir)
		defer func() {
			if err := arch.Close(); err != nil {
				slog.Warn("archive close failed", "error", err)
			}
		}()
		deps.Sinks = append(deps.Sinks, arch)
		slog.Info("event archive enabled", "dir", cfg.ArchiveDir)
	}

	// ── Runs ─────────────────────────────────────────────────────────
	registry := engine.NewRegistry(deps)
	if err := registry.Restore(ctx); err != nil {
		return fmt.Errorf("restore runs: %w", err)
	}
	defer registry.Shutdown()

	if cfg.Scenario != "" && len(registry.IDs()) == 0 {
		if err := bootScenario(ctx, registry, cfg.Scenario); err != nil {
			return err
		}
	}

	// ── HTTP API ─────────────────────────────────────────────────────
	if cfg.AdminKey == "" {
		slog.Warn("WORLDSIM_ADMIN_KEY not set, admin endpoints are disabled")
	}
	apiServer := &api.Server{
		Registry:   registry,
		Events:     db,
		Chronicler: oracle,
		Hub:        hub,
		Port:       cfg.Port,
		AdminKey:   cfg.AdminKey,
	}
	httpServer := apiServer.Start()
	defer apiServer.Close()

	fmt.Printf("\nWorld Order is live with %d run(s).\n", len(registry.IDs()))
	fmt.Printf("API: http://localhost:%d/api/v1/runs\n", cfg.Port)

	<-ctx.Done()
	slog.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("HTTP shutdown failed", "error", err)
	}
	// Waits for in-flight ticks so none is still writing when the DB closes.
	registry.Shutdown()

	fmt.Println("World Order stopped. Run states are saved.")
	return nil
}

// bootScenario creates and starts a run from path.
func bootScenario(ctx context.Context, registry *engine.Registry, path string) error {
	sc, err := scenario.Load(path)
	if err != nil {
		return fmt.Errorf("%w: %w", engine.ErrConfiguration, err)
	}
	countries, factions := scenario.Build(sc)
	s, err := registry.Create(ctx, sc.Name, countries, factions)
	if err != nil {
		return err
	}
	if err := registry.Start(ctx, s.RunID); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	slog.Info("scenario run started", "run", s.RunID, "name", sc.Name, "countries", len(countries))
	return nil
}
