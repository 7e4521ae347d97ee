package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zysoong/open-codex-gui/pkg/config"
	"github.com/zysoong/open-codex-gui/pkg/model/gemini"
	"github.com/zysoong/open-codex-gui/pkg/sandbox/docker"
	"github.com/zysoong/open-codex-gui/pkg/server"
	"github.com/zysoong/open-codex-gui/pkg/session"
	"github.com/zysoong/open-codex-gui/pkg/store/sqlite"
)

func main() {
	// Setup logger.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
	slog.SetDefault(logger)

	// Config.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.GeminiAPIKey == "" {
		slog.Error("GEMINI_API_KEY environment variable not set")
		os.Exit(1)
	}

	ctx := context.Background()

	// Initialize store.
	os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	st, err := sqlite.New(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Initialize model provider.
	provider, err := gemini.New(ctx, cfg.GeminiAPIKey)
	if err != nil {
		slog.Error("Failed to initialize Gemini provider", "error", err)
		os.Exit(1)
	}

	// Initialize sandbox pool.
	memLimit, err := cfg.MemoryLimitBytes()
	if err != nil {
		slog.Error("Invalid sandbox memory limit", "error", err)
		os.Exit(1)
	}
	pool, err := docker.New(docker.PoolConfig{
		MemoryLimitBytes: memLimit,
		CPUQuota:         cfg.SandboxCPUQuota,
		EnvironmentsDir:  cfg.EnvironmentsDir,
	})
	if err != nil {
		slog.Error("Failed to initialize sandbox pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Per-conversation ordering and task tracking.
	sequencer := session.NewSequencer(st)
	tasks := session.NewRegistry()

	// Start server.
	srv := server.New(st, st, sequencer, tasks, provider, pool,
		cfg.Model, cfg.MaxIterations, docker.EnvironmentTypes())
	if err := srv.Start(cfg.Addr); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
