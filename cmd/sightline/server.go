package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/tinytelemetry/sightline/internal/duckdb"
	"github.com/tinytelemetry/sightline/internal/explorer"
	"github.com/tinytelemetry/sightline/internal/httpserver"
	"github.com/tinytelemetry/sightline/internal/jobs"
	"github.com/tinytelemetry/sightline/internal/logging"
	"github.com/tinytelemetry/sightline/internal/model"
	"github.com/tinytelemetry/sightline/internal/opensearch"
	"github.com/tinytelemetry/sightline/internal/orchestrator"
	"github.com/tinytelemetry/sightline/internal/session"
	"github.com/tinytelemetry/sightline/internal/socketrpc"
	"golang.org/x/sync/errgroup"
)

// runServer wires the engine client, orchestrator and surfaces, then blocks
// until SIGINT or SIGTERM.
func runServer(cfg appConfig) error {
	logger, closeLogger, err := logging.New(logging.Config{
		Path:       cfg.LogPath,
		Level:      cfg.LogLevel,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer closeLogger()

	engine, err := opensearch.New(opensearch.Config{
		URL:         cfg.EngineURL,
		Token:       cfg.SessionToken,
		Timeout:     cfg.RequestTimeout,
		AnomalyPath: cfg.AnomalyPath,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize engine client: %w", err)
	}

	// Search history is optional; the explorer works without it.
	var (
		store    *duckdb.Store
		recorder model.HistoryRecorder
		reader   model.HistoryReader
		health   httpserver.HealthSource
	)
	if cfg.HistoryEnabled {
		store, err = duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
		if err != nil {
			return fmt.Errorf("failed to initialize DuckDB: %w", err)
		}
		defer store.Close()
		recorder, reader, health = store, store, store

		retentionCleaner := duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{
			RetentionDays: cfg.HistoryRetention,
			Logger:        logger,
		})
		if retentionCleaner != nil {
			defer retentionCleaner.Stop()
		}
	}

	runner := jobs.NewRunner(engine, jobs.Config{
		PollInterval:    cfg.PollInterval,
		PollMaxInterval: cfg.PollMaxInterval,
		MaxWait:         cfg.JobMaxWait,
	}, logger)
	tracker := jobs.NewTracker(runner, logger)
	defer tracker.Close()

	orch := orchestrator.New(orchestrator.Deps{
		Events:   jobs.NewRouter(engine, runner, cfg.Datasources),
		Resolver: engine,
		Detector: engine,
		History:  recorder,
	}, orchestrator.Config{
		LiveInterval:    cfg.LiveInterval,
		DefaultSpanUnit: cfg.DefaultSpanUnit,
		ResponseFormat:  cfg.ResponseFormat,
		Anomaly:         cfg.Anomaly,
	}, logger)

	svc := explorer.New(orch, session.NewRegistry(), reader, logger)
	defer svc.Close()

	// Start HTTP API server if enabled
	var apiServer *httpserver.Server
	if cfg.APIEnabled {
		apiServer = httpserver.NewServer(cfg.APIAddr, httpserver.Deps{
			Explorer: svc,
			Jobs:     tracker,
			Health:   health,
		}, logger)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	// Start socket RPC server for the CLI
	sockServer := socketrpc.NewServer(cfg.SocketPath, svc, logger)
	sockStarted := true
	if err := sockServer.Start(); err != nil {
		logger.Warnw("server: failed to start socket server", "error", err)
		sockStarted = false
	} else {
		defer sockServer.Stop()
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	printStartupBanner(cfg)
	logger.Infow("server: started", "engine", cfg.EngineURL, "api", cfg.APIEnabled, "history", cfg.HistoryEnabled)

	// A failing surface cancels gctx and brings the others down with it.
	g, gctx := errgroup.WithContext(ctx)

	if apiServer != nil {
		g.Go(func() error {
			return apiServer.Wait(gctx)
		})
	}

	if sockStarted {
		g.Go(func() error {
			<-gctx.Done()
			sockServer.Stop()
			return nil
		})
	}

	// Stop live tails and job pollers once shutdown begins.
	g.Go(func() error {
		<-gctx.Done()
		svc.Close()
		tracker.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Errorw("server: errgroup exited with error", "error", err)
	}

	signal.Stop(sigCh)
	logger.Infow("server: stopped")
	return nil
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

func printStartupBanner(cfg appConfig) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔═╗╦╔═╗╦ ╦╔╦╗╦  ╦╔╗╔╔═╗
    ╚═╗║║ ╦╠═╣ ║ ║  ║║║║║╣
    ╚═╝╩╚═╝╩ ╩ ╩ ╩═╝╩╝╚╝╚═╝`)

	ver := dim.Render("v" + version)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+ver)
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	// Engine
	lines = append(lines, bold.Render("    Engine"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Endpoint       %s", check, cyan.Render(cfg.EngineURL)))
	if cfg.SessionToken != "" {
		lines = append(lines, fmt.Sprintf("    %s  Session Token  %s", check, dim.Render("configured")))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Session Token  %s", dot, dim.Render("none")))
	}
	if len(cfg.Datasources) > 0 {
		lines = append(lines, fmt.Sprintf("    %s  Data Sources   %s", check, dim.Render(strings.Join(cfg.Datasources, ", "))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Data Sources   %s", dot, dim.Render("local only")))
	}
	lines = append(lines, "")

	// Gateway
	lines = append(lines, bold.Render("    Gateway"))
	lines = append(lines, "")

	if cfg.APIEnabled {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, fmt.Sprintf("    %s  Unix Socket    %s", check, cyan.Render(shortenPath(cfg.SocketPath))))
	lines = append(lines, "")

	// Storage
	lines = append(lines, bold.Render("    Storage"))
	lines = append(lines, "")

	if cfg.HistoryEnabled {
		lines = append(lines, fmt.Sprintf("    %s  History        %s", check, dim.Render(shortenPath(cfg.DBPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  History        %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, fmt.Sprintf("    %s  Log File       %s", check, dim.Render(shortenPath(cfg.LogPath))))
	lines = append(lines, "")

	// Runtime
	lines = append(lines, bold.Render("    Runtime"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Live Interval  %s", check, dim.Render(cfg.LiveInterval.String())))
	lines = append(lines, fmt.Sprintf("    %s  Span Unit      %s", check, dim.Render(cfg.DefaultSpanUnit)))

	lines = append(lines, "")
	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
