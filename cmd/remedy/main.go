// Remedy orchestrator server — accepts tester bug reports over HTTP,
// runs autonomous fix sessions through a worker pool, and exposes the
// operator control surface.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/remedy/pkg/api"
	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/database"
	"github.com/codeready-toolchain/remedy/pkg/editor"
	"github.com/codeready-toolchain/remedy/pkg/engine"
	"github.com/codeready-toolchain/remedy/pkg/learning"
	"github.com/codeready-toolchain/remedy/pkg/llm"
	"github.com/codeready-toolchain/remedy/pkg/queue"
	"github.com/codeready-toolchain/remedy/pkg/safety"
	"github.com/codeready-toolchain/remedy/pkg/slack"
	"github.com/codeready-toolchain/remedy/pkg/workers"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolveInstanceID determines the instance identifier used for claim
// recovery. Priority: INSTANCE_ID env > HOSTNAME env > "local".
func resolveInstanceID() string {
	if id := os.Getenv("INSTANCE_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	instanceID := resolveInstanceID()

	slog.Info("Starting remedy",
		"http_port", httpPort,
		"instance_id", instanceID,
		"config_dir", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Database ready", "path", dbClient.Path())

	// Notifications are optional; a nil service no-ops everywhere.
	notifier := slack.NewService(slack.ServiceConfig{
		Token:   os.Getenv(cfg.Slack.TokenEnv),
		Channel: cfg.Slack.Channel,
	})
	if cfg.Slack.Enabled != nil && !*cfg.Slack.Enabled {
		notifier = nil
	}
	if notifier != nil {
		slog.Info("Slack notifications enabled", "channel", cfg.Slack.Channel)
	}

	rate := safety.NewRateLimiter(cfg.Safety.RateLimits)
	cost := safety.NewCostTracker(dbClient.DB(), cfg.Safety.DailyCostLimit, cfg.LLM.Pricing, notifier.Warn)
	gate := safety.NewApprovalGate(cfg.Safety)
	broker := safety.NewApprovalBroker()

	apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
	if apiKey == "" {
		slog.Error("LLM API key not set", "env", cfg.LLM.APIKeyEnv)
		os.Exit(1)
	}
	llmClient := llm.NewRecorder(llm.NewOpenAIClient(cfg.LLM, apiKey), rate, cost)

	learnStore := learning.NewStore(dbClient.DB())
	analyzer := learning.NewAnalyzer(learnStore, llmClient)

	runner := workers.NewRunner(cfg.Repo.Path, cfg.Repo.CommandTimeout)
	store := queue.NewStore(dbClient.DB())

	eng := engine.New(engine.Deps{
		Config:   cfg,
		Store:    store,
		LLM:      llmClient,
		Editor:   editor.NewFileEditor(cfg.Repo.Path),
		Git:      workers.NewGitWorker(runner, cfg.Repo, rate),
		CI:       workers.NewCIWorker(runner, cfg.CI, cfg.Repo),
		Tests:    workers.NewTestWorker(runner, cfg.Repo),
		Deploy:   workers.NewDeployWorker(runner, cfg.Deploy, rate),
		Learning: learnStore,
		Analyzer: analyzer,
		Gate:     gate,
		Broker:   broker,
		Rate:     rate,
		Notifier: notifier,
	})

	pool := queue.NewWorkerPool(instanceID, store, cfg.Dispatch, eng)
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	dispatcher := queue.NewDispatcher(store, pool)
	if notifier != nil {
		dispatcher.SetNotifier(notifier)
	}

	server := api.NewServer(cfg, dispatcher, broker, cost, rate, learnStore, dbClient.DB())
	httpServer := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("Remedy started",
		"instance_id", instanceID,
		"workers", cfg.Dispatch.MaxConcurrentFixes)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Dispatch.GracefulShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded, incomplete sessions will be orphan-recovered")
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
