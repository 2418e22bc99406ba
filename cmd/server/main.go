package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/YingzeHou/kinetiq-media-service/internal/analysis"
	"github.com/YingzeHou/kinetiq-media-service/internal/config"
	"github.com/YingzeHou/kinetiq-media-service/internal/metrics"
	"github.com/YingzeHou/kinetiq-media-service/internal/server"
	"github.com/YingzeHou/kinetiq-media-service/internal/session"
	"github.com/YingzeHou/kinetiq-media-service/internal/transport"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "kinetiq-media-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load .env first so ${VAR} references in the config file resolve
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load .env file: %v\n", err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("bind_address", cfg.HTTP.Address),
		slog.String("agent_url", cfg.Agent.URL),
		slog.String("agent_model", cfg.Agent.Model),
		slog.Int("uplink_rate", cfg.Audio.UplinkRate),
		slog.Int("playback_rate", cfg.Audio.PlaybackRate),
		slog.Int("max_sessions", cfg.Session.MaxSessions),
		slog.String("analysis_endpoint", cfg.Analysis.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Agent dialer used by every coaching session
	dialer := &transport.AgentDialer{
		URL:       cfg.Agent.URL,
		APIKey:    cfg.Agent.APIKey,
		Model:     cfg.Agent.Model,
		QueueSize: cfg.Agent.OutboundQueue,
		Logger:    logger,
	}

	// Initialize session manager
	sessionMgr := session.NewManager(cfg, dialer, appMetrics, logger)
	logger.Info("Session manager initialized",
		slog.Duration("idle_timeout", cfg.Session.GetIdleTimeout()),
		slog.Int("max_sessions", cfg.Session.MaxSessions),
	)

	// Initialize analysis client
	analysisClient, err := analysis.NewClient(analysis.Config{
		Endpoint:      cfg.Analysis.Endpoint,
		APIKey:        cfg.Analysis.APIKey,
		Timeout:       cfg.Analysis.GetTimeout(),
		MaxRetries:    cfg.Analysis.MaxRetries,
		MaxConcurrent: cfg.Analysis.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create analysis client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Analysis client initialized",
		slog.String("endpoint", cfg.Analysis.Endpoint),
	)

	// Initialize and start HTTP API server
	httpServer := server.NewHTTPServer(logger, cfg, sessionMgr, analysisClient, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Stop session manager (close sessions and stop background routines)
	sessionMgr.Stop()

	// Stop analysis client (wait for in-flight requests)
	if err := analysisClient.Close(); err != nil {
		logger.Error("Error stopping analysis client", slog.String("error", err.Error()))
	}

	// Get final statistics
	stats := analysisClient.GetStats()
	logger.Info("Final analysis statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Uint64("total_retries", stats.TotalRetries),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
