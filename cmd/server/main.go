package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/woxQAQ/wasmllm/internal/config"
	"github.com/woxQAQ/wasmllm/internal/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	port := flag.Int("port", -1, "TCP port for the HTTP API (0 for JSON lines on stdio); overrides the config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		// Logger is not configured yet
		zap.NewExample().Fatal("Failed to load configuration", zap.Error(err))
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *port >= 0 {
		cfg.Port = *port
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("Failed to create logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("Starting wasmllm server",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := server.NewServer(ctx, cfg, logger, version)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}
	defer srv.Close(context.Background())

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Start server (stdio or TCP)
	if cfg.Port > 0 {
		err = srv.ServeTCP(ctx, cfg.Port)
	} else {
		err = srv.ServeStdio(ctx)
	}
	if err != nil {
		logger.Error("Server error", zap.Error(err))
	}

	logger.Info("Server shutdown complete")
}

// newLogger writes to stderr so stdout stays free for the stdio transport.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
