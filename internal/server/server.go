package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/wasmllm/internal/bundle"
	"github.com/woxQAQ/wasmllm/internal/config"
	"github.com/woxQAQ/wasmllm/internal/wasm"
)

// Backend runs inference against loaded bundles. *bundle.Manager
// implements it.
type Backend interface {
	List() []*bundle.Bundle
	GetBundle(name string) (*bundle.Bundle, error)
	FindBundleForFamily(family string) (*bundle.Bundle, error)
	Infer(ctx context.Context, name string, tokens []uint32, capacity int) (bundle.Result, error)
	InferBatch(ctx context.Context, name string, requests [][]uint32, capacity int) ([]bundle.Result, error)
}

type Server struct {
	logger  *zap.Logger
	backend Backend
	version string

	// manager is nil when the server was built around another Backend.
	manager *bundle.Manager
}

// NewServer starts the Wasm runtime and loads every bundle under the
// configured paths.
func NewServer(ctx context.Context, cfg *config.ServerConfig, logger *zap.Logger, version string) (*Server, error) {
	// Initialize Wasm runtime.
	wasmConfig := &wasm.RuntimeConfig{
		MemoryPages:  cfg.Wasm.MemoryPages,
		DebugEnabled: cfg.Wasm.Debug,
		CacheDir:     cfg.Wasm.CacheDir,
		MaxInstances: cfg.Wasm.MaxInstances,
		CallTimeout:  time.Duration(cfg.Wasm.ExecutionTimeout) * time.Second,
	}

	wasmRuntime, err := wasm.NewRuntime(ctx, logger, wasmConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Wasm runtime: %w", err)
	}

	manager := bundle.NewManager(cfg, wasmRuntime, wasm.NewHostFunctions(logger), logger)
	if err := manager.LoadAll(ctx); err != nil {
		manager.Shutdown(ctx)
		return nil, fmt.Errorf("failed to load bundles: %w", err)
	}

	logger.Info("Inference server initialized",
		zap.Uint32("wasm_memory_pages", cfg.Wasm.MemoryPages),
		zap.String("wasm_cache_dir", cfg.Wasm.CacheDir),
		zap.Int("bundles", manager.Registry().Count()),
	)

	s := New(manager, logger, version)
	s.manager = manager
	return s, nil
}

// New builds a server around an existing backend.
func New(backend Backend, logger *zap.Logger, version string) *Server {
	return &Server{
		logger:  logger.With(zap.String("component", "server")),
		backend: backend,
		version: version,
	}
}

// Close gracefully shuts down the server.
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down inference server")

	if s.manager != nil {
		if err := s.manager.Shutdown(ctx); err != nil {
			s.logger.Error("Failed to shutdown bundle manager", zap.Error(err))
			return err
		}
	}

	s.logger.Info("Inference server shutdown complete")
	return nil
}

// ServeStdio answers JSON-lines requests on stdin until stdin closes or ctx
// is canceled.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("Serving on stdio")

	done := make(chan error, 1)
	go func() { done <- s.ServeLines(ctx, os.Stdin, os.Stdout) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

// ServeTCP serves the HTTP API on port until ctx is canceled.
func (s *Server) ServeTCP(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Serving HTTP", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
