package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/woxQAQ/wasmllm/internal/bundle"
	"github.com/woxQAQ/wasmllm/internal/config"
	"github.com/woxQAQ/wasmllm/internal/wasm"
)

func newRunCmd() *cobra.Command {
	var (
		capacity int
		verbose  bool
	)
	cmd := &cobra.Command{
		Use:   "run BUNDLE_DIR TOKEN...",
		Short: "Run a token sequence through a bundle's engine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := parseTokens(args[1:])
			if err != nil {
				return err
			}
			logger := zap.NewNop()
			if verbose {
				if logger, err = zap.NewDevelopment(); err != nil {
					return err
				}
			}
			return runHandler(cmd, logger, args[0], tokens, capacity)
		},
	}
	cmd.Flags().IntVar(&capacity, "capacity", 0, "Output capacity (default: the bundle's default)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log runtime and engine messages to stderr")
	return cmd
}

func runHandler(cmd *cobra.Command, logger *zap.Logger, dir string, tokens []uint32, capacity int) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	runtime, err := wasm.NewRuntime(ctx, logger, wasm.DefaultRuntimeConfig())
	if err != nil {
		return err
	}
	cfg := &config.ServerConfig{
		Inference: config.InferConfig{PoolSize: 1, BatchConcurrency: 1},
	}
	manager := bundle.NewManager(cfg, runtime, wasm.NewHostFunctions(logger), logger)
	defer manager.Shutdown(context.WithoutCancel(ctx))

	b, err := manager.Add(ctx, dir)
	if err != nil {
		return err
	}

	res, err := manager.Infer(ctx, b.Name(), tokens, capacity)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatTokens(res.Tokens))
	if res.Err != nil {
		return res.Err
	}
	return nil
}

func parseTokens(args []string) ([]uint32, error) {
	tokens := make([]uint32, 0, len(args))
	for _, arg := range args {
		v, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid token %q: %w", arg, err)
		}
		tokens = append(tokens, uint32(v))
	}
	return tokens, nil
}

func formatTokens(tokens []uint32) string {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		parts[i] = strconv.FormatUint(uint64(tok), 10)
	}
	return strings.Join(parts, " ")
}
