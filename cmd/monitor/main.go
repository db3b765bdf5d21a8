// Command monitor polls a token's holder count on a fixed interval and
// reports changes, alerts, and final metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"solana-holder-watch/internal/config"
	"solana-holder-watch/internal/logging"
	"solana-holder-watch/internal/monitor"
	"solana-holder-watch/internal/solana"
)

func main() {
	cfg, err := config.Load("monitor", os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.JSONLog, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if cfg.Mint == "" {
		logger.Fatal("--mint is required")
	}
	mint, err := solana.ParsePubkey(cfg.Mint)
	if err != nil {
		logger.Fatal("invalid mint address", zap.String("mint", cfg.Mint), zap.Error(err))
	}

	client := solana.NewClient(cfg.RPCEndpoint,
		solana.WithMaxRetries(cfg.MaxRetries),
		solana.WithAttemptTimeout(cfg.AttemptTimeout),
		solana.WithBreaker(),
		solana.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("performing RPC health check", zap.String("endpoint", cfg.RPCEndpoint))
	slot, err := client.GetSlot(ctx)
	if err != nil {
		logger.Fatal("RPC health check failed, check the endpoint URL", zap.Error(err))
	}
	logger.Info("RPC connection healthy", zap.Uint64("slot", slot))

	runner := monitor.NewRunner(monitor.Options{
		Client:   client,
		Mint:     mint,
		Interval: cfg.Interval,
		Logger:   logger,
	})

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("monitoring loop stopped", zap.Error(err))
	}

	stop()
	fmt.Print(runner.Summary())
}
