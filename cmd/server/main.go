// Command server exposes cached token holder counts over HTTP, with a
// background refresher keeping every cached mint fresh.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"solana-holder-watch/internal/api"
	"solana-holder-watch/internal/config"
	"solana-holder-watch/internal/holdercache"
	"solana-holder-watch/internal/logging"
	"solana-holder-watch/internal/solana"
)

func main() {
	cfg, err := config.Load("server", os.Args[1:])
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

	cache := holdercache.New(client,
		holdercache.WithCapacity(cfg.CacheCapacity),
		holdercache.WithRefreshInterval(cfg.RefreshInterval),
		holdercache.WithMissTimeout(cfg.MissTimeout),
		holdercache.WithRefreshTimeout(cfg.RefreshTimeout),
		holdercache.WithLogger(logger),
	)

	server := api.New(cache, logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: server.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := cache.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		logger.Info("API server listening",
			zap.Int("port", cfg.APIPort),
			zap.Strings("endpoints", []string{
				"GET /holders/{mint}", "GET /health", "GET /tokens", "GET /stats", "GET /metrics",
			}))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
