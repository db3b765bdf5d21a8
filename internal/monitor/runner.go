// Package monitor drives the single-token polling loop.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"solana-holder-watch/internal/holder"
	"solana-holder-watch/internal/observability"
	"solana-holder-watch/internal/solana"
)

// Fetcher fetches all token accounts for a mint.
type Fetcher interface {
	GetTokenAccountsByMint(ctx context.Context, mint solana.Pubkey) ([]solana.Account, error)
}

// Options configures a Runner.
type Options struct {
	Client   Fetcher
	Mint     solana.Pubkey
	Interval time.Duration
	Logger   *zap.Logger
}

// Runner polls the holder count for one mint on a fixed interval, computes
// cycle stats, and accumulates process-lifetime metrics. Fetch errors are
// logged and the loop continues with the next interval.
type Runner struct {
	client   Fetcher
	mint     solana.Pubkey
	interval time.Duration
	logger   *zap.Logger

	metrics  *holder.Metrics
	previous *int
}

// NewRunner creates a monitoring runner.
func NewRunner(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		client:   opts.Client,
		mint:     opts.Mint,
		interval: opts.Interval,
		logger:   logger,
		metrics:  holder.NewMetrics(logger),
	}
}

// Run polls until ctx is cancelled. The first cycle runs immediately.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("starting monitoring loop",
		zap.String("mint", r.mint.String()),
		zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

// cycle runs one fetch → extract → stats → alerts pass.
func (r *Runner) cycle(ctx context.Context) {
	start := time.Now()

	accounts, err := r.client.GetTokenAccountsByMint(ctx, r.mint)
	if err != nil {
		observability.RecordPollCycle("error")
		r.logger.Error("monitoring cycle failed",
			zap.String("mint", r.mint.String()),
			zap.Error(err))
		return
	}

	holders, err := holder.ExtractHolders(accounts, r.logger)
	if err != nil {
		observability.RecordPollCycle("error")
		r.logger.Error("holder extraction failed", zap.Error(err))
		return
	}

	count := len(holders)
	stats := holder.ComputeStats(count, r.previous)
	r.metrics.Update(count)
	holder.CheckAlerts(stats, r.previous, r.metrics)

	if r.previous != nil {
		if stats.ChangePercent >= holder.GrowthAlertThreshold {
			observability.RecordAlert("growth")
		}
		if stats.ChangePercent <= holder.DropAlertThreshold {
			observability.RecordAlert("drop")
		}
	}

	r.previous = &count
	observability.RecordPollCycle("success")
	observability.UpdateHolderCount(count)

	elapsed := time.Since(start)
	r.logger.Info("poll cycle",
		zap.String("mint", r.mint.String()),
		zap.Int("holders", stats.Count),
		zap.Int64("change", stats.Change),
		zap.Float64("change_percent", stats.ChangePercent),
		zap.Duration("elapsed", elapsed))
	if elapsed > 10*time.Second {
		r.logger.Warn("slow monitoring cycle",
			zap.Duration("elapsed", elapsed),
			zap.Int("accounts", len(accounts)))
	}
}

// Metrics exposes the accumulated process-lifetime metrics.
func (r *Runner) Metrics() *holder.Metrics {
	return r.metrics
}

// Summary renders the final metrics report printed on shutdown.
func (r *Runner) Summary() string {
	m := r.metrics
	var b strings.Builder
	sep := strings.Repeat("=", 80)

	fmt.Fprintf(&b, "%s\n", sep)
	fmt.Fprintf(&b, "FINAL METRICS for %s\n", r.mint)
	fmt.Fprintf(&b, "%s\n", sep)
	fmt.Fprintf(&b, "Total polls: %d\n", m.TotalPolls)
	if m.MinHolders != nil {
		fmt.Fprintf(&b, "Min holders: %d\n", *m.MinHolders)
	}
	if m.MaxHolders != nil {
		fmt.Fprintf(&b, "Max holders: %d\n", *m.MaxHolders)
	}
	fmt.Fprintf(&b, "Average holders: %.2f\n", m.AverageHolders())
	if len(m.Alerts) > 0 {
		fmt.Fprintf(&b, "\nALERTS TRIGGERED:\n")
		for _, alert := range m.Alerts {
			fmt.Fprintf(&b, "  - %s\n", alert)
		}
	}
	fmt.Fprintf(&b, "%s\n", sep)
	return b.String()
}
