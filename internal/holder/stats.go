package holder

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Stats is one monitoring cycle's view of the holder count.
type Stats struct {
	Count         int
	Timestamp     int64 // unix seconds
	Change        int64
	ChangePercent float64
}

// Alert thresholds, in percent change against the previous count.
const (
	GrowthAlertThreshold = 50.0
	DropAlertThreshold   = -20.0
)

// ComputeStats derives the signed delta and percentage delta against the
// previous count. A nil previous means first observation: both deltas are
// zero. A zero previous with a positive current counts as a full increase
// (+100%), not a division by zero.
func ComputeStats(current int, previous *int) Stats {
	stats := Stats{
		Count:     current,
		Timestamp: time.Now().Unix(),
	}

	if previous == nil {
		return stats
	}

	stats.Change = int64(current) - int64(*previous)
	if *previous > 0 {
		stats.ChangePercent = float64(stats.Change) / float64(*previous) * 100.0
	} else if current > 0 {
		stats.ChangePercent = 100.0
	}
	return stats
}

// Metrics aggregates monitoring results for the process lifetime.
// It is mutated only by the monitoring loop and reset only by restart.
type Metrics struct {
	TotalPolls int
	MinHolders *int
	MaxHolders *int
	Alerts     []string

	totalHoldersSum int
	logger          *zap.Logger
}

// NewMetrics creates an empty Metrics tracker.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Metrics{logger: logger}
}

// Update records one poll result.
func (m *Metrics) Update(count int) {
	m.TotalPolls++
	m.totalHoldersSum += count

	if m.MinHolders == nil || count < *m.MinHolders {
		v := count
		m.MinHolders = &v
	}
	if m.MaxHolders == nil || count > *m.MaxHolders {
		v := count
		m.MaxHolders = &v
	}
}

// AverageHolders returns the running average holder count across polls.
func (m *Metrics) AverageHolders() float64 {
	if m.TotalPolls == 0 {
		return 0
	}
	return float64(m.totalHoldersSum) / float64(m.TotalPolls)
}

// AddAlert appends a message to the alert log. Alerts are never deduplicated
// or expired within a run.
func (m *Metrics) AddAlert(message string) {
	m.logger.Warn("ALERT", zap.String("message", message))
	m.Alerts = append(m.Alerts, message)
}

// CheckAlerts evaluates the growth and drop thresholds against the previous
// count. The two checks are independent conditionals, not an if/else, so each
// is testable on its own.
func CheckAlerts(stats Stats, previous *int, metrics *Metrics) {
	if previous == nil {
		return
	}

	if stats.ChangePercent >= GrowthAlertThreshold {
		metrics.AddAlert(fmt.Sprintf(
			"significant growth: +%d holders (+%.1f%%) | %d -> %d",
			stats.Change, stats.ChangePercent, *previous, stats.Count))
	}

	if stats.ChangePercent <= DropAlertThreshold {
		metrics.AddAlert(fmt.Sprintf(
			"significant drop: %d holders (%.1f%%) | %d -> %d",
			stats.Change, stats.ChangePercent, *previous, stats.Count))
	}
}
