package services

import (
	"log/slog"
	"math"
	"time"

	"github.com/manthysbr/metaingest/internal/core/ports"
)

// Budget sets per-batch thresholds above which a batch is logged as a
// warning. Zero disables a threshold.
type Budget struct {
	Latency      time.Duration
	RSSMegabytes float64
}

// DefaultBudget matches a small container: 5s per batch, 256MB resident.
var DefaultBudget = Budget{Latency: 5 * time.Second, RSSMegabytes: 256}

// ProgressLogger emits ingestion progress events.
type ProgressLogger struct {
	logger  *slog.Logger
	sampler ports.ResourceSampler
	budget  Budget
}

// NewProgressLogger builds a progress logger. sampler may be nil, in which
// case RSS is not reported.
func NewProgressLogger(logger *slog.Logger, sampler ports.ResourceSampler, budget Budget) *ProgressLogger {
	return &ProgressLogger{
		logger:  logger,
		sampler: sampler,
		budget:  budget,
	}
}

// Batch logs one batch send and warns when it exceeded the budget.
func (p *ProgressLogger) Batch(resource string, size, status int, elapsed time.Duration) {
	attrs := []any{
		"endpoint", resource,
		"batch_size", size,
		"status", status,
		"duration", roundSeconds(elapsed),
	}

	var rss float64
	if p.sampler != nil {
		if v, err := p.sampler.RSSMegabytes(); err == nil {
			rss = v
			attrs = append(attrs, "rss_mb", math.Round(v*100)/100)
		} else {
			p.logger.Debug("rss sample failed", "error", err)
		}
	}

	overLatency := p.budget.Latency > 0 && elapsed > p.budget.Latency
	overRSS := p.budget.RSSMegabytes > 0 && rss > p.budget.RSSMegabytes
	if overLatency || overRSS {
		p.logger.Warn("batch.performance_budget_exceeded", attrs...)
		return
	}
	p.logger.Info("batch.sent", attrs...)
}

// Throughput logs the item rate for a finished run.
func (p *ProgressLogger) Throughput(items int, elapsed time.Duration) {
	rate := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rate = math.Round(float64(items)/secs*100) / 100
	}
	p.logger.Info("throughput",
		"items", items,
		"duration", roundSeconds(elapsed),
		"items_per_second", rate,
	)
}

// roundSeconds renders a duration in seconds at millisecond precision.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
