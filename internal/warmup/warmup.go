// Package warmup runs a periodic no-op probe that keeps the process warm and
// logs the approximate queue depth.
package warmup

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is the time between probes.
const DefaultInterval = 30 * time.Second

// Probe reads a depth function on every tick.
type Probe struct {
	depth    func() int
	interval time.Duration
	logger   *slog.Logger
}

// New creates a [Probe]. A non-positive interval selects [DefaultInterval].
func New(depth func() int, interval time.Duration, logger *slog.Logger) *Probe {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{depth: depth, interval: interval, logger: logger}
}

// Run probes until ctx is cancelled. It does not probe immediately.
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe()
		}
	}
}

// Probe performs a single probe and returns the observed depth.
func (p *Probe) Probe() int {
	n := p.depth()
	p.logger.Debug("warmup probe", "queue_depth", n)
	return n
}
