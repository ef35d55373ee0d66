package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Refresher periodically copies corpus statistics into the gauges.
type Refresher struct {
	collector *Collector
	metrics   *Metrics
	interval  time.Duration
}

// NewRefresher creates a background gauge refresher.
func NewRefresher(collector *Collector, metrics *Metrics, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{collector: collector, metrics: metrics, interval: interval}
}

// Run refreshes once immediately, then on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.refresher"))
	log.Info("starting corpus gauge refresher", zap.Duration("interval", r.interval))

	r.refresh(ctx, log)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("corpus gauge refresher stopped")
			return
		case <-ticker.C:
			r.refresh(ctx, log)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context, log *zap.Logger) {
	snap, err := r.collector.Collect(ctx, nil)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("monitoring: refresh failed", zap.Error(err))
		}
		return
	}
	r.metrics.SetCorpus(snap.Stats)
	log.Debug("monitoring: corpus gauges refreshed", zap.Int("companies", snap.Stats.Total))
}
