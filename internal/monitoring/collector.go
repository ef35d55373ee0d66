package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-intel/internal/model"
)

// StatsSource is the subset of the store needed by the collector.
type StatsSource interface {
	Statistics(ctx context.Context, analysisID *int64) (*model.Statistics, error)
}

// Snapshot is a point-in-time view of the corpus.
type Snapshot struct {
	Stats       *model.Statistics `json:"stats"`
	Breakers    map[string]string `json:"breakers,omitempty"`
	CollectedAt time.Time         `json:"collected_at"`
}

// BreakerStates reports circuit breaker states keyed by host.
type BreakerStates interface {
	States() map[string]string
}

// Collector gathers corpus snapshots.
type Collector struct {
	source   StatsSource
	breakers BreakerStates
}

// NewCollector creates a collector. breakers may be nil.
func NewCollector(source StatsSource, breakers BreakerStates) *Collector {
	return &Collector{source: source, breakers: breakers}
}

// Collect reads statistics, optionally scoped to one analysis.
func (c *Collector) Collect(ctx context.Context, analysisID *int64) (*Snapshot, error) {
	stats, err := c.source.Statistics(ctx, analysisID)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect statistics")
	}
	snap := &Snapshot{Stats: stats, CollectedAt: time.Now().UTC()}
	if c.breakers != nil {
		snap.Breakers = c.breakers.States()
	}
	return snap, nil
}
