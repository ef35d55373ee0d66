// Package broker stores background jobs and their {state, meta} tuples.
// Workers claim pending jobs and publish progress; readers poll State.
package broker

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-intel/internal/db"
	"github.com/sells-group/prospect-intel/internal/model"
)

// ErrUnknownJob is returned for job ids the broker has never seen.
var ErrUnknownJob = eris.New("broker: unknown job")

// Broker is a job queue with a per-job state slot.
type Broker interface {
	// Enqueue stores a new PENDING job.
	Enqueue(ctx context.Context, kind model.JobKind, payload map[string]any) (*model.Job, error)
	// Claim hands the oldest unclaimed PENDING job to worker. It returns
	// nil without error when the queue is empty.
	Claim(ctx context.Context, worker string) (*model.Job, error)
	SetState(ctx context.Context, id string, st model.JobState) error
	State(ctx context.Context, id string) (*model.JobState, error)
	// Revoke marks a job REVOKED unless it already finished.
	Revoke(ctx context.Context, id string) error
	Close() error
}

// Options configures Open.
type Options struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// Open returns the in-process memory broker for an empty URL and a
// Postgres broker for postgres:// URLs.
func Open(ctx context.Context, opts Options) (Broker, error) {
	switch {
	case opts.URL == "":
		zap.L().Debug("broker: using in-process memory broker")
		return NewMemory(), nil
	case strings.HasPrefix(opts.URL, "postgres://"), strings.HasPrefix(opts.URL, "postgresql://"):
		pool, err := db.Open(ctx, opts.URL, db.PoolConfig{MaxConns: opts.MaxConns, MinConns: opts.MinConns})
		if err != nil {
			return nil, eris.Wrap(err, "broker: open postgres")
		}
		b := NewPostgres(pool)
		if err := b.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return b, nil
	default:
		return nil, eris.Errorf("broker: unsupported url scheme in %q", redact(opts.URL))
	}
}

// Wait polls State every interval until the job reaches a final state or
// ctx is done. fn, when non-nil, sees every observed state.
func Wait(ctx context.Context, b Broker, id string, interval time.Duration, fn func(model.JobState)) (*model.JobState, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := b.State(ctx, id)
		if err != nil {
			return nil, err
		}
		if fn != nil {
			fn(*st)
		}
		if st.State.Done() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

func redact(url string) string {
	if i := strings.Index(url, "@"); i >= 0 {
		if j := strings.Index(url, "://"); j >= 0 && j < i {
			return url[:j+3] + "***" + url[i:]
		}
	}
	return url
}
