package broker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-intel/internal/db"
	"github.com/sells-group/prospect-intel/internal/model"
)

const jobsMigration = `
CREATE TABLE IF NOT EXISTS prospect_jobs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	payload    JSONB NOT NULL DEFAULT '{}',
	state      TEXT NOT NULL DEFAULT 'PENDING',
	meta       JSONB NOT NULL DEFAULT '{}',
	worker     TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_prospect_jobs_pending ON prospect_jobs (created_at) WHERE state = 'PENDING';
`

// Postgres is a Broker backed by the prospect_jobs table. Claims use
// FOR UPDATE SKIP LOCKED so concurrent workers never share a job.
type Postgres struct {
	pool db.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(pool db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the jobs table.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, jobsMigration)
	return eris.Wrap(err, "broker: migrate")
}

func (p *Postgres) Enqueue(ctx context.Context, kind model.JobKind, payload map[string]any) (*model.Job, error) {
	body, err := model.MarshalSafe(payloadOrEmpty(payload))
	if err != nil {
		return nil, eris.Wrap(err, "broker: marshal payload")
	}
	job := &model.Job{
		ID:      uuid.NewString(),
		Kind:    kind,
		Payload: payload,
		State:   model.JobState{State: model.JobPending},
	}
	err = p.pool.QueryRow(ctx, `
		INSERT INTO prospect_jobs (id, kind, payload, state, created_at, updated_at)
		VALUES ($1, $2, $3, 'PENDING', now(), now())
		RETURNING created_at`,
		job.ID, string(kind), string(body),
	).Scan(&job.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "broker: enqueue")
	}
	job.State.UpdatedAt = job.CreatedAt
	return job, nil
}

// EnqueueBatch inserts many jobs of one kind with COPY and returns their ids.
func (p *Postgres) EnqueueBatch(ctx context.Context, kind model.JobKind, payloads []map[string]any) ([]string, error) {
	ids := make([]string, len(payloads))
	rows := make([][]any, len(payloads))
	now := time.Now().UTC()
	for i, pl := range payloads {
		body, err := model.MarshalSafe(payloadOrEmpty(pl))
		if err != nil {
			return nil, eris.Wrap(err, "broker: marshal payload")
		}
		ids[i] = uuid.NewString()
		rows[i] = []any{ids[i], string(kind), string(body), string(model.JobPending), now, now}
	}
	_, err := db.CopyFrom(ctx, p.pool, "prospect_jobs",
		[]string{"id", "kind", "payload", "state", "created_at", "updated_at"}, rows)
	if err != nil {
		return nil, eris.Wrap(err, "broker: enqueue batch")
	}
	return ids, nil
}

func (p *Postgres) Claim(ctx context.Context, worker string) (*model.Job, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "broker: begin claim")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		job  model.Job
		kind string
		body []byte
	)
	err = tx.QueryRow(ctx, `
		SELECT id, kind, payload, created_at
		FROM prospect_jobs
		WHERE state = 'PENDING' AND worker IS NULL
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
	).Scan(&job.ID, &kind, &body, &job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "broker: claim")
	}
	job.Kind = model.JobKind(kind)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &job.Payload); err != nil {
			return nil, eris.Wrap(err, "broker: decode payload")
		}
	}

	err = tx.QueryRow(ctx, `
		UPDATE prospect_jobs SET state = 'PROGRESS', worker = $2, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		job.ID, worker,
	).Scan(&job.State.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "broker: mark claimed")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "broker: commit claim")
	}
	job.Worker = worker
	job.State.State = model.JobProgress
	return &job, nil
}

func (p *Postgres) SetState(ctx context.Context, id string, st model.JobState) error {
	meta, err := model.MarshalSafe(st.Meta)
	if err != nil {
		return eris.Wrap(err, "broker: marshal meta")
	}
	// A revoked job never goes back to PROGRESS.
	tag, err := p.pool.Exec(ctx, `
		UPDATE prospect_jobs SET state = $2, meta = $3, updated_at = now()
		WHERE id = $1 AND NOT (state = 'REVOKED' AND $2 = 'PROGRESS')`,
		id, string(st.State), string(meta))
	if err != nil {
		return eris.Wrap(err, "broker: set state")
	}
	if tag.RowsAffected() == 0 {
		_, err := p.State(ctx, id)
		return err
	}
	return nil
}

func (p *Postgres) State(ctx context.Context, id string) (*model.JobState, error) {
	var (
		st    model.JobState
		state string
		meta  []byte
	)
	err := p.pool.QueryRow(ctx,
		`SELECT state, meta, updated_at FROM prospect_jobs WHERE id = $1`, id,
	).Scan(&state, &meta, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrUnknownJob, "job %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "broker: get state")
	}
	st.State = model.JobStateName(state)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &st.Meta); err != nil {
			return nil, eris.Wrap(err, "broker: decode meta")
		}
	}
	return &st, nil
}

func (p *Postgres) Revoke(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE prospect_jobs SET state = 'REVOKED', updated_at = now()
		WHERE id = $1 AND state NOT IN ('SUCCESS', 'FAILURE', 'REVOKED')`, id)
	if err != nil {
		return eris.Wrap(err, "broker: revoke")
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.State(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func payloadOrEmpty(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}
