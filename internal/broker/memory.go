package broker

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/prospect-intel/internal/model"
)

// Memory is an in-process Broker. Jobs are lost when the process exits.
type Memory struct {
	mu    sync.Mutex
	jobs  map[string]*model.Job
	queue []string
	now   func() time.Time
}

// NewMemory returns an empty memory broker.
func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[string]*model.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Enqueue(_ context.Context, kind model.JobKind, payload map[string]any) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	job := &model.Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   maps.Clone(payload),
		State:     model.JobState{State: model.JobPending, UpdatedAt: now},
		CreatedAt: now,
	}
	m.jobs[job.ID] = job
	m.queue = append(m.queue, job.ID)
	out := *job
	return &out, nil
}

func (m *Memory) Claim(_ context.Context, worker string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.queue) > 0 {
		id := m.queue[0]
		m.queue = m.queue[1:]
		job := m.jobs[id]
		if job == nil || job.State.State != model.JobPending {
			continue
		}
		job.Worker = worker
		job.State = model.JobState{State: model.JobProgress, UpdatedAt: m.now()}
		out := *job
		return &out, nil
	}
	return nil, nil
}

func (m *Memory) SetState(_ context.Context, id string, st model.JobState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrUnknownJob
	}
	if job.State.State == model.JobRevoked && st.State == model.JobProgress {
		return nil
	}
	st.UpdatedAt = m.now()
	job.State = st
	return nil
}

func (m *Memory) State(_ context.Context, id string) (*model.JobState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrUnknownJob
	}
	st := job.State
	return &st, nil
}

func (m *Memory) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrUnknownJob
	}
	if !job.State.State.Done() {
		job.State = model.JobState{State: model.JobRevoked, Meta: job.State.Meta, UpdatedAt: m.now()}
	}
	return nil
}

func (m *Memory) Close() error { return nil }
