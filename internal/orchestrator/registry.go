package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-intel/internal/model"
)

// TaskInfo describes a running task.
type TaskInfo struct {
	Session string       `json:"session"`
	Kind    string       `json:"kind"`
	Started time.Time    `json:"started"`
	Last    *model.Event `json:"last_event,omitempty"`
}

type task struct {
	info   TaskInfo
	cancel context.CancelFunc
}

// Registry tracks active tasks by session id so an operator can stop
// them. Its lock guards only the in-memory map.
type Registry struct {
	sink Sink
	now  func() time.Time

	mu    sync.Mutex
	tasks map[string]*task
}

// NewRegistry creates a Registry. sink receives analysis_stopped events.
func NewRegistry(sink Sink) *Registry {
	return &Registry{sink: sink, now: time.Now, tasks: make(map[string]*task)}
}

// Start registers a task under session, or a fresh id when session is
// empty. The returned context is cancelled by Stop; done unregisters the
// task and must be called when it ends.
func (r *Registry) Start(ctx context.Context, session, kind string) (string, context.Context, func()) {
	if session == "" {
		session = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.tasks[session] = &task{
		info:   TaskInfo{Session: session, Kind: kind, Started: r.now()},
		cancel: cancel,
	}
	r.mu.Unlock()

	return session, ctx, func() {
		cancel()
		r.mu.Lock()
		delete(r.tasks, session)
		r.mu.Unlock()
	}
}

// Observe wraps sink so every event is also recorded as the task's last
// event.
func (r *Registry) Observe(session string, sink Sink) Sink {
	return func(ev model.Event) {
		r.mu.Lock()
		if t, ok := r.tasks[session]; ok {
			last := ev
			t.info.Last = &last
		}
		r.mu.Unlock()
		sink.emit(ev)
	}
}

// Stop cancels the task and emits analysis_stopped. It reports whether
// the session was active.
func (r *Registry) Stop(session string) bool {
	r.mu.Lock()
	t, ok := r.tasks[session]
	r.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel()
	zap.L().Info("orchestrator: task stopped", zap.String("session", session), zap.String("kind", t.info.Kind))
	r.sink.emit(model.Event{
		Kind:    model.EventAnalysisStopped,
		JobID:   session,
		Message: "Stopped by operator",
		Time:    r.now(),
	})
	return true
}

// Last returns the most recent event of a session.
func (r *Registry) Last(session string) (*model.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[session]
	if !ok || t.info.Last == nil {
		return nil, ok
	}
	ev := *t.info.Last
	return &ev, true
}

// Active lists running tasks, oldest first.
func (r *Registry) Active() []TaskInfo {
	r.mu.Lock()
	out := make([]TaskInfo, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.info)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].Session < out[j].Session
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}
