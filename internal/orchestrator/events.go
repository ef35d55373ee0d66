package orchestrator

import (
	"sync"
	"sync/atomic"

	"github.com/sells-group/prospect-intel/internal/model"
)

// Sink receives progress events. It must not block.
type Sink func(model.Event)

func (s Sink) emit(ev model.Event) {
	if s != nil {
		s(ev)
	}
}

// Bus fans events out to subscribers. Delivery is best-effort: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	buffer int

	mu     sync.RWMutex
	subs   map[int]chan model.Event
	nextID int

	dropped atomic.Int64
}

// NewBus creates a Bus whose subscribers buffer up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{buffer: buffer, subs: make(map[int]chan model.Event)}
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Sink returns Publish as a Sink.
func (b *Bus) Sink() Sink { return b.Publish }

// Subscribe registers a listener. The returned cancel func unregisters it
// and closes the channel.
func (b *Bus) Subscribe() (<-chan model.Event, func()) {
	ch := make(chan model.Event, b.buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped returns how many deliveries were skipped on full buffers.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// fanIn aggregates the progress of tasks running in parallel, stamping
// each event with the global and per-task completion.
type fanIn struct {
	sink  Sink
	total int

	mu   sync.Mutex
	done map[string]float64
}

func newFanIn(sink Sink, tasks []string) *fanIn {
	f := &fanIn{sink: sink, total: len(tasks), done: make(map[string]float64, len(tasks))}
	for _, t := range tasks {
		f.done[t] = 0
	}
	return f
}

// task returns the sink of one task.
func (f *fanIn) task(name string) Sink {
	return func(ev model.Event) {
		task := 0.0
		switch {
		case ev.Kind.Terminal():
			task = 1
		case ev.Total > 0:
			task = min(float64(ev.Current)/float64(ev.Total), 1)
		}

		// Forwarding under the lock keeps global progress monotonic.
		f.mu.Lock()
		defer f.mu.Unlock()
		if task > f.done[name] {
			f.done[name] = task
		}
		var sum float64
		for _, v := range f.done {
			sum += v
		}

		tp := model.Float(task * 100)
		ev.TaskProgress = &tp
		if f.total > 0 {
			gp := model.Float(sum / float64(f.total) * 100)
			ev.GlobalProgress = &gp
		}
		f.sink.emit(ev)
	}
}
