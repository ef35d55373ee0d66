package crawl

import "sync"

// StopReason records why a crawl ended.
type StopReason string

const (
	StopExhausted StopReason = "frontier_empty"
	StopPageCap   StopReason = "page_cap"
	StopTimeLimit StopReason = "time_limit"
	StopCancelled StopReason = "cancelled"
)

type item struct {
	url   string
	depth int
}

// frontier is the FIFO queue shared by the crawl workers. A URL is enqueued
// at most once per crawl.
type frontier struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []item
	seen     map[string]struct{}
	inflight int
	claimed  int
	maxPages int
	stopped  StopReason
}

func newFrontier(maxPages int) *frontier {
	f := &frontier{seen: make(map[string]struct{}), maxPages: maxPages}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// push enqueues key unless it was seen before or the crawl is over.
func (f *frontier) push(key string, depth int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped != "" {
		return false
	}
	if _, ok := f.seen[key]; ok {
		return false
	}
	f.seen[key] = struct{}{}
	f.queue = append(f.queue, item{url: key, depth: depth})
	f.cond.Signal()
	return true
}

// markSeen records key without enqueuing it.
func (f *frontier) markSeen(key string) {
	f.mu.Lock()
	f.seen[key] = struct{}{}
	f.mu.Unlock()
}

// next blocks until an item is available. It returns false once the crawl
// is over: stopped, page cap reached, or nothing queued and nothing in
// flight that could enqueue more.
func (f *frontier) next() (item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if f.stopped != "" {
			return item{}, false
		}
		if f.maxPages > 0 && f.claimed >= f.maxPages {
			f.stopLocked(StopPageCap)
			return item{}, false
		}
		if len(f.queue) > 0 {
			it := f.queue[0]
			f.queue = f.queue[1:]
			f.claimed++
			f.inflight++
			return it, true
		}
		if f.inflight == 0 {
			f.stopLocked(StopExhausted)
			return item{}, false
		}
		f.cond.Wait()
	}
}

// done releases an item returned by next.
func (f *frontier) done() {
	f.mu.Lock()
	f.inflight--
	f.cond.Broadcast()
	f.mu.Unlock()
}

func (f *frontier) stop(r StopReason) {
	f.mu.Lock()
	f.stopLocked(r)
	f.mu.Unlock()
}

func (f *frontier) stopLocked(r StopReason) {
	if f.stopped == "" {
		f.stopped = r
	}
	f.cond.Broadcast()
}

func (f *frontier) reason() StopReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}
