package comms

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuffer is the subscriber channel size used when Subscribe is
// given a non-positive size.
const DefaultBuffer = 64

// InMemoryBus is a thread-safe in-process event bus.
type InMemoryBus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	history []Event
	maxHist int

	seq     atomic.Int64
	dropped atomic.Int64
	now     func() time.Time
}

// NewInMemoryBus creates an InMemoryBus with a 1000-event history cap.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subs:    make(map[int]chan Event),
		maxHist: 1000,
		now:     time.Now,
	}
}

// Publish records ev and offers it to each subscriber. A subscriber whose
// buffer is full misses the event; the miss is counted in Dropped.
// Numbering, history and delivery share one critical section, so every
// subscriber sees events in history order.
func (b *InMemoryBus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ev.ID == "" {
		ev.ID = "evt-" + strconv.FormatInt(b.seq.Add(1), 10)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}
	b.history = append(b.history, ev)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a buffered observer.
func (b *InMemoryBus) Subscribe(size int) (<-chan Event, func()) {
	if size <= 0 {
		size = DefaultBuffer
	}
	ch := make(chan Event, size)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// History returns up to limit recent events of runID in chronological
// order. An empty runID matches every run; limit <= 0 means no limit.
func (b *InMemoryBus) History(runID string, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for i := len(b.history) - 1; i >= 0; i-- {
		ev := b.history[i]
		if runID == "" || ev.RunID == runID {
			result = append(result, ev)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	for l, r := 0, len(result)-1; l < r; l, r = l+1, r-1 {
		result[l], result[r] = result[r], result[l]
	}
	return result
}

// Dropped reports how many deliveries were skipped because a subscriber
// was full.
func (b *InMemoryBus) Dropped() int64 { return b.dropped.Load() }
