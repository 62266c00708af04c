package bus

import (
	"context"
	"sync"
)

type Kind string

const (
	// KindPhase is published when the DKG session changes status.
	KindPhase Kind = "phase"
	// KindExecute carries the response attributes of an accepted execute call.
	KindExecute Kind = "execute"
	// KindRandomness is published when a randomness round completes.
	KindRandomness Kind = "randomness"
)

type Event struct {
	Kind    Kind
	Round   uint64
	Attrs   map[string]string
	Body    any
	TraceID string
}

type Subscriber chan Event

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	size int
	subs map[Subscriber]struct{}
}

func New(size int) *Bus {
	if size <= 0 {
		size = 128
	}
	return &Bus{size: size, subs: make(map[Subscriber]struct{})}
}

func (b *Bus) Publish(_ context.Context, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s <- ev:
		default: // drop on backpressure
		}
	}
}

func (b *Bus) Subscribe() Subscriber {
	s := make(Subscriber, b.size)
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe detaches s and closes it.
func (b *Bus) Unsubscribe(s Subscriber) {
	b.mu.Lock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s)
	}
	b.mu.Unlock()
}
