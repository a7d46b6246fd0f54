package pipeline

import (
	"sync"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// Broadcaster fans frame results out to subscribers. Slow subscribers miss events
// instead of blocking the pipeline.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan FrameResult]struct{}
	last *FrameResult
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan FrameResult]struct{})}
}

// Subscribe returns a channel of future results and a function that ends the
// subscription and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan FrameResult, func()) {
	ch := make(chan FrameResult, constants.EventChannelBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish sends r to every subscriber without blocking.
func (b *Broadcaster) Publish(r FrameResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = &r
	for ch := range b.subs {
		select {
		case ch <- r:
		default:
		}
	}
}

// Last returns the most recent result, if any.
func (b *Broadcaster) Last() (FrameResult, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return FrameResult{}, false
	}
	return *b.last, true
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
