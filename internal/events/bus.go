package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pulp/internal/logging"
)

const (
	defaultCapacity         = 512
	defaultSubscriberBuffer = 64
	defaultFetchLimit       = 200
)

// Bus fans progress events out to live subscribers and retains a bounded
// replay window for cursor-based polling. Publishing never blocks: a
// subscriber that cannot keep up has events dropped rather than stalling
// the pipeline.
type Bus struct {
	logger *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	capacity  int
	subBuffer int
	buffer    []Event
	first     uint64
	next      uint64
	subs      map[*Subscription]struct{}
	dropped   uint64
	closed    bool
}

// Subscription is one live consumer attached to a Bus. Events arrive on C
// in publish order. When the subscription falls behind, the bus drops
// events for it and counts them.
type Subscription struct {
	bus *Bus
	ch  chan Event

	// guarded by bus.mu
	dropped uint64
	closed  bool
}

// NewBus builds a bus with the given replay capacity and default
// per-subscriber channel buffer. Non-positive values select the package
// defaults.
func NewBus(capacity, subscriberBuffer int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if subscriberBuffer <= 0 {
		subscriberBuffer = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	bus := &Bus{
		logger:    logger,
		capacity:  capacity,
		subBuffer: subscriberBuffer,
		first:     1,
		next:      1,
		subs:      make(map[*Subscription]struct{}),
	}
	bus.cond = sync.NewCond(&bus.mu)
	return bus
}

// Publish stamps evt with the next sequence number and the current time,
// stores it in the replay window, and offers it to every subscriber
// without blocking. The stamped event is returned. Publishing on a closed
// bus is a no-op.
func (b *Bus) Publish(evt Event) Event {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return evt
	}
	evt.Sequence = b.next
	b.next++
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	b.buffer = append(b.buffer, evt)
	if overflow := len(b.buffer) - b.capacity; overflow > 0 {
		b.buffer = append(b.buffer[:0:0], b.buffer[overflow:]...)
		b.first += uint64(overflow)
	}
	slow := 0
	for sub := range b.subs {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			sub.dropped++
			b.dropped++
			slow++
		}
	}
	b.cond.Broadcast()
	b.mu.Unlock()
	if slow > 0 {
		b.logger.Debug("event dropped for slow subscribers",
			logging.String("event_type", string(evt.Type)),
			logging.Uint64("seq", evt.Sequence),
			logging.Int("subscribers", slow))
	}
	return evt
}

// Subscribe attaches a new consumer. A non-positive buffer selects the
// bus default. Subscribing to a closed bus returns a subscription whose
// channel is already closed.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = b.subBuffer
	}
	sub := &Subscription{bus: b, ch: make(chan Event, buffer)}
	b.mu.Lock()
	if b.closed {
		sub.closed = true
		close(sub.ch)
	} else {
		b.subs[sub] = struct{}{}
	}
	b.mu.Unlock()
	return sub
}

// C returns the receive channel for the subscription. It is closed when
// the subscription or the bus shuts down.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped reports how many events the bus discarded because this
// subscription's channel was full.
func (s *Subscription) Dropped() uint64 {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription and closes its channel. It is safe to
// call more than once.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.bus.subs, s)
	close(s.ch)
}

// Fetch returns up to limit events with sequence greater than since,
// together with the cursor to pass on the next call. When no events are
// available and wait is positive, Fetch blocks until an event arrives,
// the wait elapses, the bus closes, or ctx is done. A cursor older than
// the replay window is silently advanced to the window start.
func (b *Bus) Fetch(ctx context.Context, since uint64, limit int, wait time.Duration) ([]Event, uint64, error) {
	if limit <= 0 {
		limit = defaultFetchLimit
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if since+1 < b.first {
		since = b.first - 1
	}
	evts := b.collectLocked(since, limit)
	if len(evts) > 0 || wait <= 0 || b.closed {
		return evts, advanceCursor(since, evts), nil
	}

	timedOut := false
	timer := time.AfterFunc(wait, func() {
		b.mu.Lock()
		timedOut = true
		b.mu.Unlock()
		b.cond.Broadcast()
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { b.cond.Broadcast() })
	defer stop()

	for {
		evts = b.collectLocked(since, limit)
		if len(evts) > 0 {
			return evts, advanceCursor(since, evts), nil
		}
		if err := ctx.Err(); err != nil {
			return nil, since, err
		}
		if timedOut || b.closed {
			return nil, since, nil
		}
		b.cond.Wait()
	}
}

// Tail returns the most recent events, oldest first, up to limit.
func (b *Bus) Tail(limit int) []Event {
	if limit <= 0 {
		limit = defaultFetchLimit
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	start := len(b.buffer) - limit
	if start < 0 {
		start = 0
	}
	out := make([]Event, len(b.buffer)-start)
	copy(out, b.buffer[start:])
	return out
}

// FirstSequence reports the oldest sequence still held in the replay
// window, or zero when nothing has been published.
func (b *Bus) FirstSequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buffer) == 0 {
		return 0
	}
	return b.first
}

// LastSequence reports the newest published sequence, or zero when
// nothing has been published.
func (b *Bus) LastSequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next - 1
}

// Dropped reports the total number of events discarded across all
// subscribers since the bus was created.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Subscribers reports the number of attached subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close shuts the bus down, closes every subscription channel, and wakes
// any blocked Fetch calls. Further publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.closed = true
		close(sub.ch)
	}
	b.subs = make(map[*Subscription]struct{})
	b.cond.Broadcast()
}

func (b *Bus) collectLocked(since uint64, limit int) []Event {
	if since+1 < b.first {
		since = b.first - 1
	}
	offset := int(since + 1 - b.first)
	if offset >= len(b.buffer) {
		return nil
	}
	window := b.buffer[offset:]
	if len(window) > limit {
		window = window[:limit]
	}
	out := make([]Event, len(window))
	copy(out, window)
	return out
}

func advanceCursor(since uint64, evts []Event) uint64 {
	if len(evts) == 0 {
		return since
	}
	return evts[len(evts)-1].Sequence
}
