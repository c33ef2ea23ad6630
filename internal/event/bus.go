// Package event fans trading lifecycle events out to subscribers over
// buffered channels.
package event

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

const defaultBuffer = 256

// Bus is an in-process publisher with any number of subscribers. Publish
// never blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan domain.Event
	nextID int
	buffer int
	closed bool
	logger *slog.Logger
}

// NewBus creates a Bus whose subscriber channels hold bufferSize events.
func NewBus(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBuffer
	}
	return &Bus{
		subs:   make(map[int]chan domain.Event),
		buffer: bufferSize,
		logger: logger.With(slog.String("component", "event_bus")),
	}
}

// Publish delivers ev to every subscriber.
func (b *Bus) Publish(ev domain.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("subscriber buffer full, dropping event",
				slog.Int("subscriber", id),
				slog.String("type", string(ev.Type)),
			)
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function removes
// it and closes the channel.
func (b *Bus) Subscribe() (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Close closes every subscriber channel. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

var _ domain.Publisher = (*Bus)(nil)
