package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Channel is the SignalBus channel that carries serialized events.
const Channel = "snipebot:events"

// Stream is the capped SignalBus stream that keeps recent trade events.
const Stream = "snipebot:trades"

// Bridge republishes bus events to a SignalBus so other processes (the API
// server, dashboards) can follow the trading core.
type Bridge struct {
	bus    *Bus
	signal domain.SignalBus
	logger *slog.Logger
}

// NewBridge creates a Bridge.
func NewBridge(bus *Bus, signal domain.SignalBus, logger *slog.Logger) *Bridge {
	return &Bridge{
		bus:    bus,
		signal: signal,
		logger: logger.With(slog.String("component", "event_bridge")),
	}
}

// Run forwards events until ctx is cancelled or the bus is closed.
func (b *Bridge) Run(ctx context.Context) error {
	events, cancel := b.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.forward(ctx, ev)
		}
	}
}

func (b *Bridge) forward(ctx context.Context, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.WarnContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := b.signal.Publish(ctx, Channel, data); err != nil {
		b.logger.WarnContext(ctx, "publish event failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
	if ev.Type == domain.EventTrade {
		if err := b.signal.StreamAppend(ctx, Stream, data); err != nil {
			b.logger.WarnContext(ctx, "append trade stream failed", slog.String("error", err.Error()))
		}
	}
}

// Relay is the reverse of Run: it republishes events received on the
// SignalBus channel into the local bus, so a process without a trading
// core can serve the event stream. Payloads arrive as generic JSON values.
func (b *Bridge) Relay(ctx context.Context) error {
	msgs, err := b.signal.Subscribe(ctx, Channel)
	if err != nil {
		return fmt.Errorf("event: relay subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				b.logger.WarnContext(ctx, "relayed event not decodable", slog.String("error", err.Error()))
				continue
			}
			b.bus.Publish(ev)
		}
	}
}
