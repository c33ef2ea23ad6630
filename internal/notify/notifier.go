// Package notify turns lifecycle events into operator alerts and delivers
// them to every configured channel (Telegram, Discord). Alerts can be
// filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Subscriber is a source of lifecycle events, such as event.Bus.
type Subscriber interface {
	Subscribe() (<-chan domain.Event, func())
}

// DefaultEvents are the event types alerted on when none are configured.
var DefaultEvents = []string{
	string(domain.EventTrade),
	string(domain.EventPositionAction),
	string(domain.EventError),
}

// Notifier dispatches notifications to one or more Senders. Notify only
// forwards event types in the allowed set; NotifyAll bypasses the filter.
type Notifier struct {
	senders     []Sender
	events      map[string]bool
	sendTimeout time.Duration
	logger      *slog.Logger
}

// NewNotifier creates a Notifier that delivers to the given senders. An
// empty events list allows every event type.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:     senders,
		events:      allowed,
		sendTimeout: 15 * time.Second,
		logger:      logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Run alerts on events from sub until ctx is cancelled or the source closes.
// Delivery happens on this goroutine; a slow sender only delays alerts.
func (n *Notifier) Run(ctx context.Context, sub Subscriber) error {
	events, cancel := sub.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			title, message, ok := Format(ev)
			if !ok {
				continue
			}
			sendCtx, done := context.WithTimeout(ctx, n.sendTimeout)
			if err := n.Notify(sendCtx, string(ev.Type), title, message); err != nil {
				n.logger.WarnContext(ctx, "alert delivery failed",
					slog.String("event", string(ev.Type)),
					slog.String("error", err.Error()),
				)
			}
			done()
		}
	}
}

// Notify sends a notification to all senders if event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender; one failing sender does not stop
// delivery to the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Format renders an event as an alert. It returns false for events that are
// never alerted on, such as status heartbeats.
func Format(ev domain.Event) (title, message string, ok bool) {
	account := shortAddr(ev.AccountID)
	switch p := ev.Payload.(type) {
	case domain.TradeEvent:
		rec := p.Record
		switch rec.Status {
		case domain.TradeConfirmed:
			title = fmt.Sprintf("%s confirmed", strings.ToUpper(string(p.Side)))
			message = fmt.Sprintf("%s %s\nin %.6g / out %.6g @ %.6g\ntx %s",
				account, shortAddr(rec.Instrument), rec.RequestedAmount, rec.AmountOut, rec.FillPrice, rec.TxID)
		case domain.TradeFailed:
			title = fmt.Sprintf("%s failed", strings.ToUpper(string(p.Side)))
			message = fmt.Sprintf("%s %s\n%s after %d attempt(s): %s",
				account, shortAddr(rec.Instrument), rec.ErrorKind, rec.Attempts, rec.Error)
		default:
			return "", "", false
		}
		return title, message, true

	case domain.PositionActionEvent:
		title = fmt.Sprintf("%s %s", actionLabel(p.Action.Kind), p.Symbol)
		message = fmt.Sprintf("%s sold %.0f%% at %+.1f%%\nP&L %+.4f SOL",
			account, p.Action.SellPct, p.Action.PnLPct, p.PnL)
		if p.Closed {
			message += "\nposition closed"
		}
		return title, message, true

	case domain.ErrorEvent:
		title = "Error in " + p.Component
		message = p.Message
		if p.Kind != domain.ErrorKindNone {
			message = fmt.Sprintf("[%s] %s", p.Kind, p.Message)
		}
		if account != "" {
			message = account + "\n" + message
		}
		return title, message, true

	case domain.CandidateEvent:
		title = "New candidate " + p.Token.Symbol
		message = fmt.Sprintf("%s score %.0f (%s)", shortAddr(p.Token.Mint), p.Analysis.Score, p.Analysis.Recommendation)
		return title, message, true
	}
	return "", "", false
}

func actionLabel(k domain.ActionKind) string {
	switch k {
	case domain.ActionStopLoss:
		return "Stop loss"
	case domain.ActionTrailingStop:
		return "Trailing stop"
	case domain.ActionTakeProfit:
		return "Take profit"
	case domain.ActionFlatten:
		return "Flatten"
	}
	return string(k)
}

// shortAddr abbreviates a base58 address to its first and last four
// characters.
func shortAddr(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:4] + ".." + addr[len(addr)-4:]
}
