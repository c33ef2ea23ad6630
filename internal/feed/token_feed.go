// Package feed streams newly created tokens from a websocket source into
// the trading pipeline.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// ErrReconnectsExhausted is returned by Run after MaxAttempts consecutive
// failed connections.
var ErrReconnectsExhausted = errors.New("feed: max reconnect attempts reached")

// TokenFeedConfig configures a TokenFeed.
type TokenFeedConfig struct {
	URL string
	// SubscribeMethod is sent as {"method": ...} after connecting.
	SubscribeMethod string
	DedupTTL        time.Duration
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	// MaxAttempts bounds consecutive failed connections. Zero retries forever.
	MaxAttempts int
	BufferSize  int
}

// createMessage is one new-token notification.
type createMessage struct {
	Signature       string  `json:"signature"`
	Mint            string  `json:"mint"`
	TraderPublicKey string  `json:"traderPublicKey"`
	TxType          string  `json:"txType"`
	Name            string  `json:"name"`
	Symbol          string  `json:"symbol"`
	URI             string  `json:"uri"`
	BondingCurveKey string  `json:"bondingCurveKey"`
	Slot            uint64  `json:"slot"`
	Timestamp       int64   `json:"timestamp"`
	MarketCapSol    float64 `json:"marketCapSol"`
}

func (m createMessage) toCandidate(now time.Time) domain.Candidate {
	created := now
	if m.Timestamp > 0 {
		created = time.UnixMilli(m.Timestamp)
	}
	return domain.Candidate{
		Token: domain.TokenMetadata{
			Mint:         m.Mint,
			Name:         m.Name,
			Symbol:       m.Symbol,
			URI:          m.URI,
			Creator:      m.TraderPublicKey,
			BondingCurve: m.BondingCurveKey,
			Signature:    m.Signature,
			Slot:         m.Slot,
			CreatedAt:    created,
		},
		ReceivedAt: now,
	}
}

// TokenFeed connects to a new-token websocket stream and emits one
// Candidate per newly seen mint. It reconnects with exponential backoff.
type TokenFeed struct {
	cfg    TokenFeedConfig
	out    chan domain.Candidate
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewTokenFeed creates a feed. Call Run to start it.
func NewTokenFeed(cfg TokenFeedConfig, logger *slog.Logger) *TokenFeed {
	if cfg.SubscribeMethod == "" {
		cfg.SubscribeMethod = "subscribeNewToken"
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &TokenFeed{
		cfg:    cfg,
		out:    make(chan domain.Candidate, cfg.BufferSize),
		logger: logger.With(slog.String("component", "token_feed")),
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Candidates returns the output channel. It is closed when Run returns.
func (f *TokenFeed) Candidates() <-chan domain.Candidate {
	return f.out
}

// Run streams until ctx is cancelled or reconnects are exhausted.
func (f *TokenFeed) Run(ctx context.Context) error {
	defer close(f.out)

	attempts := 0
	for {
		received, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if received > 0 {
			attempts = 0
		}
		attempts++
		if f.cfg.MaxAttempts > 0 && attempts > f.cfg.MaxAttempts {
			return fmt.Errorf("%w: %v", ErrReconnectsExhausted, err)
		}

		delay := f.backoff(attempts)
		f.logger.WarnContext(ctx, "token feed disconnected, reconnecting",
			slog.Any("error", err),
			slog.Int("attempt", attempts),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (f *TokenFeed) backoff(attempt int) time.Duration {
	d := f.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= f.cfg.MaxDelay {
			return f.cfg.MaxDelay
		}
	}
	return d
}

// runConnection holds one connection and returns the number of messages
// read before it ended.
func (f *TokenFeed) runConnection(ctx context.Context) (int, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(kind int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(kind, data)
	}

	sub, _ := json.Marshal(map[string]string{"method": f.cfg.SubscribeMethod})
	if err := write(websocket.TextMessage, sub); err != nil {
		return 0, fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.InfoContext(ctx, "token feed subscribed", slog.String("method", f.cfg.SubscribeMethod))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = write(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	received := 0
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("feed: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		received++
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		f.handleMessage(ctx, raw)
	}
}

func (f *TokenFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg createMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Mint == "" || (msg.TxType != "" && msg.TxType != "create") {
		return
	}
	now := f.now()
	if f.duplicate(msg.Mint, now) {
		return
	}

	select {
	case f.out <- msg.toCandidate(now):
	default:
		f.logger.WarnContext(ctx, "candidate buffer full, token dropped", slog.String("mint", msg.Mint))
	}
}

// duplicate records mint and reports whether it was seen within DedupTTL.
func (f *TokenFeed) duplicate(mint string, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.seen) > 4096 {
		for k, t := range f.seen {
			if now.Sub(t) > f.cfg.DedupTTL {
				delete(f.seen, k)
			}
		}
	}
	if t, ok := f.seen[mint]; ok && now.Sub(t) <= f.cfg.DedupTTL {
		return true
	}
	f.seen[mint] = now
	return false
}
