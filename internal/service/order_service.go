package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/metrics"
)

// ExecutionConfig tunes submission retries and confirmation.
type ExecutionConfig struct {
	MaxRetries         int
	RetryBase          time.Duration
	UseBundle          bool
	ConfirmTimeout     time.Duration
	BundlePollInterval time.Duration
	// BuyRateLimit caps buy submissions per account per RateWindow. Zero
	// disables the check. Exits are never rate limited.
	BuyRateLimit int
	RateWindow   time.Duration
}

// BuyRequest spends Capital on Instrument.
type BuyRequest struct {
	Instrument  string
	Capital     float64
	SlippageBps int
}

// SellRequest sells Quantity of Instrument.
type SellRequest struct {
	Instrument  string
	PositionID  string
	Quantity    float64
	SlippageBps int
}

// ExecutionChannel submits orders to a venue with bounded retries. Every
// call leaves a trade record that is pending before the first submission
// and terminal before the call returns.
type ExecutionChannel struct {
	venue   domain.Venue
	trades  domain.TradeStore
	limiter domain.RateLimiter
	events  domain.Publisher
	cfg     ExecutionConfig
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	logger  *slog.Logger
}

// NewExecutionChannel creates an ExecutionChannel. limiter and events may be
// nil.
func NewExecutionChannel(
	venue domain.Venue,
	trades domain.TradeStore,
	limiter domain.RateLimiter,
	events domain.Publisher,
	cfg ExecutionConfig,
	logger *slog.Logger,
) *ExecutionChannel {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}
	if cfg.BundlePollInterval <= 0 {
		cfg.BundlePollInterval = time.Second
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	return &ExecutionChannel{
		venue:   venue,
		trades:  trades,
		limiter: limiter,
		events:  events,
		cfg:     cfg,
		sleep:   sleepCtx,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "execution")),
	}
}

// Buy spends req.Capital on req.Instrument.
func (c *ExecutionChannel) Buy(ctx context.Context, signer domain.Signer, req BuyRequest) domain.TradeResult {
	rec := c.newRecord(domain.SideBuy, signer.PublicIdentity(), req.Instrument, req.Capital, req.SlippageBps)
	intent := domain.OrderIntent{
		Side:        domain.SideBuy,
		Owner:       rec.AccountID,
		Instrument:  req.Instrument,
		Amount:      req.Capital,
		SlippageBps: req.SlippageBps,
	}
	return c.execute(ctx, signer, rec, intent)
}

// Sell sells req.Quantity of req.Instrument.
func (c *ExecutionChannel) Sell(ctx context.Context, signer domain.Signer, req SellRequest) domain.TradeResult {
	rec := c.newRecord(domain.SideSell, signer.PublicIdentity(), req.Instrument, req.Quantity, req.SlippageBps)
	rec.PositionID = req.PositionID
	intent := domain.OrderIntent{
		Side:        domain.SideSell,
		Owner:       rec.AccountID,
		Instrument:  req.Instrument,
		Amount:      req.Quantity,
		SlippageBps: req.SlippageBps,
	}
	return c.execute(ctx, signer, rec, intent)
}

func (c *ExecutionChannel) newRecord(side domain.TradeSide, owner, instrument string, amount float64, slippage int) domain.TradeRecord {
	return domain.TradeRecord{
		ID:              uuid.NewString(),
		Side:            side,
		AccountID:       owner,
		Instrument:      instrument,
		RequestedAmount: amount,
		SlippageBps:     slippage,
		Status:          domain.TradePending,
		CreatedAt:       c.now().UTC(),
	}
}

func (c *ExecutionChannel) execute(ctx context.Context, signer domain.Signer, rec domain.TradeRecord, intent domain.OrderIntent) domain.TradeResult {
	started := c.now()
	logger := c.logger.With(
		slog.String("trade_id", rec.ID),
		slog.String("side", string(rec.Side)),
		slog.String("instrument", rec.Instrument),
	)

	if err := c.trades.Create(ctx, rec); err != nil {
		err = fmt.Errorf("execution: create trade record: %w: %w", domain.ErrPersistence, err)
		logger.ErrorContext(ctx, "pending record not written, order not submitted", slog.String("error", err.Error()))
		c.publishError(rec, domain.ErrorKindPersistence, err)
		return domain.TradeResult{TradeID: rec.ID, ErrorKind: domain.ErrorKindPersistence, Err: err}
	}

	if intent.Amount <= 0 {
		err := fmt.Errorf("execution: %w: amount %v", domain.ErrInvalidOrder, intent.Amount)
		return c.finish(ctx, logger, rec, nil, "", domain.ErrorKindNone, err, started)
	}

	if rec.Side == domain.SideBuy {
		if err := c.checkRate(ctx, rec.AccountID); err != nil {
			return c.finish(ctx, logger, rec, nil, "", domain.ErrorKindRateLimited, err, started)
		}
	}

	var (
		prepared *domain.PreparedOrder
		txID     string
		lastErr  error
		kind     domain.ErrorKind
	)
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		rec.Attempts = attempt
		if err := c.trades.RecordAttempt(ctx, rec.ID, attempt); err != nil {
			logger.WarnContext(ctx, "record attempt failed", slog.String("error", err.Error()))
		}

		prepared, txID, lastErr = c.attempt(ctx, signer, intent)
		if lastErr == nil {
			kind = domain.ErrorKindNone
			break
		}

		kind = ClassifyError(lastErr)
		if ctx.Err() != nil {
			kind = domain.ErrorKindCancelled
		}
		logger.WarnContext(ctx, "submission attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.cfg.MaxRetries),
			slog.String("kind", string(kind)),
			slog.String("error", lastErr.Error()),
		)
		if kind.Fatal() {
			break
		}
		if attempt == c.cfg.MaxRetries {
			kind = domain.ErrorKindExhausted
			break
		}
		if err := c.sleep(ctx, c.cfg.RetryBase*time.Duration(attempt)); err != nil {
			kind = domain.ErrorKindCancelled
			lastErr = fmt.Errorf("%w (after: %w)", err, lastErr)
			break
		}
	}

	return c.finish(ctx, logger, rec, prepared, txID, kind, lastErr, started)
}

// attempt builds, signs and submits one submission. Prepare runs every
// attempt so the blockhash and quote are refreshed.
func (c *ExecutionChannel) attempt(ctx context.Context, signer domain.Signer, intent domain.OrderIntent) (*domain.PreparedOrder, string, error) {
	prepared, err := c.venue.Prepare(ctx, intent)
	if err != nil {
		return nil, "", fmt.Errorf("prepare: %w", err)
	}

	signed, err := signer.Sign(ctx, prepared.Payload)
	if err != nil {
		return nil, "", fmt.Errorf("sign: %w: %w", domain.ErrSigningFailed, err)
	}

	if !c.cfg.UseBundle {
		txID, err := c.venue.Broadcast(ctx, signed)
		if err != nil {
			return nil, "", fmt.Errorf("broadcast: %w", err)
		}
		return prepared, txID, nil
	}

	bundleID, err := c.venue.SubmitBundle(ctx, signed)
	if err != nil {
		return nil, "", fmt.Errorf("submit bundle: %w", err)
	}
	txID, err := c.awaitBundle(ctx, bundleID)
	if err != nil {
		return nil, "", err
	}
	return prepared, txID, nil
}

// awaitBundle polls the bundle until it lands, fails, or ConfirmTimeout
// elapses. The timeout is reported as domain.ErrConfirmationTimeout.
func (c *ExecutionChannel) awaitBundle(ctx context.Context, bundleID string) (string, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	for {
		st, err := c.venue.BundleStatus(pollCtx, bundleID)
		switch {
		case err != nil:
			c.logger.DebugContext(ctx, "bundle status poll failed",
				slog.String("bundle_id", bundleID),
				slog.String("error", err.Error()),
			)
		case st.State == domain.BundleLanded:
			return st.TxID, nil
		case st.State == domain.BundleFailed:
			return "", fmt.Errorf("bundle %s failed: %s", bundleID, st.Err)
		}

		if err := c.sleep(pollCtx, c.cfg.BundlePollInterval); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("bundle %s: %w after %s", bundleID, domain.ErrConfirmationTimeout, c.cfg.ConfirmTimeout)
		}
	}
}

func (c *ExecutionChannel) checkRate(ctx context.Context, account string) error {
	if c.limiter == nil || c.cfg.BuyRateLimit <= 0 {
		return nil
	}
	allowed, err := c.limiter.Allow(ctx, "buys:"+account, c.cfg.BuyRateLimit, c.cfg.RateWindow)
	if err != nil {
		return fmt.Errorf("execution: rate limiter: %w", err)
	}
	if !allowed {
		return fmt.Errorf("execution: %w: %d buys per %s", domain.ErrRateLimited, c.cfg.BuyRateLimit, c.cfg.RateWindow)
	}
	return nil
}

// finish writes the terminal record, emits the trade event and builds the
// caller's result. The terminal write uses a context detached from
// cancellation so shutdown cannot leave a stale pending row.
func (c *ExecutionChannel) finish(
	ctx context.Context,
	logger *slog.Logger,
	rec domain.TradeRecord,
	prepared *domain.PreparedOrder,
	txID string,
	kind domain.ErrorKind,
	cause error,
	started time.Time,
) domain.TradeResult {
	now := c.now().UTC()
	res := domain.TradeResult{TradeID: rec.ID, Attempts: rec.Attempts}

	if cause == nil && prepared != nil {
		rec.Status = domain.TradeConfirmed
		rec.TxID = txID
		rec.FillPrice = prepared.Price
		rec.ConfirmedAt = &now
		if rec.Side == domain.SideBuy {
			rec.FilledQuantity = prepared.OutAmount
			rec.AmountOut = prepared.OutAmount
		} else {
			rec.FilledQuantity = prepared.InAmount
			rec.AmountOut = prepared.OutAmount
		}
		res.Success = true
		res.TxID = txID
		res.FillPrice = rec.FillPrice
		res.FilledQuantity = rec.FilledQuantity
		res.AmountIn = prepared.InAmount
		res.AmountOut = prepared.OutAmount
	} else {
		rec.Status = domain.TradeFailed
		rec.ErrorKind = kind
		if cause != nil {
			rec.Error = cause.Error()
		}
		res.ErrorKind = kind
		res.Err = cause
	}

	if err := c.trades.Finalize(context.WithoutCancel(ctx), rec); err != nil {
		logger.ErrorContext(ctx, "terminal trade record not written",
			slog.String("status", string(rec.Status)),
			slog.String("error", err.Error()),
		)
		c.publishError(rec, domain.ErrorKindPersistence, err)
	}

	metrics.RecordTrade(string(rec.Side), string(rec.Status), string(rec.ErrorKind), rec.Attempts, c.now().Sub(started))

	if res.Success {
		logger.InfoContext(ctx, "trade confirmed",
			slog.String("tx_id", rec.TxID),
			slog.Int("attempts", rec.Attempts),
			slog.Float64("fill_price", rec.FillPrice),
			slog.Float64("quantity", rec.FilledQuantity),
			slog.Float64("amount_out", rec.AmountOut),
		)
	} else {
		logger.WarnContext(ctx, "trade failed",
			slog.Int("attempts", rec.Attempts),
			slog.String("kind", string(rec.ErrorKind)),
			slog.String("error", rec.Error),
		)
		if kind.Fatal() || kind == domain.ErrorKindExhausted {
			c.publishError(rec, kind, cause)
		}
	}

	if c.events != nil {
		c.events.Publish(domain.Event{
			Type:      domain.EventTrade,
			AccountID: rec.AccountID,
			Time:      now,
			Payload:   domain.TradeEvent{Side: rec.Side, Record: rec},
		})
	}
	return res
}

func (c *ExecutionChannel) publishError(rec domain.TradeRecord, kind domain.ErrorKind, err error) {
	if c.events == nil || err == nil {
		return
	}
	c.events.Publish(domain.Event{
		Type:      domain.EventError,
		AccountID: rec.AccountID,
		Payload: domain.ErrorEvent{
			Component: "execution",
			Kind:      kind,
			Message:   fmt.Sprintf("%s %s: %v", rec.Side, rec.Instrument, err),
		},
	})
}

// ClassifyError maps a submission error to its failure class. Sentinel
// errors are matched first; substrate messages are matched as text.
func ClassifyError(err error) domain.ErrorKind {
	switch {
	case err == nil:
		return domain.ErrorKindNone
	case errors.Is(err, context.Canceled):
		return domain.ErrorKindCancelled
	case errors.Is(err, domain.ErrInsufficientFunds):
		return domain.ErrorKindInsufficientFunds
	case errors.Is(err, domain.ErrDuplicateSubmission):
		return domain.ErrorKindDuplicate
	case errors.Is(err, domain.ErrStaleParameters):
		return domain.ErrorKindStale
	case errors.Is(err, domain.ErrConfirmationTimeout):
		return domain.ErrorKindTimeout
	case errors.Is(err, domain.ErrRateLimited):
		return domain.ErrorKindRateLimited
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient"):
		return domain.ErrorKindInsufficientFunds
	case strings.Contains(msg, "already processed"), strings.Contains(msg, "already been processed"):
		return domain.ErrorKindDuplicate
	case strings.Contains(msg, "blockhash not found"), strings.Contains(msg, "block height exceeded"):
		return domain.ErrorKindStale
	}
	return domain.ErrorKindNone
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
