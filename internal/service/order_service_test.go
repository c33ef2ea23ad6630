package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

type countingLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (l *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allowed, l.err
}

func newTestChannel(venue *fakeVenue, trades *memTradeStore, limiter domain.RateLimiter, events domain.Publisher, cfg ExecutionConfig) *ExecutionChannel {
	c := NewExecutionChannel(venue, trades, limiter, events, cfg, testLogger())
	c.sleep = noSleep
	return c
}

func TestBuyConfirmed(t *testing.T) {
	venue := &fakeVenue{price: 0.001}
	trades := newMemTradeStore()
	events := &recPublisher{}
	c := newTestChannel(venue, trades, nil, events, ExecutionConfig{MaxRetries: 3})

	res := c.Buy(context.Background(), fakeSigner{id: "acct"}, BuyRequest{Instrument: "MINT", Capital: 0.05, SlippageBps: 1000})
	if !res.Success {
		t.Fatalf("buy failed: %v", res.Err)
	}
	if !almostEqual(res.FilledQuantity, 50) || res.FillPrice != 0.001 || res.Attempts != 1 {
		t.Errorf("result = %+v", res)
	}

	recs := trades.all()
	if len(recs) != 1 {
		t.Fatalf("records = %d", len(recs))
	}
	rec := recs[0]
	if rec.Status != domain.TradeConfirmed || rec.TxID == "" || rec.ConfirmedAt == nil {
		t.Errorf("record = %+v", rec)
	}
	if got := events.ofType(domain.EventTrade); len(got) != 1 {
		t.Errorf("trade events = %d", len(got))
	}
}

func TestRetryPreparesFreshEachAttempt(t *testing.T) {
	venue := &fakeVenue{price: 1, broadcastErrs: []error{errBoom, errBoom}}
	trades := newMemTradeStore()
	c := newTestChannel(venue, trades, nil, nil, ExecutionConfig{MaxRetries: 3, RetryBase: time.Millisecond})

	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}

	res := c.Sell(context.Background(), fakeSigner{id: "acct"}, SellRequest{Instrument: "MINT", PositionID: "p1", Quantity: 10})
	if !res.Success || res.Attempts != 3 {
		t.Fatalf("result = %+v", res)
	}
	if venue.prepares != 3 {
		t.Errorf("prepares = %d, want one per attempt", venue.prepares)
	}
	if len(slept) != 2 || slept[0] != time.Millisecond || slept[1] != 2*time.Millisecond {
		t.Errorf("backoff = %v", slept)
	}
	rec := trades.all()[0]
	if rec.Attempts != 3 || rec.PositionID != "p1" {
		t.Errorf("record = %+v", rec)
	}
	if !almostEqual(res.AmountOut, 10) {
		t.Errorf("amount out = %v", res.AmountOut)
	}
}

func TestRetriesExhausted(t *testing.T) {
	venue := &fakeVenue{price: 1, broadcastErrs: []error{errBoom, errBoom, errBoom}}
	trades := newMemTradeStore()
	events := &recPublisher{}
	c := newTestChannel(venue, trades, nil, events, ExecutionConfig{MaxRetries: 3})

	res := c.Buy(context.Background(), fakeSigner{id: "acct"}, BuyRequest{Instrument: "MINT", Capital: 1})
	if res.Success || res.ErrorKind != domain.ErrorKindExhausted || res.Attempts != 3 {
		t.Fatalf("result = %+v", res)
	}
	rec := trades.all()[0]
	if rec.Status != domain.TradeFailed || rec.ErrorKind != domain.ErrorKindExhausted {
		t.Errorf("record = %+v", rec)
	}
	if len(events.ofType(domain.EventError)) != 1 {
		t.Error("expected one error event")
	}
}

func TestFatalErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{name: "insufficient funds", err: errors.New("Transaction simulation failed: insufficient lamports"), want: domain.ErrorKindInsufficientFunds},
		{name: "duplicate", err: errors.New("This transaction has already been processed"), want: domain.ErrorKindDuplicate},
		{name: "stale blockhash", err: errors.New("Blockhash not found"), want: domain.ErrorKindStale},
		{name: "sentinel", err: domain.ErrInsufficientFunds, want: domain.ErrorKindInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			venue := &fakeVenue{price: 1, broadcastErrs: []error{tt.err}}
			trades := newMemTradeStore()
			c := newTestChannel(venue, trades, nil, nil, ExecutionConfig{MaxRetries: 3})

			res := c.Buy(context.Background(), fakeSigner{id: "acct"}, BuyRequest{Instrument: "MINT", Capital: 1})
			if res.Success || res.ErrorKind != tt.want {
				t.Fatalf("result = %+v, want kind %s", res, tt.want)
			}
			if venue.broadcasts != 1 {
				t.Errorf("broadcasts = %d, want 1", venue.broadcasts)
			}
		})
	}
}

func TestPendingRecordFailurePreventsSubmission(t *testing.T) {
	venue := &fakeVenue{price: 1}
	trades := newMemTradeStore()
	trades.createErr = errBoom
	c := newTestChannel(venue, trades, nil, nil, ExecutionConfig{MaxRetries: 3})

	res := c.Buy(context.Background(), fakeSigner{id: "acct"}, BuyRequest{Instrument: "MINT", Capital: 1})
	if res.Success || res.ErrorKind != domain.ErrorKindPersistence {
		t.Fatalf("result = %+v", res)
	}
	if !errors.Is(res.Err, domain.ErrPersistence) {
		t.Errorf("err = %v", res.Err)
	}
	if venue.prepares != 0 || venue.broadcasts != 0 {
		t.Error("order submitted without a pending record")
	}
}

func TestInvalidAmountLeavesFailedRecord(t *testing.T) {
	venue := &fakeVenue{price: 1}
	trades := newMemTradeStore()
	c := newTestChannel(venue, trades, nil, nil, ExecutionConfig{MaxRetries: 3})

	res := c.Sell(context.Background(), fakeSigner{id: "acct"}, SellRequest{Instrument: "MINT", Quantity: 0})
	if res.Success || !errors.Is(res.Err, domain.ErrInvalidOrder) {
		t.Fatalf("result = %+v", res)
	}
	if recs := trades.all(); len(recs) != 1 || recs[0].Status != domain.TradeFailed {
		t.Errorf("records = %+v", recs)
	}
	if venue.prepares != 0 {
		t.Error("invalid order prepared")
	}
}

func TestBuyRateLimit(t *testing.T) {
	venue := &fakeVenue{price: 1}
	trades := newMemTradeStore()
	limiter := &countingLimiter{allowed: false}
	c := newTestChannel(venue, trades, limiter, nil, ExecutionConfig{MaxRetries: 3, BuyRateLimit: 2})

	res := c.Buy(context.Background(), fakeSigner{id: "acct"}, BuyRequest{Instrument: "MINT", Capital: 1})
	if res.Success || res.ErrorKind != domain.ErrorKindRateLimited {
		t.Fatalf("result = %+v", res)
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != "buys:acct" {
		t.Errorf("limiter keys = %v", limiter.keys)
	}

	// Exits bypass the limiter.
	sell := c.Sell(context.Background(), fakeSigner{id: "acct"}, SellRequest{Instrument: "MINT", Quantity: 1})
	if !sell.Success {
		t.Errorf("sell blocked: %+v", sell)
	}
	if len(limiter.keys) != 1 {
		t.Error("sell consulted the limiter")
	}
}

func TestBundleLanded(t *testing.T) {
	venue := &fakeVenue{price: 1, bundleState: domain.BundleLanded}
	trades := newMemTradeStore()
	c := newTestChannel(venue, trades, nil, nil, ExecutionConfig{MaxRetries: 3, UseBundle: true})

	res := c.Buy(context.Background(), fakeSigner{id: "acct"}, BuyRequest{Instrument: "MINT", Capital: 1})
	if !res.Success || res.TxID != "tx-bundle-1" {
		t.Fatalf("result = %+v", res)
	}
	if venue.broadcasts != 0 {
		t.Error("bundle path used broadcast")
	}
}

func TestBundleTimeoutIsFatal(t *testing.T) {
	venue := &fakeVenue{price: 1, bundleState: domain.BundlePending}
	trades := newMemTradeStore()
	c := newTestChannel(venue, trades, nil, nil, ExecutionConfig{
		MaxRetries:         3,
		UseBundle:          true,
		ConfirmTimeout:     20 * time.Millisecond,
		BundlePollInterval: time.Millisecond,
	})
	c.sleep = sleepCtx

	done := make(chan domain.TradeResult, 1)
	go func() {
		done <- c.Buy(context.Background(), fakeSigner{id: "acct"}, BuyRequest{Instrument: "MINT", Capital: 1})
	}()

	select {
	case res := <-done:
		if res.Success || res.ErrorKind != domain.ErrorKindTimeout {
			t.Fatalf("result = %+v", res)
		}
		if !errors.Is(res.Err, domain.ErrConfirmationTimeout) {
			t.Errorf("err = %v", res.Err)
		}
		if venue.bundles != 1 {
			t.Errorf("bundles = %d, timeout must not resubmit", venue.bundles)
		}
		if rec := trades.all()[0]; rec.Status != domain.TradeFailed {
			t.Errorf("record status = %s", rec.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("bundle confirmation hung")
	}
}

func TestCancelledContext(t *testing.T) {
	venue := &fakeVenue{price: 1, broadcastErrs: []error{errBoom}}
	trades := newMemTradeStore()
	c := newTestChannel(venue, trades, nil, nil, ExecutionConfig{MaxRetries: 3})

	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	res := c.Buy(ctx, fakeSigner{id: "acct"}, BuyRequest{Instrument: "MINT", Capital: 1})
	if res.Success || res.ErrorKind != domain.ErrorKindCancelled {
		t.Fatalf("result = %+v", res)
	}
	if rec := trades.all()[0]; rec.Status != domain.TradeFailed {
		t.Errorf("cancelled trade left %s", rec.Status)
	}
}

func TestSignerFailureIsRetried(t *testing.T) {
	venue := &fakeVenue{price: 1}
	trades := newMemTradeStore()
	c := newTestChannel(venue, trades, nil, nil, ExecutionConfig{MaxRetries: 2})

	res := c.Buy(context.Background(), fakeSigner{id: "acct", err: errBoom}, BuyRequest{Instrument: "MINT", Capital: 1})
	if res.Success || res.ErrorKind != domain.ErrorKindExhausted {
		t.Fatalf("result = %+v", res)
	}
	if !errors.Is(res.Err, domain.ErrSigningFailed) {
		t.Errorf("err = %v", res.Err)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want domain.ErrorKind
	}{
		{nil, domain.ErrorKindNone},
		{errBoom, domain.ErrorKindNone},
		{context.Canceled, domain.ErrorKindCancelled},
		{domain.ErrRateLimited, domain.ErrorKindRateLimited},
		{domain.ErrConfirmationTimeout, domain.ErrorKindTimeout},
		{errors.New("block height exceeded"), domain.ErrorKindStale},
		{errors.New("AlreadyProcessed: already processed"), domain.ErrorKindDuplicate},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
