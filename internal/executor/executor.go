package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/service"
)

// CandidateProcessor runs the intake pipeline. It is implemented by
// service.IntakePipeline.
type CandidateProcessor interface {
	Process(ctx context.Context, signer domain.Signer, cand domain.Candidate) domain.IntakeOutcome
	Skip(ctx context.Context, account string, cand domain.Candidate, stage domain.IntakeStage, reason string) domain.IntakeOutcome
}

// PositionMonitor evaluates and exits open positions. It is implemented by
// service.Monitor.
type PositionMonitor interface {
	Tick(ctx context.Context, signer domain.Signer) service.TickReport
	FlattenAll(ctx context.Context, signer domain.Signer) (int, error)
}

// TraderConfig tunes a Trader.
type TraderConfig struct {
	MonitorInterval time.Duration
	// OrderTimeout bounds one candidate or one monitor pass. The work runs
	// under a context detached from shutdown so a submitted order is always
	// awaited.
	OrderTimeout time.Duration
	DedupTTL     time.Duration
	LeaseTTL     time.Duration
}

// ErrTraderStopped is returned by commands sent to a trader that is not
// running.
var ErrTraderStopped = errors.New("executor: trader stopped")

type commandKind int

const (
	cmdFlatten commandKind = iota
)

type command struct {
	kind  commandKind
	reply chan commandResult
}

type commandResult struct {
	closed int
	err    error
}

// Trader is the single goroutine that owns every position and ledger
// mutation for one account. Its loop serializes candidates, monitor ticks
// and control commands.
type Trader struct {
	signer     domain.Signer
	candidates <-chan domain.Candidate
	commands   chan command
	done       chan struct{}
	intake     CandidateProcessor
	monitor    PositionMonitor
	locks      domain.LockManager
	dedup      *Dedup
	cfg        TraderConfig
	logger     *slog.Logger
}

// NewTrader creates a Trader for signer reading from candidates. locks may
// be nil to run without a cross-process lease.
func NewTrader(
	signer domain.Signer,
	candidates <-chan domain.Candidate,
	intake CandidateProcessor,
	monitor PositionMonitor,
	locks domain.LockManager,
	cfg TraderConfig,
	logger *slog.Logger,
) *Trader {
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 500 * time.Millisecond
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 90 * time.Second
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	return &Trader{
		signer:     signer,
		candidates: candidates,
		commands:   make(chan command),
		done:       make(chan struct{}),
		intake:     intake,
		monitor:    monitor,
		locks:      locks,
		dedup:      NewDedup(cfg.DedupTTL),
		cfg:        cfg,
		logger: logger.With(
			slog.String("component", "trader"),
			slog.String("account", signer.PublicIdentity()),
		),
	}
}

// Account returns the public identity this trader trades for.
func (t *Trader) Account() string {
	return t.signer.PublicIdentity()
}

// Run processes candidates, monitor ticks and commands until ctx is
// cancelled. On shutdown it finishes the item in hand and records queued
// candidates as skipped without acting on them.
func (t *Trader) Run(ctx context.Context) error {
	defer close(t.done)

	if t.locks != nil {
		release, err := t.locks.Lease(ctx, "trader:"+t.Account(), t.cfg.LeaseTTL)
		if err != nil {
			return fmt.Errorf("executor: trader lease %s: %w", t.Account(), err)
		}
		defer release()
	}

	t.logger.InfoContext(ctx, "trader started")
	defer t.logger.Info("trader stopped")

	ticker := time.NewTicker(t.cfg.MonitorInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(t.cfg.DedupTTL)
	defer cleanup.Stop()

	candidates := t.candidates
	for {
		select {
		case <-ctx.Done():
			t.drain(candidates)
			return nil

		case cand, ok := <-candidates:
			if !ok {
				candidates = nil
				continue
			}
			if ctx.Err() != nil {
				t.skip(cand, "shutting down")
				continue
			}
			t.handleCandidate(ctx, cand)

		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			t.tick(ctx)

		case cmd := <-t.commands:
			cmd.reply <- t.handleCommand(ctx, cmd)

		case <-cleanup.C:
			t.dedup.Cleanup()
		}
	}
}

// Flatten asks the trader to sell every open position and waits for the
// result. It returns the number of positions closed.
func (t *Trader) Flatten(ctx context.Context) (int, error) {
	reply := make(chan commandResult, 1)
	select {
	case t.commands <- command{kind: cmdFlatten, reply: reply}:
	case <-t.done:
		return 0, ErrTraderStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.closed, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (t *Trader) handleCandidate(ctx context.Context, cand domain.Candidate) {
	if t.dedup.IsDuplicate(cand.Token.Mint) {
		t.logger.DebugContext(ctx, "duplicate candidate dropped", slog.String("mint", cand.Token.Mint))
		return
	}

	opCtx, cancel := t.opContext(ctx)
	defer cancel()
	out := t.intake.Process(opCtx, t.signer, cand)
	if out.Decision == domain.DecisionBought {
		t.logger.InfoContext(ctx, "position entered",
			slog.String("mint", out.Mint),
			slog.String("position_id", out.PositionID),
			slog.Float64("capital", out.Capital),
		)
	}
}

func (t *Trader) tick(ctx context.Context) {
	opCtx, cancel := t.opContext(ctx)
	defer cancel()
	rep := t.monitor.Tick(opCtx, t.signer)
	if rep.Exits > 0 || rep.Failed > 0 {
		t.logger.InfoContext(ctx, "monitor pass",
			slog.Int("checked", rep.Checked),
			slog.Int("exits", rep.Exits),
			slog.Int("failed", rep.Failed),
			slog.Int("skipped", rep.Skipped),
		)
	}
}

func (t *Trader) handleCommand(ctx context.Context, cmd command) commandResult {
	switch cmd.kind {
	case cmdFlatten:
		opCtx, cancel := t.opContext(ctx)
		defer cancel()
		n, err := t.monitor.FlattenAll(opCtx, t.signer)
		t.logger.InfoContext(ctx, "flatten command", slog.Int("closed", n))
		return commandResult{closed: n, err: err}
	default:
		return commandResult{err: fmt.Errorf("executor: unknown command %d", cmd.kind)}
	}
}

// opContext derives the context for one unit of work. It survives shutdown
// of ctx but is bounded by OrderTimeout.
func (t *Trader) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), t.cfg.OrderTimeout)
}

// drain records every candidate already queued as skipped.
func (t *Trader) drain(candidates <-chan domain.Candidate) {
	if candidates == nil {
		return
	}
	n := 0
	for {
		select {
		case cand, ok := <-candidates:
			if !ok {
				t.logDrained(n)
				return
			}
			t.skip(cand, "shutting down")
			n++
		default:
			t.logDrained(n)
			return
		}
	}
}

func (t *Trader) skip(cand domain.Candidate, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.intake.Skip(ctx, t.Account(), cand, domain.StageShutdown, reason)
}

func (t *Trader) logDrained(n int) {
	if n > 0 {
		t.logger.Warn("queued candidates skipped on shutdown", slog.Int("count", n))
	}
}

var _ fmt.Stringer = (*Trader)(nil)

// String returns a human-readable description of the trader.
func (t *Trader) String() string {
	return fmt.Sprintf("Trader(account=%s)", t.Account())
}
