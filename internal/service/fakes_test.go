package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixedClock is a settable clock for tests.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fixedClock { return &fixedClock{t: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memStateStore is an in-memory StateStore.
type memStateStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	saveErr error
	saves   int
}

func newMemStateStore() *memStateStore {
	return &memStateStore{data: map[string][]byte{}}
}

func (s *memStateStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (s *memStateStore) Save(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// memPositionStore is an in-memory PositionStore.
type memPositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	createErr error
	updates   int
	deletes   int
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: map[string]domain.Position{}}
}

func (s *memPositionStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.positions[pos.ID] = pos.Clone()
	return nil
}

func (s *memPositionStore) Update(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	s.positions[pos.ID] = pos.Clone()
	return nil
}

func (s *memPositionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	delete(s.positions, id)
	return nil
}

func (s *memPositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *memPositionStore) ListOpen(_ context.Context, accountID string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.AccountID == accountID {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

// memTradeStore is an in-memory TradeStore that enforces terminal records.
type memTradeStore struct {
	mu        sync.Mutex
	records   map[string]domain.TradeRecord
	order     []string
	createErr error
}

func newMemTradeStore() *memTradeStore {
	return &memTradeStore{records: map[string]domain.TradeRecord{}}
}

func (s *memTradeStore) Create(_ context.Context, rec domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.records[rec.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return nil
}

func (s *memTradeStore) RecordAttempt(_ context.Context, id string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Attempts = attempts
	s.records[id] = rec
	return nil
}

func (s *memTradeStore) Finalize(_ context.Context, rec domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[rec.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status.Terminal() {
		return domain.ErrTerminalTrade
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *memTradeStore) GetByID(_ context.Context, id string) (domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.TradeRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *memTradeStore) List(_ context.Context, accountID string, _ domain.ListOpts) ([]domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TradeRecord
	for _, id := range s.order {
		if rec := s.records[id]; accountID == "" || rec.AccountID == accountID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memTradeStore) ListTerminalBefore(_ context.Context, before time.Time) ([]domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TradeRecord
	for _, id := range s.order {
		if rec := s.records[id]; rec.Status.Terminal() && rec.CreatedAt.Before(before) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memTradeStore) DeleteTerminalBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	kept := s.order[:0]
	for _, id := range s.order {
		rec := s.records[id]
		if rec.Status.Terminal() && rec.CreatedAt.Before(before) {
			delete(s.records, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return n, nil
}

func (s *memTradeStore) all() []domain.TradeRecord {
	out, _ := s.List(context.Background(), "", domain.ListOpts{})
	return out
}

// memStatsStore is an in-memory DailyStatsStore.
type memStatsStore struct {
	mu   sync.Mutex
	vals map[string]map[string]float64
}

func newMemStatsStore() *memStatsStore {
	return &memStatsStore{vals: map[string]map[string]float64{}}
}

func (s *memStatsStore) Increment(_ context.Context, date, stat string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vals[date] == nil {
		s.vals[date] = map[string]float64{}
	}
	s.vals[date][stat] += delta
	return nil
}

func (s *memStatsStore) Get(_ context.Context, date string) (domain.DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[date]
	if !ok {
		return domain.DailyStats{}, domain.ErrNotFound
	}
	return domain.DailyStats{
		Date:           date,
		TokensAnalyzed: int64(v[domain.StatTokensAnalyzed]),
		TokensSkipped:  int64(v[domain.StatTokensSkipped]),
		RugsAvoided:    int64(v[domain.StatRugsAvoided]),
		TokensSniped:   int64(v[domain.StatTokensSniped]),
		TotalVolume:    v[domain.StatTotalVolume],
		WinningTrades:  int64(v[domain.StatWinningTrades]),
		LosingTrades:   int64(v[domain.StatLosingTrades]),
		RealizedPnL:    v[domain.StatRealizedPnL],
	}, nil
}

func (s *memStatsStore) ListRecent(ctx context.Context, _ int) ([]domain.DailyStats, error) {
	s.mu.Lock()
	days := make([]string, 0, len(s.vals))
	for d := range s.vals {
		days = append(days, d)
	}
	s.mu.Unlock()
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	out := make([]domain.DailyStats, 0, len(days))
	for _, d := range days {
		st, _ := s.Get(ctx, d)
		out = append(out, st)
	}
	return out, nil
}

func (s *memStatsStore) stat(stat string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, v := range s.vals {
		total += v[stat]
	}
	return total
}

// memOutcomeStore is an in-memory OutcomeStore keyed by account and mint.
type memOutcomeStore struct {
	mu       sync.Mutex
	outcomes map[string]domain.TokenOutcome
}

func newMemOutcomeStore() *memOutcomeStore {
	return &memOutcomeStore{outcomes: map[string]domain.TokenOutcome{}}
}

func (s *memOutcomeStore) Upsert(_ context.Context, o domain.TokenOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[o.AccountID+"/"+o.Mint] = o
	return nil
}

func (s *memOutcomeStore) ListBefore(_ context.Context, before time.Time) ([]domain.TokenOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TokenOutcome
	for _, o := range s.outcomes {
		if o.CreatedAt.Before(before) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOutcomeStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, o := range s.outcomes {
		if o.CreatedAt.Before(before) {
			delete(s.outcomes, k)
			n++
		}
	}
	return n, nil
}

// recPublisher records published events.
type recPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recPublisher) Publish(ev domain.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recPublisher) ofType(t domain.EventType) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// fakeSigner signs by prefixing the payload.
type fakeSigner struct {
	id  string
	err error
}

func (s fakeSigner) PublicIdentity() string { return s.id }

func (s fakeSigner) Sign(_ context.Context, payload []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]byte("signed:"), payload...), nil
}

// fakeVenue fills orders at a settable price. Broadcast errors are consumed
// from broadcastErrs in order; once exhausted broadcasts succeed.
type fakeVenue struct {
	mu            sync.Mutex
	price         float64
	balance       float64
	balanceErr    error
	prepareErr    error
	broadcastErrs []error
	bundleState   domain.BundleState
	prepares      int
	broadcasts    int
	bundles       int
	intents       []domain.OrderIntent
}

func (v *fakeVenue) Prepare(_ context.Context, intent domain.OrderIntent) (*domain.PreparedOrder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prepares++
	v.intents = append(v.intents, intent)
	if v.prepareErr != nil {
		return nil, v.prepareErr
	}
	out := &domain.PreparedOrder{
		Payload:  []byte(fmt.Sprintf("%s:%s:%d", intent.Side, intent.Instrument, v.prepares)),
		InAmount: intent.Amount,
		Price:    v.price,
	}
	if intent.Side == domain.SideBuy {
		out.OutAmount = intent.Amount / v.price
	} else {
		out.OutAmount = intent.Amount * v.price
	}
	return out, nil
}

func (v *fakeVenue) Broadcast(_ context.Context, _ []byte) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.broadcasts++
	if len(v.broadcastErrs) > 0 {
		err := v.broadcastErrs[0]
		v.broadcastErrs = v.broadcastErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("tx-%d", v.broadcasts), nil
}

func (v *fakeVenue) SubmitBundle(_ context.Context, _ []byte) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bundles++
	return fmt.Sprintf("bundle-%d", v.bundles), nil
}

func (v *fakeVenue) BundleStatus(_ context.Context, id string) (domain.BundleStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st := domain.BundleStatus{State: v.bundleState}
	if st.State == domain.BundleLanded {
		st.TxID = "tx-" + id
	}
	return st, nil
}

func (v *fakeVenue) Balance(_ context.Context, _ string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance, v.balanceErr
}

func (v *fakeVenue) Price(_ context.Context, _ string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.price <= 0 {
		return 0, domain.ErrPriceUnavailable
	}
	return v.price, nil
}

func (v *fakeVenue) setPrice(p float64) {
	v.mu.Lock()
	v.price = p
	v.mu.Unlock()
}

// fakeSafety returns fixed verdicts.
type fakeSafety struct {
	quick  domain.FilterResult
	full   domain.FilterResult
	err    error
	fulls  int
	quicks int
}

func (f *fakeSafety) QuickFilter(_ context.Context, _ domain.TokenMetadata) domain.FilterResult {
	f.quicks++
	return f.quick
}

func (f *fakeSafety) AnalyzeToken(_ context.Context, _ domain.TokenMetadata) (domain.FilterResult, error) {
	f.fulls++
	return f.full, f.err
}

// fakeOracle returns a fixed analysis.
type fakeOracle struct {
	analysis domain.Analysis
	err      error
	calls    int
}

func (f *fakeOracle) Analyze(_ context.Context, _ domain.TokenMetadata, _ domain.FilterResult) (domain.Analysis, error) {
	f.calls++
	return f.analysis, f.err
}

// staticResults is a fixed ResultStore.
type staticResults []domain.ClosedResult

func (r staticResults) ClosedResults(_ context.Context, limit int) ([]domain.ClosedResult, error) {
	if limit > 0 && limit < len(r) {
		return r[:limit], nil
	}
	return r, nil
}

var errBoom = errors.New("boom")

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }
