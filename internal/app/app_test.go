package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/snipebot/internal/config"
	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/platform/paper"
)

type fakeLedger struct {
	paused  bool
	resumed bool
	err     error
}

func (l *fakeLedger) Pause(context.Context) error {
	l.paused = true
	return l.err
}

func (l *fakeLedger) Resume(context.Context) error {
	l.resumed = true
	return l.err
}

type fakeTrader struct {
	account string
	closed  int
	err     error

	mu    sync.Mutex
	calls int
}

func (t *fakeTrader) Account() string { return t.account }

func (t *fakeTrader) Flatten(context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return t.closed, t.err
}

func TestControllerPauseResumeEveryLedger(t *testing.T) {
	a, b := &fakeLedger{}, &fakeLedger{}
	c := &controller{ledgers: []pauser{a, b}}

	if err := c.Pause(context.Background()); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !a.paused || !b.paused {
		t.Error("not every ledger paused")
	}
	if err := c.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !a.resumed || !b.resumed {
		t.Error("not every ledger resumed")
	}
}

func TestControllerPauseJoinsErrors(t *testing.T) {
	boom := errors.New("state store down")
	a, b := &fakeLedger{err: boom}, &fakeLedger{}
	c := &controller{ledgers: []pauser{a, b}}

	err := c.Pause(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Pause = %v, want %v", err, boom)
	}
	if !b.paused {
		t.Error("failure on one ledger stopped the others")
	}
}

func TestControllerFlattenSumsClosed(t *testing.T) {
	x := &fakeTrader{account: "x", closed: 2}
	y := &fakeTrader{account: "y", closed: 3}
	c := &controller{traders: []flattener{x, y}}

	n, err := c.Flatten(context.Background())
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if n != 5 {
		t.Errorf("closed = %d, want 5", n)
	}
	if x.calls != 1 || y.calls != 1 {
		t.Errorf("calls = %d/%d", x.calls, y.calls)
	}
}

func TestControllerFlattenPartialFailure(t *testing.T) {
	ok := &fakeTrader{account: "ok", closed: 1}
	bad := &fakeTrader{account: "bad", err: errors.New("sell failed")}
	c := &controller{traders: []flattener{ok, bad}}

	n, err := c.Flatten(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bad: sell failed") {
		t.Fatalf("Flatten err = %v", err)
	}
	if n != 1 {
		t.Errorf("closed = %d, want 1", n)
	}
}

type fakeRemover struct {
	held    string
	err     error
	removed []string
}

func (r *fakeRemover) Remove(_ context.Context, id string) error {
	if id != r.held {
		return fmt.Errorf("position_book: remove %s: %w", id, domain.ErrNotFound)
	}
	r.removed = append(r.removed, id)
	return r.err
}

func TestControllerRemoveFindsOwningBook(t *testing.T) {
	a, b := &fakeRemover{held: "pa"}, &fakeRemover{held: "pb"}
	c := &controller{books: []remover{a, b}}

	if err := c.Remove(context.Background(), "pb"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(a.removed) != 0 || len(b.removed) != 1 {
		t.Errorf("removed = %v / %v", a.removed, b.removed)
	}
	if err := c.Remove(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Remove(unknown) = %v, want ErrNotFound", err)
	}
}

func TestControllerRemoveSurfacesStoreError(t *testing.T) {
	boom := errors.New("delete failed")
	c := &controller{books: []remover{&fakeRemover{held: "p", err: boom}}}
	if err := c.Remove(context.Background(), "p"); !errors.Is(err, boom) {
		t.Errorf("Remove = %v, want %v", err, boom)
	}
}

type staticBook []domain.Position

func (b staticBook) List(accountID string) []domain.Position {
	var out []domain.Position
	for _, p := range b {
		if accountID == "" || p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out
}

func TestBookSetMergesOldestFirst(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := bookSet{
		staticBook{{ID: "a2", AccountID: "a", OpenedAt: t0.Add(2 * time.Minute)}},
		staticBook{
			{ID: "b1", AccountID: "b", OpenedAt: t0.Add(time.Minute)},
			{ID: "b3", AccountID: "b", OpenedAt: t0.Add(3 * time.Minute)},
		},
	}

	got := s.List("")
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"b1", "a2", "b3"} {
		if got[i].ID != want {
			t.Errorf("positions[%d] = %s, want %s", i, got[i].ID, want)
		}
	}

	if only := s.List("a"); len(only) != 1 || only[0].ID != "a2" {
		t.Errorf("List(a) = %+v", only)
	}
}

func TestUniqueSignersRejectsDuplicates(t *testing.T) {
	_, err := uniqueSigners([]domain.Signer{paper.NewSigner("p"), paper.NewSigner("p")})
	if err == nil {
		t.Fatal("expected duplicate account error")
	}
	got, err := uniqueSigners([]domain.Signer{paper.NewSigner("p"), paper.NewSigner("q")})
	if err != nil || len(got) != 2 {
		t.Fatalf("uniqueSigners = %v, %v", got, err)
	}
}

func TestLoadSignersPaper(t *testing.T) {
	cfg := config.Defaults()
	cfg.Wallet.Accounts = []config.AccountConfig{{Name: "alt"}}
	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	signers, err := a.loadSigners(true)
	if err != nil {
		t.Fatalf("loadSigners: %v", err)
	}
	if len(signers) != 2 || signers[0].PublicIdentity() != "paper-main" || signers[1].PublicIdentity() != "paper-alt" {
		t.Errorf("signers = %v", signers)
	}
}

func TestLoadSignersLiveNeedsKey(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := a.loadSigners(false); err == nil {
		t.Fatal("expected error without a wallet key")
	}
}
