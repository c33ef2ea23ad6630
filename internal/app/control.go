package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/server/handler"
)

type pauser interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

type flattener interface {
	Account() string
	Flatten(ctx context.Context) (int, error)
}

type remover interface {
	Remove(ctx context.Context, id string) error
}

// controller applies operator actions to every account. It implements
// handler.Controller.
type controller struct {
	ledgers []pauser
	traders []flattener
	books   []remover
}

func newController(accounts []*account) *controller {
	c := &controller{}
	for _, a := range accounts {
		c.ledgers = append(c.ledgers, a.ledger)
		c.traders = append(c.traders, a.trader)
		c.books = append(c.books, a.book)
	}
	return c
}

func (c *controller) Pause(ctx context.Context) error {
	var errs []error
	for _, l := range c.ledgers {
		if err := l.Pause(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *controller) Resume(ctx context.Context) error {
	var errs []error
	for _, l := range c.ledgers {
		if err := l.Resume(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flatten closes the positions of every account in parallel and returns the
// total closed, even when some accounts fail.
func (c *controller) Flatten(ctx context.Context) (int, error) {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		closed int
		errs   []error
	)
	for _, t := range c.traders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := t.Flatten(ctx)
			mu.Lock()
			defer mu.Unlock()
			closed += n
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", t.Account(), err))
			}
		}()
	}
	wg.Wait()
	return closed, errors.Join(errs...)
}

// Remove drops the position from whichever account book holds it.
func (c *controller) Remove(ctx context.Context, positionID string) error {
	for _, b := range c.books {
		err := b.Remove(ctx, positionID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		return err
	}
	return fmt.Errorf("app: remove %s: %w", positionID, domain.ErrNotFound)
}

var _ handler.Controller = (*controller)(nil)

// bookSet lists the positions of several per-account books as one. It
// implements handler.PositionLister.
type bookSet []handler.PositionLister

func (s bookSet) List(accountID string) []domain.Position {
	var out []domain.Position
	for _, b := range s {
		out = append(out, b.List(accountID)...)
	}
	slices.SortFunc(out, func(a, b domain.Position) int {
		return a.OpenedAt.Compare(b.OpenedAt)
	})
	return out
}

func newBookSet(accounts []*account) bookSet {
	s := make(bookSet, 0, len(accounts))
	for _, a := range accounts {
		s = append(s, a.book)
	}
	return s
}

func ledgerMap(accounts []*account) map[string]handler.RiskReporter {
	m := make(map[string]handler.RiskReporter, len(accounts))
	for _, a := range accounts {
		m[a.signer.PublicIdentity()] = a.ledger
	}
	return m
}
