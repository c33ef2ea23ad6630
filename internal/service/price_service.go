package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// pricesChannel is the SignalBus channel carrying mark updates.
const pricesChannel = "snipebot:prices"

// PriceService resolves instrument prices from the venue's price source and
// keeps the latest mark in the price cache. When the source fails, a cached
// mark younger than maxAge is served instead. cache and bus may be nil.
type PriceService struct {
	source domain.PriceSource
	cache  domain.PriceCache
	bus    domain.SignalBus
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewPriceService creates a PriceService.
func NewPriceService(
	source domain.PriceSource,
	cache domain.PriceCache,
	bus domain.SignalBus,
	maxAge time.Duration,
	logger *slog.Logger,
) *PriceService {
	return &PriceService{
		source: source,
		cache:  cache,
		bus:    bus,
		maxAge: maxAge,
		now:    time.Now,
		logger: logger.With(slog.String("component", "prices")),
	}
}

// Price returns the current price of instrument. It returns an error
// wrapping domain.ErrPriceUnavailable when neither the source nor a fresh
// cached mark can supply a positive price.
func (s *PriceService) Price(ctx context.Context, instrument string) (float64, error) {
	price, err := s.source.Price(ctx, instrument)
	if err == nil && price > 0 {
		s.store(ctx, instrument, price)
		return price, nil
	}
	if err == nil {
		err = domain.ErrPriceUnavailable
	}

	if cached, ok := s.cached(ctx, instrument); ok {
		s.logger.DebugContext(ctx, "serving cached mark",
			slog.String("instrument", instrument),
			slog.String("source_error", err.Error()),
		)
		return cached, nil
	}
	if errors.Is(err, domain.ErrPriceUnavailable) {
		return 0, fmt.Errorf("price_service: %s: %w", instrument, err)
	}
	return 0, fmt.Errorf("price_service: %s: %w: %w", instrument, domain.ErrPriceUnavailable, err)
}

// Prices returns the cached marks of instruments. Missing instruments are
// omitted.
func (s *PriceService) Prices(ctx context.Context, instruments []string) (map[string]float64, error) {
	if s.cache == nil {
		return map[string]float64{}, nil
	}
	prices, err := s.cache.GetPrices(ctx, instruments)
	if err != nil {
		return nil, fmt.Errorf("price_service: get prices: %w", err)
	}
	return prices, nil
}

func (s *PriceService) cached(ctx context.Context, instrument string) (float64, bool) {
	if s.cache == nil || s.maxAge <= 0 {
		return 0, false
	}
	price, ts, err := s.cache.GetPrice(ctx, instrument)
	if err != nil || price <= 0 {
		return 0, false
	}
	if s.now().Sub(ts) > s.maxAge {
		return 0, false
	}
	return price, true
}

func (s *PriceService) store(ctx context.Context, instrument string, price float64) {
	now := s.now().UTC()
	if s.cache != nil {
		if err := s.cache.SetPrice(ctx, instrument, price, now); err != nil {
			s.logger.WarnContext(ctx, "cache mark failed",
				slog.String("instrument", instrument),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"instrument": instrument,
		"price":      price,
		"timestamp":  now.Format(time.RFC3339Nano),
	})
	if err := s.bus.Publish(ctx, pricesChannel, evt); err != nil {
		s.logger.WarnContext(ctx, "publish mark failed",
			slog.String("instrument", instrument),
			slog.String("error", err.Error()),
		)
	}
}
