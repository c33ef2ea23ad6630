package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// ArchiveService periodically moves trade records and token outcomes older
// than the retention period to cold storage.
type ArchiveService struct {
	archiver  domain.Archiver
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiveService creates an ArchiveService. retentionDays below one is
// treated as one.
func NewArchiveService(archiver domain.Archiver, retentionDays int, interval time.Duration, logger *slog.Logger) *ArchiveService {
	if retentionDays < 1 {
		retentionDays = 1
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &ArchiveService{
		archiver:  archiver,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archive")),
	}
}

// ArchiveResult reports one archive run.
type ArchiveResult struct {
	Cutoff   time.Time `json:"cutoff"`
	Trades   int64     `json:"trades"`
	Outcomes int64     `json:"outcomes"`
}

// RunOnce archives everything older than the retention period. Both kinds
// are attempted even if the first fails.
func (s *ArchiveService) RunOnce(ctx context.Context) (ArchiveResult, error) {
	res := ArchiveResult{Cutoff: s.now().UTC().Add(-s.retention)}

	var errs []error
	n, err := s.archiver.ArchiveTrades(ctx, res.Cutoff)
	res.Trades = n
	if err != nil {
		errs = append(errs, fmt.Errorf("trades: %w", err))
	}
	n, err = s.archiver.ArchiveOutcomes(ctx, res.Cutoff)
	res.Outcomes = n
	if err != nil {
		errs = append(errs, fmt.Errorf("outcomes: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return res, fmt.Errorf("archive_service: %w", err)
	}
	s.logger.InfoContext(ctx, "archive run complete",
		slog.Time("cutoff", res.Cutoff),
		slog.Int64("trades", res.Trades),
		slog.Int64("outcomes", res.Outcomes),
	)
	return res, nil
}

// Run archives once per interval until ctx is cancelled.
func (s *ArchiveService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "archiver started",
		slog.Duration("interval", s.interval),
		slog.Duration("retention", s.retention),
	)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
