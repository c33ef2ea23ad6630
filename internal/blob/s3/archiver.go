package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// multipartThreshold is the payload size above which archives are uploaded
// with the multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// TradeArchiveStore is the part of domain.TradeStore the archiver needs.
type TradeArchiveStore interface {
	ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error)
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// OutcomeArchiveStore is the part of domain.OutcomeStore the archiver needs.
type OutcomeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TokenOutcome, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver. It writes old rows as JSONL to
// object storage and, once the upload succeeded, deletes them from the
// primary store. Pending trades are never archived.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	trades   TradeArchiveStore
	outcomes OutcomeArchiveStore
	audit    domain.AuditStore
	now      func() time.Time
}

// NewArchiver creates a new ArchiveImpl. audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	trades TradeArchiveStore,
	outcomes OutcomeArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		trades:   trades,
		outcomes: outcomes,
		audit:    audit,
		now:      time.Now,
	}
}

// ArchiveTrades uploads confirmed and failed trades created before the
// cutoff and prunes them. It returns the number of records archived.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListTerminalBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	path := archivePath("trades", before, a.now())
	if err := upload(ctx, a.writer, path, trades); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades: %w", err)
	}
	deleted, err := a.trades.DeleteTerminalBefore(ctx, before)
	if err != nil {
		return int64(len(trades)), fmt.Errorf("s3blob: prune archived trades: %w", err)
	}

	a.record(ctx, "archive.trades", path, int64(len(trades)), deleted, before)
	return int64(len(trades)), nil
}

// ArchiveOutcomes uploads token outcomes recorded before the cutoff and
// prunes them. It returns the number of records archived.
func (a *ArchiveImpl) ArchiveOutcomes(ctx context.Context, before time.Time) (int64, error) {
	outcomes, err := a.outcomes.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes query: %w", err)
	}
	if len(outcomes) == 0 {
		return 0, nil
	}

	path := archivePath("token_outcomes", before, a.now())
	if err := upload(ctx, a.writer, path, outcomes); err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes: %w", err)
	}
	deleted, err := a.outcomes.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(outcomes)), fmt.Errorf("s3blob: prune archived outcomes: %w", err)
	}

	a.record(ctx, "archive.token_outcomes", path, int64(len(outcomes)), deleted, before)
	return int64(len(outcomes)), nil
}

func upload[T any](ctx context.Context, w domain.BlobWriter, path string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if len(buf) > multipartThreshold {
		err = w.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = w.Put(ctx, path, bytes.NewReader(buf), jsonlType)
	}
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

func (a *ArchiveImpl) record(ctx context.Context, event, path string, count, deleted int64, before time.Time) {
	if a.audit == nil {
		return
	}
	// Audit failures do not fail a completed archive.
	_ = a.audit.Log(ctx, event, map[string]any{
		"path":    path,
		"count":   count,
		"deleted": deleted,
		"before":  before.UTC().Format(time.RFC3339),
	})
}

// archivePath builds the object key for one archive run, partitioned by the
// cutoff month and unique per run:
//
//	archive/trades/2026-09/20261014T030000Z.jsonl
func archivePath(kind string, before, runAt time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind, before.UTC().Format("2006-01"), runAt.UTC().Format("20060102T150405Z"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
