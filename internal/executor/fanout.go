package executor

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Fanout copies every candidate from one source to a bounded queue per
// trader. A full queue drops the candidate for that trader; a candidate
// that waited behind others is stale by the time it would be processed.
type Fanout struct {
	outs   []chan domain.Candidate
	size   int
	logger *slog.Logger
}

// NewFanout creates a Fanout whose queues hold up to size candidates.
func NewFanout(size int, logger *slog.Logger) *Fanout {
	if size <= 0 {
		size = 64
	}
	return &Fanout{size: size, logger: logger.With(slog.String("component", "fanout"))}
}

// Add registers a new queue. Call it before Run.
func (f *Fanout) Add() <-chan domain.Candidate {
	ch := make(chan domain.Candidate, f.size)
	f.outs = append(f.outs, ch)
	return ch
}

// Run forwards candidates from in until in is closed or ctx ends, then
// closes every queue.
func (f *Fanout) Run(ctx context.Context, in <-chan domain.Candidate) error {
	defer func() {
		for _, ch := range f.outs {
			close(ch)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cand, ok := <-in:
			if !ok {
				return nil
			}
			for i, ch := range f.outs {
				select {
				case ch <- cand:
				default:
					f.logger.WarnContext(ctx, "trader queue full, candidate dropped",
						slog.Int("queue", i),
						slog.String("mint", cand.Token.Mint),
					)
				}
			}
		}
	}
}
