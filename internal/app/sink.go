package app

import (
	"context"
	"log/slog"

	"esa_go/internal/cache"
	"esa_go/internal/service"
)

// SnapshotPublisher ships a summary to an external sink. *kafka.Producer
// satisfies it.
type SnapshotPublisher interface {
	SendJSON(ctx context.Context, key string, v any) error
}

// SnapshotSink logs every market change and forwards its summary to the
// publisher when one is set.
type SnapshotSink struct {
	ctx       context.Context
	publisher SnapshotPublisher
	logger    *slog.Logger
}

func NewSnapshotSink(ctx context.Context, publisher SnapshotPublisher) *SnapshotSink {
	return &SnapshotSink{
		ctx:       ctx,
		publisher: publisher,
		logger:    slog.Default().With(slog.String("module", "snapshot_sink")),
	}
}

// OnMarketChanged is registered as a market cache listener.
func (s *SnapshotSink) OnMarketChanged(e cache.MarketChangeEvent) {
	sum := service.Summarize(e.Snap)

	s.logger.Debug("Market snapshot",
		slog.String("market_id", sum.MarketID),
		slog.String("status", sum.Status),
		slog.String("total_matched", sum.TotalMatched.String()),
		slog.String("back_book", sum.BackBook.String()),
		slog.String("lay_book", sum.LayBook.String()),
		slog.Int("runners", len(sum.Runners)))
	if sum.IsClosed {
		s.logger.Info("Market closed", slog.String("market_id", sum.MarketID))
	}

	if s.publisher == nil {
		return
	}
	if err := s.publisher.SendJSON(s.ctx, sum.MarketID, sum); err != nil {
		s.logger.Warn("Snapshot publish failed", slog.String("market_id", sum.MarketID), slog.Any("error", err))
	}
}

// OnBatchMarketsChanged is registered as a batch listener.
func (s *SnapshotSink) OnBatchMarketsChanged(e cache.BatchMarketsChangeEvent) {
	s.logger.Debug("Batch applied", slog.Int("markets", len(e.Changes)))
}
