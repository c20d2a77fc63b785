package protocol

import (
	"context"
	"encoding/json"
	"log/slog"

	"esa_go/internal/esa"
)

// ReplayStats summarises one replay run.
type ReplayStats struct {
	Frames    int
	Skipped   int
	Malformed int
}

// Replayer feeds recorded inbound lines through a Processor without a live
// connection. Subscription ids are adopted as they appear, and replies to
// requests that were never sent here are skipped.
type Replayer struct {
	processor *Processor
	logger    *slog.Logger
}

func NewReplayer(p *Processor) *Replayer {
	return &Replayer{
		processor: p,
		logger:    slog.Default().With(slog.String("module", "replayer")),
	}
}

type frameHeader struct {
	Op string `json:"op"`
	ID *int   `json:"id"`
}

func (h frameHeader) id() int {
	if h.ID == nil {
		return 0
	}
	return *h.ID
}

func (h frameHeader) changesSubscription(current int) bool {
	return h.ID != nil && *h.ID != current
}

// Replay processes lines in order until they are exhausted or ctx is done.
func (r *Replayer) Replay(ctx context.Context, lines []string) (ReplayStats, error) {
	var stats ReplayStats
	r.logger.Info("Replay started", slog.Int("lines", len(lines)))

	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		var hdr frameHeader
		if err := json.Unmarshal([]byte(line), &hdr); err != nil {
			stats.Malformed++
			continue
		}

		switch hdr.Op {
		case esa.OpStatus:
			if hdr.ID != nil {
				stats.Skipped++
				continue
			}
		case esa.OpMarketChange:
			if h := r.processor.MarketHandler(); h == nil || hdr.changesSubscription(h.SubscriptionID()) {
				r.processor.AdoptMarketSubscription(hdr.id())
			}
		case esa.OpOrderChange:
			if h := r.processor.OrderHandler(); h == nil || hdr.changesSubscription(h.SubscriptionID()) {
				r.processor.AdoptOrderSubscription(hdr.id())
			}
		}

		if err := r.processor.ReceiveLine(line); err != nil {
			r.logger.Warn("Replay frame skipped", slog.Any("error", err))
			stats.Malformed++
			continue
		}
		stats.Frames++
	}

	r.logger.Info("Replay finished",
		slog.Int("frames", stats.Frames),
		slog.Int("skipped", stats.Skipped),
		slog.Int("malformed", stats.Malformed))
	return stats, nil
}
