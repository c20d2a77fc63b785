package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"esa_go/internal/domain"
	"esa_go/internal/infra"
)

// LineReader is the inbound half of a transport.
type LineReader interface {
	ReadLine() (string, error)
}

// LineProcessor consumes one inbound frame.
type LineProcessor interface {
	ReceiveLine(line string) error
}

// Sequencer is the single sequential reader of one connection. Frames are
// handed to the processor strictly in arrival order.
type Sequencer struct {
	processor LineProcessor
	metrics   *infra.Metrics
	logger    *slog.Logger

	nextSeq   atomic.Uint64
	malformed atomic.Uint64
}

// NewSequencer creates a new sequencer instance.
func NewSequencer(processor LineProcessor, metrics *infra.Metrics) *Sequencer {
	return &Sequencer{
		processor: processor,
		metrics:   metrics,
		logger:    slog.Default().With(slog.String("module", "sequencer")),
	}
}

// Run reads until the transport fails or ctx is cancelled. This MUST be run
// in a single goroutine per connection. The returned error is a
// *domain.NetworkError for transport failures.
func (s *Sequencer) Run(ctx context.Context, r LineReader) error {
	s.logger.Info("Sequencer started (Single-Thread Reader)")

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("Sequencer stopping...")
			return err
		}

		line, err := r.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return domain.NewNetworkError("read", fmt.Errorf("connection closed by peer: %w", err))
			}
			return domain.NewNetworkError("read", err)
		}

		if line == "" {
			continue
		}
		s.processLine(line)
	}
}

func (s *Sequencer) processLine(line string) {
	seq := s.nextSeq.Add(1)

	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordFramePanic()
			s.logger.Error("FRAME_PANIC_RECOVERED",
				slog.Uint64("seq", seq),
				slog.Any("panic", r),
				slog.String("line", truncate(line, 256)))
		}
	}()

	if err := s.processor.ReceiveLine(line); err != nil {
		s.malformed.Add(1)
		s.logger.Warn("Frame skipped",
			slog.Uint64("seq", seq),
			slog.Any("error", err),
			slog.String("line", truncate(line, 256)))
	}
}

// Processed returns the number of frames read so far.
func (s *Sequencer) Processed() uint64 {
	return s.nextSeq.Load()
}

// Skipped returns the number of frames the processor rejected.
func (s *Sequencer) Skipped() uint64 {
	return s.malformed.Load()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
