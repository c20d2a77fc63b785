package storage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"esa_go/internal/domain"
	"esa_go/internal/protocol"
)

const flushInterval = time.Second

// Recorder captures every line of wrapped transports and writes them to a
// FrameStore from a background goroutine. Recording never blocks the
// connection: when the buffer is full the frame is dropped.
type Recorder struct {
	store  *FrameStore
	frames chan domain.Frame
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	generation atomic.Uint64
	dropped    atomic.Uint64
	logger     *slog.Logger
	now        func() time.Time
}

// NewRecorder starts the background writer. Connection generations continue
// after the highest one already stored.
func NewRecorder(store *FrameStore, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	r := &Recorder{
		store:  store,
		frames: make(chan domain.Frame, bufferSize),
		done:   make(chan struct{}),
		logger: slog.Default().With(slog.String("module", "recorder")),
		now:    time.Now,
	}
	if latest, err := store.LatestConnection(context.Background()); err == nil {
		r.generation.Store(latest)
	}

	r.wg.Add(1)
	go r.backgroundWriter()
	return r
}

// Wrap returns a Dialer whose transports are recorded.
func (r *Recorder) Wrap(d protocol.Dialer) protocol.Dialer {
	return protocol.DialerFunc(func(ctx context.Context) (protocol.Transport, error) {
		t, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return &recordingTransport{inner: t, recorder: r, connection: r.generation.Add(1)}, nil
	})
}

// Dropped returns the number of frames lost to a full buffer.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) record(connection uint64, direction, line string) {
	frame := domain.Frame{
		Connection: connection,
		Direction:  direction,
		Line:       line,
		RecordedAt: r.now(),
	}
	select {
	case <-r.done:
	case r.frames <- frame:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) backgroundWriter() {
	defer r.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]domain.Frame, 0, insertBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.store.SaveFrames(context.Background(), batch); err != nil {
			r.logger.Error("Failed to save frames", slog.Any("error", err), slog.Int("count", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case f := <-r.frames:
			batch = append(batch, f)
			if len(batch) >= insertBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.done:
			// drain what is already buffered
			for {
				select {
				case f := <-r.frames:
					batch = append(batch, f)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close flushes buffered frames and stops the writer.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.done)
		r.wg.Wait()
		if n := r.dropped.Load(); n > 0 {
			r.logger.Warn("Recorder dropped frames", slog.Uint64("count", n))
		}
	})
}

type recordingTransport struct {
	inner      protocol.Transport
	recorder   *Recorder
	connection uint64
}

func (t *recordingTransport) ReadLine() (string, error) {
	line, err := t.inner.ReadLine()
	if err == nil {
		t.recorder.record(t.connection, domain.DirectionInbound, line)
	}
	return line, err
}

func (t *recordingTransport) SendLine(line string) error {
	if err := t.inner.SendLine(line); err != nil {
		return err
	}
	t.recorder.record(t.connection, domain.DirectionOutbound, line)
	return nil
}

func (t *recordingTransport) Close() error {
	return t.inner.Close()
}
