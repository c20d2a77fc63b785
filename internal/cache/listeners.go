package cache

import (
	"log/slog"
	"sync"

	"esa_go/internal/infra"
)

type listenerEntry[E any] struct {
	id uint64
	fn func(E)
}

// listeners is a subscribe/unsubscribe registry dispatched synchronously by
// the writer goroutine. A panicking listener is recovered and counted.
type listeners[E any] struct {
	name    string
	logger  *slog.Logger
	metrics *infra.Metrics

	mu      sync.Mutex
	nextID  uint64
	entries []listenerEntry[E]
}

func newListeners[E any](name string, logger *slog.Logger, metrics *infra.Metrics) *listeners[E] {
	return &listeners[E]{name: name, logger: logger, metrics: metrics}
}

func (l *listeners[E]) add(fn func(E)) (cancel func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.entries = append(l.entries, listenerEntry[E]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, e := range l.entries {
				if e.id == id {
					l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *listeners[E]) empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries) == 0
}

func (l *listeners[E]) dispatch(event E) {
	l.mu.Lock()
	entries := l.entries
	l.mu.Unlock()

	for _, e := range entries {
		l.call(e, event)
	}
}

func (l *listeners[E]) call(e listenerEntry[E], event E) {
	defer func() {
		if r := recover(); r != nil {
			l.metrics.RecordListenerPanic()
			l.logger.Error("Listener panic recovered",
				slog.String("listener", l.name),
				slog.Uint64("id", e.id),
				slog.Any("panic", r))
		}
	}()
	e.fn(event)
}
