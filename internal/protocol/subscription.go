package protocol

import (
	"context"
	"sync"
	"time"

	"esa_go/internal/domain"
	"esa_go/internal/esa"
)

// SubscriptionHandler reassembles segmented frames of one subscription and
// tracks its resumption tokens. ProcessChangeMessage is called from the
// reader goroutine only; the token accessors are safe from any goroutine.
type SubscriptionHandler[S any, T any] struct {
	subscriptionID int
	request        S
	withClocks     func(req S, clk, initialClk string) S

	// reader goroutine state
	segmentStart *ChangeMessage[T]
	segments     []T

	mu              sync.RWMutex
	clk             string
	initialClk      string
	lastPublishTime time.Time
	lastArrivalTime time.Time

	done      chan struct{}
	doneOnce  sync.Once
	cancelled bool
}

type (
	MarketSubscriptionHandler = SubscriptionHandler[*esa.MarketSubscriptionMessage, *esa.MarketChange]
	OrderSubscriptionHandler  = SubscriptionHandler[*esa.OrderSubscriptionMessage, *esa.OrderMarketChange]
)

// NewMarketSubscriptionHandler tracks a market subscription request. Tokens
// carried by a resubscription request are kept until a batch replaces them.
func NewMarketSubscriptionHandler(req *esa.MarketSubscriptionMessage) *MarketSubscriptionHandler {
	h := newSubscriptionHandler[*esa.MarketSubscriptionMessage, *esa.MarketChange](req.ID, req, func(r *esa.MarketSubscriptionMessage, clk, initialClk string) *esa.MarketSubscriptionMessage {
		out := *r
		out.Clk = clk
		out.InitialClk = initialClk
		return &out
	})
	h.clk, h.initialClk = req.Clk, req.InitialClk
	return h
}

// NewOrderSubscriptionHandler tracks an order subscription request.
func NewOrderSubscriptionHandler(req *esa.OrderSubscriptionMessage) *OrderSubscriptionHandler {
	h := newSubscriptionHandler[*esa.OrderSubscriptionMessage, *esa.OrderMarketChange](req.ID, req, func(r *esa.OrderSubscriptionMessage, clk, initialClk string) *esa.OrderSubscriptionMessage {
		out := *r
		out.Clk = clk
		out.InitialClk = initialClk
		return &out
	})
	h.clk, h.initialClk = req.Clk, req.InitialClk
	return h
}

func newSubscriptionHandler[S any, T any](id int, req S, withClocks func(S, string, string) S) *SubscriptionHandler[S, T] {
	return &SubscriptionHandler[S, T]{
		subscriptionID: id,
		request:        req,
		withClocks:     withClocks,
		done:           make(chan struct{}),
	}
}

// SubscriptionID is the request id the server stamps on this subscription's frames.
func (h *SubscriptionHandler[S, T]) SubscriptionID() int {
	return h.subscriptionID
}

// ProcessChangeMessage returns the completed batch, or nil while a segmented
// batch is still being assembled or the frame belongs to another subscription.
func (h *SubscriptionHandler[S, T]) ProcessChangeMessage(cm *ChangeMessage[T]) *ChangeMessage[T] {
	if cm.ID != 0 && cm.ID != h.subscriptionID {
		// frame of a previous subscription still in flight
		return nil
	}

	var out *ChangeMessage[T]
	switch cm.SegmentType {
	case SegmentStart:
		h.segmentStart = cm
		h.segments = append(h.segments[:0:0], cm.Items...)
		return nil
	case SegmentMiddle:
		if h.segmentStart == nil {
			h.segmentStart = cm
		}
		h.segments = append(h.segments, cm.Items...)
		return nil
	case SegmentEnd:
		if h.segmentStart == nil {
			h.segmentStart = cm
		}
		out = h.mergeSegments(cm)
	default:
		out = cm
	}

	h.mu.Lock()
	if out.Clk != "" {
		h.clk = out.Clk
	}
	if out.IsStartOfRecovery() && out.InitialClk != "" {
		h.initialClk = out.InitialClk
	}
	h.lastPublishTime = out.PublishTime
	h.lastArrivalTime = out.ArrivalTime
	h.mu.Unlock()

	if out.IsEndOfRecovery() {
		h.doneOnce.Do(func() { close(h.done) })
	}
	return out
}

func (h *SubscriptionHandler[S, T]) mergeSegments(end *ChangeMessage[T]) *ChangeMessage[T] {
	start := h.segmentStart
	items := append(h.segments, end.Items...)
	h.segmentStart = nil
	h.segments = nil

	initialClk := start.InitialClk
	if initialClk == "" {
		initialClk = end.InitialClk
	}
	return &ChangeMessage[T]{
		ID:          end.ID,
		ChangeType:  start.ChangeType,
		SegmentType: SegmentNone,
		Clk:         end.Clk,
		InitialClk:  initialClk,
		ConflateMs:  start.ConflateMs,
		HeartbeatMs: start.HeartbeatMs,
		PublishTime: end.PublishTime,
		ArrivalTime: end.ArrivalTime,
		Items:       items,
	}
}

// Clk returns the latest resumption token.
func (h *SubscriptionHandler[S, T]) Clk() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clk
}

// InitialClk returns the token issued at the start of the last recovery.
func (h *SubscriptionHandler[S, T]) InitialClk() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.initialClk
}

// LastPublishTime returns the server time of the last completed batch.
func (h *SubscriptionHandler[S, T]) LastPublishTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastPublishTime
}

// LastArrivalTime returns the capture time of the last completed batch.
func (h *SubscriptionHandler[S, T]) LastArrivalTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastArrivalTime
}

// Request returns the original subscription request.
func (h *SubscriptionHandler[S, T]) Request() S {
	return h.request
}

// ResubscribeMessage is the original request carrying the current tokens.
func (h *SubscriptionHandler[S, T]) ResubscribeMessage() S {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.withClocks(h.request, h.clk, h.initialClk)
}

// Done is closed when the initial image (or resubscription replay) is complete,
// or when the handler is cancelled.
func (h *SubscriptionHandler[S, T]) Done() <-chan struct{} {
	return h.done
}

// Cancel releases waiters of a handler that was replaced or discarded.
func (h *SubscriptionHandler[S, T]) Cancel() {
	h.doneOnce.Do(func() {
		h.mu.Lock()
		h.cancelled = true
		h.mu.Unlock()
		close(h.done)
	})
}

// Wait blocks until the subscription is complete.
func (h *SubscriptionHandler[S, T]) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		h.mu.RLock()
		defer h.mu.RUnlock()
		if h.cancelled {
			return domain.ErrCancelled
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
