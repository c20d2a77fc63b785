package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"esa_go/internal/cache"
	"esa_go/internal/domain"
	"esa_go/internal/esa"
	"esa_go/internal/infra"
	"esa_go/internal/protocol"
)

// Subscriber issues subscriptions on the live stream. *stream.Client
// satisfies it.
type Subscriber interface {
	SubscribeMarkets(ctx context.Context, msg *esa.MarketSubscriptionMessage) error
	SubscribeOrders(ctx context.Context, msg *esa.OrderSubscriptionMessage) error
}

// Options configures a StreamingService.
type Options struct {
	// MarketDataFilter is sent with every market subscription.
	MarketDataFilter *esa.MarketDataFilter
	// OrderFilter is sent with the order subscription.
	OrderFilter *esa.OrderFilter
	// BufferSize is the per-subscriber channel capacity.
	BufferSize int
	// KeepClosedMarkets retains closed markets in both caches. By default
	// they are evicted once their final snapshot is published.
	KeepClosedMarkets bool
	// OnErrorStatus receives status notifications that match no request.
	OnErrorStatus func(msg *esa.StatusMessage)
}

// StreamingService owns the market and order caches, consumes change
// batches from the stream and exposes per-market snapshot streams.
type StreamingService struct {
	logger  *slog.Logger
	metrics *infra.Metrics
	opts    Options

	markets *cache.MarketCache
	orders  *cache.OrderCache

	marketHub *Broadcaster[*cache.MarketSnap]
	orderHub  *Broadcaster[*cache.OrderMarketSnap]

	mu               sync.Mutex
	subscriber       Subscriber
	marketIDs        map[string]struct{}
	ordersSubscribed bool

	cancels []func()
}

var _ protocol.ChangeHandler = (*StreamingService)(nil)

// NewStreamingService creates a service with empty caches. Bind a
// Subscriber before calling SubscribeMarket or SubscribeOrders.
func NewStreamingService(metrics *infra.Metrics, opts Options) *StreamingService {
	s := &StreamingService{
		logger:    slog.Default().With(slog.String("module", "streaming_service")),
		metrics:   metrics,
		opts:      opts,
		markets:   cache.NewMarketCache(metrics),
		orders:    cache.NewOrderCache(metrics),
		marketHub: NewBroadcaster[*cache.MarketSnap](opts.BufferSize),
		orderHub:  NewBroadcaster[*cache.OrderMarketSnap](opts.BufferSize),
		marketIDs: make(map[string]struct{}),
	}
	s.markets.SetRemoveOnClose(!opts.KeepClosedMarkets)
	s.orders.SetRemoveOnClose(!opts.KeepClosedMarkets)

	s.cancels = append(s.cancels,
		s.markets.OnMarketChanged(func(e cache.MarketChangeEvent) {
			if e.Snap.IsClosed {
				s.marketHub.Complete(e.Snap.MarketID, e.Snap)
				return
			}
			s.marketHub.Publish(e.Snap.MarketID, e.Snap)
		}),
		s.orders.OnOrderMarketChanged(func(e cache.OrderMarketChangeEvent) {
			if e.Snap.IsClosed {
				s.orderHub.Complete(e.Snap.MarketID, e.Snap)
				return
			}
			s.orderHub.Publish(e.Snap.MarketID, e.Snap)
		}),
	)
	return s
}

// Bind sets the stream used to issue subscriptions.
func (s *StreamingService) Bind(sub Subscriber) {
	s.mu.Lock()
	s.subscriber = sub
	s.mu.Unlock()
}

// Markets returns the market cache.
func (s *StreamingService) Markets() *cache.MarketCache {
	return s.markets
}

// Orders returns the order cache.
func (s *StreamingService) Orders() *cache.OrderCache {
	return s.orders
}

// OnErrorStatusNotification implements protocol.ChangeHandler.
func (s *StreamingService) OnErrorStatusNotification(msg *esa.StatusMessage) {
	s.logger.Warn("Uncorrelated status notification",
		slog.String("status", msg.StatusCode),
		slog.String("error_code", msg.ErrorCode),
		slog.String("error", msg.ErrorMessage),
		slog.Bool("connection_closed", msg.ConnectionClosed))

	if s.opts.OnErrorStatus == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordListenerPanic()
			s.logger.Error("Error status callback panicked", slog.Any("panic", r))
		}
	}()
	s.opts.OnErrorStatus(msg)
}

// OnMarketChange implements protocol.ChangeHandler.
func (s *StreamingService) OnMarketChange(cm *protocol.MarketChangeMessage) {
	s.markets.OnMarketChange(cm)
}

// OnOrderChange implements protocol.ChangeHandler.
func (s *StreamingService) OnOrderChange(cm *protocol.OrderChangeMessage) {
	s.orders.OnOrderChange(cm)
}

// SubscribeMarket returns a stream of snapshots for marketID and adds it to
// the watched set. A market not yet watched re-issues one subscription
// covering every watched id. The stream carries future snapshots only and
// ends after the snapshot that closes the market.
func (s *StreamingService) SubscribeMarket(ctx context.Context, marketID string) (*Subscription[*cache.MarketSnap], error) {
	s.mu.Lock()
	subscriber := s.subscriber
	if subscriber == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("subscribe market %s: %w", marketID, domain.ErrNotConnected)
	}
	_, watched := s.marketIDs[marketID]
	s.marketIDs[marketID] = struct{}{}
	ids := s.watchedLocked()
	s.mu.Unlock()

	sub := s.marketHub.Subscribe(marketID)
	if watched {
		return sub, nil
	}

	msg := &esa.MarketSubscriptionMessage{
		MarketFilter:     &esa.MarketFilter{MarketIDs: ids},
		MarketDataFilter: s.opts.MarketDataFilter,
	}
	if err := subscriber.SubscribeMarkets(ctx, msg); err != nil && !errors.Is(err, domain.ErrNotConnected) {
		s.mu.Lock()
		delete(s.marketIDs, marketID)
		s.mu.Unlock()
		sub.Close()
		return nil, fmt.Errorf("subscribe market %s: %w", marketID, err)
	}
	s.logger.Info("Market subscription updated",
		slog.String("market_id", marketID),
		slog.Int("markets", len(ids)))
	return sub, nil
}

// SubscribeOrders returns a stream of order snapshots for marketID. The
// account-wide order subscription is issued once.
func (s *StreamingService) SubscribeOrders(ctx context.Context, marketID string) (*Subscription[*cache.OrderMarketSnap], error) {
	s.mu.Lock()
	subscriber := s.subscriber
	if subscriber == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("subscribe orders %s: %w", marketID, domain.ErrNotConnected)
	}
	first := !s.ordersSubscribed
	s.ordersSubscribed = true
	s.mu.Unlock()

	sub := s.orderHub.Subscribe(marketID)
	if !first {
		return sub, nil
	}

	msg := &esa.OrderSubscriptionMessage{OrderFilter: s.opts.OrderFilter}
	if err := subscriber.SubscribeOrders(ctx, msg); err != nil && !errors.Is(err, domain.ErrNotConnected) {
		s.mu.Lock()
		s.ordersSubscribed = false
		s.mu.Unlock()
		sub.Close()
		return nil, fmt.Errorf("subscribe orders %s: %w", marketID, err)
	}
	return sub, nil
}

// WatchedMarkets returns the sorted ids of every market subscribed so far.
func (s *StreamingService) WatchedMarkets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchedLocked()
}

func (s *StreamingService) watchedLocked() []string {
	ids := make([]string, 0, len(s.marketIDs))
	for id := range s.marketIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MarketSnap returns the current snapshot of marketID.
func (s *StreamingService) MarketSnap(marketID string) (*cache.MarketSnap, error) {
	return s.markets.Snap(marketID)
}

// MarketSnaps returns the current snapshot of every tracked market.
func (s *StreamingService) MarketSnaps() []*cache.MarketSnap {
	return s.markets.Markets()
}

// OrderMarketSnap returns the current order snapshot of marketID.
func (s *StreamingService) OrderMarketSnap(marketID string) (*cache.OrderMarketSnap, error) {
	return s.orders.Snap(marketID)
}

// Close detaches from the caches and ends every open stream.
func (s *StreamingService) Close() {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.marketHub.Close()
	s.orderHub.Close()
}
