package cache

import (
	"fmt"
	"log/slog"
	"sync"

	"esa_go/internal/domain"
	"esa_go/internal/esa"
	"esa_go/internal/infra"
	"esa_go/internal/protocol"
)

// OrderMarketChangeEvent is raised once per order market item of a batch.
type OrderMarketChangeEvent struct {
	Snap   *OrderMarketSnap
	Change *esa.OrderMarketChange
}

// BatchOrderMarketsChangeEvent is raised once per delivered batch.
type BatchOrderMarketsChangeEvent struct {
	Changes []OrderMarketChangeEvent
}

// OrderCache maps market id to the account's orders in that market.
type OrderCache struct {
	logger  *slog.Logger
	metrics *infra.Metrics

	mu            sync.RWMutex
	markets       map[string]*OrderMarket
	removeOnClose bool

	marketChanged *listeners[OrderMarketChangeEvent]
	batchChanged  *listeners[BatchOrderMarketsChangeEvent]
}

// NewOrderCache creates an empty cache that evicts closed markets.
func NewOrderCache(metrics *infra.Metrics) *OrderCache {
	logger := slog.Default().With(slog.String("module", "order_cache"))
	return &OrderCache{
		logger:        logger,
		metrics:       metrics,
		markets:       make(map[string]*OrderMarket),
		removeOnClose: true,
		marketChanged: newListeners[OrderMarketChangeEvent]("order_market_changed", logger, metrics),
		batchChanged:  newListeners[BatchOrderMarketsChangeEvent]("batch_order_markets_changed", logger, metrics),
	}
}

func (c *OrderCache) SetRemoveOnClose(v bool) {
	c.mu.Lock()
	c.removeOnClose = v
	c.mu.Unlock()
}

func (c *OrderCache) OnOrderMarketChanged(fn func(OrderMarketChangeEvent)) (cancel func()) {
	return c.marketChanged.add(fn)
}

func (c *OrderCache) OnBatchOrderMarketsChanged(fn func(BatchOrderMarketsChangeEvent)) (cancel func()) {
	return c.batchChanged.add(fn)
}

// OnOrderChange applies one completed batch.
func (c *OrderCache) OnOrderChange(cm *protocol.OrderChangeMessage) {
	if cm.IsStartOfNewSubscription() {
		c.mu.Lock()
		clear(c.markets)
		c.mu.Unlock()
	}
	if len(cm.Items) == 0 {
		return
	}

	events := make([]OrderMarketChangeEvent, 0, len(cm.Items))
	for _, omc := range cm.Items {
		events = append(events, OrderMarketChangeEvent{Snap: c.apply(omc), Change: omc})
	}
	c.metrics.SetMarketsTracked("order", c.Count())

	for _, ev := range events {
		c.marketChanged.dispatch(ev)
	}
	if !c.batchChanged.empty() {
		c.batchChanged.dispatch(BatchOrderMarketsChangeEvent{Changes: events})
	}
}

func (c *OrderCache) apply(omc *esa.OrderMarketChange) *OrderMarketSnap {
	c.mu.Lock()
	if omc.FullImage {
		delete(c.markets, omc.ID)
	}
	m, ok := c.markets[omc.ID]
	if !ok {
		m = newOrderMarket(omc.ID)
		c.markets[omc.ID] = m
	}
	c.mu.Unlock()

	snap := m.onOrderMarketChange(omc)

	if m.IsClosed() {
		c.mu.Lock()
		if c.removeOnClose {
			delete(c.markets, omc.ID)
		}
		c.mu.Unlock()
	}
	return snap
}

// Snap returns the current snapshot of a tracked order market.
func (c *OrderCache) Snap(marketID string) (*OrderMarketSnap, error) {
	c.mu.RLock()
	m, ok := c.markets[marketID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMarketNotFound, marketID)
	}
	snap := m.Snap()
	if snap == nil {
		// inserted but first change not yet applied
		return nil, fmt.Errorf("%w: %s", domain.ErrMarketNotFound, marketID)
	}
	return snap, nil
}

// Markets returns the snapshots of every tracked order market.
func (c *OrderCache) Markets() []*OrderMarketSnap {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*OrderMarketSnap, 0, len(c.markets))
	for _, m := range c.markets {
		if snap := m.Snap(); snap != nil {
			out = append(out, snap)
		}
	}
	return out
}

func (c *OrderCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markets)
}
