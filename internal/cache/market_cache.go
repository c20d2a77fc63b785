package cache

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"esa_go/internal/domain"
	"esa_go/internal/esa"
	"esa_go/internal/infra"
	"esa_go/internal/protocol"
)

// MarketChangeEvent is raised once per market item of a delivered batch.
type MarketChangeEvent struct {
	Snap   *MarketSnap
	Change *esa.MarketChange
}

// BatchMarketsChangeEvent is raised once per delivered batch, after every
// per-market event.
type BatchMarketsChangeEvent struct {
	Changes []MarketChangeEvent
}

// MarketCache maps market id to market state. OnMarketChange is the single
// writer; lookups are safe from any goroutine.
type MarketCache struct {
	logger  *slog.Logger
	metrics *infra.Metrics

	mu             sync.RWMutex
	markets        map[string]*Market
	removeOnClose  bool
	conflatedCount int
	lastPublish    time.Time
	lastArrival    time.Time

	marketChanged *listeners[MarketChangeEvent]
	batchChanged  *listeners[BatchMarketsChangeEvent]
}

// NewMarketCache creates an empty cache that evicts closed markets.
func NewMarketCache(metrics *infra.Metrics) *MarketCache {
	logger := slog.Default().With(slog.String("module", "market_cache"))
	return &MarketCache{
		logger:        logger,
		metrics:       metrics,
		markets:       make(map[string]*Market),
		removeOnClose: true,
		marketChanged: newListeners[MarketChangeEvent]("market_changed", logger, metrics),
		batchChanged:  newListeners[BatchMarketsChangeEvent]("batch_markets_changed", logger, metrics),
	}
}

// SetRemoveOnClose controls eviction of markets once they close.
func (c *MarketCache) SetRemoveOnClose(v bool) {
	c.mu.Lock()
	c.removeOnClose = v
	c.mu.Unlock()
}

// OnMarketChanged registers a per-market listener.
func (c *MarketCache) OnMarketChanged(fn func(MarketChangeEvent)) (cancel func()) {
	return c.marketChanged.add(fn)
}

// OnBatchMarketsChanged registers a per-batch listener.
func (c *MarketCache) OnBatchMarketsChanged(fn func(BatchMarketsChangeEvent)) (cancel func()) {
	return c.batchChanged.add(fn)
}

// OnMarketChange applies one completed batch and dispatches events after
// every item has been applied.
func (c *MarketCache) OnMarketChange(cm *protocol.MarketChangeMessage) {
	if cm.IsStartOfNewSubscription() {
		c.clear()
	}

	c.mu.Lock()
	c.lastPublish = cm.PublishTime
	c.lastArrival = cm.ArrivalTime
	c.mu.Unlock()

	if len(cm.Items) == 0 {
		return
	}

	events := make([]MarketChangeEvent, 0, len(cm.Items))
	for _, mc := range cm.Items {
		events = append(events, MarketChangeEvent{Snap: c.apply(mc), Change: mc})
	}
	c.metrics.SetMarketsTracked("market", c.Count())

	for _, ev := range events {
		c.marketChanged.dispatch(ev)
	}
	if !c.batchChanged.empty() {
		c.batchChanged.dispatch(BatchMarketsChangeEvent{Changes: events})
	}
}

func (c *MarketCache) apply(mc *esa.MarketChange) *MarketSnap {
	c.mu.Lock()
	if mc.Con {
		c.conflatedCount++
	}
	if mc.Img {
		delete(c.markets, mc.ID)
	}
	m, ok := c.markets[mc.ID]
	if !ok {
		m = newMarket(mc.ID)
		c.markets[mc.ID] = m
	}
	c.mu.Unlock()

	snap := m.onMarketChange(mc)

	if m.IsClosed() {
		c.mu.Lock()
		if c.removeOnClose {
			delete(c.markets, mc.ID)
			c.logger.Debug("Closed market evicted", slog.String("market_id", mc.ID))
		}
		c.mu.Unlock()
	}
	return snap
}

func (c *MarketCache) clear() {
	c.mu.Lock()
	n := len(c.markets)
	clear(c.markets)
	c.conflatedCount = 0
	c.mu.Unlock()
	if n > 0 {
		c.logger.Info("Cache cleared for new subscription", slog.Int("markets", n))
	}
}

// Snap returns the current snapshot of a tracked market.
func (c *MarketCache) Snap(marketID string) (*MarketSnap, error) {
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

// Markets returns the snapshots of every tracked market.
func (c *MarketCache) Markets() []*MarketSnap {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*MarketSnap, 0, len(c.markets))
	for _, m := range c.markets {
		if snap := m.Snap(); snap != nil {
			out = append(out, snap)
		}
	}
	return out
}

// Count returns the number of tracked markets.
func (c *MarketCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markets)
}

// ConflatedCount is the number of conflated items since the subscription began.
func (c *MarketCache) ConflatedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conflatedCount
}

// LastPublishTime is the server time of the last batch.
func (c *MarketCache) LastPublishTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPublish
}

// LastArrivalTime is the capture time of the last batch.
func (c *MarketCache) LastArrivalTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastArrival
}
