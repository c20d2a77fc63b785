package cache

import (
	"sync/atomic"

	"esa_go/internal/domain"
	"esa_go/internal/esa"
	"esa_go/internal/ladder"
)

// Market holds the runners of one market. Mutated by the writer goroutine;
// Snap may be read from anywhere.
type Market struct {
	id      string
	runners map[domain.RunnerID]*MarketRunner
	order   []domain.RunnerID

	definition *esa.MarketDefinition
	tv         float64
	closed     bool

	snap atomic.Pointer[MarketSnap]
}

func newMarket(id string) *Market {
	return &Market{
		id:      id,
		runners: make(map[domain.RunnerID]*MarketRunner),
	}
}

// ID returns the market id.
func (m *Market) ID() string {
	return m.id
}

// IsClosed reports whether the current definition status is CLOSED.
func (m *Market) IsClosed() bool {
	return m.closed
}

// Snap returns the last published snapshot.
func (m *Market) Snap() *MarketSnap {
	return m.snap.Load()
}

func (m *Market) onMarketChange(mc *esa.MarketChange) *MarketSnap {
	if mc.Img {
		clear(m.runners)
		m.order = m.order[:0]
	}

	if mc.MarketDefinition != nil {
		m.onMarketDefinitionChange(mc.MarketDefinition)
	}

	for _, rc := range mc.Rc {
		m.runner(domain.RunnerID{SelectionID: rc.ID, Handicap: rc.Hc}).onPriceChange(mc.Img, rc)
	}

	ladder.SelectPrice(mc.Img, &m.tv, mc.Tv)

	snap := m.buildSnap()
	m.snap.Store(snap)
	return snap
}

func (m *Market) onMarketDefinitionChange(def *esa.MarketDefinition) {
	m.definition = def
	m.closed = def.Status == esa.MarketStatusClosed
	for _, rd := range def.Runners {
		m.runner(domain.RunnerID{SelectionID: rd.ID, Handicap: rd.Hc}).onRunnerDefinitionChange(rd)
	}
}

func (m *Market) runner(id domain.RunnerID) *MarketRunner {
	r, ok := m.runners[id]
	if !ok {
		r = newMarketRunner(m.id, id)
		m.runners[id] = r
		m.order = append(m.order, id)
	}
	return r
}

func (m *Market) buildSnap() *MarketSnap {
	runners := make([]*MarketRunnerSnap, 0, len(m.order))
	for _, id := range m.order {
		runners = append(runners, m.runners[id].Snap())
	}
	return &MarketSnap{
		MarketID:     m.id,
		Definition:   m.definition,
		Runners:      runners,
		TradedVolume: m.tv,
		IsClosed:     m.closed,
	}
}
