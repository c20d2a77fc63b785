package cache

import (
	"sync/atomic"

	"esa_go/internal/domain"
	"esa_go/internal/esa"
)

// OrderMarket holds the order runners of one market.
type OrderMarket struct {
	id        string
	accountID int64
	runners   map[domain.RunnerID]*OrderMarketRunner
	order     []domain.RunnerID
	closed    bool

	snap atomic.Pointer[OrderMarketSnap]
}

func newOrderMarket(id string) *OrderMarket {
	return &OrderMarket{
		id:      id,
		runners: make(map[domain.RunnerID]*OrderMarketRunner),
	}
}

// ID returns the market id.
func (m *OrderMarket) ID() string {
	return m.id
}

// IsClosed reports the closed flag of the last change.
func (m *OrderMarket) IsClosed() bool {
	return m.closed
}

// Snap returns the last published snapshot.
func (m *OrderMarket) Snap() *OrderMarketSnap {
	return m.snap.Load()
}

func (m *OrderMarket) onOrderMarketChange(omc *esa.OrderMarketChange) *OrderMarketSnap {
	if omc.AccountID != 0 {
		m.accountID = omc.AccountID
	}

	for _, orc := range omc.Orc {
		id := domain.RunnerID{SelectionID: orc.ID, Handicap: orc.Hc}
		r, ok := m.runners[id]
		if !ok {
			r = newOrderMarketRunner(m.id, id)
			m.runners[id] = r
			m.order = append(m.order, id)
		}
		r.onOrderRunnerChange(orc)
	}

	m.closed = omc.Closed

	runners := make([]*OrderMarketRunnerSnap, 0, len(m.order))
	for _, id := range m.order {
		runners = append(runners, m.runners[id].Snap())
	}
	snap := &OrderMarketSnap{
		MarketID:  m.id,
		AccountID: m.accountID,
		Runners:   runners,
		IsClosed:  m.closed,
	}
	m.snap.Store(snap)
	return snap
}
