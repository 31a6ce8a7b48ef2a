package session

import (
	"sync"

	"traderd/internal/domain"
)

// holdingKey identifies one (account, instrument) pair. At most one active
// position and one portfolio item exist per key.
type holdingKey struct {
	account       string
	instrumentKey string
}

// Portfolio is the mutable position/holdings ledger. It accepts concurrent
// updates from the position and portfolio-item streams; updates are
// last-writer-wins per (account, instrument).
type Portfolio struct {
	mu        sync.RWMutex
	positions map[holdingKey]domain.Position
	items     map[holdingKey]domain.PortfolioItem
}

// NewPortfolio creates an empty portfolio.
func NewPortfolio() *Portfolio {
	return &Portfolio{
		positions: make(map[holdingKey]domain.Position),
		items:     make(map[holdingKey]domain.PortfolioItem),
	}
}

// UpdatePositions folds a streamed position batch into the ledger.
func (p *Portfolio) UpdatePositions(batch []domain.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pos := range batch {
		p.positions[holdingKey{pos.Account, pos.InstrumentKey}] = pos
	}
}

// UpdateItem folds one streamed portfolio item into the ledger.
func (p *Portfolio) UpdateItem(item domain.PortfolioItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[holdingKey{item.Account, item.Instrument.Key}] = item
}

// Positions returns a copy of all known positions.
func (p *Portfolio) Positions() []domain.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out
}

// Items returns a copy of all known portfolio items.
func (p *Portfolio) Items() []domain.PortfolioItem {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.PortfolioItem, 0, len(p.items))
	for _, item := range p.items {
		out = append(out, item)
	}
	return out
}

// Item returns the portfolio item for one (account, instrument) pair.
func (p *Portfolio) Item(account, instrumentKey string) (domain.PortfolioItem, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	item, ok := p.items[holdingKey{account, instrumentKey}]
	return item, ok
}
