// Package catalog maintains named collections ("universes") of instrument
// definitions and their persistence.
package catalog

import (
	"context"

	"traderd/internal/domain"
)

// PortfolioUniverse is the reserved universe name that always mirrors the
// session's current holdings.
const PortfolioUniverse = "portfolio"

// Universe is a named, ordered collection of instruments, unique by stable
// key. Membership checks are O(1) via an internal key index.
type Universe struct {
	Name string

	instruments []domain.Instrument
	index       map[string]int // stable key → position in instruments
}

// NewUniverse creates a universe with the given name and instruments.
// Duplicate keys in the input collapse to the first occurrence.
func NewUniverse(name string, instruments ...domain.Instrument) *Universe {
	u := &Universe{
		Name:  name,
		index: make(map[string]int, len(instruments)),
	}
	for _, inst := range instruments {
		u.Append(inst)
	}
	return u
}

// Append adds the instrument unless one with the same stable key is already
// present. It reports whether the instrument was added.
func (u *Universe) Append(inst domain.Instrument) bool {
	if u.index == nil {
		u.index = make(map[string]int)
	}
	if _, ok := u.index[inst.Key]; ok {
		return false
	}
	u.index[inst.Key] = len(u.instruments)
	u.instruments = append(u.instruments, inst)
	return true
}

// Contains reports whether an instrument with the given stable key is a
// member.
func (u *Universe) Contains(key string) bool {
	_, ok := u.index[key]
	return ok
}

// Find returns the member instrument with the given stable key.
func (u *Universe) Find(key string) (domain.Instrument, bool) {
	i, ok := u.index[key]
	if !ok {
		return domain.Instrument{}, false
	}
	return u.instruments[i], true
}

// Clear removes all instruments.
func (u *Universe) Clear() {
	u.instruments = nil
	u.index = make(map[string]int)
}

// Len returns the number of member instruments.
func (u *Universe) Len() int { return len(u.instruments) }

// Instruments returns a copy of the member instruments in insertion order.
func (u *Universe) Instruments() []domain.Instrument {
	out := make([]domain.Instrument, len(u.instruments))
	copy(out, u.instruments)
	return out
}

// Accessor loads and replaces persisted universes by name. Get on an unknown
// name returns an empty universe, so callers can always append and Update.
type Accessor interface {
	// Get loads the universe with the given name.
	Get(ctx context.Context, name string) (*Universe, error)

	// Update replaces the persisted universe with the given one.
	Update(ctx context.Context, u *Universe) error

	// List returns all persisted universes.
	List(ctx context.Context) ([]*Universe, error)
}
