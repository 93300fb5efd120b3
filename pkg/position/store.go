// Package position is the indexed in-memory store of mirrored Position
// records: a primary map plus by-symbol and by-owner inverted indices,
// kept consistent on every insert/update/remove. All three maps share a
// single mutex, so there is no lock-ordering hazard between them; the
// liquidation index is updated only after the primary lock is released.
package position

import (
	"sync"

	"github.com/lucidperp/posmon/pkg/apperr"
	"github.com/lucidperp/posmon/pkg/domain"
)

// LiquidationIndexer is the subset of the liquidation index's interface
// the store needs on every add/update/remove, so this package does not
// import pkg/liquidation directly (it is wired in by the caller instead).
type LiquidationIndexer interface {
	Upsert(p *domain.Position)
	Remove(p *domain.Position)
}

// Store is the indexed position store (spec component D).
type Store struct {
	mu sync.RWMutex

	primary map[domain.Address]*domain.Position
	bySym   map[string]map[domain.Address]struct{}
	byOwner map[domain.Address]map[domain.Address]struct{}

	liq LiquidationIndexer
}

// New builds an empty Store. liq may be nil if no liquidation index is
// wired (e.g. in a test harness that only exercises the store itself).
func New(liq LiquidationIndexer) *Store {
	return &Store{
		primary: make(map[domain.Address]*domain.Position),
		bySym:   make(map[string]map[domain.Address]struct{}),
		byOwner: make(map[domain.Address]map[domain.Address]struct{}),
		liq:     liq,
	}
}

// Add inserts a new position. Adding an id that already exists is
// treated as Update so repeated on-chain sightings are idempotent.
func (s *Store) Add(p *domain.Position) {
	s.Upsert(p)
}

// Upsert inserts or replaces the position at p.ID, maintaining the
// symbol and owner indices. The liquidation index is only touched when
// it needs to be: reindexing clears the entry's residency (see
// liquidation.Index.Upsert), so re-upserting on every unrelated refresh
// would re-arm an alert that already fired for the position's current
// side/liquidation price.
func (s *Store) Upsert(p *domain.Position) {
	cp := clone(p)

	s.mu.Lock()
	old, existed := s.primary[cp.ID]
	if existed {
		s.unindex(old)
	}
	s.primary[cp.ID] = cp
	s.index(cp)
	s.mu.Unlock()

	if s.liq == nil {
		return
	}
	if !cp.IsOpen() {
		s.liq.Remove(cp)
		return
	}
	if !existed || !old.IsOpen() || old.Side != cp.Side || !old.LiquidationPrice.Equal(cp.LiquidationPrice) {
		s.liq.Upsert(cp)
	}
}

// Remove deletes a position by id. Returns false if it was not present.
func (s *Store) Remove(id domain.Address) bool {
	s.mu.Lock()
	old, exists := s.primary[id]
	if !exists {
		s.mu.Unlock()
		return false
	}
	delete(s.primary, id)
	s.unindex(old)
	s.mu.Unlock()

	if s.liq != nil {
		s.liq.Remove(old)
	}
	return true
}

// index registers p under its symbol/owner indices. Caller holds s.mu.
func (s *Store) index(p *domain.Position) {
	if s.bySym[p.Symbol] == nil {
		s.bySym[p.Symbol] = make(map[domain.Address]struct{})
	}
	s.bySym[p.Symbol][p.ID] = struct{}{}

	if s.byOwner[p.Owner] == nil {
		s.byOwner[p.Owner] = make(map[domain.Address]struct{})
	}
	s.byOwner[p.Owner][p.ID] = struct{}{}
}

// unindex removes p from its symbol/owner indices. Caller holds s.mu.
func (s *Store) unindex(p *domain.Position) {
	if set, ok := s.bySym[p.Symbol]; ok {
		delete(set, p.ID)
		if len(set) == 0 {
			delete(s.bySym, p.Symbol)
		}
	}
	if set, ok := s.byOwner[p.Owner]; ok {
		delete(set, p.ID)
		if len(set) == 0 {
			delete(s.byOwner, p.Owner)
		}
	}
}

// Get returns a snapshot copy of the position with the given id.
func (s *Store) Get(id domain.Address) (*domain.Position, error) {
	s.mu.RLock()
	p, ok := s.primary[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "position %s not found", id)
	}
	return clone(p), nil
}

// All returns a snapshot of every position currently stored.
func (s *Store) All() []*domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Position, 0, len(s.primary))
	for _, p := range s.primary {
		out = append(out, clone(p))
	}
	return out
}

// BySymbol returns a snapshot of every position for symbol.
func (s *Store) BySymbol(symbol string) []*domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySym[symbol]
	out := make([]*domain.Position, 0, len(ids))
	for id := range ids {
		out = append(out, clone(s.primary[id]))
	}
	return out
}

// ByOwner returns a snapshot of every position for owner.
func (s *Store) ByOwner(owner domain.Address) []*domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byOwner[owner]
	out := make([]*domain.Position, 0, len(ids))
	for id := range ids {
		out = append(out, clone(s.primary[id]))
	}
	return out
}

// Statistics summarizes the store's current contents.
type Statistics struct {
	TotalPositions int
	OpenPositions  int
	Symbols        int
	Owners         int
}

// Statistics computes a point-in-time summary.
func (s *Store) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Statistics{
		TotalPositions: len(s.primary),
		Symbols:        len(s.bySym),
		Owners:         len(s.byOwner),
	}
	for _, p := range s.primary {
		if p.IsOpen() {
			stats.OpenPositions++
		}
	}
	return stats
}

// ReconcileSeen removes every open position not present in seen — used
// after a full on-chain scan to drop positions that disappeared (closed
// or otherwise no longer returned by the program account scan).
func (s *Store) ReconcileSeen(seen map[domain.Address]struct{}) {
	s.mu.RLock()
	stale := make([]domain.Address, 0)
	for id, p := range s.primary {
		if !p.IsOpen() {
			continue
		}
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range stale {
		s.Remove(id)
	}
}

func clone(p *domain.Position) *domain.Position {
	cp := *p
	return &cp
}
