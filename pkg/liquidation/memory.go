package liquidation

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/lucidperp/posmon/pkg/domain"
)

// entry is one member of an in-process ordered set: a score plus the
// monotonic insertion sequence used to break ties, so equal scores keep
// a stable order.
type entry struct {
	id    domain.Address
	score decimal.Decimal
	seq   uint64
}

// InMemoryBackend is the default Backend: one sorted slice per key,
// kept ordered on every insert via binary search. Intended for the
// common case where a single process owns the whole liquidation index,
// the same "map of sorted slices per key" shape an order book uses for
// its price levels.
type InMemoryBackend struct {
	mu   sync.Mutex
	sets map[string][]entry
	seq  uint64
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{sets: make(map[string][]entry)}
}

func (b *InMemoryBackend) Insert(key string, member domain.Address, score decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.removeLocked(key, member)
	b.seq++
	e := entry{id: member, score: score, seq: b.seq}

	// Strict '>' keeps ties broken by insertion order: a new member
	// lands after every existing entry with an equal score, never
	// before it.
	idx := sort.Search(len(set), func(i int) bool {
		return set[i].score.Cmp(score) > 0
	})
	set = append(set, entry{})
	copy(set[idx+1:], set[idx:])
	set[idx] = e
	b.sets[key] = set
	return nil
}

func (b *InMemoryBackend) Remove(key string, member domain.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(key, member)
	return nil
}

// removeLocked deletes member from key's set (if present) and returns
// the resulting slice. Caller holds b.mu.
func (b *InMemoryBackend) removeLocked(key string, member domain.Address) []entry {
	set := b.sets[key]
	for i, e := range set {
		if e.id == member {
			set = append(set[:i], set[i+1:]...)
			b.sets[key] = set
			return set
		}
	}
	return set
}

func (b *InMemoryBackend) Range(key string, lo, hi Bound) ([]Member, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.sets[key]
	out := make([]Member, 0, len(set))
	for _, e := range set {
		if !lo.Unbounded && e.score.Cmp(lo.Value) < 0 {
			continue
		}
		if !hi.Unbounded && e.score.Cmp(hi.Value) > 0 {
			continue
		}
		out = append(out, Member{ID: e.id, Score: e.score})
	}
	return out, nil
}

var _ Backend = (*InMemoryBackend)(nil)
