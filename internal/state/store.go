package state

import (
	"sync"

	"github.com/google/uuid"
)

// Store holds all ledger records in memory. Mutations go through a Txn:
// Begin takes the store lock, records are lazily cloned into the staging
// area on first touch, and Commit writes every staged clone back in one
// step. Abort discards the staging area, leaving the store untouched.
// Holding the lock for the whole transaction serializes operations, so a
// half-applied trade is never observable.
type Store struct {
	mu        sync.Mutex
	config    *LedgerConfig
	relayers  *RelayerSet
	positions map[PositionKey]*Position
	stats     map[uuid.UUID]*UserStats
}

func NewStore(config *LedgerConfig, relayers *RelayerSet) *Store {
	return &Store{
		config:    config,
		relayers:  relayers,
		positions: make(map[PositionKey]*Position),
		stats:     make(map[uuid.UUID]*UserStats),
	}
}

// Begin opens a transaction and takes the store lock. The caller must
// finish with Commit or Abort.
func (s *Store) Begin() *Txn {
	s.mu.Lock()
	return &Txn{
		store:     s,
		positions: make(map[PositionKey]*Position),
		stats:     make(map[uuid.UUID]*UserStats),
	}
}

// GetConfig returns a copy of the current config.
func (s *Store) GetConfig() LedgerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.config
}

// GetRelayers returns a deep copy of the current relayer set.
func (s *Store) GetRelayers() RelayerSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.relayers.Clone()
}

// GetPosition returns a copy of the position for (user, market).
func (s *Store) GetPosition(user uuid.UUID, market string) (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[PositionKey{User: user, Market: market}]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// GetStats returns a copy of the stats record for user.
func (s *Store) GetStats(user uuid.UUID) (UserStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[user]
	if !ok {
		return UserStats{}, false
	}
	return *st, true
}

// Txn is a staging area over the store. Reads fall through to the base
// records but always hand out staged clones, so mutations never touch
// the store until Commit.
type Txn struct {
	store     *Store
	done      bool
	config    *LedgerConfig
	relayers  *RelayerSet
	positions map[PositionKey]*Position
	stats     map[uuid.UUID]*UserStats
}

// Config returns the staged config, cloning it on first access.
func (t *Txn) Config() *LedgerConfig {
	if t.config == nil {
		t.config = t.store.config.Clone()
	}
	return t.config
}

// Relayers returns the staged relayer set, cloning it on first access.
func (t *Txn) Relayers() *RelayerSet {
	if t.relayers == nil {
		t.relayers = t.store.relayers.Clone()
	}
	return t.relayers
}

// Position returns the staged position for (user, market), cloning the
// base record on first access.
func (t *Txn) Position(user uuid.UUID, market string) (*Position, bool) {
	key := PositionKey{User: user, Market: market}
	if p, ok := t.positions[key]; ok {
		return p, true
	}
	base, ok := t.store.positions[key]
	if !ok {
		return nil, false
	}
	clone := base.Clone()
	t.positions[key] = clone
	return clone, true
}

// PutPosition stages a new or replaced position record.
func (t *Txn) PutPosition(p *Position) {
	t.positions[p.Key()] = p
}

// Stats returns the staged stats for user, creating the record on first
// trade.
func (t *Txn) Stats(user uuid.UUID, now int64) *UserStats {
	if st, ok := t.stats[user]; ok {
		return st
	}
	base, ok := t.store.stats[user]
	var clone *UserStats
	if ok {
		clone = base.Clone()
	} else {
		clone = NewUserStats(user, now)
	}
	t.stats[user] = clone
	return clone
}

// MarketPositions returns staged clones of every position in the given
// market, staging each so later mutation is safe. Order is unspecified.
func (t *Txn) MarketPositions(market string) []*Position {
	var out []*Position
	for key, base := range t.store.positions {
		if key.Market != market {
			continue
		}
		if staged, ok := t.positions[key]; ok {
			out = append(out, staged)
			continue
		}
		clone := base.Clone()
		t.positions[key] = clone
		out = append(out, clone)
	}
	return out
}

// Commit writes every staged record back to the store and releases the
// lock.
func (t *Txn) Commit() {
	if t.done {
		return
	}
	t.done = true
	if t.config != nil {
		t.store.config = t.config
	}
	if t.relayers != nil {
		t.store.relayers = t.relayers
	}
	for key, p := range t.positions {
		t.store.positions[key] = p
	}
	for user, st := range t.stats {
		t.store.stats[user] = st
	}
	t.store.mu.Unlock()
}

// Abort discards the staging area and releases the lock. Calling Abort
// after Commit is a no-op, so it is safe to defer.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.store.mu.Unlock()
}
