// Package memory is an in-process implementation of the repository contracts.
// A transaction holds the store lock for its whole duration and restores a
// snapshot on error, so every compound write is atomic and isolated.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/repository"
)

type txKey struct{}

type Store struct {
	mu sync.Mutex

	users    map[int]domain.User
	lots     map[int]domain.ParkingLot
	spots    map[int]domain.ParkingSpot
	sessions map[int]domain.ParkingSession
	seq      sequences

	now func() time.Time
}

type sequences struct {
	users, lots, spots, sessions int
}

type snapshot struct {
	users    map[int]domain.User
	lots     map[int]domain.ParkingLot
	spots    map[int]domain.ParkingSpot
	sessions map[int]domain.ParkingSession
	seq      sequences
}

func NewStore() *Store {
	return &Store{
		users:    make(map[int]domain.User),
		lots:     make(map[int]domain.ParkingLot),
		spots:    make(map[int]domain.ParkingSpot),
		sessions: make(map[int]domain.ParkingSession),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// lock acquires the store unless ctx already runs inside one of its transactions.
func (s *Store) lock(ctx context.Context) func() {
	if owner, ok := ctx.Value(txKey{}).(*Store); ok && owner == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, ok := ctx.Value(txKey{}).(*Store); ok && owner == s {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		users:    maps.Clone(s.users),
		lots:     maps.Clone(s.lots),
		spots:    maps.Clone(s.spots),
		sessions: maps.Clone(s.sessions),
		seq:      s.seq,
	}
}

func (s *Store) restore(snap snapshot) {
	s.users = snap.users
	s.lots = snap.lots
	s.spots = snap.spots
	s.sessions = snap.sessions
	s.seq = snap.seq
}

// Ping satisfies readiness probes.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Users() repository.UserRepository              { return &userRepo{s: s} }
func (s *Store) Lots() repository.ParkingLotRepository         { return &lotRepo{s: s} }
func (s *Store) Spots() repository.ParkingSpotRepository       { return &spotRepo{s: s} }
func (s *Store) Sessions() repository.ParkingSessionRepository { return &sessionRepo{s: s} }

var _ repository.TxManager = (*Store)(nil)

func paginate[T any](items []T, page, limit int) []T {
	if limit <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return nil
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
