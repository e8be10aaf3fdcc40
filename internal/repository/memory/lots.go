package memory

import (
	"context"
	"sort"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/repository"
)

type lotRepo struct {
	s *Store
}

func (r *lotRepo) Create(ctx context.Context, lot *domain.ParkingLot) (*domain.ParkingLot, error) {
	defer r.s.lock(ctx)()

	r.s.seq.lots++
	lot.ID = r.s.seq.lots
	lot.TotalSpots = 0
	lot.CreatedAt = r.s.now()
	lot.UpdatedAt = lot.CreatedAt
	r.s.lots[lot.ID] = *lot
	return lot, nil
}

func (r *lotRepo) FindByID(ctx context.Context, id int) (*domain.ParkingLot, error) {
	defer r.s.lock(ctx)()

	lot, ok := r.s.lots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &lot, nil
}

func (r *lotRepo) FindAll(ctx context.Context) ([]domain.ParkingLot, error) {
	defer r.s.lock(ctx)()

	lots := make([]domain.ParkingLot, 0, len(r.s.lots))
	for _, lot := range r.s.lots {
		lots = append(lots, lot)
	}
	sort.Slice(lots, func(i, j int) bool { return lots[i].Name < lots[j].Name })
	return lots, nil
}

func (r *lotRepo) Update(ctx context.Context, lot *domain.ParkingLot) (*domain.ParkingLot, error) {
	defer r.s.lock(ctx)()

	stored, ok := r.s.lots[lot.ID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	stored.Name = lot.Name
	stored.Location = lot.Location
	stored.Description = lot.Description
	stored.IsActive = lot.IsActive
	stored.UpdatedAt = r.s.now()
	r.s.lots[lot.ID] = stored
	return &stored, nil
}

func (r *lotRepo) Delete(ctx context.Context, id int) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.lots[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.lots, id)
	for spotID, spot := range r.s.spots {
		if spot.LotID != id {
			continue
		}
		delete(r.s.spots, spotID)
		for sessionID, session := range r.s.sessions {
			if session.SpotID == spotID {
				delete(r.s.sessions, sessionID)
			}
		}
	}
	return nil
}

func (r *lotRepo) RecalculateTotalSpots(ctx context.Context, lotID int) (int, error) {
	defer r.s.lock(ctx)()

	lot, ok := r.s.lots[lotID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	total := 0
	for _, spot := range r.s.spots {
		if spot.LotID == lotID && spot.IsActive {
			total++
		}
	}
	lot.TotalSpots = total
	lot.UpdatedAt = r.s.now()
	r.s.lots[lotID] = lot
	return total, nil
}
