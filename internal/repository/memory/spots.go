package memory

import (
	"context"
	"slices"
	"sort"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/repository"
)

type spotRepo struct {
	s *Store
}

func (r *spotRepo) Create(ctx context.Context, spot *domain.ParkingSpot) (*domain.ParkingSpot, error) {
	defer r.s.lock(ctx)()

	r.s.seq.spots++
	spot.ID = r.s.seq.spots
	spot.CreatedAt = r.s.now()
	spot.UpdatedAt = spot.CreatedAt
	r.s.spots[spot.ID] = *spot
	return spot, nil
}

func (r *spotRepo) FindByID(ctx context.Context, id int) (*domain.ParkingSpot, error) {
	defer r.s.lock(ctx)()

	spot, ok := r.s.spots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &spot, nil
}

func (r *spotRepo) Find(ctx context.Context, filter domain.ParkingSpotFilter) ([]domain.ParkingSpot, int, error) {
	defer r.s.lock(ctx)()

	var spots []domain.ParkingSpot
	for _, spot := range r.s.spots {
		if filter.LotID != nil && spot.LotID != *filter.LotID {
			continue
		}
		if filter.Status != nil && spot.Status != *filter.Status {
			continue
		}
		if filter.SpotType != nil && spot.SpotType != *filter.SpotType {
			continue
		}
		if filter.IsActive != nil && spot.IsActive != *filter.IsActive {
			continue
		}
		spots = append(spots, spot)
	}
	sort.Slice(spots, func(i, j int) bool {
		if spots[i].LotID != spots[j].LotID {
			return spots[i].LotID < spots[j].LotID
		}
		return spots[i].ID < spots[j].ID
	})
	return paginate(spots, filter.Page, filter.Limit), len(spots), nil
}

func (r *spotRepo) FindActiveByStatuses(ctx context.Context, statuses []domain.SpotStatus) ([]domain.ParkingSpot, error) {
	defer r.s.lock(ctx)()

	var spots []domain.ParkingSpot
	for _, spot := range r.s.spots {
		if !spot.IsActive {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, spot.Status) {
			continue
		}
		spots = append(spots, spot)
	}
	sort.Slice(spots, func(i, j int) bool { return spots[i].ID < spots[j].ID })
	return spots, nil
}

func (r *spotRepo) UpdateStatus(ctx context.Context, upd domain.SpotStatusUpdate) (*domain.ParkingSpot, error) {
	defer r.s.lock(ctx)()

	spot, ok := r.s.spots[upd.SpotID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if spot.Status != upd.From {
		return nil, repository.ErrStaleStatus
	}
	spot.Status = upd.To
	spot.ReservedBy = upd.ReservedBy
	spot.LastStatusSource = upd.Source
	spot.UpdatedAt = r.s.now()
	r.s.spots[spot.ID] = spot
	return &spot, nil
}

func (r *spotRepo) Update(ctx context.Context, spot *domain.ParkingSpot) (*domain.ParkingSpot, error) {
	defer r.s.lock(ctx)()

	stored, ok := r.s.spots[spot.ID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	stored.LotID = spot.LotID
	stored.Code = spot.Code
	stored.SpotType = spot.SpotType
	stored.IsActive = spot.IsActive
	stored.UpdatedAt = r.s.now()
	r.s.spots[spot.ID] = stored
	return &stored, nil
}

func (r *spotRepo) Delete(ctx context.Context, id int) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.spots[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.spots, id)
	for sessionID, session := range r.s.sessions {
		if session.SpotID == id {
			delete(r.s.sessions, sessionID)
		}
	}
	return nil
}

func (r *spotRepo) CountByLot(ctx context.Context, lotID int) ([]domain.SpotCount, error) {
	defer r.s.lock(ctx)()

	type key struct {
		t domain.SpotType
		s domain.SpotStatus
	}
	tally := map[key]int{}
	for _, spot := range r.s.spots {
		if spot.LotID == lotID && spot.IsActive {
			tally[key{spot.SpotType, spot.Status}]++
		}
	}
	counts := make([]domain.SpotCount, 0, len(tally))
	for k, n := range tally {
		counts = append(counts, domain.SpotCount{SpotType: k.t, Status: k.s, Count: n})
	}
	return counts, nil
}
