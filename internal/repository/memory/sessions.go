package memory

import (
	"context"
	"sort"
	"time"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/repository"
)

type sessionRepo struct {
	s *Store
}

// withLot fills the lot reference from the owning spot.
func (r *sessionRepo) withLot(session domain.ParkingSession) domain.ParkingSession {
	if spot, ok := r.s.spots[session.SpotID]; ok {
		session.LotID = spot.LotID
	}
	return session
}

func (r *sessionRepo) Create(ctx context.Context, session *domain.ParkingSession) (*domain.ParkingSession, error) {
	defer r.s.lock(ctx)()

	for _, existing := range r.s.sessions {
		if existing.UserID == session.UserID && existing.IsOpen() {
			return nil, repository.ErrActiveSessionExists
		}
	}
	r.s.seq.sessions++
	session.ID = r.s.seq.sessions
	session.CreatedAt = r.s.now()
	session.UpdatedAt = session.CreatedAt
	r.s.sessions[session.ID] = *session
	*session = r.withLot(*session)
	return session, nil
}

func (r *sessionRepo) FindByID(ctx context.Context, id int) (*domain.ParkingSession, error) {
	defer r.s.lock(ctx)()

	session, ok := r.s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	session = r.withLot(session)
	return &session, nil
}

func (r *sessionRepo) FindActiveByUser(ctx context.Context, userID int) (*domain.ParkingSession, error) {
	return r.findOpen(ctx, func(s domain.ParkingSession) bool { return s.UserID == userID })
}

func (r *sessionRepo) FindActiveBySpot(ctx context.Context, spotID int) (*domain.ParkingSession, error) {
	return r.findOpen(ctx, func(s domain.ParkingSession) bool { return s.SpotID == spotID })
}

func (r *sessionRepo) findOpen(ctx context.Context, match func(domain.ParkingSession) bool) (*domain.ParkingSession, error) {
	defer r.s.lock(ctx)()

	for _, session := range r.s.sessions {
		if session.IsOpen() && match(session) {
			session = r.withLot(session)
			return &session, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *sessionRepo) Close(ctx context.Context, session *domain.ParkingSession) (*domain.ParkingSession, error) {
	defer r.s.lock(ctx)()

	stored, ok := r.s.sessions[session.ID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !stored.IsOpen() {
		return nil, repository.ErrSessionClosed
	}
	stored.EndTime = session.EndTime
	stored.DurationMinutes = session.DurationMinutes
	stored.TotalAmount = session.TotalAmount
	stored.Notes = session.Notes
	stored.UpdatedAt = r.s.now()
	r.s.sessions[stored.ID] = stored
	stored = r.withLot(stored)
	return &stored, nil
}

func (r *sessionRepo) matching(filter domain.ParkingSessionFilter) []domain.ParkingSession {
	var out []domain.ParkingSession
	for _, session := range r.s.sessions {
		session = r.withLot(session)
		switch filter.Status {
		case domain.SessionFilterActive:
			if !session.IsOpen() {
				continue
			}
		case domain.SessionFilterCompleted:
			if session.IsOpen() {
				continue
			}
		}
		if filter.LotID != nil && session.LotID != *filter.LotID {
			continue
		}
		if filter.UserID != nil && session.UserID != *filter.UserID {
			continue
		}
		if filter.StartDate != nil && session.StartTime.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && session.StartTime.After(*filter.EndDate) {
			continue
		}
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

func (r *sessionRepo) Find(ctx context.Context, filter domain.ParkingSessionFilter) ([]domain.ParkingSession, int, error) {
	defer r.s.lock(ctx)()

	filter.Normalize()
	all := r.matching(filter)
	return paginate(all, filter.Page, filter.Limit), len(all), nil
}

func (r *sessionRepo) Stats(ctx context.Context, lotID *int, since time.Time) (*domain.SessionStats, error) {
	defer r.s.lock(ctx)()

	stats := &domain.SessionStats{LotID: lotID}
	var durationSum int64
	for _, session := range r.matching(domain.ParkingSessionFilter{LotID: lotID, StartDate: &since}) {
		stats.Total++
		if session.IsOpen() {
			stats.Active++
			continue
		}
		stats.Completed++
		durationSum += session.DurationMinutes.Int64
	}
	if stats.Completed > 0 {
		stats.AverageDurationMinutes = float64(durationSum) / float64(stats.Completed)
	}
	return stats, nil
}
