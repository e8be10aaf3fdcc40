package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/guregu/null.v4"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/metrics"
	"github.com/nando3d2000/parking-project-backend/internal/repository"
)

type SessionService struct {
	tx          repository.TxManager
	sessionRepo repository.ParkingSessionRepository
	spotRepo    repository.ParkingSpotRepository
	spots       *SpotService
	metrics     *metrics.Metrics
	log         zerolog.Logger
	now         func() time.Time
}

func NewSessionService(
	tx repository.TxManager,
	sessionRepo repository.ParkingSessionRepository,
	spotRepo repository.ParkingSpotRepository,
	spots *SpotService,
	m *metrics.Metrics,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		tx:          tx,
		sessionRepo: sessionRepo,
		spotRepo:    spotRepo,
		spots:       spots,
		metrics:     m,
		log:         log.With().Str("component", "session_service").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// StartSession opens a session for userID on spotID and occupies the spot in one transaction.
func (s *SessionService) StartSession(ctx context.Context, userID, spotID int, notes string) (*domain.SessionView, error) {
	unlock := s.spots.locks.lock(spotID)
	defer unlock()

	var (
		session *domain.ParkingSession
		change  *domain.SpotStatusChange
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		spot, err := s.spotRepo.FindByID(ctx, spotID)
		if err != nil {
			return translateRepoError(err, ErrSpotNotFound)
		}
		reservedForUser := spot.ReservedByUser(userID)
		if !spot.IsActive || (spot.Status != domain.StatusFree && !reservedForUser) {
			return fmt.Errorf("%w: spot %s is %s", ErrSpotUnavailable, spot.Code, spot.Status.Display())
		}

		if _, err := s.sessionRepo.FindActiveByUser(ctx, userID); err == nil {
			return ErrSessionAlreadyActive
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("SessionService.StartSession (active session): %w", err)
		}

		sessionType := domain.SessionWalkIn
		if reservedForUser {
			sessionType = domain.SessionReserved
		}
		newSession := &domain.ParkingSession{
			UserID:      userID,
			SpotID:      spotID,
			StartTime:   s.now(),
			SessionType: sessionType,
		}
		if notes != "" {
			newSession.Notes = null.StringFrom(notes)
		}
		session, err = s.sessionRepo.Create(ctx, newSession)
		if err != nil {
			if errors.Is(err, repository.ErrActiveSessionExists) {
				return ErrSessionAlreadyActive
			}
			return fmt.Errorf("SessionService.StartSession (create): %w", err)
		}

		var updated *domain.ParkingSpot
		updated, change, err = s.spots.commitTransition(ctx, spot, TransitionRequest{
			Target:      domain.StatusOccupied,
			Actor:       domain.Actor{UserID: userID, Role: domain.RoleUser, Source: domain.SourceUserAction},
			Description: "Parking session started",
		})
		if err != nil {
			return err
		}
		session.Spot = updated
		return nil
	})
	if err != nil {
		s.metrics.ObserveRejection(rejectionReason(err))
		return nil, err
	}

	s.spots.afterCommit(ctx, change)
	s.metrics.ObserveSessionStarted(string(session.SessionType))
	s.log.Info().Int("sessionId", session.ID).Int("userId", userID).Int("spotId", spotID).Msg("parking session started")

	view := domain.NewSessionView(session, s.now())
	return &view, nil
}

// EndSession closes an open session and frees its spot in one transaction.
func (s *SessionService) EndSession(ctx context.Context, sessionID int, requester domain.Actor, dto domain.EndSessionDTO) (*domain.SessionView, error) {
	existing, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, translateRepoError(err, ErrSessionNotFound)
	}

	unlock := s.spots.locks.lock(existing.SpotID)
	defer unlock()

	var (
		closed *domain.ParkingSession
		change *domain.SpotStatusChange
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		session, err := s.sessionRepo.FindByID(ctx, sessionID)
		if err != nil {
			return translateRepoError(err, ErrSessionNotFound)
		}
		if !session.IsOpen() {
			return ErrSessionAlreadyEnded
		}
		if session.UserID != requester.UserID && !requester.IsAdmin() {
			return fmt.Errorf("%w: session belongs to another user", ErrForbidden)
		}

		end := s.now()
		session.EndTime = null.TimeFrom(end)
		session.DurationMinutes = null.IntFrom(domain.NewSessionDuration(session.StartTime, end).TotalMinutes)
		if dto.TotalAmount != nil {
			session.TotalAmount = null.FloatFrom(*dto.TotalAmount)
		}
		if dto.Notes != nil {
			session.Notes = null.StringFrom(*dto.Notes)
		}
		closed, err = s.sessionRepo.Close(ctx, session)
		if err != nil {
			if errors.Is(err, repository.ErrSessionClosed) {
				return ErrSessionAlreadyEnded
			}
			return fmt.Errorf("SessionService.EndSession (close): %w", err)
		}

		spot, err := s.spotRepo.FindByID(ctx, session.SpotID)
		if err != nil {
			return translateRepoError(err, ErrSpotNotFound)
		}
		switch spot.Status {
		case domain.StatusFree:
			// the sensor feed already saw the departure
			closed.Spot = spot
			return nil
		case domain.StatusOccupied, domain.StatusMaintenance:
			var updated *domain.ParkingSpot
			updated, change, err = s.spots.commitTransition(ctx, spot, TransitionRequest{
				Target:      domain.StatusFree,
				Actor:       domain.Actor{UserID: requester.UserID, Role: requester.Role, Source: domain.SourceUserAction},
				Description: "Parking session ended",
			})
			if err != nil {
				return err
			}
			closed.Spot = updated
			return nil
		}
		// freeing a reserved spot would drop someone else's hold
		return fmt.Errorf("%w: cannot release spot in status %s", ErrInvalidTransition, spot.Status)
	})
	if err != nil {
		s.metrics.ObserveRejection(rejectionReason(err))
		return nil, err
	}

	s.spots.afterCommit(ctx, change)
	s.metrics.ObserveSessionEnded(closed.DurationMinutes.Int64)
	s.log.Info().Int("sessionId", closed.ID).Int64("minutes", closed.DurationMinutes.Int64).Msg("parking session ended")

	view := domain.NewSessionView(closed, s.now())
	return &view, nil
}

// GetActiveSession returns the user's open session, or nil when there is none.
func (s *SessionService) GetActiveSession(ctx context.Context, userID int) (*domain.SessionView, error) {
	session, err := s.sessionRepo.FindActiveByUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("SessionService.GetActiveSession: %w", err)
	}
	if spot, err := s.spotRepo.FindByID(ctx, session.SpotID); err == nil {
		session.Spot = spot
	}
	view := domain.NewSessionView(session, s.now())
	return &view, nil
}

// GetSession is visible to the session owner and admins.
func (s *SessionService) GetSession(ctx context.Context, sessionID int, requester domain.Actor) (*domain.SessionView, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, translateRepoError(err, ErrSessionNotFound)
	}
	if session.UserID != requester.UserID && !requester.IsAdmin() {
		return nil, ErrForbidden
	}
	if spot, err := s.spotRepo.FindByID(ctx, session.SpotID); err == nil {
		session.Spot = spot
	}
	view := domain.NewSessionView(session, s.now())
	return &view, nil
}

func (s *SessionService) ListUserSessions(ctx context.Context, userID int, filter domain.ParkingSessionFilter) (domain.Page[domain.SessionView], error) {
	filter.UserID = &userID
	return s.ListSessions(ctx, filter)
}

func (s *SessionService) ListSessions(ctx context.Context, filter domain.ParkingSessionFilter) (domain.Page[domain.SessionView], error) {
	filter.Normalize()
	switch filter.Status {
	case domain.SessionFilterActive, domain.SessionFilterCompleted, domain.SessionFilterAll:
	default:
		return domain.Page[domain.SessionView]{}, fmt.Errorf("%w: status must be active, completed or all", ErrValidation)
	}

	sessions, total, err := s.sessionRepo.Find(ctx, filter)
	if err != nil {
		return domain.Page[domain.SessionView]{}, fmt.Errorf("SessionService.ListSessions: %w", err)
	}
	now := s.now()
	views := make([]domain.SessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, domain.NewSessionView(&sessions[i], now))
	}
	return domain.NewPage(views, total, filter.Page, filter.Limit), nil
}

// Stats aggregates sessions started within period ("1d", "7d" or "30d"), optionally for one lot.
func (s *SessionService) Stats(ctx context.Context, lotID *int, period string) (*domain.SessionStats, error) {
	if period == "" {
		period = "7d"
	}
	since, err := domain.StatsPeriodStart(period, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	stats, err := s.sessionRepo.Stats(ctx, lotID, since)
	if err != nil {
		return nil, fmt.Errorf("SessionService.Stats: %w", err)
	}
	stats.Period = period
	stats.LotID = lotID
	return stats, nil
}
