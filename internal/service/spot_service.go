package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/guregu/null.v4"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/metrics"
	"github.com/nando3d2000/parking-project-backend/internal/repository"
)

// maxTransitionAttempts bounds retries after losing a conditional write.
const maxTransitionAttempts = 3

// TransitionRequest describes one requested status change.
type TransitionRequest struct {
	Target      domain.SpotStatus
	Actor       domain.Actor
	Reason      string
	Description string
	SensorMeta  *domain.SensorMeta
	// AllowedFrom, when set, restricts the current status; otherwise ErrProtectedState.
	AllowedFrom []domain.SpotStatus

	guard func(spot *domain.ParkingSpot) error
}

type SpotService struct {
	tx          repository.TxManager
	spotRepo    repository.ParkingSpotRepository
	lotRepo     repository.ParkingLotRepository
	sessionRepo repository.ParkingSessionRepository
	lots        *LotService
	publisher   EventPublisher
	metrics     *metrics.Metrics
	log         zerolog.Logger
	locks       *spotLocks
	now         func() time.Time
}

func NewSpotService(
	tx repository.TxManager,
	spotRepo repository.ParkingSpotRepository,
	lotRepo repository.ParkingLotRepository,
	sessionRepo repository.ParkingSessionRepository,
	lots *LotService,
	publisher EventPublisher,
	m *metrics.Metrics,
	log zerolog.Logger,
) *SpotService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &SpotService{
		tx:          tx,
		spotRepo:    spotRepo,
		lotRepo:     lotRepo,
		sessionRepo: sessionRepo,
		lots:        lots,
		publisher:   publisher,
		metrics:     m,
		log:         log.With().Str("component", "spot_service").Logger(),
		locks:       newSpotLocks(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Transition moves the spot to target. It is the only path by which a spot status changes.
func (s *SpotService) Transition(ctx context.Context, spotID int, target domain.SpotStatus, actor domain.Actor) (*domain.ParkingSpot, error) {
	return s.Apply(ctx, spotID, TransitionRequest{Target: target, Actor: actor})
}

func (s *SpotService) Apply(ctx context.Context, spotID int, req TransitionRequest) (*domain.ParkingSpot, error) {
	spot, _, err := s.apply(ctx, spotID, req)
	return spot, err
}

// apply serializes on the spot, commits the transition and publishes the change.
func (s *SpotService) apply(ctx context.Context, spotID int, req TransitionRequest) (*domain.ParkingSpot, *domain.SpotStatusChange, error) {
	unlock := s.locks.lock(spotID)
	defer unlock()

	var (
		updated *domain.ParkingSpot
		change  *domain.SpotStatusChange
		err     error
	)
	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
			spot, err := s.spotRepo.FindByID(ctx, spotID)
			if err != nil {
				return translateRepoError(err, ErrSpotNotFound)
			}
			updated, change, err = s.commitTransition(ctx, spot, req)
			return err
		})
		if !errors.Is(err, repository.ErrStaleStatus) {
			break
		}
		s.log.Debug().Int("spotId", spotID).Int("attempt", attempt).Msg("stale spot status, retrying transition")
	}
	if errors.Is(err, repository.ErrStaleStatus) {
		s.log.Warn().Int("spotId", spotID).Msg("spot kept changing, giving up on transition")
	}
	if err != nil {
		s.metrics.ObserveRejection(rejectionReason(err))
		return nil, nil, err
	}

	s.afterCommit(ctx, change)
	return updated, change, nil
}

// commitTransition validates and writes one transition inside the caller's transaction.
// The returned event must be handed to afterCommit once the transaction commits.
func (s *SpotService) commitTransition(ctx context.Context, spot *domain.ParkingSpot, req TransitionRequest) (*domain.ParkingSpot, *domain.SpotStatusChange, error) {
	if !req.Target.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownStatus, req.Target)
	}
	if req.guard != nil {
		if err := req.guard(spot); err != nil {
			return nil, nil, err
		}
	}
	if len(req.AllowedFrom) > 0 && !slices.Contains(req.AllowedFrom, spot.Status) {
		return nil, nil, fmt.Errorf("%w: spot %d is %s", ErrProtectedState, spot.ID, spot.Status)
	}
	if !domain.CanTransition(spot.Status, req.Target) {
		return nil, nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, spot.Status, req.Target)
	}

	var reservedBy null.Int
	if req.Target == domain.StatusReserved {
		reservedBy = null.IntFrom(int64(req.Actor.UserID))
	}
	updated, err := s.spotRepo.UpdateStatus(ctx, domain.SpotStatusUpdate{
		SpotID:     spot.ID,
		From:       spot.Status,
		To:         req.Target,
		ReservedBy: reservedBy,
		Source:     string(req.Actor.Source),
	})
	if errors.Is(err, repository.ErrStaleStatus) {
		return nil, nil, fmt.Errorf("%w: spot %d: %w", ErrInvalidTransition, spot.ID, err)
	}
	if err != nil {
		return nil, nil, translateRepoError(err, ErrSpotNotFound)
	}

	change := &domain.SpotStatusChange{
		EventID:     uuid.NewString(),
		SpotID:      updated.ID,
		Code:        updated.Code,
		LotID:       updated.LotID,
		OldStatus:   spot.Status,
		NewStatus:   updated.Status,
		Source:      req.Actor.Source,
		Reason:      req.Reason,
		Description: req.Description,
		ActorID:     req.Actor.UserID,
		SensorMeta:  req.SensorMeta,
		Timestamp:   s.now(),
	}
	return updated, change, nil
}

// afterCommit records and broadcasts a committed transition. Callers hold the spot lock.
func (s *SpotService) afterCommit(ctx context.Context, change *domain.SpotStatusChange) {
	if change == nil {
		return
	}
	s.metrics.ObserveTransition(string(change.OldStatus), string(change.NewStatus), string(change.Source))
	if s.lots != nil {
		s.lots.InvalidateStats(ctx, change.LotID)
	}
	s.publisher.PublishSpotStatusChange(*change)
	s.log.Info().
		Int("spotId", change.SpotID).
		Str("from", string(change.OldStatus)).
		Str("to", string(change.NewStatus)).
		Str("source", string(change.Source)).
		Msg("spot status changed")
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownStatus):
		return "unknown_status"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrProtectedState):
		return "protected_state"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, repository.ErrNotFound):
		return "not_found"
	}
	return "error"
}

// Reserve moves a free spot to reserved on behalf of userID.
func (s *SpotService) Reserve(ctx context.Context, spotID, userID int) (*domain.ParkingSpot, error) {
	return s.Apply(ctx, spotID, TransitionRequest{
		Target:      domain.StatusReserved,
		Actor:       domain.Actor{UserID: userID, Role: domain.RoleUser, Source: domain.SourceUserAction},
		Description: "Spot reserved",
	})
}

// CancelReservation frees a reserved spot. Only the reserving user or an admin may cancel.
func (s *SpotService) CancelReservation(ctx context.Context, spotID int, actor domain.Actor) (*domain.ParkingSpot, error) {
	return s.Apply(ctx, spotID, TransitionRequest{
		Target:      domain.StatusFree,
		Actor:       actor,
		Description: "Reservation cancelled",
		guard: func(spot *domain.ParkingSpot) error {
			if spot.Status != domain.StatusReserved {
				return fmt.Errorf("%w: spot %d is not reserved", ErrInvalidTransition, spot.ID)
			}
			if !actor.IsAdmin() && !spot.ReservedByUser(actor.UserID) {
				return fmt.Errorf("%w: reservation belongs to another user", ErrForbidden)
			}
			return nil
		},
	})
}

// UpdateStatus is the admin override. status accepts the internal or display vocabulary.
func (s *SpotService) UpdateStatus(ctx context.Context, spotID int, status string, description string, actor domain.Actor) (*domain.ParkingSpot, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	target, err := domain.ParseAnyStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	if description == "" {
		description = fmt.Sprintf("Status set to %s by admin", target.Display())
	}
	actor.Source = domain.SourceAdmin
	return s.Apply(ctx, spotID, TransitionRequest{Target: target, Actor: actor, Description: description})
}

func (s *SpotService) CreateSpot(ctx context.Context, dto domain.CreateParkingSpotDTO, creatorID int) (*domain.ParkingSpot, error) {
	if !dto.SpotType.Valid() {
		return nil, fmt.Errorf("%w: spot type must be car or motorcycle", ErrValidation)
	}

	var created *domain.ParkingSpot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.lotRepo.FindByID(ctx, dto.LotID); err != nil {
			return translateRepoError(err, ErrLotNotFound)
		}
		spot := &domain.ParkingSpot{
			LotID:            dto.LotID,
			SpotType:         dto.SpotType,
			Status:           domain.StatusFree,
			LastStatusSource: string(domain.SourceAdmin),
			IsActive:         true,
		}
		if creatorID > 0 {
			spot.CreatedBy = null.IntFrom(int64(creatorID))
		}
		spot, err := s.spotRepo.Create(ctx, spot)
		if err != nil {
			return translateRepoError(err, ErrSpotNotFound)
		}
		// the code embeds the id, so it is only known after the insert
		spot.Code = domain.SpotCode(spot.SpotType, spot.ID)
		if created, err = s.spotRepo.Update(ctx, spot); err != nil {
			return translateRepoError(err, ErrSpotNotFound)
		}
		_, err = s.lots.RecalculateTotals(ctx, dto.LotID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int("spotId", created.ID).Str("code", created.Code).Int("lotId", created.LotID).Msg("parking spot created")
	s.lots.PublishStats(ctx, created.LotID)
	return created, nil
}

func (s *SpotService) UpdateSpot(ctx context.Context, spotID int, dto domain.UpdateParkingSpotDTO) (*domain.ParkingSpot, error) {
	if dto.SpotType != nil && !dto.SpotType.Valid() {
		return nil, fmt.Errorf("%w: spot type must be car or motorcycle", ErrValidation)
	}

	unlock := s.locks.lock(spotID)
	defer unlock()

	var (
		updated  *domain.ParkingSpot
		affected []int
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		spot, err := s.spotRepo.FindByID(ctx, spotID)
		if err != nil {
			return translateRepoError(err, ErrSpotNotFound)
		}
		affected = []int{spot.LotID}

		if dto.LotID != nil && *dto.LotID != spot.LotID {
			if _, err := s.lotRepo.FindByID(ctx, *dto.LotID); err != nil {
				return translateRepoError(err, ErrLotNotFound)
			}
			spot.LotID = *dto.LotID
			affected = append(affected, spot.LotID)
		}
		if dto.SpotType != nil && *dto.SpotType != spot.SpotType {
			spot.SpotType = *dto.SpotType
			spot.Code = domain.SpotCode(spot.SpotType, spot.ID)
		}
		if dto.IsActive != nil {
			spot.IsActive = *dto.IsActive
		}

		if updated, err = s.spotRepo.Update(ctx, spot); err != nil {
			return translateRepoError(err, ErrSpotNotFound)
		}
		for _, lotID := range affected {
			if _, err := s.lots.RecalculateTotals(ctx, lotID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.lots.PublishStats(ctx, affected...)
	return updated, nil
}

// DeleteSpot removes a spot that has no open session.
func (s *SpotService) DeleteSpot(ctx context.Context, spotID int) error {
	unlock := s.locks.lock(spotID)
	defer unlock()

	var lotID int
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		spot, err := s.spotRepo.FindByID(ctx, spotID)
		if err != nil {
			return translateRepoError(err, ErrSpotNotFound)
		}
		lotID = spot.LotID

		if _, err := s.sessionRepo.FindActiveBySpot(ctx, spotID); err == nil {
			return fmt.Errorf("%w: spot %d", ErrSpotInUse, spotID)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("SpotService.DeleteSpot (active session): %w", err)
		}

		if err := s.spotRepo.Delete(ctx, spotID); err != nil {
			return translateRepoError(err, ErrSpotNotFound)
		}
		_, err = s.lots.RecalculateTotals(ctx, lotID)
		return err
	})
	if err != nil {
		return err
	}

	s.log.Info().Int("spotId", spotID).Int("lotId", lotID).Msg("parking spot deleted")
	s.lots.PublishStats(ctx, lotID)
	return nil
}

func (s *SpotService) GetSpot(ctx context.Context, spotID int) (*domain.ParkingSpot, error) {
	spot, err := s.spotRepo.FindByID(ctx, spotID)
	if err != nil {
		return nil, translateRepoError(err, ErrSpotNotFound)
	}
	return spot, nil
}

func (s *SpotService) ListSpots(ctx context.Context, filter domain.ParkingSpotFilter) (domain.Page[domain.ParkingSpot], error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	spots, total, err := s.spotRepo.Find(ctx, filter)
	if err != nil {
		return domain.Page[domain.ParkingSpot]{}, fmt.Errorf("SpotService.ListSpots: %w", err)
	}
	return domain.NewPage(spots, total, filter.Page, filter.Limit), nil
}

// Snapshot returns every active spot with its current status, for late joining subscribers.
func (s *SpotService) Snapshot(ctx context.Context) ([]domain.ParkingSpot, error) {
	spots, err := s.spotRepo.FindActiveByStatuses(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("SpotService.Snapshot: %w", err)
	}
	return spots, nil
}
