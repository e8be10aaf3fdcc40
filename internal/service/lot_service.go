package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/metrics"
	"github.com/nando3d2000/parking-project-backend/internal/repository"
)

type LotService struct {
	tx        repository.TxManager
	lotRepo   repository.ParkingLotRepository
	spotRepo  repository.ParkingSpotRepository
	cache     StatsCache
	publisher EventPublisher
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time
}

// NewLotService wires the lot service. cache and publisher may be nil.
func NewLotService(
	tx repository.TxManager,
	lotRepo repository.ParkingLotRepository,
	spotRepo repository.ParkingSpotRepository,
	cache StatsCache,
	publisher EventPublisher,
	m *metrics.Metrics,
	log zerolog.Logger,
) *LotService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &LotService{
		tx:        tx,
		lotRepo:   lotRepo,
		spotRepo:  spotRepo,
		cache:     cache,
		publisher: publisher,
		metrics:   m,
		log:       log.With().Str("component", "lot_service").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func validateLot(dto domain.ParkingLotDTO) error {
	if strings.TrimSpace(dto.Name) == "" || strings.TrimSpace(dto.Location) == "" {
		return fmt.Errorf("%w: name and location are required", ErrValidation)
	}
	return nil
}

func (s *LotService) CreateLot(ctx context.Context, dto domain.ParkingLotDTO) (*domain.ParkingLot, error) {
	if err := validateLot(dto); err != nil {
		return nil, err
	}
	lot := &domain.ParkingLot{
		Name:        strings.TrimSpace(dto.Name),
		Location:    strings.TrimSpace(dto.Location),
		Description: dto.Description,
		IsActive:    true,
	}
	if dto.IsActive != nil {
		lot.IsActive = *dto.IsActive
	}
	created, err := s.lotRepo.Create(ctx, lot)
	if err != nil {
		return nil, translateRepoError(err, ErrLotNotFound)
	}
	s.log.Info().Int("lotId", created.ID).Str("name", created.Name).Msg("parking lot created")
	return created, nil
}

func (s *LotService) GetLot(ctx context.Context, id int) (*domain.ParkingLot, error) {
	lot, err := s.lotRepo.FindByID(ctx, id)
	if err != nil {
		return nil, translateRepoError(err, ErrLotNotFound)
	}
	return lot, nil
}

func (s *LotService) ListLots(ctx context.Context) ([]domain.ParkingLot, error) {
	return s.lotRepo.FindAll(ctx)
}

func (s *LotService) UpdateLot(ctx context.Context, id int, dto domain.ParkingLotDTO) (*domain.ParkingLot, error) {
	if err := validateLot(dto); err != nil {
		return nil, err
	}
	lot, err := s.lotRepo.FindByID(ctx, id)
	if err != nil {
		return nil, translateRepoError(err, ErrLotNotFound)
	}
	lot.Name = strings.TrimSpace(dto.Name)
	lot.Location = strings.TrimSpace(dto.Location)
	lot.Description = dto.Description
	if dto.IsActive != nil {
		lot.IsActive = *dto.IsActive
	}
	updated, err := s.lotRepo.Update(ctx, lot)
	if err != nil {
		return nil, translateRepoError(err, ErrLotNotFound)
	}
	return updated, nil
}

// DeleteLot removes the lot, its spots and their sessions.
func (s *LotService) DeleteLot(ctx context.Context, id int) error {
	if err := s.lotRepo.Delete(ctx, id); err != nil {
		return translateRepoError(err, ErrLotNotFound)
	}
	s.InvalidateStats(ctx, id)
	s.log.Info().Int("lotId", id).Msg("parking lot deleted")
	return nil
}

// Stats returns per-status counts of the lot's active spots.
func (s *LotService) Stats(ctx context.Context, lotID int) (*domain.LotStats, error) {
	if s.cache != nil {
		if stats, ok := s.cache.GetLotStats(ctx, lotID); ok {
			s.metrics.ObserveCacheLookup(true)
			return stats, nil
		}
		s.metrics.ObserveCacheLookup(false)
	}

	if _, err := s.lotRepo.FindByID(ctx, lotID); err != nil {
		return nil, translateRepoError(err, ErrLotNotFound)
	}
	rows, err := s.spotRepo.CountByLot(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("LotService.Stats: %w", err)
	}
	stats := domain.NewLotStats(lotID, rows)
	if s.cache != nil {
		s.cache.SetLotStats(ctx, stats)
	}
	return &stats, nil
}

// RecalculateTotals refreshes the denormalized spot count. Runs inside the caller's transaction.
func (s *LotService) RecalculateTotals(ctx context.Context, lotID int) (int, error) {
	total, err := s.lotRepo.RecalculateTotalSpots(ctx, lotID)
	if err != nil {
		return 0, translateRepoError(err, ErrLotNotFound)
	}
	return total, nil
}

func (s *LotService) InvalidateStats(ctx context.Context, lotIDs ...int) {
	if s.cache != nil {
		s.cache.InvalidateLotStats(ctx, lotIDs...)
	}
}

// PublishStats recomputes and broadcasts statistics for each lot. Failures are logged only.
func (s *LotService) PublishStats(ctx context.Context, lotIDs ...int) {
	s.InvalidateStats(ctx, lotIDs...)
	for _, id := range lotIDs {
		stats, err := s.Stats(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Int("lotId", id).Msg("lot stats not published")
			continue
		}
		s.publisher.PublishLotStats(domain.LotStatsUpdate{LotID: id, Stats: *stats, Timestamp: s.now()})
	}
}
