package service

import (
	"context"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
)

// EventPublisher fans occupancy events out to subscribers.
// Implementations must not block and must not fail the caller.
type EventPublisher interface {
	PublishSpotStatusChange(change domain.SpotStatusChange)
	PublishLotStats(update domain.LotStatsUpdate)
	PublishSensorTelemetry(reading domain.SensorTelemetry)
}

type nopPublisher struct{}

func (nopPublisher) PublishSpotStatusChange(domain.SpotStatusChange) {}
func (nopPublisher) PublishLotStats(domain.LotStatsUpdate)           {}
func (nopPublisher) PublishSensorTelemetry(domain.SensorTelemetry)   {}

// StatsCache is an optional read-through cache for lot statistics.
type StatsCache interface {
	GetLotStats(ctx context.Context, lotID int) (*domain.LotStats, bool)
	SetLotStats(ctx context.Context, stats domain.LotStats)
	InvalidateLotStats(ctx context.Context, lotIDs ...int)
}
