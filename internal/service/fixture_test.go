package service

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/metrics"
	"github.com/nando3d2000/parking-project-backend/internal/repository/memory"
)

type recordingPublisher struct {
	mu        sync.Mutex
	changes   []domain.SpotStatusChange
	stats     []domain.LotStatsUpdate
	telemetry []domain.SensorTelemetry
}

func (p *recordingPublisher) PublishSpotStatusChange(c domain.SpotStatusChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
}

func (p *recordingPublisher) PublishLotStats(u domain.LotStatsUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = append(p.stats, u)
}

func (p *recordingPublisher) PublishSensorTelemetry(r domain.SensorTelemetry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.telemetry = append(p.telemetry, r)
}

func (p *recordingPublisher) Changes() []domain.SpotStatusChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.SpotStatusChange(nil), p.changes...)
}

func (p *recordingPublisher) Telemetry() []domain.SensorTelemetry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.SensorTelemetry(nil), p.telemetry...)
}

func (p *recordingPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes, p.stats, p.telemetry = nil, nil, nil
}

type fixture struct {
	store    *memory.Store
	pub      *recordingPublisher
	metrics  *metrics.Metrics
	log      zerolog.Logger
	lots     *LotService
	spots    *SpotService
	sessions *SessionService
	lot      *domain.ParkingLot
}

var admin = domain.Actor{UserID: 1, Role: domain.RoleAdmin, Source: domain.SourceAdmin}

func newFixture(t *testing.T, cache StatsCache) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewStore(),
		pub:     &recordingPublisher{},
		metrics: metrics.New(prometheus.NewRegistry()),
		log:     zerolog.New(io.Discard),
	}
	f.lots = NewLotService(f.store, f.store.Lots(), f.store.Spots(), cache, f.pub, f.metrics, f.log)
	f.spots = NewSpotService(f.store, f.store.Spots(), f.store.Lots(), f.store.Sessions(), f.lots, f.pub, f.metrics, f.log)
	f.sessions = NewSessionService(f.store, f.store.Sessions(), f.store.Spots(), f.spots, f.metrics, f.log)

	lot, err := f.lots.CreateLot(context.Background(), domain.ParkingLotDTO{Name: "Central", Location: "Main St 1"})
	require.NoError(t, err)
	f.lot = lot
	return f
}

// addSpots creates n car spots in the fixture lot and clears recorded events.
func (f *fixture) addSpots(t *testing.T, n int) []*domain.ParkingSpot {
	t.Helper()
	spots := make([]*domain.ParkingSpot, 0, n)
	for i := 0; i < n; i++ {
		spot, err := f.spots.CreateSpot(context.Background(), domain.CreateParkingSpotDTO{LotID: f.lot.ID, SpotType: domain.SpotTypeCar}, admin.UserID)
		require.NoError(t, err)
		spots = append(spots, spot)
	}
	f.pub.Reset()
	return spots
}

// force writes a status directly, bypassing the state machine.
func (f *fixture) force(t *testing.T, spotID int, to domain.SpotStatus) {
	t.Helper()
	ctx := context.Background()
	spot, err := f.store.Spots().FindByID(ctx, spotID)
	require.NoError(t, err)
	_, err = f.store.Spots().UpdateStatus(ctx, domain.SpotStatusUpdate{SpotID: spotID, From: spot.Status, To: to})
	require.NoError(t, err)
}

func (f *fixture) status(t *testing.T, spotID int) domain.SpotStatus {
	t.Helper()
	spot, err := f.store.Spots().FindByID(context.Background(), spotID)
	require.NoError(t, err)
	return spot.Status
}

func userActor(id int) domain.Actor {
	return domain.Actor{UserID: id, Role: domain.RoleUser, Source: domain.SourceUserAction}
}
