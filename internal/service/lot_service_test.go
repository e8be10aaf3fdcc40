package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nando3d2000/parking-project-backend/internal/cache"
	"github.com/nando3d2000/parking-project-backend/internal/domain"
)

func TestLotService_Stats(t *testing.T) {
	f := newFixture(t, nil)
	spots := f.addSpots(t, 4)
	ctx := context.Background()

	f.force(t, spots[0].ID, domain.StatusOccupied)
	f.force(t, spots[1].ID, domain.StatusMaintenance)

	stats, err := f.lots.Stats(ctx, f.lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Available)
	assert.Equal(t, 1, stats.Occupied)
	assert.Equal(t, 1, stats.Maintenance)
	assert.InDelta(t, 25.0, stats.OccupancyRate, 0.001)
	assert.Equal(t, 4, stats.BySpotType[domain.SpotTypeCar].Total)

	_, err = f.lots.Stats(ctx, 999)
	assert.ErrorIs(t, err, ErrLotNotFound)
}

func TestLotService_StatsCacheInvalidatedByTransition(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t, nil)
	f.lots.cache = cache.NewLotStatsCache(rdb, time.Minute, f.log)
	spot := f.addSpots(t, 1)[0]
	ctx := context.Background()

	hits := f.metrics.StatsCacheLookups.WithLabelValues("hit")
	before := testutil.ToFloat64(hits)

	first, err := f.lots.Stats(ctx, f.lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Available)

	_, err = f.lots.Stats(ctx, f.lot.ID)
	require.NoError(t, err)
	assert.Equal(t, before+2, testutil.ToFloat64(hits), "spot creation already warmed the cache")

	_, err = f.spots.Transition(ctx, spot.ID, domain.StatusOccupied, userActor(7))
	require.NoError(t, err)

	after, err := f.lots.Stats(ctx, f.lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.Available)
	assert.Equal(t, 1, after.Occupied)
}

func TestLotService_CRUD(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.lots.CreateLot(ctx, domain.ParkingLotDTO{Name: " ", Location: "x"})
	assert.ErrorIs(t, err, ErrValidation)

	inactive := false
	updated, err := f.lots.UpdateLot(ctx, f.lot.ID, domain.ParkingLotDTO{Name: "Central Plaza", Location: "Main St 1", IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "Central Plaza", updated.Name)
	assert.False(t, updated.IsActive)

	lots, err := f.lots.ListLots(ctx)
	require.NoError(t, err)
	assert.Len(t, lots, 1)

	require.NoError(t, f.lots.DeleteLot(ctx, f.lot.ID))
	_, err = f.lots.GetLot(ctx, f.lot.ID)
	assert.ErrorIs(t, err, ErrLotNotFound)
	assert.ErrorIs(t, f.lots.DeleteLot(ctx, f.lot.ID), ErrLotNotFound)
}
