package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
)

type mockStatsCache struct {
	mock.Mock
}

func (m *mockStatsCache) GetLotStats(ctx context.Context, lotID int) (*domain.LotStats, bool) {
	args := m.Called(ctx, lotID)
	stats, _ := args.Get(0).(*domain.LotStats)
	return stats, args.Bool(1)
}

func (m *mockStatsCache) SetLotStats(ctx context.Context, stats domain.LotStats) {
	m.Called(ctx, stats)
}

func (m *mockStatsCache) InvalidateLotStats(ctx context.Context, lotIDs ...int) {
	m.Called(ctx, lotIDs)
}

func TestLotService_StatsServedFromCache(t *testing.T) {
	f := newFixture(t, nil)
	cached := domain.NewLotStats(f.lot.ID, []domain.SpotCount{{SpotType: domain.SpotTypeCar, Status: domain.StatusOccupied, Count: 3}})

	c := &mockStatsCache{}
	c.On("GetLotStats", mock.Anything, f.lot.ID).Return(&cached, true).Once()
	f.lots.cache = c

	stats, err := f.lots.Stats(context.Background(), f.lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Occupied)
	c.AssertExpectations(t)
	c.AssertNotCalled(t, "SetLotStats", mock.Anything, mock.Anything)
}

func TestLotService_StatsMissFillsCache(t *testing.T) {
	f := newFixture(t, nil)
	f.addSpots(t, 2)

	c := &mockStatsCache{}
	c.On("GetLotStats", mock.Anything, f.lot.ID).Return(nil, false).Once()
	c.On("SetLotStats", mock.Anything, mock.MatchedBy(func(s domain.LotStats) bool {
		return s.LotID == f.lot.ID && s.Total == 2 && s.Available == 2
	})).Once()
	f.lots.cache = c

	stats, err := f.lots.Stats(context.Background(), f.lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	c.AssertExpectations(t)
}

func TestSpotService_TransitionInvalidatesLotStats(t *testing.T) {
	f := newFixture(t, nil)
	spot := f.addSpots(t, 1)[0]

	c := &mockStatsCache{}
	c.On("InvalidateLotStats", mock.Anything, []int{f.lot.ID}).Once()
	f.lots.cache = c

	_, err := f.spots.Transition(context.Background(), spot.ID, domain.StatusOccupied, admin)
	require.NoError(t, err)
	c.AssertExpectations(t)
}
