package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/repository"
)

func TestSessionService_StartAndEnd(t *testing.T) {
	f := newFixture(t, nil)
	spots := f.addSpots(t, 2)
	ctx := context.Background()

	started, err := f.sessions.StartSession(ctx, 7, spots[0].ID, "blue sedan")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionWalkIn, started.SessionType)
	assert.True(t, started.IsOpen())
	assert.Equal(t, "blue sedan", started.Notes.String)
	assert.Equal(t, domain.StatusOccupied, f.status(t, spots[0].ID))

	_, err = f.sessions.StartSession(ctx, 7, spots[1].ID, "")
	assert.ErrorIs(t, err, ErrSessionAlreadyActive)
	assert.Equal(t, domain.StatusFree, f.status(t, spots[1].ID))

	ended, err := f.sessions.EndSession(ctx, started.ID, userActor(7), domain.EndSessionDTO{})
	require.NoError(t, err)
	assert.False(t, ended.IsOpen())
	assert.True(t, ended.DurationMinutes.Valid)
	assert.GreaterOrEqual(t, ended.DurationMinutes.Int64, int64(0))
	assert.Equal(t, domain.StatusFree, f.status(t, spots[0].ID))

	changes := f.pub.Changes()
	require.Len(t, changes, 2)
	assert.Equal(t, domain.StatusOccupied, changes[0].NewStatus)
	assert.Equal(t, domain.SourceUserAction, changes[0].Source)
	assert.Equal(t, domain.StatusFree, changes[1].NewStatus)

	active, err := f.sessions.GetActiveSession(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestSessionService_DurationIsWholeMinutes(t *testing.T) {
	f := newFixture(t, nil)
	spot := f.addSpots(t, 1)[0]
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f.sessions.now = func() time.Time { return now }

	started, err := f.sessions.StartSession(ctx, 7, spot.ID, "")
	require.NoError(t, err)

	now = now.Add(90*time.Minute + 59*time.Second)
	amount := 4.5
	ended, err := f.sessions.EndSession(ctx, started.ID, userActor(7), domain.EndSessionDTO{TotalAmount: &amount})
	require.NoError(t, err)

	assert.Equal(t, int64(90), ended.DurationMinutes.Int64)
	assert.Equal(t, int64(1), ended.Duration.Hours)
	assert.Equal(t, int64(30), ended.Duration.Minutes)
	assert.Equal(t, "1h 30m", ended.Duration.Formatted)
	assert.Equal(t, 4.5, ended.TotalAmount.Float64)
}

func TestSessionService_StartErrors(t *testing.T) {
	f := newFixture(t, nil)
	spots := f.addSpots(t, 3)
	ctx := context.Background()

	_, err := f.sessions.StartSession(ctx, 7, 999, "")
	assert.ErrorIs(t, err, ErrSpotNotFound)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	f.force(t, spots[0].ID, domain.StatusMaintenance)
	_, err = f.sessions.StartSession(ctx, 7, spots[0].ID, "")
	assert.ErrorIs(t, err, ErrSpotUnavailable)

	_, err = f.spots.Reserve(ctx, spots[1].ID, 8)
	require.NoError(t, err)
	_, err = f.sessions.StartSession(ctx, 7, spots[1].ID, "")
	assert.ErrorIs(t, err, ErrSpotUnavailable)

	inactive := false
	_, err = f.spots.UpdateSpot(ctx, spots[2].ID, domain.UpdateParkingSpotDTO{IsActive: &inactive})
	require.NoError(t, err)
	_, err = f.sessions.StartSession(ctx, 7, spots[2].ID, "")
	assert.ErrorIs(t, err, ErrSpotUnavailable)

	active, err := f.sessions.GetActiveSession(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, active, "no session may be created by a rejected start")
}

func TestSessionService_UnavailableSpotReportedBeforeActiveSession(t *testing.T) {
	f := newFixture(t, nil)
	spots := f.addSpots(t, 2)
	ctx := context.Background()

	_, err := f.sessions.StartSession(ctx, 7, spots[0].ID, "")
	require.NoError(t, err)

	_, err = f.sessions.StartSession(ctx, 7, spots[0].ID, "")
	assert.ErrorIs(t, err, ErrSpotUnavailable)
}

func TestSessionService_StartOnOwnReservation(t *testing.T) {
	f := newFixture(t, nil)
	spot := f.addSpots(t, 1)[0]
	ctx := context.Background()

	_, err := f.spots.Reserve(ctx, spot.ID, 7)
	require.NoError(t, err)

	started, err := f.sessions.StartSession(ctx, 7, spot.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionReserved, started.SessionType)
	require.NotNil(t, started.Spot)
	assert.Equal(t, domain.StatusOccupied, started.Spot.Status)
	assert.False(t, started.Spot.ReservedBy.Valid)
}

func TestSessionService_ConcurrentStartsForOneUser(t *testing.T) {
	f := newFixture(t, nil)
	const n = 8
	spots := f.addSpots(t, n)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		started  []*domain.SessionView
		conflict int
	)
	for _, spot := range spots {
		wg.Add(1)
		go func() {
			defer wg.Done()
			view, err := f.sessions.StartSession(context.Background(), 7, spot.ID, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				started = append(started, view)
			} else if assert.ErrorIs(t, err, ErrSessionAlreadyActive) {
				conflict++
			}
		}()
	}
	wg.Wait()

	require.Len(t, started, 1)
	assert.Equal(t, n-1, conflict)

	occupied, err := f.store.Spots().FindActiveByStatuses(context.Background(), []domain.SpotStatus{domain.StatusOccupied})
	require.NoError(t, err)
	require.Len(t, occupied, 1)
	assert.Equal(t, started[0].SpotID, occupied[0].ID)
}

func TestSessionService_EndTwiceIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	spot := f.addSpots(t, 1)[0]
	ctx := context.Background()

	started, err := f.sessions.StartSession(ctx, 7, spot.ID, "")
	require.NoError(t, err)
	_, err = f.sessions.EndSession(ctx, started.ID, userActor(7), domain.EndSessionDTO{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = f.sessions.EndSession(ctx, started.ID, userActor(7), domain.EndSessionDTO{})
		assert.ErrorIs(t, err, ErrSessionAlreadyEnded)
	}
	assert.Len(t, f.pub.Changes(), 2)

	_, err = f.sessions.EndSession(ctx, 999, userActor(7), domain.EndSessionDTO{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionService_EndByOtherUser(t *testing.T) {
	f := newFixture(t, nil)
	spot := f.addSpots(t, 1)[0]
	ctx := context.Background()

	started, err := f.sessions.StartSession(ctx, 7, spot.ID, "")
	require.NoError(t, err)

	_, err = f.sessions.EndSession(ctx, started.ID, userActor(8), domain.EndSessionDTO{})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.sessions.GetSession(ctx, started.ID, userActor(8))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.sessions.EndSession(ctx, started.ID, admin, domain.EndSessionDTO{})
	require.NoError(t, err)
}

func TestSessionService_EndReleasesSpotUnderMaintenance(t *testing.T) {
	f := newFixture(t, nil)
	spots := f.addSpots(t, 2)
	ctx := context.Background()

	started, err := f.sessions.StartSession(ctx, 7, spots[0].ID, "")
	require.NoError(t, err)
	_, err = f.spots.Transition(ctx, spots[0].ID, domain.StatusMaintenance, admin)
	require.NoError(t, err)
	f.pub.Reset()

	ended, err := f.sessions.EndSession(ctx, started.ID, userActor(7), domain.EndSessionDTO{})
	require.NoError(t, err)
	assert.False(t, ended.IsOpen())
	assert.Equal(t, domain.StatusFree, f.status(t, spots[0].ID))

	changes := f.pub.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, domain.StatusMaintenance, changes[0].OldStatus)
	assert.Equal(t, domain.StatusFree, changes[0].NewStatus)
	assert.Equal(t, domain.SourceUserAction, changes[0].Source)

	_, err = f.sessions.StartSession(ctx, 7, spots[1].ID, "")
	require.NoError(t, err)
}

func TestSessionService_EndRollsBackWhenSpotIsReserved(t *testing.T) {
	f := newFixture(t, nil)
	spot := f.addSpots(t, 1)[0]
	ctx := context.Background()

	started, err := f.sessions.StartSession(ctx, 7, spot.ID, "")
	require.NoError(t, err)
	f.force(t, spot.ID, domain.StatusReserved)
	f.pub.Reset()

	_, err = f.sessions.EndSession(ctx, started.ID, userActor(7), domain.EndSessionDTO{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	session, err := f.store.Sessions().FindByID(ctx, started.ID)
	require.NoError(t, err)
	assert.True(t, session.IsOpen())
	assert.Equal(t, domain.StatusReserved, f.status(t, spot.ID))
	assert.Empty(t, f.pub.Changes())
}

// staleSpotRepo loses every conditional status write, as a second server would.
type staleSpotRepo struct {
	repository.ParkingSpotRepository
	mu     sync.Mutex
	writes int
}

func (r *staleSpotRepo) UpdateStatus(ctx context.Context, u domain.SpotStatusUpdate) (*domain.ParkingSpot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	return nil, repository.ErrStaleStatus
}

func TestSessionService_StaleSpotWriteIsInvalidTransition(t *testing.T) {
	f := newFixture(t, nil)
	spots := f.addSpots(t, 2)
	ctx := context.Background()

	started, err := f.sessions.StartSession(ctx, 7, spots[0].ID, "")
	require.NoError(t, err)
	f.pub.Reset()

	f.spots.spotRepo = &staleSpotRepo{ParkingSpotRepository: f.store.Spots()}

	_, err = f.sessions.StartSession(ctx, 8, spots[1].ID, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	active, err := f.sessions.GetActiveSession(ctx, 8)
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = f.sessions.EndSession(ctx, started.ID, userActor(7), domain.EndSessionDTO{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	session, err := f.store.Sessions().FindByID(ctx, started.ID)
	require.NoError(t, err)
	assert.True(t, session.IsOpen())

	assert.Equal(t, domain.StatusFree, f.status(t, spots[1].ID))
	assert.Equal(t, domain.StatusOccupied, f.status(t, spots[0].ID))
	assert.Empty(t, f.pub.Changes())
}

func TestSpotService_TransitionRetriesStaleWrites(t *testing.T) {
	f := newFixture(t, nil)
	spot := f.addSpots(t, 1)[0]
	stale := &staleSpotRepo{ParkingSpotRepository: f.store.Spots()}
	f.spots.spotRepo = stale

	_, err := f.spots.Transition(context.Background(), spot.ID, domain.StatusOccupied, admin)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, maxTransitionAttempts, stale.writes)
	assert.Equal(t, domain.StatusFree, f.status(t, spot.ID))
}

func TestSessionService_EndAfterSensorFreedSpot(t *testing.T) {
	f := newFixture(t, nil)
	spot := f.addSpots(t, 1)[0]
	ctx := context.Background()

	started, err := f.sessions.StartSession(ctx, 7, spot.ID, "")
	require.NoError(t, err)
	_, err = f.spots.Apply(ctx, spot.ID, TransitionRequest{
		Target: domain.StatusFree,
		Actor:  domain.Actor{Source: domain.SourceSensor},
		Reason: domain.ReasonVehicleDeparture,
	})
	require.NoError(t, err)
	f.pub.Reset()

	ended, err := f.sessions.EndSession(ctx, started.ID, userActor(7), domain.EndSessionDTO{})
	require.NoError(t, err)
	assert.False(t, ended.IsOpen())
	assert.Empty(t, f.pub.Changes())
}

func TestSessionService_ListAndStats(t *testing.T) {
	f := newFixture(t, nil)
	spots := f.addSpots(t, 3)
	ctx := context.Background()

	first, err := f.sessions.StartSession(ctx, 7, spots[0].ID, "")
	require.NoError(t, err)
	_, err = f.sessions.EndSession(ctx, first.ID, userActor(7), domain.EndSessionDTO{})
	require.NoError(t, err)
	_, err = f.sessions.StartSession(ctx, 7, spots[1].ID, "")
	require.NoError(t, err)
	_, err = f.sessions.StartSession(ctx, 8, spots[2].ID, "")
	require.NoError(t, err)

	mine, err := f.sessions.ListUserSessions(ctx, 7, domain.ParkingSessionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, mine.Total)
	assert.Equal(t, 10, mine.Limit)

	active, err := f.sessions.ListSessions(ctx, domain.ParkingSessionFilter{Status: domain.SessionFilterActive})
	require.NoError(t, err)
	assert.Equal(t, 2, active.Total)

	_, err = f.sessions.ListSessions(ctx, domain.ParkingSessionFilter{Status: "open"})
	assert.ErrorIs(t, err, ErrValidation)

	stats, err := f.sessions.Stats(ctx, &f.lot.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "7d", stats.Period)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 1, stats.Completed)

	_, err = f.sessions.Stats(ctx, nil, "1y")
	assert.ErrorIs(t, err, ErrValidation)
}
