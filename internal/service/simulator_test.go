package service

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
)

// manualTimers captures scheduled callbacks so tests decide when they fire.
type manualTimers struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []func()
}

func (m *manualTimers) AfterFunc(d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = append(m.delays, d)
	m.pending = append(m.pending, fn)
}

func (m *manualTimers) FireAll() {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func newSimulator(f *fixture, cfg SimulatorConfig, timers *manualTimers) *SensorSimulator {
	opts := []SimulatorOption{WithRand(rand.New(rand.NewPCG(1, 2)))}
	if timers != nil {
		opts = append(opts, WithAfterFunc(timers.AfterFunc))
	}
	return NewSensorSimulator(f.spots, f.store.Spots(), f.pub, cfg, f.metrics, f.log, opts...)
}

func TestSimulator_TickFlipsEligibleSpot(t *testing.T) {
	f := newFixture(t, nil)
	spot := f.addSpots(t, 1)[0]
	f.force(t, spot.ID, domain.StatusOccupied)
	sim := newSimulator(f, DefaultSimulatorConfig(), nil)

	change, err := sim.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Equal(t, domain.StatusOccupied, change.OldStatus)
	assert.Equal(t, domain.StatusFree, change.NewStatus)
	assert.Equal(t, domain.SourceSensor, change.Source)
	assert.Equal(t, domain.ReasonVehicleDeparture, change.Reason)
	require.NotNil(t, change.SensorMeta)
	assert.Equal(t, domain.SensorIDForSpot(spot.ID), change.SensorMeta.SensorID)
	assert.Equal(t, domain.StatusFree, f.status(t, spot.ID))

	changes := f.pub.Changes()
	telemetry := f.pub.Telemetry()
	require.Len(t, changes, 1)
	require.Len(t, telemetry, 1)
	assert.Equal(t, "IOT_SENSOR_001", telemetry[0].SensorID)
	assert.Equal(t, spot.ID, telemetry[0].SpotID)
	assert.Equal(t, domain.StatusFree, telemetry[0].Status)
	assert.Equal(t, "clear_path", telemetry[0].DetectionMethod)
}

func TestSimulator_TickSkipsProtectedSpots(t *testing.T) {
	f := newFixture(t, nil)
	spots := f.addSpots(t, 2)
	f.force(t, spots[0].ID, domain.StatusReserved)
	f.force(t, spots[1].ID, domain.StatusMaintenance)
	sim := newSimulator(f, DefaultSimulatorConfig(), nil)

	for i := 0; i < 5; i++ {
		change, err := sim.Tick(context.Background())
		require.NoError(t, err)
		assert.Nil(t, change)
	}
	assert.Empty(t, f.pub.Changes())
	assert.Empty(t, f.pub.Telemetry())
	assert.Equal(t, domain.StatusReserved, f.status(t, spots[0].ID))
	assert.Equal(t, domain.StatusMaintenance, f.status(t, spots[1].ID))
}

func TestSimulator_TelemetryRanges(t *testing.T) {
	f := newFixture(t, nil)
	sim := newSimulator(f, DefaultSimulatorConfig(), nil)

	for i := 0; i < 200; i++ {
		status := domain.StatusFree
		if i%2 == 0 {
			status = domain.StatusOccupied
		}
		r := sim.telemetry(42, status)
		assert.Equal(t, "IOT_SENSOR_042", r.SensorID)
		assert.True(t, r.SignalStrength >= 70 && r.SignalStrength < 100)
		assert.True(t, r.BatteryLevel >= 80 && r.BatteryLevel < 100)
		assert.True(t, r.Temperature >= 20 && r.Temperature < 30)
		assert.True(t, r.Humidity >= 40 && r.Humidity < 60)
		if status == domain.StatusOccupied {
			assert.True(t, r.Confidence >= 85 && r.Confidence < 100)
			assert.Equal(t, "object_detected", r.DetectionMethod)
		} else {
			assert.True(t, r.Confidence >= 75 && r.Confidence < 95)
		}
	}
}

func TestSimulator_SensorFailureAndRecovery(t *testing.T) {
	f := newFixture(t, nil)
	spot := f.addSpots(t, 1)[0]
	timers := &manualTimers{}
	cfg := DefaultSimulatorConfig()
	cfg.RecoveryDelay = time.Minute
	sim := newSimulator(f, cfg, timers)

	change, err := sim.SimulateSensorFailure(context.Background(), spot.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMaintenance, change.NewStatus)
	assert.Equal(t, domain.ReasonSensorFailure, change.Reason)
	assert.Equal(t, domain.StatusMaintenance, f.status(t, spot.ID))
	assert.Equal(t, []time.Duration{time.Minute}, timers.delays)

	timers.FireAll()
	assert.Equal(t, domain.StatusFree, f.status(t, spot.ID))

	changes := f.pub.Changes()
	require.Len(t, changes, 2)
	assert.Equal(t, domain.ReasonSensorRepaired, changes[1].Reason)
	assert.Equal(t, domain.StatusMaintenance, changes[1].OldStatus)
}

func TestSimulator_RecoverySkippedAfterManualRepair(t *testing.T) {
	f := newFixture(t, nil)
	spot := f.addSpots(t, 1)[0]
	timers := &manualTimers{}
	sim := newSimulator(f, DefaultSimulatorConfig(), timers)
	ctx := context.Background()

	_, err := sim.SimulateSensorFailure(ctx, spot.ID)
	require.NoError(t, err)
	_, err = f.spots.UpdateStatus(ctx, spot.ID, "available", "", admin)
	require.NoError(t, err)
	_, err = f.spots.Transition(ctx, spot.ID, domain.StatusOccupied, userActor(7))
	require.NoError(t, err)

	timers.FireAll()
	assert.Equal(t, domain.StatusOccupied, f.status(t, spot.ID))
	assert.Len(t, f.pub.Changes(), 3)
}

func TestSimulator_FailureRejectedOnProtectedSpot(t *testing.T) {
	f := newFixture(t, nil)
	spot := f.addSpots(t, 1)[0]
	timers := &manualTimers{}
	sim := newSimulator(f, DefaultSimulatorConfig(), timers)

	_, err := f.spots.Reserve(context.Background(), spot.ID, 7)
	require.NoError(t, err)

	_, err = sim.SimulateSensorFailure(context.Background(), spot.ID)
	assert.ErrorIs(t, err, ErrProtectedState)
	assert.Empty(t, timers.delays)

	_, err = sim.SimulateSensorFailure(context.Background(), 999)
	assert.ErrorIs(t, err, ErrSpotNotFound)
}

func TestSimulator_StartStopIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	cfg := DefaultSimulatorConfig()
	cfg.Interval = time.Hour
	sim := newSimulator(f, cfg, nil)

	sim.Stop()
	assert.False(t, sim.Running())

	sim.Start()
	sim.Start()
	assert.True(t, sim.Running())
	assert.True(t, sim.Stats().IsRunning)

	sim.Stop()
	sim.Stop()
	assert.False(t, sim.Running())
}

func TestSimulator_LoopFlipsSpots(t *testing.T) {
	f := newFixture(t, nil)
	spot := f.addSpots(t, 1)[0]
	cfg := DefaultSimulatorConfig()
	cfg.Interval = 5 * time.Millisecond
	sim := newSimulator(f, cfg, nil)

	sim.Start()
	defer sim.Stop()

	require.Eventually(t, func() bool {
		return len(f.pub.Changes()) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	sim.Stop()

	changes := f.pub.Changes()
	assert.Equal(t, domain.StatusOccupied, changes[0].NewStatus)
	assert.Equal(t, domain.StatusFree, changes[1].NewStatus)
	for _, c := range changes {
		assert.Equal(t, spot.ID, c.SpotID)
	}
}

func TestSimulator_UpdateConfig(t *testing.T) {
	f := newFixture(t, nil)
	cfg := DefaultSimulatorConfig()
	cfg.Interval = time.Hour
	sim := newSimulator(f, cfg, nil)
	sim.Start()
	defer sim.Stop()

	interval := int64(30000)
	probability := 0.8
	status, err := sim.UpdateConfig(SimulatorConfigPatch{IntervalMs: &interval, ChangeProbability: &probability})
	require.NoError(t, err)
	assert.True(t, status.IsRunning)
	assert.Equal(t, interval, status.IntervalMs)
	assert.Equal(t, 0.8, status.ChangeProbability)
	assert.Equal(t, int64(120000), status.RecoveryDelayMs)

	zero := int64(0)
	_, err = sim.UpdateConfig(SimulatorConfigPatch{IntervalMs: &zero})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = sim.UpdateConfig(SimulatorConfigPatch{AllowedTransitions: map[domain.SpotStatus]domain.SpotStatus{
		domain.StatusReserved: domain.StatusMaintenance,
	}})
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, interval, sim.Stats().IntervalMs, "rejected patches leave the config untouched")
	assert.True(t, sim.Running())
}

func TestSimulator_UpdateConfigWhileStopped(t *testing.T) {
	f := newFixture(t, nil)
	sim := newSimulator(f, DefaultSimulatorConfig(), nil)

	status, err := sim.UpdateConfig(SimulatorConfigPatch{ProtectedStates: []domain.SpotStatus{domain.StatusMaintenance}})
	require.NoError(t, err)
	assert.False(t, status.IsRunning)
	assert.Equal(t, []domain.SpotStatus{domain.StatusMaintenance}, status.ProtectedStates)
}
