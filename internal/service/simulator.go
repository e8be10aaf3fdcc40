package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/metrics"
	"github.com/nando3d2000/parking-project-backend/internal/repository"
)

const recoveryTimeout = 10 * time.Second

// SimulatorConfig is an immutable snapshot; UpdateConfig swaps it as a whole.
type SimulatorConfig struct {
	Interval time.Duration
	// ChangeProbability is carried and reported but not consulted: every tick flips one eligible spot.
	ChangeProbability  float64
	AllowedTransitions map[domain.SpotStatus]domain.SpotStatus
	ProtectedStates    []domain.SpotStatus
	RecoveryDelay      time.Duration
}

func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Interval:          15 * time.Second,
		ChangeProbability: 0.3,
		AllowedTransitions: map[domain.SpotStatus]domain.SpotStatus{
			domain.StatusFree:     domain.StatusOccupied,
			domain.StatusOccupied: domain.StatusFree,
		},
		ProtectedStates: []domain.SpotStatus{domain.StatusReserved, domain.StatusMaintenance},
		RecoveryDelay:   2 * time.Minute,
	}
}

func (c SimulatorConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrValidation)
	}
	if c.ChangeProbability < 0 || c.ChangeProbability > 1 {
		return fmt.Errorf("%w: change probability must be within [0,1]", ErrValidation)
	}
	if c.RecoveryDelay <= 0 {
		return fmt.Errorf("%w: recovery delay must be positive", ErrValidation)
	}
	for from, to := range c.AllowedTransitions {
		if !domain.CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s is not a valid transition", ErrValidation, from, to)
		}
	}
	return nil
}

// eligible lists the statuses a tick may act on.
func (c SimulatorConfig) eligible() []domain.SpotStatus {
	var out []domain.SpotStatus
	for _, s := range domain.AllSpotStatuses {
		if _, ok := c.AllowedTransitions[s]; ok && !slices.Contains(c.ProtectedStates, s) {
			out = append(out, s)
		}
	}
	return out
}

// unprotected lists the statuses a failure may be injected from.
func (c SimulatorConfig) unprotected() []domain.SpotStatus {
	var out []domain.SpotStatus
	for _, s := range domain.AllSpotStatuses {
		if !slices.Contains(c.ProtectedStates, s) {
			out = append(out, s)
		}
	}
	return out
}

func (c SimulatorConfig) clone() SimulatorConfig {
	out := c
	out.AllowedTransitions = make(map[domain.SpotStatus]domain.SpotStatus, len(c.AllowedTransitions))
	for k, v := range c.AllowedTransitions {
		out.AllowedTransitions[k] = v
	}
	out.ProtectedStates = slices.Clone(c.ProtectedStates)
	return out
}

// SimulatorConfigPatch is a partial update; nil fields keep their current value.
type SimulatorConfigPatch struct {
	IntervalMs         *int64                                  `json:"intervalMs"`
	ChangeProbability  *float64                                `json:"changeProbability"`
	AllowedTransitions map[domain.SpotStatus]domain.SpotStatus `json:"allowedTransitions"`
	ProtectedStates    []domain.SpotStatus                     `json:"protectedStates"`
	RecoveryDelayMs    *int64                                  `json:"recoveryDelayMs"`
}

func (p SimulatorConfigPatch) apply(c SimulatorConfig) SimulatorConfig {
	out := c.clone()
	if p.IntervalMs != nil {
		out.Interval = time.Duration(*p.IntervalMs) * time.Millisecond
	}
	if p.ChangeProbability != nil {
		out.ChangeProbability = *p.ChangeProbability
	}
	if p.AllowedTransitions != nil {
		out.AllowedTransitions = p.AllowedTransitions
	}
	if p.ProtectedStates != nil {
		out.ProtectedStates = p.ProtectedStates
	}
	if p.RecoveryDelayMs != nil {
		out.RecoveryDelay = time.Duration(*p.RecoveryDelayMs) * time.Millisecond
	}
	return out
}

// SimulatorStatus is the externally visible state of the simulator.
type SimulatorStatus struct {
	IsRunning          bool                                    `json:"isRunning"`
	IntervalMs         int64                                   `json:"intervalMs"`
	ChangeProbability  float64                                 `json:"changeProbability"`
	AllowedTransitions map[domain.SpotStatus]domain.SpotStatus `json:"allowedTransitions"`
	ProtectedStates    []domain.SpotStatus                     `json:"protectedStates"`
	RecoveryDelayMs    int64                                   `json:"recoveryDelayMs"`
}

// SensorSimulator is a periodic writer that flips random eligible spots through SpotService.
type SensorSimulator struct {
	spots     *SpotService
	spotRepo  repository.ParkingSpotRepository
	publisher EventPublisher
	metrics   *metrics.Metrics
	log       zerolog.Logger

	mu      sync.Mutex
	cfg     SimulatorConfig
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	rngMu     sync.Mutex
	rng       *rand.Rand
	now       func() time.Time
	afterFunc func(d time.Duration, f func())
}

type SimulatorOption func(*SensorSimulator)

// WithRand fixes the random source.
func WithRand(r *rand.Rand) SimulatorOption {
	return func(s *SensorSimulator) { s.rng = r }
}

// WithAfterFunc replaces time.AfterFunc for scheduling failure recovery.
func WithAfterFunc(f func(d time.Duration, fn func())) SimulatorOption {
	return func(s *SensorSimulator) { s.afterFunc = f }
}

func WithClock(now func() time.Time) SimulatorOption {
	return func(s *SensorSimulator) { s.now = now }
}

func NewSensorSimulator(
	spots *SpotService,
	spotRepo repository.ParkingSpotRepository,
	publisher EventPublisher,
	cfg SimulatorConfig,
	m *metrics.Metrics,
	log zerolog.Logger,
	opts ...SimulatorOption,
) *SensorSimulator {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	s := &SensorSimulator{
		spots:     spots,
		spotRepo:  spotRepo,
		publisher: publisher,
		metrics:   m,
		log:       log.With().Str("component", "sensor_simulator").Logger(),
		cfg:       cfg.clone(),
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
		now:       func() time.Time { return time.Now().UTC() },
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the periodic loop. Starting a running simulator is a no-op.
func (s *SensorSimulator) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

// Stop halts the loop and waits for an in-flight tick. Stopping a stopped simulator is a no-op.
func (s *SensorSimulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *SensorSimulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *SensorSimulator) startLocked() {
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done, s.running = cancel, done, true
	go s.loop(ctx, s.cfg.clone(), done)

	s.metrics.SetSimulatorRunning(true)
	s.log.Info().Dur("interval", s.cfg.Interval).Msg("sensor simulator started")
}

func (s *SensorSimulator) stopLocked() {
	if !s.running {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done, s.running = nil, nil, false

	s.metrics.SetSimulatorRunning(false)
	s.log.Info().Msg("sensor simulator stopped")
}

// UpdateConfig applies patch and, when running, restarts the loop with the new snapshot.
func (s *SensorSimulator) UpdateConfig(patch SimulatorConfigPatch) (SimulatorStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := patch.apply(s.cfg)
	if err := next.Validate(); err != nil {
		return SimulatorStatus{}, err
	}
	wasRunning := s.running
	s.stopLocked()
	s.cfg = next
	if wasRunning {
		s.startLocked()
	}
	s.log.Info().Dur("interval", next.Interval).Float64("changeProbability", next.ChangeProbability).Msg("sensor simulator reconfigured")
	return s.statusLocked(), nil
}

func (s *SensorSimulator) Stats() SimulatorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *SensorSimulator) statusLocked() SimulatorStatus {
	cfg := s.cfg.clone()
	return SimulatorStatus{
		IsRunning:          s.running,
		IntervalMs:         cfg.Interval.Milliseconds(),
		ChangeProbability:  cfg.ChangeProbability,
		AllowedTransitions: cfg.AllowedTransitions,
		ProtectedStates:    cfg.ProtectedStates,
		RecoveryDelayMs:    cfg.RecoveryDelay.Milliseconds(),
	}
}

func (s *SensorSimulator) config() SimulatorConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.clone()
}

func (s *SensorSimulator) loop(ctx context.Context, cfg SimulatorConfig, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// errors stay inside the cycle so the next tick still runs
			if _, err := s.tick(ctx, cfg); err != nil && ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("simulation cycle failed")
			}
		}
	}
}

// Tick runs one simulation cycle now. It returns nil when no spot is eligible.
func (s *SensorSimulator) Tick(ctx context.Context) (*domain.SpotStatusChange, error) {
	return s.tick(ctx, s.config())
}

func (s *SensorSimulator) tick(ctx context.Context, cfg SimulatorConfig) (*domain.SpotStatusChange, error) {
	candidates, err := s.spotRepo.FindActiveByStatuses(ctx, cfg.eligible())
	if err != nil {
		s.metrics.ObserveTick("error")
		return nil, fmt.Errorf("load eligible spots: %w", err)
	}
	if len(candidates) == 0 {
		s.metrics.ObserveTick("idle")
		s.log.Debug().Msg("no eligible spots for simulation")
		return nil, nil
	}

	spot := candidates[s.intN(len(candidates))]
	target := cfg.AllowedTransitions[spot.Status]
	reading := s.telemetry(spot.ID, target)

	reason := domain.ReasonVehicleDeparture
	description := fmt.Sprintf("Sensor %s detected vehicle departure", reading.SensorID)
	if target == domain.StatusOccupied {
		reason = domain.ReasonVehicleArrival
		description = fmt.Sprintf("Sensor %s detected vehicle arrival", reading.SensorID)
	}

	_, change, err := s.spots.apply(ctx, spot.ID, TransitionRequest{
		Target:      target,
		Actor:       domain.Actor{Source: domain.SourceSensor},
		Reason:      reason,
		Description: description,
		SensorMeta:  reading.Meta(),
		// a writer may have moved the spot since it was selected
		AllowedFrom: []domain.SpotStatus{spot.Status},
	})
	if err != nil {
		s.metrics.ObserveTick("rejected")
		return nil, fmt.Errorf("spot %d: %w", spot.ID, err)
	}

	s.publisher.PublishSensorTelemetry(reading)
	s.metrics.ObserveTick("changed")
	s.log.Debug().Int("spotId", spot.ID).Str("to", string(target)).Str("sensorId", reading.SensorID).Msg("simulated occupancy change")
	return change, nil
}

// SimulateSensorFailure forces the spot into maintenance and schedules an automatic
// repair. The repair is skipped if the spot has left maintenance by then.
func (s *SensorSimulator) SimulateSensorFailure(ctx context.Context, spotID int) (*domain.SpotStatusChange, error) {
	cfg := s.config()
	sensorID := domain.SensorIDForSpot(spotID)

	_, change, err := s.spots.apply(ctx, spotID, TransitionRequest{
		Target:      domain.StatusMaintenance,
		Actor:       domain.Actor{Source: domain.SourceSensor},
		Reason:      domain.ReasonSensorFailure,
		Description: fmt.Sprintf("Sensor %s malfunction detected", sensorID),
		AllowedFrom: cfg.unprotected(),
	})
	if err != nil {
		return nil, err
	}
	s.log.Warn().Int("spotId", spotID).Dur("recoveryIn", cfg.RecoveryDelay).Msg("sensor failure simulated")

	s.afterFunc(cfg.RecoveryDelay, func() { s.recover(spotID, sensorID) })
	return change, nil
}

func (s *SensorSimulator) recover(spotID int, sensorID string) {
	ctx, cancel := context.WithTimeout(context.Background(), recoveryTimeout)
	defer cancel()

	_, _, err := s.spots.apply(ctx, spotID, TransitionRequest{
		Target:      domain.StatusFree,
		Actor:       domain.Actor{Source: domain.SourceSensor},
		Reason:      domain.ReasonSensorRepaired,
		Description: fmt.Sprintf("Sensor %s repaired", sensorID),
		AllowedFrom: []domain.SpotStatus{domain.StatusMaintenance},
	})
	switch {
	case err == nil:
		s.log.Info().Int("spotId", spotID).Msg("sensor recovered")
	case errors.Is(err, ErrProtectedState), errors.Is(err, repository.ErrNotFound):
		s.log.Debug().Int("spotId", spotID).Msg("sensor recovery skipped, spot already changed")
	default:
		s.log.Warn().Err(err).Int("spotId", spotID).Msg("sensor recovery failed")
	}
}

func (s *SensorSimulator) intN(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.IntN(n)
}

// telemetry synthesizes a reading. Confidence is higher when a vehicle is detected.
func (s *SensorSimulator) telemetry(spotID int, status domain.SpotStatus) domain.SensorTelemetry {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	now := s.now()
	reading := domain.SensorTelemetry{
		SensorID:        domain.SensorIDForSpot(spotID),
		SpotID:          spotID,
		Status:          status,
		SignalStrength:  70 + s.rng.IntN(30),
		BatteryLevel:    80 + s.rng.IntN(20),
		Temperature:     20 + s.rng.IntN(10),
		Humidity:        40 + s.rng.IntN(20),
		DeviceType:      "ultrasonic_distance_sensor",
		Firmware:        "v2.1.3",
		LastMaintenance: now.Add(-time.Duration(s.rng.IntN(30*24)) * time.Hour),
		Timestamp:       now,
	}
	if status == domain.StatusOccupied {
		reading.Confidence = 85 + s.rng.IntN(15)
		reading.DetectionMethod = "object_detected"
	} else {
		reading.Confidence = 75 + s.rng.IntN(20)
		reading.DetectionMethod = "clear_path"
	}
	return reading
}
