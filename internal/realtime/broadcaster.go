package realtime

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/metrics"
)

// Envelope types.
const (
	TypeSpotStatusChange  = "SPOT_STATUS_CHANGE"
	TypeLotStats          = "PARKING_LOT_STATS"
	TypeSensorData        = "IOT_SENSOR_DATA"
	TypeInitialSpotStatus = "INITIAL_SPOT_STATUS"
)

// Client side event names.
const (
	EventSpotUpdate     = "parking-spot-update"
	EventLotStatsUpdate = "parking-lot-stats-update"
	EventSensorUpdate   = "iot-sensor-update"
)

// Envelope is the frame written to every subscriber.
type Envelope struct {
	Type      string    `json:"type"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// SpotUpdate is the wire form of a status change. Statuses use the display
// vocabulary; the *Code fields carry the internal one.
type SpotUpdate struct {
	EventID       string             `json:"eventId,omitempty"`
	SpotID        int                `json:"spotId"`
	Code          string             `json:"code"`
	LotID         int                `json:"parkingLotId"`
	OldStatus     string             `json:"oldStatus"`
	OldStatusCode string             `json:"oldStatusCode"`
	NewStatus     string             `json:"newStatus"`
	NewStatusCode string             `json:"statusCode"`
	Source        domain.EventSource `json:"source,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Description   string             `json:"description,omitempty"`
	SensorData    *domain.SensorMeta `json:"sensorData,omitempty"`
	ChangedAt     time.Time          `json:"changedAt"`
}

func newSpotUpdate(c domain.SpotStatusChange) SpotUpdate {
	return SpotUpdate{
		EventID:       c.EventID,
		SpotID:        c.SpotID,
		Code:          c.Code,
		LotID:         c.LotID,
		OldStatus:     c.OldStatus.Display(),
		OldStatusCode: string(c.OldStatus),
		NewStatus:     c.NewStatus.Display(),
		NewStatusCode: string(c.NewStatus),
		Source:        c.Source,
		Reason:        c.Reason,
		Description:   c.Description,
		SensorData:    c.SensorMeta,
		ChangedAt:     c.Timestamp,
	}
}

// initialSpotUpdate reports a spot's current status as if it had just been read by its sensor.
func initialSpotUpdate(s domain.ParkingSpot) SpotUpdate {
	return SpotUpdate{
		SpotID:        s.ID,
		Code:          s.Code,
		LotID:         s.LotID,
		OldStatus:     s.Status.Display(),
		OldStatusCode: string(s.Status),
		NewStatus:     s.Status.Display(),
		NewStatusCode: string(s.Status),
		SensorData: &domain.SensorMeta{
			SensorID:        domain.SensorIDForSpot(s.ID),
			Confidence:      95,
			DetectionMethod: "initial_load",
		},
		ChangedAt: s.UpdatedAt,
	}
}

type lotStatsData struct {
	LotID int             `json:"parkingLotId"`
	Stats domain.LotStats `json:"stats"`
}

type telemetryData struct {
	domain.SensorTelemetry
	Status     string `json:"status"`
	StatusCode string `json:"statusCode"`
}

// Broadcaster encodes occupancy events and hands them to the hub.
type Broadcaster struct {
	hub     *Hub
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewBroadcaster(hub *Hub, m *metrics.Metrics, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		hub:     hub,
		metrics: m,
		log:     log.With().Str("component", "broadcaster").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (b *Broadcaster) PublishSpotStatusChange(c domain.SpotStatusChange) {
	b.publish(TypeSpotStatusChange, EventSpotUpdate, newSpotUpdate(c))
}

func (b *Broadcaster) PublishLotStats(u domain.LotStatsUpdate) {
	b.publish(TypeLotStats, EventLotStatsUpdate, lotStatsData{LotID: u.LotID, Stats: u.Stats})
}

func (b *Broadcaster) PublishSensorTelemetry(r domain.SensorTelemetry) {
	b.publish(TypeSensorData, EventSensorUpdate, telemetryData{
		SensorTelemetry: r,
		Status:          r.Status.Display(),
		StatusCode:      string(r.Status),
	})
}

// SnapshotFrame encodes the full current state for one late-joining subscriber.
func (b *Broadcaster) SnapshotFrame(spots []domain.ParkingSpot) ([]byte, error) {
	updates := make([]SpotUpdate, 0, len(spots))
	for _, s := range spots {
		updates = append(updates, initialSpotUpdate(s))
	}
	return json.Marshal(Envelope{
		Type:      TypeInitialSpotStatus,
		Event:     EventSpotUpdate,
		Timestamp: b.now(),
		Data:      updates,
	})
}

func (b *Broadcaster) publish(envType, event string, data any) {
	msg, err := json.Marshal(Envelope{Type: envType, Event: event, Timestamp: b.now(), Data: data})
	if err != nil {
		b.log.Error().Err(err).Str("type", envType).Msg("failed to encode event")
		return
	}
	b.metrics.ObserveEvent(envType)
	b.hub.Broadcast(msg)
}
