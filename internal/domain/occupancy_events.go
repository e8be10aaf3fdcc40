package domain

import (
	"fmt"
	"time"
)

// EventSource is the initiator class of a transition.
type EventSource string

const (
	SourceUserAction EventSource = "user_action"
	SourceSensor     EventSource = "sensor"
	SourceAdmin      EventSource = "admin"
)

// Reasons attached to sensor driven transitions.
const (
	ReasonVehicleArrival   = "vehicle_arrival"
	ReasonVehicleDeparture = "vehicle_departure"
	ReasonSensorFailure    = "sensor_failure"
	ReasonSensorRepaired   = "sensor_repaired"
)

// SensorMeta summarises the simulated reading behind a sensor transition.
type SensorMeta struct {
	SensorID        string `json:"sensorId"`
	Confidence      int    `json:"confidence"`
	DetectionMethod string `json:"detectionMethod"`
}

// SpotStatusChange is emitted after every committed transition.
type SpotStatusChange struct {
	EventID     string      `json:"eventId"`
	SpotID      int         `json:"spotId"`
	Code        string      `json:"code"`
	LotID       int         `json:"parkingLotId"`
	OldStatus   SpotStatus  `json:"oldStatus"`
	NewStatus   SpotStatus  `json:"newStatus"`
	Source      EventSource `json:"source"`
	Reason      string      `json:"reason,omitempty"`
	Description string      `json:"description,omitempty"`
	ActorID     int         `json:"actorId,omitempty"`
	SensorMeta  *SensorMeta `json:"sensorData,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// LotStatsUpdate is emitted whenever lot aggregates are recomputed.
type LotStatsUpdate struct {
	LotID     int       `json:"parkingLotId"`
	Stats     LotStats  `json:"stats"`
	Timestamp time.Time `json:"timestamp"`
}

// SensorTelemetry is a synthesized reading from a simulated sensor.
type SensorTelemetry struct {
	SensorID        string     `json:"sensorId"`
	SpotID          int        `json:"spotId"`
	Status          SpotStatus `json:"status"`
	SignalStrength  int        `json:"signalStrength"`
	BatteryLevel    int        `json:"batteryLevel"`
	Temperature     int        `json:"temperature"`
	Humidity        int        `json:"humidity"`
	DeviceType      string     `json:"deviceType"`
	Firmware        string     `json:"firmware"`
	LastMaintenance time.Time  `json:"lastMaintenance"`
	Confidence      int        `json:"confidence"`
	DetectionMethod string     `json:"detectionMethod"`
	Timestamp       time.Time  `json:"timestamp"`
}

// Meta returns the short form attached to status change events.
func (t SensorTelemetry) Meta() *SensorMeta {
	return &SensorMeta{SensorID: t.SensorID, Confidence: t.Confidence, DetectionMethod: t.DetectionMethod}
}

// SensorIDForSpot names the simulated sensor mounted on a spot.
func SensorIDForSpot(spotID int) string {
	return fmt.Sprintf("IOT_SENSOR_%03d", spotID)
}
