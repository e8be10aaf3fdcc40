package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/service"
)

var _ service.EventPublisher = (*Broadcaster)(nil)

type envelopeJSON struct {
	Type      string          `json:"type"`
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, raw []byte) envelopeJSON {
	t.Helper()
	var env envelopeJSON
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestBroadcaster_SpotStatusChangeUsesDisplayCodes(t *testing.T) {
	hub, m := newTestHub(t, 4)
	b := NewBroadcaster(hub, m, zerolog.New(io.Discard))
	sub := hub.Subscribe()

	b.PublishSpotStatusChange(domain.SpotStatusChange{
		EventID:   "evt-1",
		SpotID:    3,
		Code:      "CAR-3",
		LotID:     1,
		OldStatus: domain.StatusOccupied,
		NewStatus: domain.StatusFree,
		Source:    domain.SourceSensor,
		Reason:    domain.ReasonVehicleDeparture,
		SensorMeta: &domain.SensorMeta{
			SensorID:        "IOT_SENSOR_003",
			Confidence:      90,
			DetectionMethod: "clear_path",
		},
		Timestamp: time.Now(),
	})

	env := decodeEnvelope(t, <-sub.Messages())
	assert.Equal(t, TypeSpotStatusChange, env.Type)
	assert.Equal(t, EventSpotUpdate, env.Event)

	var data SpotUpdate
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "available", data.NewStatus)
	assert.Equal(t, "free", data.NewStatusCode)
	assert.Equal(t, "occupied", data.OldStatus)
	assert.Equal(t, "IOT_SENSOR_003", data.SensorData.SensorID)
	assert.Equal(t, domain.SourceSensor, data.Source)
}

func TestBroadcaster_LotStatsAndTelemetry(t *testing.T) {
	hub, m := newTestHub(t, 4)
	b := NewBroadcaster(hub, m, zerolog.New(io.Discard))
	sub := hub.Subscribe()

	b.PublishLotStats(domain.LotStatsUpdate{LotID: 2, Stats: domain.LotStats{LotID: 2}})
	b.PublishSensorTelemetry(domain.SensorTelemetry{SensorID: "IOT_SENSOR_009", SpotID: 9, Status: domain.StatusFree})

	stats := decodeEnvelope(t, <-sub.Messages())
	assert.Equal(t, TypeLotStats, stats.Type)
	assert.Equal(t, EventLotStatsUpdate, stats.Event)
	assert.Contains(t, string(stats.Data), `"parkingLotId":2`)

	telemetry := decodeEnvelope(t, <-sub.Messages())
	assert.Equal(t, TypeSensorData, telemetry.Type)
	assert.Equal(t, EventSensorUpdate, telemetry.Event)
	var data map[string]any
	require.NoError(t, json.Unmarshal(telemetry.Data, &data))
	assert.Equal(t, "available", data["status"])
	assert.Equal(t, "free", data["statusCode"])
	assert.Equal(t, "IOT_SENSOR_009", data["sensorId"])
}

type stubSnapshots struct {
	calls atomic.Int32
	spots []domain.ParkingSpot
	err   error
}

func (s *stubSnapshots) Snapshot(context.Context) ([]domain.ParkingSpot, error) {
	s.calls.Add(1)
	return s.spots, s.err
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelopeJSON {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	return decodeEnvelope(t, raw)
}

func TestServer_SnapshotAndLiveUpdates(t *testing.T) {
	hub, m := newTestHub(t, 8)
	b := NewBroadcaster(hub, m, zerolog.New(io.Discard))
	snapshots := &stubSnapshots{spots: []domain.ParkingSpot{
		{ID: 1, Code: "CAR-1", LotID: 1, Status: domain.StatusFree, IsActive: true},
		{ID: 2, Code: "MOTO-2", LotID: 1, Status: domain.StatusReserved, IsActive: true},
	}}
	srv := httptest.NewServer(NewServer(hub, b, snapshots, 1, zerolog.New(io.Discard)))
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": ActionRequestStatus}))
	initial := readEnvelope(t, conn)
	assert.Equal(t, TypeInitialSpotStatus, initial.Type)
	var spots []SpotUpdate
	require.NoError(t, json.Unmarshal(initial.Data, &spots))
	require.Len(t, spots, 2)
	assert.Equal(t, "available", spots[0].NewStatus)
	assert.Equal(t, "reserved", spots[1].NewStatus)
	assert.Equal(t, "initial_load", spots[1].SensorData.DetectionMethod)
	assert.Equal(t, "IOT_SENSOR_002", spots[1].SensorData.SensorID)

	b.PublishSpotStatusChange(domain.SpotStatusChange{SpotID: 1, OldStatus: domain.StatusFree, NewStatus: domain.StatusOccupied})
	live := readEnvelope(t, conn)
	assert.Equal(t, TypeSpotStatusChange, live.Type)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_SnapshotRequestsAreRateLimited(t *testing.T) {
	hub, m := newTestHub(t, 8)
	b := NewBroadcaster(hub, m, zerolog.New(io.Discard))
	snapshots := &stubSnapshots{}
	srv := httptest.NewServer(NewServer(hub, b, snapshots, 0.001, zerolog.New(io.Discard)))
	defer srv.Close()

	conn := dial(t, srv)
	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteJSON(map[string]string{"action": ActionRequestStatus}))
	}
	first := readEnvelope(t, conn)
	assert.Equal(t, TypeInitialSpotStatus, first.Type)
	assert.JSONEq(t, `[]`, string(first.Data))

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)
	b.PublishLotStats(domain.LotStatsUpdate{LotID: 1})
	next := readEnvelope(t, conn)
	assert.Equal(t, TypeLotStats, next.Type, "rate limited requests produce no frames")
	assert.Equal(t, int32(1), snapshots.calls.Load())
}

func TestServer_SnapshotFailureKeepsConnection(t *testing.T) {
	hub, m := newTestHub(t, 8)
	b := NewBroadcaster(hub, m, zerolog.New(io.Discard))
	snapshots := &stubSnapshots{err: errors.New("db down")}
	srv := httptest.NewServer(NewServer(hub, b, snapshots, 100, zerolog.New(io.Discard)))
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(map[string]string{"action": ActionRequestStatus}))
	require.Eventually(t, func() bool { return snapshots.calls.Load() == 1 }, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)
	b.PublishLotStats(domain.LotStatsUpdate{LotID: 1})
	assert.Equal(t, TypeLotStats, readEnvelope(t, conn).Type)
}
