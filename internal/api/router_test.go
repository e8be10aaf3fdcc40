package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nando3d2000/parking-project-backend/internal/api/handler"
	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/metrics"
	"github.com/nando3d2000/parking-project-backend/internal/realtime"
	"github.com/nando3d2000/parking-project-backend/internal/repository/memory"
	"github.com/nando3d2000/parking-project-backend/internal/service"
)

type testServer struct {
	t          *testing.T
	router     *gin.Engine
	adminToken string
	userToken  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	log := zerolog.New(io.Discard)

	hub := realtime.NewHub(16, m, log)
	t.Cleanup(hub.Close)
	broadcaster := realtime.NewBroadcaster(hub, m, log)

	lots := service.NewLotService(store, store.Lots(), store.Spots(), nil, broadcaster, m, log)
	spots := service.NewSpotService(store, store.Spots(), store.Lots(), store.Sessions(), lots, broadcaster, m, log)
	sessions := service.NewSessionService(store, store.Sessions(), store.Spots(), spots, m, log)
	sim := service.NewSensorSimulator(spots, store.Spots(), broadcaster, service.DefaultSimulatorConfig(), m, log)
	t.Cleanup(sim.Stop)
	auth := service.NewAuthService(store.Users(), "test-secret", time.Hour)

	s := &testServer{t: t}
	s.router = NewRouter(Deps{
		Auth:        auth,
		Lots:        lots,
		Spots:       spots,
		Sessions:    sessions,
		Simulator:   sim,
		WebSocket:   realtime.NewServer(hub, broadcaster, spots, 1, log),
		Gatherer:    reg,
		ReadyChecks: map[string]handler.Pinger{"store": store},
		Log:         log,
	})

	_, err := auth.CreateAdmin(context.Background(), domain.RegisterUserDTO{Name: "Admin", Email: "admin@example.com", Password: "secret123"})
	require.NoError(t, err)
	s.adminToken = s.login("admin@example.com", "secret123")

	rec := s.do(http.MethodPost, "/auth/register", "", gin.H{"name": "Driver", "email": "driver@example.com", "password": "secret123"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	s.userToken = s.login("driver@example.com", "secret123")
	return s
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(email, password string) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/auth/login", "", gin.H{"email": email, "password": password})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.AuthResponseDTO
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(s.t, resp.Token)
	return resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, code, decode[errorBody](t, rec).Error.Code)
}

// seedSpot creates a lot with one car spot as admin.
func (s *testServer) seedSpot() domain.SpotResponse {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/parking-lots", s.adminToken, gin.H{"name": "Central", "location": "Main St 1"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	lot := decode[domain.ParkingLot](s.t, rec)

	rec = s.do(http.MethodPost, "/api/v1/parking-spots", s.adminToken, gin.H{"lot_id": lot.ID, "spot_type": "car"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.SpotResponse](s.t, rec)
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"store":"ok"}}`, rec.Body.String())
}

func TestRouter_ReadyReportsFailingDependency(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Pinger{
		"redis": handler.PingFunc(func(context.Context) error { return fmt.Errorf("connection refused") }),
		"none":  nil,
	})
	r := gin.New()
	r.GET("/readyz", h.Ready)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"not ready","checks":{"redis":"connection refused"}}`, rec.Body.String())
}

func TestRouter_Authentication(t *testing.T) {
	s := newTestServer(t)

	assertError(t, s.do(http.MethodGet, "/api/v1/parking-spots", "", nil), http.StatusUnauthorized, "MISSING_TOKEN")
	assertError(t, s.do(http.MethodGet, "/api/v1/parking-spots", "not-a-jwt", nil), http.StatusUnauthorized, "INVALID_TOKEN")

	rec := s.do(http.MethodPost, "/auth/login", "", gin.H{"email": "driver@example.com", "password": "wrong-password"})
	assertError(t, rec, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	rec = s.do(http.MethodGet, "/auth/profile", s.userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[domain.User](t, rec)
	assert.Equal(t, "driver@example.com", profile.Email)
	assert.Equal(t, domain.RoleUser, profile.Role)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestRouter_AdminOnlyRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/v1/parking-lots", s.userToken, gin.H{"name": "Side", "location": "Elm St"})
	assertError(t, rec, http.StatusForbidden, "FORBIDDEN")
	assertError(t, s.do(http.MethodGet, "/api/v1/parking-sessions", s.userToken, nil), http.StatusForbidden, "FORBIDDEN")
	assertError(t, s.do(http.MethodGet, "/api/v1/simulator/status", s.userToken, nil), http.StatusForbidden, "FORBIDDEN")

	rec = s.do(http.MethodGet, "/api/v1/simulator/status", s.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[service.SimulatorStatus](t, rec).IsRunning)
}

func TestRouter_ReserveAndSessionFlow(t *testing.T) {
	s := newTestServer(t)
	spot := s.seedSpot()
	assert.Equal(t, "available", spot.Status)
	assert.Equal(t, "free", spot.StatusCode)

	rec := s.do(http.MethodPost, fmt.Sprintf("/api/v1/parking-spots/%d/reserve", spot.ID), s.userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reserved := decode[domain.SpotResponse](t, rec)
	assert.Equal(t, "reserved", reserved.Status)
	assert.True(t, reserved.ReservedBy.Valid)

	rec = s.do(http.MethodPost, "/api/v1/parking-sessions/start", s.userToken, gin.H{"spot_id": spot.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	session := decode[domain.SessionView](t, rec)
	assert.Equal(t, domain.SessionReserved, session.SessionType)

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/v1/parking-spots/%d", spot.ID), s.userToken, nil)
	assert.Equal(t, "occupied", decode[domain.SpotResponse](t, rec).Status)

	rec = s.do(http.MethodGet, "/api/v1/parking-sessions/active", s.userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["hasActiveSession"])

	endPath := fmt.Sprintf("/api/v1/parking-sessions/%d/end", session.ID)
	rec = s.do(http.MethodPatch, endPath, s.userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ended := decode[domain.SessionView](t, rec)
	assert.True(t, ended.EndTime.Valid)

	assertError(t, s.do(http.MethodPatch, endPath, s.userToken, nil), http.StatusConflict, "SESSION_ALREADY_ENDED")

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/v1/parking-spots/%d", spot.ID), s.userToken, nil)
	assert.Equal(t, "available", decode[domain.SpotResponse](t, rec).Status)

	rec = s.do(http.MethodGet, "/api/v1/parking-sessions/my-sessions", s.userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, rec)["total"])

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "spot_transitions_total")
}

func TestRouter_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	spot := s.seedSpot()
	statusPath := fmt.Sprintf("/api/v1/parking-spots/%d/status", spot.ID)

	assertError(t, s.do(http.MethodGet, "/api/v1/parking-spots/9999", s.userToken, nil), http.StatusNotFound, "NOT_FOUND")
	assertError(t, s.do(http.MethodGet, "/api/v1/parking-spots/abc", s.userToken, nil), http.StatusBadRequest, "VALIDATION_ERROR")
	assertError(t, s.do(http.MethodPatch, statusPath, s.userToken, gin.H{"status": "maintenance"}), http.StatusForbidden, "FORBIDDEN")
	assertError(t, s.do(http.MethodPatch, statusPath, s.adminToken, gin.H{"status": "broken"}), http.StatusBadRequest, "UNKNOWN_STATUS")

	rec := s.do(http.MethodPatch, statusPath, s.adminToken, gin.H{"status": "maintenance"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "maintenance", decode[domain.SpotResponse](t, rec).Status)

	reservePath := fmt.Sprintf("/api/v1/parking-spots/%d/reserve", spot.ID)
	assertError(t, s.do(http.MethodPost, reservePath, s.userToken, nil), http.StatusConflict, "INVALID_TRANSITION")

	rec = s.do(http.MethodPost, "/api/v1/parking-sessions/start", s.userToken, gin.H{"spot_id": spot.ID})
	assertError(t, rec, http.StatusConflict, "SPOT_UNAVAILABLE")

	rec = s.do(http.MethodPatch, statusPath, s.adminToken, gin.H{"status": "available"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "free", decode[domain.SpotResponse](t, rec).StatusCode)
}

func TestRouter_SimulatorTick(t *testing.T) {
	s := newTestServer(t)
	spot := s.seedSpot()

	rec := s.do(http.MethodPost, "/api/v1/simulator/tick", s.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, rec)["changed"])

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/v1/parking-spots/%d", spot.ID), s.userToken, nil)
	assert.Equal(t, "occupied", decode[domain.SpotResponse](t, rec).Status)

	rec = s.do(http.MethodPut, "/api/v1/simulator/config", s.adminToken, gin.H{"intervalMs": 0})
	assertError(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")
}
