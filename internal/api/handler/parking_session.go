package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nando3d2000/parking-project-backend/internal/api/middleware"
	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/service"
)

type ParkingSessionHandler struct {
	sessionService *service.SessionService
}

func NewParkingSessionHandler(ss *service.SessionService) *ParkingSessionHandler {
	return &ParkingSessionHandler{sessionService: ss}
}

// POST /parking-sessions/start
func (h *ParkingSessionHandler) StartSession(c *gin.Context) {
	var dto domain.StartSessionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	session, err := h.sessionService.StartSession(c.Request.Context(), c.GetInt(middleware.UserIDKey), dto.SpotID, dto.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// PATCH /parking-sessions/:id/end
func (h *ParkingSessionHandler) EndSession(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var dto domain.EndSessionDTO
	// the body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&dto); err != nil {
			respondBadRequest(c, err.Error())
			return
		}
	}
	session, err := h.sessionService.EndSession(c.Request.Context(), id, middleware.CurrentActor(c), dto)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// GET /parking-sessions/active
func (h *ParkingSessionHandler) GetActiveSession(c *gin.Context) {
	session, err := h.sessionService.GetActiveSession(c.Request.Context(), c.GetInt(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "hasActiveSession": session != nil})
}

// GET /parking-sessions/my-sessions
func (h *ParkingSessionHandler) GetUserSessions(c *gin.Context) {
	filter, ok := bindSessionFilter(c)
	if !ok {
		return
	}
	page, err := h.sessionService.ListUserSessions(c.Request.Context(), c.GetInt(middleware.UserIDKey), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GET /parking-sessions/:id
func (h *ParkingSessionHandler) GetSessionByID(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	session, err := h.sessionService.GetSession(c.Request.Context(), id, middleware.CurrentActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// GET /parking-sessions
func (h *ParkingSessionHandler) GetAllSessions(c *gin.Context) {
	filter, ok := bindSessionFilter(c)
	if !ok {
		return
	}
	page, err := h.sessionService.ListSessions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GET /parking-sessions/stats/summary
func (h *ParkingSessionHandler) GetSessionStats(c *gin.Context) {
	lotID, ok := queryInt(c, "lotId")
	if !ok {
		return
	}
	stats, err := h.sessionService.Stats(c.Request.Context(), lotID, c.DefaultQuery("period", "7d"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func bindSessionFilter(c *gin.Context) (domain.ParkingSessionFilter, bool) {
	var filter domain.ParkingSessionFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		respondBadRequest(c, err.Error())
		return filter, false
	}
	for name, dst := range map[string]**time.Time{"startDate": &filter.StartDate, "endDate": &filter.EndDate} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		t, err := parseDate(raw)
		if err != nil {
			respondBadRequest(c, "invalid "+name+", expected RFC 3339 or YYYY-MM-DD")
			return filter, false
		}
		*dst = &t
	}
	return filter, true
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}
