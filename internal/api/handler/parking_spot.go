package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nando3d2000/parking-project-backend/internal/api/middleware"
	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/service"
)

type ParkingSpotHandler struct {
	spotService *service.SpotService
}

func NewParkingSpotHandler(ss *service.SpotService) *ParkingSpotHandler {
	return &ParkingSpotHandler{spotService: ss}
}

func spotResponses(spots []domain.ParkingSpot) []domain.SpotResponse {
	out := make([]domain.SpotResponse, 0, len(spots))
	for i := range spots {
		out = append(out, spots[i].ToResponse())
	}
	return out
}

// bindSpotFilter reads lotId, isActive, page and limit by binding, and status and spotType by hand.
func bindSpotFilter(c *gin.Context) (domain.ParkingSpotFilter, bool) {
	var filter domain.ParkingSpotFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		respondBadRequest(c, err.Error())
		return filter, false
	}
	if raw := c.Query("status"); raw != "" {
		status, err := domain.ParseAnyStatus(raw)
		if err != nil {
			respondError(c, service.ErrUnknownStatus)
			return filter, false
		}
		filter.Status = &status
	}
	if raw := c.Query("spotType"); raw != "" {
		spotType := domain.SpotType(raw)
		if !spotType.Valid() {
			respondBadRequest(c, "spotType must be car or motorcycle")
			return filter, false
		}
		filter.SpotType = &spotType
	}
	return filter, true
}

// GET /parking-spots
func (h *ParkingSpotHandler) ListSpots(c *gin.Context) {
	filter, ok := bindSpotFilter(c)
	if !ok {
		return
	}
	h.listSpots(c, filter)
}

// GET /parking-lots/:id/spots
func (h *ParkingSpotHandler) ListLotSpots(c *gin.Context) {
	lotID, ok := paramID(c, "id")
	if !ok {
		return
	}
	filter, ok := bindSpotFilter(c)
	if !ok {
		return
	}
	filter.LotID = &lotID
	h.listSpots(c, filter)
}

func (h *ParkingSpotHandler) listSpots(c *gin.Context, filter domain.ParkingSpotFilter) {
	page, err := h.spotService.ListSpots(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, domain.NewPage(spotResponses(page.Items), page.Total, page.Page, page.Limit))
}

// GET /parking-spots/snapshot
func (h *ParkingSpotHandler) Snapshot(c *gin.Context) {
	spots, err := h.spotService.Snapshot(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"spots": spotResponses(spots), "count": len(spots)})
}

// GET /parking-spots/:id
func (h *ParkingSpotHandler) GetSpot(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	spot, err := h.spotService.GetSpot(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, spot.ToResponse())
}

// POST /parking-spots
func (h *ParkingSpotHandler) CreateSpot(c *gin.Context) {
	var dto domain.CreateParkingSpotDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	spot, err := h.spotService.CreateSpot(c.Request.Context(), dto, c.GetInt(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, spot.ToResponse())
}

// PUT /parking-spots/:id
func (h *ParkingSpotHandler) UpdateSpot(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var dto domain.UpdateParkingSpotDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	spot, err := h.spotService.UpdateSpot(c.Request.Context(), id, dto)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, spot.ToResponse())
}

// DELETE /parking-spots/:id
func (h *ParkingSpotHandler) DeleteSpot(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.spotService.DeleteSpot(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PATCH /parking-spots/:id/status
func (h *ParkingSpotHandler) UpdateStatus(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var dto domain.UpdateSpotStatusDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	spot, err := h.spotService.UpdateStatus(c.Request.Context(), id, dto.Status, dto.Description, middleware.CurrentActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, spot.ToResponse())
}

// POST /parking-spots/:id/reserve
func (h *ParkingSpotHandler) Reserve(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	spot, err := h.spotService.Reserve(c.Request.Context(), id, c.GetInt(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, spot.ToResponse())
}

// DELETE /parking-spots/:id/reservation
func (h *ParkingSpotHandler) CancelReservation(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	spot, err := h.spotService.CancelReservation(c.Request.Context(), id, middleware.CurrentActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, spot.ToResponse())
}
