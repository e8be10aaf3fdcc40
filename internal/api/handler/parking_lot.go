package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/service"
)

type ParkingLotHandler struct {
	lotService *service.LotService
}

func NewParkingLotHandler(ls *service.LotService) *ParkingLotHandler {
	return &ParkingLotHandler{lotService: ls}
}

// POST /parking-lots
func (h *ParkingLotHandler) CreateParkingLot(c *gin.Context) {
	var dto domain.ParkingLotDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	lot, err := h.lotService.CreateLot(c.Request.Context(), dto)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lot)
}

// GET /parking-lots/:id
func (h *ParkingLotHandler) GetParkingLotByID(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	lot, err := h.lotService.GetLot(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lot)
}

// GET /parking-lots
func (h *ParkingLotHandler) GetAllParkingLots(c *gin.Context) {
	lots, err := h.lotService.ListLots(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if lots == nil {
		lots = []domain.ParkingLot{}
	}
	c.JSON(http.StatusOK, lots)
}

// PUT /parking-lots/:id
func (h *ParkingLotHandler) UpdateParkingLot(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var dto domain.ParkingLotDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	lot, err := h.lotService.UpdateLot(c.Request.Context(), id, dto)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lot)
}

// DELETE /parking-lots/:id
func (h *ParkingLotHandler) DeleteParkingLot(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.lotService.DeleteLot(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /parking-lots/:id/stats
func (h *ParkingLotHandler) GetParkingLotStats(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	stats, err := h.lotService.Stats(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
