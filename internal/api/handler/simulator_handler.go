package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nando3d2000/parking-project-backend/internal/service"
)

// SimulatorHandler is the admin control surface of the sensor simulator.
type SimulatorHandler struct {
	simulator *service.SensorSimulator
}

func NewSimulatorHandler(sim *service.SensorSimulator) *SimulatorHandler {
	return &SimulatorHandler{simulator: sim}
}

// POST /simulator/start
func (h *SimulatorHandler) Start(c *gin.Context) {
	h.simulator.Start()
	c.JSON(http.StatusOK, h.simulator.Stats())
}

// POST /simulator/stop
func (h *SimulatorHandler) Stop(c *gin.Context) {
	h.simulator.Stop()
	c.JSON(http.StatusOK, h.simulator.Stats())
}

// GET /simulator/status
func (h *SimulatorHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.simulator.Stats())
}

// PUT /simulator/config
func (h *SimulatorHandler) UpdateConfig(c *gin.Context) {
	var patch service.SimulatorConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	status, err := h.simulator.UpdateConfig(patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// POST /simulator/failure/:spotId
func (h *SimulatorHandler) SimulateFailure(c *gin.Context) {
	spotID, ok := paramID(c, "spotId")
	if !ok {
		return
	}
	change, err := h.simulator.SimulateSensorFailure(c.Request.Context(), spotID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, change)
}

// POST /simulator/tick
func (h *SimulatorHandler) Tick(c *gin.Context) {
	change, err := h.simulator.Tick(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": change != nil, "change": change})
}
