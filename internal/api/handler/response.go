package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nando3d2000/parking-project-backend/internal/api/middleware"
	"github.com/nando3d2000/parking-project-backend/internal/repository"
	"github.com/nando3d2000/parking-project-backend/internal/service"
)

// errorMapping is checked in order; the first match wins.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{repository.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{service.ErrUnknownStatus, http.StatusBadRequest, "UNKNOWN_STATUS"},
	{service.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
	{service.ErrProtectedState, http.StatusBadRequest, "PROTECTED_STATE"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{service.ErrTokenInvalid, http.StatusUnauthorized, "INVALID_TOKEN"},
	{service.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{service.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{service.ErrSpotUnavailable, http.StatusConflict, "SPOT_UNAVAILABLE"},
	{service.ErrSessionAlreadyActive, http.StatusConflict, "SESSION_ALREADY_ACTIVE"},
	{service.ErrSessionAlreadyEnded, http.StatusConflict, "SESSION_ALREADY_ENDED"},
	{service.ErrSpotInUse, http.StatusConflict, "SPOT_IN_USE"},
	{service.ErrConflict, http.StatusConflict, "CONFLICT"},
}

// respondError writes {"error": {"code", "message"}} for err. Unmapped errors
// become 500 INTERNAL and their text is only shown when error details are exposed.
func respondError(c *gin.Context, err error) {
	status, code, message := http.StatusInternalServerError, "INTERNAL", "internal server error"
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			status, code, message = m.status, m.code, err.Error()
			break
		}
	}

	body := gin.H{"code": code, "message": message}
	if c.GetBool(middleware.ExposeErrorsKey) {
		body["details"] = err.Error()
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func respondBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "VALIDATION_ERROR", "message": message}})
}

// paramID parses a positive integer path parameter, answering 400 otherwise.
func paramID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		respondBadRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter.
func queryInt(c *gin.Context, name string) (*int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		respondBadRequest(c, "invalid "+name)
		return nil, false
	}
	return &v, true
}
