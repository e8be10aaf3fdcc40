package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type WebSocketHandler struct {
	ws http.Handler
}

// NewWebSocketHandler adapts the realtime server to gin.
func NewWebSocketHandler(ws http.Handler) *WebSocketHandler {
	return &WebSocketHandler{ws: ws}
}

// GET /ws
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	h.ws.ServeHTTP(c.Writer, c.Request)
}
