package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Status is a point-in-time view of the bridge.
type Status struct {
	SerialConnected bool   `json:"serial_connected"`
	SerialPort      string `json:"serial_port"`
	BaudRate        int    `json:"baud_rate"`
	ClientCount     int    `json:"client_count"`
}

// StatusHandler reports bridge runtime state.
type StatusHandler struct {
	status func() Status
}

// NewStatusHandler creates a StatusHandler. The callback is invoked on every
// request, so it must be cheap and safe to call concurrently.
func NewStatusHandler(status func() Status) *StatusHandler {
	return &StatusHandler{status: status}
}

// Get handles GET /api/status.
func (h *StatusHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.status())
}

// RegisterRoutes registers the status routes on a Gin router group.
func (h *StatusHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/status", h.Get)
}
