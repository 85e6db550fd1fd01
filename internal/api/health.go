package api

import (
	"net/http"
	"runtime"
	"time"

	"claw-companion/backend/pkg/health"

	"github.com/gin-gonic/gin"
)

// ConnectionCounter reports how many renderers are connected
type ConnectionCounter interface {
	Count() int
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checker *health.Checker
	conns   ConnectionCounter
	version string
	started time.Time
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status     health.Status                `json:"status"`
	Timestamp  time.Time                    `json:"timestamp"`
	Version    string                       `json:"version"`
	Uptime     string                       `json:"uptime"`
	Components map[string]*health.Component `json:"components"`
	WebSocket  map[string]int               `json:"websocket"`
	Memory     map[string]uint64            `json:"memory"`
}

// NewHealthHandler creates the handler; conns may be nil when websockets are disabled
func NewHealthHandler(checker *health.Checker, conns ConnectionCounter, version string) *HealthHandler {
	return &HealthHandler{checker: checker, conns: conns, version: version, started: time.Now()}
}

// Health returns 503 while a critical component is down
func (h *HealthHandler) Health(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := HealthResponse{
		Status:     h.checker.Overall(),
		Timestamp:  time.Now(),
		Version:    h.version,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Components: h.checker.GetStatus(),
		Memory: map[string]uint64{
			"alloc_mb":  mem.Alloc / 1024 / 1024,
			"sys_mb":    mem.Sys / 1024 / 1024,
			"gc_cycles": uint64(mem.NumGC),
		},
	}
	if h.conns != nil {
		resp.WebSocket = map[string]int{"active_connections": h.conns.Count()}
	}

	code := http.StatusOK
	if !h.checker.IsSystemHealthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// RegisterHealthRoutes registers health check related routes
func (h *HealthHandler) RegisterHealthRoutes(router gin.IRoutes) {
	router.GET("/health", h.Health)
}
