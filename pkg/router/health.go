package router

import (
	"claw-companion/backend/internal/api"
)

// setupHealthRoutes registers health and metrics endpoints outside /api/v1
func (r *Router) setupHealthRoutes() {
	var conns api.ConnectionCounter
	if r.Container.Hub != nil {
		conns = r.Container.Hub
	}
	h := api.NewHealthHandler(r.Container.Health, conns, r.Config.Remote.AppVersion)

	// Register both health endpoint paths for compatibility
	h.RegisterHealthRoutes(r.Engine)
	r.Engine.GET("/api/health", h.Health)

	if r.Container.Metrics != nil {
		r.Engine.GET("/metrics", r.metricsHandler())
	}
}
