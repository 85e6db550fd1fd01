package api

import (
	"net/http"

	"claw-companion/backend/internal/reconcile"
	apperrors "claw-companion/backend/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// SyncEngine is the part of the reconciliation engine the API drives
type SyncEngine interface {
	Trigger() bool
	State() reconcile.State
	Running() bool
	LastResult() (reconcile.PassResult, bool)
}

// SyncHandler exposes manual sync triggers and the last pass outcome
type SyncHandler struct {
	engine  SyncEngine
	limiter *rate.Limiter
}

// NewSyncHandler limits manual triggers to limit per second with burst.
// A zero limit disables limiting.
func NewSyncHandler(engine SyncEngine, limit rate.Limit, burst int) *SyncHandler {
	h := &SyncHandler{engine: engine}
	if limit > 0 {
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(limit, burst)
	}
	return h
}

func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sync", h.Trigger)
	rg.GET("/sync", h.Status)
}

// Trigger asks for a pass. accepted is false when one is already queued.
func (h *SyncHandler) Trigger(c *gin.Context) {
	if h.limiter != nil && !h.limiter.Allow() {
		c.Error(apperrors.NewTooManyRequestsError("SYNC_THROTTLED", "Sync was triggered too often"))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": h.engine.Trigger()})
}

// Status reports the engine state and the last finished pass
func (h *SyncHandler) Status(c *gin.Context) {
	resp := gin.H{
		"state":   h.engine.State(),
		"running": h.engine.Running(),
	}
	if last, ok := h.engine.LastResult(); ok {
		resp["lastPass"] = last
	}
	c.JSON(http.StatusOK, resp)
}
