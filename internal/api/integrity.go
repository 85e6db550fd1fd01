package api

import (
	"context"
	"net/http"

	"claw-companion/backend/internal/integrity"
	"claw-companion/backend/internal/models"
	apperrors "claw-companion/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ReportStore persists integrity reports sent by renderers
type ReportStore interface {
	Save(ctx context.Context, r *models.IntegrityReport) error
	List(ctx context.Context, f integrity.ReportFilter) ([]models.IntegrityReport, error)
}

// IntegrityHandler ingests and lists integrity reports. Reports whose
// fingerprint was seen within the gate's cooldown are acknowledged but
// not stored.
type IntegrityHandler struct {
	reports ReportStore
	gate    integrity.Gate
}

// NewIntegrityHandler creates the handler; gate may be nil to store every report
func NewIntegrityHandler(reports ReportStore, gate integrity.Gate) *IntegrityHandler {
	return &IntegrityHandler{reports: reports, gate: gate}
}

func (h *IntegrityHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/integrity/reports", h.Ingest)
	rg.GET("/integrity/reports", h.List)
}

func (h *IntegrityHandler) Ingest(c *gin.Context) {
	var report models.IntegrityReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.Error(bindError(err))
		return
	}
	switch integrity.Layer(report.Layer) {
	case integrity.LayerData, integrity.LayerDisplay:
	default:
		c.Error(apperrors.BadRequestWithDetails("INVALID_LAYER", "Layer must be data or display", gin.H{"layer": report.Layer}))
		return
	}
	report.ID = 0
	report.Fingerprint = report.ServerFingerprint()

	ctx := c.Request.Context()
	if h.gate != nil && !h.gate.Allow(ctx, report.Fingerprint) {
		c.JSON(http.StatusOK, gin.H{"accepted": false, "fingerprint": report.Fingerprint})
		return
	}
	if err := h.reports.Save(ctx, &report); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"accepted": true, "id": report.ID, "fingerprint": report.Fingerprint})
}

func (h *IntegrityHandler) List(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		c.Error(err)
		return
	}
	out, err := h.reports.List(c.Request.Context(), integrity.ReportFilter{
		DeviceID: c.Query("deviceId"),
		Layer:    c.Query("layer"),
		Limit:    limit,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": out, "count": len(out)})
}
