package integrity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"claw-companion/backend/internal/models"

	"gorm.io/gorm"
)

// ReportMeta describes the device a finding was detected on
type ReportMeta struct {
	DeviceID   string
	Platform   string
	AppVersion string
}

// Report converts a finding to its persisted and wire form
func (f Finding) Report(meta ReportMeta) models.IntegrityReport {
	r := models.IntegrityReport{
		DeviceID:    meta.DeviceID,
		Platform:    meta.Platform,
		AppVersion:  meta.AppVersion,
		Layer:       string(f.Layer),
		CheckType:   string(f.CheckType),
		Description: f.Description,
		Expected:    encode(f.Expected),
		Actual:      encode(f.Actual),
		AffectedIDs: append([]string(nil), f.AffectedIDs...),
	}
	r.Fingerprint = r.ServerFingerprint()
	return r
}

func encode(v map[string]interface{}) string {
	if len(v) == 0 {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// ReportFilter narrows List
type ReportFilter struct {
	DeviceID string
	Layer    string
	Limit    int
}

// ReportStore persists integrity reports
type ReportStore struct {
	db *gorm.DB
}

func NewReportStore(db *gorm.DB) *ReportStore {
	return &ReportStore{db: db}
}

// Save stores r, filling in the server fingerprint when missing
func (s *ReportStore) Save(ctx context.Context, r *models.IntegrityReport) error {
	if r.Fingerprint == "" {
		r.Fingerprint = r.ServerFingerprint()
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("save integrity report: %w", err)
	}
	return nil
}

// List returns the newest reports first
func (s *ReportStore) List(ctx context.Context, f ReportFilter) ([]models.IntegrityReport, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	tx := s.db.WithContext(ctx).Model(&models.IntegrityReport{})
	if f.DeviceID != "" {
		tx = tx.Where("device_id = ?", f.DeviceID)
	}
	if f.Layer != "" {
		tx = tx.Where("layer = ?", f.Layer)
	}
	var out []models.IntegrityReport
	if err := tx.Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteOlderThan removes reports created before cutoff
func (s *ReportStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.IntegrityReport{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete old integrity reports: %w", res.Error)
	}
	return res.RowsAffected, nil
}
