package models

import (
	"time"

	"gorm.io/datatypes"
)

// IntegrityReport is the persisted and wire form of an integrity finding
type IntegrityReport struct {
	ID          uint                        `json:"id" gorm:"primaryKey"`
	DeviceID    string                      `json:"deviceId" gorm:"size:128;index"`
	Platform    string                      `json:"platform" gorm:"size:32"`
	AppVersion  string                      `json:"appVersion" gorm:"size:32"`
	Layer       string                      `json:"layer" binding:"required" gorm:"size:16;not null"`
	CheckType   string                      `json:"checkType" binding:"required" gorm:"size:32;not null"`
	Fingerprint string                      `json:"fingerprint" gorm:"size:255;index"`
	Description string                      `json:"description"`
	Expected    string                      `json:"expected"`
	Actual      string                      `json:"actual"`
	AffectedIDs datatypes.JSONSlice[string] `json:"affectedIds"`
	Details     datatypes.JSON              `json:"details,omitempty"`
	CreatedAt   time.Time                   `json:"createdAt"`
}

// ServerFingerprint keys a report across devices
func (r *IntegrityReport) ServerFingerprint() string {
	first := "none"
	if len(r.AffectedIDs) > 0 {
		first = r.AffectedIDs[0]
	}
	return r.DeviceID + ":" + r.Layer + ":" + r.CheckType + ":" + first
}
