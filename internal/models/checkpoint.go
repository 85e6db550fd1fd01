package models

import "time"

// SyncCheckpoint remembers how far the remote log has been merged for a device
type SyncCheckpoint struct {
	DeviceID     string    `json:"deviceId" gorm:"primaryKey;size:128"`
	LastSyncAt   int64     `json:"lastSyncAt"`
	LastRemoteID string    `json:"lastRemoteId" gorm:"size:64"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
