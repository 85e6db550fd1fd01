package models

import "gorm.io/gorm"

// Migrate creates or updates every table the backend owns
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&MessageRecord{},
		&SyncCheckpoint{},
		&IntegrityReport{},
		&DashboardDocument{},
	)
}
