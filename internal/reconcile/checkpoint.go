package reconcile

import (
	"context"
	"errors"

	"claw-companion/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CheckpointStore persists the merge position per device
type CheckpointStore interface {
	Load(ctx context.Context, deviceID string) (*models.SyncCheckpoint, error)
	Save(ctx context.Context, cp models.SyncCheckpoint) error
}

// GormCheckpointStore keeps checkpoints in the sync_checkpoints table
type GormCheckpointStore struct {
	db *gorm.DB
}

func NewGormCheckpointStore(db *gorm.DB) *GormCheckpointStore {
	return &GormCheckpointStore{db: db}
}

// Load returns nil without error when the device has never synced
func (s *GormCheckpointStore) Load(ctx context.Context, deviceID string) (*models.SyncCheckpoint, error) {
	var cp models.SyncCheckpoint
	err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).Take(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *GormCheckpointStore) Save(ctx context.Context, cp models.SyncCheckpoint) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_sync_at", "last_remote_id", "updated_at"}),
	}).Create(&cp).Error
}
