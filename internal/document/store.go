package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"claw-companion/backend/internal/models"
	"claw-companion/backend/shared/observability"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound           = errors.New("document: not found")
	ErrVersionConflict    = errors.New("document: version conflict")
	ErrAlreadyInitialized = errors.New("document: already initialized")
)

// VersionConflictError carries both sides of a rejected write
type VersionConflictError struct {
	OwnerID  string
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("document %s: expected version %d, current version is %d", e.OwnerID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// Document is a dashboard with its version metadata
type Document struct {
	OwnerID      string           `json:"ownerId"`
	Payload      models.Dashboard `json:"payload"`
	Version      int64            `json:"version"`
	LastSyncedAt int64            `json:"lastSyncedAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// Store is an optimistic-concurrency document store. A write succeeds only
// when the caller's expected version equals the stored one, and every
// accepted write bumps the version by exactly one.
type Store interface {
	Init(ctx context.Context, ownerID string, payload models.Dashboard) (*Document, error)
	Get(ctx context.Context, ownerID string) (*Document, error)
	Put(ctx context.Context, ownerID string, payload models.Dashboard, expectedVersion int64) (int64, error)
}

// GormStore keeps one row per owner in dashboard_documents
type GormStore struct {
	db      *gorm.DB
	now     func() time.Time
	metrics *observability.Metrics
}

type StoreOption func(*GormStore)

func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *GormStore) { s.now = now }
}

func WithStoreMetrics(m *observability.Metrics) StoreOption {
	return func(s *GormStore) { s.metrics = m }
}

func NewGormStore(db *gorm.DB, opts ...StoreOption) *GormStore {
	s := &GormStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates the owner's document at version 1
func (s *GormStore) Init(ctx context.Context, ownerID string, payload models.Dashboard) (*Document, error) {
	now := s.now()
	row := models.DashboardDocument{
		OwnerID:      ownerID,
		Payload:      datatypes.NewJSONType(normalize(payload)),
		Version:      1,
		LastSyncedAt: now.UnixMilli(),
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "owner_id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("init document: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyInitialized
	}
	return toDocument(row), nil
}

func (s *GormStore) Get(ctx context.Context, ownerID string) (*Document, error) {
	var row models.DashboardDocument
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return toDocument(row), nil
}

// Put replaces the payload when expectedVersion matches. The version check
// and the increment are one conditional UPDATE.
func (s *GormStore) Put(ctx context.Context, ownerID string, payload models.Dashboard, expectedVersion int64) (int64, error) {
	now := s.now()
	res := s.db.WithContext(ctx).
		Model(&models.DashboardDocument{}).
		Where("owner_id = ? AND version = ?", ownerID, expectedVersion).
		Updates(map[string]interface{}{
			"payload":        datatypes.NewJSONType(normalize(payload)),
			"version":        gorm.Expr("version + 1"),
			"last_synced_at": now.UnixMilli(),
			"updated_at":     now,
		})
	if res.Error != nil {
		s.metrics.DocumentWrite("error")
		return 0, fmt.Errorf("put document: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		s.metrics.DocumentWrite("accepted")
		return expectedVersion + 1, nil
	}

	current, err := s.Get(ctx, ownerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.metrics.DocumentWrite("not_found")
		}
		return 0, err
	}
	s.metrics.DocumentWrite("conflict")
	return 0, &VersionConflictError{OwnerID: ownerID, Expected: expectedVersion, Actual: current.Version}
}

func toDocument(row models.DashboardDocument) *Document {
	return &Document{
		OwnerID:      row.OwnerID,
		Payload:      normalize(row.Payload.Data()),
		Version:      row.Version,
		LastSyncedAt: row.LastSyncedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

// normalize replaces nil lists so the stored JSON always has arrays
func normalize(d models.Dashboard) models.Dashboard {
	if d.TodoList == nil {
		d.TodoList = []models.MissionItem{}
	}
	if d.MissionList == nil {
		d.MissionList = []models.MissionItem{}
	}
	if d.DoneList == nil {
		d.DoneList = []models.MissionItem{}
	}
	if d.Notes == nil {
		d.Notes = []models.MissionNote{}
	}
	if d.Rules == nil {
		d.Rules = []models.MissionRule{}
	}
	return d
}
