package timeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"claw-companion/backend/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a record lookup has no match
var ErrNotFound = errors.New("timeline: record not found")

// PrunePolicy decides which records survive a prune
type PrunePolicy string

const (
	// PruneRecency keeps the newest records by timestamp
	PruneRecency PrunePolicy = "recency"
	// PruneKeepPending keeps unread entity replies and undelivered user
	// messages ahead of everything else, then the newest
	PruneKeepPending PrunePolicy = "keep-pending"
)

// ParsePrunePolicy maps a config string onto a policy, defaulting to recency
func ParsePrunePolicy(s string) PrunePolicy {
	if PrunePolicy(s) == PruneKeepPending {
		return PruneKeepPending
	}
	return PruneRecency
}

// Query selects a page of the timeline in display order
type Query struct {
	Limit    int
	BeforeID uint
	EntityID int
}

// Store is the persisted message timeline
type Store interface {
	// Insert stores rec unless its dedup key is already taken. The returned
	// bool is false for such a duplicate, which is not an error.
	Insert(ctx context.Context, rec *models.MessageRecord) (bool, error)
	ExistsByDedupKey(ctx context.Context, key string) (bool, error)
	GetByDedupKey(ctx context.Context, key string) (*models.MessageRecord, error)
	GetByID(ctx context.Context, id uint) (*models.MessageRecord, error)
	FindByDedupKeys(ctx context.Context, keys []string) (map[string]models.MessageRecord, error)
	// FindReconcileCandidate returns the earliest unkeyed local record from
	// source with the same text whose timestamp lies within window of ts
	FindReconcileCandidate(ctx context.Context, source, text string, ts int64, window time.Duration) (*models.MessageRecord, error)
	AttachDedupKey(ctx context.Context, id uint, key string) (bool, error)
	MarkSynced(ctx context.Context, id uint) error
	MarkDelivered(ctx context.Context, id uint, deliveredTo []string) error
	MarkRead(ctx context.Context, id uint) error
	List(ctx context.Context, q Query) ([]models.MessageRecord, error)
	Recent(ctx context.Context, limit int) ([]models.MessageRecord, error)
	Count(ctx context.Context) (int64, error)
	Prune(ctx context.Context, keep int, policy PrunePolicy) (int64, error)
}

// GormStore implements Store on top of gorm
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed timeline store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Insert(ctx context.Context, rec *models.MessageRecord) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedup_key"}}, DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, fmt.Errorf("insert record: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) ExistsByDedupKey(ctx context.Context, key string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.MessageRecord{}).Where("dedup_key = ?", key).Count(&n).Error
	return n > 0, err
}

func (s *GormStore) GetByDedupKey(ctx context.Context, key string) (*models.MessageRecord, error) {
	return s.first(ctx, "dedup_key = ?", key)
}

func (s *GormStore) GetByID(ctx context.Context, id uint) (*models.MessageRecord, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *GormStore) first(ctx context.Context, cond string, args ...interface{}) (*models.MessageRecord, error) {
	var rec models.MessageRecord
	err := s.db.WithContext(ctx).Where(cond, args...).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) FindByDedupKeys(ctx context.Context, keys []string) (map[string]models.MessageRecord, error) {
	out := make(map[string]models.MessageRecord, len(keys))
	const chunk = 200
	for start := 0; start < len(keys); start += chunk {
		end := start + chunk
		if end > len(keys) {
			end = len(keys)
		}
		var recs []models.MessageRecord
		if err := s.db.WithContext(ctx).Where("dedup_key IN ?", keys[start:end]).Find(&recs).Error; err != nil {
			return nil, err
		}
		for _, r := range recs {
			if r.DedupKey != nil {
				out[*r.DedupKey] = r
			}
		}
	}
	return out, nil
}

func (s *GormStore) FindReconcileCandidate(ctx context.Context, source, text string, ts int64, window time.Duration) (*models.MessageRecord, error) {
	w := window.Milliseconds()
	var rec models.MessageRecord
	err := s.db.WithContext(ctx).
		Where("dedup_key IS NULL AND direction = ? AND source_channel = ? AND body = ?",
			models.DirectionFromLocalUser, source, text).
		Where("event_ts BETWEEN ? AND ?", ts-w, ts+w).
		Order("event_ts ASC, id ASC").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// AttachDedupKey gives an unkeyed record its remote identity. It reports
// false when the record already has a key or the key is taken elsewhere.
func (s *GormStore) AttachDedupKey(ctx context.Context, id uint, key string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.MessageRecord{}).
		Where("id = ? AND dedup_key IS NULL", id).
		Updates(map[string]interface{}{"dedup_key": key, "synced": true})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, fmt.Errorf("attach dedup key: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) MarkSynced(ctx context.Context, id uint) error {
	return s.flag(ctx, id, "synced")
}

func (s *GormStore) MarkRead(ctx context.Context, id uint) error {
	return s.flag(ctx, id, "is_read")
}

func (s *GormStore) flag(ctx context.Context, id uint, column string) error {
	res := s.db.WithContext(ctx).Model(&models.MessageRecord{}).Where("id = ?", id).Update(column, true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDelivered sets the delivered flag and merges deliveredTo into the
// recipients already recorded
func (s *GormStore) MarkDelivered(ctx context.Context, id uint, deliveredTo []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.MessageRecord
		if err := tx.Select("id", "delivered_to").Where("id = ?", id).Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		merged := mergeSet(rec.DeliveredTo, deliveredTo)
		return tx.Model(&models.MessageRecord{}).Where("id = ?", id).
			Updates(map[string]interface{}{"delivered": true, "delivered_to": merged}).Error
	})
}

func mergeSet(have, add []string) datatypes.JSONSlice[string] {
	seen := make(map[string]struct{}, len(have)+len(add))
	out := make([]string, 0, len(have)+len(add))
	for _, v := range append(append([]string{}, have...), add...) {
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// List returns a page of records ordered oldest first
func (s *GormStore) List(ctx context.Context, q Query) ([]models.MessageRecord, error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	tx := s.db.WithContext(ctx).Model(&models.MessageRecord{})
	if q.BeforeID > 0 {
		tx = tx.Where("id < ?", q.BeforeID)
	}
	if q.EntityID > 0 {
		tx = tx.Where("origin_id = ?", q.EntityID)
	}
	var recs []models.MessageRecord
	if err := tx.Order("event_ts DESC, id DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	sortChronological(recs)
	return recs, nil
}

// Recent returns the newest limit records ordered oldest first
func (s *GormStore) Recent(ctx context.Context, limit int) ([]models.MessageRecord, error) {
	return s.List(ctx, Query{Limit: limit})
}

func (s *GormStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.MessageRecord{}).Count(&n).Error
	return n, err
}

// Prune deletes every record outside the keep set chosen by policy
func (s *GormStore) Prune(ctx context.Context, keep int, policy PrunePolicy) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	db := s.db.WithContext(ctx)
	keepSet := db.Model(&models.MessageRecord{}).Select("id")
	switch policy {
	case PruneKeepPending:
		keepSet = keepSet.Order(clause.OrderBy{Expression: clause.Expr{
			SQL: "CASE WHEN (direction = ? AND is_read = ?) OR (direction = ? AND delivered = ?) THEN 0 ELSE 1 END, event_ts DESC, id DESC",
			Vars: []interface{}{
				models.DirectionFromRemoteEntity, false,
				models.DirectionFromLocalUser, false,
			},
		}})
	default:
		keepSet = keepSet.Order("event_ts DESC, id DESC")
	}
	keepSet = keepSet.Limit(keep)

	res := db.Where("id NOT IN (?)", keepSet).Delete(&models.MessageRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func sortChronological(recs []models.MessageRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Timestamp != recs[j].Timestamp {
			return recs[i].Timestamp < recs[j].Timestamp
		}
		return recs[i].ID < recs[j].ID
	})
}
