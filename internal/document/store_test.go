package document

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"claw-companion/backend/internal/models"
	"claw-companion/backend/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := config.OpenSQLite(filepath.Join(t.TempDir(), "docs.db"), nil)
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewGormStore(db, WithStoreClock(func() time.Time { return fixedNow }))
}

func TestGetUninitialized(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Put(context.Background(), "nobody", models.Dashboard{}, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.Init(ctx, "owner-1", models.Dashboard{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, doc.Version)
	assert.Equal(t, fixedNow.UnixMilli(), doc.LastSyncedAt)
	assert.NotNil(t, doc.Payload.TodoList)

	_, err = s.Init(ctx, "owner-1", models.Dashboard{})
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	got, err := s.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Version)
}

func TestPutIncrementsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Init(ctx, "owner-1", models.Dashboard{})
	require.NoError(t, err)

	for want := int64(2); want <= 5; want++ {
		payload := models.Dashboard{Notes: []models.MissionNote{{ID: "n", Title: fmt.Sprint(want)}}}
		v, err := s.Put(ctx, "owner-1", payload, want-1)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	got, err := s.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, got.Version)
	assert.Equal(t, "5", got.Payload.Notes[0].Title)
}

func TestStaleWriteIsRejectedWithoutChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Init(ctx, "owner-1", models.Dashboard{})
	require.NoError(t, err)
	_, err = s.Put(ctx, "owner-1", models.Dashboard{Notes: []models.MissionNote{{ID: "a", Title: "kept"}}}, 1)
	require.NoError(t, err)

	_, err = s.Put(ctx, "owner-1", models.Dashboard{Notes: []models.MissionNote{{ID: "b", Title: "lost"}}}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionConflict)

	var conflict *VersionConflictError
	require.True(t, errors.As(err, &conflict))
	assert.EqualValues(t, 1, conflict.Expected)
	assert.EqualValues(t, 2, conflict.Actual)

	got, err := s.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Version)
	assert.Equal(t, "kept", got.Payload.Notes[0].Title)

	_, err = s.Put(ctx, "owner-1", models.Dashboard{}, 7)
	require.True(t, errors.As(err, &conflict))
	assert.EqualValues(t, 7, conflict.Expected)
}

func TestConcurrentPutsOnlyOneWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Init(ctx, "owner-1", models.Dashboard{})
	require.NoError(t, err)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := models.Dashboard{Notes: []models.MissionNote{{ID: fmt.Sprint(i), Title: "w"}}}
			_, err := s.Put(ctx, "owner-1", payload, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrVersionConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, writers-1, conflicts)
	got, err := s.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Version)
}
