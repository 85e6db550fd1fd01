package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"claw-companion/backend/internal/timeline"
	"claw-companion/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	keep   int
	policy timeline.PrunePolicy
	err    error
}

func (f *fakePruner) Prune(_ context.Context, keep int, policy timeline.PrunePolicy) (int64, error) {
	f.keep, f.policy = keep, policy
	return 4, f.err
}

type fakeReports struct {
	cutoff time.Time
}

func (f *fakeReports) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 2, nil
}

func TestInvalidCron(t *testing.T) {
	_, err := NewScheduler(&fakePruner{}, nil, Config{Cron: "every tuesday"}, logger.Nop())
	assert.Error(t, err)
}

func TestNextTick(t *testing.T) {
	s, err := NewScheduler(&fakePruner{}, nil, Config{}, logger.Nop())
	require.NoError(t, err)

	from := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
	next, err := s.Next(from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), next)
}

func TestRunOnce(t *testing.T) {
	p := &fakePruner{}
	r := &fakeReports{}
	s, err := NewScheduler(p, r, Config{KeepCount: 500, Policy: timeline.PruneKeepPending, ReportMaxAge: time.Hour}, logger.Nop())
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Messages: 4, Reports: 2}, res)
	assert.Equal(t, 500, p.keep)
	assert.Equal(t, timeline.PruneKeepPending, p.policy)
	assert.Equal(t, now.Add(-time.Hour), r.cutoff)
}

func TestRunOncePropagatesPruneError(t *testing.T) {
	p := &fakePruner{err: errors.New("disk full")}
	s, err := NewScheduler(p, nil, Config{KeepCount: 10}, logger.Nop())
	require.NoError(t, err)
	_, err = s.RunOnce(context.Background())
	assert.EqualError(t, err, "disk full")
}
