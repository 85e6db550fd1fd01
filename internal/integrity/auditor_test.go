package integrity

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"claw-companion/backend/internal/models"
	"claw-companion/backend/internal/timeline"
	"claw-companion/backend/pkg/config"
	"claw-companion/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	findings []Finding
	err      error
}

func (s *recordingSink) Submit(_ context.Context, f Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, f)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.findings)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mapLookup map[string]models.MessageRecord

func (m mapLookup) FindByDedupKeys(_ context.Context, keys []string) (map[string]models.MessageRecord, error) {
	out := make(map[string]models.MessageRecord)
	for _, k := range keys {
		if rec, ok := m[k]; ok {
			out[k] = rec
		}
	}
	return out, nil
}

type failingLookup struct{}

func (failingLookup) FindByDedupKeys(context.Context, []string) (map[string]models.MessageRecord, error) {
	return nil, errors.New("database is locked")
}

type panickyView struct{}

func (panickyView) MaterializedCount() int { panic("renderer detached") }
func (panickyView) MaterializedIdentityAt(int) (uint, bool) {
	return 0, false
}
func (panickyView) MaterializedDirectionAt(int) (models.Direction, bool) {
	return "", false
}

func newTestAuditor(t *testing.T, lookup Lookup, cfg Config) (*Auditor, *recordingSink, *clock) {
	t.Helper()
	clk := &clock{now: time.UnixMilli(1_700_000_000_000)}
	sink := &recordingSink{}
	gate := NewMemoryGate(cfg.Cooldown, clk.Now)
	t.Cleanup(gate.Close)
	a := NewAuditor(lookup, gate, sink, cfg, logger.Nop(), WithClock(clk.Now))
	return a, sink, clk
}

func TestDisplayCountMismatchEmitsOneFinding(t *testing.T) {
	a, sink, _ := newTestAuditor(t, mapLookup{}, DefaultConfig())

	list := submittedList(5)
	f := a.RunDisplayCheck(context.Background(), list, snapshotOf(list[:4]))
	require.NotNil(t, f)
	assert.Equal(t, CheckBubbleCount, f.CheckType)

	require.Equal(t, 1, sink.count())
	assert.Equal(t, CheckBubbleCount, sink.findings[0].CheckType)
	assert.False(t, sink.findings[0].DetectedAt.IsZero())
}

func TestIdenticalFindingsAreRateLimited(t *testing.T) {
	a, sink, clk := newTestAuditor(t, mapLookup{}, DefaultConfig())
	ctx := context.Background()
	list := submittedList(5)
	view := snapshotOf(list[:4])

	a.RunDisplayCheck(ctx, list, view)
	clk.Advance(10 * time.Minute)
	a.RunDisplayCheck(ctx, list, view)
	assert.Equal(t, 1, sink.count(), "second report inside the cooldown is suppressed")

	other := snapshotOf(list)
	other[1].ID, other[3].ID = other[3].ID, other[1].ID
	a.RunDisplayCheck(ctx, list, other)
	assert.Equal(t, 2, sink.count(), "a different fingerprint is not suppressed")

	clk.Advance(21 * time.Minute)
	a.RunDisplayCheck(ctx, list, view)
	assert.Equal(t, 3, sink.count(), "reported again after the cooldown")
}

func TestAuditDataUsesLookup(t *testing.T) {
	remote := []models.RemoteEvent{remoteEntity("1", "hello"), remoteEntity("2", "world")}
	local := mapLookup(replica(remote...))
	rec := local["remote_2"]
	rec.Text = "w0rld"
	local["remote_2"] = rec

	a, sink, _ := newTestAuditor(t, local, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Stop()

	assert.True(t, a.AuditData(remote))
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, CheckContentMismatch, sink.findings[0].CheckType)
	assert.Equal(t, []string{"2"}, sink.findings[0].AffectedIDs)
}

func TestAuditDataAgainstStore(t *testing.T) {
	db, err := config.OpenSQLite(filepath.Join(t.TempDir(), "audit.db"), nil)
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	store := timeline.NewGormStore(db)
	ctx := context.Background()

	remote := []models.RemoteEvent{remoteEntity("1", "a"), remoteEntity("2", "b"), remoteEntity("3", "c"), remoteEntity("4", "d")}
	rec := localOf(remote[0])
	rec.Timestamp = 1
	rec.Category = models.CategoryEntityResponse
	_, err = store.Insert(ctx, &rec)
	require.NoError(t, err)

	a, sink, _ := newTestAuditor(t, store, DefaultConfig())
	f := a.RunDataCheck(ctx, remote)
	require.NotNil(t, f)
	assert.Equal(t, CheckMessageCount, f.CheckType)
	assert.Equal(t, 3, f.Actual["missingCount"])
	assert.Equal(t, 1, sink.count())
}

func TestAuditorContainsFailures(t *testing.T) {
	t.Run("lookup error", func(t *testing.T) {
		a, sink, _ := newTestAuditor(t, failingLookup{}, DefaultConfig())
		assert.Nil(t, a.RunDataCheck(context.Background(), []models.RemoteEvent{remoteEntity("1", "a")}))
		assert.Equal(t, 0, sink.count())
	})

	t.Run("panicking renderer", func(t *testing.T) {
		a, sink, _ := newTestAuditor(t, mapLookup{}, DefaultConfig())
		assert.NotPanics(t, func() {
			a.RunDisplayCheck(context.Background(), submittedList(2), panickyView{})
		})
		assert.Equal(t, 0, sink.count())
	})

	t.Run("sink error", func(t *testing.T) {
		a, sink, _ := newTestAuditor(t, mapLookup{}, DefaultConfig())
		sink.err = errors.New("report endpoint down")
		assert.NotPanics(t, func() {
			a.RunDisplayCheck(context.Background(), submittedList(2), Snapshot{})
		})
		assert.Equal(t, 1, sink.count())
	})
}

func TestFullQueueDropsJobs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 1
	a, _, _ := newTestAuditor(t, mapLookup{}, cfg)

	assert.True(t, a.AuditDisplay(submittedList(1), Snapshot{}))
	assert.False(t, a.AuditDisplay(submittedList(1), Snapshot{}))
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("boom")}
	err := MultiSink{bad, ok}.Submit(context.Background(), Finding{CheckType: CheckOrdering})
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, 1, ok.count())
}

func TestStoreSinkPersistsReport(t *testing.T) {
	db, err := config.OpenSQLite(filepath.Join(t.TempDir(), "reports.db"), nil)
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	reports := NewReportStore(db)
	sink := NewStoreSink(reports, ReportMeta{DeviceID: "dev-1", Platform: "linux"})
	ctx := context.Background()

	require.NoError(t, sink.Submit(ctx, Finding{
		Layer:       LayerDisplay,
		CheckType:   CheckOrdering,
		Expected:    map[string]interface{}{"id": 2},
		AffectedIDs: []string{"2", "4"},
	}))

	got, err := reports.List(ctx, ReportFilter{DeviceID: "dev-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dev-1:display:ordering:2", got[0].Fingerprint)
	assert.JSONEq(t, `{"id":2}`, got[0].Expected)
	assert.Equal(t, []string{"2", "4"}, []string(got[0].AffectedIDs))
}
