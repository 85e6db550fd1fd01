package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"claw-companion/backend/internal/document"
	"claw-companion/backend/internal/integrity"
	"claw-companion/backend/internal/models"
	"claw-companion/backend/internal/reconcile"
	"claw-companion/backend/internal/timeline"
	"claw-companion/backend/pkg/config"
	apperrors "claw-companion/backend/pkg/errors"
	"claw-companion/backend/pkg/jwt"
	"claw-companion/backend/pkg/logger"
	"claw-companion/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
	RegisterErrorMappers()
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := config.OpenSQLite(filepath.Join(t.TempDir(), "api.db"), nil)
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

type errorBody struct {
	Error struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

func request(t *testing.T, r http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeSubmitter) SubmitUserMessage(_ context.Context, targets []string, text, source string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, source+"|"+text)
	if f.err != nil {
		return "", f.err
	}
	return "remote-1", nil
}

type countingPublisher struct{ n atomic.Int32 }

func (p *countingPublisher) Publish(context.Context) error {
	p.n.Add(1)
	return nil
}

func timelineRouter(t *testing.T, sub Submitter) (*gin.Engine, *TimelineHandler, *timeline.GormStore, *countingPublisher) {
	t.Helper()
	store := timeline.NewGormStore(newTestDB(t))
	pub := &countingPublisher{}
	h := NewTimelineHandler(store, TimelineOptions{
		Submitter: sub,
		Publisher: pub,
		Now:       func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	}, logger.Nop())

	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	h.RegisterRoutes(r.Group("/api/v1"))
	return r, h, store, pub
}

func TestComposeSubmitsInBackground(t *testing.T) {
	sub := &fakeSubmitter{}
	r, h, store, pub := timelineRouter(t, sub)

	w := request(t, r, http.MethodPost, "/api/v1/timeline/messages", "", gin.H{
		"text":      "hello claw",
		"targetIds": []string{"7"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rec models.MessageRecord
	decode(t, w, &rec)
	assert.NotZero(t, rec.ID)
	assert.Nil(t, rec.DedupKey)
	assert.Equal(t, "web", rec.SourceChannel)
	assert.Equal(t, models.CategoryUserToOne, rec.Category)
	assert.EqualValues(t, 1_700_000_000_000, rec.Timestamp)

	h.Wait()
	stored, err := store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, stored.Synced)
	assert.Nil(t, stored.DedupKey)
	assert.Equal(t, []string{"web|hello claw"}, sub.calls)
	assert.GreaterOrEqual(t, pub.n.Load(), int32(2))
}

func TestComposeBroadcastAndFailedSubmit(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("remote down")}
	r, h, store, _ := timelineRouter(t, sub)

	w := request(t, r, http.MethodPost, "/api/v1/timeline/messages", "", gin.H{
		"text":          "all hands",
		"targetIds":     []string{"1", "2"},
		"sourceChannel": "android_chat",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var rec models.MessageRecord
	decode(t, w, &rec)
	assert.Equal(t, models.CategoryUserBroadcast, rec.Category)

	h.Wait()
	stored, err := store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.False(t, stored.Synced)
}

func TestComposeValidation(t *testing.T) {
	r, _, _, _ := timelineRouter(t, nil)

	w := request(t, r, http.MethodPost, "/api/v1/timeline/messages", "", gin.H{"text": "no targets"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = request(t, r, http.MethodPost, "/api/v1/timeline/messages", "", gin.H{"text": "  ", "targetIds": []string{"1"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body errorBody
	decode(t, w, &body)
	assert.Equal(t, "EMPTY_MESSAGE", body.Error.Code)
}

func TestReadAndDeliveredMarkers(t *testing.T) {
	r, _, store, _ := timelineRouter(t, nil)
	ctx := context.Background()
	rec := &models.MessageRecord{
		Text:      "ping",
		Timestamp: 1,
		Direction: models.DirectionFromLocalUser,
		Category:  models.CategoryUserToOne,
	}
	_, err := store.Insert(ctx, rec)
	require.NoError(t, err)

	w := request(t, r, http.MethodPost, "/api/v1/timeline/messages/1/read", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.MessageRecord
	decode(t, w, &got)
	assert.True(t, got.Read)

	w = request(t, r, http.MethodPost, "/api/v1/timeline/messages/1/delivered", "", gin.H{"deliveredTo": []string{"7", "8"}})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &got)
	assert.True(t, got.Delivered)
	assert.ElementsMatch(t, []string{"7", "8"}, []string(got.DeliveredTo))

	assert.Equal(t, http.StatusNotFound, request(t, r, http.MethodPost, "/api/v1/timeline/messages/99/read", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, request(t, r, http.MethodPost, "/api/v1/timeline/messages/abc/read", "", nil).Code)
}

func TestListTimeline(t *testing.T) {
	r, _, store, _ := timelineRouter(t, nil)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		_, err := store.Insert(ctx, &models.MessageRecord{
			Text:      "m",
			Timestamp: int64(i),
			Direction: models.DirectionFromLocalUser,
			Category:  models.CategoryUserToOne,
		})
		require.NoError(t, err)
	}

	w := request(t, r, http.MethodGet, "/api/v1/timeline/messages?limit=3", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Messages []models.MessageRecord `json:"messages"`
		Count    int                    `json:"count"`
	}
	decode(t, w, &page)
	require.Equal(t, 3, page.Count)
	assert.EqualValues(t, 3, page.Messages[0].Timestamp)
	assert.EqualValues(t, 5, page.Messages[2].Timestamp)

	assert.Equal(t, http.StatusBadRequest, request(t, r, http.MethodGet, "/api/v1/timeline/messages?limit=x", "", nil).Code)
}

type fakeEngine struct {
	accept bool
	last   *reconcile.PassResult
}

func (f *fakeEngine) Trigger() bool          { return f.accept }
func (f *fakeEngine) State() reconcile.State { return reconcile.StateIdle }
func (f *fakeEngine) Running() bool          { return false }
func (f *fakeEngine) LastResult() (reconcile.PassResult, bool) {
	if f.last == nil {
		return reconcile.PassResult{}, false
	}
	return *f.last, true
}

func TestSyncEndpoints(t *testing.T) {
	eng := &fakeEngine{accept: true}
	h := NewSyncHandler(eng, 0.001, 2)
	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	h.RegisterRoutes(r.Group("/api/v1"))

	w := request(t, r, http.MethodGet, "/api/v1/sync", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "lastPass")

	w = request(t, r, http.MethodPost, "/api/v1/sync", "", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"accepted":true}`, w.Body.String())

	eng.accept = false
	w = request(t, r, http.MethodPost, "/api/v1/sync", "", nil)
	assert.JSONEq(t, `{"accepted":false}`, w.Body.String())

	w = request(t, r, http.MethodPost, "/api/v1/sync", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	eng.last = &reconcile.PassResult{State: reconcile.StateDone, Inserted: 3}
	w = request(t, r, http.MethodGet, "/api/v1/sync", "", nil)
	var status struct {
		State    reconcile.State      `json:"state"`
		LastPass reconcile.PassResult `json:"lastPass"`
	}
	decode(t, w, &status)
	assert.Equal(t, reconcile.StateIdle, status.State)
	assert.Equal(t, 3, status.LastPass.Inserted)
}

func TestIntegrityReports(t *testing.T) {
	store := integrity.NewReportStore(newTestDB(t))
	gate := integrity.NewMemoryGate(time.Hour, nil)
	defer gate.Close()
	h := NewIntegrityHandler(store, gate)
	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	h.RegisterRoutes(r.Group("/api/v1"))

	report := gin.H{
		"deviceId":    "phone-1",
		"layer":       "display",
		"checkType":   "ordering",
		"description": "bubble 3 out of place",
		"affectedIds": []string{"12", "13"},
	}
	w := request(t, r, http.MethodPost, "/api/v1/integrity/reports", "", report)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ack struct {
		Accepted    bool   `json:"accepted"`
		Fingerprint string `json:"fingerprint"`
	}
	decode(t, w, &ack)
	assert.True(t, ack.Accepted)
	assert.Equal(t, "phone-1:display:ordering:12", ack.Fingerprint)

	w = request(t, r, http.MethodPost, "/api/v1/integrity/reports", "", report)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &ack)
	assert.False(t, ack.Accepted)

	report["layer"] = "network"
	assert.Equal(t, http.StatusBadRequest, request(t, r, http.MethodPost, "/api/v1/integrity/reports", "", report).Code)

	w = request(t, r, http.MethodGet, "/api/v1/integrity/reports?deviceId=phone-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Reports []models.IntegrityReport `json:"reports"`
	}
	decode(t, w, &list)
	require.Len(t, list.Reports, 1)
	assert.Equal(t, "ordering", list.Reports[0].CheckType)
}

func documentRouter(t *testing.T) (*gin.Engine, *jwt.Service) {
	t.Helper()
	svc := jwt.NewService("secret", time.Hour)
	editor := document.NewEditor(document.NewGormStore(newTestDB(t)))
	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	v1 := r.Group("/api/v1", middleware.JWTAuthMiddleware(svc, logger.Nop()))
	NewDocumentHandler(editor).RegisterRoutes(v1)
	return r, svc
}

func TestDocumentOptimisticWrites(t *testing.T) {
	r, svc := documentRouter(t)
	human, err := svc.GenerateToken("phone", jwt.RoleHuman, "")
	require.NoError(t, err)
	agent, err := svc.GenerateToken("bot", jwt.RoleAgent, "owner-1")
	require.NoError(t, err)
	base := "/api/v1/documents/owner-1"

	assert.Equal(t, http.StatusUnauthorized, request(t, r, http.MethodGet, base, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, request(t, r, http.MethodGet, base, human, nil).Code)

	w := request(t, r, http.MethodPost, base, human, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var doc document.Document
	decode(t, w, &doc)
	assert.EqualValues(t, 1, doc.Version)

	w = request(t, r, http.MethodPost, base, human, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	var body errorBody
	decode(t, w, &body)
	assert.Equal(t, "ALREADY_INITIALIZED", body.Error.Code)

	w = request(t, r, http.MethodPost, base+"/items", agent, gin.H{
		"expectedVersion": 1,
		"item":            gin.H{"title": "molt shell", "priority": 3},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &doc)
	assert.EqualValues(t, 2, doc.Version)
	require.Len(t, doc.Payload.TodoList, 1)
	item := doc.Payload.TodoList[0]
	assert.Equal(t, models.WriterAgent, item.UpdatedBy)

	w = request(t, r, http.MethodPost, base+"/items", human, gin.H{
		"expectedVersion": 1,
		"item":            gin.H{"title": "stale"},
	})
	require.Equal(t, http.StatusConflict, w.Code)
	decode(t, w, &body)
	assert.Equal(t, "VERSION_CONFLICT", body.Error.Code)
	assert.EqualValues(t, 1, body.Error.Details["expectedVersion"])
	assert.EqualValues(t, 2, body.Error.Details["actualVersion"])

	w = request(t, r, http.MethodPatch, base+"/items/"+item.ID, human, gin.H{
		"expectedVersion": 2,
		"moveTo":          "done",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &doc)
	assert.EqualValues(t, 3, doc.Version)
	require.Len(t, doc.Payload.DoneList, 1)
	assert.Equal(t, models.WriterHuman, doc.Payload.DoneList[0].UpdatedBy)

	w = request(t, r, http.MethodGet, base+"/items?status=DONE", human, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var items struct {
		Items   []models.MissionItem `json:"items"`
		Version int64                `json:"version"`
	}
	decode(t, w, &items)
	assert.Len(t, items.Items, 1)
	assert.EqualValues(t, 3, items.Version)

	assert.Equal(t, http.StatusBadRequest, request(t, r, http.MethodDelete, base+"/items/"+item.ID, human, nil).Code)
	assert.Equal(t, http.StatusNotFound, request(t, r, http.MethodDelete, base+"/items/nope?expectedVersion=3", human, nil).Code)
	assert.Equal(t, http.StatusOK, request(t, r, http.MethodDelete, base+"/items/"+item.ID+"?expectedVersion=3", human, nil).Code)

	assert.Equal(t, http.StatusForbidden, request(t, r, http.MethodGet, "/api/v1/documents/owner-2", agent, nil).Code)
}

func TestDocumentNotesRulesAndReplace(t *testing.T) {
	r, svc := documentRouter(t)
	human, err := svc.GenerateToken("phone", jwt.RoleHuman, "")
	require.NoError(t, err)
	base := "/api/v1/documents/owner-1"
	require.Equal(t, http.StatusCreated, request(t, r, http.MethodPost, base, human, nil).Code)

	var doc document.Document
	w := request(t, r, http.MethodPost, base+"/notes", human, gin.H{
		"expectedVersion": 1,
		"note":            gin.H{"title": "tide table", "content": "low at 6", "category": "ops"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &doc)

	w = request(t, r, http.MethodPost, base+"/rules", human, gin.H{
		"expectedVersion": 2,
		"rule":            gin.H{"name": "review first", "ruleType": "CODE_REVIEW", "isEnabled": true},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &doc)
	rule := doc.Payload.Rules[0]

	w = request(t, r, http.MethodPatch, base+"/rules/"+rule.ID, human, gin.H{"expectedVersion": 3, "toggle": true})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &doc)
	assert.False(t, doc.Payload.Rules[0].Enabled)

	w = request(t, r, http.MethodGet, base+"/notes?category=ops", human, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tide table")

	w = request(t, r, http.MethodPost, base+"/rules", human, gin.H{
		"expectedVersion": 4,
		"rule":            gin.H{"name": "bad", "ruleType": "NOPE"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = request(t, r, http.MethodPut, base, human, gin.H{
		"expectedVersion": 4,
		"payload":         gin.H{"todoList": []gin.H{{"title": "fresh start", "priority": 1, "status": "PENDING"}}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &doc)
	assert.EqualValues(t, 5, doc.Version)
	assert.Empty(t, doc.Payload.Notes)
	require.Len(t, doc.Payload.TodoList, 1)
	assert.NotEmpty(t, doc.Payload.TodoList[0].ID)
}
