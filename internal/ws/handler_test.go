package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"claw-companion/backend/internal/integrity"
	"claw-companion/backend/internal/models"
	"claw-companion/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTimeline []models.MessageRecord

func (s staticTimeline) Recent(context.Context, int) ([]models.MessageRecord, error) {
	return s, nil
}

type recordingAuditor struct {
	mu    sync.Mutex
	calls []integrity.Finding
}

func (a *recordingAuditor) AuditDisplay(submitted []models.MessageRecord, view integrity.Materialized) bool {
	f := integrity.CheckDisplayLayer(submitted, view, 100)
	a.mu.Lock()
	defer a.mu.Unlock()
	if f != nil {
		a.calls = append(a.calls, *f)
	}
	return true
}

func (a *recordingAuditor) findings() []integrity.Finding {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]integrity.Finding(nil), a.calls...)
}

type countingTrigger struct{ n int }

func (t *countingTrigger) Trigger() bool {
	t.n++
	return t.n == 1
}

func startHub(t *testing.T, opts HubOptions) (*Hub, *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tl := staticTimeline{
		{ID: 1, Text: "hi", Direction: models.DirectionFromLocalUser},
		{ID: 2, Text: "hello", Direction: models.DirectionFromRemoteEntity},
	}
	hub := NewHub(tl, opts, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ServeWs(hub, c) })
	srv := httptest.NewServer(r)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?clientId=test"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		srv.Close()
	})
	return hub, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func send(t *testing.T, conn *websocket.Conn, typ string, content interface{}) {
	t.Helper()
	raw, err := json.Marshal(content)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{Type: typ, Content: raw}))
}

func TestRendererReceivesFrameOnConnect(t *testing.T) {
	hub, conn := startHub(t, HubOptions{})

	m := readMessage(t, conn)
	require.Equal(t, TypeTimeline, m.Type)
	var frame TimelineFrame
	require.NoError(t, json.Unmarshal(m.Content, &frame))
	assert.EqualValues(t, 1, frame.Seq)
	assert.Len(t, frame.Messages, 2)

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background()))
	m = readMessage(t, conn)
	require.NoError(t, json.Unmarshal(m.Content, &frame))
	assert.EqualValues(t, 2, frame.Seq)
}

func TestMaterializedReportIsAudited(t *testing.T) {
	auditor := &recordingAuditor{}
	_, conn := startHub(t, HubOptions{Auditor: auditor})
	readMessage(t, conn)

	send(t, conn, TypeMaterialized, MaterializedReport{
		Seq:   1,
		Items: []integrity.RenderedItem{{ID: 1, Direction: models.DirectionFromLocalUser}},
	})
	require.Eventually(t, func() bool { return len(auditor.findings()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, integrity.CheckBubbleCount, auditor.findings()[0].CheckType)

	// a stale frame is ignored
	send(t, conn, TypeMaterialized, MaterializedReport{Seq: 7})
	send(t, conn, TypePing, nil)
	assert.Equal(t, TypePong, readMessage(t, conn).Type)
	assert.Len(t, auditor.findings(), 1)
}

func TestSyncRequestIsAcknowledged(t *testing.T) {
	trig := &countingTrigger{}
	_, conn := startHub(t, HubOptions{Trigger: trig})
	readMessage(t, conn)

	var ack struct {
		Accepted bool `json:"accepted"`
	}
	send(t, conn, TypeSync, nil)
	m := readMessage(t, conn)
	require.Equal(t, TypeSyncAck, m.Type)
	require.NoError(t, json.Unmarshal(m.Content, &ack))
	assert.True(t, ack.Accepted)

	send(t, conn, TypeSync, nil)
	m = readMessage(t, conn)
	require.NoError(t, json.Unmarshal(m.Content, &ack))
	assert.False(t, ack.Accepted)
}

func TestUnknownMessageType(t *testing.T) {
	_, conn := startHub(t, HubOptions{})
	readMessage(t, conn)

	send(t, conn, "dance", nil)
	assert.Equal(t, TypeError, readMessage(t, conn).Type)
}
