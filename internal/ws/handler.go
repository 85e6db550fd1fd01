package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"claw-companion/backend/internal/integrity"
	"claw-companion/backend/internal/models"
	"claw-companion/backend/pkg/logger"
	"claw-companion/backend/shared/observability"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024
)

// Message types exchanged with renderers
const (
	TypeTimeline     = "timeline"
	TypeMaterialized = "materialized"
	TypeSync         = "sync"
	TypeSyncAck      = "sync_ack"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
}

// Message is the envelope of every frame
type Message struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// TimelineFrame is the ordered list a renderer is asked to display
type TimelineFrame struct {
	Seq      uint64                 `json:"seq"`
	Messages []models.MessageRecord `json:"messages"`
}

// MaterializedReport is what a renderer says it displayed for frame Seq
type MaterializedReport struct {
	Seq   uint64                   `json:"seq"`
	Items []integrity.RenderedItem `json:"items"`
}

// Timeline supplies the records pushed to renderers
type Timeline interface {
	Recent(ctx context.Context, limit int) ([]models.MessageRecord, error)
}

// DisplayAuditor checks a renderer's report against the frame it was sent
type DisplayAuditor interface {
	AuditDisplay(submitted []models.MessageRecord, view integrity.Materialized) bool
}

// SyncTrigger requests an out-of-schedule reconciliation pass
type SyncTrigger interface {
	Trigger() bool
}

type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Hub  *Hub
}

// Hub fans timeline frames out to connected renderers and audits what they
// report back
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex

	timeline Timeline
	auditor  DisplayAuditor
	trigger  SyncTrigger
	window   int
	log      *logger.Logger
	metrics  *observability.Metrics

	frameMu sync.RWMutex
	frame   TimelineFrame
}

// HubOptions wires optional collaborators
type HubOptions struct {
	Auditor DisplayAuditor
	Trigger SyncTrigger
	Window  int
	Metrics *observability.Metrics
}

func NewHub(timeline Timeline, opts HubOptions, log *logger.Logger) *Hub {
	if opts.Window <= 0 {
		opts.Window = 100
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		timeline:   timeline,
		auditor:    opts.Auditor,
		trigger:    opts.Trigger,
		window:     opts.Window,
		log:        log.WithComponent("ws"),
		metrics:    opts.Metrics,
	}
}

// Run serves registrations and broadcasts until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.RendererConnected(ctx, 1)
			h.log.Info("renderer connected", "client_id", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.metrics.RendererConnected(ctx, -1)
				h.log.Info("renderer disconnected", "client_id", client.ID)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					close(client.Send)
					delete(h.clients, client)
					h.metrics.RendererConnected(ctx, -1)
					h.log.Warn("renderer dropped, send buffer full", "client_id", client.ID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Count returns the number of connected renderers
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CurrentFrame returns the last frame published
func (h *Hub) CurrentFrame() TimelineFrame {
	h.frameMu.RLock()
	defer h.frameMu.RUnlock()
	return h.frame
}

// Publish loads the newest records and sends them to every renderer as a
// new frame
func (h *Hub) Publish(ctx context.Context) error {
	frame, err := h.nextFrame(ctx)
	if err != nil {
		return err
	}
	data, err := encode(TypeTimeline, frame)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("broadcast queue full, frame skipped", "seq", frame.Seq)
	}
	return nil
}

func (h *Hub) nextFrame(ctx context.Context) (TimelineFrame, error) {
	recs, err := h.timeline.Recent(ctx, h.window)
	if err != nil {
		return TimelineFrame{}, err
	}
	if recs == nil {
		recs = []models.MessageRecord{}
	}
	h.frameMu.Lock()
	defer h.frameMu.Unlock()
	h.frame = TimelineFrame{Seq: h.frame.Seq + 1, Messages: recs}
	return h.frame, nil
}

// handleMaterialized audits a renderer report. Reports for any frame but
// the current one are stale and ignored.
func (h *Hub) handleMaterialized(report MaterializedReport) bool {
	if h.auditor == nil {
		return false
	}
	frame := h.CurrentFrame()
	if report.Seq != frame.Seq {
		return false
	}
	return h.auditor.AuditDisplay(frame.Messages, integrity.Snapshot(report.Items))
}

func encode(messageType string, content interface{}) ([]byte, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: messageType, Content: raw})
}

func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Warn("renderer read failed", "client_id", c.ID, "error", err.Error())
			}
			return
		}

		var message Message
		if err := json.Unmarshal(data, &message); err != nil {
			c.sendError("malformed frame")
			continue
		}
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message Message) {
	switch message.Type {
	case TypeMaterialized:
		var report MaterializedReport
		if err := json.Unmarshal(message.Content, &report); err != nil {
			c.sendError("malformed materialized report")
			return
		}
		c.Hub.handleMaterialized(report)
	case TypeSync:
		accepted := false
		if c.Hub.trigger != nil {
			accepted = c.Hub.trigger.Trigger()
		}
		c.sendMessage(TypeSyncAck, map[string]bool{"accepted": accepted})
	case TypePing:
		c.sendMessage(TypePong, nil)
	default:
		c.sendError("unknown message type " + message.Type)
	}
}

func (c *Client) sendError(msg string) {
	c.sendMessage(TypeError, map[string]string{"message": msg})
}

func (c *Client) sendMessage(messageType string, content interface{}) {
	data, err := encode(messageType, content)
	if err != nil {
		c.Hub.log.LogError(err, "encode frame failed", "type", messageType)
		return
	}
	select {
	case c.Send <- data:
	default:
		c.Hub.log.Warn("renderer send buffer full", "client_id", c.ID, "type", messageType)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(c.Send)
			for i := 0; i < n; i++ {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades a renderer connection and sends it the current frame
func ServeWs(hub *Hub, c *gin.Context) {
	clientID := c.Query("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	client := &Client{
		ID:   clientID,
		Conn: conn,
		Send: make(chan []byte, 256),
		Hub:  hub,
	}

	frame := hub.CurrentFrame()
	if frame.Seq == 0 {
		if frame, err = hub.nextFrame(c.Request.Context()); err != nil {
			hub.log.LogError(err, "initial frame failed", "client_id", clientID)
		}
	}
	if frame.Seq > 0 {
		if data, err := encode(TypeTimeline, frame); err == nil {
			client.Send <- data
		}
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
