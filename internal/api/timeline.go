package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"claw-companion/backend/internal/models"
	"claw-companion/backend/internal/timeline"
	apperrors "claw-companion/backend/pkg/errors"
	"claw-companion/backend/pkg/logger"
	"claw-companion/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Submitter hands composed messages to the remote log
type Submitter interface {
	SubmitUserMessage(ctx context.Context, targets []string, text, source string) (string, error)
}

// Publisher pushes the current timeline to connected renderers
type Publisher interface {
	Publish(ctx context.Context) error
}

// TimelineOptions configures a TimelineHandler. Submitter and Publisher are optional.
type TimelineOptions struct {
	Submitter     Submitter
	Publisher     Publisher
	DefaultSource string
	SubmitTimeout time.Duration
	Now           func() time.Time
}

// TimelineHandler serves the local timeline and the composition path
type TimelineHandler struct {
	store   timeline.Store
	opts    TimelineOptions
	log     *logger.Logger
	pending sync.WaitGroup
}

func NewTimelineHandler(store timeline.Store, opts TimelineOptions, log *logger.Logger) *TimelineHandler {
	if opts.DefaultSource == "" {
		opts.DefaultSource = "web"
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 15 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &TimelineHandler{store: store, opts: opts, log: log.WithComponent("timeline-api")}
}

// RegisterRoutes mounts the timeline endpoints under rg
func (h *TimelineHandler) RegisterRoutes(rg *gin.RouterGroup) {
	msgs := rg.Group("/timeline/messages")
	{
		msgs.GET("", h.List)
		msgs.POST("", h.Compose)
		msgs.POST("/:id/read", h.MarkRead)
		msgs.POST("/:id/delivered", h.MarkDelivered)
	}
}

// List returns a page of the timeline, oldest first
func (h *TimelineHandler) List(c *gin.Context) {
	q := timeline.Query{}
	var err error
	if q.Limit, err = intQuery(c, "limit"); err != nil {
		c.Error(err)
		return
	}
	before, err := intQuery(c, "before")
	if err != nil {
		c.Error(err)
		return
	}
	q.BeforeID = uint(before)
	if q.EntityID, err = intQuery(c, "entity"); err != nil {
		c.Error(err)
		return
	}

	recs, err := h.store.List(c.Request.Context(), q)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": recs,
		"count":    len(recs),
	})
}

// Compose stores a locally written message and submits it in the
// background. The record carries no dedup key until a later pass pairs it
// with its remote copy.
func (h *TimelineHandler) Compose(c *gin.Context) {
	var req models.ComposeMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}
	if strings.TrimSpace(req.Text) == "" && req.MediaType == "" {
		c.Error(apperrors.NewBadRequestError("EMPTY_MESSAGE", "Message needs text or an attachment"))
		return
	}
	source := req.SourceChannel
	if source == "" {
		source = h.opts.DefaultSource
	}

	rec := &models.MessageRecord{
		Text:          req.Text,
		Timestamp:     h.opts.Now().UnixMilli(),
		Direction:     models.DirectionFromLocalUser,
		Category:      models.CategoryUserToOne,
		SourceChannel: source,
		TargetIDs:     req.TargetIDs,
		MediaType:     req.MediaType,
	}
	if len(req.TargetIDs) > 1 || strings.HasPrefix(source, timeline.MissionNotifyPrefix) {
		rec.Category = models.CategoryUserBroadcast
	}

	if _, err := h.store.Insert(c.Request.Context(), rec); err != nil {
		c.Error(err)
		return
	}
	h.publish(c.Request.Context())

	if h.opts.Submitter != nil {
		ctx := middleware.WithRequestContext(context.Background(), c)
		ctx = logger.NewContext(ctx, logger.FromGin(c))
		h.pending.Add(1)
		go func(r models.MessageRecord) {
			defer h.pending.Done()
			h.submit(ctx, r)
		}(*rec)
	}

	c.JSON(http.StatusCreated, rec)
}

func (h *TimelineHandler) submit(ctx context.Context, rec models.MessageRecord) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.SubmitTimeout)
	defer cancel()
	log := h.log.WithContext(ctx)

	remoteID, err := h.opts.Submitter.SubmitUserMessage(ctx, rec.TargetIDs, rec.Text, rec.SourceChannel)
	if err != nil {
		log.LogError(err, "submit to remote log failed", "record_id", rec.ID)
		return
	}
	if err := h.store.MarkSynced(ctx, rec.ID); err != nil {
		log.LogError(err, "mark synced failed", "record_id", rec.ID)
		return
	}
	log.Debug("message submitted", "record_id", rec.ID, "remote_id", remoteID)
	h.publish(ctx)
}

// Wait blocks until background submissions have finished
func (h *TimelineHandler) Wait() {
	h.pending.Wait()
}

// MarkRead flags a record as read
func (h *TimelineHandler) MarkRead(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	if err := h.store.MarkRead(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	h.respondRecord(c, id)
}

// MarkDelivered records delivery acknowledgements
func (h *TimelineHandler) MarkDelivered(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	var req models.MarkDeliveredRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(bindError(err))
			return
		}
	}
	if err := h.store.MarkDelivered(c.Request.Context(), id, req.DeliveredTo); err != nil {
		c.Error(err)
		return
	}
	h.respondRecord(c, id)
}

func (h *TimelineHandler) respondRecord(c *gin.Context, id uint) {
	rec, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	h.publish(c.Request.Context())
	c.JSON(http.StatusOK, rec)
}

func (h *TimelineHandler) publish(ctx context.Context) {
	if h.opts.Publisher == nil {
		return
	}
	if err := h.opts.Publisher.Publish(ctx); err != nil {
		h.log.WithContext(ctx).LogError(err, "publish timeline failed")
	}
}

func recordID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.Error(apperrors.NewBadRequestError("INVALID_ID", "Message id must be a positive integer"))
		return 0, false
	}
	return uint(id), true
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.BadRequestWithDetails("INVALID_QUERY", "Query parameter must be a non-negative integer", gin.H{"param": name})
	}
	return n, nil
}
