package api

import (
	"net/http"
	"strconv"

	"claw-companion/backend/internal/document"
	"claw-companion/backend/internal/models"
	apperrors "claw-companion/backend/pkg/errors"
	"claw-companion/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// DocumentHandler serves the versioned dashboards. Every write names the
// version it was based on and is rejected with 409 when that is stale.
type DocumentHandler struct {
	editor *document.Editor
}

func NewDocumentHandler(editor *document.Editor) *DocumentHandler {
	return &DocumentHandler{editor: editor}
}

// RegisterRoutes mounts the document endpoints on rg, which must already
// carry authentication
func (h *DocumentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	doc := rg.Group("/documents/:owner", middleware.RequireOwnerAccess("owner"))
	{
		doc.POST("", h.Init)
		doc.GET("", h.Get)
		doc.PUT("", h.Put)

		doc.GET("/items", h.ListItems)
		doc.POST("/items", h.AddItem)
		doc.PATCH("/items/:id", h.PatchItem)
		doc.DELETE("/items/:id", h.DeleteItem)

		doc.GET("/notes", h.ListNotes)
		doc.POST("/notes", h.AddNote)
		doc.PATCH("/notes/:id", h.PatchNote)
		doc.DELETE("/notes/:id", h.DeleteNote)

		doc.GET("/rules", h.ListRules)
		doc.POST("/rules", h.AddRule)
		doc.PATCH("/rules/:id", h.PatchRule)
		doc.DELETE("/rules/:id", h.DeleteRule)
	}
}

type initDocumentRequest struct {
	Payload models.Dashboard `json:"payload"`
}

type addItemRequest struct {
	ExpectedVersion int64              `json:"expectedVersion" binding:"required,min=1"`
	List            models.ListName    `json:"list"`
	Item            models.MissionItem `json:"item"`
}

type patchItemRequest struct {
	ExpectedVersion int64 `json:"expectedVersion" binding:"required,min=1"`
	document.ItemPatch
	// MoveTo moves the item to the mission or done list after patching
	MoveTo models.ListName `json:"moveTo,omitempty"`
}

type addNoteRequest struct {
	ExpectedVersion int64              `json:"expectedVersion" binding:"required,min=1"`
	Note            models.MissionNote `json:"note"`
}

type patchNoteRequest struct {
	ExpectedVersion int64 `json:"expectedVersion" binding:"required,min=1"`
	document.NotePatch
}

type addRuleRequest struct {
	ExpectedVersion int64              `json:"expectedVersion" binding:"required,min=1"`
	Rule            models.MissionRule `json:"rule"`
}

type patchRuleRequest struct {
	ExpectedVersion int64 `json:"expectedVersion" binding:"required,min=1"`
	document.RulePatch
	Toggle bool `json:"toggle,omitempty"`
}

// writer maps the caller's token role onto the updatedBy stamp
func writer(c *gin.Context) (models.Writer, bool) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.Error(apperrors.NewUnauthorizedError("AUTH_REQUIRED", "Authentication required"))
		return "", false
	}
	return models.Writer(claims.Role), true
}

// mutate runs fn against the caller's expected version and writes the result
func (h *DocumentHandler) mutate(c *gin.Context, expected int64, fn document.Mutation) {
	by, ok := writer(c)
	if !ok {
		return
	}
	doc, err := h.editor.Mutate(c.Request.Context(), c.Param("owner"), expected, by, fn)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *DocumentHandler) Init(c *gin.Context) {
	var req initDocumentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(bindError(err))
			return
		}
	}
	doc, err := h.editor.Store().Init(c.Request.Context(), c.Param("owner"), req.Payload)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.editor.Store().Get(c.Request.Context(), c.Param("owner"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Put replaces the whole payload
func (h *DocumentHandler) Put(c *gin.Context) {
	var req models.PutDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}
	h.mutate(c, req.ExpectedVersion, document.Replace(req.Payload))
}

func (h *DocumentHandler) ListItems(c *gin.Context) {
	f := document.ItemFilter{
		List:   models.ListName(c.Query("list")),
		Status: models.ItemStatus(c.Query("status")),
	}
	if raw := c.Query("priority"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			c.Error(apperrors.BadRequestWithDetails("INVALID_QUERY", "priority must be 1-4", gin.H{"param": "priority"}))
			return
		}
		f.Priority = models.Priority(p)
	}
	doc, err := h.editor.Store().Get(c.Request.Context(), c.Param("owner"))
	if err != nil {
		c.Error(err)
		return
	}
	items := document.FilterItems(doc.Payload, f)
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items), "version": doc.Version})
}

func (h *DocumentHandler) AddItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}
	if req.List == "" {
		req.List = models.ListTodo
	}
	h.mutate(c, req.ExpectedVersion, document.AddItem(req.List, req.Item))
}

func (h *DocumentHandler) PatchItem(c *gin.Context) {
	var req patchItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}
	id := c.Param("id")
	muts := []document.Mutation{document.UpdateItem(id, req.ItemPatch)}
	switch req.MoveTo {
	case "":
	case models.ListMission:
		bot := ""
		if req.AssignedBot != nil {
			bot = *req.AssignedBot
		}
		muts = append(muts, document.MoveToMission(id, bot))
	case models.ListDone:
		muts = append(muts, document.MoveToDone(id))
	default:
		c.Error(apperrors.BadRequestWithDetails("INVALID_CHANGE", "moveTo must be mission or done", gin.H{"moveTo": req.MoveTo}))
		return
	}
	h.mutate(c, req.ExpectedVersion, document.Apply(muts...))
}

func (h *DocumentHandler) DeleteItem(c *gin.Context) {
	expected, ok := expectedVersionQuery(c)
	if !ok {
		return
	}
	h.mutate(c, expected, document.DeleteItem(c.Param("id")))
}

func (h *DocumentHandler) ListNotes(c *gin.Context) {
	doc, err := h.editor.Store().Get(c.Request.Context(), c.Param("owner"))
	if err != nil {
		c.Error(err)
		return
	}
	notes := document.FilterNotes(doc.Payload, c.Query("category"))
	c.JSON(http.StatusOK, gin.H{"notes": notes, "count": len(notes), "version": doc.Version})
}

func (h *DocumentHandler) AddNote(c *gin.Context) {
	var req addNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}
	h.mutate(c, req.ExpectedVersion, document.AddNote(req.Note))
}

func (h *DocumentHandler) PatchNote(c *gin.Context) {
	var req patchNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}
	h.mutate(c, req.ExpectedVersion, document.UpdateNote(c.Param("id"), req.NotePatch))
}

func (h *DocumentHandler) DeleteNote(c *gin.Context) {
	expected, ok := expectedVersionQuery(c)
	if !ok {
		return
	}
	h.mutate(c, expected, document.DeleteNote(c.Param("id")))
}

func (h *DocumentHandler) ListRules(c *gin.Context) {
	doc, err := h.editor.Store().Get(c.Request.Context(), c.Param("owner"))
	if err != nil {
		c.Error(err)
		return
	}
	rules := document.FilterRules(doc.Payload, models.RuleType(c.Query("type")))
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules), "version": doc.Version})
}

func (h *DocumentHandler) AddRule(c *gin.Context) {
	var req addRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}
	h.mutate(c, req.ExpectedVersion, document.AddRule(req.Rule))
}

func (h *DocumentHandler) PatchRule(c *gin.Context) {
	var req patchRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}
	id := c.Param("id")
	fn := document.UpdateRule(id, req.RulePatch)
	if req.Toggle {
		fn = document.Apply(fn, document.ToggleRule(id))
	}
	h.mutate(c, req.ExpectedVersion, fn)
}

func (h *DocumentHandler) DeleteRule(c *gin.Context) {
	expected, ok := expectedVersionQuery(c)
	if !ok {
		return
	}
	h.mutate(c, expected, document.DeleteRule(c.Param("id")))
}

func expectedVersionQuery(c *gin.Context) (int64, bool) {
	v, err := strconv.ParseInt(c.Query("expectedVersion"), 10, 64)
	if err != nil || v < 1 {
		c.Error(apperrors.BadRequestWithDetails("INVALID_QUERY", "expectedVersion query parameter is required", gin.H{"param": "expectedVersion"}))
		return 0, false
	}
	return v, true
}
