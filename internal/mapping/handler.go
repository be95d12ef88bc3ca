package mapping

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	Service *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Service: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/get-id", h.getID)
	rg.GET("/get-slug/:id", h.getSlug)
	rg.POST("/bulk-sync", h.bulkSync)
	rg.GET("/health", h.health)
	rg.GET("/ready", h.ready)
}

// RegisterAdminRoutes expects rg to be guarded by the admin middleware.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/mappings", h.list)
	rg.GET("/stats", h.stats)
}

type getIDReq struct {
	Slug string `json:"slug"`
	Type string `json:"type"`
}

func (h *Handler) getID(c *gin.Context) {
	var req getIDReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	res := h.Service.ResolveID(c.Request.Context(), req.Slug, req.Type)
	switch res.Outcome {
	case OutcomeInvalid:
		c.JSON(http.StatusBadRequest, gin.H{"error": res.Reason})
	case OutcomeDegraded:
		c.JSON(http.StatusOK, gin.H{"uuid": res.Identifier, "degraded": true})
	default:
		c.JSON(http.StatusOK, gin.H{"uuid": res.Identifier})
	}
}

func (h *Handler) getSlug(c *gin.Context) {
	res := h.Service.ResolveSlug(c.Request.Context(), c.Param("id"))
	switch res.Outcome {
	case OutcomeInvalid:
		c.JSON(http.StatusBadRequest, gin.H{"error": res.Reason})
	case OutcomeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "identifier not found"})
	case OutcomeDegraded:
		c.JSON(http.StatusOK, gin.H{"slug": res.Ref.Slug, "type": res.Ref.Kind, "degraded": true})
	default:
		c.JSON(http.StatusOK, gin.H{"slug": res.Ref.Slug, "type": res.Ref.Kind})
	}
}

type bulkSyncReq struct {
	Slugs []string `json:"slugs"`
	Type  string   `json:"type"`
}

func (h *Handler) bulkSync(c *gin.Context) {
	var req bulkSyncReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	out, err := h.Service.BulkResolve(c.Request.Context(), req.Slugs, req.Type)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "bulk sync failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.Health())
}

func (h *Handler) ready(c *gin.Context) {
	if err := h.Service.Ready(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *Handler) list(c *gin.Context) {
	limit := parseInt(c.Query("limit"), DefaultListLimit)
	offset := parseInt(c.Query("offset"), 0)

	page, err := h.Service.List(c.Request.Context(), c.Query("kind"), limit, offset)
	if err != nil {
		h.adminError(c, err, "list failed")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) stats(c *gin.Context) {
	st, err := h.Service.Stats(c.Request.Context())
	if err != nil {
		h.adminError(c, err, "stats failed")
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) adminError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		h.Service.logger.Error(msg, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func parseInt(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
