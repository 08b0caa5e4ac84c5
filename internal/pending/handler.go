package pending

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"animehub/internal/auth"
	"animehub/internal/logging"
	"animehub/internal/titles"
	"animehub/pkg/models"
)

type Handler struct {
	Repo *Repo
}

func NewHandler(repo *Repo) *Handler {
	return &Handler{Repo: repo}
}

// RegisterRoutes expects rg to be behind auth.AuthMiddleware.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.list)                 // GET /admin/pending
	rg.GET("/:id", h.getByID)          // GET /admin/pending/:id
	rg.POST("/:id/resolve", h.resolve) // POST /admin/pending/:id/resolve
}

func (h *Handler) list(c *gin.Context) {
	f := Filter{
		Status: c.DefaultQuery("status", "open"),
		Limit:  parseInt(c.Query("limit"), 20),
		Offset: parseInt(c.Query("offset"), 0),
	}
	if s := c.Query("content_type"); s != "" {
		ct, err := models.ParseContentType(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.ContentType = ct
	}

	total, err := h.Repo.Count(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count failed"})
		return
	}
	items, err := h.Repo.List(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
		"items":  items,
	})
}

func (h *Handler) getByID(c *gin.Context) {
	m, err := h.Repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get failed"})
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, m)
}

type resolveReq struct {
	Decision      string  `json:"decision"`
	TargetTitleID *string `json:"targetTitleId"`
}

func (h *Handler) resolve(c *gin.Context) {
	var req resolveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	decision, err := models.ParseDecision(req.Decision)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decidedBy := ""
	if claims := auth.MustGetClaims(c); claims != nil {
		decidedBy = claims.Username
	}

	m, err := h.Repo.Resolve(c.Request.Context(), c.Param("id"), decision, req.TargetTitleID, decidedBy)
	if err != nil {
		status := StatusFor(err)
		if status == http.StatusInternalServerError {
			logging.Error().Err(err).Str("pending_id", c.Param("id")).Msg("[pending] resolve failed")
			c.JSON(status, gin.H{"error": "resolve failed"})
			return
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	logging.Info().
		Str("pending_id", m.ID).
		Str("decision", string(decision)).
		Str("decided_by", decidedBy).
		Msg("[pending] resolved")
	c.JSON(http.StatusOK, m)
}

// StatusFor maps resolve errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, titles.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyResolved), errors.Is(err, titles.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTargetRequired), errors.Is(err, ErrInvalidDecision):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func parseInt(s string, def int) int {
	if strings.TrimSpace(s) == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
