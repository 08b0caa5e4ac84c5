package syncer

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"animehub/internal/logging"
	"animehub/internal/synclog"
	"animehub/pkg/models"
)

type Handler struct {
	Importer    *Importer
	Reconcilers map[models.Provider]*Reconciler
	Runner      *Runner
	Logs        *synclog.Repo
}

func NewHandler(im *Importer, reconcilers map[models.Provider]*Reconciler, runner *Runner, logs *synclog.Repo) *Handler {
	return &Handler{Importer: im, Reconcilers: reconcilers, Runner: runner, Logs: logs}
}

// RegisterRoutes expects rg to be behind auth.AuthMiddleware.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sync", h.sync)                 // POST /admin/sync
	rg.POST("/sync/all", h.syncAll)          // POST /admin/sync/all
	rg.POST("/reconcile", h.reconcile)       // POST /admin/reconcile
	rg.GET("/sync/runs", h.listRuns)         // GET /admin/sync/runs
	rg.GET("/sync/runs/:id", h.getRun)       // GET /admin/sync/runs/:id
	rg.DELETE("/sync/runs/:id", h.cancelRun) // DELETE /admin/sync/runs/:id
	rg.GET("/sync/logs", h.listLogs)         // GET /admin/sync/logs
	rg.GET("/sync/logs/:id", h.getLog)       // GET /admin/sync/logs/:id
	rg.GET("/sync/status", h.status)         // GET /admin/sync/status
}

type syncReq struct {
	ContentType string `json:"contentType"`
	MaxPages    int    `json:"maxPages"`
	StartPage   int    `json:"startPage"`
	StartFromID *int64 `json:"startFromId"`
	Mode        string `json:"mode"`
	Resume      bool   `json:"resume"`
	Async       bool   `json:"async"`
}

func (r syncReq) toRequest(needType bool) (Request, error) {
	req := Request{
		MaxPages:    r.MaxPages,
		StartPage:   r.StartPage,
		StartFromID: r.StartFromID,
		Resume:      r.Resume,
	}
	mode, err := ParseMode(r.Mode)
	if err != nil {
		return req, err
	}
	req.Mode = mode
	if needType {
		ct, err := models.ParseContentType(r.ContentType)
		if err != nil {
			return req, err
		}
		req.ContentType = ct
	}
	return req, nil
}

func (h *Handler) sync(c *gin.Context) {
	var body syncReq
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	req, err := body.toRequest(true)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	kind := models.SyncImport
	if req.Mode == ModeComplete {
		kind = models.SyncComplete
	}
	if body.Async {
		run := h.Runner.Start(kind, req.ContentType, func(ctx context.Context, runID string) (any, error) {
			r := req
			r.RunID = runID
			return h.Importer.Run(ctx, r)
		})
		c.JSON(http.StatusAccepted, gin.H{"success": true, "runId": run.ID, "state": run.State()})
		return
	}

	res, err := h.Importer.Run(c.Request.Context(), req)
	if res == nil {
		h.fatal(c, err)
		return
	}
	c.JSON(runStatus(err), syncBody(res, err))
}

func (h *Handler) syncAll(c *gin.Context) {
	var body syncReq
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	req, err := body.toRequest(false)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	if body.Async {
		run := h.Runner.Start(models.SyncImport, "", func(ctx context.Context, _ string) (any, error) {
			return RunBoth(ctx, h.Importer, h.Importer, req), nil
		})
		c.JSON(http.StatusAccepted, gin.H{"success": true, "runId": run.ID, "state": run.State()})
		return
	}

	outcomes := RunBoth(c.Request.Context(), h.Importer, h.Importer, req)
	success := true
	for _, o := range outcomes {
		if o.Err != nil {
			success = false
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": success, "results": outcomes})
}

type reconcileReq struct {
	ContentType string `json:"contentType"`
	Provider    string `json:"provider"`
	Limit       int    `json:"limit"`
	DaysBack    int    `json:"daysBack"`
	Async       bool   `json:"async"`
}

func (h *Handler) reconcile(c *gin.Context) {
	var body reconcileReq
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	ct, err := models.ParseContentType(body.ContentType)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if body.Provider == "" {
		body.Provider = string(models.ProviderKitsu)
	}
	p, err := models.ParseProvider(body.Provider)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	rc, ok := h.Reconcilers[p]
	if !ok {
		fail(c, http.StatusBadRequest, "no reconciler for provider "+string(p))
		return
	}
	req := ReconcileRequest{ContentType: ct, Limit: body.Limit, DaysBack: body.DaysBack}

	if body.Async {
		run := h.Runner.Start(models.SyncReconcile, ct, func(ctx context.Context, runID string) (any, error) {
			r := req
			r.RunID = runID
			return rc.Run(ctx, r)
		})
		c.JSON(http.StatusAccepted, gin.H{"success": true, "runId": run.ID, "state": run.State()})
		return
	}

	res, err := rc.Run(c.Request.Context(), req)
	if res == nil {
		h.fatal(c, err)
		return
	}
	c.JSON(runStatus(err), gin.H{
		"success":          err == nil,
		"runId":            res.RunID,
		"status":           res.Status,
		"processedCount":   res.ProcessedCount,
		"confidentMatches": res.ConfidentMatches,
		"uncertainMatches": res.UncertainMatches,
		"newItems":         res.NewItems,
		"updated":          res.Updated,
		"skipped":          res.Skipped,
		"errors":           res.Errors,
		"errorCount":       res.ErrorCount,
	})
}

func (h *Handler) listRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.Runner.List()})
}

func (h *Handler) getRun(c *gin.Context) {
	run, ok := h.Runner.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, run.Info())
}

func (h *Handler) cancelRun(c *gin.Context) {
	run, ok := h.Runner.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	run.Cancel()
	logging.Info().Str("run_id", run.ID).Msg("[sync] cancel requested")
	c.JSON(http.StatusAccepted, run.Info())
}

func (h *Handler) listLogs(c *gin.Context) {
	var ct models.ContentType
	if s := c.Query("content_type"); s != "" {
		parsed, err := models.ParseContentType(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ct = parsed
	}
	items, err := h.Logs.List(c.Request.Context(), ct, parseInt(c.Query("limit"), 20))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) getLog(c *gin.Context) {
	l, err := h.Logs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get failed"})
		return
	}
	if l == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *Handler) status(c *gin.Context) {
	items, err := h.Logs.ListStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) fatal(c *gin.Context, err error) {
	if errors.Is(err, ErrInvalidRequest) {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	logging.Error().Err(err).Msg("[sync] run aborted")
	fail(c, http.StatusInternalServerError, err.Error())
}

func syncBody(res *Result, err error) gin.H {
	body := gin.H{
		"success":        err == nil,
		"runId":          res.RunID,
		"status":         res.Status,
		"totalProcessed": res.Processed,
		"totalCreated":   res.Created,
		"totalUpdated":   res.Updated,
		"pages":          res.Pages,
		"errors":         res.Errors,
		"errorCount":     res.ErrorCount,
	}
	if err != nil {
		body["error"] = err.Error()
	}
	return body
}

// runStatus is 200 unless the provider kept failing.
func runStatus(err error) int {
	if errors.Is(err, ErrProviderDown) {
		return http.StatusBadGateway
	}
	return http.StatusOK
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
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
