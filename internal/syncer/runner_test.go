package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animehub/internal/matcher"
	"animehub/internal/pending"
	"animehub/internal/providers"
	"animehub/pkg/models"
)

func waitDone(t *testing.T, r *Run) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run %s did not finish", r.ID)
	}
}

func TestRunnerLifecycle(t *testing.T) {
	rn := NewRunner(context.Background())

	ok := rn.Start(models.SyncImport, models.ContentAnime, func(_ context.Context, id string) (any, error) {
		return &Result{RunID: id, Created: 3}, nil
	})
	waitDone(t, ok)
	assert.Equal(t, RunSucceeded, ok.State())
	res, err := ok.Result()
	require.NoError(t, err)
	assert.Equal(t, ok.ID, res.(*Result).RunID)

	bad := rn.Start(models.SyncImport, models.ContentManga, func(context.Context, string) (any, error) {
		return nil, errors.New("store unreachable")
	})
	waitDone(t, bad)
	assert.Equal(t, RunFailed, bad.State())
	assert.Equal(t, "store unreachable", bad.Info().Error)

	got, found := rn.Get(ok.ID)
	require.True(t, found)
	assert.Same(t, ok, got)
	_, found = rn.Get("nope")
	assert.False(t, found)

	list := rn.List()
	require.Len(t, list, 2)
	assert.False(t, list[0].StartedAt.Before(list[1].StartedAt))
}

func TestRunnerCancel(t *testing.T) {
	rn := NewRunner(context.Background())
	started := make(chan struct{})
	run := rn.Start(models.SyncComplete, models.ContentAnime, func(ctx context.Context, _ string) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started
	assert.Equal(t, RunRunning, run.State())

	run.Cancel()
	waitDone(t, run)
	assert.Equal(t, RunCancelled, run.State())
	assert.NotNil(t, run.Info().FinishedAt)
}

func TestRunnerStopsWithBaseContext(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	rn := NewRunner(base)
	run := rn.Start(models.SyncImport, models.ContentAnime, func(ctx context.Context, _ string) (any, error) {
		<-ctx.Done()
		return nil, nil
	})
	cancel()
	_, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunCancelled, run.State())
}

func newTestRouter(t *testing.T) (*gin.Engine, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e := newEnv(t)

	anilist := pagedSource(models.ProviderAniList, map[int][]providers.RawRecord{1: {attackOnTitan()}})
	kitsu := pagedSource(models.ProviderKitsu, map[int][]providers.RawRecord{1: {kitsuRecord(7442, "Attack on Titan")}})
	queue := pending.NewRepo(e.db)

	im := NewImporter(anilist, e.titles, e.logs, nil, quickOpts())
	rc := NewReconciler(kitsu, e.titles, queue, matcher.NewCatalogFinder(e.titles), matcher.DefaultPolicy(), e.logs, nil, quickOpts())
	h := NewHandler(im, map[models.Provider]*Reconciler{models.ProviderKitsu: rc}, NewRunner(context.Background()), e.logs)

	r := gin.New()
	h.RegisterRoutes(r.Group("/admin"))
	return r, h
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerSync(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/admin/sync", gin.H{"contentType": "anime", "maxPages": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Success        bool     `json:"success"`
		TotalProcessed int      `json:"totalProcessed"`
		TotalCreated   int      `json:"totalCreated"`
		TotalUpdated   int      `json:"totalUpdated"`
		ErrorCount     int      `json:"errorCount"`
		Errors         []string `json:"errors"`
		RunID          string   `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.True(t, out.Success)
	assert.Equal(t, 1, out.TotalProcessed)
	assert.Equal(t, 1, out.TotalCreated)
	assert.NotEmpty(t, out.RunID)
	assert.NotNil(t, out.Errors)

	w = do(r, http.MethodGet, "/admin/sync/logs/"+out.RunID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodGet, "/admin/sync/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"anilist"`)

	w = do(r, http.MethodPost, "/admin/sync", gin.H{"contentType": "novel"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
}

func TestHandlerAsyncSyncAndCancel(t *testing.T) {
	r, h := newTestRouter(t)

	w := do(r, http.MethodPost, "/admin/sync", gin.H{"contentType": "anime", "async": true})
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))

	run, ok := h.Runner.Get(accepted.RunID)
	require.True(t, ok)
	waitDone(t, run)
	assert.Equal(t, RunSucceeded, run.State())

	// the detached run logs under the runner's id
	w = do(r, http.MethodGet, "/admin/sync/logs/"+accepted.RunID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/admin/sync/runs/"+accepted.RunID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"succeeded"`)

	w = do(r, http.MethodDelete, "/admin/sync/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerReconcile(t *testing.T) {
	r, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/admin/sync", gin.H{"contentType": "anime"}).Code)

	w := do(r, http.MethodPost, "/admin/reconcile", gin.H{"contentType": "anime", "limit": 10, "daysBack": 7})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Success          bool `json:"success"`
		ProcessedCount   int  `json:"processedCount"`
		ConfidentMatches int  `json:"confidentMatches"`
		UncertainMatches int  `json:"uncertainMatches"`
		NewItems         int  `json:"newItems"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.True(t, out.Success)
	assert.Equal(t, 1, out.ProcessedCount)
	assert.Equal(t, 1, out.ConfidentMatches)

	w = do(r, http.MethodPost, "/admin/reconcile", gin.H{"contentType": "anime", "provider": "mal"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerSyncAll(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodPost, "/admin/sync/all", gin.H{"maxPages": 1})
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Success bool      `json:"success"`
		Results []Outcome `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.True(t, out.Success)
	require.Len(t, out.Results, 2)
	assert.Equal(t, models.ContentAnime, out.Results[0].ContentType)
}
