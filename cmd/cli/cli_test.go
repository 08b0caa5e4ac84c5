package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animehub/internal/events"
	"animehub/pkg/models"
)

func runCLI(t *testing.T, srv *httptest.Server, tokenPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--api", srv.URL, "--token-file", tokenPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestLoginThenAuthorizedSync(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["login"] != "curator" || body["password"] != "secret-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid credentials"}`))
			return
		}
		_, _ = w.Write([]byte(`{"token":"tok-123","expires_at":"2030-01-01T00:00:00Z"}`))
	})
	mux.HandleFunc("/admin/sync", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"success":true,"runId":"run-1","status":"completed","totalProcessed":3,"totalCreated":2,"totalUpdated":1,"pages":1,"errors":[],"errorCount":0}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokenPath := filepath.Join(t.TempDir(), "token.json")

	_, err := runCLI(t, srv, tokenPath, "login", "--login", "curator", "--password", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid credentials")

	out, err := runCLI(t, srv, tokenPath, "login", "--login", "curator", "--password", "secret-pass")
	require.NoError(t, err)
	assert.Contains(t, out, "logged in")

	out, err = runCLI(t, srv, tokenPath, "sync", "--type", "manga", "--max-pages", "2")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "manga", gotBody["contentType"])
	assert.EqualValues(t, 2, gotBody["maxPages"])
	_, hasStart := gotBody["startFromId"]
	assert.False(t, hasStart)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "completed")
}

func TestSyncWithoutTokenFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := runCLI(t, srv, filepath.Join(t.TempDir(), "missing.json"), "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "animehub login")
}

func TestFailedRunStillPrintsCounters(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/sync", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"success":false,"runId":"run-9","status":"failed","totalProcessed":50,"pages":1,"errors":["page 2: timeout"],"errorCount":5,"error":"provider unavailable"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokenPath := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, newAPIClient(srv.URL, tokenPath).saveToken("tok"))

	out, err := runCLI(t, srv, tokenPath, "sync")
	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Contains(t, out, "run-9")
	assert.Contains(t, out, "page 2: timeout")
}

func TestResolvePendingSendsDecision(t *testing.T) {
	var path string
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/pending/", func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"id":"pm-1","admin_decision":"merged","resolved_title_id":"title-7"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokenPath := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, newAPIClient(srv.URL, tokenPath).saveToken("tok"))

	out, err := runCLI(t, srv, tokenPath, "pending", "resolve", "pm-1", "Merged", "--target", "title-7")
	require.NoError(t, err)
	assert.Equal(t, "/admin/pending/pm-1/resolve", path)
	assert.Equal(t, "merged", body["decision"])
	assert.Equal(t, "title-7", body["targetTitleId"])
	assert.Contains(t, out, "title-7")

	_, err = runCLI(t, srv, tokenPath, "pending", "resolve", "pm-1", "maybe")
	require.Error(t, err)
}

func TestExportPagesThroughCatalog(t *testing.T) {
	var offsets []string
	mux := http.NewServeMux()
	mux.HandleFunc("/titles", func(w http.ResponseWriter, r *http.Request) {
		offsets = append(offsets, r.URL.Query().Get("offset"))
		if r.URL.Query().Get("offset") != "0" {
			_, _ = w.Write([]byte(`{"total":100,"items":[]}`))
			return
		}
		items := make([]models.Title, 100)
		for i := range items {
			items[i] = models.Title{ID: "t", ContentType: models.ContentAnime, Title: "Mushishi"}
		}
		_ = json.NewEncoder(w).Encode(titlePage{Total: 100, Items: items})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := runCLI(t, srv, filepath.Join(t.TempDir(), "t.json"), "export", "--type", "anime")
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "100"}, offsets)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 101)
	assert.True(t, strings.HasPrefix(lines[0], "id,content_type,title"))
}

func TestWriteTitlesCSV(t *testing.T) {
	score := 8.54
	year := 2013
	al := int64(16498)
	var buf bytes.Buffer
	require.NoError(t, writeTitlesCSV(&buf, []models.Title{{
		ID: "x", ContentType: models.ContentAnime, Title: "Shingeki no Kyojin", TitleEnglish: "Attack on Titan, Season 1",
		Score: &score, Year: &year, AniListID: &al, Genres: []string{"Action", "Drama"},
	}}))
	assert.Contains(t, buf.String(), `x,anime,Shingeki no Kyojin,"Attack on Titan, Season 1",8.54,2013,16498,,,Action;Drama`)
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	printEvent(&buf, []byte(`{"type":"welcome","transport":"tcp"}`+"\n"))
	raw, err := json.Marshal(events.SyncEvent{
		Type: events.TypeRunPage, RunID: "r1", Page: 3, Processed: 150, Created: 10, Updated: 140,
		At: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	printEvent(&buf, raw)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"type":"welcome","transport":"tcp"}`, lines[0])
	assert.Contains(t, lines[1], "r1 page 3 processed=150 created=10 updated=140")
}

func TestWebsocketURL(t *testing.T) {
	u, err := newAPIClient("https://hub.example.org/", "").websocketURL("/ws")
	require.NoError(t, err)
	assert.Equal(t, "wss://hub.example.org/ws", u)
}
