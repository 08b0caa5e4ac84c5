package syncer

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animehub/internal/events"
	"animehub/internal/providers"
	"animehub/internal/synclog"
	"animehub/internal/titles"
	"animehub/pkg/database"
	"animehub/pkg/models"
)

func ptr[T any](v T) *T { return &v }

type fakeSource struct {
	provider models.Provider
	fetch    func(q providers.PageQuery) (*providers.Page, error)

	mu      sync.Mutex
	queries []providers.PageQuery
}

func (f *fakeSource) Provider() models.Provider { return f.provider }

func (f *fakeSource) FetchPage(_ context.Context, q providers.PageQuery) (*providers.Page, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	return f.fetch(q)
}

func (f *fakeSource) calls() []providers.PageQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]providers.PageQuery(nil), f.queries...)
}

// pagedSource serves fixed pages; any page not in the map is empty.
func pagedSource(p models.Provider, pages map[int][]providers.RawRecord) *fakeSource {
	return &fakeSource{provider: p, fetch: func(q providers.PageQuery) (*providers.Page, error) {
		_, more := pages[q.Page+1]
		return &providers.Page{Records: pages[q.Page], HasNextPage: more}, nil
	}}
}

func attackOnTitan() providers.RawRecord {
	return providers.RawRecord{
		Provider:      models.ProviderAniList,
		ContentType:   models.ContentAnime,
		ID:            16498,
		MALID:         ptr(int64(16498)),
		Title:         "Shingeki no Kyojin",
		TitleEnglish:  "Attack on Titan",
		TitleJapanese: "進撃の巨人",
		Description:   "Centuries ago, mankind was slaughtered to near extinction.<br>",
		Score:         ptr(85.0),
		ScoreScale:    providers.Scale100,
		Status:        "FINISHED",
		Format:        "TV",
		Episodes:      ptr(25),
		Genres:        []string{"Action", "Drama"},
		Studios:       []string{"Wit Studio"},
	}
}

func aniRecord(id int64, title string) providers.RawRecord {
	return providers.RawRecord{
		Provider:    models.ProviderAniList,
		ContentType: models.ContentAnime,
		ID:          id,
		Title:       title,
		Genres:      []string{"Comedy"},
	}
}

func kitsuRecord(id int64, title string) providers.RawRecord {
	return providers.RawRecord{
		Provider:    models.ProviderKitsu,
		ContentType: models.ContentAnime,
		ID:          id,
		Title:       title,
		Score:       ptr(81.0),
		ScoreScale:  providers.Scale100,
		Episodes:    ptr(12),
	}
}

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func quickOpts() Options {
	o := DefaultOptions()
	o.PageErrorPause = 0
	return o
}

type env struct {
	db     *sql.DB
	titles *titles.Repo
	logs   *synclog.Repo
}

func newEnv(t *testing.T) env {
	t.Helper()
	db := database.OpenTest(t)
	return env{db: db, titles: titles.NewRepo(db), logs: synclog.NewRepo(db)}
}

func TestImportAttackOnTitanIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := pagedSource(models.ProviderAniList, map[int][]providers.RawRecord{1: {attackOnTitan()}})
	im := NewImporter(src, e.titles, e.logs, nil, quickOpts())

	res, err := im.Run(ctx, Request{ContentType: models.ContentAnime, MaxPages: 3})
	require.NoError(t, err)
	assert.Equal(t, models.SyncCompleted, res.Status)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Pages)
	assert.Zero(t, res.ErrorCount)

	assertCounts := func() {
		assert.Equal(t, 1, count(t, e.db, "titles"))
		assert.Equal(t, 1, count(t, e.db, "anime_details"))
		assert.Equal(t, 2, count(t, e.db, "genres"))
		assert.Equal(t, 2, count(t, e.db, "title_genres"))
	}
	assertCounts()

	title, err := e.titles.FindByExternalID(ctx, models.ContentAnime, models.ProviderAniList, 16498)
	require.NoError(t, err)
	require.NotNil(t, title)
	require.NotNil(t, title.Score)
	assert.Equal(t, 8.5, *title.Score)

	again, err := im.Run(ctx, Request{ContentType: models.ContentAnime, MaxPages: 3})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created)
	assert.Equal(t, 1, again.Updated)
	assertCounts()

	l, err := e.logs.Get(ctx, again.RunID)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, models.SyncCompleted, l.Status)
	assert.Equal(t, 1, l.Updated)
	assert.NotNil(t, l.FinishedAt)

	st, err := e.logs.GetStatus(ctx, models.ContentAnime, models.ProviderAniList)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 2, st.TotalProcessed)
}

func TestImportStopsAtMaxPages(t *testing.T) {
	e := newEnv(t)
	pages := map[int][]providers.RawRecord{}
	for i := 1; i <= 5; i++ {
		pages[i] = []providers.RawRecord{aniRecord(int64(i), "Title "+string(rune('A'+i)))}
	}
	src := pagedSource(models.ProviderAniList, pages)
	im := NewImporter(src, e.titles, e.logs, nil, quickOpts())

	res, err := im.Run(context.Background(), Request{ContentType: models.ContentAnime, MaxPages: 2, StartPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 2, res.Created)

	calls := src.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, 2, calls[0].Page)
	assert.Equal(t, 3, calls[1].Page)
	assert.Nil(t, calls[0].StartFromID)
}

func TestImportSkipsFailedPage(t *testing.T) {
	e := newEnv(t)
	src := &fakeSource{provider: models.ProviderAniList, fetch: func(q providers.PageQuery) (*providers.Page, error) {
		switch q.Page {
		case 1:
			return nil, errors.New("anilist: status 500")
		case 2:
			return &providers.Page{Records: []providers.RawRecord{attackOnTitan()}}, nil
		}
		return &providers.Page{}, nil
	}}
	im := NewImporter(src, e.titles, e.logs, nil, quickOpts())

	res, err := im.Run(context.Background(), Request{ContentType: models.ContentAnime, MaxPages: 5})
	require.NoError(t, err)
	assert.Equal(t, models.SyncCompleted, res.Status)
	assert.Equal(t, 1, res.ErrorCount)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "page 1")
	assert.Equal(t, 1, res.Created)
	assert.Len(t, src.calls(), 3)
}

func TestImportRecordErrorsDoNotStopThePage(t *testing.T) {
	e := newEnv(t)
	bad := aniRecord(0, "No Id")
	src := pagedSource(models.ProviderAniList, map[int][]providers.RawRecord{
		1: {bad, attackOnTitan(), aniRecord(21, "One Piece")},
	})
	im := NewImporter(src, e.titles, e.logs, nil, quickOpts())

	res, err := im.Run(context.Background(), Request{ContentType: models.ContentAnime})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, 2, count(t, e.db, "titles"))
}

func TestImportErrorListIsCapped(t *testing.T) {
	e := newEnv(t)
	var recs []providers.RawRecord
	for i := 0; i < 5; i++ {
		recs = append(recs, aniRecord(0, "broken"))
	}
	src := pagedSource(models.ProviderAniList, map[int][]providers.RawRecord{1: recs})
	opts := quickOpts()
	opts.MaxErrorMessages = 2
	im := NewImporter(src, e.titles, e.logs, nil, opts)

	res, err := im.Run(context.Background(), Request{ContentType: models.ContentAnime})
	require.NoError(t, err)
	assert.Equal(t, 5, res.ErrorCount)
	assert.Len(t, res.Errors, 2)
}

func TestImportAbortsWhenProviderKeepsFailing(t *testing.T) {
	e := newEnv(t)
	src := &fakeSource{provider: models.ProviderAniList, fetch: func(providers.PageQuery) (*providers.Page, error) {
		return nil, errors.New("connection refused")
	}}
	opts := quickOpts()
	opts.MaxConsecutivePageErrors = 3
	im := NewImporter(src, e.titles, e.logs, nil, opts)

	res, err := im.Run(context.Background(), Request{ContentType: models.ContentAnime, Mode: ModeComplete})
	require.ErrorIs(t, err, ErrProviderDown)
	require.NotNil(t, res)
	assert.Equal(t, models.SyncFailed, res.Status)
	assert.Equal(t, 3, res.ErrorCount)
	assert.Len(t, src.calls(), 3)

	l, err := e.logs.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, l.Status)
	assert.Contains(t, l.Message, "consecutive")
}

func TestCompleteModeWalksByID(t *testing.T) {
	e := newEnv(t)
	src := pagedSource(models.ProviderAniList, map[int][]providers.RawRecord{
		1: {aniRecord(1, "Cowboy Bebop"), aniRecord(5, "Trigun")},
		2: {aniRecord(6, "Witch Hunter Robin")},
	})
	im := NewImporter(src, e.titles, e.logs, nil, quickOpts())

	res, err := im.Run(context.Background(), Request{ContentType: models.ContentAnime, Mode: ModeComplete})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 3, res.Created)

	calls := src.calls()
	require.Len(t, calls, 2)
	require.NotNil(t, calls[0].StartFromID)
	assert.Equal(t, int64(0), *calls[0].StartFromID)

	st, err := e.logs.GetStatus(context.Background(), models.ContentAnime, models.ProviderAniList)
	require.NoError(t, err)
	require.NotNil(t, st.LastExternalID)
	assert.Equal(t, int64(6), *st.LastExternalID)
	assert.Equal(t, models.SyncCompleted, st.Status)

	// resume picks up after the highest id seen
	_, err = im.Run(context.Background(), Request{ContentType: models.ContentAnime, Mode: ModeComplete, Resume: true})
	require.NoError(t, err)
	calls = src.calls()
	require.NotNil(t, calls[2].StartFromID)
	assert.Equal(t, int64(6), *calls[2].StartFromID)
}

func TestPagedResumeStartsAfterLastPage(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.logs.UpsertStatus(context.Background(), models.ContentSyncStatus{
		ContentType: models.ContentAnime,
		Provider:    models.ProviderAniList,
		LastPage:    3,
		Status:      models.SyncCompleted,
	}))
	src := pagedSource(models.ProviderAniList, nil)
	im := NewImporter(src, e.titles, e.logs, nil, quickOpts())

	_, err := im.Run(context.Background(), Request{ContentType: models.ContentAnime, Resume: true})
	require.NoError(t, err)
	calls := src.calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, 4, calls[0].Page)
}

func TestResumePointsStayWithTheirMode(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := pagedSource(models.ProviderAniList, map[int][]providers.RawRecord{
		1: {aniRecord(170000, "Sousou no Frieren"), aniRecord(5, "Trigun")},
		2: {aniRecord(1, "Cowboy Bebop")},
	})
	im := NewImporter(src, e.titles, e.logs, nil, quickOpts())

	// popularity order says nothing about ids
	_, err := im.Run(ctx, Request{ContentType: models.ContentAnime, Mode: ModePaged, MaxPages: 2})
	require.NoError(t, err)
	st, err := e.logs.GetStatus(ctx, models.ContentAnime, models.ProviderAniList)
	require.NoError(t, err)
	assert.Equal(t, 2, st.LastPage)
	assert.Nil(t, st.LastExternalID)

	_, err = im.Run(ctx, Request{ContentType: models.ContentAnime, Mode: ModeComplete, Resume: true})
	require.NoError(t, err)
	calls := src.calls()
	require.Len(t, calls, 4)
	assert.Equal(t, 1, calls[2].Page)
	require.NotNil(t, calls[2].StartFromID)
	assert.Equal(t, int64(0), *calls[2].StartFromID)

	st, err = e.logs.GetStatus(ctx, models.ContentAnime, models.ProviderAniList)
	require.NoError(t, err)
	require.NotNil(t, st.LastExternalID)
	assert.Equal(t, int64(170000), *st.LastExternalID)
	assert.Equal(t, 2, st.LastPage, "complete pages do not move the paged resume point")

	_, err = im.Run(ctx, Request{ContentType: models.ContentAnime, Mode: ModePaged, Resume: true})
	require.NoError(t, err)
	calls = src.calls()
	assert.Equal(t, 3, calls[4].Page)
	assert.Nil(t, calls[4].StartFromID)
}

func TestImportCancelled(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &fakeSource{provider: models.ProviderAniList, fetch: func(q providers.PageQuery) (*providers.Page, error) {
		cancel()
		return &providers.Page{Records: []providers.RawRecord{aniRecord(int64(q.Page), "x")}, HasNextPage: true}, nil
	}}
	im := NewImporter(src, e.titles, e.logs, nil, quickOpts())

	res, err := im.Run(ctx, Request{ContentType: models.ContentAnime, Mode: ModeComplete})
	require.NoError(t, err)
	assert.Equal(t, models.SyncCancelled, res.Status)
	assert.Len(t, src.calls(), 1)

	l, err := e.logs.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncCancelled, l.Status)
}

func TestImportRejectsBadRequest(t *testing.T) {
	e := newEnv(t)
	im := NewImporter(pagedSource(models.ProviderAniList, nil), e.titles, e.logs, nil, quickOpts())

	_, err := im.Run(context.Background(), Request{ContentType: "novel"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = im.Run(context.Background(), Request{ContentType: models.ContentAnime, Mode: "sideways"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = im.Run(context.Background(), Request{ContentType: models.ContentAnime, MaxPages: -1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, count(t, e.db, "sync_logs"))
}

func TestImportPublishesEvents(t *testing.T) {
	e := newEnv(t)
	var mu sync.Mutex
	var types []string
	pub := events.PublisherFunc(func(ev events.SyncEvent) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})
	src := pagedSource(models.ProviderAniList, map[int][]providers.RawRecord{1: {attackOnTitan()}})
	im := NewImporter(src, e.titles, e.logs, pub, quickOpts())

	_, err := im.Run(context.Background(), Request{ContentType: models.ContentAnime})
	require.NoError(t, err)
	assert.Equal(t, []string{events.TypeRunStarted, events.TypeRunPage, events.TypeRunFinished}, types)
}

func TestRunBothKeepsBothResults(t *testing.T) {
	e := newEnv(t)
	src := &fakeSource{provider: models.ProviderAniList, fetch: func(q providers.PageQuery) (*providers.Page, error) {
		if q.ContentType == models.ContentManga {
			return nil, errors.New("manga endpoint down")
		}
		if q.Page > 1 {
			return &providers.Page{}, nil
		}
		return &providers.Page{Records: []providers.RawRecord{attackOnTitan()}}, nil
	}}
	opts := quickOpts()
	opts.MaxConsecutivePageErrors = 1
	im := NewImporter(src, e.titles, e.logs, nil, opts)

	out := RunBoth(context.Background(), im, im, Request{MaxPages: 2})
	require.Len(t, out, 2)

	assert.Equal(t, models.ContentAnime, out[0].ContentType)
	require.NoError(t, out[0].Err)
	assert.Equal(t, 1, out[0].Result.Created)

	assert.Equal(t, models.ContentManga, out[1].ContentType)
	assert.ErrorIs(t, out[1].Err, ErrProviderDown)
	assert.NotEmpty(t, out[1].Error)
	assert.NotEqual(t, out[0].Result.RunID, out[1].Result.RunID)
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{PageErrorPause: -time.Second}.withDefaults()
	d := DefaultOptions()
	assert.Equal(t, d.PerPage, o.PerPage)
	assert.Equal(t, d.MaxConsecutivePageErrors, o.MaxConsecutivePageErrors)
	assert.Zero(t, o.PageErrorPause)

	st := newRunState("r", 1, 1)
	st.fail("a")
	st.fail("b")
	assert.Equal(t, 2, st.errorCount)
	assert.Equal(t, []string{"a"}, st.errors)
}
