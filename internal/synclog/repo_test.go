package synclog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animehub/pkg/database"
	"animehub/pkg/models"
)

func TestLogLifecycle(t *testing.T) {
	repo := NewRepo(database.OpenTest(t))
	ctx := context.Background()

	l, err := repo.Open(ctx, models.SyncLog{
		ContentType: models.ContentAnime,
		Provider:    models.ProviderAniList,
		Kind:        models.SyncImport,
		StartPage:   3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, l.ID)
	assert.Equal(t, models.SyncRunning, l.Status)

	require.NoError(t, repo.Progress(ctx, l.ID, Snapshot{CurrentPage: 4, Pages: 2, Processed: 100, Created: 60, Updated: 40}))

	got, err := repo.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.CurrentPage)
	assert.Equal(t, 100, got.Processed)
	assert.Nil(t, got.FinishedAt)
	assert.Empty(t, got.Errors)

	require.NoError(t, repo.Finish(ctx, l.ID, models.SyncCompleted, Snapshot{
		CurrentPage: 5, Pages: 3, Processed: 150, Created: 90, Updated: 59,
		ErrorCount: 1, Errors: []string{"record 12: boom"},
	}, "done"))

	got, err = repo.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncCompleted, got.Status)
	assert.Equal(t, 3, got.StartPage)
	assert.Equal(t, []string{"record 12: boom"}, got.Errors)
	assert.Equal(t, "done", got.Message)
	assert.NotNil(t, got.FinishedAt)

	assert.Error(t, repo.Finish(ctx, "missing", models.SyncFailed, Snapshot{}, ""))

	missing, err := repo.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListFiltersByContentType(t *testing.T) {
	repo := NewRepo(database.OpenTest(t))
	ctx := context.Background()

	for _, ct := range []models.ContentType{models.ContentAnime, models.ContentManga, models.ContentAnime} {
		_, err := repo.Open(ctx, models.SyncLog{ContentType: ct, Provider: models.ProviderAniList, Kind: models.SyncImport})
		require.NoError(t, err)
	}

	all, err := repo.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	anime, err := repo.List(ctx, models.ContentAnime, 10)
	require.NoError(t, err)
	assert.Len(t, anime, 2)

	one, err := repo.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestUpsertStatusAccumulates(t *testing.T) {
	repo := NewRepo(database.OpenTest(t))
	ctx := context.Background()

	none, err := repo.GetStatus(ctx, models.ContentManga, models.ProviderAniList)
	require.NoError(t, err)
	assert.Nil(t, none)

	last := int64(30002)
	require.NoError(t, repo.UpsertStatus(ctx, models.ContentSyncStatus{
		ContentType: models.ContentManga, Provider: models.ProviderAniList,
		LastPage: 1, LastExternalID: &last, TotalProcessed: 50, Status: models.SyncRunning, LastRunID: "r1",
	}))
	require.NoError(t, repo.UpsertStatus(ctx, models.ContentSyncStatus{
		ContentType: models.ContentManga, Provider: models.ProviderAniList,
		LastPage: 2, TotalProcessed: 50, Status: models.SyncCompleted, LastRunID: "r1",
	}))

	s, err := repo.GetStatus(ctx, models.ContentManga, models.ProviderAniList)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 2, s.LastPage)
	assert.Equal(t, 100, s.TotalProcessed)
	assert.Equal(t, models.SyncCompleted, s.Status)
	require.NotNil(t, s.LastExternalID)
	assert.Equal(t, int64(30002), *s.LastExternalID)

	// an id-walk checkpoint leaves the page alone
	next := int64(30100)
	require.NoError(t, repo.UpsertStatus(ctx, models.ContentSyncStatus{
		ContentType: models.ContentManga, Provider: models.ProviderAniList,
		LastExternalID: &next, Status: models.SyncRunning, LastRunID: "r2",
	}))
	s, err = repo.GetStatus(ctx, models.ContentManga, models.ProviderAniList)
	require.NoError(t, err)
	assert.Equal(t, 2, s.LastPage)
	assert.Equal(t, int64(30100), *s.LastExternalID)

	list, err := repo.ListStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
