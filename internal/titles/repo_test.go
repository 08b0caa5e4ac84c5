package titles

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animehub/pkg/database"
	"animehub/pkg/models"
)

func ptr[T any](v T) *T { return &v }

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func attackOnTitan() models.CanonicalRecord {
	return models.CanonicalRecord{
		ContentType:   models.ContentAnime,
		Provider:      models.ProviderAniList,
		ExternalID:    16498,
		MALID:         ptr(int64(16498)),
		Title:         "Shingeki no Kyojin",
		TitleEnglish:  "Attack on Titan",
		TitleJapanese: "進撃の巨人",
		Score:         ptr(8.5),
		Popularity:    ptr(900000),
		Year:          ptr(2013),
		Status:        "finished",
		Format:        "TV",
		StartDate:     ptr("2013-04-07"),
		Episodes:      ptr(25),
		Season:        "SPRING",
		SeasonYear:    ptr(2013),
		Genres:        []string{"Action", "Drama"},
		Studios:       []string{"Wit Studio"},
	}
}

func TestCreateAndRerunIsStable(t *testing.T) {
	db := database.OpenTest(t)
	repo := NewRepo(db)
	ctx := context.Background()

	rec := attackOnTitan()
	created, err := repo.Create(ctx, rec)
	require.NoError(t, err)
	require.NotNil(t, created)

	assert.Equal(t, models.ContentAnime, created.ContentType)
	require.NotNil(t, created.AniListID)
	assert.Equal(t, int64(16498), *created.AniListID)
	require.NotNil(t, created.MALID)
	assert.Nil(t, created.KitsuID)
	require.NotNil(t, created.Anime)
	assert.Equal(t, 25, *created.Anime.Episodes)
	assert.Equal(t, []string{"Action", "Drama"}, created.Genres)

	// second pass finds the title and only refreshes it
	existing, err := repo.FindExisting(ctx, rec)
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, created.ID, existing.ID)

	rec.Score = ptr(8.6)
	require.NoError(t, repo.ApplyUpdate(ctx, existing.ID, rec, false))

	assert.Equal(t, 1, count(t, db, "titles"))
	assert.Equal(t, 1, count(t, db, "anime_details"))
	assert.Equal(t, 0, count(t, db, "manga_details"))
	assert.Equal(t, 2, count(t, db, "genres"))
	assert.Equal(t, 2, count(t, db, "title_genres"))

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.InDelta(t, 8.6, *got.Score, 0.001)
}

func TestFindExistingByCrossID(t *testing.T) {
	db := database.OpenTest(t)
	repo := NewRepo(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, attackOnTitan())
	require.NoError(t, err)

	kitsu := models.CanonicalRecord{
		ContentType: models.ContentAnime,
		Provider:    models.ProviderKitsu,
		ExternalID:  7442,
		MALID:       ptr(int64(16498)),
		Title:       "Attack on Titan",
	}
	found, err := repo.FindExisting(ctx, kitsu)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	// same MAL number on the manga side is a different work
	kitsu.ContentType = models.ContentManga
	found, err = repo.FindExisting(ctx, kitsu)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestApplyUpdateAttach(t *testing.T) {
	db := database.OpenTest(t)
	repo := NewRepo(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, attackOnTitan())
	require.NoError(t, err)

	kitsu := models.CanonicalRecord{
		ContentType: models.ContentAnime,
		Provider:    models.ProviderKitsu,
		ExternalID:  7442,
		Title:       "Attack on Titan",
		Genres:      []string{"Action", "Military"},
	}
	require.NoError(t, repo.ApplyUpdate(ctx, created.ID, kitsu, true))

	got, err := repo.FindByExternalID(ctx, models.ContentAnime, models.ProviderKitsu, 7442)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, 3, count(t, db, "title_genres"))

	// a different kitsu id for the same title is refused and nothing changes
	kitsu.ExternalID = 9999
	kitsu.Genres = []string{"Horror"}
	err = repo.ApplyUpdate(ctx, created.ID, kitsu, true)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, 3, count(t, db, "title_genres"))

	err = repo.ApplyUpdate(ctx, "missing", kitsu, false)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAttachExternalIDOwnedElsewhere(t *testing.T) {
	db := database.OpenTest(t)
	repo := NewRepo(db)
	ctx := context.Background()

	a, err := repo.Create(ctx, attackOnTitan())
	require.NoError(t, err)
	b, err := repo.Create(ctx, models.CanonicalRecord{
		ContentType: models.ContentAnime,
		Provider:    models.ProviderKitsu,
		ExternalID:  1,
		Title:       "Cowboy Bebop",
	})
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	err = AttachExternalIDTx(ctx, tx, a.ID, models.ContentAnime, models.ProviderKitsu, 1)
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)

	// re-attaching the id a title already has is fine
	require.NoError(t, AttachExternalIDTx(ctx, tx, b.ID, models.ContentAnime, models.ProviderKitsu, 1))

	// a manga id never lands on an anime title
	err = AttachExternalIDTx(ctx, tx, a.ID, models.ContentManga, models.ProviderKitsu, 8671)
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)
	var kitsu sql.NullInt64
	require.NoError(t, tx.QueryRowContext(ctx, `SELECT kitsu_id FROM titles WHERE id = ?`, a.ID).Scan(&kitsu))
	assert.False(t, kitsu.Valid)

	assert.ErrorIs(t, AttachExternalIDTx(ctx, tx, "missing", models.ContentAnime, models.ProviderKitsu, 2), ErrNotFound)
}

func TestBackfillFillsOnlyEmpty(t *testing.T) {
	db := database.OpenTest(t)
	repo := NewRepo(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, models.CanonicalRecord{
		ContentType:  models.ContentManga,
		Provider:     models.ProviderMAL,
		ExternalID:   2,
		Title:        "Berserk",
		TitleEnglish: "Berserk",
	})
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, BackfillTx(ctx, tx, created.ID, models.CanonicalRecord{
		TitleEnglish:  "Berserk (Deluxe)",
		TitleJapanese: "ベルセルク",
		Synopsis:      "Guts, a former mercenary...",
	}))
	require.NoError(t, tx.Commit())

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Berserk", got.TitleEnglish)
	assert.Equal(t, "ベルセルク", got.TitleJapanese)
	assert.Equal(t, "Guts, a former mercenary...", got.Synopsis)
	require.NotNil(t, got.Manga)
}

func TestListFilters(t *testing.T) {
	db := database.OpenTest(t)
	repo := NewRepo(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, attackOnTitan())
	require.NoError(t, err)
	_, err = repo.Create(ctx, models.CanonicalRecord{
		ContentType: models.ContentManga,
		Provider:    models.ProviderMAL,
		ExternalID:  23390,
		Title:       "Shingeki no Kyojin",
		Status:      "finished",
		Genres:      []string{"Action"},
	})
	require.NoError(t, err)

	total, err := repo.Count(ctx, ListQuery{Q: "kyojin"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	items, err := repo.List(ctx, ListQuery{Q: "kyojin", ContentType: models.ContentManga})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.ContentManga, items[0].ContentType)

	total, err = repo.Count(ctx, ListQuery{Genre: "drama"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	total, err = repo.Count(ctx, ListQuery{Status: "FINISHED"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats["titles"])
	assert.Equal(t, 1, stats["manga_details"])
}
