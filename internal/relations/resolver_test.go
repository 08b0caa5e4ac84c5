package relations

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animehub/pkg/database"
	"animehub/pkg/models"
)

func seedTitle(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO titles (id, content_type, title) VALUES (?, 'manga', ?)`, id, id)
	require.NoError(t, err)
}

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestEnsureEntityReturnsSameID(t *testing.T) {
	db := database.OpenTest(t)
	ctx := context.Background()

	a, err := EnsureEntity(ctx, db, Genre, "Action")
	require.NoError(t, err)
	b, err := EnsureEntity(ctx, db, Genre, " Action ")
	require.NoError(t, err)
	c, err := EnsureEntity(ctx, db, Genre, "action")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "names are case-sensitive")
	assert.Equal(t, 2, count(t, db, "genres"))

	_, err = EnsureEntity(ctx, db, Studio, "  ")
	assert.Error(t, err)
}

func TestEnsureEntityConcurrent(t *testing.T) {
	db := database.OpenTest(t)
	ctx := context.Background()

	const workers = 8
	ids := make([]int64, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = EnsureEntity(ctx, db, Studio, "MAPPA")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, count(t, db, "studios"))
}

func TestEnsureRelationIdempotent(t *testing.T) {
	db := database.OpenTest(t)
	ctx := context.Background()
	seedTitle(t, db, "t1")

	id, err := EnsureEntity(ctx, db, Genre, "Drama")
	require.NoError(t, err)
	require.NoError(t, EnsureRelation(ctx, db, Genre, "t1", id, ""))
	require.NoError(t, EnsureRelation(ctx, db, Genre, "t1", id, ""))
	assert.Equal(t, 1, count(t, db, "title_genres"))
}

func TestEnsureRelationKeepsAuthorRole(t *testing.T) {
	db := database.OpenTest(t)
	ctx := context.Background()
	seedTitle(t, db, "t1")

	id, err := EnsureEntity(ctx, db, Author, "Kentarou Miura")
	require.NoError(t, err)
	require.NoError(t, EnsureRelation(ctx, db, Author, "t1", id, "Story & Art"))
	require.NoError(t, EnsureRelation(ctx, db, Author, "t1", id, ""))

	credits, err := Credits(ctx, db, "t1")
	require.NoError(t, err)
	assert.Equal(t, []models.Credit{{Name: "Kentarou Miura", Role: "Story & Art"}}, credits)
}

func TestResolve(t *testing.T) {
	db := database.OpenTest(t)
	ctx := context.Background()
	seedTitle(t, db, "t1")
	seedTitle(t, db, "t2")

	rec := models.CanonicalRecord{
		Genres:  []string{"Action", "Drama"},
		Studios: []string{"Wit Studio"},
		Authors: []models.Credit{{Name: "Hajime Isayama", Role: "Story"}},
	}

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, Resolve(ctx, tx, "t1", rec))
	require.NoError(t, Resolve(ctx, tx, "t1", rec))
	require.NoError(t, Resolve(ctx, tx, "t2", models.CanonicalRecord{Genres: []string{"Drama"}}))
	require.NoError(t, tx.Commit())

	assert.Equal(t, 2, count(t, db, "genres"))
	assert.Equal(t, 3, count(t, db, "title_genres"))
	assert.Equal(t, 1, count(t, db, "title_studios"))
	assert.Equal(t, 1, count(t, db, "title_authors"))

	names, err := Names(ctx, db, Genre, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Action", "Drama"}, names)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "genre", Genre.String())
	assert.Equal(t, "studio", Studio.String())
	assert.Equal(t, "author", Author.String())
}
