package main

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animehub/internal/titles"
	"animehub/pkg/database"
	"animehub/pkg/models"
)

func TestImportTitlesIsIdempotent(t *testing.T) {
	repo := titles.NewRepo(database.OpenTest(t))
	ctx := context.Background()

	const data = `content_type,anilist_id,mal_id,title,score,episodes,genres
anime,16498,16498,Shingeki no Kyojin,8.54,25,Action;Drama
manga,,2,Berserk,9.47,,Action
anime,,,No ids,,,
`
	c, err := importTitles(ctx, repo, strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, counts{created: 2, failed: 1}, c)

	c, err = importTitles(ctx, repo, strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, counts{updated: 2, failed: 1}, c)

	got, err := repo.FindByExternalID(ctx, models.ContentAnime, models.ProviderMAL, 16498)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Shingeki no Kyojin", got.Title)

	got, err = repo.GetByID(ctx, got.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Anime)
	require.NotNil(t, got.Anime.Episodes)
	assert.Equal(t, 25, *got.Anime.Episodes)
}
