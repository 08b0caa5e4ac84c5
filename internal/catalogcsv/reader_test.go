package catalogcsv

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animehub/pkg/models"
)

const sample = `id,content_type,anilist_id,mal_id,kitsu_id,title,title_english,title_japanese,score,year,status,format,episodes,chapters,volumes,genres
a1,anime,16498,16498,7442,Shingeki no Kyojin,Attack on Titan,進撃の巨人,8.54,2013,FINISHED,TV,25,,,Action;Drama
m1,manga,,2,,Berserk,,,9.47,1989,RELEASING,MANGA,,,41,Action; Fantasy ;
x1,anime,,,,Orphan,,,,,,,,,,
b1,novel,1,,,Wrong type,,,,,,,,,,
`

func TestReaderRoundTripsExportColumns(t *testing.T) {
	rd, err := NewReader(strings.NewReader(sample))
	require.NoError(t, err)

	rec, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, models.ContentAnime, rec.ContentType)
	assert.Equal(t, models.ProviderAniList, rec.Provider)
	assert.EqualValues(t, 16498, rec.ExternalID)
	require.NotNil(t, rec.KitsuID)
	assert.EqualValues(t, 7442, *rec.KitsuID)
	assert.Equal(t, "進撃の巨人", rec.TitleJapanese)
	require.NotNil(t, rec.Score)
	assert.InDelta(t, 8.54, *rec.Score, 0.001)
	require.NotNil(t, rec.Episodes)
	assert.Equal(t, 25, *rec.Episodes)
	assert.Equal(t, []string{"Action", "Drama"}, rec.Genres)

	rec, err = rd.Next()
	require.NoError(t, err)
	assert.Equal(t, models.ProviderMAL, rec.Provider)
	assert.EqualValues(t, 2, rec.ExternalID)
	assert.Nil(t, rec.Episodes)
	require.NotNil(t, rec.Volumes)
	assert.Equal(t, 41, *rec.Volumes)
	assert.Equal(t, []string{"Action", "Fantasy"}, rec.Genres)

	_, err = rd.Next()
	var rowErr *RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, 4, rowErr.Line)
	assert.True(t, errors.Is(err, ErrNoExternalID))

	_, err = rd.Next()
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, 5, rowErr.Line)

	_, err = rd.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderRejectsMissingColumns(t *testing.T) {
	_, err := NewReader(strings.NewReader("id,title\n1,x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content_type")
}
