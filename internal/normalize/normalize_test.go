package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animehub/internal/providers"
	"animehub/pkg/models"
)

func ip(v int) *int         { return &v }
func fp(v float64) *float64 { return &v }

func TestDate(t *testing.T) {
	cases := []struct {
		name string
		in   providers.PartialDate
		want *string
	}{
		{"full", providers.PartialDate{Year: ip(2013), Month: ip(4), Day: ip(7)}, strp("2013-04-07")},
		{"year only", providers.PartialDate{Year: ip(2013)}, strp("2013-01-01")},
		{"year and month", providers.PartialDate{Year: ip(2013), Month: ip(11)}, strp("2013-11-01")},
		{"too old", providers.PartialDate{Year: ip(1850)}, nil},
		{"too new", providers.PartialDate{Year: ip(2101)}, nil},
		{"no year", providers.PartialDate{Month: ip(4), Day: ip(7)}, nil},
		{"bad month", providers.PartialDate{Year: ip(2013), Month: ip(13)}, nil},
		{"zero month", providers.PartialDate{Year: ip(2013), Month: ip(0)}, nil},
		{"april 31", providers.PartialDate{Year: ip(2013), Month: ip(4), Day: ip(31)}, nil},
		{"feb 29 leap", providers.PartialDate{Year: ip(2024), Month: ip(2), Day: ip(29)}, strp("2024-02-29")},
		{"feb 29 common", providers.PartialDate{Year: ip(2023), Month: ip(2), Day: ip(29)}, nil},
		{"feb 29 1900", providers.PartialDate{Year: ip(1900), Month: ip(2), Day: ip(29)}, nil},
		{"feb 29 2000", providers.PartialDate{Year: ip(2000), Month: ip(2), Day: ip(29)}, strp("2000-02-29")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Date(tc.in))
		})
	}
}

func strp(s string) *string { return &s }

func TestStatus(t *testing.T) {
	assert.Equal(t, "Currently Airing", Status("RELEASING"))
	assert.Equal(t, "Finished Airing", Status("FINISHED"))
	assert.Equal(t, "Not yet aired", Status("NOT_YET_RELEASED"))
	assert.Equal(t, "Hiatus", Status("HIATUS"))
	assert.Equal(t, "Cancelled", Status("CANCELLED"))
	assert.Equal(t, "Currently Airing", Status("current"))
	assert.Equal(t, "Not yet aired", Status("tba"))
	assert.Equal(t, "Publishing", Status("Publishing"))
	assert.Equal(t, "Finished Airing", Status(" FINISHED "))
	assert.Equal(t, " On Hiatus ", Status(" On Hiatus "))
	assert.Equal(t, "", Status(""))
}

func TestScore(t *testing.T) {
	assert.Equal(t, fp(8.5), Score(fp(85), providers.Scale100))
	assert.Equal(t, fp(8.25), Score(fp(82.47), providers.Scale100))
	assert.Equal(t, fp(7.91), Score(fp(7.91), providers.Scale10))
	assert.Nil(t, Score(fp(0), providers.Scale100))
	assert.Nil(t, Score(nil, providers.Scale10))
}

func TestSynopsis(t *testing.T) {
	assert.Equal(t, "Line one\nLine two", Synopsis("Line one<br>Line two"))
	assert.Equal(t, "Hello & bye", Synopsis("<i>Hello</i> &amp; bye"))
	assert.Equal(t, "A\n\nB", Synopsis("A<br><br>\n<br>B"))
	assert.Equal(t, "spaced out", Synopsis("  spaced    out  "))
	assert.Equal(t, "", Synopsis("   "))
	assert.Equal(t, "Source: x", Synopsis("<p>Source: <b>x</b></p>"))
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"Action", "Drama", "action"}, Names([]string{" Action", "Drama", "", "Action", "action"}))
	assert.Nil(t, Names(nil))
}

func TestRecordAnime(t *testing.T) {
	raw := providers.RawRecord{
		Provider:     models.ProviderAniList,
		ContentType:  models.ContentAnime,
		ID:           16498,
		MALID:        ptr64(16498),
		Title:        "Shingeki no Kyojin",
		TitleEnglish: "Attack on Titan",
		Description:  "Several hundred years ago<br>humans were nearly exterminated.",
		Score:        fp(85),
		ScoreScale:   providers.Scale100,
		Status:       "FINISHED",
		StartDate:    providers.PartialDate{Year: ip(2013), Month: ip(4), Day: ip(7)},
		Episodes:     ip(25),
		Season:       "spring",
		SeasonYear:   ip(2013),
		Genres:       []string{"Action", "Drama", "Action"},
		Studios:      []string{"Wit Studio"},
		Staff:        []models.Credit{{Name: "Hajime Isayama"}},
	}

	rec, err := Record(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(16498), rec.ExternalID)
	assert.Equal(t, "Shingeki no Kyojin", rec.Title)
	assert.Equal(t, "Finished Airing", rec.Status)
	assert.Equal(t, "2013-04-07", *rec.StartDate)
	assert.Equal(t, 2013, *rec.Year)
	assert.Equal(t, 8.5, *rec.Score)
	assert.Equal(t, "SPRING", rec.Season)
	assert.Equal(t, []string{"Action", "Drama"}, rec.Genres)
	assert.Equal(t, []string{"Wit Studio"}, rec.Studios)
	assert.Nil(t, rec.Authors, "authors only apply to manga")
	assert.Equal(t, int64(16498), *rec.MALID)
	assert.Nil(t, rec.AniListID)
	assert.Equal(t, "Several hundred years ago\nhumans were nearly exterminated.", rec.Synopsis)
}

func TestRecordManga(t *testing.T) {
	raw := providers.RawRecord{
		Provider:    models.ProviderKitsu,
		ContentType: models.ContentManga,
		ID:          42,
		Title:       "Berserk",
		Chapters:    ip(-1),
		Volumes:     ip(41),
		Staff:       []models.Credit{{Name: "Kentarou Miura", Role: "Story & Art"}, {Name: "Kentarou Miura"}},
	}
	rec, err := Record(raw)
	require.NoError(t, err)
	assert.Nil(t, rec.Chapters)
	assert.Equal(t, 41, *rec.Volumes)
	assert.Equal(t, []models.Credit{{Name: "Kentarou Miura", Role: "Story & Art"}}, rec.Authors)
	assert.Nil(t, rec.Year)
}

func TestRecordFallsBackToEnglishTitle(t *testing.T) {
	rec, err := Record(providers.RawRecord{
		Provider: models.ProviderAniList, ContentType: models.ContentAnime, ID: 1, TitleEnglish: "Cowboy Bebop",
	})
	require.NoError(t, err)
	assert.Equal(t, "Cowboy Bebop", rec.Title)
}

func TestRecordRejectsInvalid(t *testing.T) {
	_, err := Record(providers.RawRecord{Provider: models.ProviderAniList, ContentType: models.ContentAnime, Title: "x"})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = Record(providers.RawRecord{Provider: models.ProviderAniList, ContentType: models.ContentAnime, ID: 3})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = Record(providers.RawRecord{Provider: models.ProviderAniList, ContentType: "novel", ID: 3, Title: "x"})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func ptr64(v int64) *int64 { return &v }
