package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animehub/pkg/models"
)

func TestTrigramSimilarityMatchesPgTrgm(t *testing.T) {
	// SELECT similarity('word', 'two words') = 0.363636
	assert.InDelta(t, 4.0/11.0, trigramSimilarity("word", "two words"), 1e-9)
	assert.Equal(t, 1.0, trigramSimilarity("titan", "titan"))
	assert.Equal(t, 0.0, trigramSimilarity("", "titan"))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Attack on Titan", "attack on titan"))
	assert.Equal(t, 1.0, Similarity("ＡＴＴＡＣＫ  ON TITAN", "attack on titan"))
	assert.Equal(t, 0.0, Similarity("", "attack on titan"))

	sequel := Similarity("Shingeki no Kyojin", "Shingeki no Kyojin Season 2")
	assert.GreaterOrEqual(t, sequel, 0.5)
	assert.Less(t, sequel, 0.8)

	typo := Similarity("Fullmetal Alchemist: Brotherhood", "Fullmetal Alchemist Brotherhod")
	assert.GreaterOrEqual(t, typo, 0.8)

	assert.Less(t, Similarity("Naruto", "Berserk"), 0.5)
}

func TestBestOfSkipsEmpty(t *testing.T) {
	score := BestOf([]string{"Shingeki no Kyojin", "", "Attack on Titan"}, []string{"", "Attack on Titan"})
	assert.Equal(t, 1.0, score)
	assert.Equal(t, 0.0, BestOf([]string{""}, []string{"x"}))
}

type lister []models.Title

func (l lister) ListByContentType(_ context.Context, ct models.ContentType) ([]models.Title, error) {
	var out []models.Title
	for _, t := range l {
		if t.ContentType == ct {
			out = append(out, t)
		}
	}
	return out, nil
}

func TestCatalogFinder(t *testing.T) {
	f := NewCatalogFinder(lister{
		{ID: "a", ContentType: models.ContentAnime, Title: "Shingeki no Kyojin", TitleEnglish: "Attack on Titan"},
		{ID: "b", ContentType: models.ContentAnime, Title: "Shingeki no Kyojin Season 2"},
		{ID: "c", ContentType: models.ContentAnime, Title: "Naruto"},
		{ID: "d", ContentType: models.ContentManga, Title: "Attack on Titan"},
	})

	got, err := f.FindCandidates(context.Background(), Query{
		Title:         "Attack on Titan",
		ContentType:   models.ContentAnime,
		Limit:         5,
		MinSimilarity: 0.3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, got)

	assert.Equal(t, "a", got[0].TitleID)
	assert.Equal(t, 1.0, got[0].SimilarityScore)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].SimilarityScore, got[i].SimilarityScore)
	}
	for _, c := range got {
		assert.NotEqual(t, "d", c.TitleID, "manga must not match an anime query")
		assert.NotEqual(t, "c", c.TitleID)
	}

	got, err = f.FindCandidates(context.Background(), Query{Title: "Attack on Titan", ContentType: models.ContentAnime, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = f.FindCandidates(context.Background(), Query{Title: "x"})
	assert.Error(t, err)
}

func TestFinderFunc(t *testing.T) {
	boom := errors.New("boom")
	var f Finder = FinderFunc(func(context.Context, Query) ([]models.Candidate, error) { return nil, boom })
	_, err := f.FindCandidates(context.Background(), Query{})
	assert.ErrorIs(t, err, boom)
}

func TestClassify(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())

	cases := []struct {
		name  string
		score float64
		want  Kind
	}{
		{"exact", 1, Confident},
		{"confident boundary", 0.8, Confident},
		{"just below confident", 0.79, Uncertain},
		{"uncertain", 0.62, Uncertain},
		{"uncertain boundary", 0.5, Uncertain},
		{"below uncertain", 0.49, New},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := p.Classify([]models.Candidate{{TitleID: "t", SimilarityScore: tc.score}})
			assert.Equal(t, tc.want, out.Kind)
			require.NotNil(t, out.Best)
			assert.Equal(t, tc.score, out.Best.SimilarityScore)
		})
	}

	out := p.Classify(nil)
	assert.Equal(t, New, out.Kind)
	assert.Nil(t, out.Best)
}

func TestClassifyTrimsCandidates(t *testing.T) {
	p := DefaultPolicy()
	var cands []models.Candidate
	for i := 0; i < 8; i++ {
		cands = append(cands, models.Candidate{TitleID: string(rune('a' + i)), SimilarityScore: 0.7 - float64(i)*0.01})
	}
	out := p.Classify(cands)
	assert.Equal(t, Uncertain, out.Kind)
	assert.Len(t, out.Candidates, 5)
	assert.Equal(t, "a", out.Best.TitleID)
}

func TestPolicyValidate(t *testing.T) {
	assert.Error(t, Policy{Confident: 0.5, Uncertain: 0.8, MaxCandidates: 5}.Validate())
}

func TestPolicyQuery(t *testing.T) {
	q := DefaultPolicy().Query(models.CanonicalRecord{
		ContentType: models.ContentManga, Title: "Berserk", TitleJapanese: "ベルセルク",
	})
	assert.Equal(t, models.ContentManga, q.ContentType)
	assert.Equal(t, 5, q.Limit)
	assert.Equal(t, 0.5, q.MinSimilarity)
	assert.Equal(t, "ベルセルク", q.TitleJapanese)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "confident", Confident.String())
	assert.Equal(t, "uncertain", Uncertain.String())
	assert.Equal(t, "new", New.String())
}
