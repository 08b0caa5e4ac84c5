package matcher

import (
	"context"
	"fmt"
	"sort"

	"animehub/pkg/models"
)

type Query struct {
	Title         string
	TitleEnglish  string
	TitleJapanese string
	ContentType   models.ContentType
	Limit         int
	MinSimilarity float64
}

// Finder returns existing titles that look like the query, best first.
type Finder interface {
	FindCandidates(ctx context.Context, q Query) ([]models.Candidate, error)
}

// FinderFunc lets a plain function serve as a Finder.
type FinderFunc func(ctx context.Context, q Query) ([]models.Candidate, error)

func (f FinderFunc) FindCandidates(ctx context.Context, q Query) ([]models.Candidate, error) {
	return f(ctx, q)
}

// TitleLister is the part of the titles repository the catalog finder needs.
type TitleLister interface {
	ListByContentType(ctx context.Context, ct models.ContentType) ([]models.Title, error)
}

// CatalogFinder scores every stored title of the query's content type.
type CatalogFinder struct {
	Titles TitleLister
}

func NewCatalogFinder(titles TitleLister) *CatalogFinder {
	return &CatalogFinder{Titles: titles}
}

func (f *CatalogFinder) FindCandidates(ctx context.Context, q Query) ([]models.Candidate, error) {
	if !q.ContentType.Valid() {
		return nil, fmt.Errorf("find candidates: invalid content type %q", q.ContentType)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 5
	}

	titles, err := f.Titles.ListByContentType(ctx, q.ContentType)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}

	incoming := []string{q.Title, q.TitleEnglish, q.TitleJapanese}
	var out []models.Candidate
	for _, t := range titles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score := BestOf(incoming, []string{t.Title, t.TitleEnglish, t.TitleJapanese})
		if score <= 0 || score < q.MinSimilarity {
			continue
		}
		out = append(out, models.Candidate{TitleID: t.ID, Title: t.Title, SimilarityScore: score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SimilarityScore != out[j].SimilarityScore {
			return out[i].SimilarityScore > out[j].SimilarityScore
		}
		return out[i].Title < out[j].Title
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
