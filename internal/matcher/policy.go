package matcher

import (
	"fmt"

	"animehub/pkg/models"
)

type Kind int

const (
	New Kind = iota
	Uncertain
	Confident
)

func (k Kind) String() string {
	switch k {
	case Confident:
		return "confident"
	case Uncertain:
		return "uncertain"
	}
	return "new"
}

// Policy holds the score bands. Confident and above merges automatically,
// [Uncertain, Confident) goes to review, anything lower is a new title.
type Policy struct {
	Confident     float64 `koanf:"confident" validate:"gt=0,lte=1"`
	Uncertain     float64 `koanf:"uncertain" validate:"gt=0,lte=1"`
	MaxCandidates int     `koanf:"max_candidates" validate:"min=1,max=50"`
}

func DefaultPolicy() Policy {
	return Policy{Confident: 0.8, Uncertain: 0.5, MaxCandidates: 5}
}

func (p Policy) Validate() error {
	if p.Uncertain > p.Confident {
		return fmt.Errorf("match policy: uncertain %.2f above confident %.2f", p.Uncertain, p.Confident)
	}
	return nil
}

type Outcome struct {
	Kind       Kind
	Best       *models.Candidate
	Candidates []models.Candidate // trimmed to MaxCandidates
}

func (p Policy) Classify(candidates []models.Candidate) Outcome {
	var best *models.Candidate
	for i := range candidates {
		if best == nil || candidates[i].SimilarityScore > best.SimilarityScore {
			best = &candidates[i]
		}
	}
	out := Outcome{Kind: New}
	if best == nil {
		return out
	}

	kept := candidates
	if p.MaxCandidates > 0 && len(kept) > p.MaxCandidates {
		kept = kept[:p.MaxCandidates]
	}
	b := *best
	out.Best = &b
	out.Candidates = append([]models.Candidate(nil), kept...)

	switch {
	case b.SimilarityScore >= p.Confident:
		out.Kind = Confident
	case b.SimilarityScore >= p.Uncertain:
		out.Kind = Uncertain
	}
	return out
}

// Query builds the candidate search for a record under this policy.
func (p Policy) Query(rec models.CanonicalRecord) Query {
	return Query{
		Title:         rec.Title,
		TitleEnglish:  rec.TitleEnglish,
		TitleJapanese: rec.TitleJapanese,
		ContentType:   rec.ContentType,
		Limit:         p.MaxCandidates,
		MinSimilarity: p.Uncertain,
	}
}
