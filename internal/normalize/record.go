package normalize

import (
	"errors"
	"fmt"
	"strings"

	"animehub/internal/providers"
	"animehub/pkg/models"
)

var ErrInvalidRecord = errors.New("invalid record")

// Record turns one provider record into its canonical form.
func Record(rec providers.RawRecord) (models.CanonicalRecord, error) {
	if !rec.ContentType.Valid() {
		return models.CanonicalRecord{}, fmt.Errorf("%w: content type %q", ErrInvalidRecord, rec.ContentType)
	}
	if rec.ID <= 0 {
		return models.CanonicalRecord{}, fmt.Errorf("%w: missing %s id", ErrInvalidRecord, rec.Provider)
	}

	title := firstNonEmpty(rec.Title, rec.TitleEnglish, rec.TitleJapanese)
	if title == "" {
		return models.CanonicalRecord{}, fmt.Errorf("%w: %s %d has no title", ErrInvalidRecord, rec.Provider, rec.ID)
	}

	out := models.CanonicalRecord{
		ContentType:   rec.ContentType,
		Provider:      rec.Provider,
		ExternalID:    rec.ID,
		AniListID:     rec.AniListID,
		MALID:         rec.MALID,
		KitsuID:       rec.KitsuID,
		Title:         title,
		TitleEnglish:  strings.TrimSpace(rec.TitleEnglish),
		TitleJapanese: strings.TrimSpace(rec.TitleJapanese),
		Synopsis:      Synopsis(rec.Description),
		ImageURL:      strings.TrimSpace(rec.ImageURL),
		Score:         Score(rec.Score, rec.ScoreScale),
		Rank:          positive(rec.Rank),
		Popularity:    positive(rec.Popularity),
		Favorites:     nonNegative(rec.Favorites),
		Status:        Status(rec.Status),
		Format:        strings.TrimSpace(rec.Format),
		StartDate:     Date(rec.StartDate),
		EndDate:       Date(rec.EndDate),
		Genres:        Names(rec.Genres),
	}
	// the record's own id always wins over a cross-reference to itself
	switch rec.Provider {
	case models.ProviderAniList:
		out.AniListID = nil
	case models.ProviderKitsu:
		out.KitsuID = nil
	case models.ProviderMAL:
		out.MALID = nil
	}

	out.Year = Year(rec.StartDate)
	if out.Year == nil && rec.SeasonYear != nil {
		out.Year = Year(providers.PartialDate{Year: rec.SeasonYear})
	}

	switch rec.ContentType {
	case models.ContentAnime:
		out.Episodes = nonNegative(rec.Episodes)
		out.DurationMinutes = positive(rec.Duration)
		out.Season = strings.ToUpper(strings.TrimSpace(rec.Season))
		out.SeasonYear = rec.SeasonYear
		out.Studios = Names(rec.Studios)
	case models.ContentManga:
		out.Chapters = nonNegative(rec.Chapters)
		out.Volumes = nonNegative(rec.Volumes)
		out.Authors = credits(rec.Staff)
	}
	return out, nil
}

func credits(in []models.Credit) []models.Credit {
	seen := make(map[string]struct{}, len(in))
	var out []models.Credit
	for _, c := range in {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, models.Credit{Name: name, Role: strings.TrimSpace(c.Role)})
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func positive(v *int) *int {
	if v == nil || *v <= 0 {
		return nil
	}
	n := *v
	return &n
}

func nonNegative(v *int) *int {
	if v == nil || *v < 0 {
		return nil
	}
	n := *v
	return &n
}
