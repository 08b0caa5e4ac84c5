package models

import (
	"fmt"
	"strings"
)

type ContentType string

const (
	ContentAnime ContentType = "anime"
	ContentManga ContentType = "manga"
)

func (c ContentType) Valid() bool {
	return c == ContentAnime || c == ContentManga
}

// ParseContentType accepts "anime" or "manga" in any case.
func ParseContentType(s string) (ContentType, error) {
	c := ContentType(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("invalid content type %q", s)
	}
	return c, nil
}

// Provider identifies an external catalog.
type Provider string

const (
	ProviderAniList Provider = "anilist"
	ProviderKitsu   Provider = "kitsu"
	ProviderMAL     Provider = "mal"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderAniList, ProviderKitsu, ProviderMAL:
		return true
	}
	return false
}

func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if p == "jikan" || p == "myanimelist" {
		p = ProviderMAL
	}
	if !p.Valid() {
		return "", fmt.Errorf("invalid provider %q", s)
	}
	return p, nil
}

// Credit is a named person attached to a manga with the role they had.
type Credit struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// CanonicalRecord is the normalized, internal form of one provider entry.
//
// Every catalog client maps its payload into a RawRecord, the normalizer
// turns that into a CanonicalRecord, and everything downstream (duplicate
// guard, matcher, pending queue, persistence) works on this shape only.
type CanonicalRecord struct {
	ContentType ContentType `json:"content_type"`
	Provider    Provider    `json:"provider"`
	ExternalID  int64       `json:"external_id"`

	// cross-provider ids the source itself carried (e.g. Kitsu → MAL mapping)
	AniListID *int64 `json:"anilist_id,omitempty"`
	MALID     *int64 `json:"mal_id,omitempty"`
	KitsuID   *int64 `json:"kitsu_id,omitempty"`

	Title         string   `json:"title"`
	TitleEnglish  string   `json:"title_english,omitempty"`
	TitleJapanese string   `json:"title_japanese,omitempty"`
	Synopsis      string   `json:"synopsis,omitempty"`
	ImageURL      string   `json:"image_url,omitempty"`
	Score         *float64 `json:"score,omitempty"` // 0-10
	Rank          *int     `json:"rank,omitempty"`
	Popularity    *int     `json:"popularity,omitempty"`
	Favorites     *int     `json:"favorites,omitempty"`
	Year          *int     `json:"year,omitempty"`

	Status    string  `json:"status,omitempty"`
	Format    string  `json:"format,omitempty"`
	StartDate *string `json:"start_date,omitempty"` // YYYY-MM-DD
	EndDate   *string `json:"end_date,omitempty"`

	// anime only
	Episodes        *int   `json:"episodes,omitempty"`
	Season          string `json:"season,omitempty"`
	SeasonYear      *int   `json:"season_year,omitempty"`
	DurationMinutes *int   `json:"duration_minutes,omitempty"`

	// manga only
	Chapters *int `json:"chapters,omitempty"`
	Volumes  *int `json:"volumes,omitempty"`

	Genres  []string `json:"genres,omitempty"`
	Studios []string `json:"studios,omitempty"`
	Authors []Credit `json:"authors,omitempty"`
}

// IDFor returns the id the record carries for the given provider, if any.
func (r CanonicalRecord) IDFor(p Provider) *int64 {
	if r.Provider == p && r.ExternalID != 0 {
		id := r.ExternalID
		return &id
	}
	switch p {
	case ProviderAniList:
		return r.AniListID
	case ProviderKitsu:
		return r.KitsuID
	case ProviderMAL:
		return r.MALID
	}
	return nil
}
