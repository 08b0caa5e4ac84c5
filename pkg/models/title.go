package models

import "time"

type Title struct {
	ID            string      `json:"id"`
	ContentType   ContentType `json:"content_type"`
	AniListID     *int64      `json:"anilist_id,omitempty"`
	MALID         *int64      `json:"mal_id,omitempty"`
	KitsuID       *int64      `json:"kitsu_id,omitempty"`
	Title         string      `json:"title"`
	TitleEnglish  string      `json:"title_english,omitempty"`
	TitleJapanese string      `json:"title_japanese,omitempty"`
	Synopsis      string      `json:"synopsis,omitempty"`
	ImageURL      string      `json:"image_url,omitempty"`
	Score         *float64    `json:"score,omitempty"`
	Rank          *int        `json:"rank,omitempty"`
	Popularity    *int        `json:"popularity,omitempty"`
	Favorites     *int        `json:"favorites,omitempty"`
	Year          *int        `json:"year,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`

	Anime   *AnimeDetail `json:"anime,omitempty"`
	Manga   *MangaDetail `json:"manga,omitempty"`
	Genres  []string     `json:"genres,omitempty"`
	Studios []string     `json:"studios,omitempty"`
	Authors []Credit     `json:"authors,omitempty"`
}

// IDFor returns the title's id for the given provider.
func (t Title) IDFor(p Provider) *int64 {
	switch p {
	case ProviderAniList:
		return t.AniListID
	case ProviderKitsu:
		return t.KitsuID
	case ProviderMAL:
		return t.MALID
	}
	return nil
}

type AnimeDetail struct {
	TitleID         string  `json:"-"`
	Episodes        *int    `json:"episodes,omitempty"`
	Status          string  `json:"status,omitempty"`
	Format          string  `json:"format,omitempty"`
	Season          string  `json:"season,omitempty"`
	SeasonYear      *int    `json:"season_year,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	AiredFrom       *string `json:"aired_from,omitempty"`
	AiredTo         *string `json:"aired_to,omitempty"`
}

type MangaDetail struct {
	TitleID       string  `json:"-"`
	Chapters      *int    `json:"chapters,omitempty"`
	Volumes       *int    `json:"volumes,omitempty"`
	Status        string  `json:"status,omitempty"`
	Format        string  `json:"format,omitempty"`
	PublishedFrom *string `json:"published_from,omitempty"`
	PublishedTo   *string `json:"published_to,omitempty"`
}
