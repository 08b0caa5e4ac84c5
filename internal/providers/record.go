package providers

import (
	"context"
	"time"

	"animehub/pkg/models"
)

// PartialDate is a provider date where any part may be missing.
type PartialDate struct {
	Year  *int `json:"year,omitempty"`
	Month *int `json:"month,omitempty"`
	Day   *int `json:"day,omitempty"`
}

type ScoreScale int

const (
	Scale10 ScoreScale = iota
	Scale100
)

// RawRecord is what every catalog client maps its payload into before normalization.
type RawRecord struct {
	Provider    models.Provider
	ContentType models.ContentType
	ID          int64

	AniListID *int64
	MALID     *int64
	KitsuID   *int64

	Title         string // romaji / canonical
	TitleEnglish  string
	TitleJapanese string

	Description string // may contain HTML
	ImageURL    string

	Score      *float64
	ScoreScale ScoreScale
	Rank       *int
	Popularity *int
	Favorites  *int

	Status    string
	Format    string
	StartDate PartialDate
	EndDate   PartialDate

	Season     string
	SeasonYear *int
	Episodes   *int
	Duration   *int // minutes per episode

	Chapters *int
	Volumes  *int

	Genres  []string
	Studios []string
	Staff   []models.Credit

	UpdatedAt time.Time
}

// PageQuery selects one page of a provider listing.
type PageQuery struct {
	ContentType models.ContentType
	Page        int
	PerPage     int

	// AniList: resume by id instead of popularity order.
	StartFromID *int64
	// Kitsu: only records updated at or after this instant. Zero means no cut-off.
	UpdatedSince time.Time
}

type Page struct {
	Records     []RawRecord
	HasNextPage bool
	LastPage    int
}

// Source is implemented by each external catalog.
type Source interface {
	Provider() models.Provider
	FetchPage(ctx context.Context, q PageQuery) (*Page, error)
}
