package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"animehub/pkg/models"
)

const (
	AniListURL          = "https://graphql.anilist.co"
	AniListDefaultDelay = 700 * time.Millisecond // ~85 req/min, under the 90/min budget
	aniListMaxPerPage   = 50
)

const aniListQuery = `query ($page: Int, $perPage: Int, $type: MediaType, $sort: [MediaSort], $idGreater: Int) {
  Page(page: $page, perPage: $perPage) {
    pageInfo { currentPage lastPage hasNextPage }
    media(type: $type, sort: $sort, id_greater: $idGreater) {
      id
      idMal
      title { romaji english native }
      description
      coverImage { large }
      averageScore
      popularity
      favourites
      status
      format
      episodes
      duration
      chapters
      volumes
      season
      seasonYear
      startDate { year month day }
      endDate { year month day }
      genres
      studios(isMain: true) { nodes { name } }
      staff(perPage: 6) { edges { role node { name { full } } } }
      rankings { rank type allTime }
      updatedAt
    }
  }
}`

// AniList pages the GraphQL Page(media) listing.
type AniList struct {
	c *httpClient
}

func NewAniList(opts ...Option) *AniList {
	return &AniList{c: newHTTPClient(string(models.ProviderAniList), AniListURL, AniListDefaultDelay, opts...)}
}

func (a *AniList) Provider() models.Provider { return models.ProviderAniList }

type alDate struct {
	Year  *int `json:"year"`
	Month *int `json:"month"`
	Day   *int `json:"day"`
}

type alMedia struct {
	ID    int64  `json:"id"`
	IDMal *int64 `json:"idMal"`
	Title struct {
		Romaji  string `json:"romaji"`
		English string `json:"english"`
		Native  string `json:"native"`
	} `json:"title"`
	Description string `json:"description"`
	CoverImage  struct {
		Large string `json:"large"`
	} `json:"coverImage"`
	AverageScore *float64 `json:"averageScore"`
	Popularity   *int     `json:"popularity"`
	Favourites   *int     `json:"favourites"`
	Status       string   `json:"status"`
	Format       string   `json:"format"`
	Episodes     *int     `json:"episodes"`
	Duration     *int     `json:"duration"`
	Chapters     *int     `json:"chapters"`
	Volumes      *int     `json:"volumes"`
	Season       string   `json:"season"`
	SeasonYear   *int     `json:"seasonYear"`
	StartDate    alDate   `json:"startDate"`
	EndDate      alDate   `json:"endDate"`
	Genres       []string `json:"genres"`
	Studios      struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"studios"`
	Staff struct {
		Edges []struct {
			Role string `json:"role"`
			Node struct {
				Name struct {
					Full string `json:"full"`
				} `json:"name"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"staff"`
	Rankings []struct {
		Rank    int    `json:"rank"`
		Type    string `json:"type"`
		AllTime bool   `json:"allTime"`
	} `json:"rankings"`
	UpdatedAt int64 `json:"updatedAt"`
}

type alResponse struct {
	Data struct {
		Page struct {
			PageInfo struct {
				CurrentPage int  `json:"currentPage"`
				LastPage    int  `json:"lastPage"`
				HasNextPage bool `json:"hasNextPage"`
			} `json:"pageInfo"`
			Media []alMedia `json:"media"`
		} `json:"Page"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"errors"`
}

// GraphQLError is an errors[] array returned with an otherwise successful response.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "anilist: graphql: " + strings.Join(e.Messages, "; ")
}

func (a *AniList) FetchPage(ctx context.Context, q PageQuery) (*Page, error) {
	mediaType, err := aniListType(q.ContentType)
	if err != nil {
		return nil, err
	}
	perPage := q.PerPage
	if perPage <= 0 || perPage > aniListMaxPerPage {
		perPage = aniListMaxPerPage
	}
	page := q.Page
	if page < 1 {
		page = 1
	}

	vars := map[string]any{
		"page":    page,
		"perPage": perPage,
		"type":    mediaType,
		"sort":    []string{"POPULARITY_DESC"},
	}
	if q.StartFromID != nil {
		vars["sort"] = []string{"ID"}
		vars["idGreater"] = *q.StartFromID
	}

	var resp alResponse
	payload := map[string]any{"query": aniListQuery, "variables": vars}
	if err := a.c.postJSON(ctx, "", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, &GraphQLError{Messages: msgs}
	}

	p := resp.Data.Page
	out := &Page{
		Records:     make([]RawRecord, 0, len(p.Media)),
		HasNextPage: p.PageInfo.HasNextPage,
		LastPage:    p.PageInfo.LastPage,
	}
	for _, m := range p.Media {
		out.Records = append(out.Records, m.toRaw(q.ContentType))
	}
	return out, nil
}

func aniListType(c models.ContentType) (string, error) {
	switch c {
	case models.ContentAnime:
		return "ANIME", nil
	case models.ContentManga:
		return "MANGA", nil
	}
	return "", fmt.Errorf("anilist: unsupported content type %q", c)
}

func (m alMedia) toRaw(ct models.ContentType) RawRecord {
	r := RawRecord{
		Provider:      models.ProviderAniList,
		ContentType:   ct,
		ID:            m.ID,
		MALID:         m.IDMal,
		Title:         m.Title.Romaji,
		TitleEnglish:  m.Title.English,
		TitleJapanese: m.Title.Native,
		Description:   m.Description,
		ImageURL:      m.CoverImage.Large,
		Score:         m.AverageScore,
		ScoreScale:    Scale100,
		Popularity:    m.Popularity,
		Favorites:     m.Favourites,
		Status:        m.Status,
		Format:        m.Format,
		StartDate:     PartialDate(m.StartDate),
		EndDate:       PartialDate(m.EndDate),
		Season:        m.Season,
		SeasonYear:    m.SeasonYear,
		Episodes:      m.Episodes,
		Duration:      m.Duration,
		Chapters:      m.Chapters,
		Volumes:       m.Volumes,
		Genres:        m.Genres,
	}
	if m.UpdatedAt > 0 {
		r.UpdatedAt = time.Unix(m.UpdatedAt, 0).UTC()
	}
	for _, rk := range m.Rankings {
		if rk.AllTime && rk.Type == "RATED" {
			r.Rank = intPtr(rk.Rank)
			break
		}
	}
	for _, s := range m.Studios.Nodes {
		r.Studios = append(r.Studios, s.Name)
	}
	for _, e := range m.Staff.Edges {
		r.Staff = append(r.Staff, models.Credit{Name: e.Node.Name.Full, Role: e.Role})
	}
	return r
}
