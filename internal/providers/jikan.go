package providers

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"animehub/pkg/models"
)

const (
	JikanURL          = "https://api.jikan.moe/v4"
	JikanDefaultDelay = time.Second // Jikan allows 3 req/s but 60/min
	jikanMaxLimit     = 25
)

// Jikan reads MyAnimeList through the unofficial Jikan REST API.
type Jikan struct {
	c *httpClient
}

func NewJikan(opts ...Option) *Jikan {
	return &Jikan{c: newHTTPClient("jikan", JikanURL, JikanDefaultDelay, opts...)}
}

func (j *Jikan) Provider() models.Provider { return models.ProviderMAL }

type jikanProp struct {
	From PartialDate `json:"from"`
	To   PartialDate `json:"to"`
}

type jikanNamed struct {
	Name string `json:"name"`
}

type jikanItem struct {
	MalID         int64  `json:"mal_id"`
	Title         string `json:"title"`
	TitleEnglish  string `json:"title_english"`
	TitleJapanese string `json:"title_japanese"`
	Synopsis      string `json:"synopsis"`
	Images        struct {
		JPG struct {
			LargeImageURL string `json:"large_image_url"`
			ImageURL      string `json:"image_url"`
		} `json:"jpg"`
	} `json:"images"`
	Score      *float64 `json:"score"`
	Rank       *int     `json:"rank"`
	Popularity *int     `json:"popularity"`
	Favorites  *int     `json:"favorites"`
	Status     string   `json:"status"`
	Type       string   `json:"type"`
	Episodes   *int     `json:"episodes"`
	Duration   string   `json:"duration"`
	Chapters   *int     `json:"chapters"`
	Volumes    *int     `json:"volumes"`
	Season     string   `json:"season"`
	Year       *int     `json:"year"`
	Aired      struct {
		Prop jikanProp `json:"prop"`
	} `json:"aired"`
	Published struct {
		Prop jikanProp `json:"prop"`
	} `json:"published"`
	Genres  []jikanNamed `json:"genres"`
	Studios []jikanNamed `json:"studios"`
	Authors []jikanNamed `json:"authors"`
}

type jikanResponse struct {
	Data       []jikanItem `json:"data"`
	Pagination struct {
		LastVisiblePage int  `json:"last_visible_page"`
		HasNextPage     bool `json:"has_next_page"`
	} `json:"pagination"`
}

// FetchPage lists newest MAL ids first. UpdatedSince is not supported by Jikan and is ignored.
func (j *Jikan) FetchPage(ctx context.Context, q PageQuery) (*Page, error) {
	if !q.ContentType.Valid() {
		return nil, fmt.Errorf("jikan: unsupported content type %q", q.ContentType)
	}
	limit := q.PerPage
	if limit <= 0 || limit > jikanMaxLimit {
		limit = jikanMaxLimit
	}
	page := q.Page
	if page < 1 {
		page = 1
	}

	u, err := url.Parse(j.c.baseURL + "/" + string(q.ContentType))
	if err != nil {
		return nil, fmt.Errorf("jikan: build url: %w", err)
	}
	v := u.Query()
	v.Set("page", strconv.Itoa(page))
	v.Set("limit", strconv.Itoa(limit))
	v.Set("order_by", "mal_id")
	v.Set("sort", "desc")
	u.RawQuery = v.Encode()

	var resp jikanResponse
	if err := j.c.getJSON(ctx, u.String(), &resp); err != nil {
		return nil, err
	}

	out := &Page{
		Records:     make([]RawRecord, 0, len(resp.Data)),
		HasNextPage: resp.Pagination.HasNextPage,
		LastPage:    resp.Pagination.LastVisiblePage,
	}
	for _, it := range resp.Data {
		out.Records = append(out.Records, it.toRaw(q.ContentType))
	}
	return out, nil
}

var minutesRe = regexp.MustCompile(`(?:(\d+)\s*hr)?\s*(?:(\d+)\s*min)?`)

// parseDuration turns "1 hr 55 min" or "24 min per ep" into minutes.
func parseDuration(s string) *int {
	m := minutesRe.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	total := h*60 + mins
	if total <= 0 {
		return nil
	}
	return &total
}

func (it jikanItem) toRaw(ct models.ContentType) RawRecord {
	r := RawRecord{
		Provider:      models.ProviderMAL,
		ContentType:   ct,
		ID:            it.MalID,
		Title:         it.Title,
		TitleEnglish:  it.TitleEnglish,
		TitleJapanese: it.TitleJapanese,
		Description:   it.Synopsis,
		ImageURL:      firstTitle(it.Images.JPG.LargeImageURL, it.Images.JPG.ImageURL),
		Score:         it.Score,
		ScoreScale:    Scale10,
		Rank:          it.Rank,
		Popularity:    it.Popularity,
		Favorites:     it.Favorites,
		Status:        it.Status,
		Format:        it.Type,
		Season:        it.Season,
		SeasonYear:    it.Year,
		Episodes:      it.Episodes,
		Duration:      parseDuration(it.Duration),
		Chapters:      it.Chapters,
		Volumes:       it.Volumes,
	}
	prop := it.Aired.Prop
	if ct == models.ContentManga {
		prop = it.Published.Prop
	}
	r.StartDate, r.EndDate = prop.From, prop.To

	for _, g := range it.Genres {
		r.Genres = append(r.Genres, g.Name)
	}
	for _, s := range it.Studios {
		r.Studios = append(r.Studios, s.Name)
	}
	for _, a := range it.Authors {
		r.Staff = append(r.Staff, models.Credit{Name: a.Name})
	}
	return r
}
