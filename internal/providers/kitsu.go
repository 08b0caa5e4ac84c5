package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"animehub/pkg/models"
)

const (
	KitsuURL          = "https://kitsu.io/api/edge"
	KitsuDefaultDelay = 250 * time.Millisecond
	kitsuMaxLimit     = 20
)

// Kitsu pages the JSON:API listing newest-updated first.
type Kitsu struct {
	c *httpClient
}

func NewKitsu(opts ...Option) *Kitsu {
	return &Kitsu{c: newHTTPClient(string(models.ProviderKitsu), KitsuURL, KitsuDefaultDelay, opts...)}
}

func (k *Kitsu) Provider() models.Provider { return models.ProviderKitsu }

type jsonAPIRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type kitsuResource struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		CanonicalTitle string            `json:"canonicalTitle"`
		Titles         map[string]string `json:"titles"`
		Synopsis       string            `json:"synopsis"`
		AverageRating  string            `json:"averageRating"`
		RatingRank     *int              `json:"ratingRank"`
		PopularityRank *int              `json:"popularityRank"`
		FavoritesCount *int              `json:"favoritesCount"`
		StartDate      string            `json:"startDate"`
		EndDate        string            `json:"endDate"`
		Status         string            `json:"status"`
		Subtype        string            `json:"subtype"`
		EpisodeCount   *int              `json:"episodeCount"`
		EpisodeLength  *int              `json:"episodeLength"`
		ChapterCount   *int              `json:"chapterCount"`
		VolumeCount    *int              `json:"volumeCount"`
		PosterImage    *struct {
			Original string `json:"original"`
			Large    string `json:"large"`
		} `json:"posterImage"`
		UpdatedAt time.Time `json:"updatedAt"`

		// included resources
		Title        string `json:"title"`
		Name         string `json:"name"`
		Role         string `json:"role"`
		ExternalSite string `json:"externalSite"`
		ExternalID   string `json:"externalId"`
	} `json:"attributes"`
	Relationships map[string]jsonAPIRelationship `json:"relationships"`
}

// jsonAPIRelationship accepts both to-one and to-many linkage.
type jsonAPIRelationship struct {
	Data jsonAPIData `json:"data"`
}

type jsonAPIData []jsonAPIRef

func (d *jsonAPIData) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null" || s == "":
		*d = nil
		return nil
	case strings.HasPrefix(s, "["):
		var many []jsonAPIRef
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}
		*d = many
		return nil
	default:
		var one jsonAPIRef
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*d = []jsonAPIRef{one}
		return nil
	}
}

type kitsuResponse struct {
	Data     []kitsuResource `json:"data"`
	Included []kitsuResource `json:"included"`
	Links    struct {
		Next string `json:"next"`
		Last string `json:"last"`
	} `json:"links"`
	Meta struct {
		Count int `json:"count"`
	} `json:"meta"`
}

func (k *Kitsu) FetchPage(ctx context.Context, q PageQuery) (*Page, error) {
	if !q.ContentType.Valid() {
		return nil, fmt.Errorf("kitsu: unsupported content type %q", q.ContentType)
	}
	limit := q.PerPage
	if limit <= 0 || limit > kitsuMaxLimit {
		limit = kitsuMaxLimit
	}
	page := q.Page
	if page < 1 {
		page = 1
	}

	include := "categories,mappings,animeProductions.producer"
	if q.ContentType == models.ContentManga {
		include = "categories,mappings,staff.person"
	}

	u, err := url.Parse(k.c.baseURL + "/" + string(q.ContentType))
	if err != nil {
		return nil, fmt.Errorf("kitsu: build url: %w", err)
	}
	v := u.Query()
	v.Set("page[limit]", strconv.Itoa(limit))
	v.Set("page[offset]", strconv.Itoa((page-1)*limit))
	v.Set("sort", "-updatedAt")
	v.Set("include", include)
	u.RawQuery = v.Encode()

	var resp kitsuResponse
	if err := k.c.getJSON(ctx, u.String(), &resp); err != nil {
		return nil, err
	}

	inc := make(map[string]kitsuResource, len(resp.Included))
	for _, r := range resp.Included {
		inc[r.Type+"/"+r.ID] = r
	}

	out := &Page{HasNextPage: resp.Links.Next != ""}
	if resp.Meta.Count > 0 {
		out.LastPage = (resp.Meta.Count + limit - 1) / limit
	}
	for _, d := range resp.Data {
		if !q.UpdatedSince.IsZero() && d.Attributes.UpdatedAt.Before(q.UpdatedSince) {
			// sorted newest first: everything after this is older too
			out.HasNextPage = false
			break
		}
		rec, err := kitsuToRaw(d, inc, q.ContentType)
		if err != nil {
			continue
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

func kitsuToRaw(d kitsuResource, inc map[string]kitsuResource, ct models.ContentType) (RawRecord, error) {
	id, err := strconv.ParseInt(d.ID, 10, 64)
	if err != nil {
		return RawRecord{}, fmt.Errorf("kitsu: bad id %q", d.ID)
	}
	a := d.Attributes
	r := RawRecord{
		Provider:      models.ProviderKitsu,
		ContentType:   ct,
		ID:            id,
		Title:         firstTitle(a.CanonicalTitle, a.Titles["en_jp"]),
		TitleEnglish:  firstTitle(a.Titles["en"], a.Titles["en_us"]),
		TitleJapanese: a.Titles["ja_jp"],
		Description:   a.Synopsis,
		Rank:          a.RatingRank,
		Popularity:    a.PopularityRank,
		Favorites:     a.FavoritesCount,
		Status:        a.Status,
		Format:        a.Subtype,
		StartDate:     parseISODate(a.StartDate),
		EndDate:       parseISODate(a.EndDate),
		Episodes:      a.EpisodeCount,
		Duration:      a.EpisodeLength,
		Chapters:      a.ChapterCount,
		Volumes:       a.VolumeCount,
		ScoreScale:    Scale100,
		UpdatedAt:     a.UpdatedAt,
	}
	if a.PosterImage != nil {
		r.ImageURL = firstTitle(a.PosterImage.Large, a.PosterImage.Original)
	}
	if s, err := strconv.ParseFloat(strings.TrimSpace(a.AverageRating), 64); err == nil {
		r.Score = &s
	}

	for _, ref := range d.Relationships["categories"].Data {
		if c, ok := inc[ref.Type+"/"+ref.ID]; ok {
			r.Genres = append(r.Genres, c.Attributes.Title)
		}
	}
	for _, ref := range d.Relationships["mappings"].Data {
		m, ok := inc[ref.Type+"/"+ref.ID]
		if !ok {
			continue
		}
		ext, err := strconv.ParseInt(m.Attributes.ExternalID, 10, 64)
		if err != nil {
			continue
		}
		switch m.Attributes.ExternalSite {
		case "myanimelist/anime", "myanimelist/manga":
			r.MALID = &ext
		case "anilist/anime", "anilist/manga", "anilist":
			r.AniListID = &ext
		}
	}
	for _, ref := range d.Relationships["animeProductions"].Data {
		p, ok := inc[ref.Type+"/"+ref.ID]
		if !ok || !strings.EqualFold(p.Attributes.Role, "studio") {
			continue
		}
		for _, pr := range p.Relationships["producer"].Data {
			if prod, ok := inc[pr.Type+"/"+pr.ID]; ok {
				r.Studios = append(r.Studios, prod.Attributes.Name)
			}
		}
	}
	for _, ref := range d.Relationships["staff"].Data {
		s, ok := inc[ref.Type+"/"+ref.ID]
		if !ok {
			continue
		}
		for _, pr := range s.Relationships["person"].Data {
			if person, ok := inc[pr.Type+"/"+pr.ID]; ok {
				r.Staff = append(r.Staff, models.Credit{Name: person.Attributes.Name, Role: s.Attributes.Role})
			}
		}
	}
	return r, nil
}

func firstTitle(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// parseISODate splits "YYYY-MM-DD" (or a prefix of it) into a PartialDate.
func parseISODate(s string) PartialDate {
	var d PartialDate
	parts := strings.SplitN(strings.TrimSpace(s), "-", 3)
	if len(parts) == 0 || parts[0] == "" {
		return d
	}
	fields := []**int{&d.Year, &d.Month, &d.Day}
	for i, p := range parts {
		if len(p) > 2 && i == 2 {
			p = p[:2] // tolerate a trailing time part
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			break
		}
		*fields[i] = intPtr(n)
	}
	return d
}
