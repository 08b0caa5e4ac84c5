// Package catalogcsv reads the titles CSV written by export-csv back into
// canonical records, so a catalog can be seeded without calling any provider.
package catalogcsv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"animehub/pkg/models"
)

var ErrNoExternalID = errors.New("row carries no anilist, mal or kitsu id")

// RowError is a row that could not be turned into a record. Reading can
// continue after it.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }
func (e *RowError) Unwrap() error { return e.Err }

type Reader struct {
	r      *csv.Reader
	header map[string]int
}

// NewReader consumes the header row.
func NewReader(in io.Reader) (*Reader, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1

	row, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header := make(map[string]int, len(row))
	for idx, name := range row {
		header[strings.TrimSpace(strings.ToLower(name))] = idx
	}
	for _, required := range []string{"content_type", "title"} {
		if _, ok := header[required]; !ok {
			return nil, fmt.Errorf("header misses column %q", required)
		}
	}
	return &Reader{r: r, header: header}, nil
}

// Next returns the next record, io.EOF at the end, or a *RowError for a bad row.
func (rd *Reader) Next() (models.CanonicalRecord, error) {
	for {
		row, err := rd.r.Read()
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return models.CanonicalRecord{}, &RowError{Line: pe.Line, Err: err}
			}
			return models.CanonicalRecord{}, err
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		line, _ := rd.r.FieldPos(0)
		rec, err := rd.record(row)
		if err != nil {
			return models.CanonicalRecord{}, &RowError{Line: line, Err: err}
		}
		return rec, nil
	}
}

func (rd *Reader) record(row []string) (models.CanonicalRecord, error) {
	var rec models.CanonicalRecord
	ct, err := models.ParseContentType(rd.value(row, "content_type"))
	if err != nil {
		return rec, err
	}
	rec.ContentType = ct
	rec.Title = rd.value(row, "title")
	if rec.Title == "" {
		return rec, errors.New("empty title")
	}
	rec.TitleEnglish = rd.value(row, "title_english")
	rec.TitleJapanese = rd.value(row, "title_japanese")
	rec.Status = rd.value(row, "status")
	rec.Format = rd.value(row, "format")

	if rec.AniListID, err = rd.int64At(row, "anilist_id"); err != nil {
		return rec, err
	}
	if rec.MALID, err = rd.int64At(row, "mal_id"); err != nil {
		return rec, err
	}
	if rec.KitsuID, err = rd.int64At(row, "kitsu_id"); err != nil {
		return rec, err
	}
	switch {
	case rec.AniListID != nil:
		rec.Provider, rec.ExternalID = models.ProviderAniList, *rec.AniListID
	case rec.MALID != nil:
		rec.Provider, rec.ExternalID = models.ProviderMAL, *rec.MALID
	case rec.KitsuID != nil:
		rec.Provider, rec.ExternalID = models.ProviderKitsu, *rec.KitsuID
	default:
		return rec, ErrNoExternalID
	}

	if s := rd.value(row, "score"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return rec, fmt.Errorf("score: %w", err)
		}
		if f > 0 {
			rec.Score = &f
		}
	}
	for col, dst := range map[string]**int{
		"year": &rec.Year, "episodes": &rec.Episodes, "chapters": &rec.Chapters, "volumes": &rec.Volumes,
	} {
		if *dst, err = rd.intAt(row, col); err != nil {
			return rec, err
		}
	}
	if ct == models.ContentAnime {
		rec.Chapters, rec.Volumes = nil, nil
	} else {
		rec.Episodes = nil
	}

	if g := rd.value(row, "genres"); g != "" {
		for _, name := range strings.Split(g, ";") {
			if name = strings.TrimSpace(name); name != "" {
				rec.Genres = append(rec.Genres, name)
			}
		}
	}
	return rec, nil
}

func (rd *Reader) value(row []string, key string) string {
	idx, ok := rd.header[key]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func (rd *Reader) int64At(row []string, key string) (*int64, error) {
	raw := rd.value(row, key)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return nil, nil
	}
	return &n, nil
}

func (rd *Reader) intAt(row []string, key string) (*int, error) {
	n, err := rd.int64At(row, key)
	if err != nil || n == nil {
		return nil, err
	}
	v := int(*n)
	return &v, nil
}
