package titles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"animehub/internal/relations"
	"animehub/pkg/models"
)

var (
	ErrNotFound = errors.New("title not found")
	// ErrConflict means the title already carries a different id for the provider.
	ErrConflict = errors.New("external id conflict")
)

type Repo struct {
	DB *sql.DB
}

type ListQuery struct {
	Q           string // keyword search across title variants
	ContentType models.ContentType
	Status      string
	Genre       string
	Limit       int
	Offset      int
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

func idColumn(p models.Provider) (string, error) {
	switch p {
	case models.ProviderAniList:
		return "anilist_id", nil
	case models.ProviderKitsu:
		return "kitsu_id", nil
	case models.ProviderMAL:
		return "mal_id", nil
	}
	return "", fmt.Errorf("unknown provider %q", p)
}

const titleColumns = `id, content_type, anilist_id, mal_id, kitsu_id, title, title_english, title_japanese,
	synopsis, image_url, score, rank, popularity, favorites, year, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTitle(s scanner) (*models.Title, error) {
	var (
		t                           models.Title
		anilistID, malID, kitsuID   sql.NullInt64
		english, japanese, synopsis sql.NullString
		imageURL                    sql.NullString
		score                       sql.NullFloat64
		rank, popularity, favs      sql.NullInt64
		year                        sql.NullInt64
	)
	if err := s.Scan(
		&t.ID, &t.ContentType, &anilistID, &malID, &kitsuID, &t.Title, &english, &japanese,
		&synopsis, &imageURL, &score, &rank, &popularity, &favs, &year, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.AniListID = int64Ptr(anilistID)
	t.MALID = int64Ptr(malID)
	t.KitsuID = int64Ptr(kitsuID)
	t.TitleEnglish = english.String
	t.TitleJapanese = japanese.String
	t.Synopsis = synopsis.String
	t.ImageURL = imageURL.String
	if score.Valid {
		v := score.Float64
		t.Score = &v
	}
	t.Rank = intPtr(rank)
	t.Popularity = intPtr(popularity)
	t.Favorites = intPtr(favs)
	t.Year = intPtr(year)
	return &t, nil
}

// FindByExternalID is the duplicate guard: it returns the title of this content
// type already holding the provider id, or nil.
func (r *Repo) FindByExternalID(ctx context.Context, ct models.ContentType, p models.Provider, externalID int64) (*models.Title, error) {
	return findByExternalID(ctx, r.DB, ct, p, externalID)
}

func findByExternalID(ctx context.Context, q relations.Querier, ct models.ContentType, p models.Provider, externalID int64) (*models.Title, error) {
	col, err := idColumn(p)
	if err != nil {
		return nil, err
	}
	row := q.QueryRowContext(ctx,
		`SELECT `+titleColumns+` FROM titles WHERE content_type = ? AND `+col+` = ?`, ct, externalID)
	t, err := scanTitle(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find by %s: %w", col, err)
	}
	return t, nil
}

// FindExisting checks the record's own provider id first, then every
// cross-provider id it carries.
func (r *Repo) FindExisting(ctx context.Context, rec models.CanonicalRecord) (*models.Title, error) {
	order := []models.Provider{rec.Provider, models.ProviderAniList, models.ProviderMAL, models.ProviderKitsu}
	seen := map[models.Provider]bool{}
	for _, p := range order {
		if seen[p] {
			continue
		}
		seen[p] = true
		id := rec.IDFor(p)
		if id == nil {
			continue
		}
		t, err := r.FindByExternalID(ctx, rec.ContentType, p, *id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return t, nil
		}
	}
	return nil, nil
}

// Create inserts Title, Detail and relations in one transaction.
func (r *Repo) Create(ctx context.Context, rec models.CanonicalRecord) (*models.Title, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create title: %w", err)
	}
	defer tx.Rollback()

	id, err := InsertTx(ctx, tx, rec)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create title: %w", err)
	}
	return r.GetByID(ctx, id)
}

// InsertTx writes a new Title with its Detail row and relations inside tx and returns the new id.
func InsertTx(ctx context.Context, tx *sql.Tx, rec models.CanonicalRecord) (string, error) {
	if !rec.ContentType.Valid() {
		return "", fmt.Errorf("insert title: invalid content type %q", rec.ContentType)
	}
	now := time.Now().UTC()
	id := uuid.NewString()

	_, err := tx.ExecContext(ctx, `
		INSERT INTO titles (`+titleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id, rec.ContentType,
		rec.IDFor(models.ProviderAniList), rec.IDFor(models.ProviderMAL), rec.IDFor(models.ProviderKitsu),
		rec.Title, nullString(rec.TitleEnglish), nullString(rec.TitleJapanese),
		nullString(rec.Synopsis), nullString(rec.ImageURL),
		rec.Score, rec.Rank, rec.Popularity, rec.Favorites, rec.Year, now, now,
	)
	if isUniqueViolation(err) {
		return "", fmt.Errorf("%w: insert title %s/%d: %v", ErrConflict, rec.Provider, rec.ExternalID, err)
	}
	if err != nil {
		return "", fmt.Errorf("insert title %s/%d: %w", rec.Provider, rec.ExternalID, err)
	}

	if err := upsertDetail(ctx, tx, id, rec); err != nil {
		return "", err
	}
	if err := relations.Resolve(ctx, tx, id, rec); err != nil {
		return "", err
	}
	return id, nil
}

func upsertDetail(ctx context.Context, tx *sql.Tx, titleID string, rec models.CanonicalRecord) error {
	var err error
	switch rec.ContentType {
	case models.ContentAnime:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO anime_details (title_id, episodes, status, format, season, season_year, duration_minutes, aired_from, aired_to)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(title_id) DO UPDATE SET
			  episodes = COALESCE(excluded.episodes, episodes),
			  status = COALESCE(excluded.status, status),
			  format = COALESCE(excluded.format, format),
			  season = COALESCE(excluded.season, season),
			  season_year = COALESCE(excluded.season_year, season_year),
			  duration_minutes = COALESCE(excluded.duration_minutes, duration_minutes),
			  aired_from = COALESCE(excluded.aired_from, aired_from),
			  aired_to = COALESCE(excluded.aired_to, aired_to)
		`, titleID, rec.Episodes, nullString(rec.Status), nullString(rec.Format), nullString(rec.Season),
			rec.SeasonYear, rec.DurationMinutes, rec.StartDate, rec.EndDate)
	case models.ContentManga:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO manga_details (title_id, chapters, volumes, status, format, published_from, published_to)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(title_id) DO UPDATE SET
			  chapters = COALESCE(excluded.chapters, chapters),
			  volumes = COALESCE(excluded.volumes, volumes),
			  status = COALESCE(excluded.status, status),
			  format = COALESCE(excluded.format, format),
			  published_from = COALESCE(excluded.published_from, published_from),
			  published_to = COALESCE(excluded.published_to, published_to)
		`, titleID, rec.Chapters, rec.Volumes, nullString(rec.Status), nullString(rec.Format), rec.StartDate, rec.EndDate)
	default:
		return fmt.Errorf("upsert detail: invalid content type %q", rec.ContentType)
	}
	if err != nil {
		return fmt.Errorf("upsert %s detail for %s: %w", rec.ContentType, titleID, err)
	}
	return nil
}

// ApplyUpdate refreshes the mutable fields, detail row and relations of an
// existing title from rec. With attach set, the record's provider id is stored
// on the title too; a title that already holds a different id for that provider
// yields ErrConflict and nothing is written.
func (r *Repo) ApplyUpdate(ctx context.Context, titleID string, rec models.CanonicalRecord, attach bool) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update title: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE titles SET
		  score = COALESCE(?, score),
		  rank = COALESCE(?, rank),
		  popularity = COALESCE(?, popularity),
		  favorites = COALESCE(?, favorites),
		  updated_at = ?
		WHERE id = ?
	`, rec.Score, rec.Rank, rec.Popularity, rec.Favorites, time.Now().UTC(), titleID)
	if err != nil {
		return fmt.Errorf("update title %s: %w", titleID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if attach {
		if err := AttachExternalIDTx(ctx, tx, titleID, rec.ContentType, rec.Provider, rec.ExternalID); err != nil {
			return err
		}
	}
	if err := attachCrossIDs(ctx, tx, titleID, rec); err != nil {
		return err
	}
	if err := upsertDetail(ctx, tx, titleID, rec); err != nil {
		return err
	}
	if err := relations.Resolve(ctx, tx, titleID, rec); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update title: %w", err)
	}
	return nil
}

// AttachExternalIDTx stores a provider id on a title of the same content type.
// Re-attaching the same id is a no-op.
func AttachExternalIDTx(ctx context.Context, tx *sql.Tx, titleID string, ct models.ContentType, p models.Provider, externalID int64) error {
	col, err := idColumn(p)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE titles SET `+col+` = ?, updated_at = ? WHERE id = ? AND content_type = ? AND (`+col+` IS NULL OR `+col+` = ?)`,
		externalID, time.Now().UTC(), titleID, ct, externalID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s %d belongs to another title", ErrConflict, col, externalID)
	}
	if err != nil {
		return fmt.Errorf("attach %s %d to %s: %w", col, externalID, titleID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("attach rows: %w", err)
	}
	if n == 0 {
		var have models.ContentType
		err := tx.QueryRowContext(ctx, `SELECT content_type FROM titles WHERE id = ?`, titleID).Scan(&have)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("attach lookup: %w", err)
		}
		if have != ct {
			return fmt.Errorf("%w: title %s is %s, not %s", ErrConflict, titleID, have, ct)
		}
		return fmt.Errorf("%w: title %s already has a different %s", ErrConflict, titleID, col)
	}
	return nil
}

// attachCrossIDs fills empty provider columns from ids the record carried,
// skipping any id another title already owns.
func attachCrossIDs(ctx context.Context, tx *sql.Tx, titleID string, rec models.CanonicalRecord) error {
	for _, p := range []models.Provider{models.ProviderAniList, models.ProviderMAL, models.ProviderKitsu} {
		if p == rec.Provider {
			continue
		}
		id := rec.IDFor(p)
		if id == nil {
			continue
		}
		col, _ := idColumn(p)
		if _, err := tx.ExecContext(ctx, `
			UPDATE titles SET `+col+` = ?
			WHERE id = ? AND `+col+` IS NULL
			  AND NOT EXISTS (SELECT 1 FROM titles o WHERE o.content_type = ? AND o.`+col+` = ?)
		`, *id, titleID, rec.ContentType, *id); err != nil {
			return fmt.Errorf("attach cross id %s: %w", col, err)
		}
	}
	return nil
}

// BackfillTx fills empty localized titles, synopsis and image from rec.
func BackfillTx(ctx context.Context, tx *sql.Tx, titleID string, rec models.CanonicalRecord) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE titles SET
		  title_english = COALESCE(NULLIF(title_english, ''), ?),
		  title_japanese = COALESCE(NULLIF(title_japanese, ''), ?),
		  synopsis = COALESCE(NULLIF(synopsis, ''), ?),
		  image_url = COALESCE(NULLIF(image_url, ''), ?),
		  updated_at = ?
		WHERE id = ?
	`, nullString(rec.TitleEnglish), nullString(rec.TitleJapanese), nullString(rec.Synopsis),
		nullString(rec.ImageURL), time.Now().UTC(), titleID)
	if err != nil {
		return fmt.Errorf("backfill title %s: %w", titleID, err)
	}
	return nil
}

func (r *Repo) GetByID(ctx context.Context, id string) (*models.Title, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+titleColumns+` FROM titles WHERE id = ?`, id)
	t, err := scanTitle(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan getByID: %w", err)
	}

	if err := r.loadDetail(ctx, t); err != nil {
		return nil, err
	}
	if t.Genres, err = relations.Names(ctx, r.DB, relations.Genre, t.ID); err != nil {
		return nil, err
	}
	if t.Studios, err = relations.Names(ctx, r.DB, relations.Studio, t.ID); err != nil {
		return nil, err
	}
	if t.Authors, err = relations.Credits(ctx, r.DB, t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *Repo) loadDetail(ctx context.Context, t *models.Title) error {
	switch t.ContentType {
	case models.ContentAnime:
		var (
			d                         models.AnimeDetail
			episodes, seasonYear, dur sql.NullInt64
			status, format, season    sql.NullString
			from, to                  sql.NullString
		)
		err := r.DB.QueryRowContext(ctx, `
			SELECT episodes, status, format, season, season_year, duration_minutes, aired_from, aired_to
			FROM anime_details WHERE title_id = ?
		`, t.ID).Scan(&episodes, &status, &format, &season, &seasonYear, &dur, &from, &to)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load anime detail: %w", err)
		}
		d.TitleID = t.ID
		d.Episodes, d.SeasonYear, d.DurationMinutes = intPtr(episodes), intPtr(seasonYear), intPtr(dur)
		d.Status, d.Format, d.Season = status.String, format.String, season.String
		d.AiredFrom, d.AiredTo = strPtr(from), strPtr(to)
		t.Anime = &d
	case models.ContentManga:
		var (
			d                 models.MangaDetail
			chapters, volumes sql.NullInt64
			status, format    sql.NullString
			from, to          sql.NullString
		)
		err := r.DB.QueryRowContext(ctx, `
			SELECT chapters, volumes, status, format, published_from, published_to
			FROM manga_details WHERE title_id = ?
		`, t.ID).Scan(&chapters, &volumes, &status, &format, &from, &to)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load manga detail: %w", err)
		}
		d.TitleID = t.ID
		d.Chapters, d.Volumes = intPtr(chapters), intPtr(volumes)
		d.Status, d.Format = status.String, format.String
		d.PublishedFrom, d.PublishedTo = strPtr(from), strPtr(to)
		t.Manga = &d
	}
	return nil
}

func (r *Repo) Count(ctx context.Context, q ListQuery) (int, error) {
	sqlStr, args := buildListSQL(q, true)
	var total int
	if err := r.DB.QueryRowContext(ctx, sqlStr, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count scan: %w", err)
	}
	return total, nil
}

func (r *Repo) List(ctx context.Context, q ListQuery) ([]models.Title, error) {
	sqlStr, args := buildListSQL(q, false)

	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list query: %w", err)
	}
	defer rows.Close()

	out := make([]models.Title, 0, q.Limit)
	for rows.Next() {
		t, err := scanTitle(rows)
		if err != nil {
			return nil, fmt.Errorf("list scan: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// ListByContentType returns id and title variants of every title of one kind.
// The matcher scores against this set.
func (r *Repo) ListByContentType(ctx context.Context, ct models.ContentType) ([]models.Title, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+titleColumns+` FROM titles WHERE content_type = ?`, ct)
	if err != nil {
		return nil, fmt.Errorf("list by content type: %w", err)
	}
	defer rows.Close()

	var out []models.Title
	for rows.Next() {
		t, err := scanTitle(rows)
		if err != nil {
			return nil, fmt.Errorf("list by content type scan: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// buildListSQL builds either COUNT(*) or SELECT list.
func buildListSQL(q ListQuery, countOnly bool) (string, []any) {
	baseSelect := `SELECT ` + titleColumns + ` FROM titles t`
	if countOnly {
		baseSelect = `SELECT COUNT(*) FROM titles t`
	}
	var where []string
	var args []any

	if kw := strings.TrimSpace(q.Q); kw != "" {
		where = append(where, "(LOWER(t.title) LIKE ? OR LOWER(t.title_english) LIKE ? OR LOWER(t.title_japanese) LIKE ?)")
		like := "%" + strings.ToLower(kw) + "%"
		args = append(args, like, like, like)
	}
	if q.ContentType != "" {
		where = append(where, "t.content_type = ?")
		args = append(args, q.ContentType)
	}
	if s := strings.TrimSpace(q.Status); s != "" {
		where = append(where, `(EXISTS (SELECT 1 FROM anime_details a WHERE a.title_id = t.id AND LOWER(a.status) = ?)
			OR EXISTS (SELECT 1 FROM manga_details m WHERE m.title_id = t.id AND LOWER(m.status) = ?))`)
		args = append(args, strings.ToLower(s), strings.ToLower(s))
	}
	if g := strings.TrimSpace(q.Genre); g != "" {
		where = append(where, `EXISTS (SELECT 1 FROM title_genres tg JOIN genres g ON g.id = tg.genre_id
			WHERE tg.title_id = t.id AND LOWER(g.name) = ?)`)
		args = append(args, strings.ToLower(g))
	}

	sqlStr := baseSelect
	if len(where) > 0 {
		sqlStr += " WHERE " + strings.Join(where, " AND ")
	}

	if !countOnly {
		sqlStr += " ORDER BY t.title ASC LIMIT ? OFFSET ?"
		limit := q.Limit
		if limit <= 0 || limit > 100 {
			limit = 20
		}
		offset := q.Offset
		if offset < 0 {
			offset = 0
		}
		args = append(args, limit, offset)
	}
	return sqlStr, args
}

// Stats reports row counts of the catalog tables.
func (r *Repo) Stats(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int)
	for _, table := range []string{"titles", "anime_details", "manga_details", "genres", "studios", "authors"} {
		var n int
		if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func nullString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
