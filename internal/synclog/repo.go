// Package synclog persists per-run progress rows and the per-provider resume point.
package synclog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"animehub/pkg/models"
)

type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

// Snapshot is the counter state written on every progress update.
type Snapshot struct {
	CurrentPage int
	Pages       int
	Processed   int
	Created     int
	Updated     int
	Pending     int
	ErrorCount  int
	Errors      []string
}

// Open inserts a running log row. An empty ID is filled with a new uuid.
func (r *Repo) Open(ctx context.Context, l models.SyncLog) (*models.SyncLog, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.StartedAt.IsZero() {
		l.StartedAt = time.Now().UTC()
	}
	if l.Status == "" {
		l.Status = models.SyncRunning
	}
	if l.StartPage <= 0 {
		l.StartPage = 1
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO sync_logs (id, content_type, provider, kind, status, start_page, current_page, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.ContentType, l.Provider, l.Kind, l.Status, l.StartPage, l.StartPage, l.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("open sync log: %w", err)
	}
	l.CurrentPage = l.StartPage
	return &l, nil
}

func (r *Repo) Progress(ctx context.Context, id string, s Snapshot) error {
	errs, err := encodeErrors(s.Errors)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
		UPDATE sync_logs SET
		  current_page = ?, pages = ?, processed = ?, created = ?, updated = ?,
		  pending = ?, error_count = ?, errors_json = ?
		WHERE id = ?
	`, s.CurrentPage, s.Pages, s.Processed, s.Created, s.Updated, s.Pending, s.ErrorCount, errs, id)
	if err != nil {
		return fmt.Errorf("sync log progress %s: %w", id, err)
	}
	return nil
}

// Finish writes the final counters and closes the run with status.
func (r *Repo) Finish(ctx context.Context, id string, status models.SyncStatus, s Snapshot, message string) error {
	errs, err := encodeErrors(s.Errors)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE sync_logs SET
		  status = ?, current_page = ?, pages = ?, processed = ?, created = ?, updated = ?,
		  pending = ?, error_count = ?, errors_json = ?, message = ?, finished_at = ?
		WHERE id = ?
	`, status, s.CurrentPage, s.Pages, s.Processed, s.Created, s.Updated, s.Pending, s.ErrorCount, errs,
		nullable(message), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finish sync log %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish sync log %s: not found", id)
	}
	return nil
}

const logColumns = `id, content_type, provider, kind, status, start_page, current_page, pages, processed,
	created, updated, pending, error_count, errors_json, message, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanLog(s scanner) (*models.SyncLog, error) {
	var (
		l        models.SyncLog
		errs     string
		message  sql.NullString
		finished sql.NullTime
	)
	if err := s.Scan(&l.ID, &l.ContentType, &l.Provider, &l.Kind, &l.Status, &l.StartPage, &l.CurrentPage,
		&l.Pages, &l.Processed, &l.Created, &l.Updated, &l.Pending, &l.ErrorCount, &errs, &message,
		&l.StartedAt, &finished); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(errs), &l.Errors); err != nil {
		return nil, fmt.Errorf("decode sync log errors: %w", err)
	}
	l.Message = message.String
	if finished.Valid {
		l.FinishedAt = &finished.Time
	}
	return &l, nil
}

func (r *Repo) Get(ctx context.Context, id string) (*models.SyncLog, error) {
	l, err := scanLog(r.DB.QueryRowContext(ctx, `SELECT `+logColumns+` FROM sync_logs WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get sync log: %w", err)
	}
	return l, nil
}

// List returns the newest runs first; an empty content type lists all.
func (r *Repo) List(ctx context.Context, ct models.ContentType, limit int) ([]models.SyncLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	query := `SELECT ` + logColumns + ` FROM sync_logs`
	var args []any
	if ct != "" {
		query += ` WHERE content_type = ?`
		args = append(args, ct)
	}
	query += ` ORDER BY started_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync logs: %w", err)
	}
	defer rows.Close()

	var out []models.SyncLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// UpsertStatus records the resume point after a page. A zero LastPage or nil
// LastExternalID keeps the stored value; TotalProcessed is added to the stored total.
func (r *Repo) UpsertStatus(ctx context.Context, s models.ContentSyncStatus) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO content_sync_status (content_type, provider, last_page, last_external_id, total_processed, status, last_run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_type, provider) DO UPDATE SET
		  last_page = CASE WHEN excluded.last_page > 0 THEN excluded.last_page ELSE last_page END,
		  last_external_id = COALESCE(excluded.last_external_id, last_external_id),
		  total_processed = total_processed + excluded.total_processed,
		  status = excluded.status,
		  last_run_id = excluded.last_run_id,
		  updated_at = excluded.updated_at
	`, s.ContentType, s.Provider, s.LastPage, s.LastExternalID, s.TotalProcessed, s.Status,
		nullable(s.LastRunID), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert sync status %s/%s: %w", s.ContentType, s.Provider, err)
	}
	return nil
}

func (r *Repo) GetStatus(ctx context.Context, ct models.ContentType, p models.Provider) (*models.ContentSyncStatus, error) {
	var (
		s      models.ContentSyncStatus
		lastID sql.NullInt64
		runID  sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT content_type, provider, last_page, last_external_id, total_processed, status, last_run_id, updated_at
		FROM content_sync_status WHERE content_type = ? AND provider = ?
	`, ct, p).Scan(&s.ContentType, &s.Provider, &s.LastPage, &lastID, &s.TotalProcessed, &s.Status, &runID, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get sync status: %w", err)
	}
	if lastID.Valid {
		s.LastExternalID = &lastID.Int64
	}
	s.LastRunID = runID.String
	return &s, nil
}

func (r *Repo) ListStatus(ctx context.Context) ([]models.ContentSyncStatus, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT content_type, provider, last_page, last_external_id, total_processed, status, last_run_id, updated_at
		FROM content_sync_status ORDER BY content_type, provider
	`)
	if err != nil {
		return nil, fmt.Errorf("list sync status: %w", err)
	}
	defer rows.Close()

	var out []models.ContentSyncStatus
	for rows.Next() {
		var (
			s      models.ContentSyncStatus
			lastID sql.NullInt64
			runID  sql.NullString
		)
		if err := rows.Scan(&s.ContentType, &s.Provider, &s.LastPage, &lastID, &s.TotalProcessed, &s.Status, &runID, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sync status: %w", err)
		}
		if lastID.Valid {
			s.LastExternalID = &lastID.Int64
		}
		s.LastRunID = runID.String
		out = append(out, s)
	}
	return out, rows.Err()
}

func encodeErrors(errs []string) (string, error) {
	if errs == nil {
		errs = []string{}
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("encode errors: %w", err)
	}
	return string(b), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
