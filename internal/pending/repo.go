// Package pending is the review queue for uncertain reconciliation matches.
package pending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"animehub/internal/metrics"
	"animehub/internal/titles"
	"animehub/pkg/models"
)

var (
	ErrNotFound        = errors.New("pending match not found")
	ErrAlreadyResolved = errors.New("pending match already resolved")
	ErrTargetRequired  = errors.New("merge requires a target title")
	ErrInvalidDecision = errors.New("invalid decision")
)

type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

type Filter struct {
	ContentType models.ContentType
	Status      string // open, decided or all
	Limit       int
	Offset      int
}

const pendingColumns = `id, content_type, provider, external_id, record_json, candidates_json, confidence_score,
	admin_decision, target_title_id, resolved_title_id, decided_by, created_at, decided_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPending(s scanner) (*models.PendingMatch, error) {
	var (
		p                    models.PendingMatch
		recordJSON, candJSON string
		decision, target     sql.NullString
		resolved, decidedBy  sql.NullString
		decidedAt            sql.NullTime
	)
	if err := s.Scan(&p.ID, &p.ContentType, &p.Provider, &p.ExternalID, &recordJSON, &candJSON, &p.ConfidenceScore,
		&decision, &target, &resolved, &decidedBy, &p.CreatedAt, &decidedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(recordJSON), &p.Record); err != nil {
		return nil, fmt.Errorf("decode pending record %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(candJSON), &p.Candidates); err != nil {
		return nil, fmt.Errorf("decode pending candidates %s: %w", p.ID, err)
	}
	if decision.Valid {
		d := models.Decision(decision.String)
		p.Decision = &d
	}
	if target.Valid {
		p.TargetTitleID = &target.String
	}
	if resolved.Valid {
		p.ResolvedTitleID = &resolved.String
	}
	p.DecidedBy = decidedBy.String
	if decidedAt.Valid {
		p.DecidedAt = &decidedAt.Time
	}
	return &p, nil
}

// Enqueue stores an uncertain match. While an open row exists for the same
// external record the existing row is returned unchanged.
func (r *Repo) Enqueue(ctx context.Context, rec models.CanonicalRecord, candidates []models.Candidate) (*models.PendingMatch, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("enqueue %s/%d: no candidates", rec.Provider, rec.ExternalID)
	}
	best := 0.0
	for _, c := range candidates {
		best = max(best, c.SimilarityScore)
	}

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode pending record: %w", err)
	}
	candJSON, err := json.Marshal(candidates)
	if err != nil {
		return nil, fmt.Errorf("encode candidates: %w", err)
	}

	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO pending_matches (id, content_type, provider, external_id, record_json, candidates_json, confidence_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, uuid.NewString(), rec.ContentType, rec.Provider, rec.ExternalID, string(recordJSON), string(candJSON),
		best, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("enqueue %s/%d: %w", rec.Provider, rec.ExternalID, err)
	}

	row := r.DB.QueryRowContext(ctx, `
		SELECT `+pendingColumns+` FROM pending_matches
		WHERE content_type = ? AND provider = ? AND external_id = ? AND admin_decision IS NULL
	`, rec.ContentType, rec.Provider, rec.ExternalID)
	p, err := scanPending(row)
	if err != nil {
		return nil, fmt.Errorf("reload pending %s/%d: %w", rec.Provider, rec.ExternalID, err)
	}
	return p, nil
}

// FindByExternal returns the most recent pending match for an external
// record, open or decided, or nil.
func (r *Repo) FindByExternal(ctx context.Context, ct models.ContentType, p models.Provider, externalID int64) (*models.PendingMatch, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+pendingColumns+` FROM pending_matches
		WHERE content_type = ? AND provider = ? AND external_id = ?
		ORDER BY created_at DESC LIMIT 1
	`, ct, p, externalID)
	m, err := scanPending(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find pending: %w", err)
	}
	return m, nil
}

// IsKnown reports whether reconciliation has already queued this record.
// Decided matches are terminal and open ones await review; both are skipped.
func (r *Repo) IsKnown(ctx context.Context, ct models.ContentType, p models.Provider, externalID int64) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM pending_matches WHERE content_type = ? AND provider = ? AND external_id = ?
	`, ct, p, externalID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("pending lookup: %w", err)
	}
	return n > 0, nil
}

func (r *Repo) Get(ctx context.Context, id string) (*models.PendingMatch, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_matches WHERE id = ?`, id)
	m, err := scanPending(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get pending: %w", err)
	}
	return m, nil
}

func buildFilter(f Filter) (string, []any) {
	var where []string
	var args []any
	if f.ContentType != "" {
		where = append(where, "content_type = ?")
		args = append(args, f.ContentType)
	}
	switch strings.ToLower(strings.TrimSpace(f.Status)) {
	case "", "open":
		where = append(where, "admin_decision IS NULL")
	case "decided":
		where = append(where, "admin_decision IS NOT NULL")
	}
	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (r *Repo) Count(ctx context.Context, f Filter) (int, error) {
	where, args := buildFilter(f)
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_matches`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// List returns matches newest first. Status defaults to open.
func (r *Repo) List(ctx context.Context, f Filter) ([]models.PendingMatch, error) {
	where, args := buildFilter(f)
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := max(f.Offset, 0)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_matches`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	out := make([]models.PendingMatch, 0, limit)
	for rows.Next() {
		m, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("list pending scan: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Resolve records an admin decision and applies it in one transaction.
//
//	approved: a new title is created from the stored record
//	rejected: nothing but the decision is written
//	merged:   the external id is attached to targetTitleID and empty text fields backfilled
func (r *Repo) Resolve(ctx context.Context, id string, decision models.Decision, targetTitleID *string, decidedBy string) (*models.PendingMatch, error) {
	switch decision {
	case models.DecisionApproved, models.DecisionRejected, models.DecisionMerged:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}
	if decision == models.DecisionMerged && (targetTitleID == nil || strings.TrimSpace(*targetTitleID) == "") {
		return nil, ErrTargetRequired
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin resolve: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_matches WHERE id = ?`, id)
	m, err := scanPending(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load pending %s: %w", id, err)
	}
	if !m.Open() {
		return nil, ErrAlreadyResolved
	}

	var resolved, target any
	switch decision {
	case models.DecisionApproved:
		titleID, err := titles.InsertTx(ctx, tx, m.Record)
		if err != nil {
			return nil, fmt.Errorf("approve %s: %w", id, err)
		}
		resolved = titleID
	case models.DecisionMerged:
		t := strings.TrimSpace(*targetTitleID)
		if err := titles.AttachExternalIDTx(ctx, tx, t, m.ContentType, m.Provider, m.ExternalID); err != nil {
			return nil, fmt.Errorf("merge %s into %s: %w", id, t, err)
		}
		if err := titles.BackfillTx(ctx, tx, t, m.Record); err != nil {
			return nil, fmt.Errorf("merge %s into %s: %w", id, t, err)
		}
		resolved, target = t, t
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE pending_matches
		SET admin_decision = ?, target_title_id = ?, resolved_title_id = ?, decided_by = ?, decided_at = ?
		WHERE id = ? AND admin_decision IS NULL
	`, decision, target, resolved, nullable(decidedBy), time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("record decision %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrAlreadyResolved
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit resolve: %w", err)
	}

	metrics.PendingResolved.WithLabelValues(string(decision)).Inc()
	return r.Get(ctx, id)
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
