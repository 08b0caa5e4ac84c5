// Package relations attaches genres, studios and authors to titles.
//
// Lookup rows are created with INSERT ... ON CONFLICT DO NOTHING against the
// UNIQUE(name) column and then re-read, so two runs racing on the same name
// always end up sharing one row.
package relations

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"animehub/pkg/models"
)

type Kind int

const (
	Genre Kind = iota
	Studio
	Author
)

type kindTables struct {
	entity   string
	join     string
	joinCol  string
	withRole bool
}

var tables = map[Kind]kindTables{
	Genre:  {entity: "genres", join: "title_genres", joinCol: "genre_id"},
	Studio: {entity: "studios", join: "title_studios", joinCol: "studio_id"},
	Author: {entity: "authors", join: "title_authors", joinCol: "author_id", withRole: true},
}

func (k Kind) String() string {
	if t, ok := tables[k]; ok {
		return strings.TrimSuffix(t.entity, "s")
	}
	return "unknown"
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lookup(k Kind) (kindTables, error) {
	t, ok := tables[k]
	if !ok {
		return kindTables{}, fmt.Errorf("unknown relation kind %d", k)
	}
	return t, nil
}

// EnsureEntity returns the id of the lookup row with this exact name, creating it if needed.
func EnsureEntity(ctx context.Context, q Querier, k Kind, name string) (int64, error) {
	t, err := lookup(k)
	if err != nil {
		return 0, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("ensure %s: empty name", k)
	}

	if _, err := q.ExecContext(ctx,
		`INSERT INTO `+t.entity+` (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return 0, fmt.Errorf("insert %s %q: %w", k, name, err)
	}

	var id int64
	if err := q.QueryRowContext(ctx, `SELECT id FROM `+t.entity+` WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("select %s %q: %w", k, name, err)
	}
	return id, nil
}

// EnsureRelation links a title to a lookup row. Repeating the call is a no-op;
// for authors a non-empty role replaces a missing one.
func EnsureRelation(ctx context.Context, q Querier, k Kind, titleID string, entityID int64, role string) error {
	t, err := lookup(k)
	if err != nil {
		return err
	}

	if t.withRole {
		_, err = q.ExecContext(ctx, `
			INSERT INTO `+t.join+` (title_id, `+t.joinCol+`, role) VALUES (?, ?, ?)
			ON CONFLICT(title_id, `+t.joinCol+`) DO UPDATE SET
			  role = COALESCE(NULLIF(excluded.role, ''), `+t.join+`.role)
		`, titleID, entityID, nullable(role))
	} else {
		_, err = q.ExecContext(ctx,
			`INSERT INTO `+t.join+` (title_id, `+t.joinCol+`) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			titleID, entityID)
	}
	if err != nil {
		return fmt.Errorf("link %s %d to %s: %w", k, entityID, titleID, err)
	}
	return nil
}

// Resolve ensures every genre, studio and author of rec and links them to titleID.
func Resolve(ctx context.Context, q Querier, titleID string, rec models.CanonicalRecord) error {
	for _, g := range rec.Genres {
		if err := ensureAndLink(ctx, q, Genre, titleID, g, ""); err != nil {
			return err
		}
	}
	for _, s := range rec.Studios {
		if err := ensureAndLink(ctx, q, Studio, titleID, s, ""); err != nil {
			return err
		}
	}
	for _, a := range rec.Authors {
		if err := ensureAndLink(ctx, q, Author, titleID, a.Name, a.Role); err != nil {
			return err
		}
	}
	return nil
}

func ensureAndLink(ctx context.Context, q Querier, k Kind, titleID, name, role string) error {
	id, err := EnsureEntity(ctx, q, k, name)
	if err != nil {
		return err
	}
	return EnsureRelation(ctx, q, k, titleID, id, role)
}

// Names lists the lookup names linked to a title, alphabetically.
func Names(ctx context.Context, q Querier, k Kind, titleID string) ([]string, error) {
	t, err := lookup(k)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `
		SELECT e.name FROM `+t.join+` j
		JOIN `+t.entity+` e ON e.id = j.`+t.joinCol+`
		WHERE j.title_id = ?
		ORDER BY e.name
	`, titleID)
	if err != nil {
		return nil, fmt.Errorf("list %s names: %w", k, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan %s name: %w", k, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Credits lists a title's authors with their roles.
func Credits(ctx context.Context, q Querier, titleID string) ([]models.Credit, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT a.name, COALESCE(ta.role, '') FROM title_authors ta
		JOIN authors a ON a.id = ta.author_id
		WHERE ta.title_id = ?
		ORDER BY a.name
	`, titleID)
	if err != nil {
		return nil, fmt.Errorf("list credits: %w", err)
	}
	defer rows.Close()

	var out []models.Credit
	for rows.Next() {
		var c models.Credit
		if err := rows.Scan(&c.Name, &c.Role); err != nil {
			return nil, fmt.Errorf("scan credit: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
