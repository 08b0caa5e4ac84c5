package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAdminExists   = errors.New("admin already exists")
	ErrAdminNotFound = errors.New("admin not found")
)

type Admin struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	TokenVersion int       `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

// CreateAdmin validates the credentials, hashes the password and stores the
// account. There is no public registration; the CLI calls this.
func (r *Repo) CreateAdmin(ctx context.Context, username, email, password string) (*Admin, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))

	if len(username) < 3 || len(username) > 30 {
		return nil, fmt.Errorf("username must be 3-30 chars")
	}
	if !strings.Contains(email, "@") || len(email) > 255 {
		return nil, fmt.Errorf("invalid email")
	}
	if len(password) < 8 || len(password) > 72 {
		return nil, fmt.Errorf("password must be 8-72 chars")
	}

	if a, _ := r.GetByEmail(ctx, email); a != nil {
		return nil, ErrAdminExists
	}
	if a, _ := r.GetByUsername(ctx, username); a != nil {
		return nil, ErrAdminExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	a := Admin{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO admins (id, username, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.ID, a.Username, a.Email, a.PasswordHash, a.CreatedAt)
	if err != nil {
		// unique constraint still catches a racing insert
		return nil, fmt.Errorf("create admin: %w", err)
	}
	return &a, nil
}

const adminColumns = `id, username, email, password_hash, token_version, created_at`

func (r *Repo) getOne(ctx context.Context, where string, arg any) (*Admin, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+adminColumns+` FROM admins WHERE `+where, arg)

	var a Admin
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.TokenVersion, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get admin: %w", err)
	}
	return &a, nil
}

func (r *Repo) GetByEmail(ctx context.Context, email string) (*Admin, error) {
	return r.getOne(ctx, `LOWER(email) = ?`, strings.TrimSpace(strings.ToLower(email)))
}

func (r *Repo) GetByUsername(ctx context.Context, username string) (*Admin, error) {
	return r.getOne(ctx, `username = ?`, strings.TrimSpace(username))
}

func (r *Repo) GetByID(ctx context.Context, id string) (*Admin, error) {
	return r.getOne(ctx, `id = ?`, id)
}

// GetByLogin accepts either the email or the username.
func (r *Repo) GetByLogin(ctx context.Context, login string) (*Admin, error) {
	if strings.Contains(login, "@") {
		return r.GetByEmail(ctx, login)
	}
	return r.GetByUsername(ctx, login)
}

func (r *Repo) List(ctx context.Context) ([]Admin, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+adminColumns+` FROM admins ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()

	var out []Admin
	for rows.Next() {
		var a Admin
		if err := rows.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.TokenVersion, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repo) GetTokenVersion(ctx context.Context, id string) (int, error) {
	var version int
	err := r.DB.QueryRowContext(ctx, `SELECT token_version FROM admins WHERE id = ?`, id).Scan(&version)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrAdminNotFound
		}
		return 0, fmt.Errorf("get token version: %w", err)
	}
	return version, nil
}

func (r *Repo) UpdatePasswordAndBumpTokenVersion(ctx context.Context, id string, passwordHash string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE admins
		SET password_hash = ?, token_version = token_version + 1
		WHERE id = ?
	`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireOne(res, "update password")
}

func (r *Repo) BumpTokenVersion(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE admins
		SET token_version = token_version + 1
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("bump token version: %w", err)
	}
	return requireOne(res, "bump token version")
}

func requireOne(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrAdminNotFound)
	}
	return nil
}
