package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"account-server/internal/domain"
	"account-server/internal/repository"
)

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	provider TEXT NOT NULL,
	password_hash TEXT NOT NULL DEFAULT '',
	salt TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL DEFAULT '',
	raw_profile BLOB,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_local_email
	ON users(email) WHERE provider = 'local';
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_external
	ON users(provider, external_id) WHERE external_id <> '';
`

const userColumns = `id, name, email, role, provider, password_hash, salt, external_id, raw_profile, created_at, updated_at`

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) repository.UserRepository {
	return &UserRepository{db: db}
}

// Init creates the users table and the unique indexes. The partial index
// on email covers local accounts only; the (provider, external_id) index
// is what guarantees at most one user per external identity when two
// first-logins race.
func (r *UserRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createUsersTable); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
INSERT INTO users (`+userColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Name,
		user.Email,
		string(user.Role),
		string(user.Provider),
		user.PasswordHash,
		user.Salt,
		user.ExternalID,
		user.RawProfile,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if mapped := mapConstraintError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+userColumns+`
FROM users
WHERE id = ?`,
		id,
	)
	return scanUser(row)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+userColumns+`
FROM users
WHERE email = ? AND provider = ?`,
		strings.ToLower(email),
		string(domain.ProviderLocal),
	)
	return scanUser(row)
}

func (r *UserRepository) GetByExternalID(ctx context.Context, provider domain.Provider, externalID string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+userColumns+`
FROM users
WHERE provider = ? AND external_id = ?`,
		string(provider),
		externalID,
	)
	return scanUser(row)
}

func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
UPDATE users
SET name = ?, email = ?, role = ?, provider = ?, password_hash = ?, salt = ?,
	external_id = ?, raw_profile = ?, updated_at = ?
WHERE id = ?`,
		user.Name,
		user.Email,
		string(user.Role),
		string(user.Provider),
		user.PasswordHash,
		user.Salt,
		user.ExternalID,
		user.RawProfile,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if mapped := mapConstraintError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("update user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+userColumns+`
FROM users
ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// mapConstraintError translates sqlite unique violations into the
// repository sentinels, so callers can tell an email collision from an
// external-identity collision. Returns nil for anything else.
func mapConstraintError(err error) error {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "unique") {
		return nil
	}
	switch {
	case strings.Contains(msg, "external_id"):
		return repository.ErrExternalIDTaken
	case strings.Contains(msg, "email"):
		return repository.ErrEmailTaken
	}
	return fmt.Errorf("unique constraint: %w", err)
}

func scanUser(row interface {
	Scan(dest ...any) error
}) (*domain.User, error) {
	var (
		user     domain.User
		role     string
		provider string
	)
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&role,
		&provider,
		&user.PasswordHash,
		&user.Salt,
		&user.ExternalID,
		&user.RawProfile,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	user.Role = domain.Role(role)
	user.Provider = domain.Provider(provider)
	return &user, nil
}
