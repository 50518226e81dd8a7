package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateUser stores a new account row.
func (r *PostgresRepository) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	const q = `
INSERT INTO linescout_users (email, display_name, role, password_hash)
VALUES ($1, $2, $3, $4)
RETURNING id, email, display_name, role, password_hash, expo_push_token, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, q, nu.Email, nu.DisplayName, nu.Role, nu.PasswordHash)
	u, err := scanUser(row)
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	return u, err
}

// GetUserByID retrieves an account by id.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	const q = `
SELECT id, email, display_name, role, password_hash, expo_push_token, created_at, updated_at
FROM linescout_users
WHERE id = $1
LIMIT 1;
`
	return scanUser(r.pool.QueryRow(ctx, q, id))
}

// GetUserByEmail retrieves an account by email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	const q = `
SELECT id, email, display_name, role, password_hash, expo_push_token, created_at, updated_at
FROM linescout_users
WHERE email = $1
LIMIT 1;
`
	return scanUser(r.pool.QueryRow(ctx, q, email))
}

// SetExpoPushToken stores the device push token for an account.
func (r *PostgresRepository) SetExpoPushToken(ctx context.Context, userID, token string) error {
	const q = `UPDATE linescout_users SET expo_push_token = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, userID, token)
	if err != nil {
		return fmt.Errorf("set expo push token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.PasswordHash, &u.ExpoPushToken, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
