package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"linescout/internal/logging"
	"linescout/migrations"
)

func newTestRepo(t *testing.T) Repository {
	t.Helper()
	ctx := context.Background()
	r, err := NewSQLite(ctx, "file:"+uuid.NewString()+"?mode=memory&cache=shared", logging.NewLogger("error"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(r.Close)
	if err := r.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return r
}

func TestCreateUserDuplicateEmailConflicts(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	nu := NewUser{Email: "alice@example.com", Role: "user", PasswordHash: "x"}
	if _, err := r.CreateUser(ctx, nu); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := r.CreateUser(ctx, nu); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate email: expected ErrConflict, got %v", err)
	}
}

func TestIsUniqueViolationSeesWrappedPgError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "linescout_users_email_key"}
	if !isUniqueViolation(fmt.Errorf("scan user: %w", pgErr)) {
		t.Fatal("wrapped 23505 not recognised as a unique violation")
	}
	if isUniqueViolation(fmt.Errorf("scan user: %w", &pgconn.PgError{Code: "23503"})) {
		t.Fatal("foreign key violation misread as unique violation")
	}
	if isUniqueViolation(nil) {
		t.Fatal("nil error misread as unique violation")
	}
}
