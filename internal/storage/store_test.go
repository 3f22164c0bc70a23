package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndFindUser(t *testing.T) {
	store := openTestStore(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	created, err := store.CreateUser(ctx, "alice@example.com", "$2a$10$hash")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, fixed, created.CreatedAt)

	found, err := store.FindUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, created, found)
	require.True(t, found.HasLocalPassword())
}

func TestFindUserNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.FindUserByEmail(context.Background(), "nobody@example.com")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.CreateUser(ctx, "bob@example.com", GoogleAccountPassword)
	require.NoError(t, err)

	_, err = store.CreateUser(ctx, "bob@example.com", "$2a$10$other")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestCreateUserRequiresFields(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.CreateUser(ctx, "", "x")
	require.Error(t, err)
	_, err = store.CreateUser(ctx, "a@example.com", "")
	require.Error(t, err)
}

func TestGoogleAccountHasNoLocalPassword(t *testing.T) {
	user := &User{Email: "g@example.com", Password: GoogleAccountPassword}
	require.False(t, user.HasLocalPassword())

	var nilUser *User
	require.False(t, nilUser.HasLocalPassword())
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")
	ctx := context.Background()

	first, err := Open(ctx, "sqlite", path)
	require.NoError(t, err)
	_, err = first.CreateUser(ctx, "carol@example.com", "$2a$10$hash")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(ctx, "sqlite", path)
	require.NoError(t, err)
	defer second.Close()

	user, err := second.FindUserByEmail(ctx, "carol@example.com")
	require.NoError(t, err)
	require.Equal(t, "carol@example.com", user.Email)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn")
	require.Error(t, err)

	_, err = Open(context.Background(), "sqlite", " ")
	require.Error(t, err)
}

func TestRebind(t *testing.T) {
	query := `INSERT INTO users (a, b) VALUES (?, ?)`
	require.Equal(t, query, dialectSQLite.rebind(query))
	require.Equal(t, `INSERT INTO users (a, b) VALUES ($1, $2)`, dialectPostgres.rebind(query))
}

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE t (id TEXT);\n-- +migrate Down\nDROP TABLE t;\n"
	require.Equal(t, "CREATE TABLE t (id TEXT);", strings.TrimSpace(extractUpMigration(content)))
	require.Equal(t, "SELECT 1;", extractUpMigration("SELECT 1;"))
}

func TestApplyMigrationsSkipsApplied(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	migrations := fstest.MapFS{
		"m/002_extra.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE extra (id TEXT);\n")},
	}
	require.NoError(t, applyMigrations(ctx, store.db, store.dialect, migrations, "m"))
	// 2回目は適用済みとしてスキップされ、CREATE TABLE の重複エラーにならない
	require.NoError(t, applyMigrations(ctx, store.db, store.dialect, migrations, "m"))

	var count int
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	require.Equal(t, 2, count)
}
