// Package storage はユーザーテーブルの永続化を提供します。
//
// 1テーブル（users）だけを扱い、SQLite（modernc.org/sqlite）と
// PostgreSQL（github.com/lib/pq）のどちらでも同じクエリで動作します。
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// GoogleAccountPassword は Google 経由で作成したユーザーの password 列に入る値です。
// bcrypt ハッシュではないため、ローカルログインでは必ず不一致になります。
const GoogleAccountPassword = "google"

var (
	// ErrUserNotFound は指定メールアドレスのユーザーが存在しないことを表します。
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken は同じメールアドレスのユーザーが既に存在することを表します。
	ErrEmailTaken = errors.New("email already registered")
)

// User は users テーブルの1行です。
type User struct {
	ID        string
	Email     string
	Password  string // bcrypt ハッシュ、または GoogleAccountPassword
	CreatedAt time.Time
}

// HasLocalPassword はローカルログイン用のパスワードを持つかを返します。
func (u *User) HasLocalPassword() bool {
	return u != nil && u.Password != "" && u.Password != GoogleAccountPassword
}

type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "postgres"
)

// rebind は ? プレースホルダーを PostgreSQL の $N 形式に置き換えます。
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store は users テーブルへのアクセスを提供します。
type Store struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// Open はデータベースに接続し、マイグレーションを適用した Store を返します。
// driver には "sqlite" または "postgres" を指定します。
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	var d dialect
	switch driver {
	case string(dialectSQLite):
		d = dialectSQLite
		dsn = sqliteDSN(dsn)
	case string(dialectPostgres):
		d = dialectPostgres
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	if d == dialectSQLite {
		// SQLite は書き込みが1本なので接続も1本に絞る
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}

	if err := applyMigrations(ctx, db, d, migrationFS, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{
		db:      db,
		dialect: d,
		now:     time.Now,
	}, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// Close はデータベース接続を閉じます。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping は接続が生きているかを確認します。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// FindUserByEmail はメールアドレスでユーザーを検索します。
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT id, email, password, created_at FROM users WHERE email = ?`),
		email,
	)

	var (
		user      User
		createdAt int64
	)
	if err := row.Scan(&user.ID, &user.Email, &user.Password, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	user.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &user, nil
}

// CreateUser はユーザーを作成します。
// 同じメールアドレスが既に存在する場合は ErrEmailTaken を返します。
func (s *Store) CreateUser(ctx context.Context, email, password string) (*User, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}

	user := &User{
		ID:        uuid.NewString(),
		Email:     email,
		Password:  password,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}

	_, err := s.db.ExecContext(ctx,
		s.dialect.rebind(`INSERT INTO users (id, email, password, created_at) VALUES (?, ?, ?, ?)`),
		user.ID, user.Email, user.Password, user.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
