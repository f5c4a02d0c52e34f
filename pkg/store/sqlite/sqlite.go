// Package sqlite implements store.Store on an embedded SQLite database.
//
// The schema mirrors the Postgres one with JSON documents in TEXT columns.
// The pool holds a single connection, so every update transaction runs alone.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pressly/goose/v3"
	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/vango-go/vai-converse/pkg/core/types"
	"github.com/vango-go/vai-converse/pkg/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// DSN turns a file path into a driver DSN with foreign keys enforced.
// A path that already carries query parameters is used as is.
func DSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
}

// Open opens the database at path and applies pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("sqlite: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const sessionColumns = `id, user_id, status, messages, metrics, rating, start_time, end_time, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var (
		sess     types.Session
		status   string
		messages string
		metrics  string
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &status, &messages, &metrics, &sess.Rating, &sess.StartTime, &sess.EndTime, &sess.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	sess.Status = types.SessionStatus(status)
	if err := sonic.UnmarshalString(messages, &sess.Messages); err != nil {
		return nil, fmt.Errorf("sqlite: decode messages: %w", err)
	}
	if err := sonic.UnmarshalString(metrics, &sess.Metrics); err != nil {
		return nil, fmt.Errorf("sqlite: decode metrics: %w", err)
	}
	return &sess, nil
}

func encodeSession(sess *types.Session) (messages, metrics string, err error) {
	msgs := sess.Messages
	if msgs == nil {
		msgs = []types.Message{}
	}
	if messages, err = sonic.MarshalString(msgs); err != nil {
		return "", "", fmt.Errorf("sqlite: encode messages: %w", err)
	}
	if metrics, err = sonic.MarshalString(sess.Metrics); err != nil {
		return "", "", fmt.Errorf("sqlite: encode metrics: %w", err)
	}
	return messages, metrics, nil
}

// utc normalises times so that lexical order in the DATETIME columns matches
// chronological order.
func utc(t time.Time) time.Time { return t.UTC() }

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func (s *Store) CreateSession(ctx context.Context, sess *types.Session) error {
	messages, metrics, err := encodeSession(sess)
	if err != nil {
		return err
	}
	updated := sess.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, string(sess.Status), messages, metrics, sess.Rating, utc(sess.StartTime), utcPtr(sess.EndTime), utc(updated))
	return mapError(err)
}

func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
}

func (s *Store) UpdateSession(ctx context.Context, id string, fn func(*types.Session) error) (*types.Session, error) {
	var out *types.Session
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sess, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		sess.ID = id
		sess.UpdatedAt = s.now()

		messages, metrics, err := encodeSession(sess)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET status = ?, messages = ?, metrics = ?, rating = ?, end_time = ?, updated_at = ?
			WHERE id = ?`,
			string(sess.Status), messages, metrics, sess.Rating, utcPtr(sess.EndTime), utc(sess.UpdatedAt), id); err != nil {
			return mapError(err)
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func sessionWhere(f store.SessionFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		clauses = append(clauses, "user_id = ?")
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		clauses = append(clauses, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) ListSessions(ctx context.Context, f store.SessionFilter) ([]*types.Session, error) {
	where, args := sessionWhere(f)
	query := `SELECT ` + sessionColumns + ` FROM sessions` + where + ` ORDER BY updated_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT ?"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, mapError(rows.Err())
}

func (s *Store) CountSessions(ctx context.Context, f store.SessionFilter) (int, error) {
	where, args := sessionWhere(f)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sessions`+where, args...).Scan(&n); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

const userColumns = `id, username, xp, level, rating, profile, suggestions, created_at, updated_at`

func scanUser(row rowScanner) (*types.User, error) {
	var (
		u           types.User
		profile     string
		suggestions string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.XP, &u.Level, &u.Rating, &profile, &suggestions, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	if err := sonic.UnmarshalString(profile, &u.Profile); err != nil {
		return nil, fmt.Errorf("sqlite: decode profile: %w", err)
	}
	if err := sonic.UnmarshalString(suggestions, &u.Suggestions); err != nil {
		return nil, fmt.Errorf("sqlite: decode suggestions: %w", err)
	}
	return &u, nil
}

func encodeUser(u *types.User) (profile, suggestions string, err error) {
	if profile, err = sonic.MarshalString(u.Profile); err != nil {
		return "", "", fmt.Errorf("sqlite: encode profile: %w", err)
	}
	sugg := u.Suggestions
	if sugg == nil {
		sugg = []string{}
	}
	if suggestions, err = sonic.MarshalString(sugg); err != nil {
		return "", "", fmt.Errorf("sqlite: encode suggestions: %w", err)
	}
	return profile, suggestions, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*types.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(username) = lower(?)`, username))
}

func (s *Store) EnsureUser(ctx context.Context, u *types.User) (*types.User, error) {
	profile, suggestions, err := encodeUser(u)
	if err != nil {
		return nil, err
	}
	now := s.now()
	created, updated := u.CreatedAt, u.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		u.ID, u.Username, u.XP, u.Level, u.Rating, profile, suggestions, utc(created), utc(updated)); err != nil {
		return nil, mapError(err)
	}
	return s.GetUser(ctx, u.ID)
}

func (s *Store) UpdateUser(ctx context.Context, id string, fn func(*types.User) error) (*types.User, error) {
	var out *types.User
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		u.ID = id
		u.UpdatedAt = s.now()

		profile, suggestions, err := encodeUser(u)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE users
			SET username = ?, xp = ?, level = ?, rating = ?, profile = ?, suggestions = ?, updated_at = ?
			WHERE id = ?`,
			u.Username, u.XP, u.Level, u.Rating, profile, suggestions, utc(u.UpdatedAt), id); err != nil {
			return mapError(err)
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return mapError(tx.Commit())
}

// mapError translates driver errors to store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var sqlErr *sqlitedriver.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", store.ErrConflict, sqlErr.Error())
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %s", store.ErrNotFound, sqlErr.Error())
		}
	}
	return err
}
