// Package postgres implements store.Store on PostgreSQL.
//
// Documents that the service treats as a unit (messages, metrics, profile,
// suggestions) live in JSONB columns. Updates run in a transaction holding a
// row lock, which gives the per-entity atomicity store.Store requires.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/vai-converse/pkg/core/types"
	"github.com/vango-go/vai-converse/pkg/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn, verifies the connection and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const sessionColumns = `id, user_id, status, messages, metrics, rating, start_time, end_time, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var (
		sess     types.Session
		status   string
		messages []byte
		metrics  []byte
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &status, &messages, &metrics, &sess.Rating, &sess.StartTime, &sess.EndTime, &sess.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	sess.Status = types.SessionStatus(status)
	if err := sonic.Unmarshal(messages, &sess.Messages); err != nil {
		return nil, fmt.Errorf("postgres: decode messages: %w", err)
	}
	if err := sonic.Unmarshal(metrics, &sess.Metrics); err != nil {
		return nil, fmt.Errorf("postgres: decode metrics: %w", err)
	}
	return &sess, nil
}

func encodeSession(sess *types.Session) (messages, metrics []byte, err error) {
	msgs := sess.Messages
	if msgs == nil {
		msgs = []types.Message{}
	}
	if messages, err = sonic.Marshal(msgs); err != nil {
		return nil, nil, fmt.Errorf("postgres: encode messages: %w", err)
	}
	if metrics, err = sonic.Marshal(sess.Metrics); err != nil {
		return nil, nil, fmt.Errorf("postgres: encode metrics: %w", err)
	}
	return messages, metrics, nil
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
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.ID, sess.UserID, string(sess.Status), messages, metrics, sess.Rating, sess.StartTime, sess.EndTime, updated)
	return mapError(err)
}

func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

func (s *Store) UpdateSession(ctx context.Context, id string, fn func(*types.Session) error) (*types.Session, error) {
	var out *types.Session
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		sess, err := scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, id))
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
		if _, err := tx.Exec(ctx, `
			UPDATE sessions
			SET status = $2, messages = $3, metrics = $4, rating = $5, end_time = $6, updated_at = $7
			WHERE id = $1`,
			id, string(sess.Status), messages, metrics, sess.Rating, sess.EndTime, sess.UpdatedAt); err != nil {
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
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
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
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
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
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM sessions`+where, args...).Scan(&n); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

const userColumns = `id, username, xp, level, rating, profile, suggestions, created_at, updated_at`

func scanUser(row rowScanner) (*types.User, error) {
	var (
		u           types.User
		profile     []byte
		suggestions []byte
	)
	if err := row.Scan(&u.ID, &u.Username, &u.XP, &u.Level, &u.Rating, &profile, &suggestions, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	if err := sonic.Unmarshal(profile, &u.Profile); err != nil {
		return nil, fmt.Errorf("postgres: decode profile: %w", err)
	}
	if err := sonic.Unmarshal(suggestions, &u.Suggestions); err != nil {
		return nil, fmt.Errorf("postgres: decode suggestions: %w", err)
	}
	return &u, nil
}

func encodeUser(u *types.User) (profile, suggestions []byte, err error) {
	if profile, err = sonic.Marshal(u.Profile); err != nil {
		return nil, nil, fmt.Errorf("postgres: encode profile: %w", err)
	}
	sugg := u.Suggestions
	if sugg == nil {
		sugg = []string{}
	}
	if suggestions, err = sonic.Marshal(sugg); err != nil {
		return nil, nil, fmt.Errorf("postgres: encode suggestions: %w", err)
	}
	return profile, suggestions, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*types.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username))
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
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		u.ID, u.Username, u.XP, u.Level, u.Rating, profile, suggestions, created, updated); err != nil {
		return nil, mapError(err)
	}
	return s.GetUser(ctx, u.ID)
}

func (s *Store) UpdateUser(ctx context.Context, id string, fn func(*types.User) error) (*types.User, error) {
	var out *types.User
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		u, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
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
		if _, err := tx.Exec(ctx, `
			UPDATE users
			SET username = $2, xp = $3, level = $4, rating = $5, profile = $6, suggestions = $7, updated_at = $8
			WHERE id = $1`,
			id, u.Username, u.XP, u.Level, u.Rating, profile, suggestions, u.UpdatedAt); err != nil {
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

// mapError translates driver errors to store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}
