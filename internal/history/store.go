// Package history provides the durable per-user translation log.
//
// Writes are independent per-record inserts with no cross-record
// coordination, so the store is safe for concurrent use across turns.
// Records are immutable once written.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound indicates no user row exists for the given id.
var ErrUserNotFound = errors.New("user not found")

// Listing limits, mirroring the API defaults.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Translation is one persisted translation turn.
type Translation struct {
	ID             int64
	UserID         int64
	OriginalText   string
	TranslatedText string
	SpecialReport  bool
	CreatedAt      time.Time
}

// User is a stable authenticated identity.
type User struct {
	ID        int64
	Username  string
	CreatedAt time.Time
}

// Store persists users and translations in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store on the given pool. The pool is owned by the caller.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Append inserts one translation record and fills in its generated id and
// timestamp. Timestamps are stored and returned in UTC.
func (s *Store) Append(ctx context.Context, t *Translation) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO translations (user_id, original_text, translated_text, is_special_report)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		t.UserID, t.OriginalText, t.TranslatedText, t.SpecialReport,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert translation: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()

	s.logger.Debug("translation recorded",
		"id", t.ID,
		"user_id", t.UserID,
		"special_report", t.SpecialReport,
	)
	return nil
}

// ListByUser returns the user's translations in chronological order.
// limit <= 0 uses DefaultListLimit; limits are capped at MaxListLimit.
func (s *Store) ListByUser(ctx context.Context, userID int64, limit int) ([]*Translation, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, original_text, translated_text, is_special_report, created_at
		FROM translations
		WHERE user_id = $1
		ORDER BY created_at, id
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query translations: %w", err)
	}
	defer rows.Close()

	var out []*Translation
	for rows.Next() {
		var t Translation
		if err := rows.Scan(&t.ID, &t.UserID, &t.OriginalText, &t.TranslatedText, &t.SpecialReport, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan translation: %w", err)
		}
		t.CreatedAt = t.CreatedAt.UTC()
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate translations: %w", err)
	}
	return out, nil
}

// EnsureUser returns the user with the given username, creating the row if
// it does not exist yet. Idempotent: repeated calls return the same id.
func (s *Store) EnsureUser(ctx context.Context, username string) (*User, error) {
	if username == "" {
		return nil, errors.New("username is required")
	}

	var u User
	// DO UPDATE makes RETURNING yield the existing row on conflict.
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username)
		VALUES ($1)
		ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		RETURNING id, username, created_at`,
		username,
	).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

// UserByID looks up a user by id. Returns ErrUserNotFound if absent.
func (s *Store) UserByID(ctx context.Context, id int64) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}
