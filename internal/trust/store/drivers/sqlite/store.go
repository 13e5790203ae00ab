package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/taskboard/trustd/internal/trust/domain"
	"github.com/taskboard/trustd/internal/trust/store"

	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx, so the
// same repository code serves both plain and transactional stores.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db  *sql.DB
	dsn string
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Enforce FKs
	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:  db,
		dsn: dsn,
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx starts a read/write transaction and returns a Tx-scoped Store.
func (s *Store) Tx(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return newTx(tx), nil
}

// WithTx executes fn within a transaction, automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}

	// Ensure rollback is called if we panic or return early with error
	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	if err := fn(tx); err != nil {
		return err // rollback happens in defer
	}

	return tx.Commit()
}

func (s *Store) OneTimeTokens() store.OneTimeTokens { return &oneTimeTokensRepo{db: s.db} }

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// mapUniqueViolation converts a sqlite unique-constraint failure into
// store.ErrAlreadyExists so callers can retry value generation.
func mapUniqueViolation(err error) error {
	if err == nil {
		return nil
	}
	var serr *sqlite3.Error
	if errors.As(err, &serr) && serr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE {
		return store.ErrAlreadyExists
	}
	return err
}

func mapNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func mapStringNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func mapNullTimePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		val := nt.Time
		return &val
	}
	return nil
}

// scanOneTimeToken reads one row in column order
// (id, value, user_id, purpose, is_used, expires_at, used_at, metadata, created_at).
func scanOneTimeToken(row interface{ Scan(...any) error }) (domain.OneTimeToken, error) {
	var (
		t        domain.OneTimeToken
		purpose  string
		usedAt   sql.NullTime
		metadata sql.NullString
	)
	err := row.Scan(
		&t.ID,
		&t.Value,
		&t.UserID,
		&purpose,
		&t.IsUsed,
		&t.ExpiresAt,
		&usedAt,
		&metadata,
		&t.CreatedAt,
	)
	if err != nil {
		return domain.OneTimeToken{}, err
	}

	t.Purpose = domain.Purpose(purpose)
	t.UsedAt = mapNullTimePtr(usedAt)
	t.Metadata = mapNullString(metadata)
	return t, nil
}
