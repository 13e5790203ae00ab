package store

import (
	"context"
	"errors"
	"time"

	"github.com/taskboard/trustd/internal/trust/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres) implement this. It exposes sub-repositories to keep concerns
// tidy and testable.
type Store interface {
	OneTimeTokens() OneTimeTokens

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources (optional for sqlite).
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type OneTimeTokens interface {
	// CreateOneTimeToken inserts a new token row (id is provided by app via
	// ULID). Returns ErrAlreadyExists if the value collides with an existing
	// row.
	CreateOneTimeToken(ctx context.Context, t domain.OneTimeToken) error

	// GetOneTimeTokenByValue returns a token by its value regardless of
	// used/expired state (used for info lookups and collision checks).
	GetOneTimeTokenByValue(ctx context.Context, value string) (domain.OneTimeToken, error)

	// CountActiveByUserAndPurpose counts unused, unexpired tokens for a
	// (user, purpose) pair. Quota enforcement reads this.
	CountActiveByUserAndPurpose(ctx context.Context, userID string, purpose domain.Purpose, now time.Time) (int64, error)

	// ConsumeOneTimeToken atomically flips is_used for a token that is
	// currently unused, unexpired, and minted for the given purpose. It
	// reports whether this call was the one that consumed the token. This is
	// the single conditional write that guarantees exactly-once redemption
	// under concurrent callers; no read-then-write sequence may replace it.
	ConsumeOneTimeToken(ctx context.Context, value string, purpose domain.Purpose, now time.Time) (bool, error)

	// ListActiveByUser returns all unused, unexpired tokens owned by a user.
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]domain.OneTimeToken, error)

	// ListActiveByUserAndPurpose narrows ListActiveByUser to one purpose.
	ListActiveByUserAndPurpose(ctx context.Context, userID string, purpose domain.Purpose, now time.Time) ([]domain.OneTimeToken, error)

	// RevokeActiveByUser marks every active token of a user as used.
	// Revocation reuses the used flag so audit history survives.
	RevokeActiveByUser(ctx context.Context, userID string, now time.Time) error

	// RevokeActiveByUserAndPurpose narrows RevokeActiveByUser to one purpose.
	RevokeActiveByUserAndPurpose(ctx context.Context, userID string, purpose domain.Purpose, now time.Time) error

	// DeleteExpiredOneTimeTokens hard-deletes tokens past their expiry
	// (housekeeping).
	DeleteExpiredOneTimeTokens(ctx context.Context, now time.Time) error

	// DeleteUsedOneTimeTokensBefore hard-deletes used tokens consumed before
	// the cutoff (housekeeping, retains a window for audit).
	DeleteUsedOneTimeTokensBefore(ctx context.Context, cutoff time.Time) error
}
