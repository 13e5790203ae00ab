package sqlite

import (
	"context"
	"time"

	"github.com/taskboard/trustd/internal/trust/domain"
)

type oneTimeTokensRepo struct {
	db dbtx
}

const oneTimeTokenColumns = `id, value, user_id, purpose, is_used, expires_at, used_at, metadata, created_at`

func (r *oneTimeTokensRepo) CreateOneTimeToken(ctx context.Context, t domain.OneTimeToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO one_time_tokens (id, value, user_id, purpose, is_used, expires_at, used_at, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Value,
		t.UserID,
		string(t.Purpose),
		t.IsUsed,
		t.ExpiresAt,
		nil,
		mapStringNull(t.Metadata),
		t.CreatedAt,
	)
	return mapUniqueViolation(err)
}

func (r *oneTimeTokensRepo) GetOneTimeTokenByValue(
	ctx context.Context,
	value string,
) (domain.OneTimeToken, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+oneTimeTokenColumns+`
		FROM one_time_tokens
		WHERE value = ?`,
		value,
	)
	t, err := scanOneTimeToken(row)
	if err != nil {
		return domain.OneTimeToken{}, mapNotFound(err)
	}
	return t, nil
}

func (r *oneTimeTokensRepo) CountActiveByUserAndPurpose(
	ctx context.Context,
	userID string,
	purpose domain.Purpose,
	now time.Time,
) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM one_time_tokens
		WHERE user_id = ? AND purpose = ? AND is_used = 0 AND expires_at > ?`,
		userID, string(purpose), now,
	).Scan(&count)
	return count, err
}

// ConsumeOneTimeToken is the exactly-once consumption primitive: a single
// conditional UPDATE whose WHERE clause re-checks every usability condition,
// so of N concurrent callers exactly one observes rows-affected == 1.
func (r *oneTimeTokensRepo) ConsumeOneTimeToken(
	ctx context.Context,
	value string,
	purpose domain.Purpose,
	now time.Time,
) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE one_time_tokens
		SET is_used = 1, used_at = ?
		WHERE value = ? AND purpose = ? AND is_used = 0 AND expires_at > ?`,
		now, value, string(purpose), now,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *oneTimeTokensRepo) ListActiveByUser(
	ctx context.Context,
	userID string,
	now time.Time,
) ([]domain.OneTimeToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+oneTimeTokenColumns+`
		FROM one_time_tokens
		WHERE user_id = ? AND is_used = 0 AND expires_at > ?
		ORDER BY created_at DESC`,
		userID, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOneTimeTokens(rows)
}

func (r *oneTimeTokensRepo) ListActiveByUserAndPurpose(
	ctx context.Context,
	userID string,
	purpose domain.Purpose,
	now time.Time,
) ([]domain.OneTimeToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+oneTimeTokenColumns+`
		FROM one_time_tokens
		WHERE user_id = ? AND purpose = ? AND is_used = 0 AND expires_at > ?
		ORDER BY created_at DESC`,
		userID, string(purpose), now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOneTimeTokens(rows)
}

func (r *oneTimeTokensRepo) RevokeActiveByUser(
	ctx context.Context,
	userID string,
	now time.Time,
) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE one_time_tokens
		SET is_used = 1, used_at = ?
		WHERE user_id = ? AND is_used = 0 AND expires_at > ?`,
		now, userID, now,
	)
	return err
}

func (r *oneTimeTokensRepo) RevokeActiveByUserAndPurpose(
	ctx context.Context,
	userID string,
	purpose domain.Purpose,
	now time.Time,
) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE one_time_tokens
		SET is_used = 1, used_at = ?
		WHERE user_id = ? AND purpose = ? AND is_used = 0 AND expires_at > ?`,
		now, userID, string(purpose), now,
	)
	return err
}

func (r *oneTimeTokensRepo) DeleteExpiredOneTimeTokens(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM one_time_tokens
		WHERE expires_at <= ?`,
		now,
	)
	return err
}

func (r *oneTimeTokensRepo) DeleteUsedOneTimeTokensBefore(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM one_time_tokens
		WHERE is_used = 1 AND used_at IS NOT NULL AND used_at < ?`,
		cutoff,
	)
	return err
}

func collectOneTimeTokens(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]domain.OneTimeToken, error) {
	var out []domain.OneTimeToken
	for rows.Next() {
		t, err := scanOneTimeToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
