package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/taskboard/trustd/internal/trust/domain"
	"github.com/taskboard/trustd/internal/trust/store"
	"github.com/taskboard/trustd/pkg/cryptox"
	"github.com/taskboard/trustd/pkg/idx"
	"github.com/taskboard/trustd/pkg/slogx"
)

var (
	ErrQuotaExceeded    = errors.New("active_token_quota_exceeded")
	ErrGenerationFailed = errors.New("token_generation_failed")
	ErrInvalidRequest   = errors.New("invalid_token_request")
)

// maxGenerationAttempts bounds value regeneration on uniqueness collisions.
// With 32 random bytes a collision is astronomically unlikely; the bound
// exists for liveness, not correctness.
const maxGenerationAttempts = 10

// SingleUseTokenService manages purpose-scoped single-use tokens: creation
// under a per-user/purpose quota, exactly-once consumption, revocation, and
// cleanup. The store is the sole writer of token state; every mutation goes
// through its conditional-update paths.
type SingleUseTokenService struct {
	Store store.Store

	// TokenLength is the number of random bytes per token value before hex
	// encoding.
	TokenLength int

	// DefaultTTL applies when a caller passes a zero or negative ttl;
	// MaxTTL caps whatever the caller asks for.
	DefaultTTL time.Duration
	MaxTTL     time.Duration

	// MaxActivePerUser caps simultaneously active tokens per (user, purpose).
	MaxActivePerUser int

	// StoreTimeout bounds each persistence call. A call that outlives the
	// deadline surfaces as an error and is handled like any other storage
	// fault. Zero disables the bound.
	StoreTimeout time.Duration
}

// Create mints a token for the given user and purpose. The quota check and
// the insert run in one transaction so concurrent creations cannot
// overshoot the cap. Value collisions regenerate up to
// maxGenerationAttempts times.
func (s *SingleUseTokenService) Create(
	ctx context.Context,
	userID string,
	purpose domain.Purpose,
	ttl time.Duration,
	metadata string,
) (domain.OneTimeToken, error) {
	log := slogx.FromContext(ctx)

	if userID == "" {
		return domain.OneTimeToken{}, ErrInvalidRequest
	}
	if _, err := domain.ParsePurpose(string(purpose)); err != nil {
		return domain.OneTimeToken{}, ErrInvalidRequest
	}
	ttl = s.clampTTL(ttl)

	now := time.Now()
	token := domain.OneTimeToken{
		ID:        idx.New().String(),
		UserID:    userID,
		Purpose:   purpose,
		IsUsed:    false,
		ExpiresAt: now.Add(ttl),
		Metadata:  metadata,
		CreatedAt: now,
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		active, err := tx.OneTimeTokens().CountActiveByUserAndPurpose(ctx, userID, purpose, now)
		if err != nil {
			return err
		}
		if active >= int64(s.MaxActivePerUser) {
			log.Warn("one-time token quota exceeded",
				slog.String("user_id", userID),
				slog.String("purpose", string(purpose)),
				slog.Int64("active", active),
			)
			return ErrQuotaExceeded
		}

		// The unique index on value is the collision check: insert and
		// regenerate on conflict, rather than racing a lookup against other
		// writers.
		for attempt := 1; attempt <= maxGenerationAttempts; attempt++ {
			value, err := cryptox.GenerateHexToken(s.TokenLength)
			if err != nil {
				return err
			}
			token.Value = value

			err = tx.OneTimeTokens().CreateOneTimeToken(ctx, token)
			if err == nil {
				return nil
			}
			if !errors.Is(err, store.ErrAlreadyExists) {
				return err
			}
			log.Warn("one-time token value collision, regenerating",
				slog.Int("attempt", attempt),
			)
		}

		log.Error("one-time token generation exhausted retries",
			slog.String("user_id", userID),
			slog.String("purpose", string(purpose)),
			slog.Int("attempts", maxGenerationAttempts),
		)
		return ErrGenerationFailed
	})
	if err != nil {
		return domain.OneTimeToken{}, err
	}

	log.Info("one-time token created",
		slog.String("user_id", userID),
		slog.String("purpose", string(purpose)),
		slog.Time("expires_at", token.ExpiresAt),
	)
	return token, nil
}

// CreateLoginToken mints a magic-link login token.
func (s *SingleUseTokenService) CreateLoginToken(ctx context.Context, userID string, ttl time.Duration) (domain.OneTimeToken, error) {
	return s.Create(ctx, userID, domain.PurposeLogin, ttl, "")
}

// CreatePasswordResetToken mints a password-reset token.
func (s *SingleUseTokenService) CreatePasswordResetToken(ctx context.Context, userID string, ttl time.Duration) (domain.OneTimeToken, error) {
	return s.Create(ctx, userID, domain.PurposePasswordReset, ttl, "")
}

// CreateEmailVerificationToken mints an email-verification token.
func (s *SingleUseTokenService) CreateEmailVerificationToken(ctx context.Context, userID string, ttl time.Duration) (domain.OneTimeToken, error) {
	return s.Create(ctx, userID, domain.PurposeEmailVerification, ttl, "")
}

// CreateAdminAccessToken mints a step-up admin access token.
func (s *SingleUseTokenService) CreateAdminAccessToken(ctx context.Context, userID string, ttl time.Duration, metadata string) (domain.OneTimeToken, error) {
	return s.Create(ctx, userID, domain.PurposeAdminAccess, ttl, metadata)
}

// CreateAPIAccessToken mints a temporary API access token.
func (s *SingleUseTokenService) CreateAPIAccessToken(ctx context.Context, userID string, ttl time.Duration, metadata string) (domain.OneTimeToken, error) {
	return s.Create(ctx, userID, domain.PurposeAPIAccess, ttl, metadata)
}

// CreateEmergencyAccessToken mints an emergency access token.
func (s *SingleUseTokenService) CreateEmergencyAccessToken(ctx context.Context, userID string, ttl time.Duration, metadata string) (domain.OneTimeToken, error) {
	return s.Create(ctx, userID, domain.PurposeEmergencyAccess, ttl, metadata)
}

// ValidateAndUse redeems a token: if it exists, is unused, unexpired, and
// was minted for expectedPurpose, it transitions to used and the call
// returns true. The transition is one atomic conditional write at the
// store, so of N concurrent redemptions of the same value exactly one wins.
//
// The boolean deliberately does not distinguish not-found from expired,
// already-used, or wrong-purpose — that distinction would hand an attacker
// a token-guessing oracle. A storage fault is returned as an error; callers
// must treat it as a denial, never as success.
func (s *SingleUseTokenService) ValidateAndUse(
	ctx context.Context,
	value string,
	expectedPurpose domain.Purpose,
) (bool, error) {
	log := slogx.FromContext(ctx)
	now := time.Now()

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	consumed, err := s.Store.OneTimeTokens().ConsumeOneTimeToken(ctx, value, expectedPurpose, now)
	if err != nil {
		log.Error("one-time token consumption failed", slog.Any("error", err))
		return false, err
	}

	if !consumed {
		// Diagnostic lookup for the logs only: the caller still sees an
		// undifferentiated false, but operators can tell an expired link
		// from a wrong-purpose redemption attempt.
		s.logRejection(ctx, value, expectedPurpose, now)
		return false, nil
	}

	log.Info("one-time token consumed",
		slog.String("purpose", string(expectedPurpose)),
	)
	return true, nil
}

func (s *SingleUseTokenService) logRejection(
	ctx context.Context,
	value string,
	expectedPurpose domain.Purpose,
	now time.Time,
) {
	log := slogx.FromContext(ctx)

	t, err := s.Store.OneTimeTokens().GetOneTimeTokenByValue(ctx, value)
	if err != nil {
		log.Warn("one-time token rejected: not found",
			slog.String("purpose", string(expectedPurpose)),
		)
		return
	}

	switch {
	case t.Purpose != expectedPurpose:
		log.Warn("one-time token rejected: purpose mismatch",
			slog.String("expected", string(expectedPurpose)),
			slog.String("got", string(t.Purpose)),
			slog.String("user_id", t.UserID),
		)
	case t.IsUsed:
		log.Warn("one-time token rejected: already used",
			slog.String("purpose", string(t.Purpose)),
			slog.String("user_id", t.UserID),
		)
	case t.IsExpired(now):
		log.Warn("one-time token rejected: expired",
			slog.String("purpose", string(t.Purpose)),
			slog.String("user_id", t.UserID),
			slog.Time("expires_at", t.ExpiresAt),
		)
	}
}

// IsValid reports whether the token would redeem for the purpose, without
// consuming it.
func (s *SingleUseTokenService) IsValid(ctx context.Context, value string, purpose domain.Purpose) (bool, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	t, err := s.Store.OneTimeTokens().GetOneTimeTokenByValue(ctx, value)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return t.IsValidForPurpose(purpose, time.Now()), nil
}

// Info returns the token record for non-consuming inspection.
func (s *SingleUseTokenService) Info(ctx context.Context, value string) (domain.OneTimeToken, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	return s.Store.OneTimeTokens().GetOneTimeTokenByValue(ctx, value)
}

// ExpiryOf returns the token's expiry instant.
func (s *SingleUseTokenService) ExpiryOf(ctx context.Context, value string) (time.Time, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	t, err := s.Store.OneTimeTokens().GetOneTimeTokenByValue(ctx, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.ExpiresAt, nil
}

// ListActive returns all currently redeemable tokens owned by the user.
func (s *SingleUseTokenService) ListActive(ctx context.Context, userID string) ([]domain.OneTimeToken, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	return s.Store.OneTimeTokens().ListActiveByUser(ctx, userID, time.Now())
}

// ListActiveForPurpose narrows ListActive to one purpose.
func (s *SingleUseTokenService) ListActiveForPurpose(ctx context.Context, userID string, purpose domain.Purpose) ([]domain.OneTimeToken, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	return s.Store.OneTimeTokens().ListActiveByUserAndPurpose(ctx, userID, purpose, time.Now())
}

// RevokeAllForUser marks every active token of the user as used. Marking
// rather than deleting keeps the audit trail until retention cleanup.
func (s *SingleUseTokenService) RevokeAllForUser(ctx context.Context, userID string) error {
	log := slogx.FromContext(ctx)

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := s.Store.OneTimeTokens().RevokeActiveByUser(ctx, userID, time.Now()); err != nil {
		return err
	}

	log.Info("revoked all active one-time tokens", slog.String("user_id", userID))
	return nil
}

// RevokeForUserAndPurpose marks the user's active tokens of one purpose as used.
func (s *SingleUseTokenService) RevokeForUserAndPurpose(ctx context.Context, userID string, purpose domain.Purpose) error {
	log := slogx.FromContext(ctx)

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := s.Store.OneTimeTokens().RevokeActiveByUserAndPurpose(ctx, userID, purpose, time.Now()); err != nil {
		return err
	}

	log.Info("revoked active one-time tokens",
		slog.String("user_id", userID),
		slog.String("purpose", string(purpose)),
	)
	return nil
}

// CleanupExpired hard-deletes tokens past their expiry. Idempotent; an empty
// result is not an error.
func (s *SingleUseTokenService) CleanupExpired(ctx context.Context) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	return s.Store.OneTimeTokens().DeleteExpiredOneTimeTokens(ctx, time.Now())
}

// CleanupUsed hard-deletes used tokens consumed more than retention ago.
func (s *SingleUseTokenService) CleanupUsed(ctx context.Context, retention time.Duration) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	return s.Store.OneTimeTokens().DeleteUsedOneTimeTokensBefore(ctx, time.Now().Add(-retention))
}

// storeCtx derives the deadline-bounded context every store call runs under.
func (s *SingleUseTokenService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.StoreTimeout)
}

func (s *SingleUseTokenService) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = s.DefaultTTL
	}
	if s.MaxTTL > 0 && ttl > s.MaxTTL {
		ttl = s.MaxTTL
	}
	return ttl
}
