package domain

import (
	"errors"
	"time"
)

// Purpose scopes where a one-time token may be redeemed. A token minted for
// one purpose never validates for another.
type Purpose string

const (
	PurposeLogin             Purpose = "LOGIN"              // temporary login access (magic link)
	PurposePasswordReset     Purpose = "PASSWORD_RESET"     // password reset
	PurposeEmailVerification Purpose = "EMAIL_VERIFICATION" // email verification
	PurposeAdminAccess       Purpose = "ADMIN_ACCESS"       // temporary admin step-up
	PurposeAPIAccess         Purpose = "API_ACCESS"         // temporary API access
	PurposeEmergencyAccess   Purpose = "EMERGENCY_ACCESS"   // emergency access
)

// ErrUnknownPurpose reports a purpose string outside the enumerated set.
var ErrUnknownPurpose = errors.New("domain: unknown token purpose")

// ParsePurpose validates a purpose string against the enumerated set.
func ParsePurpose(s string) (Purpose, error) {
	switch p := Purpose(s); p {
	case PurposeLogin, PurposePasswordReset, PurposeEmailVerification,
		PurposeAdminAccess, PurposeAPIAccess, PurposeEmergencyAccess:
		return p, nil
	default:
		return "", ErrUnknownPurpose
	}
}

// OneTimeToken models the stored single-use token record in the DB.
// Value is both identifier and credential: a globally unique opaque random
// hex string.
type OneTimeToken struct {
	ID        string
	Value     string
	UserID    string
	Purpose   Purpose
	IsUsed    bool
	ExpiresAt time.Time
	UsedAt    *time.Time
	Metadata  string // opaque purpose-specific context, may be empty
	CreatedAt time.Time
}

// IsExpired reports whether the token is past its expiry at the given time.
func (t OneTimeToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// CanBeUsed reports whether the token is redeemable: not yet used and not
// expired.
func (t OneTimeToken) CanBeUsed(now time.Time) bool {
	return !t.IsUsed && !t.IsExpired(now)
}

// IsValidForPurpose reports whether the token is redeemable for the given
// purpose.
func (t OneTimeToken) IsValidForPurpose(p Purpose, now time.Time) bool {
	return t.Purpose == p && t.CanBeUsed(now)
}
