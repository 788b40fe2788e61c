package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
	"unicode"

	"github.com/google/uuid"
)

const (
	// DefaultTTL is how long an issued token stays valid.
	DefaultTTL = 120 * time.Second

	// NoAccess is the level unknown tokens resolve to.
	NoAccess = 0

	// MaxIssuableLevel is the highest level a token or device can hold.
	MaxIssuableLevel = 4

	// MasterPermissionLevel is the level of the master token.
	MasterPermissionLevel = 5

	// MaxTokenIDLength bounds token identifiers.
	MaxTokenIDLength = 256

	// fingerprintLength is the number of hex characters kept by Fingerprint.
	fingerprintLength = 12
)

// Token is a pending bearer credential.
type Token struct {
	// ID is the token itself. It is the document key and is not repeated
	// inside the stored record.
	ID string `json:"-"`

	// ValidUntil is the last instant at which the token is accepted.
	ValidUntil time.Time `json:"valid_until"`

	// PermissionLevel is the access level granted to the holder.
	PermissionLevel int `json:"permission_level"`
}

// Expired reports whether the token is past its validity at now.
func (t Token) Expired(now time.Time) bool {
	return t.ValidUntil.Before(now)
}

// tokenDocument is the persisted form of the tokens document.
type tokenDocument map[string]Token

// GenerateTokenID returns a fresh random token identifier.
func GenerateTokenID() string {
	return uuid.NewString()
}

// Fingerprint returns a short, stable, non-reversible label for a token,
// suitable for logs and topic names.
func Fingerprint(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])[:fingerprintLength]
}

// ValidateTokenID checks that id can be used as a document key.
func ValidateTokenID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTokenID)
	}
	if len(id) > MaxTokenIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidTokenID, MaxTokenIDLength)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return fmt.Errorf("%w: contains whitespace or control characters", ErrInvalidTokenID)
		}
	}
	return nil
}

// ValidatePermissionLevel checks that level can be issued or promoted.
func ValidatePermissionLevel(level int) error {
	if level < NoAccess || level > MaxIssuableLevel {
		return fmt.Errorf("%w: %d (want %d-%d)", ErrInvalidPermissionLevel, level, NoAccess, MaxIssuableLevel)
	}
	return nil
}
