package auth

import "errors"

// Domain errors for the auth package.
var (
	// ErrTokenNotFound is returned when a token is absent or expired.
	ErrTokenNotFound = errors.New("auth: token not found")

	// ErrInvalidPermissionLevel is returned when issuing a level outside 0-4.
	ErrInvalidPermissionLevel = errors.New("auth: invalid permission level")

	// ErrInvalidTokenID is returned for empty, oversized, or non-printable
	// token identifiers, and for identifiers equal to the master token.
	ErrInvalidTokenID = errors.New("auth: invalid token id")
)
