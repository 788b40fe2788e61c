package instant

import "errors"

var (
	// ErrInvalidFilter is returned by Scan for a malformed filter.
	ErrInvalidFilter = errors.New("instant: invalid filter")

	// ErrInvalidOption is returned when an option index does not exist in
	// every instant being answered.
	ErrInvalidOption = errors.New("instant: invalid option")

	// ErrRecipientNotFound is returned by Ask when the recipient is not a
	// registered device.
	ErrRecipientNotFound = errors.New("instant: recipient not found")

	// ErrInvalidType is returned for an empty or malformed instant type.
	ErrInvalidType = errors.New("instant: invalid type")
)
