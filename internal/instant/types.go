package instant

import (
	"errors"
	"fmt"
	"unicode"
)

// MaxFieldLength bounds filter values and instant types.
const MaxFieldLength = 256

// Answer records who resolved an instant and with which option.
type Answer struct {
	SourceToken string `json:"token"`
	Description string `json:"description"`
	Option      any    `json:"option"`
}

// Instant is one question in a device's queue.
type Instant struct {
	Answered bool   `json:"answered"`
	Answer   Answer `json:"answer"`

	// Timestamp is the ask time in Unix seconds.
	Timestamp int64 `json:"timestamp"`

	Type    string `json:"type"`
	Name    string `json:"name"`
	Info    any    `json:"infos"`
	Options []any  `json:"options"`
}

// Queue is a device's instants, oldest first.
type Queue []Instant

// instantDocument maps recipient device tokens to their queues.
type instantDocument map[string]Queue

// AskRequest describes a new question.
type AskRequest struct {
	Recipient string
	Type      string
	Name      string
	Info      any
	Options   []any
}

// AnswerRequest resolves every instant of Type queued for Recipient.
type AnswerRequest struct {
	Recipient   string
	SourceToken string
	Type        string
	OptionIndex int
	Description string
}

// Filter restricts Scan. Empty fields match everything.
type Filter struct {
	Recipient string
	Type      string
}

// Validate checks both filter fields.
func (f Filter) Validate() error {
	if err := validateField(f.Recipient); err != nil {
		return fmt.Errorf("%w: recipient %w", ErrInvalidFilter, err)
	}
	if err := validateField(f.Type); err != nil {
		return fmt.Errorf("%w: type %w", ErrInvalidFilter, err)
	}
	return nil
}

func validateType(typ string) error {
	if typ == "" {
		return fmt.Errorf("%w: empty", ErrInvalidType)
	}
	if err := validateField(typ); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidType, err)
	}
	return nil
}

var (
	errFieldTooLong      = fmt.Errorf("longer than %d bytes", MaxFieldLength)
	errFieldNotPrintable = errors.New("contains whitespace or control characters")
)

func validateField(s string) error {
	if len(s) > MaxFieldLength {
		return errFieldTooLong
	}
	for _, r := range s {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return errFieldNotPrintable
		}
	}
	return nil
}
