package account

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	MinLength = 2
	MaxLength = 64
)

var (
	ErrTooShort      = errors.New("account id is too short")
	ErrTooLong       = errors.New("account id is too long")
	ErrInvalidFormat = errors.New("account id has invalid format")

	accountIDRegexp = regexp.MustCompile(`^(([a-z\d]+[-_])*[a-z\d]+\.)*([a-z\d]+[-_])*[a-z\d]+$`)
	lowerCaser      = cases.Lower(language.Und)
)

func isAllowed(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.'
}

// Normalize lower-cases s and drops every character outside [a-z0-9-_.].
func Normalize(s string) string {
	lower := lowerCaser.String(s)

	var sb strings.Builder
	sb.Grow(len(lower))
	for _, r := range lower {
		if isAllowed(r) {
			sb.WriteRune(r)
		}
	}

	return sb.String()
}

func Validate(id string) error {
	if len(id) < MinLength {
		return ErrTooShort
	}

	if len(id) > MaxLength {
		return ErrTooLong
	}

	if !accountIDRegexp.MatchString(id) {
		return ErrInvalidFormat
	}

	return nil
}

func IsValid(id string) bool {
	return Validate(id) == nil
}
