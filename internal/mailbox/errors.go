package mailbox

import (
	"errors"
	"strings"
)

// ValidationError is returned before any store call when a draft is
// incomplete.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, ", "))
	}
	return "validate draft: " + strings.Join(parts, "; ")
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
