package lifecycle

import (
	"fmt"
	"regexp"

	"x-notify/pkg/notifier"
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidateEmail checks that email has the local@domain.tld shape.
func ValidateEmail(email string) error {
	if len(email) < 3 || len(email) > 254 {
		return fmt.Errorf("%w: length %d", notifier.ErrInvalidEmail, len(email))
	}
	if !emailRegex.MatchString(email) {
		return notifier.ErrInvalidEmail
	}
	return nil
}
