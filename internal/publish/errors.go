package publish

import (
	"errors"
	"fmt"
	"strings"
)

// MissingConfigError is returned when a target lacks the settings it needs,
// either environment variables or config file keys.
type MissingConfigError struct {
	Provider string
	Settings []string
}

func (e MissingConfigError) Error() string {
	if len(e.Settings) == 0 {
		return fmt.Sprintf("%s not configured", e.Provider)
	}
	return fmt.Sprintf("%s not configured (missing %s)", e.Provider, strings.Join(e.Settings, ", "))
}

// ValidationError captures provider-specific validation issues, such as a
// missing image or an unsupported media type. Retrying will not help.
type ValidationError struct {
	Provider string
	Reason   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Provider, e.Reason)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
