package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validator collects every configuration problem so startup can report them
// all at once.
type Validator struct {
	errors []ValidationError
}

// AddError records a problem with field.
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// HasErrors reports whether anything was recorded.
func (v *Validator) HasErrors() bool { return len(v.errors) > 0 }

// Errors returns every recorded problem.
func (v *Validator) Errors() []ValidationError { return v.errors }

// Err returns nil when nothing was recorded, otherwise an error listing
// every problem.
func (v *Validator) Err() error {
	if !v.HasErrors() {
		return nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d error(s):\n", len(v.errors))
	for i, err := range v.errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return fmt.Errorf("%s", sb.String())
}

// Required records an error when value is empty.
func (v *Validator) Required(key, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(key, "required setting not set")
	}
}

// URL checks that a non-empty value is an absolute http(s) URL.
func (v *Validator) URL(key, value string) {
	if value == "" {
		return
	}
	parsed, err := url.Parse(value)
	if err != nil {
		v.AddError(key, fmt.Sprintf("invalid URL format: %v", err))
		return
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		v.AddError(key, "URL must use http or https scheme")
	}
}

// Port checks that port is in 1..65535.
func (v *Validator) Port(key string, port int) {
	if port < 1 || port > 65535 {
		v.AddError(key, "port must be between 1 and 65535")
	}
}

// MinLength checks a non-empty value's length.
func (v *Validator) MinLength(key, value string, minLen int) {
	if value == "" {
		return
	}
	if len(value) < minLen {
		v.AddError(key, fmt.Sprintf("must be at least %d characters long (got %d)", minLen, len(value)))
	}
}

// Enum checks that value is one of allowed.
func (v *Validator) Enum(key, value string, allowed []string) {
	for _, opt := range allowed {
		if value == opt {
			return
		}
	}
	v.AddError(key, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), value))
}
