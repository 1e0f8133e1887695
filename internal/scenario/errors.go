package scenario

import "fmt"

// ConfigError reports an invalid or inconsistent scenario definition.
// It is fatal: nothing is started when synthesis fails.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "scenario: " + e.Msg
	}
	return fmt.Sprintf("scenario: %s: %s", e.Field, e.Msg)
}

func configErrorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
