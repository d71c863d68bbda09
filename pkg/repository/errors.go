package repository

import (
	"fmt"

	settings "github.com/goliatone/go-settings"
)

// ConfigurationError reports an undefined repository, a missing driver or an
// unsupported driver. It matches settings.ErrConfiguration.
type ConfigurationError struct {
	Name   string
	Driver string
	Reason string
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Driver != "" {
		return fmt.Sprintf("repository: [%s]: %s (driver %q)", e.Name, e.Reason, e.Driver)
	}
	return fmt.Sprintf("repository: [%s]: %s", e.Name, e.Reason)
}

// Is matches settings.ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == settings.ErrConfiguration
}
