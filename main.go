package main

import (
	"errors"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var cfgErr *configError
		if errors.As(err, &cfgErr) {
			exitOnError(err, 2)

			return
		}

		exitOnError(err, 1)
	}
}

// configError marks a configuration failure that must surface before any
// network activity starts: missing/malformed config, validation errors.
type configError struct {
	cause error
}

func (e *configError) Error() string { return e.cause.Error() }
func (e *configError) Unwrap() error { return e.cause }

func wrapConfigError(err error) error {
	if err == nil {
		return nil
	}

	return &configError{cause: err}
}
