package config

import "errors"

// Sentinel errors for configuration loading.
var (
	// ErrMissingEnv is returned when a ${VAR} reference has no value.
	ErrMissingEnv = errors.New("config: missing required environment variables")

	// ErrInvalid is wrapped by every validation error.
	ErrInvalid = errors.New("config: invalid configuration")
)
