package registry

import "errors"

var (
	// ErrUnknownProvider is returned for ids that are not registered.
	ErrUnknownProvider = errors.New("registry: unknown provider")
)
