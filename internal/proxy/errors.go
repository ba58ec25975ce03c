package proxy

import "errors"

// Sentinel errors for registry and forwarding operations.
var (
	// ErrNoProviders indicates a registry was constructed with an empty
	// provider list.
	ErrNoProviders = errors.New("proxy: no providers configured")

	// ErrUnknownProvider indicates an operation referenced a provider
	// name that is not in the pool.
	ErrUnknownProvider = errors.New("proxy: unknown provider")

	// ErrPoolExhausted indicates every candidate — including the
	// emergency pass — failed for a single request.
	ErrPoolExhausted = errors.New("proxy: pool exhausted")
)
