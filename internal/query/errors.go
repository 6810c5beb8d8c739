package query

import (
	"errors"
	"fmt"
)

// ErrResolutionExhausted is returned when every provider in the chain,
// including the terminal one, failed. The terminal provider is not
// supposed to fail, so this signals a configuration error.
var ErrResolutionExhausted = errors.New("resolution exhausted: terminal provider failed")

// FetchError is a single provider's failed attempt.
type FetchError struct {
	Provider string
	Query    Query
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("provider %s fetch failed for %s: %v", e.Provider, e.Query, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
