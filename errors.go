package megacache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoPendingFragment is returned by SaveFragment without a preceding
	// Fragment call that missed.
	ErrNoPendingFragment = errors.New("megacache: no pending fragment")

	// ErrReservedKey is returned when a caller addresses one of the keys the
	// cache uses for its own bookkeeping.
	ErrReservedKey = errors.New("megacache: reserved key")

	ErrEmptyKey = errors.New("megacache: empty key")
	ErrClosed   = errors.New("megacache: cache closed")

	// ErrNotInteger is returned by Increment/Decrement when the stored value
	// does not decode as an integer.
	ErrNotInteger = errors.New("megacache: value is not an integer")
)

// FetchError reports a failed resource retrieval. Failures are never cached.
type FetchError struct {
	Resource string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q: %v", e.Resource, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CloseError aggregates the end-of-session persistence failures.
type CloseError struct {
	RegistryErr error
	StatsErr    error
	ProviderErr error
}

func (e *CloseError) Error() string {
	parts := make([]string, 0, 3)
	if e.RegistryErr != nil {
		parts = append(parts, "persist registry: "+e.RegistryErr.Error())
	}
	if e.StatsErr != nil {
		parts = append(parts, "persist stats: "+e.StatsErr.Error())
	}
	if e.ProviderErr != nil {
		parts = append(parts, "provider: "+e.ProviderErr.Error())
	}
	if len(parts) == 0 {
		return "close: unknown error"
	}
	return "close: " + strings.Join(parts, "; ")
}

func (e *CloseError) Unwrap() []error {
	errs := make([]error, 0, 3)
	for _, err := range []error{e.RegistryErr, e.StatsErr, e.ProviderErr} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
