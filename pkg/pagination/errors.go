package pagination

import (
	"errors"
	"fmt"
)

// Errors returned by resources, controllers and bindings.
var (
	// ErrInvalidEventName is returned by Controller.On for unknown event names.
	ErrInvalidEventName = errors.New("invalid event name")

	// ErrRejected is returned when writing a read-only or cross-mode field of a Binding.
	ErrRejected = errors.New("write rejected")

	// ErrInvalidConfig indicates malformed instance options or patches.
	ErrInvalidConfig = errors.New("invalid instance config")

	// ErrUnknownInstance is returned for operations on an instance that is not tracked.
	ErrUnknownInstance = errors.New("unknown instance")

	// ErrResourceType is returned when a resource name is reused with a different item type.
	ErrResourceType = errors.New("resource registered with a different item type")

	// ErrIncomplete is returned by FetchRange when the fetched range could not be
	// assembled, e.g. because the total changed between pages of one batch.
	ErrIncomplete = errors.New("range incomplete")
)

// FetchError wraps an error returned by a resource's fetch function.
// errors.Is and errors.As see the original error through Unwrap.
type FetchError struct {
	Resource string
	Page     int
	Err      error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s page %d: %v", e.Resource, e.Page, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}
