package veloxdb

import (
	"errors"
	"fmt"
)

// Sentinel errors for the three failure categories surfaced by the core.
var (
	// ErrInvalidOperation is matched by every InvalidOperationError.
	// The caller violated a precondition and the call must not be retried.
	ErrInvalidOperation = errors.New("veloxdb: invalid operation")

	// ErrProviderIncompatible is matched by every ProviderIncompatibleError.
	// A backend violated the provider contract.
	ErrProviderIncompatible = errors.New("veloxdb: provider incompatible")

	// ErrStoreFailed is matched by every StoreError.
	// The physical store failed an operation and the failure may be transient.
	ErrStoreFailed = errors.New("veloxdb: store operation failed")

	// ErrNotSupported is returned by providers for optional capabilities they do not
	// implement. It always reaches callers wrapped in a ProviderIncompatibleError.
	ErrNotSupported = errors.New("veloxdb: operation not supported by provider")
)

// InvalidOperationError reports a violated precondition, such as a missing connection,
// a wrong connection state or a malformed parameter.
type InvalidOperationError struct {
	Op  string // Operation that failed (e.g., "open", "prepare")
	Msg string // Human readable reason
}

// Error returns the error string.
func (e *InvalidOperationError) Error() string {
	if e.Op == "" {
		return "veloxdb: " + e.Msg
	}
	return fmt.Sprintf("veloxdb: %s: %s", e.Op, e.Msg)
}

// Is reports whether the target error matches ErrInvalidOperation.
func (e *InvalidOperationError) Is(err error) bool {
	return err == ErrInvalidOperation
}

// NewInvalidOperationError returns a new InvalidOperationError.
func NewInvalidOperationError(op, msg string) *InvalidOperationError {
	return &InvalidOperationError{Op: op, Msg: msg}
}

// InvalidOperationf returns an InvalidOperationError with a formatted message.
func InvalidOperationf(op, format string, a ...any) *InvalidOperationError {
	return &InvalidOperationError{Op: op, Msg: fmt.Sprintf(format, a...)}
}

// IsInvalidOperation returns true if the error is an InvalidOperationError.
func IsInvalidOperation(err error) bool {
	if err == nil {
		return false
	}
	var e *InvalidOperationError
	return errors.As(err, &e) || errors.Is(err, ErrInvalidOperation)
}

// ProviderIncompatibleError reports that a provider broke its contract: it returned
// nothing where a value was required, failed with an uncategorized error, or lacks an
// optional capability. The original failure is kept in Err.
type ProviderIncompatibleError struct {
	Op  string // Contract operation (e.g., "GetManifestToken")
	Msg string // Message for Op taken from the operation table
	Err error  // Underlying provider error, may be nil
}

// Error returns the error string.
func (e *ProviderIncompatibleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("veloxdb: provider incompatible: %s: %v", e.Msg, e.Err)
	}
	return "veloxdb: provider incompatible: " + e.Msg
}

// Unwrap returns the underlying error.
func (e *ProviderIncompatibleError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches ErrProviderIncompatible.
func (e *ProviderIncompatibleError) Is(err error) bool {
	return err == ErrProviderIncompatible
}

// NewProviderIncompatibleError returns a new ProviderIncompatibleError.
func NewProviderIncompatibleError(op, msg string, err error) *ProviderIncompatibleError {
	return &ProviderIncompatibleError{Op: op, Msg: msg, Err: err}
}

// IsProviderIncompatible returns true if the error is a ProviderIncompatibleError.
func IsProviderIncompatible(err error) bool {
	if err == nil {
		return false
	}
	var e *ProviderIncompatibleError
	return errors.As(err, &e)
}

// IsNotSupported returns true if a provider reported that it does not implement
// the requested capability.
func IsNotSupported(err error) bool {
	return err != nil && errors.Is(err, ErrNotSupported)
}

// StoreError wraps a failure of the physical store on open, begin-transaction or
// command execution.
type StoreError struct {
	Op  string // Physical operation (e.g., "open", "begin transaction")
	Err error  // Underlying driver error
}

// Error returns the error string.
func (e *StoreError) Error() string {
	return fmt.Sprintf("veloxdb: the underlying provider failed on %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches ErrStoreFailed.
func (e *StoreError) Is(err error) bool {
	return err == ErrStoreFailed
}

// NewStoreError returns a new StoreError. Errors that are already categorized
// are returned unchanged.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsInvalidOperation(err) || IsProviderIncompatible(err) || IsStoreError(err) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError returns true if the error is a StoreError.
func IsStoreError(err error) bool {
	if err == nil {
		return false
	}
	var e *StoreError
	return errors.As(err, &e)
}
