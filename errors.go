package connectreq

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAttached is returned by operations that require an attached
	// coordinator.
	ErrNotAttached = errors.New("coordinator is not attached")

	// ErrAlreadyAttached is returned by Attach on a coordinator that was
	// attached before.
	ErrAlreadyAttached = errors.New("coordinator was already attached")

	// ErrPending is returned by Settlement.Err before the settlement
	// completes.
	ErrPending = errors.New("settlement is pending")
)

// ErrorCode categorizes coordinator errors.
type ErrorCode string

const (
	// ErrCodeUsage indicates an operation was called in the wrong lifecycle
	// state. It fails the call, never the coordinator.
	ErrCodeUsage ErrorCode = "USAGE"

	// ErrCodeTransport indicates the transport reported a failure for a
	// forced command.
	ErrCodeTransport ErrorCode = "TRANSPORT"

	// ErrCodeDerivation indicates the deriver failed or produced a config
	// whose key could not be computed. No state was changed.
	ErrCodeDerivation ErrorCode = "DERIVATION"
)

// Error is returned by Coordinator operations and used to reject
// settlements.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the operation that failed: attach, update, force.
	Op string

	// Name and Key identify the affected query, when there is one.
	Name string
	Key  QueryKey

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Name != "" && e.Key != "":
		return fmt.Sprintf("%s: %s: %v (name=%s, key=%s)", e.Code, e.Op, e.Err, e.Name, e.Key)
	case e.Name != "":
		return fmt.Sprintf("%s: %s: %v (name=%s)", e.Code, e.Op, e.Err, e.Name)
	case e.Key != "":
		return fmt.Sprintf("%s: %s: %v (key=%s)", e.Code, e.Op, e.Err, e.Key)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsUsageError reports whether err is a lifecycle misuse.
func IsUsageError(err error) bool {
	return hasCode(err, ErrCodeUsage)
}

// IsTransportError reports whether err carries a transport failure.
func IsTransportError(err error) bool {
	return hasCode(err, ErrCodeTransport)
}

// IsDerivationError reports whether err came from deriving configs.
func IsDerivationError(err error) bool {
	return hasCode(err, ErrCodeDerivation)
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

func usageError(op string, cause error) *Error {
	return &Error{Code: ErrCodeUsage, Op: op, Err: cause}
}

func derivationError(op, name string, cause error) *Error {
	return &Error{Code: ErrCodeDerivation, Op: op, Name: name, Err: cause}
}

func transportError(name string, key QueryKey, cause error) *Error {
	return &Error{Code: ErrCodeTransport, Op: "force", Name: name, Key: key, Err: cause}
}
