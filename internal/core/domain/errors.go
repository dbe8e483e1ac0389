package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRemoteUnavailable = errors.New("management console unavailable")
	ErrAuthentication    = errors.New("authentication rejected")
	ErrNotFound          = errors.New("not found")
	ErrSubmission        = errors.New("job submission failed")
	ErrProvision         = errors.New("storage provisioning failed")
	ErrCleanup           = errors.New("job cleanup failed")
	ErrRunNotFound       = errors.New("run not found")
	ErrInvalidJobSpec    = errors.New("invalid job spec")
	ErrMalformedResponse = errors.New("malformed response")
	ErrInvalidTransition = errors.New("invalid phase transition")
)

// RemoteError is an error-coded envelope returned by the console.
type RemoteError struct {
	Op      string
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: remote error code %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: remote error code %d: %s", e.Op, e.Code, e.Message)
}

// OpError attaches an error kind (one of the sentinels above) to the cause of
// a failed operation. errors.Is matches either.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewOpError is a shorthand for &OpError{...}.
func NewOpError(op string, kind, err error) error {
	return &OpError{Op: op, Kind: kind, Err: err}
}
