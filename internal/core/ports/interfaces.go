package ports

import (
	"context"
)

//go:generate mockgen -destination=mocks/mock_interfaces.go -package=mocks -source=interfaces.go

// ManagementAPI abstracts the HTTP transport to the management console.
//
// Implementations return the raw response body of every 2xx answer; the core
// interprets the envelope, which may still carry an error code. Transport
// failures wrap domain.ErrRemoteUnavailable and an HTTP 401 wraps
// domain.ErrAuthentication.
type ManagementAPI interface {
	// Get issues a GET against path, which may carry a query string.
	Get(ctx context.Context, path string) ([]byte, error)

	// Post marshals body as JSON and issues a POST against path.
	Post(ctx context.Context, path string, body any) ([]byte, error)

	// Delete issues a DELETE against path.
	Delete(ctx context.Context, path string) ([]byte, error)
}

// PropertyStore is a flat (kind, id, property) -> value cache of remote
// attributes. It holds no orchestration state.
type PropertyStore interface {
	// Get returns the stored value, or domain.ErrNotFound.
	Get(ctx context.Context, kind, id, property string) (string, error)

	// Set inserts or overwrites a value.
	Set(ctx context.Context, kind, id, property, value string) error
}

// Notifier sends short text notifications to a person.
type Notifier interface {
	Send(ctx context.Context, to, text string) error
}
