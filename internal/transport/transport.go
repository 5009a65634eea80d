package transport

import (
	"context"
	"net/url"

	"github.com/TheMichaelB/booktu/internal/config"
	"github.com/TheMichaelB/booktu/internal/events"
)

type noRetryKey struct{}

// WithoutRetry marks ctx so requests made with it are sent exactly once,
// whatever the configured retry count.
func WithoutRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey{}, true)
}

func retriesDisabled(ctx context.Context) bool {
	disabled, _ := ctx.Value(noRetryKey{}).(bool)
	return disabled
}

// Transport is the JSON-over-HTTP contract with the remote inventory API.
// Non-2xx replies surface as *models.APIError; requests that never got a
// reply surface as *models.TransportError.
type Transport interface {
	GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error
	PostJSON(ctx context.Context, path string, payload, out interface{}) error
	PutJSON(ctx context.Context, path string, payload, out interface{}) error
	Delete(ctx context.Context, path string) error

	// Authentication
	SetToken(token string)
	GetToken() string

	// Lifecycle
	Close() error
}

// DefaultTransport implements the Transport interface.
type DefaultTransport struct {
	*HTTPClient
}

// NewTransport creates a transport instance.
func NewTransport(cfg *config.APIConfig, logger *events.Logger) Transport {
	return &DefaultTransport{HTTPClient: NewHTTPClient(cfg, logger)}
}

// Close releases idle connections.
func (t *DefaultTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
