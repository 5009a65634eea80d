package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/TheMichaelB/booktu/internal/models"
)

// MockHandler produces the reply for one mocked request. A nil error with a
// non-nil response is encoded into the caller's out value.
type MockHandler func(req Request) (interface{}, error)

// Request records a call made through the MockTransport.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Payload interface{}
}

// MockTransport provides a mock implementation for testing.
type MockTransport struct {
	mu sync.Mutex

	// Response configuration, keyed by "METHOD path".
	Handlers map[string]MockHandler

	// Error injection
	Err error

	// Delay is applied before each reply; it honors context cancellation.
	Delay time.Duration

	// Request tracking
	Requests []Request

	token  string
	closed bool
}

// NewMockTransport creates a mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		Handlers: make(map[string]MockHandler),
		Requests: []Request{},
	}
}

// Handle registers a handler for method and path.
func (m *MockTransport) Handle(method, path string, h MockHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[method+" "+path] = h
}

// AddResponse registers a fixed response for method and path.
func (m *MockTransport) AddResponse(method, path string, response interface{}) {
	m.Handle(method, path, func(Request) (interface{}, error) {
		return response, nil
	})
}

// AddError makes every call to method and path fail with err.
func (m *MockTransport) AddError(method, path string, err error) {
	m.Handle(method, path, func(Request) (interface{}, error) {
		return nil, err
	})
}

// RequestsTo returns the tracked requests for method and path.
func (m *MockTransport) RequestsTo(method, path string) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Request
	for _, r := range m.Requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// GetJSON mocks HTTP GET.
func (m *MockTransport) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	return m.call(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

// PostJSON mocks HTTP POST.
func (m *MockTransport) PostJSON(ctx context.Context, path string, payload, out interface{}) error {
	return m.call(ctx, Request{Method: http.MethodPost, Path: path, Payload: payload}, out)
}

// PutJSON mocks HTTP PUT.
func (m *MockTransport) PutJSON(ctx context.Context, path string, payload, out interface{}) error {
	return m.call(ctx, Request{Method: http.MethodPut, Path: path, Payload: payload}, out)
}

// Delete mocks HTTP DELETE.
func (m *MockTransport) Delete(ctx context.Context, path string) error {
	return m.call(ctx, Request{Method: http.MethodDelete, Path: path}, nil)
}

func (m *MockTransport) call(ctx context.Context, req Request, out interface{}) error {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	injected := m.Err
	handler, ok := m.Handlers[req.Method+" "+req.Path]
	delay := m.Delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &models.TransportError{Op: req.Method + " " + req.Path, Err: ctx.Err()}
		}
	}

	if injected != nil {
		return injected
	}

	if !ok {
		return &models.APIError{
			StatusCode: http.StatusNotFound,
			Message:    fmt.Sprintf("no mock response for %s %s", req.Method, req.Path),
		}
	}

	resp, err := handler(req)
	if err != nil {
		return err
	}

	if out == nil || resp == nil {
		return nil
	}

	// Round-trip through JSON so callers see what a real decode would produce.
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal mock response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// SetToken mocks token setting.
func (m *MockTransport) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// GetToken returns the current token.
func (m *MockTransport) GetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Close mocks connection closing.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
