package sse

import (
	"context"
	"fmt"
	"net/http"
)

// Stream is an open event stream.
type Stream interface {
	// Next blocks until the next event or a transport error.
	Next() (Event, error)
	// Close tears the stream down; a blocked Next returns an error.
	Close() error
}

// Dialer opens event streams.
type Dialer interface {
	Dial(ctx context.Context, url string) (Stream, error)
}

// StatusError is returned when the stream endpoint answers with a non-200 status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("event stream: status %d", e.Code)
}

// Unauthorized reports whether the status indicates a rejected credential.
func (e *StatusError) Unauthorized() bool {
	return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
}

// HTTPDialer opens streams over plain HTTP GET requests.
type HTTPDialer struct {
	Client *http.Client
}

// NewHTTPDialer returns a dialer using client, or a timeout-free default client
// when client is nil. Stream requests must not carry a client timeout.
func NewHTTPDialer(client *http.Client) *HTTPDialer {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPDialer{Client: client}
}

// Dial opens url and returns once response headers arrived.
// The stream lives until Close is called or ctx is cancelled.
func (d *HTTPDialer) Dial(ctx context.Context, url string) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := d.Client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, &StatusError{Code: resp.StatusCode}
	}

	return &httpStream{resp: resp, reader: NewReader(resp.Body), cancel: cancel}, nil
}

type httpStream struct {
	resp   *http.Response
	reader *Reader
	cancel context.CancelFunc
}

func (s *httpStream) Next() (Event, error) {
	return s.reader.Next()
}

func (s *httpStream) Close() error {
	s.cancel()
	return s.resp.Body.Close()
}
