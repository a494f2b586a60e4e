package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrHTTPStatus indicates the server answered with a status other than 200.
type ErrHTTPStatus struct {
	Code int
	Err  error
}

func (e ErrHTTPStatus) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("http_status: %d", e.Code)
	}
	return fmt.Errorf("http_status %d: %w", e.Code, e.Err).Error()
}

func (e ErrHTTPStatus) Unwrap() error {
	return e.Err
}

// ErrTransport indicates a connection, TLS or body decoding failure.
type ErrTransport struct {
	Err error
}

func (e ErrTransport) Error() string {
	return fmt.Errorf("transport: %w", e.Err).Error()
}

func (e ErrTransport) Unwrap() error {
	return e.Err
}

// Classify maps a raw request error and status code onto the typed failures.
// It returns nil for a clean 200 exchange.
func Classify(err error, statusCode int) error {
	if err == nil && (statusCode == 0 || statusCode == 200) {
		return nil
	}

	var (
		timeout ErrTimeout
		status  ErrHTTPStatus
		tr      ErrTransport
	)
	if errors.As(err, &timeout) || errors.As(err, &status) || errors.As(err, &tr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}

	if statusCode != 0 && statusCode != 200 {
		return ErrHTTPStatus{Code: statusCode, Err: err}
	}

	return ErrTransport{Err: err}
}

// Label returns a short metrics label for a fetch failure.
func Label(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var status ErrHTTPStatus
	if errors.As(err, &status) {
		return "http_status"
	}
	var tr ErrTransport
	if errors.As(err, &tr) {
		return "transport"
	}
	return "other"
}
