package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies transport failures.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "network_timeout"
	KindConnection ErrorKind = "connection_error"
)

// TransportError is returned when no HTTP response was received.
type TransportError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func classifyTransport(err error) *TransportError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Kind: KindTimeout, Err: err}
	}
	return &TransportError{Kind: KindConnection, Err: err}
}
