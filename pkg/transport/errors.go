package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a failed request so callers can decide between
// retryable network conditions and hard status rejections.
type ErrorKind string

const (
	KindTimeout ErrorKind = "timeout"
	KindNetwork ErrorKind = "network"
	KindStatus  ErrorKind = "status"
)

// TransportError is the classified result of a failed Request. Raw network
// errors never escape the adapter boundary.
type TransportError struct {
	Kind   ErrorKind
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("transport: %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("transport: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// classify converts a low-level request error into a TransportError.
func classify(op string, err error) *TransportError {
	kind := KindNetwork
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		kind = KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &TransportError{Kind: kind, Op: op, Err: err}
}
