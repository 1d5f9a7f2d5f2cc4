package workflow

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// UpstreamKind classifies a failed call to a workflow endpoint.
type UpstreamKind string

const (
	KindTimeout   UpstreamKind = "timeout"
	KindProtocol  UpstreamKind = "protocol"
	KindTransport UpstreamKind = "transport"
)

var (
	// ErrUpstreamTimeout matches endpoint calls that ran out of time.
	ErrUpstreamTimeout = errors.New("workflow endpoint timed out")
	// ErrUpstreamProtocol matches non-2xx statuses and unusable replies.
	ErrUpstreamProtocol = errors.New("workflow endpoint protocol error")
	// ErrUpstreamUnavailable matches connection level failures.
	ErrUpstreamUnavailable = errors.New("workflow endpoint unavailable")
	// ErrUnknownEntity is returned for entity types with no owning endpoint.
	ErrUnknownEntity = errors.New("unknown entity type")
)

// UpstreamError describes a failed workflow endpoint call.
type UpstreamError struct {
	Endpoint   string
	Kind       UpstreamKind
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("workflow %s: %s", e.Endpoint, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *UpstreamError) Unwrap() []error {
	errs := []error{e.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *UpstreamError) sentinel() error {
	switch e.Kind {
	case KindTimeout:
		return ErrUpstreamTimeout
	case KindProtocol:
		return ErrUpstreamProtocol
	default:
		return ErrUpstreamUnavailable
	}
}

// transportError classifies an error returned by http.Client.Do.
func transportError(endpoint string, err error) *UpstreamError {
	kind := KindTransport
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &UpstreamError{Endpoint: endpoint, Kind: kind, Err: err}
}
