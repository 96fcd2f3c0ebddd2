package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"example.com/timeclock/net/ntp"
)

type Reason int

const (
	ReasonNetworkUnreachable Reason = iota
	ReasonTimeout
	ReasonMalformedResponse
	ReasonAuthorityRejected
)

func (r Reason) String() string {
	switch r {
	case ReasonNetworkUnreachable:
		return "network unreachable"
	case ReasonTimeout:
		return "timeout"
	case ReasonMalformedResponse:
		return "malformed response"
	case ReasonAuthorityRejected:
		return "authority rejected"
	default:
		return "unknown"
	}
}

// QueryError is the only error type surfaced by a TimeClient. All
// reasons are recoverable; retry policy is the scheduler's concern,
// never the client's.
type QueryError struct {
	Reason     Reason
	RetryAfter time.Duration // 0 means no hint
	Err        error
}

func (e *QueryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("time query failed: %s", e.Reason)
	}
	return fmt.Sprintf("time query failed: %s: %v", e.Reason, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

var (
	errWrite                  = errors.New("failed to write packet")
	errUnexpectedPacketFlags  = errors.New("failed to read packet: unexpected flags")
	errUnexpectedPacketSource = errors.New("failed to read packet: unexpected source")
	errUnrelatedResponse      = errors.New("response does not match request")
	errNoDateHeader           = errors.New("response carries no Date header")
)

func classify(err error) *QueryError {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}
	switch {
	case errors.Is(err, ntp.ErrKissOfDeath):
		// A kiss-o'-death packet asks the client to back off.
		return &QueryError{Reason: ReasonAuthorityRejected, RetryAfter: 5 * time.Minute, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &QueryError{Reason: ReasonTimeout, Err: err}
	case errors.Is(err, errUnrelatedResponse),
		errors.Is(err, errUnexpectedPacketFlags),
		errors.Is(err, errNoDateHeader):
		return &QueryError{Reason: ReasonMalformedResponse, Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &QueryError{Reason: ReasonTimeout, Err: err}
	}
	return &QueryError{Reason: ReasonNetworkUnreachable, Err: err}
}
