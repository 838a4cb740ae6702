package publication

import (
	"errors"
	"fmt"
)

var (
	ErrPublicationClosed   = errors.New("publication is closed")
	ErrMaxPositionExceeded = errors.New("publication reached max position")
	ErrMessageTooLong      = errors.New("message exceeds max payload length")
	ErrInvalidChannel      = errors.New("invalid channel")
	ErrConductorClosed     = errors.New("conductor is closed")
)

// Status classifies the outcome of an offer.
type Status int8

const (
	// StatusOK means the message was appended.
	StatusOK Status = iota
	// NotConnected means no consumer is attached; the message was not appended.
	NotConnected
	// BackPressured means the flow-control limit was reached while connected; retry after backoff.
	BackPressured
	// AdminAction means an internal housekeeping step (term rotation) happened; retry immediately.
	AdminAction
	// PublicationClosed means the publication was closed; no side effects.
	PublicationClosed
	// MaxPositionExceeded means the stream can never advance again.
	MaxPositionExceeded

	numStatuses
)

// Signed codes returned by Code for non-success outcomes
const (
	CodeNotConnected        int64 = -1
	CodeBackPressured       int64 = -2
	CodeAdminAction         int64 = -3
	CodePublicationClosed   int64 = -4
	CodeMaxPositionExceeded int64 = -5
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case NotConnected:
		return "not_connected"
	case BackPressured:
		return "back_pressured"
	case AdminAction:
		return "admin_action"
	case PublicationClosed:
		return "closed"
	case MaxPositionExceeded:
		return "max_position_exceeded"
	default:
		return fmt.Sprintf("status(%d)", int8(s))
	}
}

// Retryable reports whether the same offer may succeed if repeated.
// NotConnected is left to the caller's policy.
func (s Status) Retryable() bool {
	return s == AdminAction || s == BackPressured
}

// Result is the tagged outcome of an offer: a new stream position when the
// status is StatusOK, otherwise only the status.
type Result struct {
	position int64
	status   Status
}

// Success builds a successful result.
func Success(position int64) Result {
	return Result{position: position, status: StatusOK}
}

// Failure builds a result carrying a non-success status.
func Failure(status Status) Result {
	return Result{position: 0, status: status}
}

// OK reports whether the message was appended.
func (r Result) OK() bool { return r.status == StatusOK }

// Status returns the outcome classification.
func (r Result) Status() Status { return r.status }

// Position returns the stream position after the appended message. Only
// meaningful when OK.
func (r Result) Position() int64 { return r.position }

// Code returns the position on success or the negative code for the status.
func (r Result) Code() int64 {
	switch r.status {
	case StatusOK:
		return r.position
	case NotConnected:
		return CodeNotConnected
	case BackPressured:
		return CodeBackPressured
	case AdminAction:
		return CodeAdminAction
	case PublicationClosed:
		return CodePublicationClosed
	default:
		return CodeMaxPositionExceeded
	}
}

// Err returns an error for terminal and usage outcomes, nil otherwise.
func (r Result) Err() error {
	switch r.status {
	case PublicationClosed:
		return ErrPublicationClosed
	case MaxPositionExceeded:
		return ErrMaxPositionExceeded
	default:
		return nil
	}
}

func (r Result) String() string {
	if r.status == StatusOK {
		return fmt.Sprintf("ok(%d)", r.position)
	}
	return r.status.String()
}
