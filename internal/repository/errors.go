// Package repository holds the persistence side of the reservation
// engine: the MySQL and in-memory stores, the seat/schedule directory and
// the sentinel errors shared by every layer above them.  Handlers map
// these values onto HTTP status codes.
package repository

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by every "unknown id" error so callers can test
// for the whole family with errors.Is.
var ErrNotFound = errors.New("not found")

var (
	ErrReservationNotFound = fmt.Errorf("reservation %w", ErrNotFound)
	ErrSeatNotFound        = fmt.Errorf("seat %w", ErrNotFound)
	ErrScreeningNotFound   = fmt.Errorf("screening %w", ErrNotFound)
)

// ErrConflict is returned when the seat already has an active
// reservation for the screening.  It is never retried automatically.
var ErrConflict = errors.New("seat already reserved")

// ErrLockTimeout is returned when the seat lock could not be obtained
// within the configured bound.  Callers may retry.
var ErrLockTimeout = errors.New("seat lock wait timeout")

// ErrAlreadyIssued blocks cancellation of a reservation whose ticket has
// been issued.
var ErrAlreadyIssued = errors.New("ticket already issued")

// ErrInsufficientPoints is returned when a requested points deduction
// exceeds the member's available balance.
var ErrInsufficientPoints = errors.New("insufficient points")

// ErrInvalidState is returned for transitions the state machine does not
// allow, e.g. issuing a ticket for a PENDING reservation.
var ErrInvalidState = errors.New("invalid reservation state")

// ErrHoldExpired is returned when a hold was released (typically by the
// sweeper) while its payment was being authorized.
var ErrHoldExpired = errors.New("hold expired before payment completed")

// ErrInvalidRequest flags malformed booking input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrForbidden is returned when the caller does not own the reservation.
var ErrForbidden = errors.New("forbidden")

// ErrPaymentFailed is the sentinel behind every PaymentError.
var ErrPaymentFailed = errors.New("payment failed")

// PaymentError carries the gateway's reason for declining an
// authorization or a cancellation.
type PaymentError struct {
	Op     string // "authorize" or "cancel"
	Reason string
}

func (e *PaymentError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("payment %s failed", e.Op)
	}
	return fmt.Sprintf("payment %s failed: %s", e.Op, e.Reason)
}

func (e *PaymentError) Unwrap() error { return ErrPaymentFailed }
