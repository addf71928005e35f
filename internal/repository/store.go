package repository

import (
	"time"

	"github.com/sehwan505/uos-ticket-reservation/internal/model"
)

// HoldRequest carries everything needed to insert a PENDING reservation.
// Prices are resolved by the caller before the seat lock is taken.
type HoldRequest struct {
	ScreeningID    string
	SeatID         uint64
	Owner          model.Owner
	BasePrice      int64
	DiscountCode   string
	DiscountAmount int64
}

// CompleteRequest finalizes an authorized booking.  Payment, the points
// deduction and the purchase accrual are written in one transaction
// together with the status change.
type CompleteRequest struct {
	ReservationID string
	Payment       model.Payment
	PointsUsed    int64 // USE entry, 0 for none
	Accrual       int64 // pending ACCRUE entry, 0 for none
}

// ConfirmFunc is invoked by Cancel for a COMPLETED reservation after it was
// validated and before anything is written.  No lock is held while it
// runs.  Returning an error aborts the cancellation and leaves the
// reservation untouched.
type ConfirmFunc func(res *model.Reservation, pay *model.Payment) error

// checkCancellable rejects issued and already cancelled reservations.
func checkCancellable(res *model.Reservation) error {
	if res.Issued {
		return ErrAlreadyIssued
	}
	if res.Status == model.StatusCancelled {
		return ErrInvalidState
	}
	return nil
}

// checkUnchanged verifies that a reservation confirmed for cancellation
// was not issued, cancelled or re-paid while confirm ran.
func checkUnchanged(before, now *model.Reservation) error {
	if now.Issued {
		return ErrAlreadyIssued
	}
	if now.Status != before.Status || !samePayment(before.PaymentID, now.PaymentID) {
		return ErrInvalidState
	}
	return nil
}

func samePayment(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// StaleCursor is the position of the last stale hold a sweep has listed.
// Listing resumes strictly after (CreatedAt, ID).
type StaleCursor struct {
	CreatedAt time.Time
	ID        string
}

// After reports whether res sorts after the cursor.  A nil cursor is
// before everything.
func (c *StaleCursor) After(res *model.Reservation) bool {
	if c == nil {
		return true
	}
	if !res.CreatedAt.Equal(c.CreatedAt) {
		return res.CreatedAt.After(c.CreatedAt)
	}
	return res.ID > c.ID
}

// DefaultLockTimeout bounds the wait for a seat or reservation lock.
const DefaultLockTimeout = 5 * time.Second
