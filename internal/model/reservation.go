package model

import (
	"fmt"
	"time"
)

// ReservationStatus is the persisted lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusPending   ReservationStatus = "PENDING"   // hold acquired, payment not confirmed
	StatusCompleted ReservationStatus = "COMPLETED" // payment confirmed
	StatusCancelled ReservationStatus = "CANCELLED" // cancelled, expired or payment failed
)

// Active reports whether a reservation in this status occupies its seat.
func (s ReservationStatus) Active() bool {
	return s == StatusPending || s == StatusCompleted
}

// CancelReason records why a reservation ended up CANCELLED.
type CancelReason string

const (
	CancelByCustomer      CancelReason = "CUSTOMER"
	CancelExpired         CancelReason = "EXPIRED"
	CancelPaymentFailed   CancelReason = "PAYMENT_FAILED"
	CancelInsufficientPts CancelReason = "POINTS"
)

// Owner identifies who a reservation belongs to.  Exactly one of MemberID
// or Phone is set.  Non-members prove ownership with a PIN whose bcrypt
// hash is kept in PinHash.
type Owner struct {
	MemberID *uint64 // members.id (nil for non-members)
	Phone    string  // non-member phone number
	PinHash  string  // bcrypt hash of the non-member PIN
}

// IsMember reports whether the owner is a registered member.
func (o Owner) IsMember() bool { return o.MemberID != nil }

// Valid reports whether exactly one kind of identity is present.
func (o Owner) Valid() bool {
	if o.MemberID != nil {
		return o.Phone == "" && *o.MemberID != 0
	}
	return o.Phone != "" && o.PinHash != ""
}

// Reservation records one seat of one screening.  Reservations are never
// deleted; they only move between statuses.
//
// Fields:
//  ID             – "<screening>-<seat>-<seq>", allocated under the seat lock.
//  ScreeningID    – screening being booked.
//  SeatID         – seat being booked.
//  Owner          – member or phone-identified non-member.
//  Status         – PENDING, COMPLETED or CANCELLED.
//  BasePrice      – seat grade price in won.
//  DiscountCode   – optional discount code applied at hold time.
//  DiscountAmount – amount removed from BasePrice.
//  FinalPrice     – BasePrice - DiscountAmount, fixed at hold time.
//  Issued         – ticket printed; blocks any further transition.
//  CancelReason   – set when Status is CANCELLED.
//  PaymentID      – payments.id once payment completed.
type Reservation struct {
	ID             string            // reservations.id
	ScreeningID    string            // reservations.screening_id
	SeatID         uint64            // reservations.seat_id
	Owner          Owner             // reservations.member_id / phone / pin_hash
	Status         ReservationStatus // reservations.status
	BasePrice      int64             // reservations.base_price
	DiscountCode   string            // reservations.discount_code
	DiscountAmount int64             // reservations.discount_amount
	FinalPrice     int64             // reservations.final_price
	Issued         bool              // reservations.issued
	CancelReason   *CancelReason     // reservations.cancel_reason (nullable)
	PaymentID      *string           // reservations.payment_id (nullable)
	CreatedAt      time.Time         // reservations.created_at
	UpdatedAt      time.Time         // reservations.updated_at
}

// ReservationID formats the identifier for the seq-th reservation of a
// seat in a screening.
func ReservationID(screeningID string, seatID uint64, seq uint32) string {
	return fmt.Sprintf("%s-%d-%03d", screeningID, seatID, seq)
}

// FinalPrice applies a discount to a base price.  The discount never
// drives the price below zero.
func FinalPrice(base, discount int64) int64 {
	if discount > base {
		return 0
	}
	return base - discount
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	if r.Owner.MemberID != nil {
		id := *r.Owner.MemberID
		c.Owner.MemberID = &id
	}
	if r.CancelReason != nil {
		reason := *r.CancelReason
		c.CancelReason = &reason
	}
	if r.PaymentID != nil {
		pid := *r.PaymentID
		c.PaymentID = &pid
	}
	return &c
}
