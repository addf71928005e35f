package model

import "time"

// PaymentMethod is how the customer pays the amount left after points.
type PaymentMethod string

const (
	MethodCard         PaymentMethod = "CARD"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodPoints       PaymentMethod = "POINTS" // fully covered by points, no gateway call
)

// ValidMethod reports whether m is a method a customer may request.
func ValidMethod(m PaymentMethod) bool {
	return m == MethodCard || m == MethodBankTransfer
}

// PaymentStatus tracks the payment half of a booking.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// Payment is persisted only once the gateway approved it.  It references
// its reservation by id; the reservation points back only by PaymentID.
//
// Fields:
//  ID             – uuid.
//  ReservationID  – owning reservation.
//  Method         – CARD, BANK_TRANSFER or POINTS.
//  Amount         – reservation final price.
//  PointsUsed     – points deducted from Amount.
//  Charged        – Amount - PointsUsed, what the gateway authorized.
//  Status         – PENDING, COMPLETED or CANCELLED.
//  ApprovalToken  – gateway token used for later cancellation.
type Payment struct {
	ID            string        // payments.id
	ReservationID string        // payments.reservation_id
	Method        PaymentMethod // payments.method
	Amount        int64         // payments.amount
	PointsUsed    int64         // payments.points_used
	Charged       int64         // payments.charged
	Status        PaymentStatus // payments.status
	ApprovalToken string        // payments.approval_token
	CreatedAt     time.Time     // payments.created_at
	UpdatedAt     time.Time     // payments.updated_at
}
