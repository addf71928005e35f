// Package queue carries reservation lifecycle events over RabbitMQ: the
// payloads, a publisher used by the engine after each commit and a
// consumer that appends every event to an audit log.
package queue

import (
	"time"

	"github.com/sehwan505/uos-ticket-reservation/internal/model"
)

// QueueName is the durable queue all lifecycle events are routed to.
const QueueName = "reservation.events"

// Event types.
const (
	EventCompleted = "reservation.completed"
	EventCancelled = "reservation.cancelled"
	EventExpired   = "reservation.expired"
	EventIssued    = "reservation.issued"
)

// ReservationEvent is published after a reservation transition commits.
// It carries enough for downstream consumers to log, notify or feed
// analytics without querying the primary database.
type ReservationEvent struct {
	Type          string  `json:"type"`
	ReservationID string  `json:"reservation_id"`
	ScreeningID   string  `json:"screening_id"`
	SeatID        uint64  `json:"seat_id"`
	MemberID      *uint64 `json:"member_id,omitempty"`
	Status        string  `json:"status"`
	CancelReason  string  `json:"cancel_reason,omitempty"`
	FinalPrice    int64   `json:"final_price"`
	PaymentID     string  `json:"payment_id,omitempty"`
	OccurredAt    string  `json:"occurred_at"`
}

// NewEvent builds an event of the given type from a reservation snapshot.
func NewEvent(typ string, r *model.Reservation, at time.Time) ReservationEvent {
	ev := ReservationEvent{
		Type:          typ,
		ReservationID: r.ID,
		ScreeningID:   r.ScreeningID,
		SeatID:        r.SeatID,
		MemberID:      r.Owner.MemberID,
		Status:        string(r.Status),
		FinalPrice:    r.FinalPrice,
		OccurredAt:    at.UTC().Format(time.RFC3339),
	}
	if r.CancelReason != nil {
		ev.CancelReason = string(*r.CancelReason)
	}
	if r.PaymentID != nil {
		ev.PaymentID = *r.PaymentID
	}
	return ev
}
