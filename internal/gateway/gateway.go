// Package gateway defines the payment gateway port the booking engine
// talks to, together with a probabilistic simulator, deterministic doubles
// and a Stripe adapter.
package gateway

import (
	"context"

	"github.com/sehwan505/uos-ticket-reservation/internal/model"
)

// Port authorizes and cancels payments.  Implementations must honour ctx:
// the engine bounds every call with a timeout and treats an expired
// context as a failed payment.
type Port interface {
	// Authorize asks the gateway to approve a charge.
	Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error)

	// Cancel voids a previously approved authorization.
	Cancel(ctx context.Context, approvalToken string) (CancelResult, error)

	// Name returns the gateway name
	Name() string
}

// AuthorizeRequest is a charge of Amount won by Method.  InstrumentRef is
// the card or account reference supplied by the customer.
type AuthorizeRequest struct {
	PaymentID     string
	ReservationID string
	Method        model.PaymentMethod
	Amount        int64
	InstrumentRef string
}

// AuthorizeResult reports the gateway decision.  ApprovalToken is set when
// Approved; ReasonCode explains a decline.
type AuthorizeResult struct {
	Approved      bool
	ApprovalToken string
	ReasonCode    string
}

// CancelResult reports whether a cancellation was accepted.
type CancelResult struct {
	Approved   bool
	ReasonCode string
}

// Reason codes shared by the implementations.
const (
	ReasonDeclined       = "declined"
	ReasonCancelRefused  = "cancel_refused"
	ReasonTimeout        = "timeout"
	ReasonUnknownToken   = "unknown_token"
	ReasonRequiresAction = "requires_action"
	ReasonInvalidAmount  = "invalid_amount"
	ReasonGatewayError   = "gateway_error"
)
