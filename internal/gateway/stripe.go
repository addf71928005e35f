package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
)

// StripeGateway implements Port with manually captured Stripe
// PaymentIntents.  An authorization is a confirmed intent waiting for
// capture; cancelling voids it, or refunds it once captured.
type StripeGateway struct {
	config *StripeGatewayConfig
}

// StripeGatewayConfig holds configuration for the Stripe gateway.
type StripeGatewayConfig struct {
	SecretKey string
	Currency  string // ISO code, "krw" by default (zero-decimal)
}

// NewStripeGateway creates a new Stripe gateway.
func NewStripeGateway(config *StripeGatewayConfig) (*StripeGateway, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if config.Currency == "" {
		config.Currency = "krw"
	}

	// Set Stripe API key globally
	stripe.Key = config.SecretKey

	return &StripeGateway{config: config}, nil
}

// Authorize creates and confirms a PaymentIntent with manual capture.
func (g *StripeGateway) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	if req.Amount <= 0 {
		return AuthorizeResult{ReasonCode: ReasonInvalidAmount}, nil
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(g.config.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Confirm:       stripe.Bool(true),
		Metadata: map[string]string{
			"payment_id":     req.PaymentID,
			"reservation_id": req.ReservationID,
			"method":         string(req.Method),
		},
	}
	if req.InstrumentRef != "" {
		params.PaymentMethod = stripe.String(req.InstrumentRef)
	}
	params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		if code, ok := declineCode(err); ok {
			return AuthorizeResult{ReasonCode: code}, nil
		}
		return AuthorizeResult{}, fmt.Errorf("stripe authorize: %w", err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusRequiresCapture, stripe.PaymentIntentStatusSucceeded:
		return AuthorizeResult{Approved: true, ApprovalToken: pi.ID}, nil
	case stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresPaymentMethod:
		return AuthorizeResult{ReasonCode: ReasonRequiresAction}, nil
	default:
		return AuthorizeResult{ReasonCode: string(pi.Status)}, nil
	}
}

// Cancel voids an uncaptured PaymentIntent or refunds a captured one.
func (g *StripeGateway) Cancel(ctx context.Context, approvalToken string) (CancelResult, error) {
	if approvalToken == "" {
		return CancelResult{ReasonCode: ReasonUnknownToken}, nil
	}
	getParams := &stripe.PaymentIntentParams{}
	getParams.Context = ctx
	pi, err := paymentintent.Get(approvalToken, getParams)
	if err != nil {
		return CancelResult{}, fmt.Errorf("stripe get payment intent: %w", err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusCanceled:
		return CancelResult{Approved: true}, nil
	case stripe.PaymentIntentStatusSucceeded:
		params := &stripe.RefundParams{PaymentIntent: stripe.String(approvalToken)}
		params.Context = ctx
		if _, err := refund.New(params); err != nil {
			if code, ok := declineCode(err); ok {
				return CancelResult{ReasonCode: code}, nil
			}
			return CancelResult{}, fmt.Errorf("stripe refund: %w", err)
		}
		return CancelResult{Approved: true}, nil
	default:
		params := &stripe.PaymentIntentCancelParams{}
		params.Context = ctx
		if _, err := paymentintent.Cancel(approvalToken, params); err != nil {
			if code, ok := declineCode(err); ok {
				return CancelResult{ReasonCode: code}, nil
			}
			return CancelResult{}, fmt.Errorf("stripe cancel: %w", err)
		}
		return CancelResult{Approved: true}, nil
	}
}

// declineCode extracts a reason from card and invalid-request errors so
// they surface as declines rather than transport failures.
func declineCode(err error) (string, bool) {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return "", false
	}
	switch se.Type {
	case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
		if se.DeclineCode != "" {
			return string(se.DeclineCode), true
		}
		if se.Code != "" {
			return string(se.Code), true
		}
		return ReasonDeclined, true
	}
	return "", false
}

// Name returns the gateway name
func (g *StripeGateway) Name() string { return "stripe" }
