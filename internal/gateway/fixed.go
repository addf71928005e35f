package gateway

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Outcome is the canned answer of a Fixed gateway.
type Outcome int

const (
	Approve Outcome = iota
	Decline
	Stall // block until the context is done
)

// Fixed always answers with the configured outcomes.  It counts calls so
// tests can assert whether the gateway was reached.
type Fixed struct {
	AuthorizeOutcome Outcome
	CancelOutcome    Outcome

	authorizations atomic.Int64
	cancellations  atomic.Int64
}

// NewFixed returns a gateway answering every authorization with auth and
// every cancellation with cancel.
func NewFixed(auth, cancel Outcome) *Fixed {
	return &Fixed{AuthorizeOutcome: auth, CancelOutcome: cancel}
}

// Authorize answers with AuthorizeOutcome.
func (g *Fixed) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	n := g.authorizations.Add(1)
	switch g.AuthorizeOutcome {
	case Decline:
		return AuthorizeResult{ReasonCode: ReasonDeclined}, nil
	case Stall:
		<-ctx.Done()
		return AuthorizeResult{}, ctx.Err()
	}
	return AuthorizeResult{Approved: true, ApprovalToken: fmt.Sprintf("fixed_%d", n)}, nil
}

// Cancel answers with CancelOutcome.
func (g *Fixed) Cancel(ctx context.Context, approvalToken string) (CancelResult, error) {
	g.cancellations.Add(1)
	switch g.CancelOutcome {
	case Decline:
		return CancelResult{ReasonCode: ReasonCancelRefused}, nil
	case Stall:
		<-ctx.Done()
		return CancelResult{}, ctx.Err()
	}
	return CancelResult{Approved: true}, nil
}

// Authorizations returns how many times Authorize was called.
func (g *Fixed) Authorizations() int64 { return g.authorizations.Load() }

// Cancellations returns how many times Cancel was called.
func (g *Fixed) Cancellations() int64 { return g.cancellations.Load() }

// Name returns the gateway name
func (g *Fixed) Name() string { return "fixed" }
