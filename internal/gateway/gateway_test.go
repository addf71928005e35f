package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sehwan505/uos-ticket-reservation/internal/model"
)

func card(amount int64) AuthorizeRequest {
	return AuthorizeRequest{PaymentID: "p1", ReservationID: "S1-1-001", Method: model.MethodCard, Amount: amount}
}

func TestSimulator_AlwaysApproves(t *testing.T) {
	g := NewSimulator(&SimulatorConfig{ApproveRate: 1, CancelRate: 1, Seed: 1})

	res, err := g.Authorize(context.Background(), card(12000))
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.NotEmpty(t, res.ApprovalToken)

	cres, err := g.Cancel(context.Background(), res.ApprovalToken)
	require.NoError(t, err)
	assert.True(t, cres.Approved)
}

func TestSimulator_AlwaysDeclines(t *testing.T) {
	g := NewSimulator(&SimulatorConfig{ApproveRate: 0, CancelRate: 0, Seed: 1, FailureReasons: []string{"card_declined"}})

	res, err := g.Authorize(context.Background(), card(12000))
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, "card_declined", res.ReasonCode)

	cres, err := g.Cancel(context.Background(), "tok")
	require.NoError(t, err)
	assert.False(t, cres.Approved)
	assert.Equal(t, ReasonCancelRefused, cres.ReasonCode)
}

func TestSimulator_ApproveRate(t *testing.T) {
	g := NewSimulator(&SimulatorConfig{ApproveRate: 0.95, CancelRate: 0.98, Seed: 42})
	approved := 0
	const n = 2000
	for i := 0; i < n; i++ {
		res, err := g.Authorize(context.Background(), card(1000))
		require.NoError(t, err)
		if res.Approved {
			approved++
		}
	}
	assert.InDelta(t, 0.95, float64(approved)/n, 0.03)
}

func TestSimulator_HonoursContext(t *testing.T) {
	g := NewSimulator(&SimulatorConfig{ApproveRate: 1, CancelRate: 1, Delay: time.Minute, Seed: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.Authorize(ctx, card(1000))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulator_RejectsNonPositiveAmount(t *testing.T) {
	g := NewSimulator(&SimulatorConfig{ApproveRate: 1, Seed: 1})
	res, err := g.Authorize(context.Background(), card(0))
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, ReasonInvalidAmount, res.ReasonCode)
}

func TestFixed(t *testing.T) {
	g := NewFixed(Approve, Decline)
	res, err := g.Authorize(context.Background(), card(1000))
	require.NoError(t, err)
	assert.True(t, res.Approved)

	cres, err := g.Cancel(context.Background(), res.ApprovalToken)
	require.NoError(t, err)
	assert.False(t, cres.Approved)

	assert.Equal(t, int64(1), g.Authorizations())
	assert.Equal(t, int64(1), g.Cancellations())

	stall := NewFixed(Stall, Stall)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = stall.Authorize(ctx, card(1000))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFactory(t *testing.T) {
	g, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, "simulator", g.Name())

	g, err = New(Config{Type: "Decline"})
	require.NoError(t, err)
	res, err := g.Authorize(context.Background(), card(1000))
	require.NoError(t, err)
	assert.False(t, res.Approved)

	_, err = New(Config{Type: "stripe"})
	assert.Error(t, err, "stripe needs a secret key")

	_, err = New(Config{Type: "paypal"})
	assert.Error(t, err)
}
