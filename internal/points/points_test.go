package points

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sehwan505/uos-ticket-reservation/internal/model"
)

func TestPolicy_Accrual(t *testing.T) {
	p := Policy{Rate: 0.05, Min: 10, Max: 1000}

	assert.Equal(t, int64(475), p.Accrual(9500))
	assert.Equal(t, int64(10), p.Accrual(100), "floor applies")
	assert.Equal(t, int64(1000), p.Accrual(1_000_000), "ceiling applies")
	assert.Equal(t, int64(0), p.Accrual(0), "nothing charged, nothing earned")

	unbounded := Policy{Rate: 0.1}
	assert.Equal(t, int64(100000), unbounded.Accrual(1_000_000))
}

func TestApply(t *testing.T) {
	b := model.PointsBalance{MemberID: 7, Available: 1000}

	b, err := Apply(b, model.PointsEntry{Kind: model.PointsUse, Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(500), b.Available)

	b, err = Apply(b, model.PointsEntry{Kind: model.PointsAccrue, Amount: 475, Pending: true})
	require.NoError(t, err)
	assert.Equal(t, int64(500), b.Available)
	assert.Equal(t, int64(475), b.Pending)

	b, err = Apply(b, model.PointsEntry{Kind: model.PointsAccrue, Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), b.Available)

	b, err = Apply(b, model.PointsEntry{Kind: model.PointsExpire, Amount: 475, Pending: true})
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Pending)
}

func TestApply_RejectsNegative(t *testing.T) {
	b := model.PointsBalance{Available: 100}

	_, err := Apply(b, model.PointsEntry{Kind: model.PointsUse, Amount: 101})
	assert.ErrorIs(t, err, ErrNegativeBalance)

	_, err = Apply(b, model.PointsEntry{Kind: model.PointsExpire, Amount: 1, Pending: true})
	assert.ErrorIs(t, err, ErrNegativeBalance)

	_, err = Apply(b, model.PointsEntry{Kind: model.PointsUse, Amount: 0})
	assert.Error(t, err)
}

func TestSettle(t *testing.T) {
	b := model.PointsBalance{Available: 500, Pending: 475}

	b, err := Settle(b, 475)
	require.NoError(t, err)
	assert.Equal(t, int64(975), b.Available)
	assert.Equal(t, int64(0), b.Pending)

	_, err = Settle(b, 1)
	assert.ErrorIs(t, err, ErrNegativeBalance)
}
