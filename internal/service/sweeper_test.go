package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sehwan505/uos-ticket-reservation/internal/config"
	"github.com/sehwan505/uos-ticket-reservation/internal/model"
	"github.com/sehwan505/uos-ticket-reservation/internal/queue"
	"github.com/sehwan505/uos-ticket-reservation/internal/repository"
)

func sweeperConfig(batch int) config.SweeperConfig {
	return config.SweeperConfig{
		Enabled:              true,
		Interval:             time.Hour,
		PaymentTimeout:       30 * time.Minute,
		BatchSize:            batch,
		PendingWarnThreshold: 1,
	}
}

func hold(t *testing.T, s *repository.MemoryStore, seat uint64) *model.Reservation {
	t.Helper()
	id := uint64(7)
	res, err := s.AcquireHold(context.Background(), repository.HoldRequest{
		ScreeningID: "S1", SeatID: seat, Owner: model.Owner{MemberID: &id}, BasePrice: 12000,
	})
	require.NoError(t, err)
	return res
}

func TestSweeper_ExpiresStaleHolds(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := repository.NewMemoryStore(time.Second, repository.WithMemoryClock(clock))

	var stale []*model.Reservation
	for seat := uint64(1); seat <= 5; seat++ {
		stale = append(stale, hold(t, store, seat))
	}
	now = now.Add(20 * time.Minute)
	fresh := hold(t, store, 6)
	now = now.Add(15 * time.Minute)

	pub := &recordingPublisher{}
	inv := &countingInvalidator{}
	sw := NewSweeper(store, sweeperConfig(2),
		WithSweeperClock(clock),
		WithSweeperPublisher(pub),
		WithSweeperInvalidator(inv))

	n, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	for _, r := range stale {
		got, err := store.GetReservation(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCancelled, got.Status)
		assert.Equal(t, model.CancelExpired, *got.CancelReason)
	}
	got, err := store.GetReservation(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)

	ids, err := store.ListActiveSeatIDs(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, []uint64{6}, ids)

	assert.Len(t, pub.types(), 5)
	assert.Equal(t, queue.EventExpired, pub.types()[0])
	assert.Equal(t, 5, inv.calls["S1"])

	stats := sw.Stats()
	assert.Equal(t, int64(5), stats.TotalExpired)
	assert.Equal(t, 5, stats.LastExpiredCount)
	assert.Equal(t, now, stats.LastRun)

	n, err = sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(5), sw.Stats().TotalExpired)
}

// flakyStore fails ExpireHold for the listed reservation ids.
type flakyStore struct {
	*repository.MemoryStore
	fail map[string]bool
}

func (s *flakyStore) ExpireHold(ctx context.Context, id string, cutoff time.Time) (*model.Reservation, error) {
	if s.fail[id] {
		return nil, errors.New("connection reset")
	}
	return s.MemoryStore.ExpireHold(ctx, id, cutoff)
}

func TestSweeper_ContinuesPastFailedHolds(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	mem := repository.NewMemoryStore(time.Second, repository.WithMemoryClock(clock))

	var holds []*model.Reservation
	for seat := uint64(1); seat <= 4; seat++ {
		holds = append(holds, hold(t, mem, seat))
		now = now.Add(time.Minute)
	}
	now = now.Add(time.Hour)

	// the two oldest holds fill a whole batch and keep failing
	store := &flakyStore{MemoryStore: mem, fail: map[string]bool{holds[0].ID: true, holds[1].ID: true}}
	sw := NewSweeper(store, sweeperConfig(2), WithSweeperClock(clock))

	n, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	ids, err := mem.ListActiveSeatIDs(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)

	stats := sw.Stats()
	assert.Equal(t, int64(2), stats.TotalExpired)
	assert.Equal(t, int64(4), stats.Failures)
}

func TestSweeper_SkipsCompletedHolds(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := repository.NewMemoryStore(time.Second, repository.WithMemoryClock(clock))

	res := hold(t, store, 1)
	_, err := store.CompleteBooking(ctx, repository.CompleteRequest{
		ReservationID: res.ID,
		Payment:       model.Payment{ID: "pay-1", Method: model.MethodCard, Amount: 12000, Charged: 12000, ApprovalToken: "tok"},
	})
	require.NoError(t, err)
	now = now.Add(time.Hour)

	sw := NewSweeper(store, sweeperConfig(10), WithSweeperClock(clock))
	n, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, _ := store.GetReservation(ctx, res.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
}

func TestSweeper_StartStop(t *testing.T) {
	sw := NewSweeper(repository.NewMemoryStore(time.Second), sweeperConfig(10))
	ctx := context.Background()

	require.NoError(t, sw.Start(ctx))
	assert.True(t, sw.Stats().Running)
	assert.Error(t, sw.Start(ctx))

	require.NoError(t, sw.Stop())
	assert.False(t, sw.Stats().Running)
	assert.NoError(t, sw.Stop())
}
