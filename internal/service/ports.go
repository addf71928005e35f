// Package service holds the reservation lifecycle engine, the expiration
// sweeper and the availability cache.  It depends on the store, directory,
// gateway and event publisher only through the interfaces below.
package service

import (
	"context"
	"time"

	"github.com/sehwan505/uos-ticket-reservation/internal/model"
	"github.com/sehwan505/uos-ticket-reservation/internal/queue"
	"github.com/sehwan505/uos-ticket-reservation/internal/repository"
)

// Store is the transactional reservation store.  repository.MySQLStore and
// repository.MemoryStore implement it.
type Store interface {
	AcquireHold(ctx context.Context, req repository.HoldRequest) (*model.Reservation, error)
	ListActiveSeatIDs(ctx context.Context, screeningID string) ([]uint64, error)
	GetReservation(ctx context.Context, id string) (*model.Reservation, error)
	GetPayment(ctx context.Context, id string) (*model.Payment, error)
	CompleteBooking(ctx context.Context, req repository.CompleteRequest) (*model.Reservation, error)
	ReleaseHold(ctx context.Context, id string, reason model.CancelReason) (*model.Reservation, error)
	ExpireHold(ctx context.Context, id string, cutoff time.Time) (*model.Reservation, error)
	Cancel(ctx context.Context, id string, confirm repository.ConfirmFunc) (*model.Reservation, error)
	IssueTicket(ctx context.Context, id string) (*model.Reservation, bool, error)
	ListStaleHolds(ctx context.Context, cutoff time.Time, after *repository.StaleCursor, limit int) ([]*model.Reservation, error)
	CountPending(ctx context.Context) (int, error)
	PointsBalance(ctx context.Context, memberID uint64) (model.PointsBalance, error)
	PointsHistory(ctx context.Context, memberID uint64, limit int) ([]model.PointsEntry, error)
}

// Directory answers catalog lookups.
type Directory interface {
	ScreeningExists(ctx context.Context, screeningID string) (bool, error)
	SeatGradeAndPrice(ctx context.Context, seatID uint64) (grade string, price int64, err error)
}

// EventPublisher delivers lifecycle events.  Failures are logged, never
// propagated to the caller of the engine.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.ReservationEvent) error
}

// Invalidator drops cached availability of a screening.
type Invalidator interface {
	Invalidate(ctx context.Context, screeningID string)
}

var (
	_ Store     = (*repository.MySQLStore)(nil)
	_ Store     = (*repository.MemoryStore)(nil)
	_ Directory = (*repository.DirectoryRepo)(nil)
	_ Directory = (*repository.MemoryDirectory)(nil)
)
