package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/sehwan505/uos-ticket-reservation/internal/model"
	"github.com/sehwan505/uos-ticket-reservation/internal/points"
)

// MySQL server error numbers the store reacts to.
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	mysqlErrDuplicateKey    = 1062
)

// MySQLStore implements the reservation store on MySQL/InnoDB.  Seat
// exclusivity comes from a row lock on seat_slots; reservation and member
// balance rows are locked with SELECT ... FOR UPDATE inside the same
// transaction that changes them.
type MySQLStore struct {
	db          *sql.DB
	res         *ReservationRepo
	pay         *PaymentRepo
	pts         *PointsRepo
	lockTimeout time.Duration
	now         func() time.Time
}

// NewMySQLStore wires the repositories of db into a store whose lock waits
// are bounded by lockTimeout.
func NewMySQLStore(db *sql.DB, lockTimeout time.Duration) *MySQLStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &MySQLStore{
		db:          db,
		res:         NewReservationRepo(db),
		pay:         NewPaymentRepo(db),
		pts:         NewPointsRepo(db),
		lockTimeout: lockTimeout,
		now:         func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// mapDBError converts lock wait timeouts and deadlocks into ErrLockTimeout
// and duplicate keys into ErrConflict.  Other errors pass through.
func mapDBError(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlErrLockWaitTimeout, mysqlErrDeadlock:
			return ErrLockTimeout
		case mysqlErrDuplicateKey:
			return ErrConflict
		}
	}
	return err
}

// withTx runs fn in a transaction on a dedicated connection whose
// innodb_lock_wait_timeout matches the store's lock bound.  The
// transaction commits only when fn returns nil.
func (s *MySQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	secs := int(math.Ceil(s.lockTimeout.Seconds()))
	if secs < 1 {
		secs = 1
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", secs)); err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return mapDBError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapDBError(err)
	}
	committed = true
	return nil
}

// AcquireHold locks the seat slot, checks for an active reservation and
// inserts a PENDING one, all in one transaction.
func (s *MySQLStore) AcquireHold(ctx context.Context, req HoldRequest) (*model.Reservation, error) {
	var out *model.Reservation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		seq, err := s.res.LockSlotTx(ctx, tx, req.ScreeningID, req.SeatID)
		if err != nil {
			return err
		}
		active, err := s.res.HasActiveTx(ctx, tx, req.ScreeningID, req.SeatID)
		if err != nil {
			return err
		}
		if active {
			return ErrConflict
		}
		now := s.now()
		res := &model.Reservation{
			ID:             model.ReservationID(req.ScreeningID, req.SeatID, seq),
			ScreeningID:    req.ScreeningID,
			SeatID:         req.SeatID,
			Owner:          req.Owner,
			Status:         model.StatusPending,
			BasePrice:      req.BasePrice,
			DiscountCode:   req.DiscountCode,
			DiscountAmount: req.DiscountAmount,
			FinalPrice:     model.FinalPrice(req.BasePrice, req.DiscountAmount),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.res.CreateTx(ctx, tx, res); err != nil {
			return err
		}
		if err := s.res.BumpSlotTx(ctx, tx, req.ScreeningID, req.SeatID); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListActiveSeatIDs returns the PENDING and COMPLETED seat ids of a
// screening, ascending.
func (s *MySQLStore) ListActiveSeatIDs(ctx context.Context, screeningID string) ([]uint64, error) {
	var ids []uint64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		ids, err = s.res.ListActiveSeatIDs(ctx, tx, screeningID)
		return err
	})
	return ids, err
}

// GetReservation loads a reservation by id.
func (s *MySQLStore) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	return s.res.GetByID(ctx, id)
}

// GetPayment loads a payment by id.
func (s *MySQLStore) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	return s.pay.GetByID(ctx, id)
}

// CompleteBooking writes the COMPLETED status, the payment and the points
// entries in one transaction.  The reservation row is locked first, then
// the member balance row.
func (s *MySQLStore) CompleteBooking(ctx context.Context, req CompleteRequest) (*model.Reservation, error) {
	var out *model.Reservation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.res.GetForUpdateTx(ctx, tx, req.ReservationID)
		if err != nil {
			return err
		}
		if res.Status != model.StatusPending {
			return ErrHoldExpired
		}
		now := s.now()
		if res.Owner.IsMember() {
			entries := purchaseEntries(*res.Owner.MemberID, res.ID, req.PointsUsed, req.Accrual, now)
			if err := s.applyTx(ctx, tx, *res.Owner.MemberID, entries); err != nil {
				return err
			}
		}
		pay := req.Payment
		pay.ReservationID = res.ID
		pay.Status = model.PaymentCompleted
		pay.CreatedAt, pay.UpdatedAt = now, now
		if err := s.pay.CreateTx(ctx, tx, &pay); err != nil {
			return err
		}
		if err := s.res.CompleteTx(ctx, tx, res.ID, pay.ID, now); err != nil {
			return err
		}
		res.Status = model.StatusCompleted
		res.PaymentID = &pay.ID
		res.UpdatedAt = now
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReleaseHold cancels a PENDING reservation with the given reason.
func (s *MySQLStore) ReleaseHold(ctx context.Context, id string, reason model.CancelReason) (*model.Reservation, error) {
	return s.release(ctx, id, reason, time.Time{})
}

// ExpireHold cancels a PENDING reservation created at or before cutoff.
func (s *MySQLStore) ExpireHold(ctx context.Context, id string, cutoff time.Time) (*model.Reservation, error) {
	return s.release(ctx, id, model.CancelExpired, cutoff)
}

func (s *MySQLStore) release(ctx context.Context, id string, reason model.CancelReason, cutoff time.Time) (*model.Reservation, error) {
	var out *model.Reservation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.res.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if res.Status != model.StatusPending {
			return ErrInvalidState
		}
		if !cutoff.IsZero() && res.CreatedAt.After(cutoff) {
			return ErrInvalidState
		}
		if err := s.cancelTx(ctx, tx, res, reason); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel cancels a reservation for its owner.  PENDING holds are released
// in one transaction.  For COMPLETED reservations the row is read and
// validated, the transaction ends, confirm runs without any lock held, and
// a second transaction re-locks the row and writes the cancellation only if
// it is still COMPLETED, unissued and on the same payment.
func (s *MySQLStore) Cancel(ctx context.Context, id string, confirm ConfirmFunc) (*model.Reservation, error) {
	var (
		out  *model.Reservation
		snap *model.Reservation
		pay  *model.Payment
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.res.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkCancellable(res); err != nil {
			return err
		}
		if res.Status == model.StatusPending {
			if err := s.cancelTx(ctx, tx, res, model.CancelByCustomer); err != nil {
				return err
			}
			out = res
			return nil
		}
		if res.PaymentID != nil {
			if pay, err = s.pay.GetTx(ctx, tx, *res.PaymentID); err != nil {
				return err
			}
		}
		snap = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		return out, nil
	}

	if confirm != nil {
		if err := confirm(snap.Clone(), pay); err != nil {
			return nil, err
		}
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.res.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkUnchanged(snap, res); err != nil {
			return err
		}
		if err := s.cancelTx(ctx, tx, res, model.CancelByCustomer); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// cancelTx unwinds points, cancels the payment and flips the reservation
// to CANCELLED.  res must be locked and is updated in place.
func (s *MySQLStore) cancelTx(ctx context.Context, tx *sql.Tx, res *model.Reservation, reason model.CancelReason) error {
	now := s.now()
	if res.Owner.IsMember() {
		history, err := s.pts.ByReservationTx(ctx, tx, res.ID)
		if err != nil {
			return err
		}
		entries := reversalEntries(*res.Owner.MemberID, res.ID, history, now)
		if err := s.applyTx(ctx, tx, *res.Owner.MemberID, entries); err != nil {
			return err
		}
	}
	if res.PaymentID != nil {
		if err := s.pay.CancelTx(ctx, tx, *res.PaymentID, now); err != nil {
			return err
		}
	}
	if err := s.res.CancelTx(ctx, tx, res.ID, reason, now); err != nil {
		return err
	}
	r := reason
	res.Status = model.StatusCancelled
	res.CancelReason = &r
	res.UpdatedAt = now
	return nil
}

// applyTx locks the member balance, applies entries through the points
// rules and persists both.  No-op for an empty batch.
func (s *MySQLStore) applyTx(ctx context.Context, tx *sql.Tx, memberID uint64, entries []model.PointsEntry) error {
	if len(entries) == 0 {
		return nil
	}
	bal, err := s.pts.BalanceForUpdateTx(ctx, tx, memberID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		next, err := points.Apply(bal, e)
		if err != nil {
			if errors.Is(err, points.ErrNegativeBalance) {
				return ErrInsufficientPoints
			}
			return err
		}
		bal = next
		if err := s.pts.AppendTx(ctx, tx, e); err != nil {
			return err
		}
	}
	return s.pts.SaveBalanceTx(ctx, tx, bal)
}

// IssueTicket sets the issued flag and settles the pending purchase
// accrual.  A second call returns the reservation with changed=false.
func (s *MySQLStore) IssueTicket(ctx context.Context, id string) (*model.Reservation, bool, error) {
	var (
		out     *model.Reservation
		changed bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.res.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if res.Status != model.StatusCompleted {
			return ErrInvalidState
		}
		out = res
		if res.Issued {
			return nil
		}
		now := s.now()
		if res.Owner.IsMember() {
			history, err := s.pts.ByReservationTx(ctx, tx, res.ID)
			if err != nil {
				return err
			}
			var pending []model.PointsEntry
			for _, e := range history {
				if e.Kind == model.PointsAccrue && e.Pending {
					pending = append(pending, e)
				}
			}
			if len(pending) > 0 {
				bal, err := s.pts.BalanceForUpdateTx(ctx, tx, *res.Owner.MemberID)
				if err != nil {
					return err
				}
				for _, e := range pending {
					if bal, err = points.Settle(bal, e.Amount); err != nil {
						return err
					}
					if err := s.pts.SettleTx(ctx, tx, e.ID); err != nil {
						return err
					}
				}
				if err := s.pts.SaveBalanceTx(ctx, tx, bal); err != nil {
					return err
				}
			}
		}
		if err := s.res.MarkIssuedTx(ctx, tx, res.ID, now); err != nil {
			return err
		}
		res.Issued = true
		res.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

// ListStaleHolds returns up to limit PENDING reservations created at or
// before cutoff that sort after the cursor, ordered by (created_at, id).
func (s *MySQLStore) ListStaleHolds(ctx context.Context, cutoff time.Time, after *StaleCursor, limit int) ([]*model.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.res.ListStale(ctx, cutoff, after, limit)
}

// CountPending returns the number of PENDING reservations.
func (s *MySQLStore) CountPending(ctx context.Context) (int, error) {
	return s.res.CountPending(ctx)
}

// PointsBalance returns a member's balance.
func (s *MySQLStore) PointsBalance(ctx context.Context, memberID uint64) (model.PointsBalance, error) {
	return s.pts.Balance(ctx, memberID)
}

// PointsHistory returns a member's ledger entries, newest first.
func (s *MySQLStore) PointsHistory(ctx context.Context, memberID uint64, limit int) ([]model.PointsEntry, error) {
	return s.pts.History(ctx, memberID, limit)
}
