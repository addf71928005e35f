package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sehwan505/uos-ticket-reservation/internal/model"
)

// ReservationRepo provides the SQL statements behind the reservation
// lifecycle.  Every mutating method takes the caller's transaction; the
// caller (MySQLStore) decides lock order and commits or rolls back.  All
// timestamps are written in UTC by the caller.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, screening_id, seat_id, member_id, phone, pin_hash, status,
       base_price, discount_code, discount_amount, final_price, issued,
       cancel_reason, payment_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*model.Reservation, error) {
	var (
		r            model.Reservation
		memberID     sql.NullInt64
		phone        sql.NullString
		pinHash      sql.NullString
		discountCode sql.NullString
		cancelReason sql.NullString
		paymentID    sql.NullString
	)
	if err := row.Scan(
		&r.ID, &r.ScreeningID, &r.SeatID, &memberID, &phone, &pinHash, &r.Status,
		&r.BasePrice, &discountCode, &r.DiscountAmount, &r.FinalPrice, &r.Issued,
		&cancelReason, &paymentID, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if memberID.Valid {
		id := uint64(memberID.Int64)
		r.Owner.MemberID = &id
	}
	r.Owner.Phone = phone.String
	r.Owner.PinHash = pinHash.String
	r.DiscountCode = discountCode.String
	if cancelReason.Valid {
		reason := model.CancelReason(cancelReason.String)
		r.CancelReason = &reason
	}
	if paymentID.Valid {
		pid := paymentID.String
		r.PaymentID = &pid
	}
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// LockSlotTx makes sure the seat_slots row exists and locks it for the rest
// of the transaction.  It returns the sequence the next reservation of the
// seat will use.  Concurrent callers for the same seat queue here until the
// holder commits or innodb_lock_wait_timeout elapses.
func (r *ReservationRepo) LockSlotTx(ctx context.Context, tx *sql.Tx, screeningID string, seatID uint64) (uint32, error) {
	const upsert = `INSERT INTO seat_slots (screening_id, seat_id, next_seq) VALUES (?, ?, 1)
	                ON DUPLICATE KEY UPDATE next_seq = next_seq`
	if _, err := tx.ExecContext(ctx, upsert, screeningID, seatID); err != nil {
		return 0, err
	}
	const sel = `SELECT next_seq FROM seat_slots WHERE screening_id = ? AND seat_id = ? FOR UPDATE`
	var seq uint32
	if err := tx.QueryRowContext(ctx, sel, screeningID, seatID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// BumpSlotTx advances the slot sequence after a reservation was inserted.
func (r *ReservationRepo) BumpSlotTx(ctx context.Context, tx *sql.Tx, screeningID string, seatID uint64) error {
	const q = `UPDATE seat_slots SET next_seq = next_seq + 1 WHERE screening_id = ? AND seat_id = ?`
	_, err := tx.ExecContext(ctx, q, screeningID, seatID)
	return err
}

// HasActiveTx reports whether the seat has a PENDING or COMPLETED
// reservation.  Callers must hold the slot lock.
func (r *ReservationRepo) HasActiveTx(ctx context.Context, tx *sql.Tx, screeningID string, seatID uint64) (bool, error) {
	const q = `SELECT COUNT(*) FROM reservations
	           WHERE screening_id = ? AND seat_id = ? AND status IN ('PENDING', 'COMPLETED')`
	var n int
	if err := tx.QueryRowContext(ctx, q, screeningID, seatID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateTx inserts a reservation row.  ID and timestamps must already be set.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	const q = `INSERT INTO reservations
	           (id, screening_id, seat_id, member_id, phone, pin_hash, status,
	            base_price, discount_code, discount_amount, final_price, issued, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE, ?, ?)`
	var memberID sql.NullInt64
	if res.Owner.MemberID != nil {
		memberID = sql.NullInt64{Int64: int64(*res.Owner.MemberID), Valid: true}
	}
	_, err := tx.ExecContext(ctx, q,
		res.ID, res.ScreeningID, res.SeatID, memberID, nullString(res.Owner.Phone), nullString(res.Owner.PinHash),
		string(res.Status), res.BasePrice, nullString(res.DiscountCode), res.DiscountAmount, res.FinalPrice,
		res.CreatedAt, res.UpdatedAt,
	)
	return err
}

// GetByID loads a reservation without locking.
func (r *ReservationRepo) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	return res, err
}

// GetForUpdateTx loads a reservation and locks its row until the
// transaction ends.
func (r *ReservationRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ? FOR UPDATE`
	res, err := scanReservation(tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	return res, err
}

// CompleteTx moves a PENDING reservation to COMPLETED and links its payment.
// It returns ErrHoldExpired when the row is no longer PENDING.
func (r *ReservationRepo) CompleteTx(ctx context.Context, tx *sql.Tx, id, paymentID string, at time.Time) error {
	const q = `UPDATE reservations SET status = 'COMPLETED', payment_id = ?, updated_at = ?
	           WHERE id = ? AND status = 'PENDING'`
	res, err := tx.ExecContext(ctx, q, paymentID, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrHoldExpired
	}
	return nil
}

// CancelTx moves an active reservation to CANCELLED with the given reason.
func (r *ReservationRepo) CancelTx(ctx context.Context, tx *sql.Tx, id string, reason model.CancelReason, at time.Time) error {
	const q = `UPDATE reservations SET status = 'CANCELLED', cancel_reason = ?, updated_at = ?
	           WHERE id = ? AND status IN ('PENDING', 'COMPLETED') AND issued = FALSE`
	res, err := tx.ExecContext(ctx, q, string(reason), at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidState
	}
	return nil
}

// MarkIssuedTx sets the issued flag of a COMPLETED reservation.
func (r *ReservationRepo) MarkIssuedTx(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	const q = `UPDATE reservations SET issued = TRUE, updated_at = ?
	           WHERE id = ? AND status = 'COMPLETED' AND issued = FALSE`
	res, err := tx.ExecContext(ctx, q, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidState
	}
	return nil
}

// ListActiveSeatIDs returns the seat ids of a screening that are PENDING or
// COMPLETED, ascending.  The read takes shared locks so a half-finished hold
// transaction is waited for rather than skipped.
func (r *ReservationRepo) ListActiveSeatIDs(ctx context.Context, tx *sql.Tx, screeningID string) ([]uint64, error) {
	const q = `SELECT seat_id FROM reservations
	           WHERE screening_id = ? AND status IN ('PENDING', 'COMPLETED')
	           ORDER BY seat_id
	           LOCK IN SHARE MODE`
	rows, err := tx.QueryContext(ctx, q, screeningID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]uint64, 0)
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListStale returns up to limit PENDING reservations created at or before
// cutoff, ordered by (created_at, id) and starting strictly after the
// cursor when one is given.
func (r *ReservationRepo) ListStale(ctx context.Context, cutoff time.Time, after *StaleCursor, limit int) ([]*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations
	      WHERE status = 'PENDING' AND created_at <= ?`
	args := []any{cutoff}
	if after != nil {
		q += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
		args = append(args, after.CreatedAt, after.CreatedAt, after.ID)
	}
	q += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, limit)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountPending returns the number of PENDING reservations.
func (r *ReservationRepo) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reservations WHERE status = 'PENDING'`).Scan(&n)
	return n, err
}
