package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sehwan505/uos-ticket-reservation/internal/model"
)

// PointsRepo persists the points ledger and the per-member running
// balance.  Balance rows are locked with SELECT ... FOR UPDATE before any
// entry is appended so concurrent bookings of one member serialize.
type PointsRepo struct {
	db *sql.DB
}

// NewPointsRepo returns a PointsRepo bound to db.
func NewPointsRepo(db *sql.DB) *PointsRepo { return &PointsRepo{db: db} }

// BalanceForUpdateTx creates the balance row if missing and locks it.
func (r *PointsRepo) BalanceForUpdateTx(ctx context.Context, tx *sql.Tx, memberID uint64) (model.PointsBalance, error) {
	const upsert = `INSERT INTO member_points (member_id, available, pending) VALUES (?, 0, 0)
	                ON DUPLICATE KEY UPDATE member_id = member_id`
	if _, err := tx.ExecContext(ctx, upsert, memberID); err != nil {
		return model.PointsBalance{}, err
	}
	const q = `SELECT member_id, available, pending FROM member_points WHERE member_id = ? FOR UPDATE`
	var b model.PointsBalance
	err := tx.QueryRowContext(ctx, q, memberID).Scan(&b.MemberID, &b.Available, &b.Pending)
	return b, err
}

// SaveBalanceTx writes a balance computed from a locked row.
func (r *PointsRepo) SaveBalanceTx(ctx context.Context, tx *sql.Tx, b model.PointsBalance) error {
	const q = `UPDATE member_points SET available = ?, pending = ? WHERE member_id = ?`
	_, err := tx.ExecContext(ctx, q, b.Available, b.Pending, b.MemberID)
	return err
}

// AppendTx inserts one ledger entry.
func (r *PointsRepo) AppendTx(ctx context.Context, tx *sql.Tx, e model.PointsEntry) error {
	const q = `INSERT INTO points_ledger (id, member_id, reservation_id, kind, amount, pending, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, e.ID, e.MemberID, nullString(e.ReservationID), string(e.Kind),
		e.Amount, e.Pending, e.CreatedAt)
	return err
}

// ByReservationTx returns every entry recorded for a reservation, oldest
// first.
func (r *PointsRepo) ByReservationTx(ctx context.Context, tx *sql.Tx, reservationID string) ([]model.PointsEntry, error) {
	const q = `SELECT id, member_id, reservation_id, kind, amount, pending, created_at
	           FROM points_ledger WHERE reservation_id = ? ORDER BY created_at, id`
	rows, err := tx.QueryContext(ctx, q, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// SettleTx clears the pending flag of an accrual entry.
func (r *PointsRepo) SettleTx(ctx context.Context, tx *sql.Tx, entryID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE points_ledger SET pending = FALSE WHERE id = ?`, entryID)
	return err
}

// Balance reads a member's balance; members without a row have zero.
func (r *PointsRepo) Balance(ctx context.Context, memberID uint64) (model.PointsBalance, error) {
	const q = `SELECT member_id, available, pending FROM member_points WHERE member_id = ?`
	b := model.PointsBalance{MemberID: memberID}
	err := r.db.QueryRowContext(ctx, q, memberID).Scan(&b.MemberID, &b.Available, &b.Pending)
	if errors.Is(err, sql.ErrNoRows) {
		return b, nil
	}
	return b, err
}

// History returns a member's entries, newest first.
func (r *PointsRepo) History(ctx context.Context, memberID uint64, limit int) ([]model.PointsEntry, error) {
	const q = `SELECT id, member_id, reservation_id, kind, amount, pending, created_at
	           FROM points_ledger WHERE member_id = ?
	           ORDER BY created_at DESC, id DESC
	           LIMIT ?`
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, q, memberID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]model.PointsEntry, error) {
	out := make([]model.PointsEntry, 0)
	for rows.Next() {
		var (
			e     model.PointsEntry
			resID sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.MemberID, &resID, &e.Kind, &e.Amount, &e.Pending, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ReservationID = resID.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
