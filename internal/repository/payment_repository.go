package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sehwan505/uos-ticket-reservation/internal/model"
)

// PaymentRepo persists approved payments.  Rows are only written after the
// gateway approved the authorization.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a PaymentRepo bound to db.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

const paymentColumns = `id, reservation_id, method, amount, points_used, charged, status,
       approval_token, created_at, updated_at`

func scanPayment(row rowScanner) (*model.Payment, error) {
	var (
		p     model.Payment
		token sql.NullString
	)
	if err := row.Scan(&p.ID, &p.ReservationID, &p.Method, &p.Amount, &p.PointsUsed, &p.Charged,
		&p.Status, &token, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ApprovalToken = token.String
	return &p, nil
}

// CreateTx inserts p.  ID and timestamps must already be set.
func (r *PaymentRepo) CreateTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error {
	const q = `INSERT INTO payments
	           (id, reservation_id, method, amount, points_used, charged, status, approval_token, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, p.ID, p.ReservationID, string(p.Method), p.Amount, p.PointsUsed,
		p.Charged, string(p.Status), nullString(p.ApprovalToken), p.CreatedAt, p.UpdatedAt)
	return err
}

// GetByID loads a payment without locking.
func (r *PaymentRepo) GetByID(ctx context.Context, id string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`
	p, err := scanPayment(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %w", ErrNotFound)
	}
	return p, err
}

// GetTx loads a payment inside tx.  The owning reservation row is expected
// to be locked by the caller.
func (r *PaymentRepo) GetTx(ctx context.Context, tx *sql.Tx, id string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`
	p, err := scanPayment(tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %w", ErrNotFound)
	}
	return p, err
}

// CancelTx marks a payment CANCELLED.
func (r *PaymentRepo) CancelTx(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	const q = `UPDATE payments SET status = 'CANCELLED', updated_at = ? WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, at, id)
	return err
}
