package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sehwan505/uos-ticket-reservation/internal/model"
)

// SeatRepo reads seats and their grades.  RowLabel and SeatNumber identify
// the seat's position; the grade decides its base price.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

// GetByID retrieves a seat by its id.
func (r *SeatRepo) GetByID(ctx context.Context, id uint64) (*model.Seat, error) {
	const q = `SELECT id, screen_id, row_label, seat_number, grade_code FROM seats WHERE id = ?`
	var s model.Seat
	err := r.db.QueryRowContext(ctx, q, id).
		Scan(&s.ID, &s.ScreenID, &s.RowLabel, &s.SeatNumber, &s.GradeCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSeatNotFound
		}
		return nil, err
	}
	return &s, nil
}

// GradeAndPrice returns the grade code of a seat and the base price of
// that grade.
func (r *SeatRepo) GradeAndPrice(ctx context.Context, seatID uint64) (string, int64, error) {
	const q = `SELECT g.code, g.price
	           FROM seats s
	           JOIN seat_grades g ON g.code = s.grade_code
	           WHERE s.id = ?`
	var (
		grade string
		price int64
	)
	err := r.db.QueryRowContext(ctx, q, seatID).Scan(&grade, &price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, ErrSeatNotFound
		}
		return "", 0, err
	}
	return grade, price, nil
}
