package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sehwan505/uos-ticket-reservation/internal/model"
)

// ScreeningRepo reads the screenings catalog.  Screenings are managed
// elsewhere; this package only looks them up.
type ScreeningRepo struct {
	db *sql.DB
}

// NewScreeningRepo constructs a ScreeningRepo with the given DB handle.
func NewScreeningRepo(db *sql.DB) *ScreeningRepo {
	return &ScreeningRepo{db: db}
}

// GetByID retrieves a screening by id.  It returns ErrScreeningNotFound if
// there is no matching row.
func (r *ScreeningRepo) GetByID(ctx context.Context, id string) (*model.Screening, error) {
	const q = `SELECT id, movie_title, screen_id, starts_at FROM screenings WHERE id = ?`
	var s model.Screening
	err := r.db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.MovieTitle, &s.ScreenID, &s.StartsAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScreeningNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Exists reports whether a screening with the given id is scheduled.
func (r *ScreeningRepo) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM screenings WHERE id = ? LIMIT 1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
