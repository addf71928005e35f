package repository

import (
	"context"
	"sync"

	"github.com/sehwan505/uos-ticket-reservation/internal/model"
)

// DirectoryRepo answers the catalog questions the booking flow asks:
// does a screening exist and what does a seat cost.
type DirectoryRepo struct {
	Screenings *ScreeningRepo
	Seats      *SeatRepo
}

// NewDirectoryRepo builds a DirectoryRepo from its two repositories.
func NewDirectoryRepo(screenings *ScreeningRepo, seats *SeatRepo) *DirectoryRepo {
	return &DirectoryRepo{Screenings: screenings, Seats: seats}
}

// ScreeningExists reports whether the screening is scheduled.
func (d *DirectoryRepo) ScreeningExists(ctx context.Context, screeningID string) (bool, error) {
	return d.Screenings.Exists(ctx, screeningID)
}

// SeatGradeAndPrice returns the grade and base price of a seat, or
// ErrSeatNotFound.
func (d *DirectoryRepo) SeatGradeAndPrice(ctx context.Context, seatID uint64) (string, int64, error) {
	return d.Seats.GradeAndPrice(ctx, seatID)
}

// MemoryDirectory is a fixed in-process catalog for the memory store mode
// and tests.
type MemoryDirectory struct {
	mu         sync.RWMutex
	screenings map[string]model.Screening
	seats      map[uint64]model.Seat
	grades     map[string]int64
}

// NewMemoryDirectory returns an empty catalog.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		screenings: make(map[string]model.Screening),
		seats:      make(map[uint64]model.Seat),
		grades:     make(map[string]int64),
	}
}

// AddScreening registers a screening.
func (d *MemoryDirectory) AddScreening(s model.Screening) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.screenings[s.ID] = s
}

// AddGrade registers the base price of a seat grade.
func (d *MemoryDirectory) AddGrade(g model.SeatGrade) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grades[g.Code] = g.Price
}

// AddSeat registers a seat.  Its grade should be added with AddGrade.
func (d *MemoryDirectory) AddSeat(s model.Seat) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seats[s.ID] = s
}

func (d *MemoryDirectory) ScreeningExists(ctx context.Context, screeningID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.screenings[screeningID]
	return ok, nil
}

func (d *MemoryDirectory) SeatGradeAndPrice(ctx context.Context, seatID uint64) (string, int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seat, ok := d.seats[seatID]
	if !ok {
		return "", 0, ErrSeatNotFound
	}
	price, ok := d.grades[seat.GradeCode]
	if !ok {
		return "", 0, ErrSeatNotFound
	}
	return seat.GradeCode, price, nil
}
