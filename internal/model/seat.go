package model

// Seat describes a physical seat of a screen.  Its grade decides the base
// price.
//
// Fields:
//  ID         – primary key identifier.
//  ScreenID   – screen the seat belongs to.
//  RowLabel   – letter designating the row.
//  SeatNumber – number of the seat within the row.
//  GradeCode  – seat grade (STANDARD, PRIME, COUPLE, ...).
type Seat struct {
	ID         uint64 // seats.id
	ScreenID   uint64 // seats.screen_id
	RowLabel   string // seats.row_label
	SeatNumber uint32 // seats.seat_number
	GradeCode  string // seats.grade_code
}

// SeatGrade maps a grade code to its price.
type SeatGrade struct {
	Code  string // seat_grades.code
	Price int64  // seat_grades.price
}
