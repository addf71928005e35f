package model

import "time"

// Screening is a scheduled showing of a movie on a screen.  It is owned
// by the catalog and read-only here.
type Screening struct {
	ID         string    // screenings.id
	MovieTitle string    // screenings.movie_title
	ScreenID   uint64    // screenings.screen_id
	StartsAt   time.Time // screenings.starts_at
}
