package model

import "time"

// PointsKind classifies a ledger entry.
type PointsKind string

const (
	PointsAccrue PointsKind = "ACCRUE"
	PointsUse    PointsKind = "USE"
	PointsExpire PointsKind = "EXPIRE"
)

// PointsEntry is one immutable line of a member's points ledger.  Amount
// is always positive; Kind decides the sign.  Pending entries concern
// points earned by a purchase that only become available once the ticket
// is issued.
type PointsEntry struct {
	ID            string     // points_ledger.id
	MemberID      uint64     // points_ledger.member_id
	ReservationID string     // points_ledger.reservation_id
	Kind          PointsKind // points_ledger.kind
	Amount        int64      // points_ledger.amount
	Pending       bool       // points_ledger.pending
	CreatedAt     time.Time  // points_ledger.created_at
}

// PointsBalance is the running sum of a member's ledger.
type PointsBalance struct {
	MemberID  uint64 // member_points.member_id
	Available int64  // member_points.available
	Pending   int64  // member_points.pending
}
