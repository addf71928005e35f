package repository

import (
	"time"

	"github.com/google/uuid"

	"github.com/sehwan505/uos-ticket-reservation/internal/model"
)

func newPointsEntry(memberID uint64, reservationID string, kind model.PointsKind, amount int64, pending bool, at time.Time) model.PointsEntry {
	return model.PointsEntry{
		ID:            uuid.NewString(),
		MemberID:      memberID,
		ReservationID: reservationID,
		Kind:          kind,
		Amount:        amount,
		Pending:       pending,
		CreatedAt:     at,
	}
}

// purchaseEntries returns the entries written when a booking completes: the
// settled USE for deducted points and the pending purchase accrual.
func purchaseEntries(memberID uint64, reservationID string, used, accrual int64, at time.Time) []model.PointsEntry {
	var out []model.PointsEntry
	if used > 0 {
		out = append(out, newPointsEntry(memberID, reservationID, model.PointsUse, used, false, at))
	}
	if accrual > 0 {
		out = append(out, newPointsEntry(memberID, reservationID, model.PointsAccrue, accrual, true, at))
	}
	return out
}

// reversalEntries returns the entries that unwind a reservation's points
// when it is cancelled.  Deducted points come back as a settled ACCRUE and
// a still pending purchase accrual is voided with a pending EXPIRE.
func reversalEntries(memberID uint64, reservationID string, history []model.PointsEntry, at time.Time) []model.PointsEntry {
	var used, pending int64
	for _, e := range history {
		if e.ReservationID != reservationID {
			continue
		}
		switch {
		case e.Kind == model.PointsUse:
			used += e.Amount
		case e.Kind == model.PointsAccrue && e.Pending:
			pending += e.Amount
		case e.Kind == model.PointsExpire && e.Pending:
			pending -= e.Amount
		}
	}
	var out []model.PointsEntry
	if used > 0 {
		out = append(out, newPointsEntry(memberID, reservationID, model.PointsAccrue, used, false, at))
	}
	if pending > 0 {
		out = append(out, newPointsEntry(memberID, reservationID, model.PointsExpire, pending, true, at))
	}
	return out
}
