package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sehwan505/uos-ticket-reservation/internal/model"
	"github.com/sehwan505/uos-ticket-reservation/internal/points"
)

// MemoryStore is a single-process reservation store.  Seat slots and
// reservations are serialized with keyLocker; the maps themselves are
// guarded by mu, which readers take in shared mode.  It backs the
// "memory" store mode and the engine tests.
type MemoryStore struct {
	locks       *keyLocker
	lockTimeout time.Duration
	now         func() time.Time

	mu           sync.RWMutex
	reservations map[string]*model.Reservation
	slots        map[string]*memorySlot
	payments     map[string]*model.Payment
	ledger       []model.PointsEntry
	balances     map[uint64]model.PointsBalance
}

type memorySlot struct {
	nextSeq uint32
	active  string // id of the reservation occupying the seat, "" if free
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the clock used for created/updated stamps.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore returns an empty store whose lock waits are bounded by
// lockTimeout.
func NewMemoryStore(lockTimeout time.Duration, opts ...MemoryOption) *MemoryStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	s := &MemoryStore{
		locks:        newKeyLocker(),
		lockTimeout:  lockTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		reservations: make(map[string]*model.Reservation),
		slots:        make(map[string]*memorySlot),
		payments:     make(map[string]*model.Payment),
		balances:     make(map[uint64]model.PointsBalance),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func slotKey(screeningID string, seatID uint64) string {
	return "slot:" + screeningID + ":" + strconv.FormatUint(seatID, 10)
}

func reservationKey(id string) string { return "res:" + id }

// AcquireHold inserts a PENDING reservation unless the seat already has an
// active one.  The existence check, the sequence allocation and the insert
// all happen while the slot lock is held.
func (s *MemoryStore) AcquireHold(ctx context.Context, req HoldRequest) (*model.Reservation, error) {
	unlock, err := s.locks.Lock(ctx, slotKey(req.ScreeningID, req.SeatID), s.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer unlock()

	key := slotKey(req.ScreeningID, req.SeatID)

	s.mu.RLock()
	slot := s.slots[key]
	occupied := false
	if slot != nil && slot.active != "" {
		if cur, ok := s.reservations[slot.active]; ok && cur.Status.Active() {
			occupied = true
		}
	}
	s.mu.RUnlock()
	if occupied {
		return nil, ErrConflict
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if slot == nil {
		slot = &memorySlot{nextSeq: 1}
		s.slots[key] = slot
	}
	now := s.now()
	res := &model.Reservation{
		ID:             model.ReservationID(req.ScreeningID, req.SeatID, slot.nextSeq),
		ScreeningID:    req.ScreeningID,
		SeatID:         req.SeatID,
		Owner:          req.Owner,
		Status:         model.StatusPending,
		BasePrice:      req.BasePrice,
		DiscountCode:   req.DiscountCode,
		DiscountAmount: req.DiscountAmount,
		FinalPrice:     model.FinalPrice(req.BasePrice, req.DiscountAmount),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	slot.nextSeq++
	slot.active = res.ID
	s.reservations[res.ID] = res
	return res.Clone(), nil
}

// ListActiveSeatIDs returns the seats of a screening that are PENDING or
// COMPLETED, in ascending order.
func (s *MemoryStore) ListActiveSeatIDs(ctx context.Context, screeningID string) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint64, 0)
	for _, r := range s.reservations {
		if r.ScreeningID == screeningID && r.Status.Active() {
			ids = append(ids, r.SeatID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// GetReservation returns a copy of the reservation with the given id.
func (s *MemoryStore) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	return r.Clone(), nil
}

// GetPayment returns a copy of the payment with the given id.
func (s *MemoryStore) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %w", ErrNotFound)
	}
	c := *p
	return &c, nil
}

// CompleteBooking moves a PENDING reservation to COMPLETED and records the
// payment and points entries.  Nothing is written when the hold is gone or
// the member can no longer cover the deduction.
func (s *MemoryStore) CompleteBooking(ctx context.Context, req CompleteRequest) (*model.Reservation, error) {
	unlock, err := s.locks.Lock(ctx, reservationKey(req.ReservationID), s.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[req.ReservationID]
	if !ok {
		return nil, ErrReservationNotFound
	}
	if res.Status != model.StatusPending {
		return nil, ErrHoldExpired
	}
	now := s.now()

	var entries []model.PointsEntry
	if res.Owner.IsMember() {
		memberID := *res.Owner.MemberID
		entries = purchaseEntries(memberID, res.ID, req.PointsUsed, req.Accrual, now)
		if err := s.applyLocked(memberID, entries); err != nil {
			return nil, err
		}
	}

	pay := req.Payment
	pay.ReservationID = res.ID
	pay.Status = model.PaymentCompleted
	pay.CreatedAt, pay.UpdatedAt = now, now
	s.payments[pay.ID] = &pay
	s.ledger = append(s.ledger, entries...)

	res.Status = model.StatusCompleted
	res.PaymentID = &pay.ID
	res.UpdatedAt = now
	return res.Clone(), nil
}

// ReleaseHold cancels a PENDING reservation, freeing its seat.
func (s *MemoryStore) ReleaseHold(ctx context.Context, id string, reason model.CancelReason) (*model.Reservation, error) {
	return s.release(ctx, id, reason, time.Time{})
}

// ExpireHold cancels a PENDING reservation created at or before cutoff.
// Holds that completed or were cancelled meanwhile yield ErrInvalidState.
func (s *MemoryStore) ExpireHold(ctx context.Context, id string, cutoff time.Time) (*model.Reservation, error) {
	return s.release(ctx, id, model.CancelExpired, cutoff)
}

func (s *MemoryStore) release(ctx context.Context, id string, reason model.CancelReason, cutoff time.Time) (*model.Reservation, error) {
	unlock, err := s.locks.Lock(ctx, reservationKey(id), s.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	if res.Status != model.StatusPending {
		return nil, ErrInvalidState
	}
	if !cutoff.IsZero() && res.CreatedAt.After(cutoff) {
		return nil, ErrInvalidState
	}
	if err := s.cancelLocked(res, reason); err != nil {
		return nil, err
	}
	return res.Clone(), nil
}

// Cancel cancels a reservation on behalf of its owner.  PENDING holds are
// released directly.  COMPLETED ones are validated under the reservation
// lock, confirmed (the gateway cancellation) with no lock held, then
// re-locked and cancelled only if nothing changed in between.
func (s *MemoryStore) Cancel(ctx context.Context, id string, confirm ConfirmFunc) (*model.Reservation, error) {
	snap, pay, done, err := s.beginCancel(ctx, id)
	if err != nil || done != nil {
		return done, err
	}
	if confirm != nil {
		if err := confirm(snap.Clone(), pay); err != nil {
			return nil, err
		}
	}

	unlock, err := s.locks.Lock(ctx, reservationKey(id), s.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	if err := checkUnchanged(snap, cur); err != nil {
		return nil, err
	}
	if err := s.cancelLocked(cur, model.CancelByCustomer); err != nil {
		return nil, err
	}
	return cur.Clone(), nil
}

// beginCancel validates a cancellation under the reservation lock.  A
// PENDING hold is released on the spot and returned as done; a COMPLETED
// reservation is returned as a snapshot with its payment.
func (s *MemoryStore) beginCancel(ctx context.Context, id string) (snap *model.Reservation, pay *model.Payment, done *model.Reservation, err error) {
	unlock, err := s.locks.Lock(ctx, reservationKey(id), s.lockTimeout)
	if err != nil {
		return nil, nil, nil, err
	}
	defer unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.reservations[id]
	if !ok {
		return nil, nil, nil, ErrReservationNotFound
	}
	if err := checkCancellable(cur); err != nil {
		return nil, nil, nil, err
	}
	if cur.Status == model.StatusPending {
		if err := s.cancelLocked(cur, model.CancelByCustomer); err != nil {
			return nil, nil, nil, err
		}
		return nil, nil, cur.Clone(), nil
	}
	if cur.PaymentID != nil {
		if p, found := s.payments[*cur.PaymentID]; found {
			c := *p
			pay = &c
		}
	}
	return cur.Clone(), pay, nil, nil
}

// cancelLocked flips res to CANCELLED, cancels its payment and unwinds its
// points: deducted points come back as a settled ACCRUE and a still pending
// purchase accrual is voided with a pending EXPIRE.  mu must be held.
func (s *MemoryStore) cancelLocked(res *model.Reservation, reason model.CancelReason) error {
	now := s.now()
	if res.Owner.IsMember() {
		memberID := *res.Owner.MemberID
		entries := reversalEntries(memberID, res.ID, s.ledger, now)
		if err := s.applyLocked(memberID, entries); err != nil {
			return err
		}
		s.ledger = append(s.ledger, entries...)
	}
	if res.PaymentID != nil {
		if p, ok := s.payments[*res.PaymentID]; ok {
			p.Status = model.PaymentCancelled
			p.UpdatedAt = now
		}
	}
	r := reason
	res.Status = model.StatusCancelled
	res.CancelReason = &r
	res.UpdatedAt = now
	if slot := s.slots[slotKey(res.ScreeningID, res.SeatID)]; slot != nil && slot.active == res.ID {
		slot.active = ""
	}
	return nil
}

// IssueTicket marks a COMPLETED reservation as issued and settles its
// pending purchase accrual.  Issuing twice is a no-op; the bool reports
// whether anything changed.
func (s *MemoryStore) IssueTicket(ctx context.Context, id string) (*model.Reservation, bool, error) {
	unlock, err := s.locks.Lock(ctx, reservationKey(id), s.lockTimeout)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[id]
	if !ok {
		return nil, false, ErrReservationNotFound
	}
	if res.Status != model.StatusCompleted {
		return nil, false, ErrInvalidState
	}
	if res.Issued {
		return res.Clone(), false, nil
	}
	if res.Owner.IsMember() {
		memberID := *res.Owner.MemberID
		bal := s.balances[memberID]
		for i := range s.ledger {
			e := &s.ledger[i]
			if e.ReservationID != id || e.Kind != model.PointsAccrue || !e.Pending {
				continue
			}
			next, err := points.Settle(bal, e.Amount)
			if err != nil {
				return nil, false, err
			}
			bal = next
			e.Pending = false
		}
		bal.MemberID = memberID
		s.balances[memberID] = bal
	}
	res.Issued = true
	res.UpdatedAt = s.now()
	return res.Clone(), true, nil
}

// ListStaleHolds returns up to limit PENDING reservations created at or
// before cutoff that sort after the cursor, ordered by (created_at, id).
func (s *MemoryStore) ListStaleHolds(ctx context.Context, cutoff time.Time, after *StaleCursor, limit int) ([]*model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Reservation, 0)
	for _, r := range s.reservations {
		if r.Status == model.StatusPending && !r.CreatedAt.After(cutoff) && after.After(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountPending returns the number of PENDING reservations.
func (s *MemoryStore) CountPending(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.reservations {
		if r.Status == model.StatusPending {
			n++
		}
	}
	return n, nil
}

// PointsBalance returns the member's balance; unknown members have zero.
func (s *MemoryStore) PointsBalance(ctx context.Context, memberID uint64) (model.PointsBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.balances[memberID]
	b.MemberID = memberID
	return b, nil
}

// PointsHistory returns the member's ledger entries, newest first.
func (s *MemoryStore) PointsHistory(ctx context.Context, memberID uint64, limit int) ([]model.PointsEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PointsEntry, 0)
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].MemberID == memberID {
			out = append(out, s.ledger[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// GrantPoints credits settled points to a member.  Points are normally
// granted by member management; this exists for local runs and tests.
func (s *MemoryStore) GrantPoints(memberID uint64, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := newPointsEntry(memberID, "", model.PointsAccrue, amount, false, s.now())
	if err := s.applyLocked(memberID, []model.PointsEntry{e}); err != nil {
		return err
	}
	s.ledger = append(s.ledger, e)
	return nil
}

// applyLocked runs entries against the member balance and stores the
// result only if every entry applied.  mu must be held.
func (s *MemoryStore) applyLocked(memberID uint64, entries []model.PointsEntry) error {
	bal := s.balances[memberID]
	bal.MemberID = memberID
	for _, e := range entries {
		next, err := points.Apply(bal, e)
		if err != nil {
			if errors.Is(err, points.ErrNegativeBalance) {
				return ErrInsufficientPoints
			}
			return err
		}
		bal = next
	}
	s.balances[memberID] = bal
	return nil
}
