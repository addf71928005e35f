package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sehwan505/uos-ticket-reservation/internal/gateway"
	"github.com/sehwan505/uos-ticket-reservation/internal/model"
	"github.com/sehwan505/uos-ticket-reservation/internal/points"
	"github.com/sehwan505/uos-ticket-reservation/internal/queue"
	"github.com/sehwan505/uos-ticket-reservation/internal/repository"
	"github.com/sehwan505/uos-ticket-reservation/internal/utils"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	eventTimeout          = 2 * time.Second
	minPinLength          = 4
)

// BookRequest is one seat booking.  Exactly one of MemberID or Phone
// identifies the owner; non-members also choose a PIN that later proves
// ownership.
type BookRequest struct {
	ScreeningID   string
	SeatID        uint64
	MemberID      *uint64
	Phone         string
	Pin           string
	DiscountCode  string
	PointsToUse   int64
	Method        model.PaymentMethod
	InstrumentRef string
}

// Booking is the outcome of a successful Book.
type Booking struct {
	Reservation *model.Reservation
	Payment     *model.Payment
	Accrued     int64 // pending points earned by the purchase
}

// Credentials identify the caller of an owner-only operation.
type Credentials struct {
	MemberID *uint64
	Phone    string
	Pin      string
	Admin    bool
}

// Engine orchestrates holds, payments, cancellations and ticket issuance
// on top of a Store.
type Engine struct {
	store          Store
	dir            Directory
	gw             gateway.Port
	policy         points.Policy
	discounts      map[string]int64
	gatewayTimeout time.Duration
	bcryptCost     int
	publisher      EventPublisher
	cache          Invalidator
	log            *zap.Logger
	now            func() time.Time
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithPointsPolicy sets the accrual policy.
func WithPointsPolicy(p points.Policy) EngineOption { return func(e *Engine) { e.policy = p } }

// WithDiscounts sets the discount code table (code -> amount off).
func WithDiscounts(d map[string]int64) EngineOption {
	return func(e *Engine) {
		e.discounts = make(map[string]int64, len(d))
		for code, amount := range d {
			e.discounts[strings.ToUpper(code)] = amount
		}
	}
}

// WithGatewayTimeout bounds each gateway call.
func WithGatewayTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.gatewayTimeout = d
		}
	}
}

// WithBcryptCost sets the cost used to hash non-member PINs.
func WithBcryptCost(cost int) EngineOption { return func(e *Engine) { e.bcryptCost = cost } }

// WithPublisher sends lifecycle events after each committed transition.
func WithPublisher(p EventPublisher) EngineOption { return func(e *Engine) { e.publisher = p } }

// WithInvalidator drops cached availability after each transition.
func WithInvalidator(c Invalidator) EngineOption { return func(e *Engine) { e.cache = c } }

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock overrides the clock used for event timestamps.
func WithClock(now func() time.Time) EngineOption { return func(e *Engine) { e.now = now } }

// NewEngine wires an engine.  store, dir and gw are required.
func NewEngine(store Store, dir Directory, gw gateway.Port, opts ...EngineOption) *Engine {
	if store == nil || dir == nil || gw == nil {
		panic("nil dependency passed to NewEngine")
	}
	e := &Engine{
		store:          store,
		dir:            dir,
		gw:             gw,
		policy:         points.DefaultPolicy(),
		discounts:      map[string]int64{},
		gatewayTimeout: defaultGatewayTimeout,
		bcryptCost:     10,
		log:            zap.NewNop(),
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", repository.ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// validate checks the request shape before anything is locked.
func (e *Engine) validate(req BookRequest) error {
	if strings.TrimSpace(req.ScreeningID) == "" {
		return invalid("screening id is required")
	}
	if req.SeatID == 0 {
		return invalid("seat id is required")
	}
	member := req.MemberID != nil
	switch {
	case member && req.Phone != "":
		return invalid("owner must be a member or a phone number, not both")
	case member && *req.MemberID == 0:
		return invalid("member id must be positive")
	case !member && strings.TrimSpace(req.Phone) == "":
		return invalid("member id or phone number is required")
	case !member && len(req.Pin) < minPinLength:
		return invalid("non-member bookings need a PIN of at least %d characters", minPinLength)
	}
	if req.PointsToUse < 0 {
		return invalid("points to use must not be negative")
	}
	if req.PointsToUse > 0 && !member {
		return invalid("only members can pay with points")
	}
	return nil
}

// Book holds the seat, authorizes the payment and finalizes the booking.
// Conflict and LockTimeout from the hold are returned as-is.  A declined
// or timed-out authorization cancels the hold and returns a
// *repository.PaymentError.
func (e *Engine) Book(ctx context.Context, req BookRequest) (*Booking, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}
	ok, err := e.dir.ScreeningExists(ctx, req.ScreeningID)
	if err != nil {
		return nil, fmt.Errorf("lookup screening: %w", err)
	}
	if !ok {
		return nil, repository.ErrScreeningNotFound
	}
	_, base, err := e.dir.SeatGradeAndPrice(ctx, req.SeatID)
	if err != nil {
		return nil, err
	}

	code := strings.ToUpper(strings.TrimSpace(req.DiscountCode))
	var discount int64
	if code != "" {
		amount, known := e.discounts[code]
		if !known {
			return nil, invalid("unknown discount code %q", req.DiscountCode)
		}
		discount = amount
	}
	final := model.FinalPrice(base, discount)
	if req.PointsToUse > final {
		return nil, invalid("points to use (%d) exceed the price (%d)", req.PointsToUse, final)
	}
	charged := final - req.PointsToUse
	method := req.Method
	if charged == 0 {
		method = model.MethodPoints
	} else if !model.ValidMethod(method) {
		return nil, invalid("unsupported payment method %q", req.Method)
	}

	owner := model.Owner{MemberID: req.MemberID, Phone: req.Phone}
	if !owner.IsMember() {
		hash, err := utils.HashPassword(req.Pin, e.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash pin: %w", err)
		}
		owner.PinHash = hash
	}

	res, err := e.store.AcquireHold(ctx, repository.HoldRequest{
		ScreeningID:    req.ScreeningID,
		SeatID:         req.SeatID,
		Owner:          owner,
		BasePrice:      base,
		DiscountCode:   code,
		DiscountAmount: discount,
	})
	if err != nil {
		return nil, err
	}
	e.invalidate(ctx, res.ScreeningID)
	log := e.log.With(zap.String("reservation_id", res.ID))

	// Compensating writes must survive a cancelled request context.
	bg := context.WithoutCancel(ctx)

	if req.PointsToUse > 0 {
		bal, err := e.store.PointsBalance(ctx, *req.MemberID)
		if err != nil {
			e.release(bg, res, model.CancelInsufficientPts)
			return nil, fmt.Errorf("read points balance: %w", err)
		}
		if bal.Available < req.PointsToUse {
			e.release(bg, res, model.CancelInsufficientPts)
			return nil, repository.ErrInsufficientPoints
		}
	}

	pay := model.Payment{
		ID:            uuid.NewString(),
		ReservationID: res.ID,
		Method:        method,
		Amount:        final,
		PointsUsed:    req.PointsToUse,
		Charged:       charged,
		Status:        model.PaymentPending,
	}

	if charged > 0 {
		gctx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
		result, err := e.gw.Authorize(gctx, gateway.AuthorizeRequest{
			PaymentID:     pay.ID,
			ReservationID: res.ID,
			Method:        method,
			Amount:        charged,
			InstrumentRef: req.InstrumentRef,
		})
		cancel()
		if err != nil || !result.Approved {
			reason := result.ReasonCode
			if err != nil {
				reason = gatewayErrorReason(err)
			}
			if reason == "" {
				reason = gateway.ReasonDeclined
			}
			log.Info("payment authorization failed", zap.String("reason", reason), zap.Error(err))
			e.release(bg, res, model.CancelPaymentFailed)
			return nil, &repository.PaymentError{Op: "authorize", Reason: reason}
		}
		pay.ApprovalToken = result.ApprovalToken
	}

	var accrual int64
	if owner.IsMember() {
		accrual = e.policy.Accrual(charged)
	}
	done, err := e.store.CompleteBooking(ctx, repository.CompleteRequest{
		ReservationID: res.ID,
		Payment:       pay,
		PointsUsed:    req.PointsToUse,
		Accrual:       accrual,
	})
	if err != nil {
		log.Warn("finalizing booking failed, compensating", zap.Error(err))
		e.voidAuthorization(bg, pay.ApprovalToken, log)
		switch {
		case errors.Is(err, repository.ErrHoldExpired):
			// the sweeper already released the seat
		case errors.Is(err, repository.ErrInsufficientPoints):
			e.release(bg, res, model.CancelInsufficientPts)
		default:
			e.release(bg, res, model.CancelPaymentFailed)
		}
		return nil, err
	}

	stored, err := e.store.GetPayment(ctx, pay.ID)
	if err != nil {
		pay.Status = model.PaymentCompleted
		stored = &pay
	}
	log.Info("booking completed",
		zap.Int64("final_price", final),
		zap.Int64("points_used", req.PointsToUse),
		zap.Int64("charged", charged))
	e.emit(bg, queue.EventCompleted, done)
	e.invalidate(bg, done.ScreeningID)
	return &Booking{Reservation: done, Payment: stored, Accrued: accrual}, nil
}

func gatewayErrorReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return gateway.ReasonTimeout
	}
	return gateway.ReasonGatewayError
}

// release cancels a hold on a failure path.  Failures are logged; the
// sweeper reclaims anything left behind.
func (e *Engine) release(ctx context.Context, res *model.Reservation, reason model.CancelReason) {
	released, err := e.store.ReleaseHold(ctx, res.ID, reason)
	if err != nil {
		e.log.Error("releasing hold failed",
			zap.String("reservation_id", res.ID),
			zap.String("reason", string(reason)),
			zap.Error(err))
		return
	}
	e.emit(ctx, queue.EventCancelled, released)
	e.invalidate(ctx, res.ScreeningID)
}

// voidAuthorization cancels an approval the store could not record.
func (e *Engine) voidAuthorization(ctx context.Context, token string, log *zap.Logger) {
	if token == "" {
		return
	}
	gctx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
	defer cancel()
	result, err := e.gw.Cancel(gctx, token)
	if err != nil || !result.Approved {
		log.Error("voiding authorization failed, manual refund needed",
			zap.String("reason", result.ReasonCode), zap.Error(err))
	}
}

// Cancel cancels a reservation.  Completed bookings are cancelled at the
// gateway first, outside any store lock; a refusal leaves the reservation
// COMPLETED and returns a *repository.PaymentError.
func (e *Engine) Cancel(ctx context.Context, id string) (*model.Reservation, error) {
	refunded := ""
	res, err := e.store.Cancel(ctx, id, func(_ *model.Reservation, pay *model.Payment) error {
		if pay == nil || pay.Method == model.MethodPoints || pay.Charged == 0 || pay.ApprovalToken == "" {
			return nil
		}
		gctx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
		defer cancel()
		result, err := e.gw.Cancel(gctx, pay.ApprovalToken)
		if err != nil {
			return &repository.PaymentError{Op: "cancel", Reason: gatewayErrorReason(err)}
		}
		if !result.Approved {
			reason := result.ReasonCode
			if reason == "" {
				reason = gateway.ReasonCancelRefused
			}
			return &repository.PaymentError{Op: "cancel", Reason: reason}
		}
		refunded = pay.ID
		return nil
	})
	if err != nil {
		if refunded != "" {
			e.log.Error("gateway cancellation approved but not recorded, manual fix needed",
				zap.String("reservation_id", id),
				zap.String("payment_id", refunded),
				zap.Error(err))
		}
		return nil, err
	}
	e.log.Info("reservation cancelled", zap.String("reservation_id", res.ID))
	bg := context.WithoutCancel(ctx)
	e.emit(bg, queue.EventCancelled, res)
	e.invalidate(bg, res.ScreeningID)
	return res, nil
}

// IssueTicket marks a COMPLETED reservation as issued.  Issuing an already
// issued ticket succeeds without side effects.
func (e *Engine) IssueTicket(ctx context.Context, id string) (*model.Reservation, error) {
	res, changed, err := e.store.IssueTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if changed {
		e.log.Info("ticket issued", zap.String("reservation_id", res.ID))
		e.emit(context.WithoutCancel(ctx), queue.EventIssued, res)
	}
	return res, nil
}

// ListActiveSeatIDs returns the seats of a screening that are held or sold.
func (e *Engine) ListActiveSeatIDs(ctx context.Context, screeningID string) ([]uint64, error) {
	ok, err := e.dir.ScreeningExists(ctx, screeningID)
	if err != nil {
		return nil, fmt.Errorf("lookup screening: %w", err)
	}
	if !ok {
		return nil, repository.ErrScreeningNotFound
	}
	return e.store.ListActiveSeatIDs(ctx, screeningID)
}

// Get returns a reservation by id.
func (e *Engine) Get(ctx context.Context, id string) (*model.Reservation, error) {
	return e.store.GetReservation(ctx, id)
}

// GetPayment returns the payment recorded for a reservation, if any.
func (e *Engine) GetPayment(ctx context.Context, res *model.Reservation) (*model.Payment, error) {
	if res.PaymentID == nil {
		return nil, nil
	}
	return e.store.GetPayment(ctx, *res.PaymentID)
}

// AuthorizeOwner checks that cred may act on res.  Admins may act on any
// reservation; members must match the owner id; non-members must present
// the booking phone and PIN.
func (e *Engine) AuthorizeOwner(res *model.Reservation, cred Credentials) error {
	if cred.Admin {
		return nil
	}
	if res.Owner.IsMember() {
		if cred.MemberID != nil && *cred.MemberID == *res.Owner.MemberID {
			return nil
		}
		return repository.ErrForbidden
	}
	if cred.Phone == "" || cred.Phone != res.Owner.Phone {
		return repository.ErrForbidden
	}
	if !utils.VerifyPassword(res.Owner.PinHash, cred.Pin) {
		return repository.ErrForbidden
	}
	return nil
}

// PointsBalance returns a member's points balance.
func (e *Engine) PointsBalance(ctx context.Context, memberID uint64) (model.PointsBalance, error) {
	return e.store.PointsBalance(ctx, memberID)
}

// PointsHistory returns a member's most recent ledger entries.
func (e *Engine) PointsHistory(ctx context.Context, memberID uint64, limit int) ([]model.PointsEntry, error) {
	return e.store.PointsHistory(ctx, memberID, limit)
}

func (e *Engine) emit(ctx context.Context, typ string, res *model.Reservation) {
	if e.publisher == nil || res == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()
	if err := e.publisher.Publish(ctx, queue.NewEvent(typ, res, e.now())); err != nil {
		e.log.Debug("event not published", zap.String("type", typ), zap.Error(err))
	}
}

func (e *Engine) invalidate(ctx context.Context, screeningID string) {
	if e.cache != nil {
		e.cache.Invalidate(ctx, screeningID)
	}
}
