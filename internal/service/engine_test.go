package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sehwan505/uos-ticket-reservation/internal/gateway"
	"github.com/sehwan505/uos-ticket-reservation/internal/model"
	"github.com/sehwan505/uos-ticket-reservation/internal/queue"
	"github.com/sehwan505/uos-ticket-reservation/internal/repository"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.ReservationEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, ev queue.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingInvalidator) Invalidate(ctx context.Context, screeningID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[screeningID]++
}

// hookGateway runs onAuthorize or onCancel before delegating to a Fixed
// gateway.
type hookGateway struct {
	*gateway.Fixed
	onAuthorize func(req gateway.AuthorizeRequest)
	onCancel    func(token string)
}

func (g *hookGateway) Cancel(ctx context.Context, approvalToken string) (gateway.CancelResult, error) {
	if g.onCancel != nil {
		g.onCancel(approvalToken)
	}
	return g.Fixed.Cancel(ctx, approvalToken)
}

func (g *hookGateway) Authorize(ctx context.Context, req gateway.AuthorizeRequest) (gateway.AuthorizeResult, error) {
	if g.onAuthorize != nil {
		g.onAuthorize(req)
	}
	return g.Fixed.Authorize(ctx, req)
}

type fixture struct {
	store *repository.MemoryStore
	dir   *repository.MemoryDirectory
	gw    *gateway.Fixed
	pub   *recordingPublisher
	cache *countingInvalidator
	eng   *Engine
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	store := repository.NewMemoryStore(time.Second)
	dir := repository.NewMemoryDirectory()
	dir.AddScreening(model.Screening{ID: "S1", MovieTitle: "Dune", ScreenID: 1, StartsAt: time.Now().Add(24 * time.Hour)})
	dir.AddGrade(model.SeatGrade{Code: "STANDARD", Price: 12000})
	dir.AddGrade(model.SeatGrade{Code: "PRIME", Price: 15000})
	for i := uint64(1); i <= 10; i++ {
		grade := "STANDARD"
		if i > 8 {
			grade = "PRIME"
		}
		dir.AddSeat(model.Seat{ID: i, ScreenID: 1, RowLabel: "A", SeatNumber: uint32(i), GradeCode: grade})
	}
	f := &fixture{
		store: store,
		dir:   dir,
		gw:    gateway.NewFixed(gateway.Approve, gateway.Approve),
		pub:   &recordingPublisher{},
		cache: &countingInvalidator{},
	}
	base := []EngineOption{
		WithPublisher(f.pub),
		WithInvalidator(f.cache),
		WithBcryptCost(bcrypt.MinCost),
		WithDiscounts(map[string]int64{"youth": 2000}),
		WithGatewayTimeout(200 * time.Millisecond),
	}
	f.eng = NewEngine(store, dir, f.gw, append(base, opts...)...)
	return f
}

func member(id uint64) *uint64 { return &id }

func memberBooking(seat, memberID uint64) BookRequest {
	return BookRequest{ScreeningID: "S1", SeatID: seat, MemberID: member(memberID), Method: model.MethodCard}
}

type ledgerLine struct {
	Kind    model.PointsKind
	Amount  int64
	Pending bool
}

// ledgerFor returns a reservation's ledger entries, oldest first.
func ledgerFor(t *testing.T, f *fixture, memberID uint64, reservationID string) []ledgerLine {
	t.Helper()
	history, err := f.eng.PointsHistory(context.Background(), memberID, 0)
	require.NoError(t, err)
	var out []ledgerLine
	for i := len(history) - 1; i >= 0; i-- {
		e := history[i]
		if e.ReservationID == reservationID {
			out = append(out, ledgerLine{Kind: e.Kind, Amount: e.Amount, Pending: e.Pending})
		}
	}
	return out
}

func TestEngine_BookWithPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.GrantPoints(7, 1000))

	req := memberBooking(1, 7)
	req.PointsToUse = 500
	b, err := f.eng.Book(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, "S1-1-001", b.Reservation.ID)
	assert.Equal(t, model.StatusCompleted, b.Reservation.Status)
	assert.Equal(t, int64(12000), b.Payment.Amount)
	assert.Equal(t, int64(11500), b.Payment.Charged)
	assert.Equal(t, model.PaymentCompleted, b.Payment.Status)
	assert.Equal(t, int64(575), b.Accrued)
	assert.Equal(t, int64(1), f.gw.Authorizations())

	bal, err := f.eng.PointsBalance(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal.Available)
	assert.Equal(t, int64(575), bal.Pending)

	// one USE of the deducted points, one pending ACCRUE on the charged 11,500
	assert.Equal(t, []ledgerLine{
		{Kind: model.PointsUse, Amount: 500},
		{Kind: model.PointsAccrue, Amount: 575, Pending: true},
	}, ledgerFor(t, f, 7, b.Reservation.ID))

	assert.Equal(t, []string{queue.EventCompleted}, f.pub.types())
	assert.GreaterOrEqual(t, f.cache.calls["S1"], 2)
}

func TestEngine_BookConflictSkipsGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.eng.Book(ctx, memberBooking(1, 7))
	require.NoError(t, err)

	_, err = f.eng.Book(ctx, memberBooking(1, 8))
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Equal(t, int64(1), f.gw.Authorizations())
}

func TestEngine_BookDeclinedReleasesSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.AuthorizeOutcome = gateway.Decline

	_, err := f.eng.Book(ctx, memberBooking(1, 7))
	require.ErrorIs(t, err, repository.ErrPaymentFailed)
	var pe *repository.PaymentError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "authorize", pe.Op)
	assert.Equal(t, gateway.ReasonDeclined, pe.Reason)

	res, err := f.eng.Get(ctx, "S1-1-001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, res.Status)
	assert.Equal(t, model.CancelPaymentFailed, *res.CancelReason)

	ids, err := f.eng.ListActiveSeatIDs(ctx, "S1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	f.gw.AuthorizeOutcome = gateway.Approve
	b, err := f.eng.Book(ctx, memberBooking(1, 8))
	require.NoError(t, err)
	assert.Equal(t, "S1-1-002", b.Reservation.ID)
}

func TestEngine_BookGatewayTimeout(t *testing.T) {
	f := newFixture(t, WithGatewayTimeout(20*time.Millisecond))
	f.gw.AuthorizeOutcome = gateway.Stall

	_, err := f.eng.Book(context.Background(), memberBooking(2, 7))
	var pe *repository.PaymentError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, gateway.ReasonTimeout, pe.Reason)

	ids, _ := f.eng.ListActiveSeatIDs(context.Background(), "S1")
	assert.Empty(t, ids)
}

func TestEngine_BookInsufficientPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.GrantPoints(7, 100))

	req := memberBooking(3, 7)
	req.PointsToUse = 500
	_, err := f.eng.Book(ctx, req)
	assert.ErrorIs(t, err, repository.ErrInsufficientPoints)
	assert.Zero(t, f.gw.Authorizations())

	res, err := f.eng.Get(ctx, "S1-3-001")
	require.NoError(t, err)
	assert.Equal(t, model.CancelInsufficientPts, *res.CancelReason)
	bal, _ := f.eng.PointsBalance(ctx, 7)
	assert.Equal(t, int64(100), bal.Available)
}

func TestEngine_BookFullyWithPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.GrantPoints(7, 20000))

	req := memberBooking(9, 7)
	req.PointsToUse = 15000
	req.Method = ""
	b, err := f.eng.Book(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, model.MethodPoints, b.Payment.Method)
	assert.Zero(t, b.Payment.Charged)
	assert.Zero(t, b.Accrued)
	assert.Zero(t, f.gw.Authorizations())

	_, err = f.eng.Cancel(ctx, b.Reservation.ID)
	require.NoError(t, err)
	assert.Zero(t, f.gw.Cancellations())
	bal, _ := f.eng.PointsBalance(ctx, 7)
	assert.Equal(t, int64(20000), bal.Available)
}

func TestEngine_BookWithDiscount(t *testing.T) {
	f := newFixture(t)
	req := memberBooking(4, 7)
	req.DiscountCode = "Youth"
	b, err := f.eng.Book(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "YOUTH", b.Reservation.DiscountCode)
	assert.Equal(t, int64(10000), b.Reservation.FinalPrice)
	assert.Equal(t, int64(10000), b.Payment.Charged)
}

func TestEngine_BookValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]struct {
		req  BookRequest
		want error
	}{
		"no owner":          {BookRequest{ScreeningID: "S1", SeatID: 1, Method: model.MethodCard}, repository.ErrInvalidRequest},
		"both owners":       {BookRequest{ScreeningID: "S1", SeatID: 1, MemberID: member(1), Phone: "010", Method: model.MethodCard}, repository.ErrInvalidRequest},
		"short pin":         {BookRequest{ScreeningID: "S1", SeatID: 1, Phone: "010", Pin: "12", Method: model.MethodCard}, repository.ErrInvalidRequest},
		"guest points":      {BookRequest{ScreeningID: "S1", SeatID: 1, Phone: "010", Pin: "1234", PointsToUse: 10, Method: model.MethodCard}, repository.ErrInvalidRequest},
		"negative points":   {BookRequest{ScreeningID: "S1", SeatID: 1, MemberID: member(1), PointsToUse: -1, Method: model.MethodCard}, repository.ErrInvalidRequest},
		"unknown discount":  {BookRequest{ScreeningID: "S1", SeatID: 1, MemberID: member(1), DiscountCode: "FREE", Method: model.MethodCard}, repository.ErrInvalidRequest},
		"points over price": {BookRequest{ScreeningID: "S1", SeatID: 1, MemberID: member(1), PointsToUse: 50000, Method: model.MethodCard}, repository.ErrInvalidRequest},
		"bad method":        {BookRequest{ScreeningID: "S1", SeatID: 1, MemberID: member(1), Method: "CASH"}, repository.ErrInvalidRequest},
		"unknown screening": {BookRequest{ScreeningID: "S9", SeatID: 1, MemberID: member(1), Method: model.MethodCard}, repository.ErrScreeningNotFound},
		"unknown seat":      {BookRequest{ScreeningID: "S1", SeatID: 99, MemberID: member(1), Method: model.MethodCard}, repository.ErrSeatNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.eng.Book(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	ids, _ := f.eng.ListActiveSeatIDs(ctx, "S1")
	assert.Empty(t, ids)
	assert.Zero(t, f.gw.Authorizations())
}

func TestEngine_ConcurrentBookingsSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.eng.Book(ctx, memberBooking(5, uint64(i+1)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrLockTimeout):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, int64(1), f.gw.Authorizations())
}

func TestEngine_HoldExpiredDuringPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hg := &hookGateway{Fixed: f.gw}
	hg.onAuthorize = func(req gateway.AuthorizeRequest) {
		_, err := f.store.ExpireHold(ctx, req.ReservationID, time.Now().Add(time.Hour))
		require.NoError(t, err)
	}
	eng := NewEngine(f.store, f.dir, hg, WithPublisher(f.pub))

	_, err := eng.Book(ctx, memberBooking(6, 7))
	assert.ErrorIs(t, err, repository.ErrHoldExpired)
	assert.Equal(t, int64(1), f.gw.Cancellations(), "approved charge is voided")

	res, err := eng.Get(ctx, "S1-6-001")
	require.NoError(t, err)
	assert.Equal(t, model.CancelExpired, *res.CancelReason)
}

func TestEngine_CancelCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.GrantPoints(7, 1000))
	req := memberBooking(1, 7)
	req.PointsToUse = 500
	b, err := f.eng.Book(ctx, req)
	require.NoError(t, err)

	res, err := f.eng.Cancel(ctx, b.Reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, res.Status)
	assert.Equal(t, int64(1), f.gw.Cancellations())

	bal, _ := f.eng.PointsBalance(ctx, 7)
	assert.Equal(t, int64(1000), bal.Available)
	assert.Zero(t, bal.Pending)
	assert.Equal(t, []ledgerLine{
		{Kind: model.PointsUse, Amount: 500},
		{Kind: model.PointsAccrue, Amount: 575, Pending: true},
		{Kind: model.PointsAccrue, Amount: 500},
		{Kind: model.PointsExpire, Amount: 575, Pending: true},
	}, ledgerFor(t, f, 7, b.Reservation.ID))

	pay, err := f.eng.GetPayment(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCancelled, pay.Status)

	_, err = f.eng.Cancel(ctx, b.Reservation.ID)
	assert.ErrorIs(t, err, repository.ErrInvalidState)
	assert.Equal(t, []string{queue.EventCompleted, queue.EventCancelled}, f.pub.types())
}

func TestEngine_CancelRefusedKeepsBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.eng.Book(ctx, memberBooking(1, 7))
	require.NoError(t, err)

	f.gw.CancelOutcome = gateway.Decline
	_, err = f.eng.Cancel(ctx, b.Reservation.ID)
	var pe *repository.PaymentError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "cancel", pe.Op)

	res, _ := f.eng.Get(ctx, b.Reservation.ID)
	assert.Equal(t, model.StatusCompleted, res.Status)
	ids, _ := f.eng.ListActiveSeatIDs(ctx, "S1")
	assert.Equal(t, []uint64{1}, ids)
}

func TestEngine_CancelRacingIssueKeepsTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.eng.Book(ctx, memberBooking(1, 7))
	require.NoError(t, err)

	hook := &hookGateway{Fixed: f.gw, onCancel: func(string) {
		_, err := f.eng.IssueTicket(ctx, b.Reservation.ID)
		require.NoError(t, err)
	}}
	eng := NewEngine(f.store, f.dir, hook, WithBcryptCost(bcrypt.MinCost))

	_, err = eng.Cancel(ctx, b.Reservation.ID)
	assert.ErrorIs(t, err, repository.ErrAlreadyIssued)

	res, _ := f.eng.Get(ctx, b.Reservation.ID)
	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.True(t, res.Issued)
	ids, _ := f.eng.ListActiveSeatIDs(ctx, "S1")
	assert.Equal(t, []uint64{1}, ids)
}

func TestEngine_IssueTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.eng.Book(ctx, memberBooking(1, 7))
	require.NoError(t, err)

	res, err := f.eng.IssueTicket(ctx, b.Reservation.ID)
	require.NoError(t, err)
	assert.True(t, res.Issued)

	_, err = f.eng.IssueTicket(ctx, b.Reservation.ID)
	require.NoError(t, err)

	bal, _ := f.eng.PointsBalance(ctx, 7)
	assert.Equal(t, b.Accrued, bal.Available)
	assert.Zero(t, bal.Pending)

	_, err = f.eng.Cancel(ctx, b.Reservation.ID)
	assert.ErrorIs(t, err, repository.ErrAlreadyIssued)
	assert.Zero(t, f.gw.Cancellations())
	assert.Equal(t, []string{queue.EventCompleted, queue.EventIssued}, f.pub.types())

	history, err := f.eng.PointsHistory(ctx, 7, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, history)
}

func TestEngine_IssueTicketRequiresCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.AcquireHold(ctx, repository.HoldRequest{
		ScreeningID: "S1", SeatID: 2, Owner: model.Owner{MemberID: member(7)}, BasePrice: 12000,
	})
	require.NoError(t, err)

	_, err = f.eng.IssueTicket(ctx, "S1-2-001")
	assert.ErrorIs(t, err, repository.ErrInvalidState)
	_, err = f.eng.IssueTicket(ctx, "S1-2-404")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestEngine_NonMemberOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.eng.Book(ctx, BookRequest{
		ScreeningID: "S1", SeatID: 7, Phone: "01012345678", Pin: "4321", Method: model.MethodBankTransfer,
	})
	require.NoError(t, err)
	assert.Zero(t, b.Accrued)
	assert.NotEqual(t, "4321", b.Reservation.Owner.PinHash)

	res := b.Reservation
	assert.NoError(t, f.eng.AuthorizeOwner(res, Credentials{Phone: "01012345678", Pin: "4321"}))
	assert.ErrorIs(t, f.eng.AuthorizeOwner(res, Credentials{Phone: "01012345678", Pin: "0000"}), repository.ErrForbidden)
	assert.ErrorIs(t, f.eng.AuthorizeOwner(res, Credentials{Phone: "01099999999", Pin: "4321"}), repository.ErrForbidden)
	assert.ErrorIs(t, f.eng.AuthorizeOwner(res, Credentials{MemberID: member(7)}), repository.ErrForbidden)
	assert.NoError(t, f.eng.AuthorizeOwner(res, Credentials{Admin: true}))
}

func TestEngine_MemberOwnership(t *testing.T) {
	f := newFixture(t)
	b, err := f.eng.Book(context.Background(), memberBooking(8, 7))
	require.NoError(t, err)

	assert.NoError(t, f.eng.AuthorizeOwner(b.Reservation, Credentials{MemberID: member(7)}))
	assert.ErrorIs(t, f.eng.AuthorizeOwner(b.Reservation, Credentials{MemberID: member(8)}), repository.ErrForbidden)
	assert.ErrorIs(t, f.eng.AuthorizeOwner(b.Reservation, Credentials{}), repository.ErrForbidden)
}

func TestEngine_ListActiveSeatIDsUnknownScreening(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.ListActiveSeatIDs(context.Background(), "nope")
	assert.ErrorIs(t, err, repository.ErrScreeningNotFound)
}
