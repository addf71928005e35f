package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sehwan505/uos-ticket-reservation/internal/middleware"
	"github.com/sehwan505/uos-ticket-reservation/internal/model"
	"github.com/sehwan505/uos-ticket-reservation/internal/repository"
	"github.com/sehwan505/uos-ticket-reservation/internal/service"
)

// Headers a non-member uses to prove ownership of a reservation.
const (
	HeaderPhone = "X-Phone"
	HeaderPin   = "X-Pin"
)

// AvailabilitySource lists the held or sold seats of a screening.
// service.AvailabilityCache implements it.
type AvailabilitySource interface {
	ActiveSeatIDs(ctx context.Context, screeningID string) ([]uint64, error)
}

// ReservationHandler exposes booking, lookup, cancellation and ticket
// issuance.
type ReservationHandler struct {
	Engine       *service.Engine
	Availability AvailabilitySource
}

// NewReservationHandler panics if a dependency is nil.
func NewReservationHandler(eng *service.Engine, avail AvailabilitySource) *ReservationHandler {
	if eng == nil || avail == nil {
		panic("nil dependency passed to NewReservationHandler")
	}
	return &ReservationHandler{Engine: eng, Availability: avail}
}

type bookRequest struct {
	Phone         string `json:"phone"`
	Pin           string `json:"pin"`
	DiscountCode  string `json:"discount_code"`
	PointsToUse   int64  `json:"points_to_use"`
	PaymentMethod string `json:"payment_method"`
	InstrumentRef string `json:"instrument_ref"`
}

type paymentResponse struct {
	ID         string `json:"id"`
	Method     string `json:"method"`
	Amount     int64  `json:"amount"`
	PointsUsed int64  `json:"points_used"`
	Charged    int64  `json:"charged"`
	Status     string `json:"status"`
}

type reservationResponse struct {
	ID             string           `json:"id"`
	ScreeningID    string           `json:"screening_id"`
	SeatID         uint64           `json:"seat_id"`
	MemberID       *uint64          `json:"member_id,omitempty"`
	Phone          string           `json:"phone,omitempty"`
	Status         string           `json:"status"`
	BasePrice      int64            `json:"base_price"`
	DiscountCode   string           `json:"discount_code,omitempty"`
	DiscountAmount int64            `json:"discount_amount"`
	FinalPrice     int64            `json:"final_price"`
	Issued         bool             `json:"issued"`
	CancelReason   string           `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Payment        *paymentResponse `json:"payment,omitempty"`
	PointsAccrued  int64            `json:"points_accrued,omitempty"`
}

func toResponse(r *model.Reservation, p *model.Payment) reservationResponse {
	out := reservationResponse{
		ID:             r.ID,
		ScreeningID:    r.ScreeningID,
		SeatID:         r.SeatID,
		MemberID:       r.Owner.MemberID,
		Phone:          r.Owner.Phone,
		Status:         string(r.Status),
		BasePrice:      r.BasePrice,
		DiscountCode:   r.DiscountCode,
		DiscountAmount: r.DiscountAmount,
		FinalPrice:     r.FinalPrice,
		Issued:         r.Issued,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.CancelReason != nil {
		out.CancelReason = string(*r.CancelReason)
	}
	if p != nil {
		out.Payment = &paymentResponse{
			ID:         p.ID,
			Method:     string(p.Method),
			Amount:     p.Amount,
			PointsUsed: p.PointsUsed,
			Charged:    p.Charged,
			Status:     string(p.Status),
		}
	}
	return out
}

// ActiveSeats handles GET /v1/screenings/:id/active-seats.
func (h *ReservationHandler) ActiveSeats(c echo.Context) error {
	screeningID := strings.TrimSpace(c.Param("id"))
	if screeningID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid screening id"})
	}
	ids, err := h.Availability.ActiveSeatIDs(c.Request().Context(), screeningID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"screening_id": screeningID, "seat_ids": ids})
}

// Book handles POST /v1/screenings/:id/seats/:seatId/reservations.  A
// bearer token books as that member; otherwise phone and pin are required.
func (h *ReservationHandler) Book(c echo.Context) error {
	seatID, err := strconv.ParseUint(c.Param("seatId"), 10, 64)
	if err != nil || seatID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat id"})
	}
	var body bookRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	req := service.BookRequest{
		ScreeningID:   c.Param("id"),
		SeatID:        seatID,
		DiscountCode:  body.DiscountCode,
		PointsToUse:   body.PointsToUse,
		Method:        model.PaymentMethod(strings.ToUpper(strings.TrimSpace(body.PaymentMethod))),
		InstrumentRef: body.InstrumentRef,
	}
	if id, ok := middleware.MemberID(c); ok {
		req.MemberID = &id
	} else {
		req.Phone = strings.TrimSpace(body.Phone)
		req.Pin = body.Pin
	}

	b, err := h.Engine.Book(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	resp := toResponse(b.Reservation, b.Payment)
	resp.PointsAccrued = b.Accrued
	return c.JSON(http.StatusCreated, resp)
}

// owned loads the reservation named by :id and checks the caller owns it.
// Unknown ids and foreign reservations both answer 404 for non-admins so
// ids cannot be probed.
func (h *ReservationHandler) owned(c echo.Context) (*model.Reservation, error) {
	ctx := c.Request().Context()
	res, err := h.Engine.Get(ctx, c.Param("id"))
	if err != nil {
		return nil, err
	}
	cred := service.Credentials{
		Phone: strings.TrimSpace(c.Request().Header.Get(HeaderPhone)),
		Pin:   c.Request().Header.Get(HeaderPin),
		Admin: middleware.IsAdmin(c),
	}
	if id, ok := middleware.MemberID(c); ok {
		cred.MemberID = &id
	}
	if err := h.Engine.AuthorizeOwner(res, cred); err != nil {
		return nil, repository.ErrReservationNotFound
	}
	return res, nil
}

// Get handles GET /v1/reservations/:id.
func (h *ReservationHandler) Get(c echo.Context) error {
	res, err := h.owned(c)
	if err != nil {
		return writeError(c, err)
	}
	pay, err := h.Engine.GetPayment(c.Request().Context(), res)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(res, pay))
}

// Cancel handles DELETE /v1/reservations/:id.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	res, err := h.owned(c)
	if err != nil {
		return writeError(c, err)
	}
	cancelled, err := h.Engine.Cancel(c.Request().Context(), res.ID)
	if err != nil {
		return writeError(c, err)
	}
	pay, _ := h.Engine.GetPayment(c.Request().Context(), cancelled)
	return c.JSON(http.StatusOK, toResponse(cancelled, pay))
}

// Issue handles POST /v1/reservations/:id/issue.
func (h *ReservationHandler) Issue(c echo.Context) error {
	res, err := h.owned(c)
	if err != nil {
		return writeError(c, err)
	}
	issued, err := h.Engine.IssueTicket(c.Request().Context(), res.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(issued, nil))
}

// MyPoints handles GET /v1/me/points?limit=N.
func (h *ReservationHandler) MyPoints(c echo.Context) error {
	memberID, ok := middleware.MemberID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be between 1 and 100"})
		}
		limit = n
	}
	ctx := c.Request().Context()
	bal, err := h.Engine.PointsBalance(ctx, memberID)
	if err != nil {
		return writeError(c, err)
	}
	history, err := h.Engine.PointsHistory(ctx, memberID, limit)
	if err != nil {
		return writeError(c, err)
	}
	entries := make([]echo.Map, 0, len(history))
	for _, e := range history {
		entries = append(entries, echo.Map{
			"reservation_id": e.ReservationID,
			"kind":           string(e.Kind),
			"amount":         e.Amount,
			"pending":        e.Pending,
			"created_at":     e.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"member_id": memberID,
		"available": bal.Available,
		"pending":   bal.Pending,
		"history":   entries,
	})
}
