package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sehwan505/uos-ticket-reservation/internal/repository"
)

// lockRetryAfter is the Retry-After hint, in seconds, sent with 503 when
// the seat lock could not be obtained.
const lockRetryAfter = 1

// statusOf maps engine errors onto HTTP status codes and a stable code
// clients can switch on.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, repository.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict, "seat_taken"
	case errors.Is(err, repository.ErrAlreadyIssued):
		return http.StatusConflict, "already_issued"
	case errors.Is(err, repository.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, repository.ErrHoldExpired):
		return http.StatusConflict, "hold_expired"
	case errors.Is(err, repository.ErrInsufficientPoints):
		return http.StatusUnprocessableEntity, "insufficient_points"
	case errors.Is(err, repository.ErrPaymentFailed):
		return http.StatusPaymentRequired, "payment_failed"
	case errors.Is(err, repository.ErrLockTimeout):
		return http.StatusServiceUnavailable, "lock_timeout"
	}
	return http.StatusInternalServerError, "internal"
}

// writeError renders err as {"error": code, "message": ...}.  Internal
// errors are not echoed to the client.
func writeError(c echo.Context, err error) error {
	status, code := statusOf(err)
	body := echo.Map{"error": code}
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
		body["message"] = "internal error"
	} else {
		body["message"] = err.Error()
	}
	var pe *repository.PaymentError
	if errors.As(err, &pe) {
		body["reason"] = pe.Reason
	}
	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", strconv.Itoa(lockRetryAfter))
	}
	return c.JSON(status, body)
}
