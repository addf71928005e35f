package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sehwan505/uos-ticket-reservation/internal/logger"
	"github.com/sehwan505/uos-ticket-reservation/internal/model"
)

func sampleReservation() *model.Reservation {
	member := uint64(7)
	reason := model.CancelExpired
	return &model.Reservation{
		ID:           "S1-42-001",
		ScreeningID:  "S1",
		SeatID:       42,
		Owner:        model.Owner{MemberID: &member},
		Status:       model.StatusCancelled,
		FinalPrice:   12000,
		CancelReason: &reason,
	}
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ev := NewEvent(EventExpired, sampleReservation(), at)
	assert.Equal(t, "reservation.expired", ev.Type)
	assert.Equal(t, "EXPIRED", ev.CancelReason)
	assert.Equal(t, "2025-03-01T10:00:00Z", ev.OccurredAt)
	require.NotNil(t, ev.MemberID)
	assert.Empty(t, ev.PaymentID)
}

func TestFormatAuditLine(t *testing.T) {
	ev := NewEvent(EventExpired, sampleReservation(), time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	line := FormatAuditLine(ev)
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Contains(t, line, "reservation_id=S1-42-001")
	assert.Contains(t, line, "member=7")
	assert.Contains(t, line, "reason=EXPIRED")
}

func TestAuditConsumer_Handle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "reservations.log")
	c := NewAuditConsumer("", path, logger.Nop())

	body, err := json.Marshal(NewEvent(EventExpired, sampleReservation(), time.Now()))
	require.NoError(t, err)
	require.NoError(t, c.Handle(body))
	require.NoError(t, c.Handle(body))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))

	assert.Error(t, c.Handle([]byte("not json")))
	assert.Error(t, c.Handle([]byte(`{"type":""}`)))
}
