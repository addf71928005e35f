// Package points implements the arithmetic of the member points ledger:
// how much a purchase earns and how each ledger entry moves a balance.
// Persistence lives in the repository package; both stores apply entries
// through Apply so the balance rules exist in one place.
package points

import (
	"errors"
	"fmt"
	"math"

	"github.com/sehwan505/uos-ticket-reservation/internal/model"
)

// ErrNegativeBalance is returned when an entry would drive a balance
// below zero.
var ErrNegativeBalance = errors.New("points balance would go negative")

// Policy decides how many points a paid amount earns.
type Policy struct {
	Rate float64 // fraction of the charged amount, e.g. 0.05
	Min  int64   // floor for a non-zero purchase
	Max  int64   // ceiling per purchase; 0 means no ceiling
}

// DefaultPolicy earns 5% of the charged amount, at least 10 and at most
// 1000 points per seat.
func DefaultPolicy() Policy {
	return Policy{Rate: 0.05, Min: 10, Max: 1000}
}

// Accrual returns the points earned for a charge.  Nothing is earned when
// nothing was charged.
func (p Policy) Accrual(charged int64) int64 {
	if charged <= 0 || p.Rate <= 0 {
		return 0
	}
	n := int64(math.Round(float64(charged) * p.Rate))
	if n < p.Min {
		n = p.Min
	}
	if p.Max > 0 && n > p.Max {
		n = p.Max
	}
	return n
}

// Apply returns the balance after entry e.  Amounts must be positive.
func Apply(b model.PointsBalance, e model.PointsEntry) (model.PointsBalance, error) {
	if e.Amount <= 0 {
		return b, fmt.Errorf("points entry amount must be positive, got %d", e.Amount)
	}
	switch e.Kind {
	case model.PointsAccrue:
		if e.Pending {
			b.Pending += e.Amount
		} else {
			b.Available += e.Amount
		}
	case model.PointsUse:
		if e.Pending {
			return b, fmt.Errorf("USE entries cannot be pending")
		}
		if b.Available < e.Amount {
			return b, ErrNegativeBalance
		}
		b.Available -= e.Amount
	case model.PointsExpire:
		if e.Pending {
			if b.Pending < e.Amount {
				return b, ErrNegativeBalance
			}
			b.Pending -= e.Amount
		} else {
			if b.Available < e.Amount {
				return b, ErrNegativeBalance
			}
			b.Available -= e.Amount
		}
	default:
		return b, fmt.Errorf("unknown points kind %q", e.Kind)
	}
	return b, nil
}

// Settle moves a pending accrual into the available balance.
func Settle(b model.PointsBalance, amount int64) (model.PointsBalance, error) {
	if amount <= 0 {
		return b, nil
	}
	if b.Pending < amount {
		return b, ErrNegativeBalance
	}
	b.Pending -= amount
	b.Available += amount
	return b, nil
}
