package gateway

import (
	"fmt"
	"strings"
	"time"
)

// Type selects a Port implementation.
type Type string

const (
	TypeSimulator Type = "simulator"
	TypeApprove   Type = "approve"
	TypeDecline   Type = "decline"
	TypeStripe    Type = "stripe"
)

// Config holds what the factory needs for any implementation.
type Config struct {
	Type            string
	ApproveRate     float64
	CancelRate      float64
	Delay           time.Duration
	Seed            int64
	StripeSecretKey string
	StripeCurrency  string
}

// New creates the gateway named by cfg.Type.  An empty type selects the
// simulator.
func New(cfg Config) (Port, error) {
	switch Type(strings.ToLower(strings.TrimSpace(cfg.Type))) {
	case TypeSimulator, "":
		sc := DefaultSimulatorConfig()
		if cfg.ApproveRate > 0 {
			sc.ApproveRate = cfg.ApproveRate
		}
		if cfg.CancelRate > 0 {
			sc.CancelRate = cfg.CancelRate
		}
		if cfg.Delay > 0 {
			sc.Delay = cfg.Delay
		}
		sc.Seed = cfg.Seed
		return NewSimulator(sc), nil

	case TypeApprove:
		return NewFixed(Approve, Approve), nil

	case TypeDecline:
		return NewFixed(Decline, Decline), nil

	case TypeStripe:
		return NewStripeGateway(&StripeGatewayConfig{
			SecretKey: cfg.StripeSecretKey,
			Currency:  cfg.StripeCurrency,
		})

	default:
		return nil, fmt.Errorf("unsupported gateway type: %s", cfg.Type)
	}
}
