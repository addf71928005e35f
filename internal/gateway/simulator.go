package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Simulator stands in for a real card network.  It approves a fixed share
// of authorizations and cancellations after a processing delay.
type Simulator struct {
	config *SimulatorConfig

	mu  sync.Mutex
	rnd *rand.Rand
}

// SimulatorConfig holds configuration for the simulator.
type SimulatorConfig struct {
	// ApproveRate is the probability an authorization is approved (0.0 to 1.0)
	ApproveRate float64

	// CancelRate is the probability a cancellation is approved (0.0 to 1.0)
	CancelRate float64

	// Delay is the simulated processing time of each call
	Delay time.Duration

	// FailureReasons are picked at random for declined authorizations
	FailureReasons []string

	// Seed fixes the random source; 0 seeds from the clock
	Seed int64
}

// DefaultSimulatorConfig approves 95% of authorizations and 98% of
// cancellations after one second.
func DefaultSimulatorConfig() *SimulatorConfig {
	return &SimulatorConfig{
		ApproveRate: 0.95,
		CancelRate:  0.98,
		Delay:       time.Second,
		FailureReasons: []string{
			"insufficient_funds",
			"card_declined",
			"expired_card",
			"limit_exceeded",
		},
	}
}

// NewSimulator creates a simulator; a nil config uses the defaults.
func NewSimulator(config *SimulatorConfig) *Simulator {
	if config == nil {
		config = DefaultSimulatorConfig()
	}
	config.ApproveRate = clampRate(config.ApproveRate)
	config.CancelRate = clampRate(config.CancelRate)
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{config: config, rnd: rand.New(rand.NewSource(seed))}
}

func clampRate(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

func (g *Simulator) roll() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Float64()
}

func (g *Simulator) wait(ctx context.Context) error {
	if g.config.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(g.config.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Authorize simulates an authorization.
func (g *Simulator) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	if req.Amount <= 0 {
		return AuthorizeResult{ReasonCode: ReasonInvalidAmount}, nil
	}
	if err := g.wait(ctx); err != nil {
		return AuthorizeResult{}, err
	}
	if g.roll() >= g.config.ApproveRate {
		reason := ReasonDeclined
		if n := len(g.config.FailureReasons); n > 0 {
			g.mu.Lock()
			reason = g.config.FailureReasons[g.rnd.Intn(n)]
			g.mu.Unlock()
		}
		return AuthorizeResult{ReasonCode: reason}, nil
	}
	return AuthorizeResult{
		Approved:      true,
		ApprovalToken: fmt.Sprintf("sim_%s", uuid.New().String()[:8]),
	}, nil
}

// Cancel simulates voiding an authorization.
func (g *Simulator) Cancel(ctx context.Context, approvalToken string) (CancelResult, error) {
	if approvalToken == "" {
		return CancelResult{ReasonCode: ReasonUnknownToken}, nil
	}
	if err := g.wait(ctx); err != nil {
		return CancelResult{}, err
	}
	if g.roll() >= g.config.CancelRate {
		return CancelResult{ReasonCode: ReasonCancelRefused}, nil
	}
	return CancelResult{Approved: true}, nil
}

// Name returns the gateway name
func (g *Simulator) Name() string { return "simulator" }
