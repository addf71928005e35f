package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EngineConfig tunes the booking engine.
type EngineConfig struct {
	LockTimeout    time.Duration    // LOCK_TIMEOUT, bound on seat lock waits
	GatewayTimeout time.Duration    // GATEWAY_TIMEOUT, bound on each gateway call
	Discounts      map[string]int64 // DISCOUNT_CODES, e.g. YOUTH:2000,SENIOR:3000
	PointsRate     float64          // POINTS_RATE, share of the charge earned
	PointsMin      int64            // POINTS_MIN per purchase
	PointsMax      int64            // POINTS_MAX per purchase, 0 for none
}

// LoadEngineConfig reads the engine settings.  A malformed DISCOUNT_CODES
// value is an error; everything else falls back to its default.
func LoadEngineConfig() (EngineConfig, error) {
	discounts, err := ParseDiscounts(envStr("DISCOUNT_CODES", ""))
	if err != nil {
		return EngineConfig{}, err
	}
	cfg := EngineConfig{
		LockTimeout:    envDur("LOCK_TIMEOUT", 5*time.Second),
		GatewayTimeout: envDur("GATEWAY_TIMEOUT", 10*time.Second),
		Discounts:      discounts,
		PointsRate:     envFloat("POINTS_RATE", 0.05),
		PointsMin:      int64(envInt("POINTS_MIN", 10)),
		PointsMax:      int64(envInt("POINTS_MAX", 1000)),
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	return cfg, nil
}

// ParseDiscounts parses "CODE:AMOUNT,CODE:AMOUNT".  Codes are upper-cased.
func ParseDiscounts(s string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, amount, ok := strings.Cut(part, ":")
		code = strings.ToUpper(strings.TrimSpace(code))
		if !ok || code == "" {
			return nil, fmt.Errorf("invalid discount entry %q", part)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(amount), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid discount amount in %q", part)
		}
		out[code] = n
	}
	return out, nil
}

// SweeperConfig tunes the expiration sweeper.
type SweeperConfig struct {
	Enabled              bool          // SWEEPER_ENABLED
	Interval             time.Duration // SWEEP_INTERVAL
	PaymentTimeout       time.Duration // PAYMENT_TIMEOUT, age after which a PENDING hold expires
	BatchSize            int           // SWEEP_BATCH_SIZE
	PendingWarnThreshold int           // PENDING_WARN_THRESHOLD
}

// LoadSweeperConfig reads the sweeper settings with defaults.
func LoadSweeperConfig() SweeperConfig {
	cfg := SweeperConfig{
		Enabled:              envBool("SWEEPER_ENABLED", true),
		Interval:             envDur("SWEEP_INTERVAL", 10*time.Minute),
		PaymentTimeout:       envDur("PAYMENT_TIMEOUT", 30*time.Minute),
		BatchSize:            envInt("SWEEP_BATCH_SIZE", 100),
		PendingWarnThreshold: envInt("PENDING_WARN_THRESHOLD", 100),
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 30 * time.Minute
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	return cfg
}

// GatewayConfig selects and tunes the payment gateway.
type GatewayConfig struct {
	Type            string        // PAYMENT_GATEWAY: simulator, approve, decline, stripe
	ApproveRate     float64       // GATEWAY_APPROVE_RATE
	CancelRate      float64       // GATEWAY_CANCEL_RATE
	Delay           time.Duration // GATEWAY_DELAY
	StripeSecretKey string        // STRIPE_SECRET_KEY
	StripeCurrency  string        // STRIPE_CURRENCY
}

// LoadGatewayConfig reads the gateway settings with defaults.
func LoadGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Type:            envStr("PAYMENT_GATEWAY", "simulator"),
		ApproveRate:     envFloat("GATEWAY_APPROVE_RATE", 0.95),
		CancelRate:      envFloat("GATEWAY_CANCEL_RATE", 0.98),
		Delay:           envDur("GATEWAY_DELAY", time.Second),
		StripeSecretKey: envStr("STRIPE_SECRET_KEY", ""),
		StripeCurrency:  envStr("STRIPE_CURRENCY", "krw"),
	}
}

func envDur(k string, d time.Duration) time.Duration {
	v := envStr(k, "")
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
