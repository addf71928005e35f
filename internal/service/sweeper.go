package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/sehwan505/uos-ticket-reservation/internal/config"
	"github.com/sehwan505/uos-ticket-reservation/internal/model"
	"github.com/sehwan505/uos-ticket-reservation/internal/queue"
	"github.com/sehwan505/uos-ticket-reservation/internal/repository"
)

// Sweeper periodically cancels PENDING holds older than the payment
// timeout so abandoned checkouts give their seats back.
type Sweeper struct {
	store     Store
	cfg       config.SweeperConfig
	publisher EventPublisher
	cache     Invalidator
	log       *zap.Logger
	now       func() time.Time

	sched gocron.Scheduler

	mu               sync.Mutex
	running          bool
	totalExpired     int64
	failures         int64
	lastRun          time.Time
	lastExpiredCount int
}

// SweeperStats is a snapshot of sweeper activity.
type SweeperStats struct {
	Running          bool      `json:"running"`
	TotalExpired     int64     `json:"total_expired"`
	Failures         int64     `json:"failures"`
	LastRun          time.Time `json:"last_run"`
	LastExpiredCount int       `json:"last_expired_count"`
}

// SweeperOption customizes a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperPublisher publishes an expired event for every released hold.
func WithSweeperPublisher(p EventPublisher) SweeperOption {
	return func(s *Sweeper) { s.publisher = p }
}

// WithSweeperInvalidator drops cached availability of swept screenings.
func WithSweeperInvalidator(c Invalidator) SweeperOption {
	return func(s *Sweeper) { s.cache = c }
}

// WithSweeperLogger sets the sweeper logger.
func WithSweeperLogger(l *zap.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSweeperClock overrides the clock used to compute the cutoff.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper builds a sweeper; call Start to schedule it.
func NewSweeper(store Store, cfg config.SweeperConfig, opts ...SweeperOption) *Sweeper {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	s := &Sweeper{
		store: store,
		cfg:   cfg,
		log:   zap.NewNop(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules RunOnce every cfg.Interval.  Runs never overlap.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper already running")
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(func() {
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Error("sweep failed", zap.Error(err))
			}
		}),
		gocron.WithName("expire-stale-holds"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("schedule sweep: %w", err)
	}
	sched.Start()
	s.sched = sched
	s.running = true
	s.log.Info("sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("payment_timeout", s.cfg.PaymentTimeout))
	return nil
}

// Stop cancels the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	sched := s.sched
	s.running = false
	s.sched = nil
	s.mu.Unlock()

	err := sched.Shutdown()
	s.log.Info("sweeper stopped")
	return err
}

// RunOnce expires every PENDING hold created at or before now minus the
// payment timeout, one batch at a time.  Listing pages forward by
// (created_at, id), so a hold that fails to expire is counted and passed
// over rather than listed again.  A hold that changed state since it was
// listed is skipped.  It returns how many holds were expired.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.PaymentTimeout)

	pending, err := s.store.CountPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	if s.cfg.PendingWarnThreshold > 0 && pending > s.cfg.PendingWarnThreshold {
		s.log.Warn("pending holds above threshold",
			zap.Int("pending", pending),
			zap.Int("threshold", s.cfg.PendingWarnThreshold))
	}

	var (
		expired, failed int
		cursor          *repository.StaleCursor
	)
	for ctx.Err() == nil {
		stale, err := s.store.ListStaleHolds(ctx, cutoff, cursor, s.cfg.BatchSize)
		if err != nil {
			s.record(expired, failed)
			return expired, fmt.Errorf("list stale holds: %w", err)
		}
		if len(stale) == 0 {
			break
		}
		for _, r := range stale {
			res, err := s.store.ExpireHold(ctx, r.ID, cutoff)
			switch {
			case err == nil:
				expired++
				s.emit(ctx, res)
			case errors.Is(err, repository.ErrInvalidState), errors.Is(err, repository.ErrNotFound):
				// completed or cancelled concurrently
			default:
				failed++
				s.log.Warn("expiring hold failed", zap.String("reservation_id", r.ID), zap.Error(err))
			}
		}
		last := stale[len(stale)-1]
		cursor = &repository.StaleCursor{CreatedAt: last.CreatedAt, ID: last.ID}
		if len(stale) < s.cfg.BatchSize {
			break
		}
	}

	s.record(expired, failed)
	if expired > 0 || failed > 0 {
		s.log.Info("sweep finished",
			zap.Int("expired", expired),
			zap.Int("failed", failed),
			zap.Time("cutoff", cutoff))
	}
	return expired, nil
}

func (s *Sweeper) record(expired, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = s.now()
	s.lastExpiredCount = expired
	s.totalExpired += int64(expired)
	s.failures += int64(failed)
}

func (s *Sweeper) emit(ctx context.Context, res *model.Reservation) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, res.ScreeningID)
	}
	if s.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()
	if err := s.publisher.Publish(pctx, queue.NewEvent(queue.EventExpired, res, s.now())); err != nil {
		s.log.Debug("event not published", zap.Error(err))
	}
}

// Stats returns a snapshot of sweeper activity.
func (s *Sweeper) Stats() SweeperStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SweeperStats{
		Running:          s.running,
		TotalExpired:     s.totalExpired,
		Failures:         s.failures,
		LastRun:          s.lastRun,
		LastExpiredCount: s.lastExpiredCount,
	}
}
