package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sehwan505/uos-ticket-reservation/internal/config"
	"github.com/sehwan505/uos-ticket-reservation/internal/database"
	"github.com/sehwan505/uos-ticket-reservation/internal/gateway"
	"github.com/sehwan505/uos-ticket-reservation/internal/handler"
	"github.com/sehwan505/uos-ticket-reservation/internal/logger"
	"github.com/sehwan505/uos-ticket-reservation/internal/middleware"
	"github.com/sehwan505/uos-ticket-reservation/internal/model"
	"github.com/sehwan505/uos-ticket-reservation/internal/points"
	"github.com/sehwan505/uos-ticket-reservation/internal/queue"
	"github.com/sehwan505/uos-ticket-reservation/internal/repository"
	"github.com/sehwan505/uos-ticket-reservation/internal/router"
	"github.com/sehwan505/uos-ticket-reservation/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	engCfg, err := config.LoadEngineConfig()
	if err != nil {
		return err
	}
	sweepCfg := config.LoadSweeperConfig()
	gwCfg := config.LoadGatewayConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, dir, db, err := openStore(ctx, cfg, engCfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	gw, err := gateway.New(gateway.Config{
		Type:            gwCfg.Type,
		ApproveRate:     gwCfg.ApproveRate,
		CancelRate:      gwCfg.CancelRate,
		Delay:           gwCfg.Delay,
		StripeSecretKey: gwCfg.StripeSecretKey,
		StripeCurrency:  gwCfg.StripeCurrency,
	})
	if err != nil {
		return fmt.Errorf("payment gateway: %w", err)
	}
	log.Info("payment gateway ready", zap.String("gateway", gw.Name()))

	var rdb *redis.Client
	if client, err := config.NewRedisClient(ctx); err != nil {
		log.Warn("redis unavailable, cache and rate limiting disabled", zap.Error(err))
	} else {
		rdb = client
		defer rdb.Close()
	}

	var publisher service.EventPublisher
	if cfg.AMQPURL != "" {
		pub := queue.NewPublisher(cfg.AMQPURL, log.Named("publisher"))
		defer pub.Close()
		publisher = pub

		consumer := queue.NewAuditConsumer(cfg.AMQPURL, cfg.AuditLog, log.Named("audit"))
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("audit consumer stopped", zap.Error(err))
			}
		}()
	}

	policy := points.Policy{Rate: engCfg.PointsRate, Min: engCfg.PointsMin, Max: engCfg.PointsMax}
	opts := []service.EngineOption{
		service.WithPointsPolicy(policy),
		service.WithDiscounts(engCfg.Discounts),
		service.WithGatewayTimeout(engCfg.GatewayTimeout),
		service.WithBcryptCost(cfg.BcryptCost),
		service.WithLogger(log.Named("engine")),
	}
	if publisher != nil {
		opts = append(opts, service.WithPublisher(publisher))
	}

	// The engine invalidates the cache, and the cache loads through the
	// engine, so the cache is built first around a forwarding loader.
	var eng *service.Engine
	avail := service.NewAvailabilityCache(rdb, config.LoadCacheConfig(),
		func(ctx context.Context, id string) ([]uint64, error) { return eng.ListActiveSeatIDs(ctx, id) },
		log.Named("cache"))
	opts = append(opts, service.WithInvalidator(avail))
	eng = service.NewEngine(store, dir, gw, opts...)

	sweepOpts := []service.SweeperOption{
		service.WithSweeperLogger(log.Named("sweeper")),
		service.WithSweeperInvalidator(avail),
	}
	if publisher != nil {
		sweepOpts = append(sweepOpts, service.WithSweeperPublisher(publisher))
	}
	sweeper := service.NewSweeper(store, sweepCfg, sweepOpts...)
	if sweepCfg.Enabled {
		if err := sweeper.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := sweeper.Stop(); err != nil {
				log.Warn("sweeper shutdown", zap.Error(err))
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestID(), middleware.RequestLogger(log.Named("http")))
	router.RegisterRoutes(e)
	router.RegisterReservations(e, handler.NewReservationHandler(eng, avail), cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log.Named("ratelimit")))
	router.RegisterAdmin(e, handler.NewAdminHandler(sweeper), cfg.JWTSecret)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreMode))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// openStore returns the reservation store and catalog selected by
// STORE_MODE.  db is nil in memory mode.
func openStore(ctx context.Context, cfg config.Config, engCfg config.EngineConfig, log *zap.Logger) (service.Store, service.Directory, *sql.DB, error) {
	if cfg.StoreMode == "memory" {
		log.Warn("using in-memory store, data is lost on restart")
		return repository.NewMemoryStore(engCfg.LockTimeout), demoCatalog(), nil, nil
	}
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Migrate {
		if err := database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		log.Info("schema migrated")
	}
	dir := repository.NewDirectoryRepo(repository.NewScreeningRepo(db), repository.NewSeatRepo(db))
	return repository.NewMySQLStore(db, engCfg.LockTimeout), dir, db, nil
}

// demoCatalog seeds one screening with two rows of seats for memory mode.
func demoCatalog() *repository.MemoryDirectory {
	dir := repository.NewMemoryDirectory()
	dir.AddGrade(model.SeatGrade{Code: "STANDARD", Price: 12000})
	dir.AddGrade(model.SeatGrade{Code: "PRIME", Price: 15000})
	dir.AddScreening(model.Screening{ID: "DEMO", MovieTitle: "Demo Screening", ScreenID: 1, StartsAt: time.Now().Add(24 * time.Hour).UTC()})
	id := uint64(1)
	for _, row := range []string{"A", "B"} {
		for n := uint32(1); n <= 10; n++ {
			grade := "STANDARD"
			if row == "B" {
				grade = "PRIME"
			}
			dir.AddSeat(model.Seat{ID: id, ScreenID: 1, RowLabel: row, SeatNumber: n, GradeCode: grade})
			id++
		}
	}
	return dir
}
