package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/harrys-tix/internal/clock"
	"github.com/iliyamo/harrys-tix/internal/config"
	"github.com/iliyamo/harrys-tix/internal/database"
	"github.com/iliyamo/harrys-tix/internal/handler"
	"github.com/iliyamo/harrys-tix/internal/middleware"
	"github.com/iliyamo/harrys-tix/internal/payment"
	"github.com/iliyamo/harrys-tix/internal/queue"
	"github.com/iliyamo/harrys-tix/internal/repository"
	"github.com/iliyamo/harrys-tix/internal/router"
	"github.com/iliyamo/harrys-tix/internal/service"
)

type stores struct {
	preOrders repository.PreOrderStore
	events    repository.EventReader
	users     repository.UserReader
	close     func()
}

func main() {
	_ = godotenv.Load() // .env is optional
	cfg := config.Load()

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc := cfg.Fulfillment.Location
	clk := clock.System(loc)

	st, err := openStores(ctx, cfg, clk, logger)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer st.close()

	rdb, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable; rate limiting and fulfillment guard disabled", zap.Error(err))
		rdb = nil
	} else {
		defer func() { _ = rdb.Close() }()
	}

	var notifier service.Notifier
	if cfg.RabbitMQURL != "" {
		notifier = queue.NewPublisher(cfg.RabbitMQURL, logger)
		consumer := &queue.NotificationConsumer{URL: cfg.RabbitMQURL, Dir: cfg.NotificationDir, Logger: logger}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("notification consumer stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("RABBITMQ_URL not set; notifications disabled")
	}

	gateway, parser := newGateway(cfg, logger)

	svc := service.NewPreOrderService(st.preOrders, st.events, st.users, gateway, notifier, clk, loc, logger)
	var guard service.RunGuard
	if rdb != nil {
		guard = service.RedisRunGuard{Client: rdb}
	}
	window := service.Window{Weekday: cfg.Fulfillment.Weekday, Hour: cfg.Fulfillment.Hour, Location: loc}
	fulfiller := service.NewFulfiller(svc, gateway, window, cfg.Currency, guard, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.Metrics())

	router.RegisterRoutes(e)
	router.RegisterMember(e, handler.NewPreOrderHandler(svc, logger), cfg.JWTSecret,
		middleware.NewTokenBucket(cfg.RateLimit, rdb, logger))
	router.RegisterAdmin(e, handler.NewAdminPreOrderHandler(svc, fulfiller, logger), cfg.JWTSecret)
	router.RegisterWebhooks(e, handler.NewWebhookHandler(parser, svc, logger))

	go runScheduler(ctx, fulfiller, cfg.SchedulerInterval, logger)

	addr := ":" + cfg.Port
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	logger.Info("listening",
		zap.String("addr", addr),
		zap.String("env", cfg.Env),
		zap.String("store", cfg.StoreBackend),
		zap.Stringer("fulfillment_day", window.Weekday),
		zap.Int("fulfillment_hour", window.Hour),
		zap.String("fulfillment_tz", loc.String()))

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openStores(ctx context.Context, cfg config.Config, clk clock.Clock, logger *zap.Logger) (stores, error) {
	if cfg.StoreBackend == config.StoreMemory {
		events := repository.NewMemoryEvents()
		users := repository.NewMemoryUsers()
		repository.SeedDemo(events, users, clk.Now())
		logger.Warn("using in-memory store with demo data; nothing is persisted")
		return stores{
			preOrders: repository.NewMemoryPreOrders(events, users),
			events:    events,
			users:     users,
			close:     func() {},
		}, nil
	}

	db, err := database.Open(database.Options{
		Driver:  cfg.DBDriver,
		User:    cfg.DBUser,
		Pass:    cfg.DBPass,
		Host:    cfg.DBHost,
		Port:    cfg.DBPort,
		Name:    cfg.DBName,
		SSLMode: cfg.DBSSLMode,
	})
	if err != nil {
		return stores{}, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return stores{}, err
	}
	return stores{
		preOrders: repository.NewPreOrderRepo(db),
		events:    repository.NewEventRepo(db),
		users:     repository.NewUserRepo(db),
		close:     func() { _ = db.Close() },
	}, nil
}

func newGateway(cfg config.Config, logger *zap.Logger) (payment.Gateway, payment.WebhookParser) {
	if cfg.StripeSecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set; using sandbox payment gateway")
		return payment.Sandbox{}, payment.Sandbox{}
	}
	s := payment.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.GatewayTimeout)
	return s, s
}

// runScheduler ticks the fulfillment engine until ctx is cancelled.  The
// engine decides whether a tick falls inside the weekly window.
func runScheduler(ctx context.Context, f *service.Fulfiller, every time.Duration, logger *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			outcomes, ran, err := f.Tick(ctx)
			if err != nil {
				logger.Error("fulfillment tick failed", zap.Error(err))
				continue
			}
			if ran {
				logger.Info("fulfillment tick", zap.Int("outcomes", len(outcomes)))
			}
		}
	}
}
