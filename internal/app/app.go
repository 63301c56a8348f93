package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/avstrong/innkeeper/internal/booking"
	"github.com/avstrong/innkeeper/internal/config"
	"github.com/avstrong/innkeeper/internal/feed"
	"github.com/avstrong/innkeeper/internal/idgen/uuidgen"
	"github.com/avstrong/innkeeper/internal/logger"
	"github.com/avstrong/innkeeper/internal/migration"
	"github.com/avstrong/innkeeper/internal/payment"
	"github.com/avstrong/innkeeper/internal/pricing"
	"github.com/avstrong/innkeeper/internal/storage/memory"
	"github.com/avstrong/innkeeper/internal/storage/postgres"
	"github.com/avstrong/innkeeper/internal/storage/sqlite"
	"github.com/avstrong/innkeeper/internal/transport/web"
)

type Storage interface {
	booking.Storage
	SaveRooms(ctx context.Context, rooms []*booking.Room) error
}

// OpenStorage connects to the configured backend. The returned func releases
// it.
func OpenStorage(l *logger.Logger, cfg config.Storage) (Storage, func() error, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(sqlite.Config{L: l, Path: cfg.SQLitePath})
		if err != nil {
			return nil, nil, err
		}

		return db, db.Close, nil
	case config.DriverPostgres:
		db, err := postgres.Open(postgres.Config{L: l, DSN: cfg.DatabaseURL})
		if err != nil {
			return nil, nil, err
		}

		return db, db.Close, nil
	default:
		return memory.New(memory.Config{L: l}), func() error { return nil }, nil
	}
}

// Seed loads the demo property.
func Seed(ctx context.Context, l *logger.Logger, cfg config.Config, storage Storage) error {
	if err := migration.Up(ctx, l, storage, migration.DemoRooms(cfg.Payment.Currency)); err != nil {
		return fmt.Errorf("seed demo property: %w", err)
	}

	l.LogInfo("Demo property %v has been seeded", migration.DemoHotelID)

	return nil
}

// NewManager builds the booking manager. Checkout stays disabled without a
// payment API URL and publisher may be nil.
func NewManager(l *logger.Logger, cfg config.Config, storage Storage, publisher booking.Publisher) (*booking.Manager, error) {
	promos, err := pricing.ParseCatalog(cfg.PromoCodes)
	if err != nil {
		return nil, fmt.Errorf("parse PROMO_CODES: %w", err)
	}

	conf := booking.Conf{
		Publisher:      publisher,
		Promos:         promos,
		DepositPercent: cfg.Payment.DepositPercent,
		SuggestHorizon: cfg.SuggestHorizon,
		MaxStayNights:  cfg.MaxStayNights,
	}

	if cfg.Payment.APIURL != "" {
		conf.Gateway = payment.NewClient(payment.ClientConf{
			BaseURL:    cfg.Payment.APIURL,
			APIKey:     cfg.Payment.APIKey,
			SuccessURL: cfg.Payment.SuccessURL,
			CancelURL:  cfg.Payment.CancelURL,
			Timeout:    cfg.Payment.Timeout,
		})
	} else {
		l.LogWarn("PAYMENT_API_URL is not set, checkout is disabled")
	}

	return booking.New(l, storage, uuidgen.New(), conf), nil
}

// Run serves the HTTP API until SIGINT, SIGTERM or SIGHUP.
func Run(cfg config.Config, l *logger.Logger) error {
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGHUP,
	)
	defer cancel()

	storage, closeStorage, err := OpenStorage(l, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
	}

	defer func() {
		if closeErr := closeStorage(); closeErr != nil {
			l.LogErrorf("Failed to close storage: %v", closeErr.Error())
		}
	}()

	if cfg.Storage.SeedDemo {
		if err := Seed(ctx, l, cfg, storage); err != nil {
			return err
		}
	}

	hub := feed.NewHub(l, feed.DefaultBuffer)

	var publisher booking.Publisher = hub

	if cfg.Feed.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Feed.RedisAddr})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis at %s: %w", cfg.Feed.RedisAddr, err)
		}

		bridge := feed.NewRedis(l, client, cfg.Feed.RedisChannel, hub)
		publisher = bridge

		go func() {
			if err := bridge.Run(ctx); err != nil {
				l.LogErrorf("Change feed relay stopped: %v", err.Error())
			}
		}()
	}

	bookManager, err := NewManager(l, cfg, storage, publisher)
	if err != nil {
		return err
	}

	webConf := web.Conf{
		L:                 l,
		ServerLogger:      slog.NewLogLogger(l.Slog().Handler(), slog.LevelError),
		Host:              cfg.HTTP.Host,
		Port:              cfg.HTTP.Port,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		LivenessEndpoint:  cfg.HTTP.LivenessEndpoint,
		AdminJWTSecret:    cfg.AdminJWTSecret,
		WebhookSecret:     cfg.Payment.WebhookSecret,
	}

	if webConf.AdminJWTSecret == "" {
		l.LogWarn("ADMIN_JWT_SECRET is not set, admin routes will answer 401")
	}

	srv, err := web.New(ctx, webConf, bookManager, hub)
	if err != nil {
		return fmt.Errorf("init http server: %w", err)
	}

	//nolint:contextcheck
	go func() {
		<-ctx.Done()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		if err := srv.Srv().Shutdown(ctx); err != nil {
			l.LogErrorf("Failed to stop http server: %v", err.Error())
		}
	}()

	l.LogInfo("Application is running on %v:%v with %v storage...", webConf.Host, webConf.Port, cfg.Storage.Driver)

	if err := srv.Srv().ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		cancel()

		return fmt.Errorf("run http server: %w", err)
	}

	l.LogInfo("Application stopped gracefully")

	return nil
}
