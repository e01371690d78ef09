// seatholdd is the local seat-hold companion.  It keeps this device's
// carts in step with the booking server, polls seat availability for the
// trips on screen and records every held seat in a durable registry so
// the locks can be handed back when the session ends.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/iliyamo/bus-seat-hold/internal/api"
	"github.com/iliyamo/bus-seat-hold/internal/availability"
	"github.com/iliyamo/bus-seat-hold/internal/cart"
	"github.com/iliyamo/bus-seat-hold/internal/clock"
	"github.com/iliyamo/bus-seat-hold/internal/config"
	"github.com/iliyamo/bus-seat-hold/internal/database"
	"github.com/iliyamo/bus-seat-hold/internal/device"
	"github.com/iliyamo/bus-seat-hold/internal/handler"
	"github.com/iliyamo/bus-seat-hold/internal/middleware"
	"github.com/iliyamo/bus-seat-hold/internal/queue"
	"github.com/iliyamo/bus-seat-hold/internal/registry"
	"github.com/iliyamo/bus-seat-hold/internal/repository"
	"github.com/iliyamo/bus-seat-hold/internal/router"
	queue_publisher "github.com/iliyamo/bus-seat-hold/internal/service"
)

const (
	// shutdownTimeout bounds the release and drain work done on exit.
	shutdownTimeout = 10 * time.Second
	// recentEvents is how many lock events /v1/session/events keeps.
	recentEvents = 100
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var addr, envFile, configFile string
	flagSet := pflag.NewFlagSet("seatholdd", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", "", "listen address for the local API (overrides APP_ADDR)")
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file to seed the environment from")
	flagSet.StringVar(&configFile, "config", "", "YAML file overriding the poll and availability settings")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if configFile != "" {
		if err := cfg.ApplyFile(configFile); err != nil {
			return err
		}
	}
	if addr != "" {
		cfg.Addr = addr
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	clientID, err := device.LoadOrCreate(cfg.DeviceIDPath)
	if err != nil {
		return fmt.Errorf("device id: %w", err)
	}
	logger.Info("starting", "env", cfg.Env, "addr", cfg.Addr, "client_id", clientID, "registry", cfg.RegistryBackend)

	client := api.NewClient(cfg.APIBaseURL,
		api.WithHTTPClient(&http.Client{Timeout: cfg.APITimeout}),
		api.WithStaticToken(cfg.APIToken),
		api.WithLogger(logger),
	)

	recent := queue.NewRecorder(recentEvents)
	publisher, closePublisher := newPublisher(cfg, recent, logger)
	defer closePublisher()

	var rdb *redis.Client
	if cfg.RegistryBackend == config.BackendRedis || cfg.RateLimit.Enabled {
		rdb, err = config.NewRedisClient(cfg.Redis)
		if err != nil {
			if cfg.RegistryBackend == config.BackendRedis {
				return err
			}
			logger.Warn("redis unavailable, refresh rate limiting disabled", "error", err)
		} else {
			defer rdb.Close()
		}
	}

	storage, closeStorage, err := newStorage(cfg, rdb, clientID)
	if err != nil {
		return err
	}
	defer closeStorage()

	clk := clock.Real()
	reg := registry.New(storage, client, clientID,
		registry.WithLogger(logger),
		registry.WithPublisher(publisher),
		registry.WithClock(clk),
	)
	store := cart.NewStore(client, reg,
		cart.WithPublisher(publisher),
		cart.WithLogger(logger),
		cart.WithClientID(clientID),
		cart.WithClock(clk),
	)

	avail := availability.NewMap()
	ctrl := availability.NewController(client, avail, clk, cfg.Availability, logger)
	poller := availability.NewPoller(ctrl, clk, cfg.Poll, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Whatever the server still holds for this shopper becomes the
	// starting state.  A failure here only means the first sync happens
	// on demand.
	if _, err := store.GetMine(ctx, nil); err != nil {
		logger.Warn("initial cart sync failed", "error", err)
	}

	session := handler.NewSessionHandler(poller, reg)
	session.Events = recent

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	router.RegisterRoutes(e)
	router.RegisterAPI(e, router.Handlers{
		Cart:         handler.NewCartHandler(store),
		Availability: handler.NewAvailabilityHandler(ctrl),
		Trips:        handler.NewTripHandler(store, avail, clk),
		Session:      session,
	}, clk.Now, middleware.NewTokenBucket(cfg.RateLimit, rdb, logger))

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		poller.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		stop()
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := e.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", "error", serr)
	}
	<-pollDone
	ctrl.Close()

	rep := reg.ReleaseAll(shutdownCtx)
	logger.Info("released held seats", "attempted", rep.Attempted, "failed", rep.Failed)
	return err
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// newPublisher returns the lock event sink.  Events always land in
// recent; with a broker they are also sent through a buffer so a slow
// broker never holds up a cart mutation.
func newPublisher(cfg config.Config, recent *queue.Recorder, logger *slog.Logger) (queue.Publisher, func()) {
	if cfg.RabbitMQURL == "" {
		return recent, func() {}
	}
	amqpPub := queue_publisher.NewAMQPPublisher(cfg.RabbitMQURL, logger)
	async := queue.NewAsync(amqpPub, 256, logger)
	return queue.Fanout{recent, async}, func() {
		async.Close()
		if err := amqpPub.Close(); err != nil {
			logger.Warn("close publisher", "error", err)
		}
	}
}

// newStorage opens the registry backend named by cfg.
func newStorage(cfg config.Config, rdb *redis.Client, clientID string) (registry.Storage, func(), error) {
	noop := func() {}
	switch cfg.RegistryBackend {
	case config.BackendMemory:
		return registry.NewMemoryStorage(), noop, nil
	case config.BackendRedis:
		if rdb == nil {
			return nil, noop, errors.New("redis registry requires a reachable redis")
		}
		return registry.NewRedisStorage(rdb, clientID), noop, nil
	case config.BackendMySQL:
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return nil, noop, err
		}
		repo := repository.NewLockRegistryRepo(db, clientID)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return repo, closeDB(db), nil
	default:
		return registry.NewFileStorage(cfg.RegistryPath), noop, nil
	}
}

func closeDB(db *sql.DB) func() {
	return func() { _ = db.Close() }
}
