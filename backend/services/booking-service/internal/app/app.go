package app

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libdb "evcharge/backend/libs/db"
	libredis "evcharge/backend/libs/redis"
	"evcharge/backend/services/booking-service/internal/clients"
	"evcharge/backend/services/booking-service/internal/config"
	"evcharge/backend/services/booking-service/internal/events"
	httpserver "evcharge/backend/services/booking-service/internal/http"
	"evcharge/backend/services/booking-service/internal/http/handlers"
	redisstore "evcharge/backend/services/booking-service/internal/redis"
	"evcharge/backend/services/booking-service/internal/repository"
	"evcharge/backend/services/booking-service/internal/service"
	"evcharge/backend/services/booking-service/internal/ws"
)

// App wires booking-service dependencies.
type App struct {
	cfg         *config.Config
	pool        *pgxpool.Pool
	redisClient *redis.Client
	kafka       *events.KafkaNotifier
	allocator   *service.ReservationAllocator
	settlement  *service.SettlementTrigger
	logger      *zap.Logger

	// baseCtx outlives requests; streams end when it is cancelled.
	baseCtx context.Context
	cancel  context.CancelFunc
	server  *httpserver.Server
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

// New constructs the application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	pool, err := libdb.NewPostgresPool(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, pool: pool, logger: logger}
	a.baseCtx, a.cancel = context.WithCancel(context.Background())
	health := map[string]handlers.Pinger{"postgres": pool}

	var cache service.ProgressCache
	if cfg.RedisEnabled() {
		a.redisClient, err = libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		cache = redisstore.NewProgressStore(a.redisClient, cfg.ProgressTTL())
		health["redis"] = redisPinger{client: a.redisClient}
	} else {
		logger.Info("redis not configured, progress served from postgres")
	}

	var notifier service.Notifier = events.NewLogNotifier(logger)
	if cfg.Kafka.Enabled {
		a.kafka, err = events.NewKafkaNotifier(events.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		notifier = a.kafka
	}

	billing := clients.NewBillingClient(cfg.Billing.URL, cfg.Billing.Token, clients.NewDefaultHTTPClient(cfg.Billing.Timeout))
	store := repository.NewPostgresStore(pool)
	hub := ws.NewHub(logger)

	registry := service.NewSlotRegistry(store, nil, logger)
	tracker := service.NewTelemetryTracker(store, cache, hub, nil, logger)
	a.settlement = service.NewSettlementTrigger(store, billing, billing, service.SettlementConfig{
		TaxRate:  cfg.Booking.TaxRate,
		Currency: cfg.Booking.Currency,
	}, nil, logger)
	machine := service.NewSessionMachine(store, registry, tracker, a.settlement, notifier, service.MachineConfig{
		EarlyCheckIn: cfg.Booking.EarlyCheckIn,
		NoShowGrace:  cfg.Booking.NoShowGrace,
	}, nil, logger)
	a.allocator = service.NewReservationAllocator(store, registry, machine, service.AllocatorConfig{
		NoShowGrace:     cfg.Booking.NoShowGrace,
		DefaultDuration: cfg.Booking.DefaultDuration,
	}, nil, logger)
	gate := service.NewCredentialGate(store, machine, nil, logger)

	routes := httpserver.Routes{
		Bookings:    handlers.NewBookingsHandler(a.allocator, machine, tracker, logger),
		Credentials: handlers.NewCredentialsHandler(gate, logger),
		Slots:       handlers.NewSlotsHandler(registry, a.allocator, logger),
		Stream:      handlers.NewStreamHandler(a.baseCtx, tracker, hub, logger),
		Health:      handlers.NewHealthHandler(health),
	}
	router := httpserver.NewRouter(routes, cfg.JWT.Secret, logger)
	a.server = httpserver.NewServer(cfg.HTTPAddress(), router, cfg.HTTP.ShutdownTimeout, logger)
	return a, nil
}

// Run starts the background sweeper and the HTTP server.
func (a *App) Run(ctx context.Context) error {
	go a.sweep(ctx)
	go func() {
		<-ctx.Done()
		a.cancel()
	}()
	return a.server.Run(ctx)
}

func (a *App) sweep(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Booking.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.allocator.SweepNoShows(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn("no-show sweep failed", zap.Error(err))
			}
			if _, err := a.settlement.SettlePending(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn("settlement retry failed", zap.Error(err))
			}
		}
	}
}

// Close releases resources.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Warn("failed to close kafka writer", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
