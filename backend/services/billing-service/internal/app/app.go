package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	libdb "evcharge/backend/libs/db"
	"evcharge/backend/services/billing-service/internal/config"
	httpserver "evcharge/backend/services/billing-service/internal/http"
	"evcharge/backend/services/billing-service/internal/http/handlers"
	"evcharge/backend/services/billing-service/internal/repository"
	"evcharge/backend/services/billing-service/internal/service"
)

// App wires billing service dependencies.
type App struct {
	server *httpserver.Server
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New constructs application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	pool, err := libdb.NewPostgresPool(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		pool.Close()
		return nil, err
	}

	pricing := service.NewPricingService(repository.NewPricingRepository(pool), cfg.Pricing.DefaultPrice, cfg.Pricing.Currency, loc, logger)
	invoices := service.NewInvoiceService(repository.NewInvoiceRepository(pool), logger)
	invoicesHandler := handlers.NewInvoicesHandler(invoices, logger)

	routes := httpserver.Routes{
		Pricing:       handlers.NewPricingHandler(pricing, logger),
		SubmitInvoice: invoicesHandler.Submit,
		InvoicesMe:    invoicesHandler.Mine,
		Health:        handlers.NewHealthHandler(),
	}

	router := httpserver.NewRouter(routes, cfg.Internal.Token)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, 0, logger)

	return &App{
		server: server,
		pool:   pool,
		logger: logger,
	}, nil
}

// Run starts HTTP server.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
