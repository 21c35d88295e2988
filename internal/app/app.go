package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-crm-sync/internal/broker"
	"github.com/Guizzs26/go-crm-sync/internal/capture"
	"github.com/Guizzs26/go-crm-sync/internal/config"
	"github.com/Guizzs26/go-crm-sync/internal/db"
	"github.com/Guizzs26/go-crm-sync/internal/dispatch"
	"github.com/Guizzs26/go-crm-sync/internal/httpapi"
	"github.com/Guizzs26/go-crm-sync/internal/inbound"
	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/Guizzs26/go-crm-sync/internal/provider"
	"github.com/Guizzs26/go-crm-sync/internal/provider/erp"
	"github.com/Guizzs26/go-crm-sync/internal/provider/marketing"
	"github.com/Guizzs26/go-crm-sync/internal/rules"
	"github.com/Guizzs26/go-crm-sync/internal/service"
)

// App holds the wired components shared by every binary
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Repo   *db.PostgresRepository

	Events *db.EventQueue
	Sales  *db.SaleQueue

	Cards    *service.CardService
	SalesSvc *service.SalesService
	Admin    *service.QueueAdmin
	Inbound  *inbound.Service

	// Broker is nil when RABBITMQ_URL is empty
	Broker   *broker.RabbitMQClient
	Notifier *broker.Notifier
}

// New connects to Postgres and, when configured, RabbitMQ. A broker that
// cannot be reached is logged and left out; notifications are best effort.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	repo, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	repo.SetDefaults(cfg.SyncDefaults())

	a := &App{
		Config: cfg,
		Logger: logger,
		Repo:   repo,
		Events: db.NewEventQueue(repo),
		Sales:  db.NewSaleQueue(repo),
	}

	if cfg.RabbitMQURL != "" {
		client, err := broker.NewRabbitMQClient(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ unavailable, notifications disabled", "error", err)
		} else {
			a.Broker = client
			a.Notifier = broker.NewNotifier(client)
		}
	}

	engine := rules.NewEngine(repo.Store(), logger)
	capturer := capture.NewCapturer(engine, capture.Options{
		MonitoredFields: cfg.MonitoredFields,
		MaxAttempts:     cfg.MaxAttempts,
	}, logger)

	a.Cards = service.NewCardService(txRunner(repo, func(s *db.Store) service.CardStore { return s }), capturer, logger)
	a.SalesSvc = service.NewSalesService(txRunner(repo, func(s *db.Store) service.SaleStore { return s }), cfg.MaxAttempts, logger)

	var trigger service.Trigger
	var inboundOpts []inbound.Option
	if a.Notifier != nil {
		trigger = a.Notifier
		inboundOpts = append(inboundOpts, inbound.WithNotifier(a.Notifier))
	}
	a.Admin = service.NewQueueAdmin(logger, trigger, a.Events, a.Sales)
	a.Inbound = inbound.NewService(
		repo.Store(),
		txRunner(repo, func(s *db.Store) inbound.Store { return s }),
		cfg.DefaultCountryCode,
		logger,
		inboundOpts...,
	)
	return a, nil
}

// txRunner adapts the repository transaction to a store interface
func txRunner[S any](r *db.PostgresRepository, as func(*db.Store) S) service.TxRunner[S] {
	return func(ctx context.Context, fn func(S) error) error {
		return r.WithTx(ctx, func(s *db.Store) error { return fn(as(s)) })
	}
}

// Workers builds one dispatch worker per queue
func (a *App) Workers() []*dispatch.Worker {
	cfg := a.Config
	policy := dispatch.Policy{Base: cfg.RetryBase, MaxDelay: cfg.RetryMaxDelay}
	flags := a.Repo.Store()

	var opts []dispatch.Option
	if a.Notifier != nil {
		opts = append(opts, dispatch.WithNotifier(a.Notifier))
	}

	marketingClient := provider.NewClient(provider.Config{
		Name:    "marketing",
		BaseURL: cfg.MarketingURL,
		Timeout: cfg.HTTPTimeout,
		RPS:     cfg.MarketingRPS,
		Auth:    provider.HeaderAuth("Api-Token", cfg.MarketingToken),
	}, a.Logger)

	erpClient := provider.NewClient(provider.Config{
		Name:    "erp",
		BaseURL: cfg.ERPURL,
		Timeout: cfg.HTTPTimeout,
		RPS:     cfg.ERPRPS,
		Auth:    provider.BasicAuth(cfg.ERPUsername, cfg.ERPPassword),
	}, a.Logger)

	return []*dispatch.Worker{
		dispatch.NewWorker(models.JobEvent, a.Events, marketing.NewBuilder(), marketingClient, flags, policy, a.Logger, opts...),
		dispatch.NewWorker(models.JobSale, a.Sales, erp.NewBuilder(cfg.ERPCompanyID, a.Logger), erpClient, flags, policy, a.Logger, opts...),
	}
}

// Janitor returns queued rows stuck in processing to pending and refreshes backlog gauges
func (a *App) Janitor(ctx context.Context) {
	for _, q := range []maintainable{a.Events, a.Sales} {
		n, err := q.ResetStale(ctx, a.Config.StaleProcessing)
		if err != nil {
			a.Logger.Error("Janitor: failed to reset stale items", "kind", q.Kind(), "error", err)
		} else if n > 0 {
			a.Logger.Warn("Janitor: rescued stuck items", "kind", q.Kind(), "count", n)
		}
		recordStale(q.Kind(), n)

		counts, err := q.Counts(ctx)
		if err != nil {
			a.Logger.Error("Janitor: failed to count backlog", "kind", q.Kind(), "error", err)
			continue
		}
		recordBacklog(q.Kind(), counts)
	}
}

type maintainable interface {
	ResetStale(ctx context.Context, olderThan time.Duration) (int64, error)
	Counts(ctx context.Context) (map[models.Status]int, error)
	Kind() models.JobKind
}

// Handlers builds the HTTP surface served by cmd/webhook
func (a *App) Handlers() httpapi.Handlers {
	return httpapi.Handlers{
		Webhook:  httpapi.NewWebhookHandler(a.Inbound, a.Logger),
		Queue:    httpapi.NewQueueHandler(a.Events, a.Sales, a.Admin),
		Sales:    httpapi.NewSalesHandler(a.SalesSvc),
		Cards:    httpapi.NewCardHandler(a.Cards),
		Settings: httpapi.NewSettingsHandler(a.Repo.Store()),
		Health:   a.Repo,
	}
}

func (a *App) Close() {
	if a.Broker != nil {
		a.Broker.Close()
	}
	a.Repo.Close()
}
