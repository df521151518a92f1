// Package app wires configuration, storage and the core services together
// for the binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sudo-init-do/tradiehub/internal/alerts"
	"github.com/sudo-init-do/tradiehub/internal/config"
	"github.com/sudo-init-do/tradiehub/internal/db"
	"github.com/sudo-init-do/tradiehub/internal/escrow"
	"github.com/sudo-init-do/tradiehub/internal/marketplace"
	"github.com/sudo-init-do/tradiehub/internal/payments"
	"github.com/sudo-init-do/tradiehub/internal/store/postgres"
	"github.com/sudo-init-do/tradiehub/internal/wallet"
)

type App struct {
	Config   config.Config
	Log      *slog.Logger
	Pool     *pgxpool.Pool
	Store    *postgres.Store
	Queue    *asynq.Client
	Notifier *alerts.Dispatcher
	Quotes   *marketplace.Ledger
	Escrow   *escrow.Ledger
	Payments *payments.Gateway
	Wallet   *wallet.Processor
}

// RedisOpt is the asynq connection shared by the API, worker and tools.
func RedisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

// New connects to Postgres (ensuring the schema) and builds every service.
// live may be nil when the process serves no websocket clients.
func New(ctx context.Context, cfg config.Config, log *slog.Logger, live alerts.Publisher) (*App, error) {
	schedule, err := cfg.Schedule()
	if err != nil {
		return nil, err
	}
	pool, err := db.Init(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, Pool: pool, Store: postgres.New(pool)}

	transport, err := a.transport()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Notifier, err = alerts.NewDispatcher(alerts.Dependencies{
		Users:     a.Store,
		Transport: transport,
		Inbox:     a.Store,
		Live:      live,
		Logger:    log.With("component", "alerts"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Quotes = marketplace.NewLedger(marketplace.Dependencies{
		Store:           a.Store,
		Notifier:        a.Notifier,
		Logger:          log.With("component", "quotes"),
		DefaultCurrency: cfg.DefaultCurrency,
	})
	a.Escrow = escrow.NewLedger(escrow.Dependencies{
		Store:    a.Store,
		Notifier: a.Notifier,
		Schedule: schedule,
		Logger:   log.With("component", "escrow"),
	})
	a.Payments = payments.NewGateway(payments.Dependencies{
		Store:           a.Store,
		Escrow:          a.Escrow,
		Notifier:        a.Notifier,
		Providers:       cfg.Providers(),
		DefaultProvider: cfg.DefaultProvider,
		Logger:          log.With("component", "payments"),
	})
	a.Wallet = wallet.NewProcessor(wallet.Dependencies{
		Store:                   a.Store,
		Notifier:                a.Notifier,
		Logger:                  log.With("component", "wallet"),
		DefaultCurrency:         cfg.DefaultCurrency,
		EstimatedProcessingTime: cfg.WithdrawalEstimate,
	})
	return a, nil
}

func (a *App) transport() (alerts.Transport, error) {
	switch strings.ToLower(a.Config.MailTransport) {
	case "queue", "":
		a.Queue = asynq.NewClient(RedisOpt(a.Config))
		return alerts.NewQueueTransport(a.Queue), nil
	case "smtp", "direct":
		m, err := alerts.NewMailer(a.Config.Mail)
		if err != nil {
			return nil, err
		}
		return alerts.MailTransport{Mailer: m}, nil
	case "log":
		return alerts.LogTransport{Logger: a.Log}, nil
	default:
		return nil, fmt.Errorf("unknown MAIL_TRANSPORT %q", a.Config.MailTransport)
	}
}

func (a *App) Close() {
	if a.Queue != nil {
		_ = a.Queue.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
