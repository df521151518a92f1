package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sudo-init-do/tradiehub/internal/alerts"
	"github.com/sudo-init-do/tradiehub/internal/app"
	"github.com/sudo-init-do/tradiehub/internal/config"
	"github.com/sudo-init-do/tradiehub/internal/escrow"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := cfg.Logger("worker")
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	mailer, err := alerts.NewMailer(cfg.Mail)
	if err != nil {
		return err
	}

	mux := asynq.NewServeMux()
	alerts.NewProcessor(mailer, log.With("component", "email")).Register(mux)
	jobs := escrow.NewJobs(a.Escrow, cfg.ExpiryNoticeWindow)
	jobs.Register(mux)

	redis := app.RedisOpt(cfg)
	server := asynq.NewServer(redis, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			alerts.QueueEmails: 10,
			alerts.QueueEscrow: 5,
		},
		Logger:          asynqLogger{log.With("component", "asynq")},
		ShutdownTimeout: 15 * time.Second,
	})
	scheduler := asynq.NewScheduler(redis, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   asynqLogger{log.With("component", "scheduler")},
	})
	if err := jobs.Schedule(scheduler, cfg.SweepInterval, alerts.QueueEscrow); err != nil {
		return err
	}

	if err := server.Start(mux); err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		server.Shutdown()
		return err
	}
	log.Info("worker started", "redis", cfg.RedisAddr, "sweep", cfg.SweepInterval)

	<-ctx.Done()
	log.Info("shutting down")
	scheduler.Shutdown()
	server.Shutdown()
	return nil
}

// asynqLogger routes asynq's internal logging through slog.
type asynqLogger struct{ l *slog.Logger }

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
