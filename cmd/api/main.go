package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sudo-init-do/tradiehub/internal/admin"
	"github.com/sudo-init-do/tradiehub/internal/alerts"
	"github.com/sudo-init-do/tradiehub/internal/app"
	"github.com/sudo-init-do/tradiehub/internal/config"
	"github.com/sudo-init-do/tradiehub/internal/escrow"
	"github.com/sudo-init-do/tradiehub/internal/marketplace"
	"github.com/sudo-init-do/tradiehub/internal/messaging"
	appmw "github.com/sudo-init-do/tradiehub/internal/middleware"
	"github.com/sudo-init-do/tradiehub/internal/payments"
	"github.com/sudo-init-do/tradiehub/internal/user"
	"github.com/sudo-init-do/tradiehub/internal/wallet"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := cfg.Logger("api")
	slog.SetDefault(log)
	if err := cfg.RequireAPI(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := messaging.NewHub(log.With("component", "ws"), cfg.AllowedOrigins...)
	a, err := app.New(ctx, cfg, log, hub)
	if err != nil {
		return err
	}
	defer a.Close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				log.Error("request", append(attrs, "err", v.Error)...)
				return nil
			}
			log.Info("request", attrs...)
			return nil
		},
	}))
	if len(cfg.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.AllowedOrigins}))
	}

	// Health
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/ready", func(c echo.Context) error {
		pctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := a.Pool.Ping(pctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "db unreachable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready", "providers": a.Payments.Providers()})
	})

	// Provider callbacks are public; authenticity comes from the provider check.
	public := e.Group("")
	public.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(20)))

	g := e.Group("")
	g.Use(appmw.JWTMiddleware([]byte(cfg.JWTSecret)))

	adminGroup := e.Group("/admin")
	adminGroup.Use(appmw.JWTMiddleware([]byte(cfg.JWTSecret)))
	adminGroup.Use(appmw.AdminGuard)

	marketplace.NewHandler(a.Quotes).Register(g)
	payments.NewHandler(a.Payments).Register(g, public)
	escrow.NewHandler(a.Escrow).Register(g, adminGroup)
	wallet.NewHandler(a.Wallet).Register(g, adminGroup)
	alerts.NewHandler(a.Store).Register(g)
	hub.Register(g)
	user.NewHandler(a.Store).Register(g, public, adminGroup)
	admin.NewHandler(a.Store).Register(adminGroup)

	errc := make(chan error, 1)
	go func() {
		log.Info("api listening", "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
