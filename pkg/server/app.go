package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"QuantCore/internal/scheduler"
	"QuantCore/internal/service/provider"
	pkgch "QuantCore/pkg/clickhouse"
	"QuantCore/pkg/config"
	xhttp "QuantCore/pkg/http"
	applogger "QuantCore/pkg/logger"
)

// Closer is any resource released on shutdown (kafka producer, redis).
type Closer interface {
	Close() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
	sched       *scheduler.Scheduler
	tracker     *provider.Tracker
	chClient    *pkgch.Client
	closers     []Closer
	log         *applogger.Logger
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	handler xhttp.Handler,
	sched *scheduler.Scheduler,
	tracker *provider.Tracker,
	chClient *pkgch.Client,
	log *applogger.Logger,
) *App {
	return &App{
		cfg:         cfg,
		httpHandler: handler,
		sched:       sched,
		tracker:     tracker,
		chClient:    chClient,
		log:         log,
	}
}

// AddCloser registers a resource closed during shutdown, in reverse
// registration order.
func (a *App) AddCloser(c Closer) {
	a.closers = append(a.closers, c)
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := a.log
	if l == nil {
		l, _ = applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"})
	}

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithServerLogger(l),
	)

	a.httpServer.Echo().GET("/healthz", func(c echo.Context) error {
		if a.chClient != nil {
			if err := a.chClient.Health(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	if a.sched != nil {
		a.sched.Start()
		l.Info("scheduler started")
	}

	if a.tracker != nil {
		sweepEvery := a.cfg.Provider.SweepEvery
		if sweepEvery <= 0 {
			sweepEvery = time.Hour
		}
		go a.tracker.RunSweeper(ctx, sweepEvery)
		l.Info("failure record sweeper started", applogger.Duration("every_ms", sweepEvery))
	}

	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}
	l.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(l)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(l *applogger.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.sched != nil {
		if err := a.sched.Stop(shutdownCtx); err != nil {
			l.Warn("scheduler stop error", applogger.Error(err))
		}
	}

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			l.Warn("closer error", applogger.Error(err))
		}
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}
