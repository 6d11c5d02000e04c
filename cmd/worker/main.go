// Command worker runs the flight price-watch worker: it sweeps due
// subscriptions on a fixed tick, notifies users of qualifying offers, and
// serves the ops HTTP API (probes, metrics, operator endpoints).
//
// With --once it performs a single sweep and exits, which suits cron-style
// deployments.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/flymate-worker/internal/config"
	httpapi "github.com/tbourn/flymate-worker/internal/http"
	"github.com/tbourn/flymate-worker/internal/observability"
	"github.com/tbourn/flymate-worker/internal/repo"
	"github.com/tbourn/flymate-worker/internal/sysutil"
	"github.com/tbourn/flymate-worker/internal/worker"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	once := flag.Bool("once", sysutil.IsTruthy(os.Getenv("RUN_ONCE")), "run a single sweep and exit")
	flag.Parse()

	// .env is optional; real environment wins.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetLogLevel(cfg.LogLevel)
	log.Logger = sysutil.NewLogger(os.Stderr, cfg.LogPretty, cfg.OTEL.ServiceName)

	if err := run(cfg, *once); err != nil {
		log.Fatal().Err(err).Msg("worker exited")
	}
}

func run(cfg config.Config, once bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	source := cfg.DB.Path
	if cfg.DB.Driver == repo.DriverMySQL {
		source = cfg.DB.DSN
	}
	db, err := repo.Open(cfg.DB.Driver, source)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	w := worker.New(db, cfg, log.Logger)
	log.Info().
		Str("version", ver).
		Str("db_driver", cfg.DB.Driver).
		Bool("once", once).
		Msg("worker starting")

	if once {
		res, err := w.RunOnce(ctx)
		if err != nil {
			return err
		}
		log.Info().
			Int("due", res.Due).
			Int("checked", res.Checked).
			Int("failed", res.Failed).
			Int("notified", res.Notified).
			Msg("single sweep finished")
		return nil
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, w.Scheduler, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("ops api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	log.Info().Msg("worker stopped")
	return err
}
