package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/marekcieslar/dart/internal/auth"
	"github.com/marekcieslar/dart/internal/config"
	"github.com/marekcieslar/dart/internal/database"
	"github.com/marekcieslar/dart/internal/game"
	apphttp "github.com/marekcieslar/dart/internal/http"
	"github.com/marekcieslar/dart/internal/logger"
	"github.com/marekcieslar/dart/internal/notify"
	"github.com/marekcieslar/dart/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.NewLogger(&logger.Config{Level: "error"}).Error("invalid configuration", "error", err.Error())
		os.Exit(1)
	}

	log := logger.NewLogger(&logger.Config{Level: cfg.LogLevel})
	slog.SetDefault(log.Slog())
	if err := run(cfg, log); err != nil {
		log.Error("darts-api stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint, cfg.OTelServiceName)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	store, closeStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := notify.NewHub(log)
	games := game.NewService(store, hub, log)
	access := auth.NewService(store, log)

	router := apphttp.NewRouter(apphttp.RouterConfig{
		Games: game.NewHandler(games, access, log, cfg.FrontendURL, cfg.RequestTimeout),
		Admin: auth.NewHandler(access, log, cfg.FrontendURL, cfg.RequestTimeout),
		Socket: apphttp.NewSocketHandler(apphttp.SocketConfig{
			Games:           games,
			Auth:            access,
			Hub:             hub,
			Log:             log,
			FrontendURL:     cfg.FrontendURL,
			FramesPerSecond: cfg.WSFramesPerSecond,
			Timeout:         cfg.RequestTimeout,
		}),
		Log:         log,
		FrontendURL: cfg.FrontendURL,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("darts-api running", "port", cfg.Port, "storage", cfg.StorageDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down darts-api...")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})
	return g.Wait()
}

func openStore(cfg config.Config, log *logger.Logger) (game.Store, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := database.MigrateSQLite(db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info("sqlite migrations applied", "path", cfg.SQLitePath)
		return game.NewSQLiteRepository(db), func() { _ = db.Close() }, nil
	default:
		if err := database.MigratePostgres(cfg.DBDSN); err != nil {
			return nil, nil, err
		}
		log.Info("postgres migrations applied")
		pool, err := database.NewPool(cfg.DBDSN)
		if err != nil {
			return nil, nil, err
		}
		return game.NewRepository(pool), pool.Close, nil
	}
}
