// Package server assembles the plotroom server: it opens the database, runs
// migrations, builds the auth, rate limiting and realtime components and
// runs the HTTP and gRPC endpoints until a termination signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/plotroom/internal/logging"
	"github.com/dmitrijs2005/plotroom/internal/server/auth"
	"github.com/dmitrijs2005/plotroom/internal/server/config"
	"github.com/dmitrijs2005/plotroom/internal/server/httpapi"
	"github.com/dmitrijs2005/plotroom/internal/server/ratelimit"
	"github.com/dmitrijs2005/plotroom/internal/server/realtime"
	"github.com/dmitrijs2005/plotroom/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/plotroom/internal/server/services"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	gs "github.com/dmitrijs2005/plotroom/internal/server/grpc"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	auth    *services.AuthService
	limiter *ratelimit.Limiter
	hub     *realtime.Hub
}

// openDB opens a pgx-backed *sql.DB and checks that it answers.
func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	db := stdlib.OpenDB(*cfg)
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	db, err := openDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	tokens, err := auth.NewTokenService(c.AccessTokenSecret, c.RefreshTokenSecret, c.AccessTokenTTL, c.RefreshTokenTTL)
	if err != nil {
		db.Close()
		return nil, err
	}

	as, err := services.NewAuthService(db, rm, tokens, c.BcryptCost, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &App{
		config:  c,
		logger:  logger,
		db:      db,
		auth:    as,
		limiter: ratelimit.New(c.RateLimitMaxRequests, c.RateLimitWindow, c.RateLimitSweepInterval, logger),
		hub:     realtime.NewHub(c.RealtimeQueueSize, logger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	handler := httpapi.NewHandler(httpapi.Deps{
		Auth:           app.auth,
		Hub:            app.hub,
		Limiter:        app.limiter,
		DB:             app.db,
		AllowedOrigins: app.config.CORSAllowedOrigins,
		TrustProxy:     app.config.TrustProxy,
		Logger:         app.logger,
	})

	s := httpapi.NewServer(app.config.HTTPAddr, handler, app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.auth, app.hub)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)
	app.limiter.Start(ctx)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	shutdownCtx := context.WithoutCancel(ctx)
	app.hub.Close(shutdownCtx)
	app.limiter.Stop()
	if err := app.db.Close(); err != nil {
		app.logger.Error(shutdownCtx, "closing database", "error", err)
	}
	app.logger.Info(shutdownCtx, "App stopped")
}
