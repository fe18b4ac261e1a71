// Package server initializes and runs the stockauth server: it picks the
// storage backend, wires the services, and runs the gRPC and metrics
// endpoints until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/stockauth/internal/cryptox"
	"github.com/dmitrijs2005/stockauth/internal/dbx"
	"github.com/dmitrijs2005/stockauth/internal/logging"
	"github.com/dmitrijs2005/stockauth/internal/server/auth"
	"github.com/dmitrijs2005/stockauth/internal/server/config"
	"github.com/dmitrijs2005/stockauth/internal/server/metrics"
	"github.com/dmitrijs2005/stockauth/internal/server/ratelimit"
	"github.com/dmitrijs2005/stockauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/stockauth/internal/server/services"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/stockauth/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	redis    *redis.Client
	metrics  *metrics.Metrics
	users    *services.UserService
	sessions *services.SessionService
	limiter  *ratelimit.Limiter
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSON(os.Stdout, c.LogLevel)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if c.SecretKey == config.DefaultSecretKey {
		logger.Warn(ctx, "using the development secret key")
	}

	app := &App{config: c, logger: logger, metrics: metrics.New()}

	var (
		tx dbx.Transactor
		rm repomanager.RepositoryManager
	)
	if c.DatabaseDSN == "" {
		logger.Warn(ctx, "no database DSN, sessions are kept in memory")
		tx = dbx.NewMemoryTransactor()
		rm = repomanager.NewMemoryRepositoryManager()
	} else {
		db, err := openDB(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		app.db = db
		rm = repomanager.NewPostgresRepositoryManager()
		if err := rm.RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		tx = dbx.NewSQLTransactor(db)
	}

	codec, err := auth.NewCodec([]byte(c.SecretKey), c.AccessTokenValidityDuration, auth.WithIssuer(c.Issuer))
	if err != nil {
		app.Close()
		return nil, err
	}
	hasher, err := cryptox.NewHasher(c.HashAlgorithm, c.BcryptCost)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.sessions = services.NewSessionService(tx, rm, codec, hasher,
		services.WithRefreshTTLDays(c.RefreshTokenValidityDays),
		services.WithRefreshTokenBytes(c.RefreshTokenBytes),
		services.WithSessionLogger(logger),
		services.WithSessionMetrics(app.metrics),
	)
	app.users = services.NewUserService(tx, rm, hasher, app.sessions, logger)

	if c.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		app.limiter = ratelimit.New(app.redis, ratelimit.Config{
			MaxAttempts: c.RefreshAttemptsLimit,
			Window:      c.RefreshAttemptsWindow,
		})
	}

	return app, nil
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
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

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	opts := []gs.Option{gs.WithMetrics(app.metrics)}
	if app.limiter != nil {
		opts = append(opts, gs.WithLimiter(app.limiter))
	}
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.users, app.sessions, opts...)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {

	mux := http.NewServeMux()
	mux.Handle("/metrics", app.metrics.Handler())
	srv := &http.Server{Addr: app.config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting metrics server", "address", app.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until a signal arrives, ctx is cancelled, or a server fails.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	if app.config.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startMetricsServer(ctx, cancelFunc)
		}()
	}

	wg.Wait()

	app.Close()
	app.logger.Info(context.Background(), "App stopped")
}

// Close releases the database pool and the Redis client.
func (app *App) Close() {
	if app.db != nil {
		_ = app.db.Close()
	}
	if app.redis != nil {
		_ = app.redis.Close()
	}
}
