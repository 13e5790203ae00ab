package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/taskboard/trustd/internal/trust/http"
	"github.com/taskboard/trustd/internal/trust/replay"
	"github.com/taskboard/trustd/internal/trust/service"
	"github.com/taskboard/trustd/internal/trust/store"
	"github.com/taskboard/trustd/internal/trust/store/drivers/sqlite"
	"github.com/taskboard/trustd/pkg/cryptox"
	"github.com/taskboard/trustd/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the trust service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db          store.Store
	keys        *cryptox.SigningKeyProvider
	redisReplay *replay.RedisCache

	sessionService      *service.SessionTokenService
	proofService        *service.PossessionProofService
	tokenService        *service.SingleUseTokenService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "trustd",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initSigningKeys(); err != nil {
		return nil, err
	}
	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("trust service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down trust service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if app.redisReplay != nil {
		if err := app.redisReplay.Close(); err != nil {
			app.logger.Error("error closing redis replay cache", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("trust service stopped")
	return nil
}

// initSigningKeys loads the shared signing secret from the environment or a
// file and derives the token signing key.
func (app *Application) initSigningKeys() error {
	var (
		keys *cryptox.SigningKeyProvider
		err  error
	)

	switch {
	case app.cfg.SigningSecretFile != "":
		keys, err = cryptox.NewSigningKeyProviderFromFile(app.cfg.SigningSecretFile)
	case app.cfg.SigningSecret != "":
		keys, err = cryptox.NewSigningKeyProvider(app.cfg.SigningSecret)
	default:
		return fmt.Errorf("no signing secret configured: set TRUSTD_SIGNING_SECRET or TRUSTD_SIGNING_SECRET_FILE")
	}
	if err != nil {
		return fmt.Errorf("failed to initialize signing keys: %w", err)
	}

	app.keys = keys
	return nil
}

// initDatabase initializes the database and applies migrations.
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initServices initializes all business logic services, including the
// replay seen-set the configuration asks for.
func (app *Application) initServices() error {
	replayCache, err := app.initReplayCache()
	if err != nil {
		return err
	}

	app.sessionService = &service.SessionTokenService{
		Keys:       app.keys,
		Issuer:     app.cfg.Issuer,
		AccessTTL:  app.cfg.AccessTokenTTL,
		RefreshTTL: app.cfg.RefreshTokenTTL,
	}

	app.proofService = &service.PossessionProofService{
		Keys:     app.keys,
		ProofTTL: app.cfg.ProofTTL,
		Replay:   replayCache,
	}

	app.tokenService = &service.SingleUseTokenService{
		Store:            app.db,
		TokenLength:      app.cfg.TokenLength,
		DefaultTTL:       app.cfg.TokenDefaultTTL,
		MaxTTL:           app.cfg.TokenMaxTTL,
		MaxActivePerUser: app.cfg.MaxActivePerUser,
		StoreTimeout:     app.cfg.StoreTimeout,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.tokenService,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.UsedTokenRetention,
	)

	return nil
}

func (app *Application) initReplayCache() (replay.Cache, error) {
	switch app.cfg.ReplayMode {
	case ReplayModeOff, "":
		app.logger.Info("proof replay tracking disabled")
		return nil, nil
	case ReplayModeMemory:
		app.logger.Info("proof replay tracking enabled (in-memory)")
		return replay.NewMemoryCache(), nil
	case ReplayModeRedis:
		cache, err := replay.NewRedisCache(context.Background(), replay.RedisConfig{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
			DB:       app.cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis replay cache: %w", err)
		}
		app.redisReplay = cache
		app.logger.Info("proof replay tracking enabled (redis)", "addr", app.cfg.RedisAddr)
		return cache, nil
	default:
		return nil, fmt.Errorf("unknown replay mode %q", app.cfg.ReplayMode)
	}
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		BuildVersion,
		app.db,
		app.redisReplay,
		app.logger,
	)

	router.SessionService = app.sessionService
	router.ProofService = app.proofService
	router.TokenService = app.tokenService
	router.TrustProxyHeaders = app.cfg.TrustProxyHeaders
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
