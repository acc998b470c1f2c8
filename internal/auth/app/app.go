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

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	httpapi "github.com/aussiebroadwan/stockroom/internal/auth/http"
	"github.com/aussiebroadwan/stockroom/internal/auth/metrics"
	"github.com/aussiebroadwan/stockroom/internal/auth/service"
	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/internal/auth/store/drivers/postgres"
	"github.com/aussiebroadwan/stockroom/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/stockroom/pkg/cryptox"
	"github.com/aussiebroadwan/stockroom/pkg/jwtx"
	"github.com/aussiebroadwan/stockroom/pkg/slogx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "v0.1.0"

// Application owns every dependency of the auth service.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db         store.Store
	keyManager *jwtx.KeyManager
	sealer     jwtx.Sealer
	metrics    *metrics.Metrics

	hasher              cryptox.PasswordHasher
	passwordService     *service.PasswordPolicyService
	ledger              *service.LoginLedger
	lockoutService      *service.LockoutService
	mfaService          *service.MFAService
	resolver            *service.PermissionResolver
	tokenService        *service.TokenService
	authService         *service.AuthService
	userService         *service.UserService
	rolesService        *service.RolesService
	bootstrapService    *service.BootstrapService
	keyRotationService  *service.KeyRotationService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New opens the database, loads signing keys and wires the services and
// router. Nothing listens until Run.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "stockroom-auth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initHasher(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	ctx := slogx.WithContext(context.Background(), app.logger)
	km, sealer, err := InitAuthKeys(ctx, cfg.Keys, app.db, app.logger)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.keyManager = km
	app.sealer = sealer

	app.initMetrics()
	app.initServices()

	if err := app.seedFromEnv(ctx); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initHTTP()
	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("auth service starting", "port", app.cfg.HTTP.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.housekeepingService.Stop()
			_ = app.db.Close()
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

// Shutdown drains in-flight requests, stops housekeeping and closes the
// database.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.HTTP.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

func (app *Application) initDatabase() error {
	var (
		db  store.Store
		err error
	)
	switch app.cfg.Database.Driver {
	case "postgres":
		db, err = postgres.NewStore(app.cfg.Database.URL)
	default:
		db, err = sqlite.NewStore(app.cfg.Database.File)
	}
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}
	app.db = db

	app.logger.Info("database migrations applied", "driver", app.cfg.Database.Driver)
	return nil
}

// initHasher picks the hasher for new hashes and keeps the other one for
// verifying hashes written before a switch.
func (app *Application) initHasher() error {
	pepper, err := cryptox.LoadOrCreatePepper(app.cfg.Passwords.PepperFile)
	if err != nil {
		return fmt.Errorf("failed to load pepper: %w", err)
	}

	argon := cryptox.NewArgon2idHasher(pepper)
	bcrypt := cryptox.NewBcryptHasher(app.cfg.Passwords.BcryptCost)

	if app.cfg.Passwords.Hasher == "bcrypt" {
		app.hasher = cryptox.NewHasherChain(bcrypt, argon)
	} else {
		app.hasher = cryptox.NewHasherChain(argon, bcrypt)
	}
	return nil
}

func (app *Application) initMetrics() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(reg)
}

func (app *Application) initServices() {
	cfg := app.cfg

	app.passwordService = &service.PasswordPolicyService{
		Policy: service.PasswordPolicy{
			MinLength:        cfg.Passwords.MinLength,
			RequireUppercase: cfg.Passwords.RequireUppercase,
			RequireLowercase: cfg.Passwords.RequireLowercase,
			RequireNumbers:   cfg.Passwords.RequireNumbers,
			RequireSpecial:   cfg.Passwords.RequireSpecial,
			SpecialChars:     cfg.Passwords.SpecialChars,
			HistorySize:      cfg.Passwords.History,
		},
		Hasher: app.hasher,
	}

	app.ledger = &service.LoginLedger{Store: app.db}
	app.lockoutService = &service.LockoutService{
		Store:  app.db,
		Ledger: app.ledger,
		Policy: service.LockoutPolicy{
			MaxAttempts:  cfg.Lockout.MaxAttempts,
			LockDuration: cfg.Lockout.LockDuration,
		},
		Metrics: app.metrics,
	}
	app.mfaService = &service.MFAService{
		Store:      app.db,
		Hasher:     app.hasher,
		Issuer:     cfg.MFA.Issuer,
		SecretSize: cfg.MFA.SecretSize,
		Metrics:    app.metrics,
	}
	app.resolver = &service.PermissionResolver{Store: app.db}

	app.tokenService = &service.TokenService{
		KeyManager:          app.keyManager,
		Store:               app.db,
		Resolver:            app.resolver,
		Issuer:              cfg.Keys.Issuer,
		AccessTTL:           cfg.Tokens.AccessTTL,
		RefreshTTL:          cfg.Tokens.RefreshTTL,
		RotateRefreshTokens: cfg.Tokens.RotateRefresh,
		Metrics:             app.metrics,
	}

	app.authService = &service.AuthService{
		Store:          app.db,
		Hasher:         app.hasher,
		Lockout:        app.lockoutService,
		Ledger:         app.ledger,
		MFA:            app.mfaService,
		Tokens:         app.tokenService,
		Resolver:       app.resolver,
		PasswordMaxAge: cfg.Passwords.MaxAge,
		Metrics:        app.metrics,
	}

	app.userService = &service.UserService{
		Store:       app.db,
		Hasher:      app.hasher,
		Passwords:   app.passwordService,
		Tokens:      app.tokenService,
		DefaultRole: cfg.Roles.DefaultRole,
		Metrics:     app.metrics,
	}
	app.rolesService = &service.RolesService{Store: app.db}
	app.bootstrapService = &service.BootstrapService{
		Store:       app.db,
		Roles:       app.rolesService,
		Passwords:   app.passwordService,
		Token:       cfg.Bootstrap.Token,
		BypassRole:  cfg.Roles.BypassRole,
		DefaultRole: cfg.Roles.DefaultRole,
	}

	// Without a Store rotation is in memory only.
	app.keyRotationService = &service.KeyRotationService{
		KeyManager:  app.keyManager,
		GracePeriod: cfg.Keys.GracePeriod,
	}
	if app.sealer != nil {
		app.keyRotationService.Store = app.db
		app.keyRotationService.Sealer = app.sealer
	}

	app.housekeepingService = service.NewHousekeepingService(app.db, app.logger, cfg.Housekeeping.Interval)
	app.housekeepingService.LoginAttemptRetention = cfg.Housekeeping.LoginAttemptRetention
}

// seedFromEnv bootstraps an empty database from BOOTSTRAP_ADMIN_* so a
// deployment can come up without calling POST /v1/bootstrap.
func (app *Application) seedFromEnv(ctx context.Context) error {
	b := app.cfg.Bootstrap
	if !b.FromEnv() {
		return nil
	}

	done, err := app.bootstrapService.IsBootstrapped(ctx)
	if err != nil {
		return fmt.Errorf("check bootstrap state: %w", err)
	}
	if done {
		app.logger.Debug("bootstrap admin configured but database already seeded")
		return nil
	}

	token, err := cryptox.GenerateToken(32)
	if err != nil {
		return err
	}
	seeder := &service.BootstrapService{
		Store:       app.bootstrapService.Store,
		Roles:       app.bootstrapService.Roles,
		Passwords:   app.bootstrapService.Passwords,
		Token:       token,
		BypassRole:  app.bootstrapService.BypassRole,
		DefaultRole: app.bootstrapService.DefaultRole,
	}
	admin, err := seeder.Bootstrap(ctx, token, domain.BootstrapData{
		AdminUsername: b.AdminUsername,
		AdminEmail:    b.AdminEmail,
		AdminPassword: b.AdminPassword,
	})
	if err != nil {
		return fmt.Errorf("bootstrap from environment: %w", err)
	}

	app.logger.Info("bootstrapped from environment", "admin_user_id", admin.ID, "admin_username", admin.Username)
	return nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(app.keyManager, BuildVersion, app.db, app.logger)

	router.Guard = service.Guard{BypassRole: app.cfg.Roles.BypassRole}
	router.Metrics = app.metrics
	router.AuthService = app.authService
	router.TokenService = app.tokenService
	router.UserService = app.userService
	router.Resolver = app.resolver
	router.MFAService = app.mfaService
	router.LockoutService = app.lockoutService
	router.Ledger = app.ledger
	router.RolesService = app.rolesService
	router.BootstrapService = app.bootstrapService
	router.KeyRotationService = app.keyRotationService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: app.cfg.HTTP.ReadHeaderTimeout,
	}
}
