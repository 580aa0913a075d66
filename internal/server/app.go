// Package server wires the credkeeper components together and runs them:
// the credential store, token issuer, mail dispatcher, reaper, and the
// HTTP and gRPC listeners. It owns graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/config"
	"github.com/dmitrijs2005/credkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/credkeeper/internal/server/mailer"
	"github.com/dmitrijs2005/credkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/credkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/credkeeper/internal/server/reaper"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/credkeeper/internal/server/services"
	"github.com/dmitrijs2005/credkeeper/internal/timex"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/credkeeper/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config *config.Config
	logger logging.Logger

	repos      repomanager.RepositoryManager
	dispatcher *mailer.Dispatcher
	redis      *redis.Client
	reaper     *reaper.Reaper

	httpServer *http.Server
	grpcServer *gs.GRPCServer
}

// NewApp builds every component from c. Logs go to w.
func NewApp(ctx context.Context, c *config.Config, w io.Writer) (*App, error) {
	logger := logging.NewLogger(w, c.LogLevel)
	clock := timex.SystemClock{}
	m := metrics.New()

	repos, err := openRepositories(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Issuer:       c.TokenIssuer,
		Access:       auth.FamilyConfig{Secret: []byte(c.AccessTokenSecret), TTL: c.AccessTokenValidityDuration},
		Refresh:      auth.FamilyConfig{Secret: []byte(c.RefreshTokenSecret), TTL: c.RefreshTokenValidityDuration},
		Verification: auth.FamilyConfig{Secret: []byte(c.VerificationTokenSecret), TTL: c.VerificationTokenValidityDuration},
	}, clock)
	if err != nil {
		_ = repos.Close()
		return nil, err
	}

	hasher, err := auth.NewBcryptHasher(c.PasswordHashCost, c.PasswordHashWorkers)
	if err != nil {
		_ = repos.Close()
		return nil, err
	}

	dispatcher := mailer.NewDispatcher(newSender(c, logger), c.MailWorkers, c.MailQueueSize, logger, m)

	deps := services.Deps{
		Repos:         repos,
		Issuer:        issuer,
		Hasher:        hasher,
		Mail:          dispatcher,
		Clock:         clock,
		Logger:        logger,
		Metrics:       m,
		PublicBaseURL: c.PublicBaseURL,
	}
	accountService := services.NewAccountService(deps)
	resetService := services.NewPasswordResetService(deps, c.ResetTokenValidityDuration, c.ForgotPasswordUniformResponse)

	limiter, rdb := newLimiter(c)

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(httpapi.Options{
		Accounts: accountService,
		Resets:   resetService,
		Cookie:   httpapi.NewRefreshCookie(c.RefreshTokenValidityDuration, c.CookieSecure),
		Limiter:  limiter,
		Clock:    clock,
		Logger:   logger,
		Metrics:  m,
		Ready:    repos.Ping,
	})

	return &App{
		config:     c,
		logger:     logger,
		repos:      repos,
		dispatcher: dispatcher,
		redis:      rdb,
		reaper: reaper.New(repos.Accounts(), reaper.Config{
			GracePeriod: c.ReaperGracePeriod,
			Interval:    c.ReaperInterval,
			BatchSize:   c.ReaperBatchSize,
		}, clock, logger, m),
		httpServer: &http.Server{
			Addr:              c.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		grpcServer: gs.NewGRPCServer(c.GRPCAddr, logger, repos.Ping),
	}, nil
}

func openRepositories(ctx context.Context, c *config.Config) (repomanager.RepositoryManager, error) {
	if c.UsesMemoryStore() {
		return repomanager.NewMemoryRepositoryManager(), nil
	}

	rm, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := rm.RunMigrations(ctx); err != nil {
		_ = rm.Close()
		return nil, err
	}
	return rm, nil
}

// newSender picks SMTP when an address is configured and otherwise logs
// messages without their bodies.
func newSender(c *config.Config, logger logging.Logger) mailer.Sender {
	if c.SMTPAddr == "" {
		return mailer.NewLogSender(logger)
	}
	return mailer.NewSMTPSender(mailer.SMTPConfig{
		Addr:     c.SMTPAddr,
		Username: c.SMTPUsername,
		Password: c.SMTPPassword,
		From:     c.MailFrom,
	})
}

// newLimiter shares windows through Redis when it is configured.
func newLimiter(c *config.Config) (ratelimit.Limiter, *redis.Client) {
	if c.RedisAddr == "" {
		return ratelimit.NewMemoryLimiter(c.RateLimit, c.RateLimitWindow), nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	return ratelimit.NewRedisLimiter(rdb, c.RateLimit, c.RateLimitWindow, ""), rdb
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
	lis, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.logger.Error(ctx, "http listen failed", "error", err)
		cancelFunc()
		return
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(context.Background(), "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(shutdownCtx, "http shutdown failed", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", lis.Addr().String())
	if err := app.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "http server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.grpcServer.Run(ctx); err != nil {
		app.logger.Error(ctx, "grpc server failed", "error", err)
		cancelFunc()
	}
}

// Run serves until ctx is cancelled, a signal arrives or a listener fails,
// then drains the mail queue and closes the store.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.reaper.Run(ctx)
	}()

	wg.Wait()

	return app.close()
}

func (app *App) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := app.dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("mail queue: %w", err))
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if err := app.repos.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	app.logger.Info(ctx, "App stopped")
	return errors.Join(errs...)
}
