package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/healthguide/go-health-api/auth/audit"
	"github.com/healthguide/go-health-api/auth/authorize"
	"github.com/healthguide/go-health-api/auth/blacklist"
	"github.com/healthguide/go-health-api/auth/keycache"
	"github.com/healthguide/go-health-api/auth/oidcflow"
	"github.com/healthguide/go-health-api/auth/sessions"
	"github.com/healthguide/go-health-api/auth/token"
	"github.com/healthguide/go-health-api/internal/config"
	"github.com/healthguide/go-health-api/server"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Error().Err(err).Msg("error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config.Load")
	}

	logger := newLogger(cfg.Env)
	displayAppname(cfg.AppName)

	httpServer, stopSweeper, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}
	defer stopSweeper()

	go listenAndServe(httpServer, logger)
	waitForStopSignal()
	return shutdown(httpServer)
}

func buildServer(cfg config.Config, logger zerolog.Logger) (*http.Server, func(), error) {
	recorder := audit.NewLogger(logger)

	store := sessions.NewInMemoryStore(cfg.SessionTimeout, recorder)
	revoked := blacklist.New(recorder, blacklist.WithMaxSize(cfg.BlacklistMaxSize))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	provider, jwksURL, err := oidcflow.Discover(ctx, cfg.OidcIssuerURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "provider discovery")
	}

	keys := keycache.New(jwksURL, keycache.WithTTL(cfg.JWKSCacheTTL))

	tokens := token.NewManager(cfg.SigningSecret, cfg.Issuer, cfg.Audience,
		token.WithTokenExpiry(cfg.AccessTokenTTL, cfg.RefreshTokenTTL))

	validator, err := token.NewValidator(token.ValidatorConfig{
		Secret:           cfg.SigningSecret,
		Issuer:           cfg.Issuer,
		Audience:         cfg.Audience,
		ProviderIssuer:   cfg.OidcIssuerURL,
		ProviderAudience: cfg.OidcAudience,
	}, keys, revoked, recorder)
	if err != nil {
		return nil, nil, errors.Wrap(err, "token.NewValidator")
	}

	flow, err := oidcflow.NewController(oidcflow.Config{
		IssuerURL:    cfg.OidcIssuerURL,
		ClientID:     cfg.OidcClientID,
		ClientSecret: cfg.OidcClientSecret,
		RedirectURL:  cfg.OidcRedirectURL,
	}, provider, store, keys, tokens, recorder)
	if err != nil {
		return nil, nil, errors.Wrap(err, "oidcflow.NewController")
	}

	authz := authorize.New(recorder)

	srv, err := server.New(cfg, flow, validator, tokens, authz, recorder, logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "server.New")
	}

	stopSweeper := startSweeper(cfg.SweepInterval, store, revoked, logger)

	return &http.Server{Addr: cfg.Port, Handler: srv}, stopSweeper, nil
}

// startSweeper periodically drops expired login sessions and purges expired
// blacklist entries so neither map grows without bound.
func startSweeper(interval time.Duration, store *sessions.InMemoryStore, revoked *blacklist.Blacklist, logger zerolog.Logger) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				swept := store.Sweep()
				purged := revoked.Purge()
				if swept > 0 || purged > 0 {
					logger.Debug().Int("sessions", swept).Int("blacklist", purged).Msg("sweep")
				}
			}
		}
	}()
	return func() { close(done) }
}

func newLogger(env string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "DEV" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout}).Level(zerolog.DebugLevel)
	}
	return logger
}

func listenAndServe(httpServer *http.Server, logger zerolog.Logger) {
	logger.Info().Str("addr", httpServer.Addr).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
