package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/passvault/internal/api"
	"github.com/org/passvault/internal/auth"
	"github.com/org/passvault/internal/config"
	"github.com/org/passvault/internal/core"
	"github.com/org/passvault/internal/directory"
	"github.com/org/passvault/internal/secret"
	"github.com/org/passvault/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	cipher, err := core.NewFieldCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid encryption key")
	}

	ctx := context.Background()
	raw, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to open database")
	}
	defer raw.Close()
	backend := storage.NewEncryptedBackend(raw, cipher)

	tokens := auth.NewTokenService(backend)
	secrets := secret.NewService(backend, secret.Config{
		AuditRepeatWindow: cfg.AuditRepeatWindow,
		PageSize:          cfg.PageSize,
		RequireTwoFactor:  cfg.RequireTwoFactor,
		MaxFileSize:       cfg.MaxFileSize,
	})
	dir := directory.NewService(backend, tokens, cfg.RequireTwoFactor, directory.WithMaxTokenTTL(cfg.TokenTTL))

	srv := api.NewServer(backend, tokens, secrets, dir, api.Config{
		ListenAddr:     cfg.ListenAddr,
		TLSCertFile:    cfg.TLSCertFile,
		TLSKeyFile:     cfg.TLSKeyFile,
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
		TokenTTL:       cfg.TokenTTL,
		MaxUploadSize:  cfg.MaxFileSize,
	})

	users, err := backend.CountUsers(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to check init state")
	}
	if users == 0 {
		log.Info().Msg("passvault not yet initialized - POST /v1/sys/init to create the first superuser")
	}
	if !cfg.RequireTwoFactor {
		log.Warn().Msg("two-factor verification is disabled")
	}

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}

// openBackend connects to the configured database and brings its schema up
// to date.
func openBackend(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	if cfg.Database.Driver == "postgres" {
		pg, err := storage.NewPostgresBackend(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if err := storage.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
			pg.Close()
			return nil, err
		}
		log.Info().Msg("migrations applied")
		return pg, nil
	}

	dbLog := logger.Warn
	if cfg.Level() <= zerolog.DebugLevel {
		dbLog = logger.Info
	}
	return storage.NewSQLiteBackend(ctx, cfg.Database.URL, dbLog)
}
