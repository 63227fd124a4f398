package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/account"
	"github.com/ovaphlow/pitchfork/service-account/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-account/internal/authgate"
	"github.com/ovaphlow/pitchfork/service-account/internal/config"
	"github.com/ovaphlow/pitchfork/service-account/internal/notify"
	"github.com/ovaphlow/pitchfork/service-account/internal/router"
	"github.com/ovaphlow/pitchfork/service-account/internal/token"
	"github.com/ovaphlow/pitchfork/service-account/pkg/database"
	"github.com/ovaphlow/pitchfork/service-account/pkg/utilities"
)

func main() {
	// best-effort: without a .env file the real environment is used
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	if err := run(sugar); err != nil {
		sugar.Errorw("service stopped", "err", err)
		_ = lg.Sync()
		os.Exit(1)
	}
}

func run(sugar *zap.SugaredLogger) error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	sugar.Infow("starting service-account", "store", cfg.StoreDriver, "mail", cfg.MailDriver, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, sugar)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			sugar.Warnw("closing store failed", "err", err)
		}
	}()

	issuer, err := token.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionTTL, sugar)
	if err != nil {
		return err
	}
	svc, err := account.NewService(store, issuer, newSender(cfg, sugar), account.Options{
		VerificationTTL: cfg.VerificationTTL,
		ResetTTL:        cfg.ResetTTL,
		PublicBaseURL:   cfg.PublicBaseURL,
		Hasher:          account.BcryptHasher{Cost: cfg.BcryptCost},
	}, sugar)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: router.RegisterRoutes(router.Deps{
			Accounts:       account.NewHandler(svc, sugar),
			Gate:           authgate.New(issuer, sugar),
			Store:          store,
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         sugar,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	sugar.Info("service is running; press Ctrl+C to stop")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	sugar.Info("shutting down")
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnw("http server shutdown failed", "err", err)
	}
	sugar.Info("goodbye")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (repo.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, err := database.ConnectMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		store := repo.NewMongo(client.Database(cfg.Mongo.Database))
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("ensure indexes: %w", err)
		}
		return store, nil
	case config.StoreMemory:
		sugar.Warn("using in-memory store; accounts are lost on restart")
		return repo.NewMemory(), nil
	default:
		sqlDB, err := database.Connect(cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, sqlDB, repo.Migrations()); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return repo.NewPostgres(sqlx.NewDb(sqlDB, "postgres")), nil
	}
}

func newSender(cfg *config.Config, sugar *zap.SugaredLogger) notify.Sender {
	if cfg.MailDriver == config.MailSMTP {
		return notify.NewSMTP(cfg.SMTP, sugar)
	}
	sugar.Warn("using log mail transport; emails are written to the log")
	return notify.NewLog(sugar)
}
