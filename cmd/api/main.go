package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	goredislib "github.com/redis/go-redis/v9"

	"github.com/MrJamesThe3rd/ledger/internal/account"
	accountStore "github.com/MrJamesThe3rd/ledger/internal/account/store"
	"github.com/MrJamesThe3rd/ledger/internal/config"
	"github.com/MrJamesThe3rd/ledger/internal/database"
	ledgerHttp "github.com/MrJamesThe3rd/ledger/internal/http"
	accountHandler "github.com/MrJamesThe3rd/ledger/internal/http/account"
	txHandler "github.com/MrJamesThe3rd/ledger/internal/http/transaction"
	userHandler "github.com/MrJamesThe3rd/ledger/internal/http/user"
	"github.com/MrJamesThe3rd/ledger/internal/lock"
	"github.com/MrJamesThe3rd/ledger/internal/lock/redislock"
	"github.com/MrJamesThe3rd/ledger/internal/storage/memory"
	"github.com/MrJamesThe3rd/ledger/internal/transaction"
	txStore "github.com/MrJamesThe3rd/ledger/internal/transaction/store"
	"github.com/MrJamesThe3rd/ledger/internal/user"
	userStore "github.com/MrJamesThe3rd/ledger/internal/user/store"
)

type accountRepository interface {
	account.Repository
	transaction.AccountStore
}

type stores struct {
	users    user.Repository
	accounts accountRepository
	ledger   transaction.Repository
	health   ledgerHttp.Pinger
	close    func() error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.App.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	locker, lockHealth, closeLocker, err := openLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	var (
		userService        = user.NewService(st.users)
		accountService     = account.NewService(st.accounts, st.users, locker, logger)
		transactionService = transaction.NewService(st.ledger, st.accounts, st.users, locker, logger)
	)

	health := map[string]ledgerHttp.Pinger{"storage": st.health}
	if lockHealth != nil {
		health["lock"] = lockHealth
	}

	router := ledgerHttp.New(
		userHandler.NewHandler(userService),
		accountHandler.NewHandler(accountService),
		txHandler.NewHandler(transactionService, logger),
		ledgerHttp.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Timeout:        cfg.Server.Timeout,
			Health:         health,
		},
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("starting server",
			"app", cfg.App.Name,
			"port", srv.Addr,
			"storage", cfg.Storage.Driver,
			"lock", cfg.Lock.Driver,
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}

		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	logger.Info("server exited")

	return nil
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.Storage.Driver == config.StorageDriverMemory {
		logger.Warn("using in-memory storage, data is lost on restart")

		m := memory.New()

		return &stores{users: m, accounts: m, ledger: m, health: m, close: func() error { return nil }}, nil
	}

	db, err := database.New(ctx, cfg.ConnectionString(), database.PoolOptions{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if cfg.DB.Migrate {
		if err := database.Migrate(db, logger); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &stores{
		users:    userStore.New(db),
		accounts: accountStore.New(db),
		ledger:   txStore.New(db),
		health:   dbPinger{db},
		close:    db.Close,
	}, nil
}

type dbPinger struct {
	db *sql.DB
}

func (p dbPinger) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func openLocker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (lock.Coordinator, ledgerHttp.Pinger, func() error, error) {
	opts := lock.Options{
		TTL:        cfg.Lock.TTL,
		Wait:       cfg.Lock.Wait,
		RetryDelay: cfg.Lock.RetryDelay,
	}

	if cfg.Lock.Driver == config.LockDriverLocal {
		logger.Warn("using in-process locks, run a single instance only")
		return lock.NewLocal(opts), nil, func() error { return nil }, nil
	}

	client := goredislib.NewClient(&goredislib.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	coord := redislock.New(client, opts, logger)
	if err := coord.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return coord, coord, client.Close, nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}

	return level
}
