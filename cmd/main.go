package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nft-shop/internal/api"
	"nft-shop/internal/config"
	"nft-shop/internal/db"
	"nft-shop/internal/logger"
	"nft-shop/internal/metrics"
	"nft-shop/internal/notify"
	"nft-shop/internal/realtime"
	"nft-shop/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "nftshop",
		Short:        "Capped-supply NFT item shop",
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCommand(), newMigrateCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, realtime channel and notifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			dbConn, err := db.Connect(cfg)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer dbConn.Close()
			if err := db.Migrate(dbConn); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Println("migrations applied")
			return nil
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func(l *zap.Logger) {
		_ = l.Sync()
	}(zapLogger)

	store, err := db.Open(cfg)
	if err != nil {
		zapLogger.Error("Failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
		return err
	}
	defer store.Close()

	m := metrics.New()
	hub := realtime.NewHub(cfg.WSToken, zapLogger, m)

	var notifier service.Notifier
	var queue *notify.Queue
	telegram := notify.NewTelegram(notify.TelegramConfig{
		BaseURL:        cfg.TelegramBaseURL,
		BotToken:       cfg.TelegramBotToken,
		ChatIDs:        cfg.TelegramChatIDs,
		MarketplaceURL: cfg.MarketplaceURL,
	})
	if telegram.Enabled() {
		queue = notify.NewQueue(telegram, notify.QueueOptions{
			Workers:   cfg.NotifyWorkers,
			Size:      cfg.NotifyQueueSize,
			BaseDelay: time.Second,
		}, zapLogger, m)
		notifier = queue
	} else {
		zapLogger.Warn("Telegram notifications disabled: bot token or chat ids missing")
	}

	handlers := &api.Handlers{
		AuthService: service.NewAuthService(cfg.AdminUsername, cfg.AdminPassword, cfg.JWTSecret, zapLogger),
		Admission: service.NewAdmissionService(store, zapLogger, notifier, hub, m, service.AdmissionOptions{
			AdmissionAttempts: cfg.AdmissionAttempts,
			RetryBaseDelay:    cfg.RetryBaseDelay,
		}),
		Catalog: service.NewCatalogService(store, zapLogger, hub),
		Logger:  zapLogger,
	}
	e := api.NewRouter(handlers, api.RouterOptions{
		Realtime: hub,
		Metrics:  m.Handler(),
	})

	errCh := make(chan error, 1)
	go func() {
		port := fmt.Sprintf(":%s", cfg.ServerPort)
		zapLogger.Info("Starting server", zap.String("port", cfg.ServerPort), zap.String("store", cfg.StoreDriver))
		if err := e.Start(port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			zapLogger.Error("Failed to run server", zap.Error(err))
			return err
		}
	case <-ctx.Done():
	}

	zapLogger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	hub.Close()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server shutdown failed", zap.Error(err))
	}
	if queue != nil {
		if err := queue.Stop(shutdownCtx); err != nil {
			zapLogger.Warn("Notification queue did not drain", zap.Error(err))
		}
	}
	return nil
}
