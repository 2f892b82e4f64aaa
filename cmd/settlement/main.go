// Package main запускает HTTP-сервер сервиса расчётов маркетплейса.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/marketplace-settlement/internal/config"
	"github.com/mmeshcher/marketplace-settlement/internal/handler"
	"github.com/mmeshcher/marketplace-settlement/internal/middleware"
	"github.com/mmeshcher/marketplace-settlement/internal/notify"
	"github.com/mmeshcher/marketplace-settlement/internal/repository"
	"github.com/mmeshcher/marketplace-settlement/internal/secure"
	"github.com/mmeshcher/marketplace-settlement/internal/service"
	"github.com/mmeshcher/marketplace-settlement/internal/stock"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	codec := secure.NewCodec(secure.StaticKey(cfg.EncryptionKey))

	var stockClient *stock.Client
	if cfg.StockServiceAddress != "" {
		stockClient = stock.NewClient(cfg.StockServiceAddress)
	}

	var notifier service.Notifier
	var producer *notify.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = notify.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		notifier = producer
	}

	var stockChecker service.StockChecker
	if stockClient != nil {
		stockChecker = stockClient
	}

	svc := service.NewService(repo, codec, stockChecker, notifier, cfg.PaymentWebhookSecret, cfg.CommissionPercent)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting settlement server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		if producer != nil {
			if err := producer.Close(); err != nil {
				sugar.Errorw("close notification producer", "error", err.Error())
			}
		}

		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
