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

	"studyhub/internal/api"
	"studyhub/internal/attribution"
	"studyhub/internal/commission"
	"studyhub/internal/config"
	"studyhub/internal/creator"
	"studyhub/internal/events"
	"studyhub/internal/headops"
	"studyhub/internal/ledger"
	"studyhub/internal/metrics"
	"studyhub/internal/migrations"
	"studyhub/internal/notify"
	"studyhub/internal/scheduler"
	"studyhub/internal/settings"
	"studyhub/internal/store"
	"studyhub/internal/webhook"
	"studyhub/internal/withdrawal"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализация логгера
	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("запуск сервиса комиссий StudyHub", zap.String("env", cfg.App.Env))

	// Применение миграций
	if err := migrations.RunMigrations(cfg, logger); err != nil {
		logger.Fatal("ошибка применения миграций", zap.Error(err))
	}

	// Инициализация базы данных
	st, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации базы данных", zap.Error(err))
	}
	defer st.Close()

	metricsSystem := metrics.New(logger)
	metricsHandler := metrics.NewHandler(metricsSystem, st, logger)

	publisher := initPublisher(cfg, logger)
	defer publisher.Close()

	notifier := initNotifier(cfg, logger)

	// Сервисы
	ledgerService := ledger.NewService(logger)
	settingsService := settings.NewService(st.Settings(), logger)
	tierService := commission.NewService(st, logger)
	recorder := attribution.NewRecorder(st, ledgerService, publisher, metricsSystem, logger)
	withdrawalService := withdrawal.NewService(st, ledgerService, settingsService, publisher, notifier, metricsSystem, logger)
	headOpsService := headops.NewService(st, notifier, metricsSystem, logger)
	creatorService, err := creator.NewService(st, settingsService, logger)
	if err != nil {
		logger.Fatal("ошибка создания сервиса создателей", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Планировщик: пересчет уровней и сводка по ожидающим заявкам
	tierScheduler := scheduler.NewScheduler(logger)
	tierScheduler.AddJob(scheduler.NewTierSnapshotJob(st, logger))
	go tierScheduler.Start(ctx, cfg.Scheduler.TierSnapshotInterval)

	digestScheduler := scheduler.NewScheduler(logger)
	digestScheduler.AddJob(scheduler.NewPendingDigestJob(st, notifier, metricsSystem, logger))
	go digestScheduler.Start(ctx, cfg.Scheduler.PendingDigestInterval)

	// HTTP API
	server := api.NewServer(api.Services{
		Attribution: recorder,
		Withdrawals: withdrawalService,
		HeadOps:     headOpsService,
		Creators:    creatorService,
		Tiers:       tierService,
		Settings:    settingsService,
	}, api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer), logger)

	paymentWebhook := webhook.NewPaymentWebhookHandler(recorder, cfg.Webhook.SecretKey, logger)
	handler := server.Router(cfg.App.CORSOrigins,
		api.Extra{Path: "/webhooks/payment", Method: http.MethodPost, Handler: http.HandlerFunc(paymentWebhook.HandleWebhook)},
		api.Extra{Path: "/metrics", Method: http.MethodGet, Handler: metricsHandler.MetricsHandler()},
		api.Extra{Path: "/health", Method: http.MethodGet, Handler: http.HandlerFunc(metricsHandler.HealthHandler)},
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP сервер запущен", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("ошибка HTTP сервера", zap.Error(err))
		}
	}()

	// Ожидание сигнала завершения
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("получен сигнал завершения, начинаем graceful shutdown")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ошибка при остановке HTTP сервера", zap.Error(err))
	}

	logger.Info("приложение завершено")
}

// initLogger создает логгер с выводом в консоль и файлы
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	zapConfig := zap.NewDevelopmentConfig()
	if cfg.App.IsProduction() {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = cfg.App.GetLogLevel()
	zapConfig.OutputPaths = []string{"stdout", "logs/app.log"}
	zapConfig.ErrorOutputPaths = []string{"stderr", "logs/error.log"}

	// Создаем директорию для логов если её нет
	if err := os.MkdirAll("logs", 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории логов: %w", err)
	}

	return zapConfig.Build()
}

func initPublisher(cfg *config.Config, logger *zap.Logger) events.Publisher {
	if !cfg.Kafka.Enabled {
		logger.Info("публикация событий в Kafka выключена")
		return events.NopPublisher{}
	}

	publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	if err != nil {
		logger.Fatal("ошибка создания издателя Kafka", zap.Error(err))
	}
	return publisher
}

func initNotifier(cfg *config.Config, logger *zap.Logger) notify.Notifier {
	if !cfg.Telegram.Enabled {
		return notify.NopNotifier{}
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Fatal("ошибка создания бота", zap.Error(err))
	}
	logger.Info("бот уведомлений авторизован", zap.String("username", botAPI.Self.UserName))

	return notify.NewTelegramNotifier(botAPI, cfg.Telegram.AdminChatIDs, logger)
}
