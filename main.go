package main

import (
	"context"
	"log" // Standard log only for fatal errors before the logger is ready

	"sniperswing/config"
	"sniperswing/internal/adapters/kiteclient"
	"sniperswing/internal/adapters/logger"
	"sniperswing/internal/adapters/onnxscorer"
	"sniperswing/internal/adapters/sqlite"
	"sniperswing/internal/adapters/telegram"
	"sniperswing/internal/app"
	"sniperswing/internal/indicator"
	"sniperswing/internal/lifecycle"
	"sniperswing/internal/metrics"
	"sniperswing/internal/performance"
	"sniperswing/internal/risk"
	"sniperswing/internal/signal"
	"sniperswing/internal/timing"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger, err := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	if err != nil {
		log.Printf("WARN: %v, continuing at info level", err)
	}
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	repo, err := sqlite.NewRepository(ctx, cfg.DBPath, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized", map[string]interface{}{"path": cfg.DBPath})

	kite, err := kiteclient.New(kiteclient.Config{
		APIKey:               cfg.KiteAPIKey,
		AccessToken:          cfg.KiteAccessToken,
		BaseURL:              cfg.KiteBaseURL,
		WSBaseURL:            cfg.KiteWSBaseURL,
		Logger:               appLogger,
		HTTPTimeout:          cfg.HTTPTimeout,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize broker client")
		log.Fatalf("FATAL: Failed to initialize broker client: %v", err)
	}
	appLogger.Info(ctx, "Broker client initialized")

	notifier, err := telegram.New(telegram.Config{
		BotToken: cfg.TelegramBotToken,
		ChatID:   cfg.TelegramChatID,
		Logger:   appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize notifier")
		log.Fatalf("FATAL: Failed to initialize notifier: %v", err)
	}

	scorer, err := onnxscorer.New(onnxscorer.Config{
		ModelPath:   cfg.ScorerModelPath,
		LibraryPath: cfg.ScorerLibraryPath,
		FeatureSize: cfg.ScorerFeatureSize,
		Logger:      appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize scorer")
		log.Fatalf("FATAL: Failed to initialize scorer: %v", err)
	}
	defer scorer.Close()

	engine, err := indicator.NewEngine(cfg.Indicator)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	classifier, err := signal.NewClassifier(cfg.Classifier)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	sizer, err := risk.NewSizer(cfg.Risk)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	tracker, err := performance.NewTracker(cfg.Performance, repo, appLogger)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	calendar, err := timing.NewCalendar(cfg.Timing)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	manager, err := lifecycle.NewManager(cfg.Lifecycle, appLogger, kite, repo, repo, notifier, sizer, tracker, calendar)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize lifecycle manager")
		log.Fatalf("FATAL: Failed to initialize lifecycle manager: %v", err)
	}

	service, err := app.NewService(cfg, appLogger, kite, engine, classifier, scorer,
		manager, tracker, calendar, notifier, metrics.New())
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize engine service")
		log.Fatalf("FATAL: Failed to initialize engine service: %v", err)
	}
	appLogger.Info(ctx, "Engine service initialized", map[string]interface{}{
		"instruments": len(cfg.Instruments),
	})

	if err := service.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Engine service exited with error")
		log.Fatalf("FATAL: Engine service exited with error: %v", err)
	}

	appLogger.Info(ctx, "Application finished gracefully.")
}
