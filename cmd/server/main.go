package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"story-voice/internal/ai"
	"story-voice/internal/api"
	"story-voice/internal/audio"
	"story-voice/internal/config"
	"story-voice/internal/generation"
	"story-voice/internal/metrics"
	"story-voice/internal/migrations"
	"story-voice/internal/render"
	"story-voice/internal/scheduler"
	"story-voice/internal/session"
	"story-voice/internal/store"
	"story-voice/internal/studio"
	"story-voice/internal/tts"
	"story-voice/internal/usage"

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
	logger, err := initLogger(cfg.App)
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("запуск приложения Story Voice", zap.String("env", cfg.App.Env))

	// Применение миграций
	if err := migrations.RunMigrations(cfg, logger); err != nil {
		logger.Fatal("ошибка применения миграций", zap.Error(err))
	}

	// Инициализация базы данных
	db, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации базы данных", zap.Error(err))
	}
	defer db.Close()

	// Инициализация AI клиента
	logger.Info("конфигурация AI",
		zap.String("provider", cfg.AI.Provider),
		zap.String("model", cfg.AI.Model))

	aiClient, err := ai.NewAIClient(cfg.AI, logger)
	if err != nil {
		logger.Fatal("ошибка создания AI клиента", zap.Error(err))
	}

	// Инициализация синтеза речи
	synth, quota, err := tts.NewSynthesizer(cfg.TTS, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации синтеза речи", zap.Error(err))
	}

	audioStore, err := audio.NewFileStore(cfg.Audio.Dir, cfg.Audio.PublicBaseURL, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации хранилища аудио", zap.Error(err))
	}

	// Инициализация метрик
	metricsSystem := metrics.New(logger)
	metricsHandler := metrics.NewHandler(metricsSystem, db.DB(), logger)

	hub := api.NewHub(logger)
	defer hub.Close()

	// Инициализация сервисов
	renderService := render.NewService(render.Deps{
		Scenes:           db.Scene(),
		Sessions:         db.Session(),
		Characters:       db.Character(),
		Synthesizer:      synth,
		Audio:            audioStore,
		Publisher:        hub,
		Metrics:          metricsSystem,
		Logger:           logger,
		DefaultVoiceID:   cfg.Voice.DefaultVoiceID,
		BatchConcurrency: cfg.Render.BatchConcurrency,
	})

	generationService := generation.NewService(
		db.Session(),
		db.Character(),
		db.Scene(),
		aiClient,
		ai.GenerationOptions{Temperature: cfg.AI.Temperature, MaxTokens: cfg.AI.MaxTokens},
		metricsSystem,
		logger,
	)

	sessionService := session.NewService(db.Session(), db.Character(), db.Audit(), logger)
	estimator := usage.NewEstimator(quota, cfg.Quota.FallbackMaxChars, logger)
	loader := studio.NewScriptLoader(db.Session(), db.Scene(), db.Character())

	handler := api.NewHandler(renderService, loader, generationService, sessionService, estimator, hub, logger)
	router := api.NewRouter(handler, metricsHandler, api.RouterConfig{
		Debug:      cfg.App.IsDevelopment(),
		ServeAudio: cfg.Audio.Serve,
		AudioDir:   cfg.Audio.Dir,
		AudioPath:  cfg.Audio.PublicBaseURL,
	}, logger)

	// Инициализация планировщика задач
	taskScheduler := scheduler.NewScheduler(cfg.Render.SweepInterval, logger)
	taskScheduler.AddJob(scheduler.NewStuckRenderJob(renderService, cfg.Render.StuckTimeout, logger))

	// Создание канала для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Обработка сигналов для graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("ошибка HTTP сервера", zap.Error(err))
		}
	}()

	// Запуск восстановления зависших рендеров
	go taskScheduler.Start(ctx, cfg.Render.SweepInterval)

	logger.Info("приложение запущено и готово к работе",
		zap.String("address", fmt.Sprintf("http://localhost:%d", cfg.App.Port)),
		zap.String("tts_provider", cfg.TTS.Provider),
		zap.Int("batch_concurrency", cfg.Render.BatchConcurrency))

	// Ожидание сигнала завершения
	<-sigChan
	logger.Info("получен сигнал завершения, начинаем graceful shutdown")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ошибка при остановке HTTP сервера", zap.Error(err))
	}

	logger.Info("приложение завершено")
}

// initLogger инициализирует логгер
func initLogger(app config.AppConfig) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if app.IsProduction() {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = app.GetLogLevel()
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	if app.LogFile != "" {
		// Создаем директорию для логов если её нет
		if err := os.MkdirAll(filepath.Dir(app.LogFile), 0755); err != nil {
			return nil, fmt.Errorf("ошибка создания директории логов: %w", err)
		}
		cfg.OutputPaths = append(cfg.OutputPaths, app.LogFile)
	}

	return cfg.Build()
}
