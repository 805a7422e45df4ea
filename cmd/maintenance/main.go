package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"story-voice/internal/apperrors"
	"story-voice/internal/audio"
	"story-voice/internal/config"
	"story-voice/internal/migrations"
	"story-voice/internal/render"
	"story-voice/internal/store"
	"story-voice/internal/studio"
	"story-voice/internal/tts"
	"story-voice/internal/usage"

	"go.uber.org/zap"
)

func main() {
	var (
		status        = flag.Bool("migrations-status", false, "Показать статус миграций")
		recoverStuck  = flag.Bool("recover-stuck", false, "Перевести зависшие в rendering сегменты в error")
		olderThan     = flag.Duration("older-than", 0, "Минимальный возраст зависшего рендера (0 = из конфигурации)")
		dryRun        = flag.Bool("dry-run", false, "Показать что будет изменено без фактического изменения")
		renderSession = flag.String("render-session", "", "ID сессии для массового рендера")
	)
	flag.Parse()

	// Инициализация логгера
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Ошибка инициализации логгера:", err)
	}
	defer logger.Sync()

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	if *status {
		if err := migrations.GetMigrationStatus(cfg, logger); err != nil {
			logger.Fatal("Ошибка получения статуса миграций", zap.Error(err))
		}
		return
	}

	if !*recoverStuck && *renderSession == "" {
		flag.Usage()
		os.Exit(2)
	}

	// Подключение к базе данных
	db, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("Ошибка подключения к базе данных", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *recoverStuck {
		age := *olderThan
		if age <= 0 {
			age = cfg.Render.StuckTimeout
		}
		if err := recoverStuckSegments(ctx, db, age, *dryRun, logger); err != nil {
			logger.Fatal("Ошибка восстановления зависших сегментов", zap.Error(err))
		}
	}

	if *renderSession != "" {
		if err := renderAll(ctx, cfg, db, *renderSession, logger); err != nil {
			logger.Fatal("Ошибка массового рендера", zap.Error(err))
		}
	}
}

func recoverStuckSegments(ctx context.Context, db store.Store, olderThan time.Duration, dryRun bool, logger *zap.Logger) error {
	svc := render.NewService(render.Deps{
		Scenes:     db.Scene(),
		Sessions:   db.Session(),
		Characters: db.Character(),
		Logger:     logger,
	})

	segments, err := svc.RecoverStuck(ctx, olderThan, dryRun)
	if err != nil {
		return err
	}

	for _, seg := range segments {
		fields := []zap.Field{zap.String("segment_id", seg.ID), zap.String("scene_id", seg.SceneID)}
		if seg.RenderStartedAt != nil {
			fields = append(fields, zap.Time("render_started_at", *seg.RenderStartedAt))
		}
		if dryRun {
			logger.Info("DRY RUN: сегмент будет переведен в error", fields...)
		} else {
			logger.Info("сегмент переведен в error", fields...)
		}
	}

	logger.Info("Восстановление зависших сегментов завершено",
		zap.Int("count", len(segments)),
		zap.Duration("older_than", olderThan),
		zap.Bool("dry_run", dryRun))
	return nil
}

func renderAll(ctx context.Context, cfg *config.Config, db store.Store, sessionID string, logger *zap.Logger) error {
	synth, quota, err := tts.NewSynthesizer(cfg.TTS, logger)
	if err != nil {
		return err
	}
	audioStore, err := audio.NewFileStore(cfg.Audio.Dir, cfg.Audio.PublicBaseURL, logger)
	if err != nil {
		return err
	}

	svc := render.NewService(render.Deps{
		Scenes:           db.Scene(),
		Sessions:         db.Session(),
		Characters:       db.Character(),
		Synthesizer:      synth,
		Audio:            audioStore,
		Logger:           logger,
		DefaultVoiceID:   cfg.Voice.DefaultVoiceID,
		BatchConcurrency: cfg.Render.BatchConcurrency,
	})
	loader := studio.NewScriptLoader(db.Session(), db.Scene(), db.Character())

	progress := studio.ListenerFunc(func(ev studio.Event) {
		switch ev.Type {
		case studio.EventUsageEstimated:
			logger.Info("оценка расхода квоты",
				zap.Int("estimated_chars", ev.Usage.EstimatedChars),
				zap.Int("remaining_chars", ev.Usage.RemainingChars),
				zap.Bool("quota_known", ev.Usage.QuotaKnown))
		case studio.EventBatchProgress:
			logger.Info("прогресс рендера",
				zap.Int("rendered", ev.Rendered),
				zap.Int("total", ev.Total),
				zap.String("error", ev.Error))
		}
	})

	ctrl := studio.NewController(studio.NewLocalBackend(loader, svc), usage.NewEstimator(quota, cfg.Quota.FallbackMaxChars, logger), progress, logger)
	defer ctrl.Close()

	if _, err := ctrl.FetchScript(ctx, sessionID); err != nil {
		return err
	}

	result, err := ctrl.RenderAll(ctx)
	if err != nil && !apperrors.Is(err, apperrors.KindBulkPartialFailure) {
		return err
	}

	rendered, total := ctrl.Progress()
	logger.Info("Массовый рендер завершен",
		zap.String("session_id", sessionID),
		zap.Int("rendered_now", len(result.Rendered)),
		zap.Int("rendered", rendered),
		zap.Int("total", total),
		zap.NamedError("partial_failure", err))
	return nil
}
