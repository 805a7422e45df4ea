package scheduler

import (
	"context"
	"fmt"
	"time"

	"story-voice/pkg/models"

	"go.uber.org/zap"
)

// StuckRecoverer переводит зависшие в rendering сегменты в error
type StuckRecoverer interface {
	RecoverStuck(ctx context.Context, olderThan time.Duration, dryRun bool) ([]models.Segment, error)
}

// StuckRenderJob возвращает сегменты, зависшие в rendering после падения процесса
type StuckRenderJob struct {
	recoverer StuckRecoverer
	olderThan time.Duration
	logger    *zap.Logger
}

// NewStuckRenderJob создает задачу восстановления зависших сегментов
func NewStuckRenderJob(recoverer StuckRecoverer, olderThan time.Duration, logger *zap.Logger) *StuckRenderJob {
	return &StuckRenderJob{
		recoverer: recoverer,
		olderThan: olderThan,
		logger:    logger,
	}
}

// Name имя задачи для логов
func (j *StuckRenderJob) Name() string {
	return "stuck_render_recovery"
}

// Run запускает восстановление
func (j *StuckRenderJob) Run(ctx context.Context) error {
	recovered, err := j.recoverer.RecoverStuck(ctx, j.olderThan, false)
	if err != nil {
		return fmt.Errorf("ошибка восстановления зависших сегментов: %w", err)
	}

	if len(recovered) > 0 {
		ids := make([]string, 0, len(recovered))
		for _, seg := range recovered {
			ids = append(ids, seg.ID)
		}
		j.logger.Warn("зависшие сегменты переведены в error",
			zap.Int("count", len(recovered)),
			zap.Strings("segment_ids", ids),
			zap.Duration("older_than", j.olderThan))
	}
	return nil
}
