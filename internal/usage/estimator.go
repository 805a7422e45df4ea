package usage

import (
	"context"
	"unicode/utf8"

	"story-voice/internal/apperrors"
	"story-voice/internal/tts"
	"story-voice/pkg/models"

	"go.uber.org/zap"
)

// Estimator оценивает расход квоты синтеза перед массовым рендером.
// Оценка носит справочный характер и ничего не блокирует.
type Estimator struct {
	source   tts.QuotaSource
	fallback int
	logger   *zap.Logger
}

// NewEstimator создает оценщик. source может быть nil, если провайдер не сообщает квоту.
func NewEstimator(source tts.QuotaSource, fallbackMaxChars int, logger *zap.Logger) *Estimator {
	return &Estimator{
		source:   source,
		fallback: fallbackMaxChars,
		logger:   logger,
	}
}

// Estimate считает символы сегментов и сопоставляет их с квотой провайдера
func (e *Estimator) Estimate(ctx context.Context, pending []models.Segment) (*models.UsageEstimate, error) {
	estimate := &models.UsageEstimate{
		EstimatedChars: CountChars(pending),
		MaxChars:       e.fallback,
	}

	if e.source != nil {
		quota, err := e.source.Quota(ctx)
		switch {
		case err == nil:
			estimate.UsedChars = quota.UsedChars
			estimate.MaxChars = quota.MaxChars
			estimate.QuotaKnown = true
		case ctx.Err() != nil:
			return nil, apperrors.Aborted(err)
		default:
			e.logger.Warn("квота провайдера недоступна, используется резервный лимит",
				zap.Int("fallback_max_chars", e.fallback),
				zap.Error(err))
		}
	}

	estimate.RemainingChars = estimate.MaxChars - estimate.UsedChars
	if estimate.RemainingChars < 0 {
		estimate.RemainingChars = 0
	}

	e.logger.Debug("оценка расхода квоты",
		zap.Int("estimated_chars", estimate.EstimatedChars),
		zap.Int("remaining_chars", estimate.RemainingChars),
		zap.Bool("quota_known", estimate.QuotaKnown))

	return estimate, nil
}

// CountChars суммирует длину текста сегментов в символах
func CountChars(segments []models.Segment) int {
	total := 0
	for _, seg := range segments {
		total += utf8.RuneCountInString(seg.Text)
	}
	return total
}
