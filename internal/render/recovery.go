package render

import (
	"context"
	"fmt"
	"time"

	"story-voice/pkg/models"

	"go.uber.org/zap"
)

// abandonedMessage текст ошибки для зависших рендеров
const abandonedMessage = "рендер прерван: результат синтеза не получен"

// RecoverStuck переводит в error сегменты, которые висят в rendering дольше olderThan
// и не рендерятся этим процессом. При dryRun только возвращает найденные сегменты.
func (s *Service) RecoverStuck(ctx context.Context, olderThan time.Duration, dryRun bool) ([]models.Segment, error) {
	stuck, err := s.scenes.ListStuckRendering(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска зависших рендеров: %w", err)
	}

	var candidates []models.Segment
	for _, seg := range stuck {
		if s.inFlight.Has(seg.ID) {
			continue
		}
		candidates = append(candidates, seg)
	}

	if dryRun || len(candidates) == 0 {
		return candidates, nil
	}

	var recovered []models.Segment
	for _, seg := range candidates {
		var sessionID string
		updated, err := s.scenes.UpdateSegment(ctx, seg.ID, func(scene *models.Scene, current models.Segment) (models.Segment, error) {
			sessionID = scene.SessionID
			next, err := Transition(current.RenderStatus, EventRenderAbandoned)
			if err != nil {
				return current, err
			}
			current.RenderStatus = next
			current.RenderError = abandonedMessage
			return current, nil
		})
		if err != nil {
			// Сегмент мог завершиться между выборкой и блокировкой
			s.logger.Warn("не удалось восстановить зависший рендер",
				zap.String("segment_id", seg.ID),
				zap.Error(err))
			continue
		}

		s.publisher.Publish(newUpdate(sessionID, *updated, EventRenderAbandoned))
		recovered = append(recovered, *updated)
	}

	s.metrics.RecordStuckRecovered(len(recovered))
	s.logger.Info("зависшие рендеры восстановлены",
		zap.Int("found", len(stuck)),
		zap.Int("recovered", len(recovered)))

	return recovered, nil
}
