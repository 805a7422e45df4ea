package render

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"story-voice/internal/apperrors"
	"story-voice/internal/audio"
	"story-voice/internal/metrics"
	"story-voice/internal/store"
	"story-voice/internal/tts"
	"story-voice/internal/voice"
	"story-voice/pkg/models"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Режимы рендера для метрик
const (
	ModeSingle  = "single"
	ModeBatch   = "batch"
	ModePreview = "preview"
)

const defaultBatchConcurrency = 3

// SceneRepository интерфейс для работы со сценами
type SceneRepository interface {
	GetBySegmentID(ctx context.Context, segmentID string) (*models.Scene, error)
	UpdateSegment(ctx context.Context, segmentID string, fn store.SegmentUpdateFunc) (*models.Segment, error)
	UpdateSessionSegments(ctx context.Context, sessionID string, fn store.SegmentsUpdateFunc) ([]models.Segment, error)
	ListStuckRendering(ctx context.Context, startedBefore time.Time) ([]models.Segment, error)
}

// SessionRepository интерфейс для работы с сессиями
type SessionRepository interface {
	GetByID(ctx context.Context, id string) (*models.StorySession, error)
}

// CharacterRepository интерфейс для работы с персонажами
type CharacterRepository interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.Character, error)
	UpdateVoice(ctx context.Context, id, voiceID, voiceName string) (*models.Character, error)
}

// Deps зависимости сервиса рендера
type Deps struct {
	Scenes           SceneRepository
	Sessions         SessionRepository
	Characters       CharacterRepository
	Synthesizer      tts.Synthesizer
	Audio            audio.Store
	InFlight         *InFlight
	Publisher        Publisher
	Metrics          *metrics.Metrics
	Logger           *zap.Logger
	DefaultVoiceID   string
	BatchConcurrency int
}

// Service управляет рендером сегментов
type Service struct {
	scenes       SceneRepository
	sessions     SessionRepository
	characters   CharacterRepository
	synth        tts.Synthesizer
	audio        audio.Store
	inFlight     *InFlight
	publisher    Publisher
	metrics      *metrics.Metrics
	logger       *zap.Logger
	defaultVoice string
	concurrency  int
}

// NewService создает новый сервис рендера
func NewService(deps Deps) *Service {
	s := &Service{
		scenes:       deps.Scenes,
		sessions:     deps.Sessions,
		characters:   deps.Characters,
		synth:        deps.Synthesizer,
		audio:        deps.Audio,
		inFlight:     deps.InFlight,
		publisher:    deps.Publisher,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		defaultVoice: deps.DefaultVoiceID,
		concurrency:  deps.BatchConcurrency,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.inFlight == nil {
		s.inFlight = NewInFlight()
	}
	if s.publisher == nil {
		s.publisher = nopPublisher{}
	}
	if s.metrics == nil {
		s.metrics = metrics.New(s.logger)
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultBatchConcurrency
	}
	return s
}

// InFlight возвращает множество сегментов в рендере
func (s *Service) InFlight() *InFlight {
	return s.inFlight
}

// UpdateOverrides сохраняет пользовательские параметры подачи или сбрасывает их.
// Отрендеренный сегмент становится stale в той же транзакции.
func (s *Service) UpdateOverrides(ctx context.Context, segmentID string, update models.OverridesUpdate) (*models.Segment, error) {
	if err := validateOverrides(update); err != nil {
		return nil, err
	}

	var sessionID string
	seg, err := s.scenes.UpdateSegment(ctx, segmentID, func(scene *models.Scene, seg models.Segment) (models.Segment, error) {
		sessionID = scene.SessionID

		if update.Reset {
			seg.UserOverrides = nil
		} else {
			seg.UserOverrides = seg.UserOverrides.Merge(update.Overrides)
		}

		next, err := Transition(seg.RenderStatus, EventOverridesChanged)
		if err != nil {
			return seg, apperrors.New(apperrors.KindInvalidTransition, "нельзя изменить параметры сегмента", err)
		}
		seg.RenderStatus = next
		return seg, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("параметры подачи обновлены",
		zap.String("segment_id", segmentID),
		zap.Bool("reset", update.Reset),
		zap.String("render_status", string(seg.RenderStatus)))

	s.publisher.Publish(newUpdate(sessionID, *seg, EventOverridesChanged))
	return seg, nil
}

// Preview синтезирует сегмент с текущими параметрами, не меняя статус рендера
func (s *Service) Preview(ctx context.Context, segmentID string) (*models.PreviewAudio, error) {
	scene, err := s.scenes.GetBySegmentID(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	i := scene.FindSegment(segmentID)
	if i < 0 {
		return nil, apperrors.NotFound("сегмент", segmentID)
	}
	seg := scene.DialogueMap.Segments[i]

	voiceID, err := s.voiceFor(ctx, scene.SessionID, seg)
	if err != nil {
		return nil, err
	}

	result, err := s.synthesize(ctx, seg, voiceID)
	s.metrics.RecordRender(ModePreview, err == nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Aborted(err)
		}
		return nil, apperrors.SynthesisFailed(segmentID, err)
	}

	return &models.PreviewAudio{
		SegmentID:   segmentID,
		Audio:       result.Audio,
		ContentType: result.ContentType,
		WordTimings: result.WordTimings,
	}, nil
}

// Render озвучивает один сегмент. Повторов внутри нет, повтор всегда инициирует вызывающий.
func (s *Service) Render(ctx context.Context, segmentID string) (*models.Segment, error) {
	if !s.acquire(segmentID) {
		return nil, apperrors.Conflict(fmt.Sprintf("рендер сегмента %s уже выполняется", segmentID), nil)
	}
	defer s.release(segmentID)

	seg, err := s.renderOne(ctx, segmentID, EventRenderFailed)
	s.metrics.RecordRender(ModeSingle, err == nil)
	return seg, err
}

// RenderBatch озвучивает сегменты независимо друг от друга с ограниченным параллелизмом.
// Неудачные сегменты возвращаются в pending с сохраненной ошибкой. onSettled вызывается
// по мере завершения каждого сегмента, вызовы не пересекаются.
func (s *Service) RenderBatch(ctx context.Context, segmentIDs []string, onSettled func(models.SegmentRenderResult)) ([]models.SegmentRenderResult, error) {
	ids := uniqueIDs(segmentIDs)
	if len(ids) == 0 {
		return nil, apperrors.BadRequest("пустой список сегментов",
			apperrors.Detail{Field: "segment_ids", Message: "нужен хотя бы один сегмент"})
	}

	s.metrics.RecordBatch(len(ids))
	s.logger.Info("запуск массового рендера", zap.Int("segments", len(ids)))

	var (
		mu      sync.Mutex
		errs    error
		failed  int
		results = make([]models.SegmentRenderResult, len(ids))
	)

	settle := func(i int, res models.SegmentRenderResult, err error) {
		mu.Lock()
		defer mu.Unlock()
		results[i] = res
		if err != nil {
			failed++
			errs = multierr.Append(errs, fmt.Errorf("сегмент %s: %w", res.SegmentID, err))
		}
		if onSettled != nil {
			onSettled(res)
		}
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if !s.acquire(id) {
				err := apperrors.Conflict("рендер сегмента уже выполняется", nil)
				settle(i, models.SegmentRenderResult{SegmentID: id, Status: models.RenderRendering, Error: err.Error()}, err)
				return nil
			}
			defer s.release(id)

			seg, err := s.renderOne(ctx, id, EventBatchRolledBack)
			s.metrics.RecordRender(ModeBatch, err == nil)
			settle(i, resultFor(id, seg, err), err)
			return nil
		})
	}
	_ = g.Wait()

	if errs != nil {
		s.logger.Warn("массовый рендер завершен с ошибками",
			zap.Int("failed", failed),
			zap.Int("total", len(ids)),
			zap.Error(errs))
		return results, apperrors.New(apperrors.KindBulkPartialFailure,
			fmt.Sprintf("не удалось озвучить %d из %d сегментов", failed, len(ids)), errs)
	}

	s.logger.Info("массовый рендер завершен", zap.Int("segments", len(ids)))
	return results, nil
}

// ChangeCharacterVoice меняет голос персонажа. Отрендеренные реплики персонажа становятся stale.
func (s *Service) ChangeCharacterVoice(ctx context.Context, characterID, voiceID, voiceName string) (*models.Character, []models.Segment, error) {
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		return nil, nil, apperrors.BadRequest("не указан голос",
			apperrors.Detail{Field: "voice_id", Message: "обязательное поле"})
	}

	character, err := s.characters.UpdateVoice(ctx, characterID, voiceID, strings.TrimSpace(voiceName))
	if err != nil {
		return nil, nil, err
	}

	changed, err := s.scenes.UpdateSessionSegments(ctx, character.SessionID, func(seg models.Segment) (models.Segment, bool) {
		if seg.VoiceRole != models.VoiceRoleCharacter || !character.MatchesName(seg.Speaker) {
			return seg, false
		}
		next, err := Transition(seg.RenderStatus, EventOverridesChanged)
		if err != nil || next == seg.RenderStatus {
			return seg, false
		}
		seg.RenderStatus = next
		return seg, true
	})
	if err != nil {
		return character, nil, fmt.Errorf("ошибка пометки реплик персонажа: %w", err)
	}

	s.logger.Info("голос персонажа изменен",
		zap.String("character_id", characterID),
		zap.String("voice_id", voiceID),
		zap.Int("stale_segments", len(changed)))

	for _, seg := range changed {
		s.publisher.Publish(newUpdate(character.SessionID, seg, EventOverridesChanged))
	}

	return character, changed, nil
}

// renderOne проводит сегмент через rendering до итогового состояния.
// failEvent определяет, куда попадает сегмент при ошибке синтеза.
func (s *Service) renderOne(ctx context.Context, segmentID string, failEvent Event) (*models.Segment, error) {
	var scene models.Scene
	started, err := s.scenes.UpdateSegment(ctx, segmentID, func(sc *models.Scene, seg models.Segment) (models.Segment, error) {
		next, err := Transition(seg.RenderStatus, EventRenderRequested)
		if err != nil {
			return seg, apperrors.New(apperrors.KindInvalidTransition,
				fmt.Sprintf("сегмент в состоянии %s нельзя отправить в рендер", seg.RenderStatus), err)
		}
		scene = *sc
		now := time.Now()
		seg.RenderStatus = next
		seg.RenderError = ""
		seg.RenderStartedAt = &now
		return seg, nil
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(newUpdate(scene.SessionID, *started, EventRenderRequested))

	url, err := s.produce(ctx, scene.SessionID, *started)
	if err != nil {
		event := failEvent
		if ctx.Err() != nil {
			event = EventRenderCancelled
		}
		s.logger.Error("ошибка рендера сегмента",
			zap.String("segment_id", segmentID),
			zap.String("event", string(event)),
			zap.Error(err))

		if _, ferr := s.finish(context.WithoutCancel(ctx), scene.SessionID, segmentID, event, outcome{err: err.Error()}); ferr != nil {
			s.logger.Error("ошибка сохранения результата рендера", zap.String("segment_id", segmentID), zap.Error(ferr))
		}
		if event == EventRenderCancelled {
			return nil, apperrors.Aborted(err)
		}
		return nil, apperrors.SynthesisFailed(segmentID, err)
	}

	seg, err := s.finish(context.WithoutCancel(ctx), scene.SessionID, segmentID, EventRenderSucceeded,
		outcome{audioURL: url, params: started.Effective()})
	if err != nil {
		return nil, err
	}

	s.logger.Info("сегмент озвучен",
		zap.String("segment_id", segmentID),
		zap.String("audio_url", url))

	if prev := started.AudioURL; prev != "" && prev != url {
		s.dropAudio(context.WithoutCancel(ctx), segmentID, prev)
	}

	return seg, nil
}

// produce синтезирует сегмент и сохраняет аудио
func (s *Service) produce(ctx context.Context, sessionID string, seg models.Segment) (string, error) {
	voiceID, err := s.voiceFor(ctx, sessionID, seg)
	if err != nil {
		return "", err
	}

	result, err := s.synthesize(ctx, seg, voiceID)
	if err != nil {
		return "", err
	}

	key := audio.Key(seg.ID, voiceID, seg.Effective(), result.ContentType)
	url, err := s.audio.Save(ctx, key, result.Audio, result.ContentType)
	if err != nil {
		return "", fmt.Errorf("ошибка сохранения аудио: %w", err)
	}
	return url, nil
}

// outcome итог синтеза, который сохраняется в сегмент
type outcome struct {
	audioURL string
	err      string
	// params параметры подачи, с которыми было синтезировано аудио
	params   models.DeliveryParams
}

// finish применяет итоговое событие к сегменту. Если параметры подачи изменились
// во время рендера, аудио сохраняется, но сегмент становится stale.
func (s *Service) finish(ctx context.Context, sessionID, segmentID string, event Event, out outcome) (*models.Segment, error) {
	outdated := false
	seg, err := s.scenes.UpdateSegment(ctx, segmentID, func(_ *models.Scene, seg models.Segment) (models.Segment, error) {
		next, err := Transition(seg.RenderStatus, event)
		if err != nil {
			return seg, apperrors.New(apperrors.KindInvalidTransition,
				fmt.Sprintf("сегмент в состоянии %s нельзя завершить событием %s", seg.RenderStatus, event), err)
		}
		seg.RenderStatus = next
		seg.RenderError = out.err
		if event == EventRenderSucceeded {
			now := time.Now()
			seg.AudioURL = out.audioURL
			seg.RenderedAt = &now

			outdated = seg.Effective() != out.params
			if outdated {
				if seg.RenderStatus, err = Transition(seg.RenderStatus, EventOverridesChanged); err != nil {
					return seg, err
				}
			}
		}
		return seg, nil
	})
	if err != nil {
		return nil, err
	}

	if outdated {
		s.logger.Info("параметры подачи изменились во время рендера, сегмент устарел",
			zap.String("segment_id", segmentID),
			zap.String("render_status", string(seg.RenderStatus)))
	}

	s.publisher.Publish(newUpdate(sessionID, *seg, event))
	return seg, nil
}

func (s *Service) synthesize(ctx context.Context, seg models.Segment, voiceID string) (*tts.SynthesisResult, error) {
	params := seg.Effective()
	start := time.Now()

	result, err := s.synth.Synthesize(ctx, tts.SynthesisRequest{
		Text:      seg.Text,
		VoiceID:   voiceID,
		Emotion:   params.Emotion,
		Stability: params.Stability,
		Style:     params.Style,
	})
	s.metrics.RecordSynthesis(err == nil, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return result, nil
}

// voiceFor выбирает голос сегмента по настройкам сессии и персонажам
func (s *Service) voiceFor(ctx context.Context, sessionID string, seg models.Segment) (string, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("ошибка получения сессии: %w", err)
	}
	characters, err := s.characters.ListBySession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("ошибка получения персонажей: %w", err)
	}

	narrator := voice.ResolveVoice(voice.VoiceChoice{
		SessionConfigVoiceID: session.Config.String(models.ConfigKeyVoiceID),
		DefaultVoiceID:       s.defaultVoice,
	})
	if seg.IsNarrator() || !voice.ResolveMultiVoice(session.Config, len(characters) > 0) {
		return narrator, nil
	}
	return voice.NewIndex(characters, narrator).VoiceFor(seg.Speaker), nil
}

// dropAudio удаляет аудио, замененное новым рендером. Ошибка только логируется.
func (s *Service) dropAudio(ctx context.Context, segmentID, audioURL string) {
	if err := s.audio.Delete(ctx, path.Base(audioURL)); err != nil {
		s.logger.Warn("не удалось удалить устаревшее аудио",
			zap.String("segment_id", segmentID),
			zap.String("audio_url", audioURL),
			zap.Error(err))
	}
}

func (s *Service) acquire(id string) bool {
	ok := s.inFlight.TryAcquire(id)
	if ok {
		s.metrics.SetInFlight(s.inFlight.Len())
	}
	return ok
}

func (s *Service) release(id string) {
	s.inFlight.Release(id)
	s.metrics.SetInFlight(s.inFlight.Len())
}

func resultFor(id string, seg *models.Segment, err error) models.SegmentRenderResult {
	if err != nil {
		status := models.RenderPending
		if errors.Is(err, ErrInvalidTransition) {
			status = ""
		}
		return models.SegmentRenderResult{SegmentID: id, Status: status, Error: err.Error()}
	}
	return models.SegmentRenderResult{SegmentID: id, Status: seg.RenderStatus, AudioURL: seg.AudioURL}
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func validateOverrides(update models.OverridesUpdate) error {
	if update.Reset {
		return nil
	}
	if update.Overrides.IsEmpty() {
		return apperrors.BadRequest("нет изменяемых параметров",
			apperrors.Detail{Field: "overrides", Message: "укажите emotion, stability, style или reset"})
	}

	var details []apperrors.Detail
	if v := update.Stability; v != nil && (*v < 0 || *v > 1) {
		details = append(details, apperrors.Detail{Field: "stability", Message: "значение должно быть от 0 до 1"})
	}
	if v := update.Style; v != nil && (*v < 0 || *v > 1) {
		details = append(details, apperrors.Detail{Field: "style", Message: "значение должно быть от 0 до 1"})
	}
	if len(details) > 0 {
		return apperrors.BadRequest("некорректные параметры подачи", details...)
	}
	return nil
}
