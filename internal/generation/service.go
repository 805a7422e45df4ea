package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"story-voice/internal/ai"
	"story-voice/internal/apperrors"
	"story-voice/internal/dialogue"
	"story-voice/internal/metrics"
	"story-voice/internal/validator"
	"story-voice/internal/voice"
	"story-voice/pkg/models"

	"go.uber.org/zap"
)

// Итоги проверки сцены для метрик
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultBypassed = "bypassed"
)

// SessionRepository интерфейс для работы с сессиями
type SessionRepository interface {
	GetByID(ctx context.Context, id string) (*models.StorySession, error)
}

// CharacterRepository интерфейс для работы с персонажами
type CharacterRepository interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.Character, error)
}

// SceneRepository интерфейс для сохранения сцен. Запись аудита, если она есть,
// сохраняется вместе со сценой или не сохраняется вовсе.
type SceneRepository interface {
	Create(ctx context.Context, scene *models.Scene, bypass *models.ValidationBypass) error
}

// Bypass явное разрешение сохранить сцену, не прошедшую проверку
type Bypass struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// AcceptRequest запрос на сохранение сгенерированной сцены
type AcceptRequest struct {
	SessionID     string  `json:"session_id"`
	SequenceIndex int     `json:"sequence_index"`
	RawText       string  `json:"raw_text"`
	DisplayText   string  `json:"display_text,omitempty"`
	Summary       string  `json:"summary,omitempty"`
	Mood          string  `json:"mood,omitempty"`
	Bypass        *Bypass `json:"bypass,omitempty"`
}

// GenerateRequest запрос на генерацию и сохранение сцены
type GenerateRequest struct {
	SessionID     string                `json:"session_id"`
	SequenceIndex int                   `json:"sequence_index"`
	Messages      []ai.Message          `json:"messages"`
	Options       *ai.GenerationOptions `json:"options,omitempty"`
	Summary       string                `json:"summary,omitempty"`
	Mood          string                `json:"mood,omitempty"`
	Bypass        *Bypass               `json:"bypass,omitempty"`
}

// AcceptResult сохраненная сцена и итог проверки
type AcceptResult struct {
	Scene      *models.Scene     `json:"scene"`
	MultiVoice bool              `json:"multi_voice"`
	Bypassed   bool              `json:"bypassed"`
	Issues     []validator.Issue `json:"issues,omitempty"`
}

// Service принимает сгенерированный текст: проверяет, размечает сегменты и сохраняет
type Service struct {
	sessions   SessionRepository
	characters CharacterRepository
	scenes     SceneRepository
	client     ai.AIClient
	builder    *dialogue.Builder
	options    ai.GenerationOptions
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewService создает новый сервис генерации сцен
func NewService(
	sessions SessionRepository,
	characters CharacterRepository,
	scenes SceneRepository,
	client ai.AIClient,
	options ai.GenerationOptions,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		sessions:   sessions,
		characters: characters,
		scenes:     scenes,
		client:     client,
		builder:    dialogue.NewBuilder(logger),
		options:    options,
		metrics:    m,
		logger:     logger,
	}
}

// AcceptScene проверяет текст сцены и сохраняет ее. Сцена с ошибками проверки
// сохраняется только при явном Bypass, который записывается в журнал.
func (s *Service) AcceptScene(ctx context.Context, req AcceptRequest) (*AcceptResult, error) {
	if err := validateAcceptRequest(req); err != nil {
		return nil, err
	}

	session, err := s.sessions.GetByID(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	characters, err := s.characters.ListBySession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения персонажей: %w", err)
	}

	display := req.DisplayText
	if strings.TrimSpace(display) == "" {
		if voice.ResolveHideSpeechTags(session.Config) {
			display = dialogue.StripSpeakerTags(req.RawText)
		} else {
			display = req.RawText
		}
	}
	multiVoice := voice.ResolveMultiVoice(session.Config, len(characters) > 0)

	result := &AcceptResult{MultiVoice: multiVoice}
	wordCount := 0
	var bypass *models.ValidationBypass

	validation, err := validator.Validate(req.RawText, display, validator.Options{MultiVoice: multiVoice})
	if err != nil {
		var verr *validator.ValidationError
		if !errors.As(err, &verr) {
			return nil, err
		}

		if req.Bypass == nil {
			s.recordValidation(ResultRejected, verr.Codes())
			s.logger.Warn("сцена отклонена проверкой",
				zap.String("session_id", req.SessionID),
				zap.Int("sequence_index", req.SequenceIndex),
				zap.Strings("issues", verr.Codes()),
				zap.String("preview", verr.Preview))
			return nil, err
		}

		bypass = &models.ValidationBypass{
			SessionID:     req.SessionID,
			SequenceIndex: req.SequenceIndex,
			Actor:         strings.TrimSpace(req.Bypass.Actor),
			Reason:        strings.TrimSpace(req.Bypass.Reason),
			Issues:        verr.Codes(),
		}
		result.Bypassed = true
		result.Issues = verr.Issues
		wordCount = len(strings.Fields(display))
	} else {
		s.recordValidation(ResultAccepted, nil)
		wordCount = validation.WordCount
	}

	var voiced []models.Character
	if multiVoice {
		voiced = characters
	}
	segments := s.builder.BuildSegments(req.RawText, voiced)

	scene := &models.Scene{
		SessionID:     req.SessionID,
		SequenceIndex: req.SequenceIndex,
		RawText:       req.RawText,
		DisplayText:   display,
		Summary:       strings.TrimSpace(req.Summary),
		Mood:          strings.TrimSpace(req.Mood),
		WordCount:     wordCount,
		DialogueMap:   models.DialogueMap{Segments: segments},
	}
	if err := s.scenes.Create(ctx, scene, bypass); err != nil {
		return nil, err
	}
	if bypass != nil {
		s.recordValidation(ResultBypassed, bypass.Issues)
	}

	s.logger.Info("сцена принята",
		zap.String("scene_id", scene.ID),
		zap.String("session_id", scene.SessionID),
		zap.Int("sequence_index", scene.SequenceIndex),
		zap.Int("segments", len(segments)),
		zap.Bool("multi_voice", multiVoice),
		zap.Bool("bypassed", result.Bypassed))

	result.Scene = scene
	return result, nil
}

// GenerateScene запрашивает текст у AI и передает его в AcceptScene
func (s *Service) GenerateScene(ctx context.Context, req GenerateRequest) (*AcceptResult, error) {
	if len(req.Messages) == 0 {
		return nil, apperrors.BadRequest("нет сообщений для генерации",
			apperrors.Detail{Field: "messages", Message: "обязательное поле"})
	}

	options := s.options
	if req.Options != nil {
		options = *req.Options
	}

	start := time.Now()
	resp, err := s.client.GenerateResponse(ctx, req.Messages, options)
	if s.metrics != nil {
		s.metrics.RecordAIRequest(s.client.GetName(), err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		switch {
		case errors.Is(err, ai.ErrDisabled):
			return nil, apperrors.New(apperrors.KindBadRequest, "генерация текста отключена", err)
		case ctx.Err() != nil:
			return nil, apperrors.Aborted(err)
		default:
			return nil, fmt.Errorf("ошибка генерации сцены: %w", err)
		}
	}

	if resp.Truncated() {
		s.logger.Warn("ответ AI обрезан лимитом токенов",
			zap.String("session_id", req.SessionID),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens))
	}

	return s.AcceptScene(ctx, AcceptRequest{
		SessionID:     req.SessionID,
		SequenceIndex: req.SequenceIndex,
		RawText:       resp.Content,
		Summary:       req.Summary,
		Mood:          req.Mood,
		Bypass:        req.Bypass,
	})
}

func (s *Service) recordValidation(result string, codes []string) {
	if s.metrics != nil {
		s.metrics.RecordValidation(result, codes)
	}
}

func validateAcceptRequest(req AcceptRequest) error {
	var details []apperrors.Detail
	if strings.TrimSpace(req.SessionID) == "" {
		details = append(details, apperrors.Detail{Field: "session_id", Message: "обязательное поле"})
	}
	if req.SequenceIndex < 0 {
		details = append(details, apperrors.Detail{Field: "sequence_index", Message: "не может быть отрицательным"})
	}
	if strings.TrimSpace(req.RawText) == "" {
		details = append(details, apperrors.Detail{Field: "raw_text", Message: "обязательное поле"})
	}
	if b := req.Bypass; b != nil {
		if strings.TrimSpace(b.Actor) == "" {
			details = append(details, apperrors.Detail{Field: "bypass.actor", Message: "обязательное поле"})
		}
		if strings.TrimSpace(b.Reason) == "" {
			details = append(details, apperrors.Detail{Field: "bypass.reason", Message: "обязательное поле"})
		}
	}
	if len(details) > 0 {
		return apperrors.BadRequest("некорректный запрос сцены", details...)
	}
	return nil
}
