package session

import (
	"context"
	"fmt"
	"strings"

	"story-voice/internal/apperrors"
	"story-voice/pkg/models"

	"go.uber.org/zap"
)

// SessionRepository интерфейс для работы с сессиями
type SessionRepository interface {
	Create(ctx context.Context, session *models.StorySession) error
	GetByID(ctx context.Context, id string) (*models.StorySession, error)
	UpdateConfig(ctx context.Context, id string, cfg models.SessionConfig) error
}

// CharacterRepository интерфейс для работы с персонажами
type CharacterRepository interface {
	Create(ctx context.Context, character *models.Character) error
	GetByID(ctx context.Context, id string) (*models.Character, error)
}

// AuditRepository журнал сцен, сохраненных в обход проверки
type AuditRepository interface {
	ListBypasses(ctx context.Context, sessionID string) ([]models.ValidationBypass, error)
}

// CharacterRequest запрос на добавление персонажа
type CharacterRequest struct {
	Name      string `json:"name"`
	VoiceID   string `json:"voice_id"`
	VoiceName string `json:"voice_name"`
}

// Service управляет сессиями истории и их персонажами
type Service struct {
	sessions   SessionRepository
	characters CharacterRepository
	audit      AuditRepository
	logger     *zap.Logger
}

// NewService создает новый сервис сессий
func NewService(sessions SessionRepository, characters CharacterRepository, audit AuditRepository, logger *zap.Logger) *Service {
	return &Service{
		sessions:   sessions,
		characters: characters,
		audit:      audit,
		logger:     logger,
	}
}

// CreateSession создает сессию с настройками
func (s *Service) CreateSession(ctx context.Context, cfg models.SessionConfig) (*models.StorySession, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	session := &models.StorySession{Config: cfg}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// UpdateConfig заменяет настройки сессии и возвращает ее новое состояние
func (s *Service) UpdateConfig(ctx context.Context, sessionID string, cfg models.SessionConfig) (*models.StorySession, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = models.SessionConfig{}
	}
	if err := s.sessions.UpdateConfig(ctx, sessionID, cfg); err != nil {
		return nil, err
	}
	return s.sessions.GetByID(ctx, sessionID)
}

// AddCharacter добавляет персонажа в сессию
func (s *Service) AddCharacter(ctx context.Context, sessionID string, req CharacterRequest) (*models.Character, error) {
	var details []apperrors.Detail
	if strings.TrimSpace(req.Name) == "" {
		details = append(details, apperrors.Detail{Field: "name", Message: "обязательное поле"})
	} else if strings.EqualFold(strings.TrimSpace(req.Name), models.NarratorName) {
		details = append(details, apperrors.Detail{Field: "name", Message: "имя зарезервировано за рассказчиком"})
	}
	if strings.TrimSpace(req.VoiceID) == "" {
		details = append(details, apperrors.Detail{Field: "voice_id", Message: "обязательное поле"})
	}
	if len(details) > 0 {
		return nil, apperrors.BadRequest("некорректный запрос персонажа", details...)
	}

	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}

	character := &models.Character{
		SessionID: sessionID,
		Name:      strings.TrimSpace(req.Name),
		VoiceID:   strings.TrimSpace(req.VoiceID),
		VoiceName: strings.TrimSpace(req.VoiceName),
	}
	if err := s.characters.Create(ctx, character); err != nil {
		return nil, err
	}
	return character, nil
}

// GetCharacter возвращает персонажа по id
func (s *Service) GetCharacter(ctx context.Context, id string) (*models.Character, error) {
	return s.characters.GetByID(ctx, id)
}

// ListBypasses возвращает журнал принудительных сохранений сессии
func (s *Service) ListBypasses(ctx context.Context, sessionID string) ([]models.ValidationBypass, error) {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}

	bypasses, err := s.audit.ListBypasses(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if bypasses == nil {
		bypasses = []models.ValidationBypass{}
	}

	s.logger.Debug("журнал аудита прочитан",
		zap.String("session_id", sessionID),
		zap.Int("records", len(bypasses)))

	return bypasses, nil
}

// validateConfig проверяет типы известных ключей; флаги принимаются как bool или "true"/"false"
func validateConfig(cfg models.SessionConfig) error {
	var details []apperrors.Detail
	for _, key := range []string{models.ConfigKeyHideSpeechTags, models.ConfigKeyMultiVoice} {
		switch v := cfg[key].(type) {
		case nil, bool:
		case string:
			if s := strings.ToLower(strings.TrimSpace(v)); s != "true" && s != "false" {
				details = append(details, apperrors.Detail{Field: key, Message: fmt.Sprintf("ожидается true или false, получено %q", v)})
			}
		default:
			details = append(details, apperrors.Detail{Field: key, Message: "ожидается логическое значение"})
		}
	}
	if v, ok := cfg[models.ConfigKeyVoiceID]; ok && v != nil {
		if _, isString := v.(string); !isString {
			details = append(details, apperrors.Detail{Field: models.ConfigKeyVoiceID, Message: "ожидается строка"})
		}
	}
	if len(details) > 0 {
		return apperrors.BadRequest("некорректные настройки сессии", details...)
	}
	return nil
}
