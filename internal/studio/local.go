package studio

import (
	"context"
	"fmt"

	"story-voice/pkg/models"
)

// SessionRepository интерфейс для работы с сессиями
type SessionRepository interface {
	GetByID(ctx context.Context, id string) (*models.StorySession, error)
}

// SceneRepository интерфейс для чтения сцен
type SceneRepository interface {
	GetBySession(ctx context.Context, sessionID string) ([]models.Scene, error)
}

// CharacterRepository интерфейс для чтения персонажей
type CharacterRepository interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.Character, error)
}

// ScriptLoader собирает сценарий сессии из хранилища
type ScriptLoader struct {
	sessions   SessionRepository
	scenes     SceneRepository
	characters CharacterRepository
}

// NewScriptLoader создает загрузчик сценариев
func NewScriptLoader(sessions SessionRepository, scenes SceneRepository, characters CharacterRepository) *ScriptLoader {
	return &ScriptLoader{
		sessions:   sessions,
		scenes:     scenes,
		characters: characters,
	}
}

// Load возвращает сцены сессии по порядку и ее персонажей
func (l *ScriptLoader) Load(ctx context.Context, sessionID string) (*models.Script, error) {
	session, err := l.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	scenes, err := l.scenes.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки сцен: %w", err)
	}
	characters, err := l.characters.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки персонажей: %w", err)
	}

	if scenes == nil {
		scenes = []models.Scene{}
	}
	if characters == nil {
		characters = []models.Character{}
	}

	return &models.Script{
		SessionID:  session.ID,
		Config:     session.Config,
		Scenes:     scenes,
		Characters: characters,
	}, nil
}

// Loader загружает сценарий сессии
type Loader interface {
	Load(ctx context.Context, sessionID string) (*models.Script, error)
}

// LocalBackend выполняет операции контроллера в том же процессе
type LocalBackend struct {
	Renderer
	loader Loader
}

// NewLocalBackend создает backend поверх сервиса рендера
func NewLocalBackend(loader Loader, renderer Renderer) *LocalBackend {
	return &LocalBackend{Renderer: renderer, loader: loader}
}

// FetchScript загружает сценарий сессии
func (b *LocalBackend) FetchScript(ctx context.Context, sessionID string) (*models.Script, error) {
	return b.loader.Load(ctx, sessionID)
}
