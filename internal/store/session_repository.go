package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"story-voice/internal/apperrors"
	"story-voice/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// sessionRepository реализует SessionRepository
type sessionRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewSessionRepository создает новый репозиторий сессий
func NewSessionRepository(db *pgxpool.Pool, logger *zap.Logger) SessionRepository {
	return &sessionRepository{
		db:     db,
		logger: logger,
	}
}

// Create создает новую сессию истории
func (r *sessionRepository) Create(ctx context.Context, session *models.StorySession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Config == nil {
		session.Config = models.SessionConfig{}
	}
	session.CreatedAt = time.Now()

	_, err := r.db.Exec(ctx, `INSERT INTO story_sessions (id, config, created_at) VALUES ($1, $2, $3)`,
		session.ID, session.Config, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания сессии: %w", err)
	}

	r.logger.Info("сессия создана", zap.String("session_id", session.ID))
	return nil
}

// GetByID получает сессию по ID
func (r *sessionRepository) GetByID(ctx context.Context, id string) (*models.StorySession, error) {
	session := &models.StorySession{}
	err := r.db.QueryRow(ctx, `SELECT id, config, created_at FROM story_sessions WHERE id = $1`, id).Scan(
		&session.ID, &session.Config, &session.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("сессия", id)
		}
		return nil, fmt.Errorf("ошибка получения сессии: %w", err)
	}
	return session, nil
}

// UpdateConfig заменяет настройки сессии
func (r *sessionRepository) UpdateConfig(ctx context.Context, id string, cfg models.SessionConfig) error {
	result, err := r.db.Exec(ctx, `UPDATE story_sessions SET config = $2 WHERE id = $1`, id, cfg)
	if err != nil {
		return fmt.Errorf("ошибка обновления настроек сессии: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NotFound("сессия", id)
	}

	r.logger.Info("настройки сессии обновлены", zap.String("session_id", id))
	return nil
}
