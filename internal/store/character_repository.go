package store

import (
	"context"
	"errors"
	"fmt"

	"story-voice/internal/apperrors"
	"story-voice/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// characterRepository реализует CharacterRepository
type characterRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewCharacterRepository создает новый репозиторий персонажей
func NewCharacterRepository(db *pgxpool.Pool, logger *zap.Logger) CharacterRepository {
	return &characterRepository{
		db:     db,
		logger: logger,
	}
}

// Create добавляет персонажа в сессию
func (r *characterRepository) Create(ctx context.Context, character *models.Character) error {
	if character.ID == "" {
		character.ID = uuid.NewString()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO characters (id, session_id, name, voice_id, voice_name)
		VALUES ($1, $2, $3, $4, $5)`,
		character.ID, character.SessionID, character.Name, character.VoiceID, character.VoiceName,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.Conflict(fmt.Sprintf("персонаж %q уже есть в сессии", character.Name), err)
		}
		return fmt.Errorf("ошибка создания персонажа: %w", err)
	}

	r.logger.Info("персонаж создан",
		zap.String("character_id", character.ID),
		zap.String("session_id", character.SessionID),
		zap.String("name", character.Name))

	return nil
}

// GetByID получает персонажа по ID
func (r *characterRepository) GetByID(ctx context.Context, id string) (*models.Character, error) {
	c := &models.Character{}
	err := r.db.QueryRow(ctx, `
		SELECT id, session_id, name, voice_id, voice_name
		FROM characters WHERE id = $1`, id).Scan(
		&c.ID, &c.SessionID, &c.Name, &c.VoiceID, &c.VoiceName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("персонаж", id)
		}
		return nil, fmt.Errorf("ошибка получения персонажа: %w", err)
	}
	return c, nil
}

// ListBySession возвращает персонажей сессии
func (r *characterRepository) ListBySession(ctx context.Context, sessionID string) ([]models.Character, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, session_id, name, voice_id, voice_name
		FROM characters WHERE session_id = $1
		ORDER BY name ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения персонажей сессии: %w", err)
	}
	defer rows.Close()

	var characters []models.Character
	for rows.Next() {
		var c models.Character
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Name, &c.VoiceID, &c.VoiceName); err != nil {
			r.logger.Error("ошибка сканирования персонажа", zap.Error(err))
			continue
		}
		characters = append(characters, c)
	}

	return characters, rows.Err()
}

// UpdateVoice назначает персонажу новый голос
func (r *characterRepository) UpdateVoice(ctx context.Context, id, voiceID, voiceName string) (*models.Character, error) {
	c := &models.Character{}
	err := r.db.QueryRow(ctx, `
		UPDATE characters SET voice_id = $2, voice_name = $3
		WHERE id = $1
		RETURNING id, session_id, name, voice_id, voice_name`,
		id, voiceID, voiceName,
	).Scan(&c.ID, &c.SessionID, &c.Name, &c.VoiceID, &c.VoiceName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("персонаж", id)
		}
		return nil, fmt.Errorf("ошибка обновления голоса персонажа: %w", err)
	}

	r.logger.Info("голос персонажа обновлен",
		zap.String("character_id", id),
		zap.String("voice_id", voiceID))

	return c, nil
}
