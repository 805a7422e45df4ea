package store

import (
	"context"
	"fmt"
	"time"

	"story-voice/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// auditRepository реализует AuditRepository
type auditRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewAuditRepository создает журнал принудительных сохранений
func NewAuditRepository(db *pgxpool.Pool, logger *zap.Logger) AuditRepository {
	return &auditRepository{
		db:     db,
		logger: logger,
	}
}

// rowQuerier общий для пула и транзакции метод
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// insertBypass записывает сохранение сцены в обход проверки
func insertBypass(ctx context.Context, q rowQuerier, bypass *models.ValidationBypass) error {
	query := `
		INSERT INTO validation_bypasses (session_id, sequence_index, actor, reason, issues, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	bypass.CreatedAt = time.Now()
	err := q.QueryRow(ctx, query,
		bypass.SessionID, bypass.SequenceIndex, bypass.Actor, bypass.Reason, bypass.Issues, bypass.CreatedAt,
	).Scan(&bypass.ID)
	if err != nil {
		return fmt.Errorf("ошибка записи в журнал аудита: %w", err)
	}
	return nil
}

// ListBypasses возвращает записи аудита по сессии, новые первыми
func (r *auditRepository) ListBypasses(ctx context.Context, sessionID string) ([]models.ValidationBypass, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, session_id, sequence_index, actor, reason, issues, created_at
		FROM validation_bypasses
		WHERE session_id = $1
		ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала аудита: %w", err)
	}
	defer rows.Close()

	var out []models.ValidationBypass
	for rows.Next() {
		var b models.ValidationBypass
		if err := rows.Scan(&b.ID, &b.SessionID, &b.SequenceIndex, &b.Actor, &b.Reason, &b.Issues, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи аудита: %w", err)
		}
		out = append(out, b)
	}

	return out, rows.Err()
}
