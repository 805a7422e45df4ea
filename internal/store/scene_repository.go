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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

const sceneColumns = `id, session_id, sequence_index, raw_text, display_text, summary, mood, word_count, dialogue_map, created_at, updated_at`

// sceneRepository реализует SceneRepository
type sceneRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewSceneRepository создает новый репозиторий сцен
func NewSceneRepository(db *pgxpool.Pool, logger *zap.Logger) SceneRepository {
	return &sceneRepository{
		db:     db,
		logger: logger,
	}
}

// Create сохраняет принятую сцену вместе с сегментами. Если bypass задан,
// запись аудита сохраняется в той же транзакции.
func (r *sceneRepository) Create(ctx context.Context, scene *models.Scene, bypass *models.ValidationBypass) error {
	query := `
		INSERT INTO scenes (` + sceneColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	if scene.ID == "" {
		scene.ID = uuid.NewString()
	}
	now := time.Now()
	scene.CreatedAt = now
	scene.UpdatedAt = now
	for i := range scene.DialogueMap.Segments {
		scene.DialogueMap.Segments[i].SceneID = scene.ID
		if scene.DialogueMap.Segments[i].RenderStatus == "" {
			scene.DialogueMap.Segments[i].RenderStatus = models.RenderPending
		}
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, query,
		scene.ID, scene.SessionID, scene.SequenceIndex, scene.RawText, scene.DisplayText,
		scene.Summary, scene.Mood, scene.WordCount, scene.DialogueMap, scene.CreatedAt, scene.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.Conflict(fmt.Sprintf("сцена %d уже существует в сессии %s", scene.SequenceIndex, scene.SessionID), err)
		}
		return fmt.Errorf("ошибка создания сцены: %w", err)
	}

	if bypass != nil {
		if err := insertBypass(ctx, tx, bypass); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	r.logger.Info("сцена сохранена",
		zap.String("scene_id", scene.ID),
		zap.String("session_id", scene.SessionID),
		zap.Int("sequence_index", scene.SequenceIndex),
		zap.Int("segments", len(scene.DialogueMap.Segments)))

	if bypass != nil {
		r.logger.Warn("сцена сохранена в обход проверки",
			zap.Int64("audit_id", bypass.ID),
			zap.String("session_id", bypass.SessionID),
			zap.Int("sequence_index", bypass.SequenceIndex),
			zap.String("actor", bypass.Actor),
			zap.Strings("issues", bypass.Issues))
	}

	return nil
}

// GetBySession возвращает сцены сессии по порядку
func (r *sceneRepository) GetBySession(ctx context.Context, sessionID string) ([]models.Scene, error) {
	query := `SELECT ` + sceneColumns + ` FROM scenes WHERE session_id = $1 ORDER BY sequence_index ASC`

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения сцен сессии: %w", err)
	}
	defer rows.Close()

	var scenes []models.Scene
	for rows.Next() {
		var scene models.Scene
		if err := scanScene(rows, &scene); err != nil {
			return nil, fmt.Errorf("ошибка сканирования сцены: %w", err)
		}
		scenes = append(scenes, scene)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения сцен сессии: %w", err)
	}

	return scenes, nil
}

// GetBySegmentID находит сцену, содержащую сегмент
func (r *sceneRepository) GetBySegmentID(ctx context.Context, segmentID string) (*models.Scene, error) {
	query := `SELECT ` + sceneColumns + ` FROM scenes WHERE dialogue_map->'segments' @> $1::jsonb`

	scene := &models.Scene{}
	if err := scanScene(r.db.QueryRow(ctx, query, segmentFilter(segmentID)), scene); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("сегмент", segmentID)
		}
		return nil, fmt.Errorf("ошибка получения сцены по сегменту: %w", err)
	}
	return scene, nil
}

// UpdateSegment изменяет один сегмент под блокировкой строки сцены
func (r *sceneRepository) UpdateSegment(ctx context.Context, segmentID string, fn SegmentUpdateFunc) (*models.Segment, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + sceneColumns + ` FROM scenes WHERE dialogue_map->'segments' @> $1::jsonb FOR UPDATE`

	scene := &models.Scene{}
	if err := scanScene(tx.QueryRow(ctx, query, segmentFilter(segmentID)), scene); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("сегмент", segmentID)
		}
		return nil, fmt.Errorf("ошибка блокировки сцены: %w", err)
	}

	updated, seg, err := applySegmentUpdate(scene, segmentID, fn)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE scenes SET dialogue_map = $2, updated_at = $3 WHERE id = $1`,
		updated.ID, updated.DialogueMap, time.Now()); err != nil {
		return nil, fmt.Errorf("ошибка обновления сегмента: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	r.logger.Debug("сегмент обновлен",
		zap.String("segment_id", seg.ID),
		zap.String("render_status", string(seg.RenderStatus)))

	return &seg, nil
}

// UpdateSessionSegments изменяет сегменты всех сцен сессии в одной транзакции
func (r *sceneRepository) UpdateSessionSegments(ctx context.Context, sessionID string, fn SegmentsUpdateFunc) ([]models.Segment, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE session_id = $1 ORDER BY sequence_index FOR UPDATE`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ошибка блокировки сцен сессии: %w", err)
	}
	var scenes []models.Scene
	for rows.Next() {
		var scene models.Scene
		if err := scanScene(rows, &scene); err != nil {
			rows.Close()
			return nil, fmt.Errorf("ошибка сканирования сцены: %w", err)
		}
		scenes = append(scenes, scene)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения сцен сессии: %w", err)
	}

	var changed []models.Segment
	now := time.Now()
	for _, scene := range scenes {
		updated, sceneChanged := applySegmentsUpdate(scene, fn)
		if len(sceneChanged) == 0 {
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE scenes SET dialogue_map = $2, updated_at = $3 WHERE id = $1`,
			updated.ID, updated.DialogueMap, now); err != nil {
			return nil, fmt.Errorf("ошибка обновления сцены %s: %w", scene.ID, err)
		}
		changed = append(changed, sceneChanged...)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	r.logger.Info("сегменты сессии обновлены",
		zap.String("session_id", sessionID),
		zap.Int("changed", len(changed)))

	return changed, nil
}

// ListStuckRendering возвращает сегменты, которые находятся в рендере дольше допустимого
func (r *sceneRepository) ListStuckRendering(ctx context.Context, startedBefore time.Time) ([]models.Segment, error) {
	query := `
		SELECT seg
		FROM scenes, jsonb_array_elements(dialogue_map->'segments') AS seg
		WHERE seg->>'render_status' = 'rendering'
		  AND (seg->>'render_started_at' IS NULL OR (seg->>'render_started_at')::timestamptz < $1)`

	rows, err := r.db.Query(ctx, query, startedBefore)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска зависших сегментов: %w", err)
	}
	defer rows.Close()

	var segments []models.Segment
	for rows.Next() {
		var seg models.Segment
		if err := rows.Scan(&seg); err != nil {
			r.logger.Error("ошибка сканирования сегмента", zap.Error(err))
			continue
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения зависших сегментов: %w", err)
	}

	return segments, nil
}

func scanScene(row pgx.Row, scene *models.Scene) error {
	return row.Scan(
		&scene.ID, &scene.SessionID, &scene.SequenceIndex, &scene.RawText, &scene.DisplayText,
		&scene.Summary, &scene.Mood, &scene.WordCount, &scene.DialogueMap, &scene.CreatedAt, &scene.UpdatedAt,
	)
}

// segmentFilter строит условие поиска сегмента по id для оператора @>
func segmentFilter(segmentID string) []map[string]string {
	return []map[string]string{{"id": segmentID}}
}

// applySegmentUpdate заменяет сегмент в копии сцены результатом fn
func applySegmentUpdate(scene *models.Scene, segmentID string, fn SegmentUpdateFunc) (models.Scene, models.Segment, error) {
	i := scene.FindSegment(segmentID)
	if i < 0 {
		return models.Scene{}, models.Segment{}, apperrors.NotFound("сегмент", segmentID)
	}

	seg, err := fn(scene, scene.DialogueMap.Segments[i])
	if err != nil {
		return models.Scene{}, models.Segment{}, err
	}
	seg.ID = segmentID
	seg.SceneID = scene.ID

	return scene.WithSegment(seg), seg, nil
}

// applySegmentsUpdate применяет fn ко всем сегментам сцены и возвращает измененные
func applySegmentsUpdate(scene models.Scene, fn SegmentsUpdateFunc) (models.Scene, []models.Segment) {
	var changed []models.Segment
	for _, seg := range scene.DialogueMap.Segments {
		updated, ok := fn(seg)
		if !ok {
			continue
		}
		updated.ID = seg.ID
		updated.SceneID = scene.ID
		scene = scene.WithSegment(updated)
		changed = append(changed, updated)
	}
	return scene, changed
}
