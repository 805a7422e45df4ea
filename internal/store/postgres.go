package store

import (
	"context"
	"fmt"
	"time"

	"story-voice/internal/config"
	"story-voice/pkg/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store представляет интерфейс для работы с базой данных
type Store interface {
	Session() SessionRepository
	Scene() SceneRepository
	Character() CharacterRepository
	Audit() AuditRepository
	DB() *pgxpool.Pool
	Close() error
}

// store реализует интерфейс Store
type store struct {
	db        *pgxpool.Pool
	logger    *zap.Logger
	session   SessionRepository
	scene     SceneRepository
	character CharacterRepository
	audit     AuditRepository
}

// SessionRepository интерфейс для работы с сессиями истории
type SessionRepository interface {
	Create(ctx context.Context, session *models.StorySession) error
	GetByID(ctx context.Context, id string) (*models.StorySession, error)
	UpdateConfig(ctx context.Context, id string, cfg models.SessionConfig) error
}

// SegmentUpdateFunc вычисляет новое значение сегмента внутри транзакции.
// Сцена передается только для чтения.
type SegmentUpdateFunc func(scene *models.Scene, seg models.Segment) (models.Segment, error)

// SegmentsUpdateFunc обновляет сегменты сессии пачкой; changed=false оставляет сегмент как есть
type SegmentsUpdateFunc func(seg models.Segment) (updated models.Segment, changed bool)

// SceneRepository интерфейс для работы со сценами и их сегментами
type SceneRepository interface {
	Create(ctx context.Context, scene *models.Scene, bypass *models.ValidationBypass) error
	GetBySession(ctx context.Context, sessionID string) ([]models.Scene, error)
	GetBySegmentID(ctx context.Context, segmentID string) (*models.Scene, error)
	UpdateSegment(ctx context.Context, segmentID string, fn SegmentUpdateFunc) (*models.Segment, error)
	UpdateSessionSegments(ctx context.Context, sessionID string, fn SegmentsUpdateFunc) ([]models.Segment, error)
	ListStuckRendering(ctx context.Context, startedBefore time.Time) ([]models.Segment, error)
}

// CharacterRepository интерфейс для работы с персонажами
type CharacterRepository interface {
	Create(ctx context.Context, character *models.Character) error
	GetByID(ctx context.Context, id string) (*models.Character, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.Character, error)
	UpdateVoice(ctx context.Context, id, voiceID, voiceName string) (*models.Character, error)
}

// AuditRepository интерфейс для журнала принудительных сохранений
type AuditRepository interface {
	ListBypasses(ctx context.Context, sessionID string) ([]models.ValidationBypass, error)
}

// NewStore создает новое подключение к базе данных
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Создание пула подключений
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка проверки подключения к базе данных: %w", err)
	}

	logger.Info("успешное подключение к базе данных PostgreSQL",
		zap.String("host", cfg.Database.Host),
		zap.Int32("max_conns", poolConfig.MaxConns))

	s := &store{
		db:     db,
		logger: logger,
	}

	// Инициализация репозиториев
	s.session = NewSessionRepository(db, logger)
	s.scene = NewSceneRepository(db, logger)
	s.character = NewCharacterRepository(db, logger)
	s.audit = NewAuditRepository(db, logger)

	return s, nil
}

// Session возвращает репозиторий сессий
func (s *store) Session() SessionRepository {
	return s.session
}

// Scene возвращает репозиторий сцен
func (s *store) Scene() SceneRepository {
	return s.scene
}

// Character возвращает репозиторий персонажей
func (s *store) Character() CharacterRepository {
	return s.character
}

// Audit возвращает журнал принудительных сохранений
func (s *store) Audit() AuditRepository {
	return s.audit
}

// DB возвращает подключение к базе данных
func (s *store) DB() *pgxpool.Pool {
	return s.db
}

// Close закрывает подключение к базе данных
func (s *store) Close() error {
	s.logger.Info("закрытие подключения к базе данных")
	s.db.Close()
	return nil
}
