package audio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"story-voice/pkg/models"

	"go.uber.org/zap"
)

// Store сохраняет отрендеренное аудио и возвращает ссылку на него.
// Delete вызывается для аудио, замененного новым рендером.
type Store interface {
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// FileStore хранит аудио в локальной директории
type FileStore struct {
	root    string
	baseURL string
	logger  *zap.Logger
}

// NewFileStore создает файловое хранилище аудио
func NewFileStore(root, publicBaseURL string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории аудио: %w", err)
	}
	return &FileStore{
		root:    root,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:  logger,
	}, nil
}

// Save записывает аудио атомарно через временный файл
func (s *FileStore) Save(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, err := s.path(key)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.root, ".audio-*")
	if err != nil {
		return "", fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("ошибка записи аудио: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("ошибка закрытия файла аудио: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("ошибка сохранения аудио: %w", err)
	}

	s.logger.Debug("аудио сохранено",
		zap.String("key", key),
		zap.String("content_type", contentType),
		zap.Int("bytes", len(data)))

	return s.baseURL + "/" + key, nil
}

// Delete удаляет аудио, отсутствие файла не считается ошибкой
func (s *FileStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления аудио: %w", err)
	}
	return nil
}

func (s *FileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("недопустимый ключ аудио: %q", key)
	}
	return filepath.Join(s.root, key), nil
}

// Key строит ключ файла из id сегмента, голоса и параметров подачи.
// Один и тот же набор параметров всегда дает один и тот же ключ.
func Key(segmentID, voiceID string, params models.DeliveryParams, contentType string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%.3f|%.3f", segmentID, voiceID, params.Emotion, params.Stability, params.Style)
	sum := hex.EncodeToString(h.Sum(nil))[:16]
	return fmt.Sprintf("%s-%s%s", segmentID, sum, Extension(contentType))
}

// Extension возвращает расширение файла для типа содержимого
func Extension(contentType string) string {
	switch {
	case strings.Contains(contentType, "wav"):
		return ".wav"
	case strings.Contains(contentType, "ogg"):
		return ".ogg"
	default:
		return ".mp3"
	}
}
