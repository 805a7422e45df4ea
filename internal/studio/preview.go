package studio

import (
	"fmt"
	"io"
	"os"
	"sync"

	"story-voice/pkg/models"
)

// PreviewHandle временный файл с аудио предпрослушивания.
// Файл удаляется при Release, повторный вызов безопасен.
type PreviewHandle struct {
	SegmentID   string
	ContentType string
	WordTimings []models.WordTiming

	path string
	once sync.Once
	mu   sync.Mutex
	done bool
}

func newPreviewHandle(preview *models.PreviewAudio) (*PreviewHandle, error) {
	f, err := os.CreateTemp("", "preview-*")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания файла предпрослушивания: %w", err)
	}
	if _, err := f.Write(preview.Audio); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("ошибка записи предпрослушивания: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("ошибка закрытия файла предпрослушивания: %w", err)
	}

	return &PreviewHandle{
		SegmentID:   preview.SegmentID,
		ContentType: preview.ContentType,
		WordTimings: preview.WordTimings,
		path:        f.Name(),
	}, nil
}

// Path возвращает путь к временному файлу
func (h *PreviewHandle) Path() string {
	return h.path
}

// Open открывает аудио для воспроизведения
func (h *PreviewHandle) Open() (io.ReadCloser, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return nil, fmt.Errorf("предпрослушивание %s уже освобождено", h.SegmentID)
	}
	return os.Open(h.path)
}

// Release удаляет временный файл
func (h *PreviewHandle) Release() {
	h.once.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.done = true
		_ = os.Remove(h.path)
	})
}

// Released сообщает, освобожден ли ресурс
func (h *PreviewHandle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}
