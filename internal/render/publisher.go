package render

import (
	"time"

	"story-voice/pkg/models"
)

// Update уведомление об изменении состояния сегмента
type Update struct {
	SessionID string              `json:"session_id"`
	SegmentID string              `json:"segment_id"`
	Event     Event               `json:"event"`
	Status    models.RenderStatus `json:"status"`
	AudioURL  string              `json:"audio_url,omitempty"`
	Error     string              `json:"error,omitempty"`
	At        time.Time           `json:"at"`
}

// Publisher получает уведомления сервиса рендера
type Publisher interface {
	Publish(update Update)
}

// PublisherFunc адаптер функции к Publisher
type PublisherFunc func(update Update)

// Publish вызывает функцию
func (f PublisherFunc) Publish(update Update) {
	f(update)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Update) {}

func newUpdate(sessionID string, seg models.Segment, event Event) Update {
	return Update{
		SessionID: sessionID,
		SegmentID: seg.ID,
		Event:     event,
		Status:    seg.RenderStatus,
		AudioURL:  seg.AudioURL,
		Error:     seg.RenderError,
		At:        time.Now(),
	}
}
