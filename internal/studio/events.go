package studio

import "story-voice/pkg/models"

// EventType тип события контроллера
type EventType string

// События контроллера
const (
	EventScriptLoaded    EventType = "script_loaded"
	EventLoadFailed      EventType = "load_failed"
	EventSegmentUpdated  EventType = "segment_updated"
	EventSegmentFailed   EventType = "segment_failed"
	EventUsageEstimated  EventType = "usage_estimated"
	EventBatchStarted    EventType = "batch_started"
	EventBatchProgress   EventType = "batch_progress"
	EventBatchFinished   EventType = "batch_finished"
	EventBatchRolledBack EventType = "batch_rolled_back"
)

// Event уведомление для слушателя контроллера
type Event struct {
	Type      EventType             `json:"type"`
	SessionID string                `json:"session_id"`
	Segment   *models.Segment       `json:"segment,omitempty"`
	Usage     *models.UsageEstimate `json:"usage,omitempty"`
	Rendered  int                   `json:"rendered"`
	Total     int                   `json:"total"`
	Error     string                `json:"error,omitempty"`
}

// Listener получает события контроллера. Вызывается вне блокировки контроллера.
type Listener interface {
	OnEvent(event Event)
}

// ListenerFunc адаптер функции к Listener
type ListenerFunc func(event Event)

// OnEvent вызывает функцию
func (f ListenerFunc) OnEvent(event Event) {
	f(event)
}

type nopListener struct{}

func (nopListener) OnEvent(Event) {}
