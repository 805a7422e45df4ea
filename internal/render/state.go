package render

import (
	"errors"
	"fmt"

	"story-voice/pkg/models"
)

// Event событие жизненного цикла рендера сегмента
type Event string

// События жизненного цикла
const (
	EventRenderRequested  Event = "render_requested"
	EventRenderSucceeded  Event = "render_succeeded"
	EventRenderFailed     Event = "render_failed"
	EventOverridesChanged Event = "overrides_changed"
	EventBatchRolledBack  Event = "batch_rolled_back"
	EventRenderCancelled  Event = "render_cancelled"
	EventRenderAbandoned  Event = "render_abandoned"
)

// ErrInvalidTransition недопустимая пара состояние/событие
var ErrInvalidTransition = errors.New("недопустимый переход состояния рендера")

type transitionKey struct {
	from  models.RenderStatus
	event Event
}

// transitions полная таблица переходов. Пустой статус приводится к pending до поиска.
var transitions = map[transitionKey]models.RenderStatus{
	{models.RenderPending, EventRenderRequested}: models.RenderRendering,
	{models.RenderStale, EventRenderRequested}:   models.RenderRendering,
	{models.RenderError, EventRenderRequested}:   models.RenderRendering,

	{models.RenderRendering, EventRenderSucceeded}: models.RenderRendered,
	{models.RenderRendering, EventRenderFailed}:    models.RenderError,

	{models.RenderRendering, EventBatchRolledBack}: models.RenderPending,
	{models.RenderRendering, EventRenderCancelled}: models.RenderPending,
	{models.RenderRendering, EventRenderAbandoned}: models.RenderError,

	{models.RenderRendered, EventOverridesChanged}:  models.RenderStale,
	{models.RenderPending, EventOverridesChanged}:   models.RenderPending,
	{models.RenderStale, EventOverridesChanged}:     models.RenderStale,
	{models.RenderError, EventOverridesChanged}:     models.RenderError,
	{models.RenderRendering, EventOverridesChanged}: models.RenderRendering,
}

// Transition вычисляет следующее состояние сегмента
func Transition(current models.RenderStatus, event Event) (models.RenderStatus, error) {
	if current == "" {
		current = models.RenderPending
	}
	next, ok := transitions[transitionKey{current, event}]
	if !ok {
		return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, event)
	}
	return next, nil
}
