package studio

import (
	"context"
	"fmt"
	"sync"

	"story-voice/internal/apperrors"
	"story-voice/internal/render"
	"story-voice/pkg/models"

	"go.uber.org/zap"
)

// Renderer операции над сегментами, которые выполняет сервер
type Renderer interface {
	UpdateOverrides(ctx context.Context, segmentID string, update models.OverridesUpdate) (*models.Segment, error)
	Render(ctx context.Context, segmentID string) (*models.Segment, error)
	RenderBatch(ctx context.Context, segmentIDs []string, onSettled func(models.SegmentRenderResult)) ([]models.SegmentRenderResult, error)
	Preview(ctx context.Context, segmentID string) (*models.PreviewAudio, error)
	ChangeCharacterVoice(ctx context.Context, characterID, voiceID, voiceName string) (*models.Character, []models.Segment, error)
}

// Backend серверные операции, которые вызывает контроллер
type Backend interface {
	Renderer
	FetchScript(ctx context.Context, sessionID string) (*models.Script, error)
}

// UsageEstimator оценивает расход квоты
type UsageEstimator interface {
	Estimate(ctx context.Context, pending []models.Segment) (*models.UsageEstimate, error)
}

// RenderAllResult итог массового рендера
type RenderAllResult struct {
	Rendered []models.Segment             `json:"rendered"`
	Results  []models.SegmentRenderResult `json:"results"`
	Usage    *models.UsageEstimate        `json:"usage,omitempty"`
}

// Controller держит загруженный сценарий и проводит операции над сегментами.
// Состояние меняется только заменой сегмента в копии среза сцен.
type Controller struct {
	backend  Backend
	usage    UsageEstimator
	listener Listener
	inFlight *render.InFlight
	logger   *zap.Logger

	mu          sync.Mutex
	script      *models.Script
	fetchSeq    uint64
	cancelFetch context.CancelFunc
	previewSeq  uint64
	preview     *PreviewHandle
}

// NewController создает контроллер. listener и usage могут быть nil.
func NewController(backend Backend, usage UsageEstimator, listener Listener, logger *zap.Logger) *Controller {
	if listener == nil {
		listener = nopListener{}
	}
	return &Controller{
		backend:  backend,
		usage:    usage,
		listener: listener,
		inFlight: render.NewInFlight(),
		logger:   logger,
	}
}

// Script возвращает текущий снимок сценария. Снимок не изменяется после публикации.
func (c *Controller) Script() *models.Script {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.script
}

// Segment возвращает текущее состояние сегмента
func (c *Controller) Segment(segmentID string) (models.Segment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return findSegment(c.script, segmentID)
}

// FetchScript загружает сценарий сессии. Новый вызов отменяет предыдущий незавершенный,
// отмененный вызов возвращает TransportAborted и не меняет состояние.
func (c *Controller) FetchScript(ctx context.Context, sessionID string) (*models.Script, error) {
	c.mu.Lock()
	if c.cancelFetch != nil {
		c.cancelFetch()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	c.fetchSeq++
	seq := c.fetchSeq
	c.cancelFetch = cancel
	c.mu.Unlock()
	defer cancel()

	script, err := c.backend.FetchScript(fetchCtx, sessionID)

	c.mu.Lock()
	if seq != c.fetchSeq {
		c.mu.Unlock()
		c.logger.Debug("загрузка сценария вытеснена более новой", zap.String("session_id", sessionID))
		return nil, apperrors.Aborted(context.Canceled)
	}
	c.cancelFetch = nil
	if err != nil {
		c.mu.Unlock()
		if fetchCtx.Err() != nil {
			return nil, apperrors.Aborted(err)
		}
		c.emit(Event{Type: EventLoadFailed, SessionID: sessionID, Error: err.Error()})
		return nil, err
	}
	c.script = script
	c.mu.Unlock()

	rendered, total := countRendered(script)
	c.logger.Info("сценарий загружен",
		zap.String("session_id", sessionID),
		zap.Int("scenes", len(script.Scenes)),
		zap.Int("segments", total))
	c.emit(Event{Type: EventScriptLoaded, SessionID: sessionID, Rendered: rendered, Total: total})

	return script, nil
}

// UpdateSegmentOverrides сохраняет параметры подачи и заменяет сегмент ответом сервера
func (c *Controller) UpdateSegmentOverrides(ctx context.Context, segmentID string, update models.OverridesUpdate) (*models.Segment, error) {
	seg, err := c.backend.UpdateOverrides(ctx, segmentID, update)
	if err != nil {
		return nil, err
	}
	c.replace(*seg)
	return seg, nil
}

// RenderSegment озвучивает один сегмент с оптимистичным переводом в rendering
func (c *Controller) RenderSegment(ctx context.Context, segmentID string) (*models.Segment, error) {
	if !c.inFlight.TryAcquire(segmentID) {
		return nil, apperrors.Conflict(fmt.Sprintf("рендер сегмента %s уже выполняется", segmentID), nil)
	}
	defer c.inFlight.Release(segmentID)

	prev, ok := c.Segment(segmentID)
	if !ok {
		return nil, apperrors.NotFound("сегмент", segmentID)
	}
	optimistic, err := withTransition(prev, render.EventRenderRequested)
	if err != nil {
		return nil, apperrors.New(apperrors.KindInvalidTransition, "сегмент нельзя отправить в рендер", err)
	}
	c.replace(optimistic)

	seg, err := c.backend.Render(ctx, segmentID)
	if err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindTransportAborted:
			restored, _ := withTransition(optimistic, render.EventRenderCancelled)
			c.replace(restored)
			return nil, err
		case apperrors.KindSynthesisFailed:
			failed, _ := withTransition(optimistic, render.EventRenderFailed)
			failed.RenderError = err.Error()
			c.replace(failed)
		default:
			c.replace(prev)
		}
		c.emitSegment(EventSegmentFailed, segmentID, err)
		return nil, err
	}

	c.replace(*seg)
	return seg, nil
}

// PreviewSegment синтезирует предпрослушивание. Предыдущий handle освобождается до начала нового.
// Результат, пришедший после более нового запроса, отбрасывается с TransportAborted.
func (c *Controller) PreviewSegment(ctx context.Context, segmentID string) (*PreviewHandle, error) {
	c.mu.Lock()
	c.previewSeq++
	seq := c.previewSeq
	c.mu.Unlock()
	c.releasePreview()

	audio, err := c.backend.Preview(ctx, segmentID)
	if err != nil {
		if !apperrors.IsAborted(err) && c.currentPreview(seq) {
			c.emitSegment(EventSegmentFailed, segmentID, err)
		}
		return nil, err
	}
	if !c.currentPreview(seq) {
		c.logger.Debug("предпрослушивание вытеснено более новым", zap.String("segment_id", segmentID))
		return nil, apperrors.Aborted(context.Canceled)
	}

	handle, err := newPreviewHandle(audio)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if seq != c.previewSeq {
		c.mu.Unlock()
		handle.Release()
		return nil, apperrors.Aborted(context.Canceled)
	}
	if c.preview != nil {
		c.preview.Release()
	}
	c.preview = handle
	c.mu.Unlock()

	return handle, nil
}

func (c *Controller) currentPreview(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return seq == c.previewSeq
}

// ChangeCharacterVoice меняет голос персонажа и применяет измененные сегменты
func (c *Controller) ChangeCharacterVoice(ctx context.Context, characterID, voiceID, voiceName string) (*models.Character, error) {
	character, changed, err := c.backend.ChangeCharacterVoice(ctx, characterID, voiceID, voiceName)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.script != nil {
		next := *c.script
		next.Characters = make([]models.Character, len(c.script.Characters))
		copy(next.Characters, c.script.Characters)
		for i := range next.Characters {
			if next.Characters[i].ID == character.ID {
				next.Characters[i] = *character
			}
		}
		c.script = &next
	}
	c.mu.Unlock()

	for _, seg := range changed {
		c.replace(seg)
	}
	return character, nil
}

// UsageEstimate оценивает расход квоты для сегментов, ожидающих рендера
func (c *Controller) UsageEstimate(ctx context.Context) (*models.UsageEstimate, error) {
	script := c.Script()
	if script == nil {
		return nil, errNotLoaded()
	}
	if c.usage == nil {
		return nil, apperrors.New(apperrors.KindInternal, "оценка квоты недоступна", nil)
	}
	return c.usage.Estimate(ctx, pendingSegments(script, nil))
}

// RenderAll отправляет все сегменты в статусе pending, stale или без статуса одним пакетом.
// Сегменты оптимистично переводятся в rendering. При отказе всего вызова пакет
// откатывается в pending, иначе статус применяется по каждому сегменту отдельно,
// неудачные сегменты возвращаются в pending.
func (c *Controller) RenderAll(ctx context.Context) (*RenderAllResult, error) {
	script := c.Script()
	if script == nil {
		return nil, errNotLoaded()
	}

	candidates := pendingSegments(script, c.inFlight)
	if len(candidates) == 0 {
		return &RenderAllResult{}, nil
	}

	result := &RenderAllResult{}
	if c.usage != nil {
		estimate, err := c.usage.Estimate(ctx, candidates)
		switch {
		case err == nil:
			result.Usage = estimate
			if estimate.Exceeds() {
				c.logger.Warn("оценка превышает оставшуюся квоту, рендер продолжается",
					zap.Int("estimated_chars", estimate.EstimatedChars),
					zap.Int("remaining_chars", estimate.RemainingChars))
			}
			c.emit(Event{Type: EventUsageEstimated, SessionID: script.SessionID, Usage: estimate})
		case apperrors.IsAborted(err):
			return nil, err
		default:
			c.logger.Warn("не удалось оценить расход квоты", zap.Error(err))
		}
	}

	var ids []string
	for _, seg := range candidates {
		if !c.inFlight.TryAcquire(seg.ID) {
			continue
		}
		ids = append(ids, seg.ID)
	}
	defer func() {
		for _, id := range ids {
			c.inFlight.Release(id)
		}
	}()
	if len(ids) == 0 {
		return result, nil
	}

	c.update(ids, func(seg models.Segment) models.Segment {
		next, err := withTransition(seg, render.EventRenderRequested)
		if err != nil {
			return seg
		}
		return next
	})
	rendered, total := c.Progress()
	c.emit(Event{Type: EventBatchStarted, SessionID: script.SessionID, Rendered: rendered, Total: total})

	results, err := c.backend.RenderBatch(ctx, ids, func(res models.SegmentRenderResult) {
		c.applyResult(res)
		rendered, total := c.Progress()
		seg, _ := c.Segment(res.SegmentID)
		c.emit(Event{Type: EventBatchProgress, SessionID: script.SessionID, Segment: &seg, Rendered: rendered, Total: total, Error: res.Error})
	})

	if results == nil && err != nil {
		c.update(ids, rollback)
		rendered, total := c.Progress()
		c.emit(Event{Type: EventBatchRolledBack, SessionID: script.SessionID, Rendered: rendered, Total: total, Error: err.Error()})
		c.logger.Error("массовый рендер не выполнен, пакет откатан",
			zap.Int("segments", len(ids)),
			zap.Error(err))
		return nil, err
	}

	seen := make(map[string]bool, len(results))
	failed := 0
	for _, res := range results {
		seen[res.SegmentID] = true
		c.applyResult(res)
		if res.Failed() {
			failed++
		}
	}
	var missing []string
	for _, id := range ids {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		failed += len(missing)
		c.update(missing, rollback)
	}

	result.Results = results
	for _, id := range ids {
		if seg, ok := c.Segment(id); ok && seg.RenderStatus == models.RenderRendered {
			result.Rendered = append(result.Rendered, seg)
		}
	}

	rendered, total = c.Progress()
	c.emit(Event{Type: EventBatchFinished, SessionID: script.SessionID, Rendered: rendered, Total: total})
	c.logger.Info("массовый рендер завершен",
		zap.Int("requested", len(ids)),
		zap.Int("rendered", len(result.Rendered)),
		zap.Int("failed", failed))

	if failed > 0 {
		if err == nil {
			err = fmt.Errorf("нет результата для %d сегментов", len(missing))
		}
		return result, apperrors.New(apperrors.KindBulkPartialFailure,
			fmt.Sprintf("не удалось озвучить %d из %d сегментов", failed, len(ids)), err)
	}
	return result, nil
}

// Progress возвращает число отрендеренных сегментов и общее число по текущему сценарию
func (c *Controller) Progress() (rendered, total int) {
	return countRendered(c.Script())
}

// Close отменяет незавершенную загрузку и освобождает предпрослушивание
func (c *Controller) Close() {
	c.mu.Lock()
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}
	c.mu.Unlock()
	c.releasePreview()
}

func (c *Controller) releasePreview() {
	c.mu.Lock()
	handle := c.preview
	c.preview = nil
	c.mu.Unlock()
	if handle != nil {
		handle.Release()
	}
}

// applyResult применяет результат сервера к сегменту по id
func (c *Controller) applyResult(res models.SegmentRenderResult) {
	c.update([]string{res.SegmentID}, func(seg models.Segment) models.Segment {
		if res.Failed() {
			seg = rollback(seg)
			seg.RenderError = res.Error
			return seg
		}
		seg.RenderStatus = res.Status
		seg.AudioURL = res.AudioURL
		seg.RenderError = ""
		return seg
	})
}

// replace подменяет сегмент целиком
func (c *Controller) replace(seg models.Segment) {
	c.update([]string{seg.ID}, func(models.Segment) models.Segment { return seg })
}

// update строит новый снимок сценария, заменяя указанные сегменты результатом fn
func (c *Controller) update(ids []string, fn func(models.Segment) models.Segment) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.script == nil {
		return
	}

	next := *c.script
	next.Scenes = make([]models.Scene, len(c.script.Scenes))
	copy(next.Scenes, c.script.Scenes)
	for i, scene := range next.Scenes {
		for _, seg := range scene.DialogueMap.Segments {
			if want[seg.ID] {
				scene = scene.WithSegment(fn(seg))
			}
		}
		next.Scenes[i] = scene
	}
	c.script = &next
}

func (c *Controller) emitSegment(t EventType, segmentID string, err error) {
	seg, _ := c.Segment(segmentID)
	sessionID := ""
	if script := c.Script(); script != nil {
		sessionID = script.SessionID
	}
	ev := Event{Type: t, SessionID: sessionID, Segment: &seg}
	if err != nil {
		ev.Error = err.Error()
	}
	c.emit(ev)
}

func (c *Controller) emit(ev Event) {
	c.listener.OnEvent(ev)
}

// rollback возвращает сегмент из rendering в pending
func rollback(seg models.Segment) models.Segment {
	next, err := withTransition(seg, render.EventBatchRolledBack)
	if err != nil {
		seg.RenderStatus = models.RenderPending
		return seg
	}
	return next
}

func withTransition(seg models.Segment, event render.Event) (models.Segment, error) {
	next, err := render.Transition(seg.RenderStatus, event)
	if err != nil {
		return seg, err
	}
	seg.RenderStatus = next
	return seg, nil
}

func findSegment(script *models.Script, segmentID string) (models.Segment, bool) {
	if script == nil {
		return models.Segment{}, false
	}
	for _, scene := range script.Scenes {
		if i := scene.FindSegment(segmentID); i >= 0 {
			return scene.DialogueMap.Segments[i], true
		}
	}
	return models.Segment{}, false
}

// pendingSegments отбирает сегменты для рендера, пропуская уже выполняющиеся
func pendingSegments(script *models.Script, inFlight *render.InFlight) []models.Segment {
	var out []models.Segment
	for _, seg := range script.Segments() {
		if !seg.RenderStatus.NeedsRender() {
			continue
		}
		if inFlight != nil && inFlight.Has(seg.ID) {
			continue
		}
		out = append(out, seg)
	}
	return out
}

func countRendered(script *models.Script) (rendered, total int) {
	if script == nil {
		return 0, 0
	}
	for _, seg := range script.Segments() {
		total++
		if seg.RenderStatus == models.RenderRendered {
			rendered++
		}
	}
	return rendered, total
}

func errNotLoaded() error {
	return apperrors.BadRequest("сценарий не загружен")
}
