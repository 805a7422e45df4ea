package models

import "time"

// RenderStatus состояние рендера сегмента, хранится в базе как есть
type RenderStatus string

// Состояния жизненного цикла сегмента
const (
	RenderPending   RenderStatus = "pending"
	RenderRendering RenderStatus = "rendering"
	RenderRendered  RenderStatus = "rendered"
	RenderStale     RenderStatus = "stale"
	RenderError     RenderStatus = "error"
)

// IsValid проверяет, что статус входит в жизненный цикл
func (s RenderStatus) IsValid() bool {
	switch s {
	case RenderPending, RenderRendering, RenderRendered, RenderStale, RenderError:
		return true
	default:
		return false
	}
}

// NeedsRender сообщает, должен ли сегмент попасть в массовый рендер.
// Пустой статус считается pending.
func (s RenderStatus) NeedsRender() bool {
	return s == "" || s == RenderPending || s == RenderStale
}

// Типы сегментов
const (
	SegmentNarrator = "narrator"
	SegmentDialogue = "dialogue"
)

// Роли голоса
const (
	VoiceRoleNarrator  = "narrator"
	VoiceRoleCharacter = "character"
)

// Нейтральные параметры подачи
const (
	DefaultEmotion   = "neutral"
	DefaultStability = 0.5
	DefaultStyle     = 0.0
)

// DeliveryParams параметры подачи, реально используемые для синтеза
type DeliveryParams struct {
	Emotion   string  `json:"emotion"`
	Stability float64 `json:"stability"`
	Style     float64 `json:"style"`
}

// Overrides пользовательские параметры подачи, каждое поле опционально
type Overrides struct {
	Emotion   *string  `json:"emotion,omitempty"`
	Stability *float64 `json:"stability,omitempty"`
	Style     *float64 `json:"style,omitempty"`
}

// IsEmpty проверяет, что ни одно поле не задано
func (o *Overrides) IsEmpty() bool {
	return o == nil || (o.Emotion == nil && o.Stability == nil && o.Style == nil)
}

// Merge накладывает частичное обновление поверх текущих значений
func (o *Overrides) Merge(patch Overrides) *Overrides {
	merged := Overrides{}
	if o != nil {
		merged = *o
	}
	if patch.Emotion != nil {
		merged.Emotion = patch.Emotion
	}
	if patch.Stability != nil {
		merged.Stability = patch.Stability
	}
	if patch.Style != nil {
		merged.Style = patch.Style
	}
	return &merged
}

// OverridesUpdate запрос на изменение пользовательских параметров
type OverridesUpdate struct {
	Overrides
	Reset bool `json:"reset,omitempty"`
}

// Segment представляет фрагмент сцены, озвучиваемый одним голосом
type Segment struct {
	ID              string       `json:"id"`
	SceneID         string       `json:"scene_id"`
	Speaker         string       `json:"speaker"`
	Text            string       `json:"text"`
	Type            string       `json:"type"`       // narrator, dialogue
	VoiceRole       string       `json:"voice_role"` // narrator, character
	AIEmotion       string       `json:"ai_emotion,omitempty"`
	AIStability     *float64     `json:"ai_stability,omitempty"`
	AIStyle         *float64     `json:"ai_style,omitempty"`
	UserOverrides   *Overrides   `json:"user_overrides,omitempty"`
	RenderStatus    RenderStatus `json:"render_status"`
	AudioURL        string       `json:"audio_url,omitempty"`
	RenderError     string       `json:"render_error,omitempty"`
	RenderStartedAt *time.Time   `json:"render_started_at,omitempty"`
	RenderedAt      *time.Time   `json:"rendered_at,omitempty"`
}

// Effective возвращает параметры подачи: пользовательские, иначе предложенные AI, иначе нейтральные
func (s *Segment) Effective() DeliveryParams {
	p := DeliveryParams{
		Emotion:   DefaultEmotion,
		Stability: DefaultStability,
		Style:     DefaultStyle,
	}

	if s.AIEmotion != "" {
		p.Emotion = s.AIEmotion
	}
	if s.AIStability != nil {
		p.Stability = *s.AIStability
	}
	if s.AIStyle != nil {
		p.Style = *s.AIStyle
	}

	if o := s.UserOverrides; o != nil {
		if o.Emotion != nil && *o.Emotion != "" {
			p.Emotion = *o.Emotion
		}
		if o.Stability != nil {
			p.Stability = *o.Stability
		}
		if o.Style != nil {
			p.Style = *o.Style
		}
	}

	return p
}

// IsNarrator проверяет, озвучивает ли сегмент рассказчик
func (s *Segment) IsNarrator() bool {
	return s.VoiceRole == VoiceRoleNarrator || s.Speaker == NarratorName
}

// SegmentRenderResult результат рендера одного сегмента в пакете
type SegmentRenderResult struct {
	SegmentID string       `json:"segment_id"`
	Status    RenderStatus `json:"status"`
	AudioURL  string       `json:"audio_url,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Failed сообщает о неуспешном рендере
func (r SegmentRenderResult) Failed() bool {
	return r.Error != "" || r.Status == RenderError
}

// WordTiming временная метка слова из ответа синтеза
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// PreviewAudio одноразовое аудио предпрослушивания, не сохраняется
type PreviewAudio struct {
	SegmentID   string       `json:"segment_id"`
	Audio       []byte       `json:"-"`
	ContentType string       `json:"content_type"`
	WordTimings []WordTiming `json:"word_timings,omitempty"`
}
