package models

import (
	"strings"
	"time"
)

// NarratorName зарезервированное имя рассказчика
const NarratorName = "Narrator"

// Scene представляет одну сгенерированную сцену истории
type Scene struct {
	ID            string      `json:"id" db:"id"`
	SessionID     string      `json:"session_id" db:"session_id"`
	SequenceIndex int         `json:"sequence_index" db:"sequence_index"`
	RawText       string      `json:"raw_text" db:"raw_text"`         // текст с тегами говорящих
	DisplayText   string      `json:"display_text" db:"display_text"` // текст без тегов
	Summary       string      `json:"summary" db:"summary"`
	Mood          string      `json:"mood" db:"mood"`
	WordCount     int         `json:"word_count" db:"word_count"`
	DialogueMap   DialogueMap `json:"dialogue_map" db:"dialogue_map"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// DialogueMap хранит сегменты сцены, сериализуется в JSONB
type DialogueMap struct {
	Segments []Segment `json:"segments"`
}

// FindSegment возвращает индекс сегмента в сцене или -1
func (s *Scene) FindSegment(segmentID string) int {
	for i := range s.DialogueMap.Segments {
		if s.DialogueMap.Segments[i].ID == segmentID {
			return i
		}
	}
	return -1
}

// WithSegment возвращает копию сцены, в которой сегмент заменен новым значением.
// Исходный срез сегментов не изменяется.
func (s Scene) WithSegment(seg Segment) Scene {
	segments := make([]Segment, len(s.DialogueMap.Segments))
	copy(segments, s.DialogueMap.Segments)
	for i := range segments {
		if segments[i].ID == seg.ID {
			segments[i] = seg
		}
	}
	s.DialogueMap = DialogueMap{Segments: segments}
	return s
}

// Character представляет персонажа истории с назначенным голосом
type Character struct {
	ID        string `json:"id" db:"id"`
	SessionID string `json:"session_id" db:"session_id"`
	Name      string `json:"name" db:"name"`
	VoiceID   string `json:"voice_id" db:"voice_id"`
	VoiceName string `json:"voice_name" db:"voice_name"`
}

// MatchesName сравнивает имя персонажа без учета регистра и пробелов по краям
func (c *Character) MatchesName(name string) bool {
	return strings.EqualFold(strings.TrimSpace(c.Name), strings.TrimSpace(name))
}

// SessionConfig настройки сессии истории. Значения могут прийти как bool, так и строкой
// после сериализации, поэтому хранятся нетипизированно.
type SessionConfig map[string]any

// Ключи настроек сессии
const (
	ConfigKeyVoiceID        = "voice_id"
	ConfigKeyHideSpeechTags = "hide_speech_tags"
	ConfigKeyMultiVoice     = "multi_voice"
)

// String возвращает строковое значение настройки
func (c SessionConfig) String(key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// StorySession представляет сессию генерации истории
type StorySession struct {
	ID        string        `json:"id" db:"id"`
	Config    SessionConfig `json:"config" db:"config"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// Script представляет полный сценарий сессии: сцены по порядку и персонажи
type Script struct {
	SessionID  string        `json:"session_id"`
	Config     SessionConfig `json:"config,omitempty"`
	Scenes     []Scene       `json:"scenes"`
	Characters []Character   `json:"characters"`
}

// Segments возвращает все сегменты сценария в порядке сцен
func (s *Script) Segments() []Segment {
	var out []Segment
	for _, scene := range s.Scenes {
		out = append(out, scene.DialogueMap.Segments...)
	}
	return out
}

// ValidationBypass запись аудита принудительного сохранения сцены
type ValidationBypass struct {
	ID            int64     `json:"id" db:"id"`
	SessionID     string    `json:"session_id" db:"session_id"`
	SequenceIndex int       `json:"sequence_index" db:"sequence_index"`
	Actor         string    `json:"actor" db:"actor"`
	Reason        string    `json:"reason" db:"reason"`
	Issues        []string  `json:"issues" db:"issues"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// UsageEstimate оценка расхода квоты синтеза перед массовым рендером
type UsageEstimate struct {
	EstimatedChars int  `json:"estimated_chars"`
	UsedChars      int  `json:"used_chars"`
	MaxChars       int  `json:"max_chars"`
	RemainingChars int  `json:"remaining_chars"`
	QuotaKnown     bool `json:"quota_known"`
}

// Exceeds сообщает, превысит ли рендер оставшуюся квоту
func (u *UsageEstimate) Exceeds() bool {
	return u.MaxChars > 0 && u.EstimatedChars > u.RemainingChars
}
