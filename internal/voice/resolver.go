package voice

import (
	"strings"

	"story-voice/pkg/models"
)

// DefaultVoiceID голос рассказчика, если ничего не задано
const DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

// VoiceChoice источники голоса по приоритету
type VoiceChoice struct {
	ExplicitVoiceID      string
	SessionConfigVoiceID string
	DefaultVoiceID       string
}

// ResolveVoice выбирает голос: явный, затем из настроек сессии, затем по умолчанию.
// Всегда возвращает непустой идентификатор.
func ResolveVoice(choice VoiceChoice) string {
	if v := strings.TrimSpace(choice.ExplicitVoiceID); v != "" {
		return v
	}
	if v := strings.TrimSpace(choice.SessionConfigVoiceID); v != "" {
		return v
	}
	if v := strings.TrimSpace(choice.DefaultVoiceID); v != "" {
		return v
	}
	return DefaultVoiceID
}

// ResolveHideSpeechTags включено ли скрытие тегов говорящих.
// Принимает как bool, так и строку "true".
func ResolveHideSpeechTags(cfg models.SessionConfig) bool {
	enabled, ok := flag(cfg, models.ConfigKeyHideSpeechTags)
	return ok && enabled
}

// ResolveMultiVoice включен ли многоголосый режим. Явное false имеет приоритет,
// затем явное true, иначе режим включается при наличии персонажей.
func ResolveMultiVoice(cfg models.SessionConfig, hasCharacters bool) bool {
	enabled, ok := flag(cfg, models.ConfigKeyMultiVoice)
	if ok {
		return enabled
	}
	return hasCharacters
}

// flag читает булеву настройку; ok=false, если значение не задано или не распознано
func flag(cfg models.SessionConfig, key string) (value bool, ok bool) {
	raw, exists := cfg[key]
	if !exists || raw == nil {
		return false, false
	}
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}
