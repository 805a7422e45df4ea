package voice

import (
	"strings"

	"story-voice/pkg/models"
)

// Index поиск персонажей по имени без учета регистра
type Index struct {
	byName        map[string]models.Character
	narratorVoice string
}

// NewIndex строит индекс персонажей сессии
func NewIndex(characters []models.Character, narratorVoice string) *Index {
	idx := &Index{
		byName:        make(map[string]models.Character, len(characters)),
		narratorVoice: narratorVoice,
	}
	for _, c := range characters {
		key := normalize(c.Name)
		if key == "" {
			continue
		}
		if _, exists := idx.byName[key]; !exists {
			idx.byName[key] = c
		}
	}
	return idx
}

// Lookup находит персонажа по имени
func (i *Index) Lookup(name string) (models.Character, bool) {
	c, ok := i.byName[normalize(name)]
	return c, ok
}

// VoiceFor возвращает голос говорящего. Рассказчик, неизвестные имена и
// персонажи без голоса озвучиваются голосом рассказчика.
func (i *Index) VoiceFor(speaker string) string {
	if strings.EqualFold(strings.TrimSpace(speaker), models.NarratorName) {
		return i.narratorVoice
	}
	c, ok := i.Lookup(speaker)
	if !ok || strings.TrimSpace(c.VoiceID) == "" {
		return i.narratorVoice
	}
	return c.VoiceID
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
