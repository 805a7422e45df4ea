package tts

import (
	"fmt"

	"story-voice/internal/config"

	"go.uber.org/zap"
)

// NewSynthesizer создает провайдер синтеза на основе конфигурации.
// QuotaSource равен nil, если провайдер не сообщает квоту.
func NewSynthesizer(cfg config.TTSConfig, logger *zap.Logger) (Synthesizer, QuotaSource, error) {
	switch cfg.Provider {
	case "elevenlabs":
		svc := NewElevenLabsService(logger, cfg.ElevenLabs.APIKey, cfg.ElevenLabs.BaseURL, cfg.ElevenLabs.ModelID, cfg.Timeout)
		return NewThrottled(svc, cfg.RequestsPerSecond, cfg.Burst), svc, nil
	case "piper":
		svc := NewPiperService(logger, cfg.Piper.URL, cfg.Timeout)
		return NewThrottled(svc, cfg.RequestsPerSecond, cfg.Burst), nil, nil
	default:
		return nil, nil, fmt.Errorf("неподдерживаемый TTS провайдер: %s. Поддерживаются: 'elevenlabs', 'piper'", cfg.Provider)
	}
}
