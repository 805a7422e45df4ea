package tts

import (
	"context"
	"errors"

	"story-voice/pkg/models"
)

var (
	// ErrQuotaExceeded провайдер отказал из-за исчерпанной квоты
	ErrQuotaExceeded = errors.New("квота синтеза речи исчерпана")
	// ErrEmptyText нечего синтезировать
	ErrEmptyText = errors.New("пустой текст для синтеза")
)

// SynthesisRequest параметры синтеза одного фрагмента
type SynthesisRequest struct {
	Text      string
	VoiceID   string
	Emotion   string
	Stability float64
	Style     float64
}

// SynthesisResult аудио и временные метки слов, если провайдер их вернул
type SynthesisResult struct {
	Audio       []byte
	ContentType string
	WordTimings []models.WordTiming
}

// Synthesizer представляет интерфейс для Text-to-Speech сервиса
type Synthesizer interface {
	// Synthesize преобразует текст в аудио
	Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error)
}

// Quota использование квоты провайдера в символах
type Quota struct {
	UsedChars int
	MaxChars  int
}

// QuotaSource сообщает текущее использование квоты
type QuotaSource interface {
	Quota(ctx context.Context) (*Quota, error)
}
