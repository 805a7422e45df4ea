package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PiperService предоставляет функциональность Text-to-Speech через Piper TTS API
type PiperService struct {
	logger  *zap.Logger
	baseURL string
	client  *http.Client
}

// NewPiperService создает новый Piper TTS сервис
func NewPiperService(logger *zap.Logger, baseURL string, timeout time.Duration) *PiperService {
	return &PiperService{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Synthesize преобразует текст в аудио через Piper TTS.
// Голос передается как speaker, стабильность управляет noise_scale.
func (s *PiperService) Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	audioData, err := s.generateAudio(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации аудио: %w", err)
	}

	s.logger.Info("аудио успешно сгенерировано через Piper",
		zap.String("voice_id", req.VoiceID),
		zap.Int("audio_size", len(audioData)))

	return &SynthesisResult{
		Audio:       audioData,
		ContentType: "audio/wav",
	}, nil
}

// generateAudio отправляет запрос к Piper TTS API и получает аудио
func (s *PiperService) generateAudio(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	url := fmt.Sprintf("%s/synthesize-raw", s.baseURL)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	_ = writer.WriteField("text", req.Text)
	if req.VoiceID != "" {
		_ = writer.WriteField("speaker", req.VoiceID)
	}
	_ = writer.WriteField("noise_scale", strconv.FormatFloat(noiseScale(req.Stability), 'f', 3, 64))

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("ошибка формирования запроса: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	s.logger.Debug("отправляем запрос к Piper TTS",
		zap.String("url", url),
		zap.String("voice_id", req.VoiceID))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, statusError("Piper TTS", resp.StatusCode, respBody)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения аудио данных: %w", err)
	}
	if len(audioData) == 0 {
		return nil, fmt.Errorf("Piper TTS вернул пустое аудио")
	}

	return audioData, nil
}

// noiseScale переводит стабильность 0..1 в noise_scale Piper: стабильнее значит меньше вариаций
func noiseScale(stability float64) float64 {
	return 0.333 + (1-clamp01(stability))*0.667
}
