package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"story-voice/pkg/models"

	"go.uber.org/zap"
)

const (
	elevenLabsOutputFormat    = "mp3_44100_128"
	elevenLabsSimilarityBoost = 0.75
)

// ElevenLabsService синтез речи через ElevenLabs API
type ElevenLabsService struct {
	logger  *zap.Logger
	apiKey  string
	baseURL string
	modelID string
	client  *http.Client
}

// NewElevenLabsService создает новый ElevenLabs сервис
func NewElevenLabsService(logger *zap.Logger, apiKey, baseURL, modelID string, timeout time.Duration) *ElevenLabsService {
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	return &ElevenLabsService{
		logger:  logger,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		modelID: modelID,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id,omitempty"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsAlignment struct {
	Characters []string  `json:"characters"`
	Starts     []float64 `json:"character_start_times_seconds"`
	Ends       []float64 `json:"character_end_times_seconds"`
}

type elevenLabsResponse struct {
	AudioBase64 string               `json:"audio_base64"`
	Alignment   *elevenLabsAlignment `json:"alignment"`
}

type elevenLabsSubscription struct {
	CharacterCount int `json:"character_count"`
	CharacterLimit int `json:"character_limit"`
}

// Synthesize преобразует текст в аудио и возвращает метки слов
func (s *ElevenLabsService) Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	body, err := json.Marshal(elevenLabsRequest{
		Text:    req.Text,
		ModelID: s.modelID,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       clamp01(req.Stability),
			SimilarityBoost: elevenLabsSimilarityBoost,
			Style:           clamp01(req.Style),
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s/with-timestamps?output_format=%s", s.baseURL, req.VoiceID, elevenLabsOutputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", s.apiKey)

	s.logger.Debug("отправляем запрос к ElevenLabs",
		zap.String("voice_id", req.VoiceID),
		zap.String("emotion", req.Emotion),
		zap.Int("text_length", len([]rune(req.Text))))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("ElevenLabs", resp.StatusCode, respBody)
	}

	var parsed elevenLabsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("ошибка разбора ответа ElevenLabs: %w", err)
	}

	audio, err := base64.StdEncoding.DecodeString(parsed.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("ошибка декодирования аудио: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("ElevenLabs вернул пустое аудио")
	}

	s.logger.Info("аудио успешно сгенерировано",
		zap.String("voice_id", req.VoiceID),
		zap.Int("audio_size", len(audio)))

	return &SynthesisResult{
		Audio:       audio,
		ContentType: "audio/mpeg",
		WordTimings: wordTimings(parsed.Alignment),
	}, nil
}

// Quota возвращает использование символов по подписке
func (s *ElevenLabsService) Quota(ctx context.Context) (*Quota, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/user/subscription", nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения подписки: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, statusError("ElevenLabs", resp.StatusCode, body)
	}

	var sub elevenLabsSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, fmt.Errorf("ошибка разбора подписки: %w", err)
	}

	return &Quota{UsedChars: sub.CharacterCount, MaxChars: sub.CharacterLimit}, nil
}

// statusError превращает неуспешный ответ в ошибку; исчерпанная квота распознается отдельно
func statusError(provider string, status int, body []byte) error {
	if (status == http.StatusUnauthorized || status == http.StatusTooManyRequests || status == http.StatusPaymentRequired) &&
		bytes.Contains(bytes.ToLower(body), []byte("quota")) {
		return fmt.Errorf("%s: %w", provider, ErrQuotaExceeded)
	}
	return fmt.Errorf("неожиданный статус от %s: %d, тело: %s", provider, status, truncateBody(body))
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

// wordTimings собирает метки слов из посимвольного выравнивания
func wordTimings(a *elevenLabsAlignment) []models.WordTiming {
	if a == nil || len(a.Characters) == 0 || len(a.Starts) != len(a.Characters) || len(a.Ends) != len(a.Characters) {
		return nil
	}

	var out []models.WordTiming
	var word strings.Builder
	var start, end float64
	flush := func() {
		if word.Len() > 0 {
			out = append(out, models.WordTiming{Word: word.String(), Start: start, End: end})
			word.Reset()
		}
	}

	for i, ch := range a.Characters {
		if strings.TrimFunc(ch, unicode.IsSpace) == "" {
			flush()
			continue
		}
		if word.Len() == 0 {
			start = a.Starts[i]
		}
		word.WriteString(ch)
		end = a.Ends[i]
	}
	flush()

	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
