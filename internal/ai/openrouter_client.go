package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type OpenRouterClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
	siteURL    string
	siteName   string
}

func NewOpenRouterClient(apiKey, baseURL, model, siteURL, siteName string, logger *zap.Logger) *OpenRouterClient {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	if model == "" {
		model = "deepseek/deepseek-chat"
	}
	return &OpenRouterClient{
		baseURL:  baseURL,
		apiKey:   apiKey,
		model:    model,
		siteURL:  siteURL,
		siteName: siteName,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger,
	}
}

type openRouterRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type openRouterError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (c *OpenRouterClient) GenerateResponse(ctx context.Context, messages []Message, options GenerationOptions) (*Response, error) {
	request := openRouterRequest{
		Model:    c.model,
		Messages: toChatMessages(messages),
	}

	// Добавляем опциональные параметры
	if options.Temperature > 0 {
		request.Temperature = &options.Temperature
	}
	if options.MaxTokens > 0 {
		request.MaxTokens = &options.MaxTokens
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	c.logger.Debug("отправляем запрос к OpenRouter",
		zap.String("model", request.Model),
		zap.Int("messages_count", len(messages)),
		zap.Any("options", options))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	// Опциональные заголовки для рейтинга на openrouter.ai
	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка отправки запроса к OpenRouter: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	duration := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("ошибка API OpenRouter",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response_body", string(body)))

		var apiErr openRouterError
		if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Error.Message == "" {
			return nil, fmt.Errorf("ошибка OpenRouter API (статус %d): %s", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("ошибка OpenRouter API (статус %d): %s", resp.StatusCode, apiErr.Error.Message)
	}

	var openRouterResp chatResponse
	if err := json.Unmarshal(body, &openRouterResp); err != nil {
		return nil, fmt.Errorf("ошибка десериализации ответа: %w", err)
	}

	if len(openRouterResp.Choices) == 0 {
		return nil, fmt.Errorf("пустой ответ от OpenRouter")
	}

	choice := openRouterResp.Choices[0]

	c.logger.Info("получен ответ от OpenRouter",
		zap.String("model", openRouterResp.Model),
		zap.Int("total_tokens", openRouterResp.Usage.TotalTokens),
		zap.Duration("duration", duration),
		zap.Int("content_length", len(choice.Message.Content)))

	return &Response{
		Content:      choice.Message.Content,
		Model:        openRouterResp.Model,
		Usage:        openRouterResp.Usage.toUsage(),
		FinishReason: choice.FinishReason,
		Provider:     "openrouter",
	}, nil
}

func (c *OpenRouterClient) GetName() string {
	return "openrouter"
}
