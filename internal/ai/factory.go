package ai

import (
	"context"
	"fmt"

	"story-voice/internal/config"

	"go.uber.org/zap"
)

// NewAIClient создает новый AI клиент на основе конфигурации
func NewAIClient(cfg config.AIConfig, logger *zap.Logger) (AIClient, error) {
	switch cfg.Provider {
	case "deepseek":
		return NewDeepSeekClient(cfg.DeepSeek.APIKey, cfg.DeepSeek.BaseURL, cfg.Model, logger), nil
	case "openrouter":
		return NewOpenRouterClient(cfg.OpenRouter.APIKey, cfg.OpenRouter.BaseURL, cfg.Model,
			cfg.OpenRouter.SiteURL, cfg.OpenRouter.SiteName, logger), nil
	case "none":
		logger.Info("генерация текста отключена, сцены принимаются только готовым текстом")
		return disabledClient{}, nil
	default:
		return nil, fmt.Errorf("неподдерживаемый AI провайдер: %s. Поддерживаются: 'deepseek', 'openrouter', 'none'", cfg.Provider)
	}
}

// disabledClient отвечает ErrDisabled на любой запрос
type disabledClient struct{}

func (disabledClient) GenerateResponse(context.Context, []Message, GenerationOptions) (*Response, error) {
	return nil, ErrDisabled
}

func (disabledClient) GetName() string {
	return "none"
}
