package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config содержит все конфигурационные параметры приложения
type Config struct {
	AI       AIConfig
	TTS      TTSConfig
	Audio    AudioConfig
	Render   RenderConfig
	Quota    QuotaConfig
	Voice    VoiceConfig
	Database DatabaseConfig
	App      AppConfig
}

// AIConfig содержит настройки AI провайдеров
type AIConfig struct {
	Provider    string // deepseek, openrouter, none
	Model       string
	MaxTokens   int
	Temperature float64
	DeepSeek    DeepSeekConfig
	OpenRouter  OpenRouterConfig
}

type DeepSeekConfig struct {
	APIKey  string
	BaseURL string
}

type OpenRouterConfig struct {
	APIKey   string
	BaseURL  string
	SiteURL  string
	SiteName string
}

// TTSConfig содержит настройки синтеза речи
type TTSConfig struct {
	Provider          string // elevenlabs, piper
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	ElevenLabs        ElevenLabsConfig
	Piper             PiperConfig
}

type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	ModelID string
}

type PiperConfig struct {
	URL string
}

// AudioConfig содержит настройки хранилища аудио
type AudioConfig struct {
	Dir           string
	PublicBaseURL string
	Serve         bool // раздавать файлы из Dir самим сервером
}

// RenderConfig содержит настройки рендера сегментов
type RenderConfig struct {
	BatchConcurrency int
	StuckTimeout     time.Duration
	SweepInterval    time.Duration
}

// QuotaConfig лимит символов, если провайдер не сообщает квоту
type QuotaConfig struct {
	FallbackMaxChars int
}

// VoiceConfig голос рассказчика по умолчанию
type VoiceConfig struct {
	DefaultVoiceID string
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MigrationPath string
	MaxConns      int
	MinConns      int
}

type AppConfig struct {
	Env      string
	LogLevel string
	LogFile  string
	Port     int
}

// Load загружает конфигурацию из переменных окружения и .env
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// AI
	cfg.AI.Provider = getEnvDefault("AI_PROVIDER", "deepseek")
	cfg.AI.Model = getEnvDefault("AI_MODEL", "deepseek-chat")
	cfg.AI.MaxTokens = getEnvIntDefault("AI_MAX_TOKENS", 2000)
	cfg.AI.Temperature = getEnvFloatDefault("AI_TEMPERATURE", 0.8)
	cfg.AI.DeepSeek.APIKey = os.Getenv("DEEPSEEK_API_KEY")
	cfg.AI.DeepSeek.BaseURL = getEnvDefault("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1")
	cfg.AI.OpenRouter.APIKey = os.Getenv("OPENROUTER_API_KEY")
	cfg.AI.OpenRouter.BaseURL = getEnvDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1")
	cfg.AI.OpenRouter.SiteURL = getEnvDefault("OPENROUTER_SITE_URL", "https://story-voice.local")
	cfg.AI.OpenRouter.SiteName = getEnvDefault("OPENROUTER_SITE_NAME", "Story Voice")

	// TTS
	cfg.TTS.Provider = getEnvDefault("TTS_PROVIDER", "elevenlabs")
	cfg.TTS.RequestsPerSecond = getEnvFloatDefault("TTS_REQUESTS_PER_SECOND", 2)
	cfg.TTS.Burst = getEnvIntDefault("TTS_BURST", 4)
	cfg.TTS.Timeout = getEnvDurationDefault("TTS_TIMEOUT", 60*time.Second)
	cfg.TTS.ElevenLabs.APIKey = os.Getenv("ELEVENLABS_API_KEY")
	cfg.TTS.ElevenLabs.BaseURL = getEnvDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io")
	cfg.TTS.ElevenLabs.ModelID = getEnvDefault("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2")
	cfg.TTS.Piper.URL = getEnvDefault("PIPER_URL", "http://piper:5000")

	// Audio
	cfg.Audio.Dir = getEnvDefault("AUDIO_DIR", "data/audio")
	cfg.Audio.PublicBaseURL = getEnvDefault("AUDIO_PUBLIC_BASE_URL", "/audio")
	cfg.Audio.Serve = getEnvBoolDefault("AUDIO_SERVE", true)

	// Render
	cfg.Render.BatchConcurrency = getEnvIntDefault("RENDER_BATCH_CONCURRENCY", 3)
	cfg.Render.StuckTimeout = getEnvDurationDefault("RENDER_STUCK_TIMEOUT", 10*time.Minute)
	cfg.Render.SweepInterval = getEnvDurationDefault("RENDER_SWEEP_INTERVAL", time.Minute)

	// Quota
	cfg.Quota.FallbackMaxChars = getEnvIntDefault("QUOTA_FALLBACK_MAX_CHARS", 10000)

	// Voice
	cfg.Voice.DefaultVoiceID = os.Getenv("DEFAULT_VOICE_ID")

	// Database
	cfg.Database.Host = getEnvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getEnvIntDefault("DB_PORT", 5432)
	cfg.Database.User = os.Getenv("DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Name = os.Getenv("DB_NAME")
	cfg.Database.SSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	cfg.Database.MigrationPath = os.Getenv("MIGRATION_PATH")
	cfg.Database.MaxConns = getEnvIntDefault("DB_MAX_CONNS", 10)
	cfg.Database.MinConns = getEnvIntDefault("DB_MIN_CONNS", 2)

	// App
	cfg.App.Env = getEnvDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvDefault("LOG_LEVEL", "info")
	cfg.App.LogFile = getEnvDefault("LOG_FILE", "logs/app.log")
	cfg.App.Port = getEnvIntDefault("APP_PORT", 8080)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("ошибка валидации конфигурации: %w", err)
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvFloatDefault(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// validateConfig проверяет корректность конфигурации
func validateConfig(config *Config) error {
	switch config.AI.Provider {
	case "deepseek":
		if config.AI.DeepSeek.APIKey == "" {
			return fmt.Errorf("DEEPSEEK_API_KEY не установлен")
		}
	case "openrouter":
		if config.AI.OpenRouter.APIKey == "" {
			return fmt.Errorf("OPENROUTER_API_KEY не установлен")
		}
	case "none":
	default:
		return fmt.Errorf("поддерживаются только AI_PROVIDER: deepseek, openrouter, none")
	}

	switch config.TTS.Provider {
	case "elevenlabs":
		if config.TTS.ElevenLabs.APIKey == "" {
			return fmt.Errorf("ELEVENLABS_API_KEY не установлен")
		}
	case "piper":
		if config.TTS.Piper.URL == "" {
			return fmt.Errorf("PIPER_URL не установлен")
		}
	default:
		return fmt.Errorf("поддерживаются только TTS_PROVIDER: elevenlabs, piper")
	}
	if config.TTS.RequestsPerSecond <= 0 {
		return fmt.Errorf("TTS_REQUESTS_PER_SECOND должен быть больше нуля")
	}

	if config.Render.BatchConcurrency < 1 {
		return fmt.Errorf("RENDER_BATCH_CONCURRENCY должен быть не меньше 1")
	}

	if config.Database.Host == "" {
		return fmt.Errorf("DB_HOST не установлен")
	}
	if config.Database.User == "" {
		return fmt.Errorf("DB_USER не установлен")
	}
	if config.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD не установлен")
	}
	if config.Database.Name == "" {
		return fmt.Errorf("DB_NAME не установлен")
	}

	return nil
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetURL возвращает строку подключения в формате URL для database/sql
func (c *DatabaseConfig) GetURL() string {
	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction проверяет, запущено ли приложение в продакшн режиме
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// GetLogLevel возвращает уровень логирования в формате zap
func (c *AppConfig) GetLogLevel() zap.AtomicLevel {
	switch c.LogLevel {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
