package api

import (
	"time"

	"story-voice/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDKey = "request_id"

// RouterConfig настройки HTTP маршрутов
type RouterConfig struct {
	Debug      bool
	ServeAudio bool
	AudioDir   string
	AudioPath  string
}

// NewRouter настраивает маршруты API, метрик и раздачи аудио
func NewRouter(h *Handler, health *metrics.Handler, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(requestIDMiddleware(), loggerMiddleware(logger), gin.Recovery())

	if health != nil {
		r.GET("/metrics", gin.WrapH(health.MetricsHandler()))
		r.GET("/health", gin.WrapF(health.HealthHandler))
	}

	if cfg.ServeAudio && cfg.AudioDir != "" {
		path := cfg.AudioPath
		if path == "" || path[0] != '/' {
			path = "/audio"
		}
		r.Static(path, cfg.AudioDir)
	}

	api := r.Group("/api")
	{
		api.POST("/sessions", h.CreateSession)

		sessions := api.Group("/sessions/:id")
		sessions.PATCH("/config", h.UpdateSessionConfig)
		sessions.POST("/characters", h.AddCharacter)
		sessions.GET("/bypasses", h.ListBypasses)
		sessions.GET("/script", h.GetScript)
		sessions.GET("/usage", h.UsageEstimate)
		sessions.POST("/render-all", h.RenderAll)
		sessions.POST("/scenes", h.AcceptScene)
		sessions.POST("/scenes/generate", h.GenerateScene)
		sessions.GET("/events", h.Events)

		segments := api.Group("/segments/:id")
		segments.PATCH("/overrides", h.UpdateOverrides)
		segments.POST("/render", h.RenderSegment)
		segments.POST("/preview", h.PreviewSegment)

		api.GET("/characters/:id", h.GetCharacter)
		api.PUT("/characters/:id/voice", h.ChangeCharacterVoice)
	}

	return r
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("http запрос",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID(c)))
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
