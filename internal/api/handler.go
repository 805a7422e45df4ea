package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"story-voice/internal/apperrors"
	"story-voice/internal/generation"
	"story-voice/internal/session"
	"story-voice/internal/studio"
	"story-voice/pkg/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SceneService принимает и генерирует сцены
type SceneService interface {
	AcceptScene(ctx context.Context, req generation.AcceptRequest) (*generation.AcceptResult, error)
	GenerateScene(ctx context.Context, req generation.GenerateRequest) (*generation.AcceptResult, error)
}

// SessionService управляет сессиями, персонажами и журналом аудита
type SessionService interface {
	CreateSession(ctx context.Context, cfg models.SessionConfig) (*models.StorySession, error)
	UpdateConfig(ctx context.Context, sessionID string, cfg models.SessionConfig) (*models.StorySession, error)
	AddCharacter(ctx context.Context, sessionID string, req session.CharacterRequest) (*models.Character, error)
	GetCharacter(ctx context.Context, id string) (*models.Character, error)
	ListBypasses(ctx context.Context, sessionID string) ([]models.ValidationBypass, error)
}

// SessionRequest настройки новой или существующей сессии
type SessionRequest struct {
	Config models.SessionConfig `json:"config"`
}

// VoiceChangeRequest запрос на смену голоса персонажа
type VoiceChangeRequest struct {
	VoiceID   string `json:"voice_id"`
	VoiceName string `json:"voice_name"`
}

// VoiceChangeResponse персонаж и сегменты, помеченные устаревшими
type VoiceChangeResponse struct {
	Character *models.Character `json:"character"`
	Segments  []models.Segment  `json:"segments"`
}

// Handler обрабатывает HTTP запросы студии озвучки
type Handler struct {
	renderer studio.Renderer
	loader   studio.Loader
	scenes   SceneService
	sessions SessionService
	usage    studio.UsageEstimator
	hub      *Hub
	logger   *zap.Logger
}

// NewHandler создает новый обработчик API
func NewHandler(
	renderer studio.Renderer,
	loader studio.Loader,
	scenes SceneService,
	sessions SessionService,
	usage studio.UsageEstimator,
	hub *Hub,
	logger *zap.Logger,
) *Handler {
	if hub == nil {
		hub = NewHub(logger)
	}
	return &Handler{
		renderer: renderer,
		loader:   loader,
		scenes:   scenes,
		sessions: sessions,
		usage:    usage,
		hub:      hub,
		logger:   logger,
	}
}

// CreateSession создает сессию истории
func (h *Handler) CreateSession(c *gin.Context) {
	var req SessionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, h.logger, "некорректное тело запроса", err)
		return
	}

	created, err := h.sessions.CreateSession(c.Request.Context(), req.Config)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// UpdateSessionConfig заменяет настройки сессии
func (h *Handler) UpdateSessionConfig(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "некорректное тело запроса", err)
		return
	}

	updated, err := h.sessions.UpdateConfig(c.Request.Context(), c.Param("id"), req.Config)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// AddCharacter добавляет персонажа в сессию
func (h *Handler) AddCharacter(c *gin.Context) {
	var req session.CharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "некорректное тело запроса", err)
		return
	}

	character, err := h.sessions.AddCharacter(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, character)
}

// GetCharacter возвращает персонажа
func (h *Handler) GetCharacter(c *gin.Context) {
	character, err := h.sessions.GetCharacter(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, character)
}

// ListBypasses возвращает сцены сессии, сохраненные в обход проверки
func (h *Handler) ListBypasses(c *gin.Context) {
	bypasses, err := h.sessions.ListBypasses(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, bypasses)
}

// GetScript возвращает сцены сессии с сегментами и персонажей
func (h *Handler) GetScript(c *gin.Context) {
	script, err := h.loader.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, script)
}

// UpdateOverrides сохраняет пользовательские параметры подачи сегмента
func (h *Handler) UpdateOverrides(c *gin.Context) {
	var req models.OverridesUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "некорректное тело запроса", err)
		return
	}

	seg, err := h.renderer.UpdateOverrides(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, seg)
}

// RenderSegment озвучивает один сегмент
func (h *Handler) RenderSegment(c *gin.Context) {
	seg, err := h.renderer.Render(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, seg)
}

// PreviewSegment возвращает аудио предпрослушивания без сохранения.
// Тайминги слов передаются в заголовке X-Word-Timings.
func (h *Handler) PreviewSegment(c *gin.Context) {
	preview, err := h.renderer.Preview(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if len(preview.WordTimings) > 0 {
		if timings, err := json.Marshal(preview.WordTimings); err == nil {
			c.Header("X-Word-Timings", string(timings))
		}
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, preview.ContentType, preview.Audio)
}

// RenderAll озвучивает все сегменты сессии, ожидающие рендера.
// При частичном отказе отвечает 207 с результатом и ошибкой.
func (h *Handler) RenderAll(c *gin.Context) {
	ctrl := h.controller()
	defer ctrl.Close()

	ctx := c.Request.Context()
	if _, err := ctrl.FetchScript(ctx, c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}

	result, err := ctrl.RenderAll(ctx)
	if err != nil {
		if result != nil && apperrors.Is(err, apperrors.KindBulkPartialFailure) {
			h.logger.Warn("массовый рендер выполнен частично",
				zap.String("session_id", c.Param("id")),
				zap.Error(err))
			body := errorBody(err)
			c.JSON(body.Code, PartialResponse{Result: result, Error: body})
			return
		}
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ChangeCharacterVoice меняет голос персонажа
func (h *Handler) ChangeCharacterVoice(c *gin.Context) {
	var req VoiceChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "некорректное тело запроса", err)
		return
	}

	character, segments, err := h.renderer.ChangeCharacterVoice(c.Request.Context(), c.Param("id"), req.VoiceID, req.VoiceName)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if segments == nil {
		segments = []models.Segment{}
	}
	c.JSON(http.StatusOK, VoiceChangeResponse{Character: character, Segments: segments})
}

// UsageEstimate оценивает расход квоты перед массовым рендером
func (h *Handler) UsageEstimate(c *gin.Context) {
	ctrl := h.controller()
	defer ctrl.Close()

	ctx := c.Request.Context()
	if _, err := ctrl.FetchScript(ctx, c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	estimate, err := ctrl.UsageEstimate(ctx)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, estimate)
}

// AcceptScene проверяет и сохраняет готовый текст сцены
func (h *Handler) AcceptScene(c *gin.Context) {
	var req generation.AcceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "некорректное тело запроса", err)
		return
	}
	req.SessionID = c.Param("id")
	req.Bypass = bypassFrom(c, req.Bypass)

	result, err := h.scenes.AcceptScene(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// GenerateScene генерирует сцену через AI и сохраняет ее
func (h *Handler) GenerateScene(c *gin.Context) {
	var req generation.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "некорректное тело запроса", err)
		return
	}
	req.SessionID = c.Param("id")
	req.Bypass = bypassFrom(c, req.Bypass)

	result, err := h.scenes.GenerateScene(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Events подписывает клиента на изменения сегментов сессии
func (h *Handler) Events(c *gin.Context) {
	if err := h.hub.Serve(c.Writer, c.Request, c.Param("id")); err != nil {
		h.logger.Warn("ошибка подключения WebSocket", zap.Error(err))
	}
}

func (h *Handler) controller() *studio.Controller {
	backend := studio.NewLocalBackend(h.loader, h.renderer)
	return studio.NewController(backend, h.usage, h.hub, h.logger)
}

// bindOptionalJSON разбирает тело, если оно есть
func bindOptionalJSON(c *gin.Context, obj any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(obj)
}

// bypassFrom берет разрешение на сохранение из заголовков, если его нет в теле
func bypassFrom(c *gin.Context, bypass *generation.Bypass) *generation.Bypass {
	if bypass != nil {
		return bypass
	}
	actor := strings.TrimSpace(c.GetHeader("X-Bypass-Actor"))
	if actor == "" {
		return nil
	}
	return &generation.Bypass{
		Actor:  actor,
		Reason: strings.TrimSpace(c.GetHeader("X-Bypass-Reason")),
	}
}
