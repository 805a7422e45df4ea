package api

import (
	"errors"
	"net/http"

	"story-voice/internal/apperrors"
	"story-voice/internal/validator"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorBody тело ответа с ошибкой
type ErrorBody struct {
	Code    int                `json:"code"`
	Reason  string             `json:"reason"`
	Message string             `json:"message"`
	Details []apperrors.Detail `json:"details,omitempty"`
}

// ErrorResponse ответ с ошибкой
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// PartialResponse ответ, в котором часть работы выполнена
type PartialResponse struct {
	Result any       `json:"result"`
	Error  ErrorBody `json:"error"`
}

func errorBody(err error) ErrorBody {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		kind := apperrors.KindOf(err)
		appErr = apperrors.New(kind, "внутренняя ошибка сервера", err)
		if kind == apperrors.KindTransportAborted {
			appErr.Message = "запрос отменен"
		}
	}
	body := ErrorBody{
		Code:    appErr.Status(),
		Reason:  appErr.Reason,
		Message: appErr.Message,
		Details: appErr.Details,
	}

	var verr *validator.ValidationError
	if errors.As(err, &verr) && verr.Preview != "" {
		body.Details = append(append([]apperrors.Detail(nil), body.Details...),
			apperrors.Detail{Field: "preview", Message: verr.Preview})
	}
	return body
}

// respondError пишет ошибку в едином формате и логирует ее по уровню серьезности
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	body := errorBody(err)

	switch {
	case apperrors.IsAborted(err):
		logger.Debug("запрос отменен клиентом", zap.String("path", c.FullPath()))
	case body.Code >= http.StatusInternalServerError:
		logger.Error("ошибка обработки запроса",
			zap.String("path", c.FullPath()),
			zap.String("request_id", requestID(c)),
			zap.Error(err))
	default:
		logger.Info("запрос отклонен",
			zap.String("path", c.FullPath()),
			zap.String("reason", body.Reason),
			zap.Error(err))
	}

	c.AbortWithStatusJSON(body.Code, ErrorResponse{Error: body})
}

func badRequest(c *gin.Context, logger *zap.Logger, message string, err error) {
	details := []apperrors.Detail(nil)
	if err != nil {
		details = append(details, apperrors.Detail{Field: "body", Message: err.Error()})
	}
	respondError(c, logger, apperrors.BadRequest(message, details...))
}
