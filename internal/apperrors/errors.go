package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind тип ошибки приложения
type Kind string

const (
	KindContentValidationFailed Kind = "content_validation_failed"
	KindSynthesisFailed         Kind = "synthesis_failed"
	KindTransportAborted        Kind = "transport_aborted"
	KindBulkPartialFailure      Kind = "bulk_partial_failure"
	KindNotFound                Kind = "not_found"
	KindConflict                Kind = "conflict"
	KindInvalidTransition       Kind = "invalid_transition"
	KindBadRequest              Kind = "bad_request"
	KindInternal                Kind = "internal"
)

// Detail уточнение ошибки по конкретному полю
type Detail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Error ошибка с типом, причиной и деталями
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Details []Detail
	Err     error
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap возвращает исходную ошибку
func (e *Error) Unwrap() error {
	return e.Err
}

// Status возвращает HTTP статус, соответствующий типу ошибки
func (e *Error) Status() int {
	return HTTPStatus(e.Kind)
}

// New создает ошибку заданного типа
func New(kind Kind, message string, err error, details ...Detail) *Error {
	return &Error{
		Kind:    kind,
		Reason:  reasonFor(kind),
		Message: message,
		Details: details,
		Err:     err,
	}
}

// NotFound ресурс не найден
func NotFound(resource, id string) *Error {
	return New(KindNotFound, fmt.Sprintf("%s %s не найден", resource, id), nil)
}

// Conflict конфликт состояния
func Conflict(message string, err error) *Error {
	return New(KindConflict, message, err)
}

// BadRequest некорректный запрос
func BadRequest(message string, details ...Detail) *Error {
	return New(KindBadRequest, message, nil, details...)
}

// SynthesisFailed ошибка синтеза для одного сегмента
func SynthesisFailed(segmentID string, err error) *Error {
	return New(KindSynthesisFailed, "ошибка синтеза речи", err, Detail{Field: "segment_id", Message: segmentID})
}

// Aborted запрос отменен более новым запросом
func Aborted(err error) *Error {
	return New(KindTransportAborted, "запрос отменен", err)
}

// KindOf возвращает тип ошибки; для неизвестных ошибок KindInternal
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindTransportAborted
	}
	return KindInternal
}

// Is проверяет тип ошибки
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsAborted сообщает, что ошибку нужно молча проигнорировать
func IsAborted(err error) bool {
	return Is(err, KindTransportAborted)
}

// HTTPStatus сопоставляет тип ошибки и HTTP статус
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindContentValidationFailed:
		return http.StatusUnprocessableEntity
	case KindSynthesisFailed:
		return http.StatusBadGateway
	case KindTransportAborted:
		return 499
	case KindBulkPartialFailure:
		return http.StatusMultiStatus
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInvalidTransition:
		return http.StatusConflict
	case KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func reasonFor(kind Kind) string {
	switch kind {
	case KindContentValidationFailed:
		return "CONTENT_VALIDATION_FAILED"
	case KindSynthesisFailed:
		return "SYNTHESIS_FAILED"
	case KindTransportAborted:
		return "TRANSPORT_ABORTED"
	case KindBulkPartialFailure:
		return "BULK_PARTIAL_FAILURE"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	case KindInvalidTransition:
		return "INVALID_TRANSITION"
	case KindBadRequest:
		return "BAD_REQUEST"
	default:
		return "INTERNAL_ERROR"
	}
}
