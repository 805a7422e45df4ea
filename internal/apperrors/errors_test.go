package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("рендер: %w", SynthesisFailed("seg-1", errors.New("quota")))

	assert.Equal(t, KindSynthesisFailed, KindOf(wrapped))
	assert.Equal(t, KindTransportAborted, KindOf(fmt.Errorf("fetch: %w", context.Canceled)))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.True(t, IsAborted(Aborted(context.Canceled)))
	assert.False(t, IsAborted(nil))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(KindContentValidationFailed))
	assert.Equal(t, http.StatusConflict, Conflict("рендер уже выполняется", nil).Status())
	assert.Equal(t, http.StatusNotFound, NotFound("segment", "x").Status())
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus("unknown"))
}

func TestErrorMessage(t *testing.T) {
	err := New(KindBadRequest, "некорректный запрос", errors.New("причина"), Detail{Field: "stability", Message: "вне диапазона"})

	assert.Equal(t, "некорректный запрос: причина", err.Error())
	assert.Equal(t, "BAD_REQUEST", err.Reason)
	assert.Len(t, err.Details, 1)
}
