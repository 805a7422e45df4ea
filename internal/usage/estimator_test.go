package usage

import (
	"context"
	"errors"
	"testing"

	"story-voice/internal/apperrors"
	"story-voice/internal/tts"
	"story-voice/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeQuota struct {
	quota *tts.Quota
	err   error
}

func (f fakeQuota) Quota(ctx context.Context) (*tts.Quota, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.quota, f.err
}

var segments = []models.Segment{
	{ID: "a", Text: "Hello"},
	{ID: "b", Text: "Привет"},
}

func TestEstimateWithQuota(t *testing.T) {
	e := NewEstimator(fakeQuota{quota: &tts.Quota{UsedChars: 9000, MaxChars: 10000}}, 500, zap.NewNop())

	got, err := e.Estimate(context.Background(), segments)

	require.NoError(t, err)
	assert.Equal(t, &models.UsageEstimate{
		EstimatedChars: 11,
		UsedChars:      9000,
		MaxChars:       10000,
		RemainingChars: 1000,
		QuotaKnown:     true,
	}, got)
	assert.False(t, got.Exceeds())
}

func TestEstimateFallsBackWhenQuotaFails(t *testing.T) {
	e := NewEstimator(fakeQuota{err: errors.New("timeout")}, 8, zap.NewNop())

	got, err := e.Estimate(context.Background(), segments)

	require.NoError(t, err)
	assert.False(t, got.QuotaKnown)
	assert.Equal(t, 8, got.MaxChars)
	assert.Equal(t, 8, got.RemainingChars)
	assert.True(t, got.Exceeds())
}

func TestEstimateWithoutSource(t *testing.T) {
	e := NewEstimator(nil, 10000, zap.NewNop())

	got, err := e.Estimate(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, 0, got.EstimatedChars)
	assert.Equal(t, 10000, got.RemainingChars)
	assert.False(t, got.QuotaKnown)
}

func TestEstimateOverdrawnQuota(t *testing.T) {
	e := NewEstimator(fakeQuota{quota: &tts.Quota{UsedChars: 12000, MaxChars: 10000}}, 0, zap.NewNop())

	got, err := e.Estimate(context.Background(), segments)

	require.NoError(t, err)
	assert.Equal(t, 0, got.RemainingChars)
}

func TestEstimateCancelled(t *testing.T) {
	e := NewEstimator(fakeQuota{quota: &tts.Quota{}}, 0, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Estimate(ctx, segments)

	assert.True(t, apperrors.IsAborted(err))
}
