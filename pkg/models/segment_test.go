package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func TestSegmentEffective(t *testing.T) {
	tests := []struct {
		name     string
		segment  Segment
		expected DeliveryParams
	}{
		{
			name:     "нейтральные значения по умолчанию",
			segment:  Segment{},
			expected: DeliveryParams{Emotion: DefaultEmotion, Stability: DefaultStability, Style: DefaultStyle},
		},
		{
			name: "предложения AI",
			segment: Segment{
				AIEmotion:   "sad",
				AIStability: floatPtr(0.7),
				AIStyle:     floatPtr(0.3),
			},
			expected: DeliveryParams{Emotion: "sad", Stability: 0.7, Style: 0.3},
		},
		{
			name: "пользовательские значения поверх AI по полям",
			segment: Segment{
				AIEmotion:     "sad",
				AIStability:   floatPtr(0.7),
				AIStyle:       floatPtr(0.3),
				UserOverrides: &Overrides{Stability: floatPtr(0.2)},
			},
			expected: DeliveryParams{Emotion: "sad", Stability: 0.2, Style: 0.3},
		},
		{
			name: "нулевые пользовательские значения учитываются",
			segment: Segment{
				AIStyle:       floatPtr(0.6),
				UserOverrides: &Overrides{Style: floatPtr(0), Emotion: strPtr("angry")},
			},
			expected: DeliveryParams{Emotion: "angry", Stability: DefaultStability, Style: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.segment.Effective())
		})
	}
}

func TestOverridesMerge(t *testing.T) {
	var current *Overrides
	merged := current.Merge(Overrides{Emotion: strPtr("happy")})
	assert.Equal(t, "happy", *merged.Emotion)
	assert.Nil(t, merged.Stability)

	merged = merged.Merge(Overrides{Stability: floatPtr(0.4)})
	assert.Equal(t, "happy", *merged.Emotion)
	assert.Equal(t, 0.4, *merged.Stability)
	assert.False(t, merged.IsEmpty())
	assert.True(t, (&Overrides{}).IsEmpty())
}

func TestRenderStatusNeedsRender(t *testing.T) {
	assert.True(t, RenderStatus("").NeedsRender())
	assert.True(t, RenderPending.NeedsRender())
	assert.True(t, RenderStale.NeedsRender())
	assert.False(t, RenderRendered.NeedsRender())
	assert.False(t, RenderRendering.NeedsRender())
	assert.False(t, RenderError.NeedsRender())
	assert.False(t, RenderStatus("queued").IsValid())
}

func TestSceneWithSegmentKeepsOriginal(t *testing.T) {
	scene := Scene{ID: "s1", DialogueMap: DialogueMap{Segments: []Segment{
		{ID: "a", RenderStatus: RenderPending},
		{ID: "b", RenderStatus: RenderPending},
	}}}

	updated := scene.WithSegment(Segment{ID: "b", RenderStatus: RenderRendered})

	assert.Equal(t, RenderPending, scene.DialogueMap.Segments[1].RenderStatus)
	assert.Equal(t, RenderRendered, updated.DialogueMap.Segments[1].RenderStatus)
	assert.Equal(t, 1, updated.FindSegment("b"))
	assert.Equal(t, -1, updated.FindSegment("zzz"))
}
