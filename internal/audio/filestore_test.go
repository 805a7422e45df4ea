package audio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"story-voice/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileStoreSaveAndDelete(t *testing.T) {
	root := filepath.Join(t.TempDir(), "audio")
	store, err := NewFileStore(root, "/audio/", zap.NewNop())
	require.NoError(t, err)

	url, err := store.Save(context.Background(), "seg-1-abc.mp3", []byte("data"), "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, "/audio/seg-1-abc.mp3", url)

	content, err := os.ReadFile(filepath.Join(root, "seg-1-abc.mp3"))
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), content)

	require.NoError(t, store.Delete(context.Background(), "seg-1-abc.mp3"))
	_, err = os.Stat(filepath.Join(root, "seg-1-abc.mp3"))
	assert.True(t, os.IsNotExist(err))

	// Повторное удаление не ошибка
	assert.NoError(t, store.Delete(context.Background(), "seg-1-abc.mp3"))
}

func TestFileStoreRejectsBadKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "/audio", zap.NewNop())
	require.NoError(t, err)

	for _, key := range []string{"", "../escape.mp3", "a/b.mp3", ".hidden"} {
		_, err := store.Save(context.Background(), key, []byte("x"), "audio/mpeg")
		assert.Error(t, err, key)
	}
}

func TestFileStoreCancelledContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "/audio", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Save(ctx, "k.mp3", []byte("x"), "audio/mpeg")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKey(t *testing.T) {
	params := models.DeliveryParams{Emotion: "calm", Stability: 0.7, Style: 0.1}

	first := Key("seg-1", "voice-a", params, "audio/mpeg")
	assert.Equal(t, first, Key("seg-1", "voice-a", params, "audio/mpeg"))
	assert.Regexp(t, `^seg-1-[0-9a-f]{16}\.mp3$`, first)

	params.Style = 0.2
	assert.NotEqual(t, first, Key("seg-1", "voice-a", params, "audio/mpeg"))
	assert.NotEqual(t, first, Key("seg-1", "voice-b", models.DeliveryParams{Emotion: "calm", Stability: 0.7, Style: 0.1}, "audio/mpeg"))
	assert.Regexp(t, `\.wav$`, Key("seg-1", "voice-a", params, "audio/wav"))
}
