package studio

import (
	"context"
	"errors"
	"testing"

	"story-voice/internal/apperrors"
	"story-voice/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loaderRepos struct {
	session    *models.StorySession
	scenes     []models.Scene
	characters []models.Character
	scenesErr  error
}

func (r *loaderRepos) GetByID(ctx context.Context, id string) (*models.StorySession, error) {
	if r.session == nil || r.session.ID != id {
		return nil, apperrors.NotFound("сессия", id)
	}
	return r.session, nil
}

func (r *loaderRepos) GetBySession(ctx context.Context, sessionID string) ([]models.Scene, error) {
	return r.scenes, r.scenesErr
}

func (r *loaderRepos) ListBySession(ctx context.Context, sessionID string) ([]models.Character, error) {
	return r.characters, nil
}

func TestScriptLoaderLoad(t *testing.T) {
	repos := &loaderRepos{
		session: &models.StorySession{ID: "session-1", Config: models.SessionConfig{"voice_id": "v1"}},
		scenes:  []models.Scene{{ID: "scene-1", SessionID: "session-1"}, {ID: "scene-2", SessionID: "session-1", SequenceIndex: 1}},
	}
	loader := NewScriptLoader(repos, repos, repos)

	script, err := loader.Load(context.Background(), "session-1")

	require.NoError(t, err)
	assert.Equal(t, "session-1", script.SessionID)
	assert.Equal(t, "v1", script.Config.String("voice_id"))
	assert.Len(t, script.Scenes, 2)
	assert.NotNil(t, script.Characters)
	assert.Empty(t, script.Characters)
}

func TestScriptLoaderErrors(t *testing.T) {
	repos := &loaderRepos{session: &models.StorySession{ID: "session-1"}}
	loader := NewScriptLoader(repos, repos, repos)

	_, err := loader.Load(context.Background(), "missing")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	repos.scenesErr = errors.New("db down")
	_, err = loader.Load(context.Background(), "session-1")
	assert.ErrorContains(t, err, "db down")
}
