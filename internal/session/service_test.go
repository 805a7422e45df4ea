package session

import (
	"context"
	"fmt"
	"testing"

	"story-voice/internal/apperrors"
	"story-voice/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memRepos struct {
	sessions   map[string]*models.StorySession
	characters map[string]*models.Character
	bypasses   []models.ValidationBypass
}

func newRepos() *memRepos {
	return &memRepos{
		sessions:   map[string]*models.StorySession{},
		characters: map[string]*models.Character{},
	}
}

func (m *memRepos) Create(ctx context.Context, session *models.StorySession) error {
	session.ID = fmt.Sprintf("session-%d", len(m.sessions)+1)
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *memRepos) GetByID(ctx context.Context, id string) (*models.StorySession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("сессия", id)
	}
	copied := *s
	return &copied, nil
}

func (m *memRepos) UpdateConfig(ctx context.Context, id string, cfg models.SessionConfig) error {
	s, ok := m.sessions[id]
	if !ok {
		return apperrors.NotFound("сессия", id)
	}
	s.Config = cfg
	return nil
}

func (m *memRepos) ListBypasses(ctx context.Context, sessionID string) ([]models.ValidationBypass, error) {
	var out []models.ValidationBypass
	for _, b := range m.bypasses {
		if b.SessionID == sessionID {
			out = append(out, b)
		}
	}
	return out, nil
}

type memCharacters struct {
	repos *memRepos
}

func (c memCharacters) Create(ctx context.Context, character *models.Character) error {
	character.ID = fmt.Sprintf("char-%d", len(c.repos.characters)+1)
	copied := *character
	c.repos.characters[character.ID] = &copied
	return nil
}

func (c memCharacters) GetByID(ctx context.Context, id string) (*models.Character, error) {
	ch, ok := c.repos.characters[id]
	if !ok {
		return nil, apperrors.NotFound("персонаж", id)
	}
	copied := *ch
	return &copied, nil
}

func newService(repos *memRepos) *Service {
	return NewService(repos, memCharacters{repos}, repos, zap.NewNop())
}

func TestCreateSessionAndUpdateConfig(t *testing.T) {
	repos := newRepos()
	svc := newService(repos)

	session, err := svc.CreateSession(context.Background(), models.SessionConfig{models.ConfigKeyMultiVoice: "true"})
	require.NoError(t, err)
	assert.Equal(t, "session-1", session.ID)

	updated, err := svc.UpdateConfig(context.Background(), session.ID, models.SessionConfig{
		models.ConfigKeyHideSpeechTags: true,
		models.ConfigKeyVoiceID:        "narrator-voice",
	})
	require.NoError(t, err)
	assert.Equal(t, true, updated.Config[models.ConfigKeyHideSpeechTags])
	assert.Equal(t, "narrator-voice", updated.Config.String(models.ConfigKeyVoiceID))

	_, err = svc.UpdateConfig(context.Background(), "missing", nil)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestCreateSessionRejectsBadConfig(t *testing.T) {
	svc := newService(newRepos())

	_, err := svc.CreateSession(context.Background(), models.SessionConfig{
		models.ConfigKeyMultiVoice:     "maybe",
		models.ConfigKeyHideSpeechTags: 1,
		models.ConfigKeyVoiceID:        42,
	})

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindBadRequest, appErr.Kind)
	assert.Len(t, appErr.Details, 3)
}

func TestAddCharacter(t *testing.T) {
	repos := newRepos()
	svc := newService(repos)
	session, err := svc.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	character, err := svc.AddCharacter(context.Background(), session.ID, CharacterRequest{
		Name:    " Mara ",
		VoiceID: "voice-mara",
	})
	require.NoError(t, err)
	assert.Equal(t, "Mara", character.Name)
	assert.Equal(t, session.ID, character.SessionID)

	got, err := svc.GetCharacter(context.Background(), character.ID)
	require.NoError(t, err)
	assert.Equal(t, "voice-mara", got.VoiceID)

	_, err = svc.AddCharacter(context.Background(), "missing", CharacterRequest{Name: "Ivo", VoiceID: "v"})
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	_, err = svc.AddCharacter(context.Background(), session.ID, CharacterRequest{Name: "narrator"})
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindBadRequest, appErr.Kind)
	assert.Len(t, appErr.Details, 2)
}

func TestListBypasses(t *testing.T) {
	repos := newRepos()
	svc := newService(repos)
	session, err := svc.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	empty, err := svc.ListBypasses(context.Background(), session.ID)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	repos.bypasses = append(repos.bypasses,
		models.ValidationBypass{ID: 1, SessionID: session.ID, Actor: "editor", Issues: []string{"word_count"}},
		models.ValidationBypass{ID: 2, SessionID: "other"},
	)
	bypasses, err := svc.ListBypasses(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, bypasses, 1)
	assert.Equal(t, "editor", bypasses[0].Actor)

	_, err = svc.ListBypasses(context.Background(), "missing")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}
