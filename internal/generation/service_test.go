package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"story-voice/internal/ai"
	"story-voice/internal/apperrors"
	"story-voice/internal/metrics"
	"story-voice/internal/validator"
	"story-voice/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRepos struct {
	session    *models.StorySession
	characters []models.Character
	created    []*models.Scene
	bypasses   []*models.ValidationBypass
	createErr  error
}

func (f *fakeRepos) GetByID(ctx context.Context, id string) (*models.StorySession, error) {
	if f.session == nil || f.session.ID != id {
		return nil, apperrors.NotFound("сессия", id)
	}
	return f.session, nil
}

func (f *fakeRepos) ListBySession(ctx context.Context, sessionID string) ([]models.Character, error) {
	return f.characters, nil
}

func (f *fakeRepos) Create(ctx context.Context, scene *models.Scene, bypass *models.ValidationBypass) error {
	if f.createErr != nil {
		return f.createErr
	}
	scene.ID = fmt.Sprintf("scene-%d", len(f.created)+1)
	f.created = append(f.created, scene)
	if bypass != nil {
		f.bypasses = append(f.bypasses, bypass)
	}
	return nil
}

type fakeAI struct {
	content string
	err     error
	got     []ai.Message
}

func (f *fakeAI) GenerateResponse(ctx context.Context, messages []ai.Message, options ai.GenerationOptions) (*ai.Response, error) {
	f.got = messages
	if f.err != nil {
		return nil, f.err
	}
	return &ai.Response{Content: f.content, FinishReason: "stop"}, nil
}

func (f *fakeAI) GetName() string { return "fake" }

const taggedScene = "[Narrator] Mara crossed the harbor before dawn, counting the boats that still carried lanterns.\n" +
	"[Alice|happy] \"You made it after all,\" she called from the chapel steps.\n" +
	"[Narrator] Salt wind pushed against her coat while gulls argued over scraps near the fish market.\n" +
	"[Bob: tense] \"We should not linger here,\" he whispered."

// sparseScene один абзац без диалогов, 350 слов
func sparseScene() string {
	var b strings.Builder
	for i := 1; i <= 35; i++ {
		if i > 1 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "Lantern %d flickered over gate %d as rain %d fell.", i, 1000+i, 2000+i)
	}
	return b.String()
}

func newService(repos *fakeRepos, client ai.AIClient) *Service {
	return NewService(repos, repos, repos, client, ai.GenerationOptions{Temperature: 0.8},
		metrics.New(zap.NewNop()), zap.NewNop())
}

func newRepos(cfg models.SessionConfig) *fakeRepos {
	return &fakeRepos{
		session:    &models.StorySession{ID: "session-1", Config: cfg},
		characters: []models.Character{{ID: "c1", SessionID: "session-1", Name: "Alice", VoiceID: "alice-voice"}},
	}
}

func TestAcceptSceneBuildsSegments(t *testing.T) {
	repos := newRepos(models.SessionConfig{})
	svc := newService(repos, &fakeAI{})

	result, err := svc.AcceptScene(context.Background(), AcceptRequest{
		SessionID:     "session-1",
		SequenceIndex: 2,
		RawText:       taggedScene,
		Summary:       " Mara meets Alice ",
	})

	require.NoError(t, err)
	require.Len(t, repos.created, 1)
	assert.True(t, result.MultiVoice)
	assert.False(t, result.Bypassed)

	scene := result.Scene
	assert.Equal(t, "scene-1", scene.ID)
	assert.Equal(t, 2, scene.SequenceIndex)
	assert.Equal(t, "Mara meets Alice", scene.Summary)
	assert.Equal(t, taggedScene, scene.DisplayText, "теги не скрываются без настройки")
	assert.Positive(t, scene.WordCount)

	segments := scene.DialogueMap.Segments
	require.Len(t, segments, 4)
	assert.Equal(t, models.NarratorName, segments[0].Speaker)
	assert.Equal(t, "Alice", segments[1].Speaker)
	assert.Equal(t, models.VoiceRoleCharacter, segments[1].VoiceRole)
	assert.Equal(t, "happy", segments[1].AIEmotion)
	assert.Equal(t, models.NarratorName, segments[3].Speaker, "неизвестный говорящий озвучивается рассказчиком")
	assert.Equal(t, models.SegmentDialogue, segments[3].Type)
	for _, seg := range segments {
		assert.Equal(t, models.RenderPending, seg.RenderStatus)
	}
}

func TestAcceptSceneHidesSpeechTags(t *testing.T) {
	repos := newRepos(models.SessionConfig{models.ConfigKeyHideSpeechTags: "true"})
	svc := newService(repos, &fakeAI{})

	result, err := svc.AcceptScene(context.Background(), AcceptRequest{SessionID: "session-1", RawText: taggedScene})

	require.NoError(t, err)
	assert.NotContains(t, result.Scene.DisplayText, "[")
	assert.Contains(t, result.Scene.DisplayText, "You made it after all")
	assert.Equal(t, taggedScene, result.Scene.RawText)
}

func TestAcceptSceneSingleVoiceAttributesAllToNarrator(t *testing.T) {
	repos := newRepos(models.SessionConfig{models.ConfigKeyMultiVoice: false})
	svc := newService(repos, &fakeAI{})

	result, err := svc.AcceptScene(context.Background(), AcceptRequest{SessionID: "session-1", RawText: taggedScene})

	require.NoError(t, err)
	assert.False(t, result.MultiVoice)
	for _, seg := range result.Scene.DialogueMap.Segments {
		assert.Equal(t, models.NarratorName, seg.Speaker)
	}
}

func TestAcceptSceneRejectsGarbage(t *testing.T) {
	repos := newRepos(nil)
	svc := newService(repos, &fakeAI{})

	text := "As an AI language model, I cannot write this."
	_, err := svc.AcceptScene(context.Background(), AcceptRequest{SessionID: "session-1", RawText: text})

	var verr *validator.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Has(validator.IssueGarbagePattern))
	assert.True(t, verr.Has(validator.IssueWordCount))
	assert.Equal(t, apperrors.KindContentValidationFailed, apperrors.KindOf(err))
	assert.Empty(t, repos.created, "сцена не должна сохраняться")
	assert.Empty(t, repos.bypasses)
}

func TestAcceptSceneDialogueSparsityDependsOnMode(t *testing.T) {
	text := sparseScene()

	repos := newRepos(nil)
	_, err := newService(repos, &fakeAI{}).AcceptScene(context.Background(), AcceptRequest{SessionID: "session-1", RawText: text})
	var verr *validator.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{validator.IssueDialogueSparse}, verr.Codes())

	repos = newRepos(models.SessionConfig{models.ConfigKeyMultiVoice: "false"})
	result, err := newService(repos, &fakeAI{}).AcceptScene(context.Background(), AcceptRequest{SessionID: "session-1", RawText: text})
	require.NoError(t, err)
	assert.Equal(t, 350, result.Scene.WordCount)
}

func TestAcceptSceneBypass(t *testing.T) {
	repos := newRepos(nil)
	svc := newService(repos, &fakeAI{})

	text := "As an AI language model, I cannot write this."
	result, err := svc.AcceptScene(context.Background(), AcceptRequest{
		SessionID: "session-1",
		RawText:   text,
		Bypass:    &Bypass{Actor: "editor@story", Reason: "placeholder scene"},
	})

	require.NoError(t, err)
	assert.True(t, result.Bypassed)
	assert.NotEmpty(t, result.Issues)
	require.Len(t, repos.created, 1)
	require.Len(t, repos.bypasses, 1)
	assert.Equal(t, "editor@story", repos.bypasses[0].Actor)
	assert.Contains(t, repos.bypasses[0].Issues, validator.IssueGarbagePattern)
	assert.Equal(t, 9, result.Scene.WordCount)
}

func TestAcceptSceneBypassNotRecordedWhenCreateFails(t *testing.T) {
	repos := newRepos(nil)
	repos.createErr = apperrors.Conflict("сцена 0 уже существует в сессии session-1", nil)
	svc := newService(repos, &fakeAI{})

	_, err := svc.AcceptScene(context.Background(), AcceptRequest{
		SessionID: "session-1",
		RawText:   "As an AI language model, I cannot write this.",
		Bypass:    &Bypass{Actor: "editor@story", Reason: "placeholder scene"},
	})

	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	assert.Empty(t, repos.created)
	assert.Empty(t, repos.bypasses, "запись аудита без сцены не сохраняется")
}

func TestAcceptSceneBadRequest(t *testing.T) {
	svc := newService(newRepos(nil), &fakeAI{})

	_, err := svc.AcceptScene(context.Background(), AcceptRequest{
		SequenceIndex: -1,
		Bypass:        &Bypass{},
	})

	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.KindBadRequest, appErr.Kind)
	assert.Len(t, appErr.Details, 5)
}

func TestAcceptSceneUnknownSession(t *testing.T) {
	svc := newService(newRepos(nil), &fakeAI{})

	_, err := svc.AcceptScene(context.Background(), AcceptRequest{SessionID: "missing", RawText: taggedScene})

	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestGenerateScene(t *testing.T) {
	repos := newRepos(nil)
	client := &fakeAI{content: taggedScene}
	svc := newService(repos, client)

	messages := []ai.Message{{Role: ai.RoleUser, Content: "Continue the story."}}
	result, err := svc.GenerateScene(context.Background(), GenerateRequest{
		SessionID:     "session-1",
		SequenceIndex: 1,
		Messages:      messages,
		Mood:          "tense",
	})

	require.NoError(t, err)
	assert.Equal(t, messages, client.got)
	assert.Equal(t, taggedScene, result.Scene.RawText)
	assert.Equal(t, "tense", result.Scene.Mood)
}

func TestGenerateSceneErrors(t *testing.T) {
	repos := newRepos(nil)
	messages := []ai.Message{{Role: ai.RoleUser, Content: "Continue."}}

	_, err := newService(repos, &fakeAI{}).GenerateScene(context.Background(), GenerateRequest{SessionID: "session-1"})
	assert.Equal(t, apperrors.KindBadRequest, apperrors.KindOf(err))

	_, err = newService(repos, &fakeAI{err: ai.ErrDisabled}).GenerateScene(context.Background(),
		GenerateRequest{SessionID: "session-1", Messages: messages})
	assert.Equal(t, apperrors.KindBadRequest, apperrors.KindOf(err))

	_, err = newService(repos, &fakeAI{err: errors.New("upstream 500")}).GenerateScene(context.Background(),
		GenerateRequest{SessionID: "session-1", Messages: messages})
	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))

	_, err = newService(repos, &fakeAI{content: "I cannot continue this story."}).GenerateScene(context.Background(),
		GenerateRequest{SessionID: "session-1", Messages: messages})
	assert.Equal(t, apperrors.KindContentValidationFailed, apperrors.KindOf(err))
	assert.Empty(t, repos.created)
}
