package validator

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"story-voice/internal/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const filler = "Mara crossed the harbor before dawn, counting the boats that still carried lanterns. " +
	"Salt wind pushed against her coat while gulls argued over scraps near the fish market. " +
	"She remembered her brother's promise to meet at the chapel bell."

const lighthouse = "The old lighthouse keeper watched the storm roll in. "

// longScene собирает текст из одного абзаца без диалогов, 350 слов
func longScene() string {
	var b strings.Builder
	for i := 1; i <= 35; i++ {
		if i > 1 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "Lantern %d flickered over gate %d as rain %d fell.", i, 1000+i, 2000+i)
	}
	return b.String()
}

func validationError(t *testing.T, err error) *ValidationError {
	t.Helper()
	require.Error(t, err)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr), "ожидалась ValidationError, получено %T", err)
	return vErr
}

func TestValidateAcceptsStory(t *testing.T) {
	text := filler + " " + lighthouse + lighthouse

	result, err := Validate(text, text, Options{MultiVoice: false})

	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, len(strings.Fields(text)), result.WordCount)
	assert.Equal(t, utf8.RuneCountInString(strings.TrimSpace(text)), result.CharCount)
}

func TestValidateIssues(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		display string
		opts    Options
		want    []string
		notWant []string
	}{
		{
			name:    "меньше 20 слов",
			display: "The rain fell on the quiet village as the night grew long and cold over every roof.",
			want:    []string{IssueWordCount},
		},
		{
			name:    "одно слово занимает больше 30%",
			display: "echo stone echo river echo cloud echo field echo shadow echo light echo sand and boats drifted past",
			want:    []string{IssueRepetition},
		},
		{
			name:    "предложение повторено трижды",
			display: filler + " " + lighthouse + lighthouse + lighthouse,
			want:    []string{IssueRepeatedSentence},
			notWant: []string{IssueNGramLoop, IssueRepetition},
		},
		{
			name:    "предложение повторено дважды",
			display: filler + " " + lighthouse + lighthouse,
			notWant: []string{IssueRepeatedSentence},
		},
		{
			name: "абзац повторен дважды",
			display: "The caravan stopped at the edge of the dunes and waited for the wind.\n\n" +
				filler + "\n\n" +
				"The caravan stopped at the edge of the dunes and waited for the wind.",
			want:    []string{IssueRepeatedParagraph},
			notWant: []string{IssueRepeatedSentence},
		},
		{
			name: "зацикленный фрагмент из пяти слов",
			display: filler + " At dawn we walk to the sea again. By noon we walk to the sea with bread. " +
				"At dusk we walk to the sea in silence. Late at night we walk to the sea under stars.",
			want:    []string{IssueNGramLoop},
			notWant: []string{IssueRepeatedSentence},
		},
		{
			name:    "отказ модели в начале текста",
			display: "I cannot continue this story. " + filler,
			want:    []string{IssueGarbagePattern},
		},
		{
			name:    "разметка вместо прозы",
			display: "```markdown\n" + filler,
			want:    []string{IssueGarbagePattern},
		},
		{
			name:    "мета-повествование",
			display: "In this scene, " + filler,
			want:    []string{IssueGarbagePattern},
		},
		{
			name:    "ответ языковой модели",
			raw:     "As an AI language model, I cannot write this.",
			display: "As an AI language model, I cannot write this.",
			want:    []string{IssueGarbagePattern, IssueWordCount, IssueTooShort},
		},
		{
			name:    "мало диалогов в многоголосом режиме",
			display: longScene(),
			opts:    Options{MultiVoice: true},
			want:    []string{IssueDialogueSparse},
		},
		{
			name:    "короткий исходный текст",
			raw:     "short raw",
			display: filler,
			want:    []string{IssueTooShort},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.raw
			if raw == "" {
				raw = tt.display
			}

			_, err := Validate(raw, tt.display, tt.opts)

			if len(tt.want) == 0 {
				if err == nil {
					return
				}
				vErr := validationError(t, err)
				for _, code := range tt.notWant {
					assert.False(t, vErr.Has(code), "лишняя проблема %s: %v", code, vErr.Codes())
				}
				return
			}

			vErr := validationError(t, err)
			for _, code := range tt.want {
				assert.True(t, vErr.Has(code), "нет проблемы %s: %v", code, vErr.Codes())
			}
			for _, code := range tt.notWant {
				assert.False(t, vErr.Has(code), "лишняя проблема %s: %v", code, vErr.Codes())
			}
		})
	}
}

func TestValidateGarbagePatternReportedOnce(t *testing.T) {
	text := "Sorry, I cannot continue this story. " + filler

	_, err := Validate(text, text, Options{})

	vErr := validationError(t, err)
	count := 0
	for _, issue := range vErr.Issues {
		if issue.Code == IssueGarbagePattern {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestValidateDialogueSparsityDependsOnMode(t *testing.T) {
	text := longScene()
	require.Len(t, strings.Fields(text), 350)

	_, err := Validate(text, text, Options{MultiVoice: true})
	vErr := validationError(t, err)
	assert.Equal(t, []string{IssueDialogueSparse}, vErr.Codes())

	result, err := Validate(text, text, Options{MultiVoice: false})
	require.NoError(t, err)
	assert.Equal(t, 350, result.WordCount)
}

func TestValidateDialogueRichSceneInMultiVoice(t *testing.T) {
	text := `"Hold the gate," Mara said. "Not yet," Ivo answered. "Then when?" she asked. ` + longScene()

	_, err := Validate(text, text, Options{MultiVoice: true})

	assert.NoError(t, err)
}

func TestValidationErrorKindAndPreview(t *testing.T) {
	text := "I cannot " + strings.Repeat("x", 400)

	_, err := Validate(text, text, Options{})

	vErr := validationError(t, err)
	assert.Equal(t, PreviewRunes, utf8.RuneCountInString(vErr.Preview))
	assert.Equal(t, apperrors.KindContentValidationFailed, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), IssueGarbagePattern)
}

func TestCountDialogueMarkers(t *testing.T) {
	text := "\"Hello,\" she said.\n[Mara] We leave at dawn.\n  [Ivo|angry]: Not without me.\nThe road was quiet. «Wait», he whispered."

	assert.Equal(t, 4, CountDialogueMarkers(text))
	assert.Equal(t, 0, CountDialogueMarkers("No dialogue here at all [inline] brackets."))
}
