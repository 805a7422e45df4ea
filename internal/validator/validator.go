package validator

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"story-voice/internal/apperrors"
)

// Пороговые значения проверок
const (
	MinDisplayChars = 100
	MinRawChars     = 50
	MinWords        = 20

	RepetitionMinTokens = 10
	MaxTokenShare       = 0.30

	MinSentenceChars    = 20
	MaxSentenceRepeats  = 3
	MinParagraphChars   = 40
	MaxParagraphRepeats = 2
	NGramSize           = 5
	MaxNGramRepeats     = 4
	DialogueCheckTokens = 300
	MinDialogueMarkers  = 3
	PreviewRunes        = 200
)

// Коды проблем
const (
	IssueTooShort          = "too_short"
	IssueGarbagePattern    = "garbage_pattern"
	IssueWordCount         = "word_count"
	IssueRepetition        = "repetition"
	IssueRepeatedSentence  = "repeated_sentence"
	IssueRepeatedParagraph = "repeated_paragraph"
	IssueNGramLoop         = "ngram_loop"
	IssueDialogueSparse    = "dialogue_sparse"
)

// Шаблоны мета-повествования, отказов и разметки в начале текста
var garbagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*i\s+(cannot|can't|can not|won't|will not|am unable)\b`),
	regexp.MustCompile(`(?i)^\s*(i'm|i am)\s+(sorry|unable|not able)\b`),
	regexp.MustCompile(`(?i)^\s*(sorry|i apologize|apologies)\b`),
	regexp.MustCompile(`(?i)^\s*as an? (ai|language model|large language model|assistant)\b`),
	regexp.MustCompile(`(?i)^\s*(here is|here's|here are)\b`),
	regexp.MustCompile(`(?i)^\s*(sure|certainly|of course|okay|ok)\s*[,!.:]`),
	regexp.MustCompile(`(?i)^\s*(in this scene|this scene|the following|below is|the next scene)\b`),
	regexp.MustCompile(`(?i)^\s*(note|scene|chapter|title|summary)\s*\d*\s*:`),
	regexp.MustCompile(`^\s*(` + "```" + `|<[a-zA-Z/!]|#|\{|\[INST\]|<\|)`),
}

var (
	sentenceSplit  = regexp.MustCompile(`[.!?]+`)
	paragraphSplit = regexp.MustCompile(`\n\s*\n`)
	quotedSpan     = regexp.MustCompile(`"[^"\n]{1,}"|“[^”\n]{1,}”|«[^»\n]{1,}»`)
	speakerTag     = regexp.MustCompile(`(?m)^\s*\[[^\]\n]+\]`)
)

// Options параметры проверки
type Options struct {
	MultiVoice bool
}

// Result результат успешной проверки
type Result struct {
	Valid     bool `json:"valid"`
	WordCount int  `json:"word_count"`
	CharCount int  `json:"char_count"`
}

// Issue одна найденная проблема
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError сгенерированный текст отклонен
type ValidationError struct {
	Issues  []Issue `json:"issues"`
	Preview string  `json:"preview"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("текст не прошел проверку: %s", strings.Join(e.Codes(), ", "))
}

// Unwrap связывает ошибку с типом ContentValidationFailed
func (e *ValidationError) Unwrap() error {
	details := make([]apperrors.Detail, 0, len(e.Issues))
	for _, issue := range e.Issues {
		details = append(details, apperrors.Detail{Field: issue.Code, Message: issue.Message})
	}
	return apperrors.New(apperrors.KindContentValidationFailed, "текст не прошел проверку", nil, details...)
}

// Has проверяет наличие проблемы с заданным кодом
func (e *ValidationError) Has(code string) bool {
	for _, issue := range e.Issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

// Codes возвращает коды проблем по порядку
func (e *ValidationError) Codes() []string {
	codes := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		codes = append(codes, issue.Code)
	}
	return codes
}

// Validate проверяет, что сгенерированный текст является пригодной сценой.
// Все проверки выполняются, проблемы собираются в одну ошибку.
func Validate(rawText, displayText string, opts Options) (*Result, error) {
	var issues []Issue
	add := func(code, format string, args ...any) {
		issues = append(issues, Issue{Code: code, Message: fmt.Sprintf(format, args...)})
	}

	displayChars := utf8.RuneCountInString(strings.TrimSpace(displayText))
	rawChars := utf8.RuneCountInString(strings.TrimSpace(rawText))
	if displayChars < MinDisplayChars || rawChars < MinRawChars {
		add(IssueTooShort, "текст слишком короткий: %d символов (минимум %d), исходный %d (минимум %d)",
			displayChars, MinDisplayChars, rawChars, MinRawChars)
	}

	for _, re := range garbagePatterns {
		if re.MatchString(displayText) {
			add(IssueGarbagePattern, "текст начинается со служебной фразы или разметки: %q", re.FindString(displayText))
			break
		}
	}

	tokens := strings.Fields(displayText)
	if len(tokens) < MinWords {
		add(IssueWordCount, "слишком мало слов: %d (минимум %d)", len(tokens), MinWords)
	}

	lowered := make([]string, len(tokens))
	for i, tok := range tokens {
		lowered[i] = strings.ToLower(tok)
	}

	if len(lowered) > RepetitionMinTokens {
		if word, share := topTokenShare(lowered); share > MaxTokenShare {
			add(IssueRepetition, "слово %q занимает %.0f%% текста", word, share*100)
		}
	}

	if sentence, n := mostRepeated(sentenceSplit.Split(displayText, -1), MinSentenceChars); n >= MaxSentenceRepeats {
		add(IssueRepeatedSentence, "предложение повторяется %d раз: %q", n, truncate(sentence, 60))
	}

	if paragraph, n := mostRepeated(paragraphSplit.Split(displayText, -1), MinParagraphChars); n >= MaxParagraphRepeats {
		add(IssueRepeatedParagraph, "абзац повторяется %d раз: %q", n, truncate(paragraph, 60))
	}

	if gram, n := mostRepeatedNGram(lowered, NGramSize); n >= MaxNGramRepeats {
		add(IssueNGramLoop, "фрагмент %q повторяется %d раз", gram, n)
	}

	if opts.MultiVoice && len(tokens) > DialogueCheckTokens {
		if markers := CountDialogueMarkers(displayText); markers < MinDialogueMarkers {
			add(IssueDialogueSparse, "найдено %d реплик диалога (минимум %d)", markers, MinDialogueMarkers)
		}
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues, Preview: truncate(displayText, PreviewRunes)}
	}

	return &Result{
		Valid:     true,
		WordCount: len(tokens),
		CharCount: displayChars,
	}, nil
}

// CountDialogueMarkers считает реплики в кавычках и строки с тегом говорящего
func CountDialogueMarkers(text string) int {
	return len(quotedSpan.FindAllStringIndex(text, -1)) + len(speakerTag.FindAllStringIndex(text, -1))
}

func topTokenShare(tokens []string) (string, float64) {
	counts := make(map[string]int, len(tokens))
	var top string
	var topCount int
	for _, tok := range tokens {
		counts[tok]++
		if counts[tok] > topCount {
			top, topCount = tok, counts[tok]
		}
	}
	return top, float64(topCount) / float64(len(tokens))
}

func mostRepeated(parts []string, minChars int) (string, int) {
	counts := make(map[string]int)
	var top string
	var topCount int
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if utf8.RuneCountInString(part) < minChars {
			continue
		}
		counts[part]++
		if counts[part] > topCount {
			top, topCount = part, counts[part]
		}
	}
	return top, topCount
}

func mostRepeatedNGram(tokens []string, n int) (string, int) {
	if len(tokens) < n {
		return "", 0
	}
	counts := make(map[string]int)
	var top string
	var topCount int
	for i := 0; i+n <= len(tokens); i++ {
		gram := strings.Join(tokens[i:i+n], " ")
		counts[gram]++
		if counts[gram] > topCount {
			top, topCount = gram, counts[gram]
		}
	}
	return top, topCount
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
