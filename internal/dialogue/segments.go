package dialogue

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"story-voice/internal/voice"
	"story-voice/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MinCoverage доля текста, которая должна попасть в сегменты
const MinCoverage = 0.9

// speakerTagRe тег говорящего: [Mara], [Mara|angry], [Mara: angry], с необязательным двоеточием после.
// Где тег допустим, решает tagMatches.
var speakerTagRe = regexp.MustCompile(`\[\s*([^\[\]|:\n]+?)\s*(?:[|:]\s*([^\[\]\n]*?)\s*)?\]:?[ \t]*`)

// Delivery параметры подачи, предлагаемые для эмоции
type Delivery struct {
	Stability float64
	Style     float64
}

var emotionTable = map[string]Delivery{
	"neutral":   {Stability: 0.5, Style: 0.0},
	"calm":      {Stability: 0.7, Style: 0.1},
	"happy":     {Stability: 0.45, Style: 0.35},
	"excited":   {Stability: 0.3, Style: 0.55},
	"sad":       {Stability: 0.6, Style: 0.3},
	"angry":     {Stability: 0.3, Style: 0.6},
	"fearful":   {Stability: 0.35, Style: 0.5},
	"surprised": {Stability: 0.4, Style: 0.45},
	"tense":     {Stability: 0.4, Style: 0.4},
	"whisper":   {Stability: 0.65, Style: 0.2},
}

// DeliveryFor возвращает параметры подачи для эмоции; неизвестные эмоции получают нейтральные значения
func DeliveryFor(emotion string) Delivery {
	if d, ok := emotionTable[strings.ToLower(strings.TrimSpace(emotion))]; ok {
		return d
	}
	return emotionTable[models.DefaultEmotion]
}

// Builder разбивает размеченный текст сцены на сегменты
type Builder struct {
	logger *zap.Logger
}

// NewBuilder создает новый Builder
func NewBuilder(logger *zap.Logger) *Builder {
	return &Builder{logger: logger}
}

type span struct {
	speaker string
	emotion string
	text    string
}

// BuildSegments разбивает текст на сегменты в исходном порядке.
// Тег действует до следующего тега или конца строки, текст без тега читает рассказчик.
// Неизвестные говорящие озвучиваются рассказчиком.
func (b *Builder) BuildSegments(taggedText string, characters []models.Character) []models.Segment {
	idx := voice.NewIndex(characters, "")

	var segments []models.Segment
	for _, sp := range splitSpans(taggedText) {
		seg := b.newSegment(sp, idx)
		if n := len(segments); n > 0 && mergeable(segments[n-1], seg) {
			segments[n-1].Text += "\n" + seg.Text
			continue
		}
		segments = append(segments, seg)
	}

	for i := range segments {
		segments[i].ID = uuid.NewString()
	}

	b.checkCoverage(taggedText, segments)
	return segments
}

func (b *Builder) newSegment(sp span, idx *voice.Index) models.Segment {
	emotion := strings.ToLower(strings.TrimSpace(sp.emotion))
	if emotion == "" {
		emotion = models.DefaultEmotion
	}
	delivery := DeliveryFor(emotion)
	stability, style := delivery.Stability, delivery.Style

	seg := models.Segment{
		Speaker:      models.NarratorName,
		Text:         sp.text,
		Type:         models.SegmentNarrator,
		VoiceRole:    models.VoiceRoleNarrator,
		AIEmotion:    emotion,
		AIStability:  &stability,
		AIStyle:      &style,
		RenderStatus: models.RenderPending,
	}

	if sp.speaker == "" || strings.EqualFold(sp.speaker, models.NarratorName) {
		return seg
	}

	seg.Type = models.SegmentDialogue
	character, ok := idx.Lookup(sp.speaker)
	if !ok {
		b.logger.Debug("неизвестный говорящий, сегмент отдан рассказчику",
			zap.String("speaker", sp.speaker))
		return seg
	}

	seg.Speaker = character.Name
	seg.VoiceRole = models.VoiceRoleCharacter
	return seg
}

func mergeable(prev, next models.Segment) bool {
	return prev.Speaker == next.Speaker &&
		prev.Type == next.Type &&
		prev.VoiceRole == next.VoiceRole &&
		prev.AIEmotion == next.AIEmotion
}

// sentenceEnd символы, после которых внутри строки может начаться новый тег
const sentenceEnd = `.!?…"»”`

// tagMatches возвращает теги говорящих в строке. Тег признается только в начале
// строки или после конца предложения, скобки внутри фразы остаются текстом.
func tagMatches(line string) [][]int {
	var tags [][]int
	prevEnd := 0
	for _, m := range speakerTagRe.FindAllStringSubmatchIndex(line, -1) {
		if !tagAllowed(line[prevEnd:m[0]], len(tags) == 0) {
			continue
		}
		tags = append(tags, m)
		prevEnd = m[1]
	}
	return tags
}

// tagAllowed проверяет текст между предыдущим тегом (или началом строки) и кандидатом
func tagAllowed(before string, first bool) bool {
	if strings.TrimSpace(before) == "" {
		return first
	}
	trimmed := strings.TrimRightFunc(before, unicode.IsSpace)
	if len(trimmed) == len(before) {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(trimmed)
	return strings.ContainsRune(sentenceEnd, r)
}

// splitSpans делит текст по тегам; пустые фрагменты отбрасываются
func splitSpans(text string) []span {
	var spans []span
	for _, line := range strings.Split(text, "\n") {
		matches := tagMatches(line)
		if len(matches) == 0 {
			spans = appendSpan(spans, span{text: line})
			continue
		}

		spans = appendSpan(spans, span{text: line[:matches[0][0]]})
		for i, m := range matches {
			end := len(line)
			if i+1 < len(matches) {
				end = matches[i+1][0]
			}
			sp := span{
				speaker: strings.TrimSpace(line[m[2]:m[3]]),
				text:    line[m[1]:end],
			}
			if m[4] >= 0 {
				sp.emotion = line[m[4]:m[5]]
			}
			spans = appendSpan(spans, sp)
		}
	}
	return spans
}

func appendSpan(spans []span, sp span) []span {
	sp.text = strings.TrimSpace(sp.text)
	if sp.text == "" {
		return spans
	}
	return append(spans, sp)
}

// StripSpeakerTags удаляет теги говорящих, оставляя текст реплик
func StripSpeakerTags(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(stripTags(line), unicode.IsSpace)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func stripTags(line string) string {
	var b strings.Builder
	prev := 0
	for _, m := range tagMatches(line) {
		b.WriteString(line[prev:m[0]])
		prev = m[1]
	}
	b.WriteString(line[prev:])
	return b.String()
}

// Coverage доля непробельных символов текста без тегов, попавшая в сегменты
func Coverage(taggedText string, segments []models.Segment) float64 {
	total := countVisible(StripSpeakerTags(taggedText))
	if total == 0 {
		return 1
	}
	covered := 0
	for _, seg := range segments {
		covered += countVisible(seg.Text)
	}
	return float64(covered) / float64(total)
}

func (b *Builder) checkCoverage(taggedText string, segments []models.Segment) {
	if coverage := Coverage(taggedText, segments); coverage < MinCoverage {
		b.logger.Warn("сегменты покрывают не весь текст сцены, возможна потеря текста",
			zap.Float64("coverage", coverage),
			zap.Int("segments", len(segments)))
	}
}

func countVisible(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
