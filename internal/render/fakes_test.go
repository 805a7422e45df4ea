package render

import (
	"context"
	"sync"
	"time"

	"story-voice/internal/apperrors"
	"story-voice/internal/store"
	"story-voice/internal/tts"
	"story-voice/pkg/models"
)

// memStore хранилище сцен, сессий и персонажей в памяти
type memStore struct {
	mu         sync.Mutex
	scenes     []models.Scene
	sessions   map[string]*models.StorySession
	characters []models.Character
}

func (m *memStore) GetBySegmentID(ctx context.Context, segmentID string) (*models.Scene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, scene := range m.scenes {
		if scene.FindSegment(segmentID) >= 0 {
			copied := scene
			copied.DialogueMap.Segments = append([]models.Segment(nil), scene.DialogueMap.Segments...)
			return &copied, nil
		}
	}
	return nil, apperrors.NotFound("сегмент", segmentID)
}

func (m *memStore) UpdateSegment(ctx context.Context, segmentID string, fn store.SegmentUpdateFunc) (*models.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for n, scene := range m.scenes {
		i := scene.FindSegment(segmentID)
		if i < 0 {
			continue
		}
		seg, err := fn(&scene, scene.DialogueMap.Segments[i])
		if err != nil {
			return nil, err
		}
		seg.ID = segmentID
		seg.SceneID = scene.ID
		m.scenes[n] = scene.WithSegment(seg)
		return &seg, nil
	}
	return nil, apperrors.NotFound("сегмент", segmentID)
}

func (m *memStore) UpdateSessionSegments(ctx context.Context, sessionID string, fn store.SegmentsUpdateFunc) ([]models.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changed []models.Segment
	for n, scene := range m.scenes {
		if scene.SessionID != sessionID {
			continue
		}
		for _, seg := range scene.DialogueMap.Segments {
			updated, ok := fn(seg)
			if !ok {
				continue
			}
			scene = scene.WithSegment(updated)
			changed = append(changed, updated)
		}
		m.scenes[n] = scene
	}
	return changed, nil
}

func (m *memStore) ListStuckRendering(ctx context.Context, startedBefore time.Time) ([]models.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Segment
	for _, scene := range m.scenes {
		for _, seg := range scene.DialogueMap.Segments {
			if seg.RenderStatus == models.RenderRendering && (seg.RenderStartedAt == nil || seg.RenderStartedAt.Before(startedBefore)) {
				out = append(out, seg)
			}
		}
	}
	return out, nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*models.StorySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("сессия", id)
	}
	copied := *session
	return &copied, nil
}

func (m *memStore) ListBySession(ctx context.Context, sessionID string) ([]models.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Character
	for _, c := range m.characters {
		if c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) UpdateVoice(ctx context.Context, id, voiceID, voiceName string) (*models.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.characters {
		if m.characters[i].ID == id {
			m.characters[i].VoiceID = voiceID
			m.characters[i].VoiceName = voiceName
			c := m.characters[i]
			return &c, nil
		}
	}
	return nil, apperrors.NotFound("персонаж", id)
}

// segment возвращает текущее сохраненное состояние сегмента
func (m *memStore) segment(id string) models.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, scene := range m.scenes {
		if i := scene.FindSegment(id); i >= 0 {
			return scene.DialogueMap.Segments[i]
		}
	}
	return models.Segment{}
}

// fakeSynth синтезатор, возвращающий текст как аудио
type fakeSynth struct {
	mu       sync.Mutex
	requests []tts.SynthesisRequest
	fail     map[string]error
	// entered и gate, если заданы, приостанавливают синтез до закрытия gate
	entered  chan string
	gate     chan struct{}
}

func (f *fakeSynth) Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.SynthesisResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	err := f.fail[req.Text]
	entered, gate := f.entered, f.gate
	f.mu.Unlock()

	if gate != nil {
		entered <- req.Text
		<-gate
	}

	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tts.SynthesisResult{Audio: []byte(req.Text), ContentType: "audio/mpeg"}, nil
}

func (f *fakeSynth) calls() []tts.SynthesisRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tts.SynthesisRequest(nil), f.requests...)
}

// memAudio хранилище аудио в памяти
type memAudio struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (a *memAudio) Save(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.files == nil {
		a.files = make(map[string][]byte)
	}
	a.files[key] = data
	return "/audio/" + key, nil
}

func (a *memAudio) Delete(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.files, key)
	return nil
}

// recorder собирает опубликованные уведомления
type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) Publish(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) events(segmentID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, u := range r.updates {
		if u.SegmentID == segmentID {
			out = append(out, u.Event)
		}
	}
	return out
}
