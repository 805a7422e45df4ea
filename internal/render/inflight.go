package render

import "sync"

// InFlight множество id сегментов, рендер которых сейчас выполняется
type InFlight struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewInFlight создает пустое множество
func NewInFlight() *InFlight {
	return &InFlight{ids: make(map[string]struct{})}
}

// TryAcquire добавляет id, если его еще нет. Возвращает false, если рендер уже идет.
func (f *InFlight) TryAcquire(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.ids[id]; ok {
		return false
	}
	f.ids[id] = struct{}{}
	return true
}

// Release удаляет id после завершения рендера
func (f *InFlight) Release(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ids, id)
}

// Has проверяет наличие id
func (f *InFlight) Has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.ids[id]
	return ok
}

// Len возвращает количество рендеров в процессе
func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}
