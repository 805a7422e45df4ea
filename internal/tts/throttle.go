package tts

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled ограничивает частоту обращений к провайдеру синтеза
type Throttled struct {
	next    Synthesizer
	limiter *rate.Limiter
}

// NewThrottled оборачивает провайдер ограничителем requestsPerSecond с запасом burst
func NewThrottled(next Synthesizer, requestsPerSecond float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Synthesize ждет разрешения ограничителя и вызывает провайдер
func (t *Throttled) Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("ожидание лимита запросов прервано: %w", err)
	}
	return t.next.Synthesize(ctx, req)
}
