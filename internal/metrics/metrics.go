package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics содержит все метрики приложения
type Metrics struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	// Счетчики
	validations     *prometheus.CounterVec
	validationIssue *prometheus.CounterVec
	renders         *prometheus.CounterVec
	aiRequests      *prometheus.CounterVec
	stuckRecovered  prometheus.Counter

	// Гистограммы
	synthesisTime  *prometheus.HistogramVec
	aiResponseTime *prometheus.HistogramVec
	batchSize      prometheus.Histogram

	// Gauge метрики
	rendersInFlight prometheus.Gauge

	// Мьютекс для thread-safety
	mu sync.RWMutex
}

// New создает новый экземпляр метрик на собственном реестре
func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),

		// Результаты проверки сгенерированного текста
		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scene_validations_total",
				Help: "Количество проверок сгенерированных сцен",
			},
			[]string{"result"}, // accepted, rejected, bypassed
		),

		validationIssue: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scene_validation_issues_total",
				Help: "Количество найденных проблем по коду",
			},
			[]string{"code"},
		),

		// Рендер сегментов
		renders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "segment_renders_total",
				Help: "Количество рендеров сегментов",
			},
			[]string{"mode", "status"}, // mode: single, batch, preview; status: success, failed
		),

		aiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ai_requests_total",
				Help: "Общее количество запросов к AI",
			},
			[]string{"provider", "status"},
		),

		stuckRecovered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stuck_renders_recovered_total",
				Help: "Количество зависших рендеров, переведенных в ошибку",
			},
		),

		synthesisTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "synthesis_duration_seconds",
				Help:    "Время синтеза речи в секундах",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
			},
			[]string{"status"},
		),

		aiResponseTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ai_response_time_seconds",
				Help:    "Время ответа AI в секундах",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "render_batch_size",
				Help:    "Количество сегментов в одном массовом рендере",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200},
			},
		),

		rendersInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "segment_renders_in_flight",
				Help: "Количество сегментов в процессе рендера",
			},
		),
	}

	// Регистрируем все метрики
	m.registry.MustRegister(
		m.validations,
		m.validationIssue,
		m.renders,
		m.aiRequests,
		m.stuckRecovered,
		m.synthesisTime,
		m.aiResponseTime,
		m.batchSize,
		m.rendersInFlight,
	)

	return m
}

// IncrementCounter увеличивает счетчик
func (m *Metrics) IncrementCounter(name string, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var counter *prometheus.CounterVec

	switch name {
	case "scene_validations_total":
		counter = m.validations
	case "scene_validation_issues_total":
		counter = m.validationIssue
	case "segment_renders_total":
		counter = m.renders
	case "ai_requests_total":
		counter = m.aiRequests
	case "stuck_renders_recovered_total":
		m.stuckRecovered.Inc()
		return
	default:
		m.logger.Error("неизвестная метрика", zap.String("name", name))
		return
	}

	counter.WithLabelValues(labels...).Inc()
	m.logger.Debug("метрика увеличена", zap.String("metric", name), zap.Strings("labels", labels))
}

// SetGauge устанавливает значение gauge метрики
func (m *Metrics) SetGauge(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "segment_renders_in_flight":
		m.rendersInFlight.Set(value)
	default:
		m.logger.Error("неизвестная gauge метрика", zap.String("name", name))
		return
	}
}

// ObserveHistogram добавляет наблюдение в гистограмму
func (m *Metrics) ObserveHistogram(name string, value float64, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "synthesis_duration_seconds":
		m.synthesisTime.WithLabelValues(labels...).Observe(value)
	case "ai_response_time_seconds":
		m.aiResponseTime.WithLabelValues(labels...).Observe(value)
	case "render_batch_size":
		m.batchSize.Observe(value)
	default:
		m.logger.Error("неизвестная гистограмма", zap.String("name", name))
		return
	}
}

// RecordValidation записывает итог проверки сцены и найденные проблемы
func (m *Metrics) RecordValidation(result string, issueCodes []string) {
	m.IncrementCounter("scene_validations_total", result)
	for _, code := range issueCodes {
		m.IncrementCounter("scene_validation_issues_total", code)
	}
}

// RecordRender записывает результат рендера сегмента
func (m *Metrics) RecordRender(mode string, success bool) {
	m.IncrementCounter("segment_renders_total", mode, status(success))
}

// RecordSynthesis записывает длительность обращения к провайдеру синтеза
func (m *Metrics) RecordSynthesis(success bool, seconds float64) {
	m.ObserveHistogram("synthesis_duration_seconds", seconds, status(success))
}

// RecordBatch записывает размер массового рендера
func (m *Metrics) RecordBatch(size int) {
	m.ObserveHistogram("render_batch_size", float64(size))
}

// SetInFlight обновляет количество рендеров в процессе
func (m *Metrics) SetInFlight(n int) {
	m.SetGauge("segment_renders_in_flight", float64(n))
}

// RecordAIRequest записывает запрос к AI
func (m *Metrics) RecordAIRequest(provider string, success bool, responseTime float64) {
	m.IncrementCounter("ai_requests_total", provider, status(success))
	m.ObserveHistogram("ai_response_time_seconds", responseTime, provider)
}

// RecordStuckRecovered записывает перевод зависшего рендера в ошибку
func (m *Metrics) RecordStuckRecovered(n int) {
	for i := 0; i < n; i++ {
		m.IncrementCounter("stuck_renders_recovered_total")
	}
}

// Registry возвращает реестр метрик
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler возвращает HTTP handler для метрик
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}
