package mediator

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// config содержит неэкспортируемую конфигурацию диспетчера.
type config struct {
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	propagator     propagation.TextMapPropagator
	middlewares    []Middleware
	strictPublish  bool
	maxConcurrency int
}

// Option определяет тип для функциональных опций диспетчера.
type Option func(*config)

// WithLogger возвращает опцию, которая включает логирование диспетчеризации.
// Без логгера диспетчер ничего не пишет в лог.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithTracerProvider возвращает опцию, которая устанавливает провайдер трассировки.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(c *config) {
		c.tracerProvider = provider
	}
}

// WithMeterProvider возвращает опцию, которая устанавливает провайдер метрик.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(c *config) {
		c.meterProvider = provider
	}
}

// WithPropagator возвращает опцию, которая устанавливает механизм распространения контекста.
func WithPropagator(propagator propagation.TextMapPropagator) Option {
	return func(c *config) {
		c.propagator = propagator
	}
}

// WithMiddleware возвращает опцию, которая добавляет пользовательские middleware.
// Они выполняются после встроенных, в порядке добавления.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *config) {
		c.middlewares = append(c.middlewares, mw...)
	}
}

// WithStrictPublish включает строгий режим публикации: уведомление без
// обработчиков завершается ошибкой ErrNoHandlerFound.
func WithStrictPublish() Option {
	return func(c *config) {
		c.strictPublish = true
	}
}

// WithMaxConcurrency ограничивает число одновременно выполняемых обработчиков
// одного вызова Publish. Ноль или отрицательное значение снимает ограничение.
func WithMaxConcurrency(n int) Option {
	return func(c *config) {
		c.maxConcurrency = n
	}
}
