package mediator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-reflect"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName    = "github.com/x-research-team/dtx-mediator/bus/mediator"
	instrumentationVersion = "0.1.0"
	metricKeyPrefix        = "messaging."
)

// Middleware определяет интерфейс для middleware диспетчера.
// Middleware обязано возвращать результат и ошибку следующего звена без изменений.
type Middleware interface {
	Wrap(next Provider) Provider
}

// MiddlewareFunc является адаптером, позволяющим использовать обычные функции как middleware.
type MiddlewareFunc func(next Provider) Provider

// Wrap реализует интерфейс Middleware.
func (f MiddlewareFunc) Wrap(next Provider) Provider {
	return f(next)
}

// loggingMiddleware реализует Middleware для логирования диспетчеризации.
type loggingMiddleware struct {
	logger *slog.Logger
}

// NewLoggingMiddleware создает новое middleware для логирования.
// Если логгер не предоставлен (nil), возвращается no-op middleware.
func NewLoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		return &noopMiddleware{}
	}
	return &loggingMiddleware{
		logger: logger,
	}
}

// Wrap оборачивает провайдер для добавления логирования.
func (m *loggingMiddleware) Wrap(next Provider) Provider {
	return &loggingProvider{
		next:   next,
		logger: m.logger,
	}
}

// loggingProvider - это обертка над провайдером, которая добавляет логирование.
type loggingProvider struct {
	next   Provider
	logger *slog.Logger
}

// Dispatch логирует и отправляет команду или запрос.
func (p *loggingProvider) Dispatch(ctx context.Context, env Envelope) (result any, err error) {
	msgType, msgID := getMessageTypeAndID(env.Message)
	dispatchID := uuid.NewString()
	p.logger.Info("диспетчеризация "+env.Kind.label(),
		slog.String("message_kind", env.Kind.String()),
		slog.String("message_type", msgType),
		slog.String("message_id", msgID),
		slog.String("dispatch_id", dispatchID),
	)

	startTime := time.Now()
	defer func() {
		duration := time.Since(startTime)
		if err != nil {
			p.logger.Error("ошибка диспетчеризации "+env.Kind.label(),
				slog.String("message_kind", env.Kind.String()),
				slog.String("message_type", msgType),
				slog.String("dispatch_id", dispatchID),
				slog.Any("error", err),
				slog.Duration("duration", duration),
			)
			return
		}
		p.logger.Debug("диспетчеризация "+env.Kind.label()+" завершена",
			slog.String("message_type", msgType),
			slog.String("dispatch_id", dispatchID),
			slog.Duration("duration", duration),
		)
	}()

	return p.next.Dispatch(ctx, env)
}

// Publish логирует и публикует уведомление.
func (p *loggingProvider) Publish(ctx context.Context, n Notification) (err error) {
	msgType, msgID := getMessageTypeAndID(n)
	dispatchID := uuid.NewString()
	p.logger.Info("публикация уведомления",
		slog.String("message_type", msgType),
		slog.String("message_id", msgID),
		slog.String("dispatch_id", dispatchID),
	)

	startTime := time.Now()
	defer func() {
		duration := time.Since(startTime)
		if err == nil {
			p.logger.Debug("публикация уведомления завершена",
				slog.String("message_type", msgType),
				slog.String("dispatch_id", dispatchID),
				slog.Duration("duration", duration),
			)
			return
		}
		attrs := []any{
			slog.String("message_type", msgType),
			slog.String("dispatch_id", dispatchID),
			slog.Any("error", err),
			slog.Duration("duration", duration),
		}
		var agg *AggregateHandlerError
		if errors.As(err, &agg) {
			attrs = append(attrs, slog.Any("failed_handlers", agg.Handlers()))
		}
		p.logger.Error("ошибка публикации уведомления", attrs...)
	}()

	return p.next.Publish(ctx, n)
}

// metricsMiddleware реализует Middleware для сбора метрик OpenTelemetry.
type metricsMiddleware struct {
	dispatchCounter     metric.Int64Counter
	publishCounter      metric.Int64Counter
	processDurationHist metric.Float64Histogram
}

// NewMetricsMiddleware создает новое middleware для сбора метрик.
func NewMetricsMiddleware(provider metric.MeterProvider) Middleware {
	if provider == nil {
		return &noopMiddleware{}
	}

	meter := provider.Meter(instrumentationName)

	dispatchCounter, err := meter.Int64Counter(
		metricKeyPrefix+"dispatch.count",
		metric.WithDescription("Количество отправленных команд и запросов"),
		metric.WithUnit("{messages}"),
	)
	if err != nil {
		panic(fmt.Sprintf("не удалось создать счетчик dispatch.count: %v", err))
	}

	publishCounter, err := meter.Int64Counter(
		metricKeyPrefix+"publish.count",
		metric.WithDescription("Количество опубликованных уведомлений"),
		metric.WithUnit("{notifications}"),
	)
	if err != nil {
		panic(fmt.Sprintf("не удалось создать счетчик publish.count: %v", err))
	}

	processDurationHist, err := meter.Float64Histogram(
		metricKeyPrefix+"process.duration",
		metric.WithDescription("Длительность обработки сообщения"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic(fmt.Sprintf("не удалось создать гистограмму process.duration: %v", err))
	}

	return &metricsMiddleware{
		dispatchCounter:     dispatchCounter,
		publishCounter:      publishCounter,
		processDurationHist: processDurationHist,
	}
}

// Wrap оборачивает провайдер для добавления сбора метрик.
func (m *metricsMiddleware) Wrap(next Provider) Provider {
	return &metricsProvider{
		next:                next,
		dispatchCounter:     m.dispatchCounter,
		publishCounter:      m.publishCounter,
		processDurationHist: m.processDurationHist,
	}
}

// metricsProvider - это обертка над провайдером, которая собирает метрики.
type metricsProvider struct {
	next                Provider
	dispatchCounter     metric.Int64Counter
	publishCounter      metric.Int64Counter
	processDurationHist metric.Float64Histogram
}

// Dispatch собирает метрики и отправляет команду или запрос.
func (p *metricsProvider) Dispatch(ctx context.Context, env Envelope) (result any, err error) {
	startTime := time.Now()
	result, err = p.next.Dispatch(ctx, env)
	duration := float64(time.Since(startTime)) / float64(time.Millisecond)

	msgType, _ := getMessageTypeAndID(env.Message)
	attrs := metric.WithAttributes(
		attribute.String("message.kind", env.Kind.String()),
		attribute.String("message.type", msgType),
		attribute.String("status", statusOf(err)),
	)

	p.dispatchCounter.Add(ctx, 1, attrs)
	p.processDurationHist.Record(ctx, duration, attrs)

	return result, err
}

// Publish собирает метрики и публикует уведомление.
func (p *metricsProvider) Publish(ctx context.Context, n Notification) (err error) {
	startTime := time.Now()
	err = p.next.Publish(ctx, n)
	duration := float64(time.Since(startTime)) / float64(time.Millisecond)

	msgType, _ := getMessageTypeAndID(n)
	attrs := metric.WithAttributes(
		attribute.String("message.kind", KindNotification.String()),
		attribute.String("message.type", msgType),
		attribute.String("status", statusOf(err)),
	)

	p.publishCounter.Add(ctx, 1, attrs)
	p.processDurationHist.Record(ctx, duration, attrs)

	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// tracingMiddleware реализует Middleware для распределенной трассировки OpenTelemetry.
type tracingMiddleware struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracingMiddleware создает новое middleware для трассировки.
func NewTracingMiddleware(tp trace.TracerProvider, p propagation.TextMapPropagator) Middleware {
	if tp == nil {
		return &noopMiddleware{}
	}

	if p == nil {
		p = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	}

	return &tracingMiddleware{
		tracer: tp.Tracer(
			instrumentationName,
			trace.WithInstrumentationVersion(instrumentationVersion),
		),
		propagator: p,
	}
}

// Wrap оборачивает провайдер для добавления логики трассировки.
func (m *tracingMiddleware) Wrap(next Provider) Provider {
	return &tracingProvider{
		next:       next,
		tracer:     m.tracer,
		propagator: m.propagator,
	}
}

// tracingProvider - это обертка над провайдером, которая управляет спанами трассировки.
type tracingProvider struct {
	next       Provider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// Dispatch извлекает контекст трассировки из метаданных сообщения и создает спан обработки.
func (p *tracingProvider) Dispatch(ctx context.Context, env Envelope) (result any, err error) {
	if md := metadataOf(env.Message); md != nil {
		ctx = p.propagator.Extract(ctx, propagation.MapCarrier(md))
	}

	msgType, _ := getMessageTypeAndID(env.Message)
	spanName := fmt.Sprintf("%s %s", msgType, env.Kind)

	ctx, span := p.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("messaging.message.kind", env.Kind.String()),
			attribute.String("messaging.message.type", msgType),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	return p.next.Dispatch(ctx, env)
}

// Publish создает спан публикации. Обработчики получают спан через ctx,
// метаданные уведомления не изменяются.
func (p *tracingProvider) Publish(ctx context.Context, n Notification) (err error) {
	msgType, _ := getMessageTypeAndID(n)
	spanName := fmt.Sprintf("%s publish", msgType)

	ctx, span := p.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.message.kind", KindNotification.String()),
			attribute.String("messaging.message.type", msgType),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	return p.next.Publish(ctx, n)
}

// applyMiddlewares применяет цепочку middleware к базовому провайдеру.
// Первое middleware в списке оказывается внешним.
func applyMiddlewares(provider Provider, middlewares ...Middleware) Provider {
	p := provider
	for i := len(middlewares) - 1; i >= 0; i-- {
		p = middlewares[i].Wrap(p)
	}
	return p
}

// noopMiddleware представляет собой пустое middleware.
type noopMiddleware struct{}

// Wrap просто возвращает следующий провайдер без изменений.
func (m *noopMiddleware) Wrap(next Provider) Provider {
	return next
}

func metadataOf(msg any) map[string]string {
	if md, ok := msg.(Metadatable); ok {
		return md.Metadata()
	}
	return nil
}

// getMessageTypeAndID извлекает тип и ID сообщения с помощью рефлексии.
func getMessageTypeAndID(msg any) (string, string) {
	msgID := "unknown"
	val := reflect.ValueOf(msg)
	if !val.IsValid() {
		return "nil", msgID
	}
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return messageName(msg), msgID
		}
		val = val.Elem()
	}

	if val.Kind() == reflect.Struct {
		if idField := val.FieldByName("ID"); idField.IsValid() && idField.CanInterface() {
			msgID = fmt.Sprintf("%v", idField.Interface())
		}
	}

	return val.Type().Name(), msgID
}
