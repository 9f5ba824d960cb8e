package mediator_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/x-research-team/dtx-mediator/bus/mediator"
)

// syncBuffer - потокобезопасный буфер для перехвата логов.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// Тест логирования успешной и неуспешной диспетчеризации.
func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	logger, logs := newTestLogger()
	registry := newProductRegistry(t, &auditLogHandler{},
		mediator.NotificationRegistration(mediator.Singleton[mediator.NotificationHandler[productCreated]](cacheInvalidateHandler{})),
	)
	m := newMediator(t, registry, mediator.WithLogger(logger))
	ctx := context.Background()

	resp, err := mediator.Send(ctx, m, createProductCommand{Name: "Pen", Price: 1.5})
	require.NoError(t, err)
	assert.Equal(t, "Pen", resp.Name, "Middleware не должно изменять ответ")

	_, err = mediator.Send(ctx, m, deleteProductCommand{ID: "42"})
	require.ErrorIs(t, err, mediator.ErrHandlerNotFound, "Middleware не должно изменять ошибку")

	err = mediator.Publish(ctx, m, productCreated{ID: resp.ID})
	require.Error(t, err)

	out := logs.String()
	assert.Contains(t, out, `"message_type":"createProductCommand"`)
	assert.Contains(t, out, `"message_kind":"command"`)
	assert.Contains(t, out, `"dispatch_id"`)
	assert.Contains(t, out, "ошибка диспетчеризации команды")
	assert.Contains(t, out, `"message_id":"42"`)
	assert.Contains(t, out, "ошибка публикации уведомления")
	assert.Contains(t, out, "cacheInvalidateHandler")
}

// Тест: без логгера диспетчер ничего не пишет.
func TestLoggingMiddleware_NilLogger(t *testing.T) {
	t.Parallel()

	mw := mediator.NewLoggingMiddleware(nil)
	core := &recordingProvider{onCall: func(mediator.Kind) {}}

	assert.Same(t, core, mw.Wrap(core), "Без логгера middleware должно возвращать провайдер без изменений")
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumByStatus(t *testing.T, m *metricdata.Metrics) map[string]int64 {
	t.Helper()

	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "Счетчик должен быть суммой int64")

	totals := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		totals[status.AsString()] += dp.Value
	}
	return totals
}

// Тест сбора метрик диспетчеризации и публикации.
func TestMetricsMiddleware(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})

	m := newMediator(t, newProductRegistry(t, &auditLogHandler{}), mediator.WithMeterProvider(provider))
	ctx := context.Background()

	_, err := mediator.Send(ctx, m, createProductCommand{Name: "Pen"})
	require.NoError(t, err)
	_, err = mediator.Send(ctx, m, deleteProductCommand{ID: "42"})
	require.Error(t, err)
	require.NoError(t, mediator.Publish(ctx, m, productCreated{ID: "42"}))

	rm := collectMetrics(t, reader)

	assert.Equal(t, map[string]int64{"success": 1, "error": 1},
		sumByStatus(t, findMetric(rm, "messaging.dispatch.count")))
	assert.Equal(t, map[string]int64{"success": 1},
		sumByStatus(t, findMetric(rm, "messaging.publish.count")))
	assert.NotNil(t, findMetric(rm, "messaging.process.duration"))
}

// Тест: длительность короче миллисекунды не округляется до нуля.
func TestMetricsMiddleware_SubMillisecondDuration(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})

	b := mediator.NewBuilder()
	require.NoError(t, mediator.RegisterCommandFunc(b, mediator.CommandHandlerFunc[deleteProductCommand, bool](
		func(context.Context, deleteProductCommand) (bool, error) {
			time.Sleep(100 * time.Microsecond)
			return true, nil
		},
	)))

	m := newMediator(t, b.Build(), mediator.WithMeterProvider(provider))
	ok, err := mediator.Send(context.Background(), m, deleteProductCommand{ID: "42"})
	require.NoError(t, err)
	require.True(t, ok)

	metric := findMetric(collectMetrics(t, reader), "messaging.process.duration")
	require.NotNil(t, metric)
	hist, ok := metric.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "Длительность должна быть гистограммой float64")
	require.Len(t, hist.DataPoints, 1)

	dp := hist.DataPoints[0]
	assert.Equal(t, uint64(1), dp.Count)
	assert.Greater(t, dp.Sum, 0.0, "Длительность должна учитывать доли миллисекунды")
}

func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return tp, exporter
}

func findSpan(spans tracetest.SpanStubs, name string) *tracetest.SpanStub {
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	return nil
}

// Тест создания спанов: метаданные уведомления при публикации не изменяются.
func TestTracingMiddleware_Spans(t *testing.T) {
	t.Parallel()

	tp, exporter := newTestTracerProvider(t)
	m := newMediator(t, newProductRegistry(t, &auditLogHandler{}), mediator.WithTracerProvider(tp))
	ctx := context.Background()

	_, err := mediator.Send(ctx, m, createProductCommand{Name: "Pen"})
	require.NoError(t, err)

	_, err = mediator.Send(ctx, m, deleteProductCommand{ID: "42"})
	require.Error(t, err)

	event := productCreated{ID: "42", meta: map[string]string{}}
	require.NoError(t, mediator.Publish(ctx, m, event))

	spans := exporter.GetSpans()

	sendSpan := findSpan(spans, "createProductCommand command")
	require.NotNil(t, sendSpan)
	assert.Equal(t, trace.SpanKindInternal, sendSpan.SpanKind)
	assert.Empty(t, sendSpan.Events)

	failedSpan := findSpan(spans, "deleteProductCommand command")
	require.NotNil(t, failedSpan)
	assert.NotEmpty(t, failedSpan.Events, "Ошибка должна быть записана в спан")

	publishSpan := findSpan(spans, "productCreated publish")
	require.NotNil(t, publishSpan)
	assert.Equal(t, trace.SpanKindProducer, publishSpan.SpanKind)
	assert.Empty(t, event.meta, "Публикация не должна изменять метаданные уведомления")
}

// Тест: обработчик уведомления получает спан публикации через контекст.
func TestTracingMiddleware_PublishSpanInContext(t *testing.T) {
	t.Parallel()

	tp, exporter := newTestTracerProvider(t)

	var mu sync.Mutex
	var seen trace.SpanContext
	b := mediator.NewBuilder()
	require.NoError(t, mediator.RegisterNotificationFunc(b, mediator.NotificationHandlerFunc[productCreated](
		func(ctx context.Context, _ productCreated) error {
			mu.Lock()
			defer mu.Unlock()
			seen = trace.SpanContextFromContext(ctx)
			return nil
		},
	)))

	m := newMediator(t, b.Build(), mediator.WithTracerProvider(tp))
	require.NoError(t, mediator.Publish(context.Background(), m, productCreated{ID: "42"}))

	publishSpan := findSpan(exporter.GetSpans(), "productCreated publish")
	require.NotNil(t, publishSpan)

	mu.Lock()
	defer mu.Unlock()
	require.True(t, seen.IsValid(), "Обработчик должен получить контекст трассировки")
	assert.Equal(t, publishSpan.SpanContext.TraceID(), seen.TraceID())
	assert.Equal(t, publishSpan.SpanContext.SpanID(), seen.SpanID())
}

// Тест конкурентной публикации одного и того же уведомления с включенной трассировкой.
func TestTracingMiddleware_ConcurrentPublishSharedNotification(t *testing.T) {
	t.Parallel()

	tp, _ := newTestTracerProvider(t)
	audit := &auditLogHandler{}
	m := newMediator(t, newProductRegistry(t, audit), mediator.WithTracerProvider(tp))

	shared := productCreated{ID: "42", meta: map[string]string{}}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- mediator.Publish(context.Background(), m, shared)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Empty(t, shared.meta, "Публикация не должна изменять метаданные уведомления")
	assert.Len(t, audit.seen(), workers)
}

// Тест извлечения родительского контекста из метаданных команды.
func TestTracingMiddleware_ExtractsParent(t *testing.T) {
	t.Parallel()

	tp, exporter := newTestTracerProvider(t)
	m := newMediator(t, newProductRegistry(t, &auditLogHandler{}),
		mediator.WithTracerProvider(tp),
		mediator.WithPropagator(propagation.TraceContext{}),
	)

	parentCtx, parent := tp.Tracer("test").Start(context.Background(), "http request")
	md := map[string]string{}
	propagation.TraceContext{}.Inject(parentCtx, propagation.MapCarrier(md))
	parent.End()

	_, err := mediator.Send(context.Background(), m, createProductCommand{Name: "Pen", meta: md})
	require.NoError(t, err)

	sendSpan := findSpan(exporter.GetSpans(), "createProductCommand command")
	require.NotNil(t, sendSpan)
	assert.Equal(t, parent.SpanContext().TraceID(), sendSpan.Parent.TraceID())
	assert.Equal(t, parent.SpanContext().SpanID(), sendSpan.Parent.SpanID())
}

// Тест порядка встроенных middleware: пустые провайдеры не добавляют звеньев.
func TestApplyMiddlewares_NoopWhenUnconfigured(t *testing.T) {
	t.Parallel()

	core := &recordingProvider{onCall: func(mediator.Kind) {}}

	assert.Same(t, core, mediator.NewMetricsMiddleware(nil).Wrap(core))
	assert.Same(t, core, mediator.NewTracingMiddleware(nil, nil).Wrap(core))
}
