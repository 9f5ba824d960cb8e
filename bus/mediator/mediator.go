package mediator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goccy/go-reflect"
	"golang.org/x/sync/errgroup"
)

// Envelope - сообщение вместе с данными маршрутизации. Передается по цепочке
// провайдеров при вызовах Send и Query.
type Envelope struct {
	Kind     Kind
	Message  Message
	Response reflect.Type
}

// Provider определяет контракт звена цепочки диспетчеризации. Базовый
// провайдер выполняет поиск и вызов обработчиков, middleware оборачивают его.
type Provider interface {
	// Dispatch находит единственный обработчик команды или запроса и вызывает его.
	Dispatch(ctx context.Context, env Envelope) (any, error)

	// Publish доставляет уведомление всем его обработчикам конкурентно.
	Publish(ctx context.Context, n Notification) error
}

// IMediator определяет основной интерфейс диспетчера для вызывающей стороны.
// Типизированные вызовы выполняются функциями Send и Query.
type IMediator interface {
	Dispatch(ctx context.Context, env Envelope) (any, error)
	Publish(ctx context.Context, n Notification) error
}

// mediatorImpl представляет собой реализацию IMediator поверх цепочки провайдеров.
type mediatorImpl struct {
	provider Provider
}

// NewMediator создает диспетчер поверх собранного реестра.
func NewMediator(registry *Registry, opts ...Option) (IMediator, error) {
	if registry == nil {
		return nil, fmt.Errorf("реестр обработчиков не может быть nil")
	}

	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	allMiddlewares := []Middleware{
		NewLoggingMiddleware(cfg.logger),
		NewMetricsMiddleware(cfg.meterProvider),
		NewTracingMiddleware(cfg.tracerProvider, cfg.propagator),
	}
	allMiddlewares = append(allMiddlewares, cfg.middlewares...)

	core := &localProvider{
		registry:       registry,
		strictPublish:  cfg.strictPublish,
		maxConcurrency: cfg.maxConcurrency,
	}

	return &mediatorImpl{
		provider: applyMiddlewares(core, allMiddlewares...),
	}, nil
}

// Dispatch передает конверт в цепочку провайдеров.
func (m *mediatorImpl) Dispatch(ctx context.Context, env Envelope) (any, error) {
	if isNil(env.Message) {
		return nil, fmt.Errorf("диспетчеризация %s: %w", env.Kind.label(), ErrNullMessage)
	}
	return m.provider.Dispatch(ctx, env)
}

// Publish передает уведомление в цепочку провайдеров.
func (m *mediatorImpl) Publish(ctx context.Context, n Notification) error {
	if isNil(n) {
		return fmt.Errorf("публикация уведомления: %w", ErrNullMessage)
	}
	return m.provider.Publish(ctx, n)
}

// Send отправляет команду ее единственному обработчику и возвращает ответ.
// Ошибка обработчика возвращается без изменений.
func Send[R any](ctx context.Context, m IMediator, cmd Command[R]) (R, error) {
	return request[R](ctx, m, KindCommand, cmd)
}

// Query выполняет запрос его единственным обработчиком и возвращает ответ.
// Ошибка обработчика возвращается без изменений.
func Query[R any](ctx context.Context, m IMediator, q QueryMessage[R]) (R, error) {
	return request[R](ctx, m, KindQuery, q)
}

// Publish публикует уведомление всем его обработчикам.
func Publish(ctx context.Context, m IMediator, n Notification) error {
	return m.Publish(ctx, n)
}

func request[R any](ctx context.Context, m IMediator, kind Kind, msg Message) (R, error) {
	var zero R
	if isNil(msg) {
		return zero, fmt.Errorf("диспетчеризация %s: %w", kind.label(), ErrNullMessage)
	}

	res, err := m.Dispatch(ctx, Envelope{Kind: kind, Message: msg, Response: typeOf[R]()})
	if res == nil {
		return zero, err
	}

	r, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("ответ обработчика %s '%s' имеет тип %T вместо %s",
			kind.label(), messageName(msg), res, typeOf[R]())
	}
	return r, err
}

// localProvider - внутрипроцессный провайдер, который ищет обработчики в
// реестре и вызывает их. Не держит блокировок: реестр неизменяем.
type localProvider struct {
	registry       *Registry
	strictPublish  bool
	maxConcurrency int
}

// Dispatch находит единственный обработчик для конверта и вызывает его.
func (p *localProvider) Dispatch(ctx context.Context, env Envelope) (any, error) {
	if isNil(env.Message) {
		return nil, fmt.Errorf("диспетчеризация %s: %w", env.Kind.label(), ErrNullMessage)
	}

	key := Key{Kind: env.Kind, Message: reflect.TypeOf(env.Message), Response: env.Response}
	entries := p.registry.lookup(key)

	switch len(entries) {
	case 0:
		return nil, fmt.Errorf("диспетчеризация %s '%s': %w", env.Kind.label(), messageName(env.Message), ErrHandlerNotFound)
	case 1:
	default:
		return nil, fmt.Errorf("диспетчеризация %s '%s' (%d обработчиков): %w",
			env.Kind.label(), messageName(env.Message), len(entries), ErrAmbiguousHandler)
	}

	call, _, err := entries[0].bind()
	if err != nil {
		return nil, err
	}

	return call(ctx, env.Message)
}

// Publish вызывает все обработчики уведомления конкурентно и дожидается их
// завершения. Ошибки всех упавших обработчиков собираются в AggregateHandlerError.
func (p *localProvider) Publish(ctx context.Context, n Notification) error {
	if isNil(n) {
		return fmt.Errorf("публикация уведомления: %w", ErrNullMessage)
	}

	name := messageName(n)
	entries := p.registry.lookup(Key{Kind: KindNotification, Message: reflect.TypeOf(n)})

	if len(entries) == 0 {
		if p.strictPublish {
			return fmt.Errorf("публикация уведомления '%s': %w", name, ErrNoHandlerFound)
		}
		return nil
	}

	failures := make([]*HandlerFailure, len(entries))

	var g errgroup.Group
	if p.maxConcurrency > 0 {
		g.SetLimit(p.maxConcurrency)
	}
	for i, entry := range entries {
		g.Go(func() error {
			failures[i] = invokeNotificationHandler(ctx, entry, i, n)
			return nil
		})
	}
	_ = g.Wait()

	collected := make([]*HandlerFailure, 0, len(failures))
	for _, f := range failures {
		if f != nil {
			collected = append(collected, f)
		}
	}
	if len(collected) == 0 {
		return nil
	}

	return &AggregateHandlerError{Message: name, Failures: collected}
}

// invokeNotificationHandler создает и вызывает один обработчик уведомления.
// Паника обработчика превращается в его ошибку, чтобы не уронить остальных.
func invokeNotificationHandler(ctx context.Context, entry Entry, index int, n Notification) (failure *HandlerFailure) {
	handlerName := entry.name

	defer func() {
		if r := recover(); r != nil {
			failure = &HandlerFailure{
				Handler: fallbackName(handlerName, index),
				Err:     fmt.Errorf("%w: %v", ErrHandlerPanicked, r),
			}
		}
	}()

	call, boundName, err := entry.bind()
	if handlerName == "" {
		handlerName = boundName
	}
	if err != nil {
		return &HandlerFailure{Handler: fallbackName(handlerName, index), Err: err}
	}

	if _, err := call(ctx, n); err != nil {
		return &HandlerFailure{Handler: fallbackName(handlerName, index), Err: err}
	}
	return nil
}

func fallbackName(name string, index int) string {
	if name != "" {
		return name
	}
	return "#" + strconv.Itoa(index)
}

// isNil сообщает, является ли значение nil, в том числе типизированным nil-указателем.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
