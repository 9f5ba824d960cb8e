package mediator

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/goccy/go-reflect"
)

// Registration - это кортеж (вид, тип сообщения, тип ответа, фабрика обработчика),
// из которого строится реестр. Значения создаются конструкторами
// CommandRegistration, QueryRegistration, NotificationRegistration или Discover.
type Registration struct {
	Kind     Kind
	Message  reflect.Type
	Response reflect.Type
	Name     string
	bind     binding
}

// binding создает экземпляр обработчика и возвращает функцию его вызова
// вместе с именем обработчика.
type binding func() (call invoker, name string, err error)

// RegisterOption настраивает отдельную регистрацию.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	name string
}

// WithName задает имя обработчика для логов и агрегированных ошибок.
func WithName(name string) RegisterOption {
	return func(o *registerOptions) {
		o.name = name
	}
}

func applyRegisterOptions(opts []RegisterOption) registerOptions {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// CommandRegistration создает регистрацию фабрики обработчика команды C.
func CommandRegistration[C Command[R], R any](factory Factory[CommandHandler[C, R]], opts ...RegisterOption) Registration {
	o := applyRegisterOptions(opts)
	return Registration{
		Kind:     KindCommand,
		Message:  typeOf[C](),
		Response: typeOf[R](),
		Name:     o.name,
		bind: func() (invoker, string, error) {
			h, err := factory()
			if err != nil {
				return nil, "", err
			}
			if any(h) == nil {
				return nil, "", fmt.Errorf("фабрика вернула nil для команды '%s': %w", typeOf[C](), ErrInvalidHandler)
			}
			return func(ctx context.Context, msg Message) (any, error) {
				cmd, ok := msg.(C)
				if !ok {
					return nil, fmt.Errorf("тип '%s' не соответствует команде '%s'", reflect.TypeOf(msg), typeOf[C]())
				}
				return h.Handle(ctx, cmd)
			}, getHandlerName(h), nil
		},
	}
}

// QueryRegistration создает регистрацию фабрики обработчика запроса Q.
func QueryRegistration[Q QueryMessage[R], R any](factory Factory[QueryHandler[Q, R]], opts ...RegisterOption) Registration {
	o := applyRegisterOptions(opts)
	return Registration{
		Kind:     KindQuery,
		Message:  typeOf[Q](),
		Response: typeOf[R](),
		Name:     o.name,
		bind: func() (invoker, string, error) {
			h, err := factory()
			if err != nil {
				return nil, "", err
			}
			if any(h) == nil {
				return nil, "", fmt.Errorf("фабрика вернула nil для запроса '%s': %w", typeOf[Q](), ErrInvalidHandler)
			}
			return func(ctx context.Context, msg Message) (any, error) {
				q, ok := msg.(Q)
				if !ok {
					return nil, fmt.Errorf("тип '%s' не соответствует запросу '%s'", reflect.TypeOf(msg), typeOf[Q]())
				}
				return h.Handle(ctx, q)
			}, getHandlerName(h), nil
		},
	}
}

// NotificationRegistration создает регистрацию фабрики обработчика уведомления N.
func NotificationRegistration[N Notification](factory Factory[NotificationHandler[N]], opts ...RegisterOption) Registration {
	o := applyRegisterOptions(opts)
	return Registration{
		Kind:    KindNotification,
		Message: typeOf[N](),
		Name:    o.name,
		bind: func() (invoker, string, error) {
			h, err := factory()
			if err != nil {
				return nil, "", err
			}
			if any(h) == nil {
				return nil, "", fmt.Errorf("фабрика вернула nil для уведомления '%s': %w", typeOf[N](), ErrInvalidHandler)
			}
			return func(ctx context.Context, msg Message) (any, error) {
				n, ok := msg.(N)
				if !ok {
					return nil, fmt.Errorf("тип '%s' не соответствует уведомлению '%s'", reflect.TypeOf(msg), typeOf[N]())
				}
				return nil, h.Handle(ctx, n)
			}, getHandlerName(h), nil
		},
	}
}

// RegisterCommand регистрирует фабрику обработчика команды C в сборщике.
func RegisterCommand[C Command[R], R any](b *Builder, factory Factory[CommandHandler[C, R]], opts ...RegisterOption) error {
	return b.Add(CommandRegistration(factory, opts...))
}

// RegisterCommandFunc регистрирует функцию-обработчик команды C.
func RegisterCommandFunc[C Command[R], R any](b *Builder, fn CommandHandlerFunc[C, R], opts ...RegisterOption) error {
	return RegisterCommand(b, Singleton[CommandHandler[C, R]](fn), opts...)
}

// RegisterQuery регистрирует фабрику обработчика запроса Q в сборщике.
func RegisterQuery[Q QueryMessage[R], R any](b *Builder, factory Factory[QueryHandler[Q, R]], opts ...RegisterOption) error {
	return b.Add(QueryRegistration(factory, opts...))
}

// RegisterQueryFunc регистрирует функцию-обработчик запроса Q.
func RegisterQueryFunc[Q QueryMessage[R], R any](b *Builder, fn QueryHandlerFunc[Q, R], opts ...RegisterOption) error {
	return RegisterQuery(b, Singleton[QueryHandler[Q, R]](fn), opts...)
}

// RegisterNotification регистрирует фабрику обработчика уведомления N.
// Обработчики одного уведомления накапливаются в порядке регистрации.
func RegisterNotification[N Notification](b *Builder, factory Factory[NotificationHandler[N]], opts ...RegisterOption) error {
	return b.Add(NotificationRegistration(factory, opts...))
}

// RegisterNotificationFunc регистрирует функцию-обработчик уведомления N.
func RegisterNotificationFunc[N Notification](b *Builder, fn NotificationHandlerFunc[N], opts ...RegisterOption) error {
	return RegisterNotification(b, Singleton[NotificationHandler[N]](fn), opts...)
}

// typeOf возвращает статический тип T, в том числе для интерфейсов.
func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// getHandlerName извлекает имя обработчика: имя функции для функций-адаптеров
// и имя типа для остальных обработчиков.
func getHandlerName(handler any) string {
	v := reflect.ValueOf(handler)
	if v.Kind() == reflect.Func {
		if pc := v.Pointer(); pc != 0 {
			if f := runtime.FuncForPC(pc); f != nil {
				return trimPackagePath(f.Name())
			}
		}
	}
	t := reflect.TypeOf(handler)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// trimPackagePath отрезает путь импорта, оставляя "пакет.Имя".
func trimPackagePath(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// messageName возвращает имя типа сообщения для ошибок и логов.
func messageName(msg any) string {
	t := reflect.TypeOf(msg)
	if t == nil {
		return "nil"
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
