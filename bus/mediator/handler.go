package mediator

import "context"

// CommandHandler определяет обработчик команды C, возвращающий ответ типа R.
type CommandHandler[C Command[R], R any] interface {
	Handle(ctx context.Context, cmd C) (R, error)
}

// CommandHandlerFunc является адаптером, позволяющим использовать обычную
// функцию как CommandHandler.
type CommandHandlerFunc[C Command[R], R any] func(ctx context.Context, cmd C) (R, error)

// Handle реализует CommandHandler.
func (f CommandHandlerFunc[C, R]) Handle(ctx context.Context, cmd C) (R, error) {
	return f(ctx, cmd)
}

// QueryHandler определяет обработчик запроса Q, возвращающий ответ типа R.
type QueryHandler[Q QueryMessage[R], R any] interface {
	Handle(ctx context.Context, q Q) (R, error)
}

// QueryHandlerFunc является адаптером для функций-обработчиков запросов.
type QueryHandlerFunc[Q QueryMessage[R], R any] func(ctx context.Context, q Q) (R, error)

// Handle реализует QueryHandler.
func (f QueryHandlerFunc[Q, R]) Handle(ctx context.Context, q Q) (R, error) {
	return f(ctx, q)
}

// NotificationHandler определяет обработчик уведомления N.
type NotificationHandler[N Notification] interface {
	Handle(ctx context.Context, n N) error
}

// NotificationHandlerFunc является адаптером для функций-обработчиков уведомлений.
type NotificationHandlerFunc[N Notification] func(ctx context.Context, n N) error

// Handle реализует NotificationHandler.
func (f NotificationHandlerFunc[N]) Handle(ctx context.Context, n N) error {
	return f(ctx, n)
}

// Factory конструирует экземпляр обработчика. Реестр хранит фабрики, а не
// экземпляры: создавать ли новый обработчик на каждый вызов или переиспользовать
// один, решает тот, кто регистрирует фабрику.
type Factory[H any] func() (H, error)

// Singleton возвращает фабрику, которая всегда отдает один и тот же экземпляр.
// Такой обработчик должен быть безопасен для конкурентного использования.
func Singleton[H any](h H) Factory[H] {
	return func() (H, error) {
		return h, nil
	}
}

// invoker - это обработчик со стертым типом, который хранится в реестре.
type invoker func(ctx context.Context, msg Message) (any, error)
