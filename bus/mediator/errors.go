package mediator

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки диспетчера. Проверяются через errors.Is.
var (
	// ErrNullMessage возвращается, если вместо сообщения передан nil.
	ErrNullMessage = errors.New("сообщение не может быть nil")
	// ErrHandlerNotFound возвращается Send и Query, если обработчик не зарегистрирован.
	ErrHandlerNotFound = errors.New("обработчик не найден")
	// ErrAmbiguousHandler возвращается, если для команды или запроса найдено
	// более одного обработчика.
	ErrAmbiguousHandler = errors.New("найдено несколько обработчиков")
	// ErrNoHandlerFound возвращается Publish в строгом режиме, если у
	// уведомления нет ни одного обработчика.
	ErrNoHandlerFound = errors.New("нет обработчиков уведомления")
	// ErrHandlerAlreadyRegistered возвращается при повторной регистрации
	// обработчика команды или запроса.
	ErrHandlerAlreadyRegistered = errors.New("обработчик уже зарегистрирован")
	// ErrRegistryBuilt возвращается при попытке изменить уже собранный реестр.
	ErrRegistryBuilt = errors.New("реестр уже собран")
	// ErrInvalidHandler возвращается, если значение не является обработчиком.
	ErrInvalidHandler = errors.New("некорректный обработчик")
	// ErrHandlerPanicked оборачивает панику обработчика уведомления.
	ErrHandlerPanicked = errors.New("обработчик завершился паникой")
)

// HandlerFailure описывает ошибку одного обработчика уведомления.
type HandlerFailure struct {
	Handler string
	Err     error
}

// Error реализует интерфейс error.
func (f *HandlerFailure) Error() string {
	return fmt.Sprintf("обработчик '%s': %v", f.Handler, f.Err)
}

// Unwrap возвращает исходную ошибку обработчика.
func (f *HandlerFailure) Unwrap() error {
	return f.Err
}

// AggregateHandlerError объединяет ошибки всех обработчиков, упавших в рамках
// одного вызова Publish. Порядок Failures совпадает с порядком регистрации.
type AggregateHandlerError struct {
	Message  string
	Failures []*HandlerFailure
}

// Error реализует интерфейс error.
func (e *AggregateHandlerError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("ошибка обработки уведомления '%s' (%d): %s",
		e.Message, len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap позволяет errors.Is и errors.As проходить по всем ошибкам обработчиков.
func (e *AggregateHandlerError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}

// Handlers возвращает имена упавших обработчиков.
func (e *AggregateHandlerError) Handlers() []string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Handler)
	}
	return names
}
