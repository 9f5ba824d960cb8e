// Package mediator реализует внутрипроцессный диспетчер команд, запросов и
// уведомлений. Вызывающая сторона передает типизированное сообщение, а
// диспетчер находит обработчик(и), зарегистрированные для точного типа этого
// сообщения, не раскрывая вызывающему, какая реализация будет выполнена.
//
// Реестр обработчиков строится один раз при старте приложения и после этого
// доступен только для чтения, поэтому диспетчеризация не требует блокировок.
package mediator

import "github.com/goccy/go-reflect"

// Kind определяет вид сообщения. Виды не пересекаются: тип сообщения
// относится ровно к одному из них.
type Kind uint8

const (
	// KindCommand - команда: ровно один обработчик, возвращает ответ.
	KindCommand Kind = iota + 1
	// KindQuery - запрос: ровно один обработчик, возвращает ответ.
	KindQuery
	// KindNotification - уведомление: ноль или более обработчиков, без ответа.
	KindNotification
)

// String возвращает читаемое имя вида сообщения.
func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindQuery:
		return "query"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// label возвращает имя вида в родительном падеже для сообщений об ошибках.
func (k Kind) label() string {
	switch k {
	case KindCommand:
		return "команды"
	case KindQuery:
		return "запроса"
	case KindNotification:
		return "уведомления"
	default:
		return "сообщения"
	}
}

// Message - общий контракт для любого сообщения, проходящего через диспетчер.
type Message interface {
	MessageKind() Kind
}

// Command представляет собой команду, параметризованную типом ответа R.
// Тип ответа фиксируется при объявлении типа команды встраиванием CommandBase[R].
type Command[R any] interface {
	Message
	commandOf(R)
}

// QueryMessage представляет собой запрос на получение данных с ответом типа R.
// Тип ответа фиксируется встраиванием QueryBase[R].
type QueryMessage[R any] interface {
	Message
	queryOf(R)
}

// Notification представляет собой уведомление о событии. У уведомления нет
// ответа, а обработчиков может быть сколько угодно, в том числе ни одного.
type Notification interface {
	Message
	notification()
}

// CommandBase встраивается в структуру, чтобы сделать ее командой с ответом R.
//
//	type CreateProductCommand struct {
//		mediator.CommandBase[CreateProductResponse]
//		Name string
//	}
type CommandBase[R any] struct{}

// MessageKind реализует Message.
func (CommandBase[R]) MessageKind() Kind { return KindCommand }

func (CommandBase[R]) commandOf(R) {}

func (CommandBase[R]) responseType() reflect.Type { return typeOf[R]() }

// QueryBase встраивается в структуру, чтобы сделать ее запросом с ответом R.
type QueryBase[R any] struct{}

// MessageKind реализует Message.
func (QueryBase[R]) MessageKind() Kind { return KindQuery }

func (QueryBase[R]) queryOf(R) {}

func (QueryBase[R]) responseType() reflect.Type { return typeOf[R]() }

// responder сообщает тип ответа, зафиксированный в CommandBase[R] или QueryBase[R].
type responder interface {
	responseType() reflect.Type
}

// NotificationBase встраивается в структуру, чтобы сделать ее уведомлением.
type NotificationBase struct{}

// MessageKind реализует Message.
func (NotificationBase) MessageKind() Kind { return KindNotification }

func (NotificationBase) notification() {}

// Metadatable определяет интерфейс для сообщений, которые могут нести метаданные.
// Middleware трассировки использует их для распространения контекста.
type Metadatable interface {
	Metadata() map[string]string
}
