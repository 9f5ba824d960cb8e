package mediator

import (
	"context"
	"fmt"

	"github.com/goccy/go-reflect"
)

const handleMethodName = "Handle"

// Discover строит регистрации для готовых экземпляров обработчиков, определяя
// вид и тип сообщения по сигнатуре метода Handle:
//
//	Handle(ctx context.Context, cmd C) (R, error) // команда или запрос
//	Handle(ctx context.Context, n N) error        // уведомление
//
// Вид определяется по MessageKind() типа сообщения. Метод ищется один раз,
// при вызове Discover, после чего используется сохраненное значение метода.
// Каждый экземпляр регистрируется как синглтон и должен быть безопасен для
// конкурентного использования.
func Discover(handlers ...any) ([]Registration, error) {
	regs := make([]Registration, 0, len(handlers))
	for _, h := range handlers {
		reg, err := discoverOne(h)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

var (
	ctxType     = typeOf[context.Context]()
	errorType   = typeOf[error]()
	messageType = typeOf[Message]()
)

func discoverOne(handler any) (Registration, error) {
	if handler == nil {
		return Registration{}, fmt.Errorf("обработчик равен nil: %w", ErrInvalidHandler)
	}

	handlerType := reflect.TypeOf(handler)
	method, ok := handlerType.MethodByName(handleMethodName)
	if !ok {
		return Registration{}, fmt.Errorf("тип '%s' не имеет метода %s: %w", handlerType, handleMethodName, ErrInvalidHandler)
	}

	// Первый аргумент метода - получатель.
	sig := method.Type
	if sig.NumIn() != 3 {
		return Registration{}, fmt.Errorf("метод %s типа '%s' должен принимать 2 аргумента, а принимает %d: %w",
			handleMethodName, handlerType, sig.NumIn()-1, ErrInvalidHandler)
	}
	if sig.In(1) != ctxType {
		return Registration{}, fmt.Errorf("первый аргумент %s типа '%s' должен быть context.Context, а не %s: %w",
			handleMethodName, handlerType, sig.In(1), ErrInvalidHandler)
	}

	msgType := sig.In(2)
	if msgType.Kind() == reflect.Interface || !msgType.Implements(messageType) {
		return Registration{}, fmt.Errorf("второй аргумент %s типа '%s' должен быть конкретным типом сообщения, а не %s: %w",
			handleMethodName, handlerType, msgType, ErrInvalidHandler)
	}
	kind := kindOf(msgType)

	if sig.NumOut() == 0 || sig.Out(sig.NumOut()-1) != errorType {
		return Registration{}, fmt.Errorf("последнее возвращаемое значение %s типа '%s' должно быть error: %w",
			handleMethodName, handlerType, ErrInvalidHandler)
	}

	var response reflect.Type
	switch kind {
	case KindCommand, KindQuery:
		if sig.NumOut() != 2 {
			return Registration{}, fmt.Errorf("обработчик %s '%s' должен возвращать (R, error): %w",
				kind.label(), handlerType, ErrInvalidHandler)
		}
		response = sig.Out(0)
		if expected := responseOf(msgType); expected != nil && expected != response {
			return Registration{}, fmt.Errorf("обработчик %s '%s' возвращает %s, а сообщение '%s' ожидает ответ %s: %w",
				kind.label(), handlerType, response, msgType, expected, ErrInvalidHandler)
		}
	case KindNotification:
		if sig.NumOut() != 1 {
			return Registration{}, fmt.Errorf("обработчик уведомления '%s' должен возвращать только error: %w",
				handlerType, ErrInvalidHandler)
		}
	default:
		return Registration{}, fmt.Errorf("неизвестный вид сообщения '%s': %w", msgType, ErrInvalidHandler)
	}

	call := reflect.ValueOf(handler).MethodByName(handleMethodName)
	name := getHandlerName(handler)

	invoke := func(ctx context.Context, msg Message) (any, error) {
		msgValue := reflect.ValueOf(msg)
		if !msgValue.IsValid() || msgValue.Type() != msgType {
			return nil, fmt.Errorf("тип '%s' не соответствует сообщению '%s'", reflect.TypeOf(msg), msgType)
		}
		if ctx == nil {
			ctx = context.Background()
		}

		out := call.Call([]reflect.Value{reflect.ValueOf(ctx), msgValue})

		var err error
		if errValue := out[len(out)-1].Interface(); errValue != nil {
			err = errValue.(error)
		}
		if len(out) == 1 {
			return nil, err
		}
		return out[0].Interface(), err
	}

	return Registration{
		Kind:     kind,
		Message:  msgType,
		Response: response,
		Name:     name,
		bind: func() (invoker, string, error) {
			return invoke, name, nil
		},
	}, nil
}

// kindOf определяет вид сообщения по его типу через нулевое значение.
func kindOf(t reflect.Type) Kind {
	msg, ok := zeroMessage(t).(Message)
	if !ok {
		return 0
	}
	return msg.MessageKind()
}

// responseOf возвращает тип ответа, объявленный сообщением, или nil.
func responseOf(t reflect.Type) reflect.Type {
	r, ok := zeroMessage(t).(responder)
	if !ok {
		return nil
	}
	return r.responseType()
}

func zeroMessage(t reflect.Type) any {
	if t.Kind() == reflect.Ptr {
		return reflect.New(t.Elem()).Interface()
	}
	return reflect.Zero(t).Interface()
}
