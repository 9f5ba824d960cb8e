package mediator

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/goccy/go-reflect"
)

// DuplicatePolicy определяет поведение сборщика при повторной регистрации
// обработчика команды или запроса.
type DuplicatePolicy uint8

const (
	// DuplicateFail отклоняет повторную регистрацию с ErrHandlerAlreadyRegistered.
	DuplicateFail DuplicatePolicy = iota
	// DuplicateAccumulate сохраняет все регистрации. Неоднозначность будет
	// обнаружена при диспетчеризации и вернет ErrAmbiguousHandler.
	DuplicateAccumulate
)

// Key - составной ключ записи реестра.
type Key struct {
	Kind     Kind
	Message  reflect.Type
	Response reflect.Type
}

// String возвращает читаемое представление ключа.
func (k Key) String() string {
	if k.Response == nil {
		return fmt.Sprintf("%s %s", k.Kind, k.Message)
	}
	return fmt.Sprintf("%s %s -> %s", k.Kind, k.Message, k.Response)
}

// Entry - запись реестра: один зарегистрированный обработчик.
type Entry struct {
	name string
	bind binding
}

// Name возвращает явно заданное имя обработчика. Пустая строка означает, что
// имя будет определено по экземпляру обработчика при вызове.
func (e Entry) Name() string {
	return e.name
}

// BuilderOption настраивает сборщик реестра.
type BuilderOption func(*Builder)

// WithDuplicatePolicy задает политику повторной регистрации.
func WithDuplicatePolicy(policy DuplicatePolicy) BuilderOption {
	return func(b *Builder) {
		b.policy = policy
	}
}

// Builder накапливает регистрации на этапе старта приложения.
// После Build сборщик становится недоступен для изменений.
type Builder struct {
	mu      sync.Mutex
	entries map[Key][]Entry
	order   []Key
	policy  DuplicatePolicy
	built   bool
}

// NewBuilder создает новый сборщик реестра.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		entries: make(map[Key][]Entry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add добавляет регистрации в реестр. Для команд и запросов повторная
// регистрация под тем же ключом является ошибкой конфигурации.
// При ошибке ни одна регистрация из вызова не добавляется.
func (b *Builder) Add(regs ...Registration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.built {
		return ErrRegistryBuilt
	}

	pending := make(map[Key]int, len(regs))
	for _, reg := range regs {
		if err := validateRegistration(reg); err != nil {
			return err
		}
		key := Key{Kind: reg.Kind, Message: reg.Message, Response: reg.Response}
		if reg.Kind != KindNotification && b.policy == DuplicateFail {
			if len(b.entries[key])+pending[key] > 0 {
				return fmt.Errorf("регистрация %s '%s': %w", reg.Kind.label(), reg.Message, ErrHandlerAlreadyRegistered)
			}
		}
		pending[key]++
	}

	for _, reg := range regs {
		key := Key{Kind: reg.Kind, Message: reg.Message, Response: reg.Response}
		if _, ok := b.entries[key]; !ok {
			b.order = append(b.order, key)
		}
		b.entries[key] = append(b.entries[key], Entry{name: reg.Name, bind: reg.bind})
	}

	return nil
}

// Build замораживает сборщик и возвращает неизменяемый реестр.
func (b *Builder) Build() *Registry {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.built = true

	entries := make(map[Key][]Entry, len(b.entries))
	for key, list := range b.entries {
		entries[key] = slices.Clip(slices.Clone(list))
	}

	return &Registry{
		entries: entries,
		keys:    slices.Clone(b.order),
	}
}

// NewRegistry собирает реестр из готового списка регистраций.
func NewRegistry(regs ...Registration) (*Registry, error) {
	b := NewBuilder()
	if err := b.Add(regs...); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

func validateRegistration(reg Registration) error {
	if reg.Message == nil || reg.bind == nil {
		return fmt.Errorf("пустая регистрация: %w", ErrInvalidHandler)
	}
	switch reg.Kind {
	case KindCommand, KindQuery:
		if reg.Response == nil {
			return fmt.Errorf("не указан тип ответа для %s '%s': %w", reg.Kind.label(), reg.Message, ErrInvalidHandler)
		}
	case KindNotification:
		if reg.Response != nil {
			return fmt.Errorf("у уведомления '%s' не может быть ответа: %w", reg.Message, ErrInvalidHandler)
		}
	default:
		return fmt.Errorf("неизвестный вид сообщения %d: %w", reg.Kind, ErrInvalidHandler)
	}
	return nil
}

// Registry - неизменяемое отображение ключа сообщения на его обработчики.
// Безопасен для конкурентного чтения без синхронизации.
type Registry struct {
	entries map[Key][]Entry
	keys    []Key
}

// Resolve возвращает обработчики, зарегистрированные под ключом.
// Поиск выполняется по точному типу сообщения, без учета встраивания и интерфейсов.
func (r *Registry) Resolve(kind Kind, message, response reflect.Type) []Entry {
	return slices.Clone(r.lookup(Key{Kind: kind, Message: message, Response: response}))
}

// lookup возвращает внутренний срез без копирования. Вызывающий не должен его изменять.
func (r *Registry) lookup(key Key) []Entry {
	if r == nil {
		return nil
	}
	return r.entries[key]
}

// Len возвращает количество ключей в реестре.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Keys возвращает ключи в детерминированном порядке: по виду, затем по порядку регистрации.
func (r *Registry) Keys() []Key {
	if r == nil {
		return nil
	}
	keys := slices.Clone(r.keys)
	slices.SortStableFunc(keys, func(a, b Key) int {
		return cmp.Compare(a.Kind, b.Kind)
	})
	return keys
}
