package mediator_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/x-research-team/dtx-mediator/bus/mediator"
)

// Тестовые сообщения, повторяющие сценарий каталога товаров.

type createProductResponse struct {
	ID    string
	Name  string
	Price float64
}

type createProductCommand struct {
	mediator.CommandBase[createProductResponse]
	Name  string
	Price float64
	meta  map[string]string
}

func (c createProductCommand) Metadata() map[string]string { return c.meta }

type productView struct {
	ID   string
	Name string
}

type getProductQuery struct {
	mediator.QueryBase[productView]
	ID string
}

type deleteProductCommand struct {
	mediator.CommandBase[bool]
	ID string
}

type productCreated struct {
	mediator.NotificationBase
	ID   string
	meta map[string]string
}

func (e productCreated) Metadata() map[string]string { return e.meta }

type stockChanged struct {
	mediator.NotificationBase
	ID string
}

// createProductHandler присваивает товару новый идентификатор.
type createProductHandler struct{}

func (createProductHandler) Handle(_ context.Context, cmd createProductCommand) (createProductResponse, error) {
	return createProductResponse{ID: uuid.NewString(), Name: cmd.Name, Price: cmd.Price}, nil
}

type getProductHandler struct{}

func (getProductHandler) Handle(_ context.Context, q getProductQuery) (productView, error) {
	return productView{ID: q.ID, Name: "Pen"}, nil
}

// auditLogHandler запоминает идентификаторы созданных товаров.
type auditLogHandler struct {
	mu  sync.Mutex
	ids []string
}

func (h *auditLogHandler) Handle(_ context.Context, e productCreated) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids = append(h.ids, e.ID)
	return nil
}

func (h *auditLogHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.ids...)
}

var errCacheUnavailable = errors.New("кэш недоступен")

// cacheInvalidateHandler всегда завершается ошибкой.
type cacheInvalidateHandler struct{}

func (cacheInvalidateHandler) Handle(context.Context, productCreated) error {
	return errCacheUnavailable
}

// newProductRegistry собирает реестр с обработчиками товаров.
func newProductRegistry(t testing.TB, audit *auditLogHandler, extra ...mediator.Registration) *mediator.Registry {
	t.Helper()

	regs := []mediator.Registration{
		mediator.CommandRegistration(mediator.Singleton[mediator.CommandHandler[createProductCommand, createProductResponse]](createProductHandler{})),
		mediator.QueryRegistration(mediator.Singleton[mediator.QueryHandler[getProductQuery, productView]](getProductHandler{})),
		mediator.NotificationRegistration(mediator.Singleton[mediator.NotificationHandler[productCreated]](audit)),
	}
	regs = append(regs, extra...)

	registry, err := mediator.NewRegistry(regs...)
	require.NoError(t, err, "Сборка реестра не должна вызывать ошибку")
	return registry
}
