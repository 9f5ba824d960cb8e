// Команда productapi запускает HTTP API каталога товаров поверх диспетчера.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/x-research-team/dtx-mediator/bus/mediator"
	"github.com/x-research-team/dtx-mediator/examples/products"
	"github.com/x-research-team/dtx-mediator/examples/products/postgres"
)

const serviceName = "productapi"

func main() {
	configPath := flag.String("config", "", "путь к YAML-файлу конфигурации")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "productapi: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := LoadConfig(configPath, os.Getenv)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := errors.Join(tp.Shutdown(shutdownCtx), mp.Shutdown(shutdownCtx)); err != nil {
			logger.Error("ошибка остановки телеметрии", slog.Any("error", err))
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []mediator.Option{
		mediator.WithLogger(logger),
		mediator.WithTracerProvider(tp),
		mediator.WithMeterProvider(mp),
		mediator.WithPropagator(otel.GetTextMapPropagator()),
		mediator.WithMaxConcurrency(cfg.Publish.MaxConcurrency),
	}
	if cfg.Publish.Strict {
		opts = append(opts, mediator.WithStrictPublish())
	}

	m, err := products.Module{
		Store: store,
		Cache: products.NewListingCache(),
		Audit: products.NewLogAuditSink(logger.With(slog.String("component", "audit"))),
	}.NewMediator(opts...)
	if err != nil {
		return fmt.Errorf("не удалось создать диспетчер: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           products.NewAPI(m, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("сервер запущен", slog.String("addr", cfg.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("остановка сервера")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("не удалось остановить сервер: %w", err)
	}
	return nil
}

// openStore выбирает хранилище: PostgreSQL, если задан адрес базы, иначе память.
func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (products.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("используется хранилище в памяти")
		return products.NewMemoryStore(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("не удалось подключиться к PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("PostgreSQL недоступен: %w", err)
	}

	store, err := postgres.NewStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	logger.Info("используется хранилище PostgreSQL")
	return store, pool.Close, nil
}
