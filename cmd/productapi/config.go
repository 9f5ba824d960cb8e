package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Переменные окружения, переопределяющие значения из файла.
const (
	envAddr        = "PRODUCTAPI_ADDR"
	envDatabaseURL = "PRODUCTAPI_DATABASE_URL"
	envLogLevel    = "PRODUCTAPI_LOG_LEVEL"
)

// Config - конфигурация сервиса каталога.
type Config struct {
	Addr            string        `yaml:"addr"`
	DatabaseURL     string        `yaml:"database_url"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Publish         PublishConfig `yaml:"publish"`
}

// PublishConfig настраивает публикацию уведомлений.
type PublishConfig struct {
	Strict         bool `yaml:"strict"`
	MaxConcurrency int  `yaml:"max_concurrency"`
}

// DefaultConfig возвращает конфигурацию по умолчанию: хранилище в памяти.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadConfig читает конфигурацию из YAML-файла поверх значений по умолчанию и
// применяет переопределения из окружения. Пустой путь означает только значения
// по умолчанию и окружение.
func LoadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("не удалось прочитать файл конфигурации: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("не удалось разобрать YAML: %w", err)
		}
	}

	if getenv != nil {
		if v := getenv(envAddr); v != "" {
			cfg.Addr = v
		}
		if v := getenv(envDatabaseURL); v != "" {
			cfg.DatabaseURL = v
		}
		if v := getenv(envLogLevel); v != "" {
			cfg.LogLevel = v
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет конфигурацию.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("не задан адрес сервера"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("таймаут остановки должен быть положительным"))
	}
	if c.Publish.MaxConcurrency < 0 {
		errs = append(errs, errors.New("max_concurrency не может быть отрицательным"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("некорректная конфигурация: %w", err)
	}
	return nil
}

// Level возвращает уровень логирования.
func (c Config) Level() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("неизвестный уровень логирования '%s'", s)
	}
	return level, nil
}
