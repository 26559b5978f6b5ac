package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix         = "RFI_"
	maxConfigFileSize = 1 << 20
)

const defaults = `
app:
  base_url: http://localhost:8080
server:
  address: 0.0.0.0:8080
  read_timeout: 15s
  write_timeout: 30s
  shutdown_timeout: 10s
database:
  driver: postgres
log:
  level: info
  format: json
  caller: true
auth:
  issuer: rfi-tracker
due_dates:
  reviewer_offset_days: 5
  qcr_offset_days: 3
  near_term_days: 7
classifier:
  project_marker: LEB
smtp:
  port: "587"
reminders:
  enabled: true
  interval: 1h
  window_days: 0
`

// Известные секции; due_dates содержит '_', поэтому ключ делится по имени секции
var sections = []string{
	"due_dates", "app", "server", "database", "log", "auth", "classifier", "smtp", "reminders",
}

// Load читает конфигурацию. Приоритет (от высшего):
//  1. переменные RFI_SECTION_FIELD (RFI_DUE_DATES_QCR_OFFSET_DAYS -> due_dates.qcr_offset_days)
//  2. POSTGRES_CONN и SERVER_ADDRESS
//  3. YAML-файл path (если задан)
//  4. значения по умолчанию
//
// Перед чтением подгружается .env из рабочего каталога, если он есть.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider([]byte(defaults)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// переменные окружения из исходной версии сервиса
	if v := os.Getenv("POSTGRES_CONN"); v != "" {
		_ = k.Set("database.url", v)
	}
	if v := os.Getenv("SERVER_ADDRESS"); v != "" {
		_ = k.Set("server.address", v)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey: RFI_SMTP_HOST -> smtp.host
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, sec := range sections {
		if strings.HasPrefix(lower, sec+"_") {
			return sec + "." + strings.TrimPrefix(lower, sec+"_")
		}
	}
	return lower
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
