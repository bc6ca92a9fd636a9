package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера записи/воспроизведения.
type Config struct {
	Record    RecordConfig    `yaml:"record"`
	Replay    ReplayConfig    `yaml:"replay"`
	Server    ServerConfig    `yaml:"server"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type RecordConfig struct {
	Dir               string `yaml:"dir"`
	MaxMBytes         int    `yaml:"max_mbytes"`
	UpdateRateSeconds int    `yaml:"update_rate_seconds"`
}

type ReplayConfig struct {
	Enabled          bool `yaml:"enabled"` // сервер стартует в режиме воспроизведения
	GapNoticeSeconds int  `yaml:"gap_notice_seconds"`
}

type ServerConfig struct {
	TickMillis    int    `yaml:"tick_millis"`
	AdminPort     int    `yaml:"admin_port"`
	MetricsPort   int    `yaml:"metrics_port"`
	FeedPort      int    `yaml:"feed_port"`
	SpectatorPort int    `yaml:"spectator_port"`
	Version       string `yaml:"version"`
	WorldFile     string `yaml:"world_file"` // определение мира для заголовков записей
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type CatalogConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
	// Общий горячий слой в Redis, пусто - только локальный badger
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisTTLSeconds int    `yaml:"redis_ttl_seconds"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	ToFiles bool   `yaml:"to_files"`
}

// Default возвращает конфигурацию с дефолтами: буфер 16 MiB, снимок раз в 10 секунд
func Default() *Config {
	return &Config{
		Record: RecordConfig{
			Dir:               "recordings",
			MaxMBytes:         16,
			UpdateRateSeconds: 10,
		},
		Replay: ReplayConfig{GapNoticeSeconds: 10},
		Server: ServerConfig{TickMillis: 20, Version: "2.0"},
		EventBus: EventBusConfig{
			Stream:    "REPLAY_EVENTS",
			Retention: 24,
		},
		Catalog:   CatalogConfig{Path: "recordings/.catalog"},
		Telemetry: TelemetryConfig{ServiceName: "mmo-replay"},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// MaxBytes потолок буфера в байтах
func (r RecordConfig) MaxBytes() int {
	return r.MaxMBytes * 1024 * 1024
}

// UpdateRate период снимков состояния
func (r RecordConfig) UpdateRate() time.Duration {
	return time.Duration(r.UpdateRateSeconds) * time.Second
}

// TickInterval период тика движка
func (s *ServerConfig) TickInterval() time.Duration {
	if s.TickMillis <= 0 {
		return 20 * time.Millisecond
	}
	return time.Duration(s.TickMillis) * time.Millisecond
}

// GetAdminPort возвращает порт REST API оператора с поддержкой fallback значений
func (s *ServerConfig) GetAdminPort() int {
	return getPortWithEnvFallback(s.AdminPort, "REPLAY_ADMIN_PORT", 8089)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "REPLAY_METRICS_PORT", 2113)
}

// GetFeedPort порт приёма живого трафика от игрового сервера
func (s *ServerConfig) GetFeedPort() int {
	return getPortWithEnvFallback(s.FeedPort, "REPLAY_FEED_PORT", 5155)
}

// GetSpectatorPort порт подключения зрителей
func (s *ServerConfig) GetSpectatorPort() int {
	return getPortWithEnvFallback(s.SpectatorPort, "REPLAY_SPECTATOR_PORT", 5154)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл поверх дефолтов.
// Если path == "", пробует ENV REPLAY_CONFIG, иначе возвращает дефолты.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("REPLAY_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать конфиг %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфига %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения, которые нельзя исправить молча
func (c *Config) Validate() error {
	if c.Record.MaxMBytes < 0 {
		return fmt.Errorf("record.max_mbytes не может быть отрицательным: %d", c.Record.MaxMBytes)
	}
	if c.Record.UpdateRateSeconds < 0 {
		return fmt.Errorf("record.update_rate_seconds не может быть отрицательным: %d", c.Record.UpdateRateSeconds)
	}
	if c.Record.Dir == "" {
		return fmt.Errorf("record.dir не задан")
	}
	return nil
}
