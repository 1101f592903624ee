package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config содержит все конфигурационные параметры приложения
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Webhook   WebhookConfig
	Kafka     KafkaConfig
	Telegram  TelegramConfig
	Scheduler SchedulerConfig
}

type AppConfig struct {
	Env         string
	LogLevel    string
	Port        int
	CORSOrigins []string
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MigrationPath string
	MaxConns      int
}

// AuthConfig содержит настройки проверки JWT токенов, выданных сервисом авторизации
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// WebhookConfig содержит секрет для проверки подписи событий об оплате
type WebhookConfig struct {
	SecretKey string
}

// KafkaConfig содержит настройки публикации событий расчетов
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// TelegramConfig содержит настройки уведомлений администраторов
type TelegramConfig struct {
	Enabled      bool
	BotToken     string
	AdminChatIDs []int64
}

type SchedulerConfig struct {
	TierSnapshotInterval  time.Duration
	PendingDigestInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения и .env
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// App
	cfg.App.Env = getEnvDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvDefault("LOG_LEVEL", "info")
	cfg.App.Port = getEnvIntDefault("APP_PORT", 8080)
	cfg.App.CORSOrigins = getEnvListDefault("CORS_ORIGINS", []string{"*"})

	// Database
	cfg.Database.Host = getEnvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getEnvIntDefault("DB_PORT", 5432)
	cfg.Database.User = os.Getenv("DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Name = os.Getenv("DB_NAME")
	cfg.Database.SSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	cfg.Database.MigrationPath = getEnvDefault("MIGRATION_PATH", "scripts/migrations")
	cfg.Database.MaxConns = getEnvIntDefault("DB_MAX_CONNS", 10)

	// Auth
	cfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.Auth.Issuer = getEnvDefault("JWT_ISSUER", "")

	// Webhook
	cfg.Webhook.SecretKey = os.Getenv("PAYMENT_WEBHOOK_SECRET")

	// Kafka
	cfg.Kafka.Enabled = getEnvBoolDefault("KAFKA_ENABLED", false)
	cfg.Kafka.Brokers = getEnvListDefault("KAFKA_BROKERS", []string{"localhost:9092"})
	cfg.Kafka.Topic = getEnvDefault("KAFKA_SETTLEMENT_TOPIC", "settlement-events")

	// Telegram
	cfg.Telegram.Enabled = getEnvBoolDefault("TELEGRAM_NOTIFY_ENABLED", false)
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	chatIDs, err := parseChatIDs(os.Getenv("TELEGRAM_ADMIN_CHAT_IDS"))
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора TELEGRAM_ADMIN_CHAT_IDS: %w", err)
	}
	cfg.Telegram.AdminChatIDs = chatIDs

	// Scheduler
	cfg.Scheduler.TierSnapshotInterval = getEnvDurationDefault("TIER_SNAPSHOT_INTERVAL", time.Hour)
	cfg.Scheduler.PendingDigestInterval = getEnvDurationDefault("PENDING_DIGEST_INTERVAL", 4*time.Hour)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("ошибка валидации конфигурации: %w", err)
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getEnvListDefault(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func parseChatIDs(v string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("неверный chat id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// validateConfig проверяет корректность конфигурации
func validateConfig(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("DB_HOST не установлен")
	}
	if config.Database.User == "" {
		return fmt.Errorf("DB_USER не установлен")
	}
	if config.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD не установлен")
	}
	if config.Database.Name == "" {
		return fmt.Errorf("DB_NAME не установлен")
	}
	if config.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET не установлен")
	}
	if config.Telegram.Enabled && config.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN не установлен при включенных уведомлениях")
	}
	if config.Kafka.Enabled && len(config.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS не установлен при включенной публикации событий")
	}
	if config.App.IsProduction() && config.Webhook.SecretKey == "" {
		return fmt.Errorf("PAYMENT_WEBHOOK_SECRET обязателен в продакшн режиме")
	}
	if config.Scheduler.TierSnapshotInterval <= 0 || config.Scheduler.PendingDigestInterval <= 0 {
		return fmt.Errorf("интервалы планировщика должны быть положительными")
	}

	return nil
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetURL возвращает URL подключения для goose
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction проверяет, запущено ли приложение в продакшн режиме
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// GetLogLevel возвращает уровень логирования в формате zap
func (c *AppConfig) GetLogLevel() zap.AtomicLevel {
	switch c.LogLevel {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
