package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Политики отмены обмена
const (
	CancelPolicyArchive = "archive" // запись остается со статусом cancelled
	CancelPolicyDelete  = "delete"  // запись удаляется
)

// Config структура конфигурации
type Config struct {
	Port             string
	LivePort         string
	TelegramBotToken string
	JWTSecret        string
	DatabaseURL      string
	DatabaseConfig   DatabaseConfig
	CloudinaryConfig CloudinaryConfig
	RedisConfig      RedisConfig
	TradeConfig      TradeConfig
	ChatConfig       ChatConfig
	AllowedOrigins   []string
	AppEnv           string
}

// DatabaseConfig содержит конфигурацию базы данных
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// CloudinaryConfig содержит конфигурацию для Cloudinary
type CloudinaryConfig struct {
	CloudName    string
	APIKey       string
	APISecret    string
	UploadPreset string
	UploadFolder string
}

// RedisConfig содержит параметры подключения к Redis. Пустой Addr отключает Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TradeConfig содержит параметры обменов
type TradeConfig struct {
	MessageMaxLength int
	CancelPolicy     string
	ReconcileGrace   time.Duration
}

// ChatConfig содержит параметры сообщений
type ChatConfig struct {
	MessageMaxLength  int
	SendRatePerMinute int
	SendBurst         int
}

// Load загружает переменные из .env и окружения
func Load() (*Config, error) {
	cfg := read()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithoutSecrets загружает конфигурацию для служебных команд,
// которые не выпускают токены и поэтому работают без JWT_SECRET
func LoadWithoutSecrets() (*Config, error) {
	cfg := read()
	if err := cfg.validateSettings(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ .env файл не найден, используем переменные окружения")
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("PGHOST", "localhost"),
		Port:     getEnv("PGPORT", "5432"),
		User:     getEnv("PGUSER", "bookswap_user"),
		Password: getEnv("PGPASSWORD", "bookswap_pass"),
		Name:     getEnv("PGDATABASE", "bookswap"),
		SSLMode:  getEnv("PGSSLMODE", "disable"),
	}

	// Формируем строку подключения к базе данных, если она не задана целиком
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		dbURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			dbConfig.User, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name, dbConfig.SSLMode)
	}

	return &Config{
		Port:             getEnv("PORT", "8080"),
		LivePort:         getEnv("LIVE_PORT", "8081"),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		DatabaseURL:      dbURL,
		DatabaseConfig:   dbConfig,
		CloudinaryConfig: CloudinaryConfig{
			CloudName:    getEnv("CLOUDINARY_CLOUD_NAME", ""),
			APIKey:       getEnv("CLOUDINARY_API_KEY", ""),
			APISecret:    getEnv("CLOUDINARY_API_SECRET", ""),
			UploadPreset: getEnv("CLOUDINARY_UPLOAD_PRESET", "bookswap_covers"),
			UploadFolder: getEnv("CLOUDINARY_UPLOAD_FOLDER", "covers"),
		},
		RedisConfig: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		TradeConfig: TradeConfig{
			MessageMaxLength: getEnvInt("TRADE_MESSAGE_MAX_LENGTH", 500),
			CancelPolicy:     getEnv("TRADE_CANCEL_POLICY", CancelPolicyArchive),
			ReconcileGrace:   getEnvDuration("RECONCILE_GRACE", 30*time.Second),
		},
		ChatConfig: ChatConfig{
			MessageMaxLength:  getEnvInt("MESSAGE_MAX_LENGTH", 1000),
			SendRatePerMinute: getEnvInt("SEND_RATE_PER_MINUTE", 30),
			SendBurst:         getEnvInt("SEND_BURST", 10),
		},
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		AppEnv:         getEnv("APP_ENV", "production"), // По умолчанию production
	}
}

// LoadConfig загружает конфигурацию и завершает процесс при ошибке
func LoadConfig() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("❌ Ошибка конфигурации: %v", err)
	}
	return cfg
}

// Validate проверяет обязательные параметры
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("не задана переменная окружения JWT_SECRET")
	}
	return c.validateSettings()
}

func (c *Config) validateSettings() error {
	if c.TradeConfig.CancelPolicy != CancelPolicyArchive && c.TradeConfig.CancelPolicy != CancelPolicyDelete {
		return fmt.Errorf("недопустимое значение TRADE_CANCEL_POLICY: %q", c.TradeConfig.CancelPolicy)
	}
	if c.ChatConfig.MessageMaxLength <= 0 || c.TradeConfig.MessageMaxLength <= 0 {
		return errors.New("максимальная длина сообщения должна быть положительной")
	}
	return nil
}

// IsDevelopment сообщает, запущено ли приложение в режиме разработки
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// getEnv получает переменную окружения или использует дефолтное значение
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Printf("⚠️ Некорректное значение %s=%q, используем %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		log.Printf("⚠️ Некорректное значение %s=%q, используем %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
