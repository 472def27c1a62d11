package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server       ServerConfig       `json:"server"`
	Database     DatabaseConfig     `json:"database"`
	Redis        RedisConfig        `json:"redis"`
	Kafka        KafkaConfig        `json:"kafka"`
	Logger       LoggerConfig       `json:"logger"`
	Auth         AuthConfig         `json:"auth"`
	Mpesa        MpesaConfig        `json:"mpesa"`
	Card         CardConfig         `json:"card"`
	Notification NotificationConfig `json:"notification"`
	Analytics    AnalyticsConfig    `json:"analytics"`
	RateLimit    RateLimitConfig    `json:"rate_limit"`
	Reconciler   ReconcilerConfig   `json:"reconciler"`
}

// ServerConfig представляет конфигурацию HTTP сервера
type ServerConfig struct {
	Port         string `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
	CORSOrigins  string `json:"cors_origins"`
}

// DatabaseConfig представляет конфигурацию базы данных
type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         string `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	DBName       string `json:"db_name"`
	SSLMode      string `json:"ssl_mode"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	AutoMigrate  bool   `json:"auto_migrate"`
}

// RedisConfig представляет конфигурацию Redis
type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// KafkaConfig представляет конфигурацию Kafka
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	GroupID string   `json:"group_id"`
	Topics  Topics   `json:"topics"`
}

// Topics представляет список топиков Kafka
type Topics struct {
	Orders        string `json:"orders"`
	Payments      string `json:"payments"`
	Notifications string `json:"notifications"`
}

// LoggerConfig представляет конфигурацию логгера
type LoggerConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

// AuthConfig описывает выпуск и проверку JWT.
type AuthConfig struct {
	JWTSecret string        `json:"-"`
	TokenTTL  time.Duration `json:"token_ttl"`
	Issuer    string        `json:"issuer"`
}

// MpesaConfig описывает доступ к Daraja API (STK push).
type MpesaConfig struct {
	BaseURL        string `json:"base_url"`
	ConsumerKey    string `json:"-"`
	ConsumerSecret string `json:"-"`
	ShortCode      string `json:"short_code"`
	Passkey        string `json:"-"`
	CallbackURL    string `json:"callback_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// CardConfig описывает приём вебхуков карточного провайдера.
type CardConfig struct {
	WebhookHash string `json:"-"`
}

// NotificationConfig хранит настройки SMTP и SMS-шлюза.
type NotificationConfig struct {
	SMTPHost       string `json:"smtp_host"`
	SMTPPort       int    `json:"smtp_port"`
	SMTPUser       string `json:"smtp_user"`
	SMTPPassword   string `json:"-"`
	SMTPFrom       string `json:"smtp_from"`
	SMSGatewayURL  string `json:"sms_gateway_url"`
	SMSAPIKey      string `json:"-"`
	SMSUsername    string `json:"sms_username"`
	SMSSenderID    string `json:"sms_sender_id"`
	DedupeTTLHours int    `json:"dedupe_ttl_hours"`
}

// AnalyticsConfig хранит настройки аналитики
type AnalyticsConfig struct {
	CacheTTLMinutes       int    `json:"cache_ttl_minutes"`
	MaxRangeDays          int    `json:"max_range_days"`
	DefaultGroupBy        string `json:"default_group_by"`
	DefaultTopLimit       int    `json:"default_top_limit"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// RateLimitConfig описывает настройки rate limiting
type RateLimitConfig struct {
	Enabled               bool   `json:"enabled"`
	Requests              int    `json:"requests"`
	WindowSeconds         int    `json:"window_seconds"`
	KeyPrefix             string `json:"key_prefix"`
	PromoValidateRequests int    `json:"promo_validate_requests"`
}

// ReconcilerConfig задаёт периодичность сверки зависших платежей.
type ReconcilerConfig struct {
	Enabled    bool          `json:"enabled"`
	Interval   time.Duration `json:"interval"`
	StaleAfter time.Duration `json:"stale_after"`
	BatchSize  int           `json:"batch_size"`
}

// Load загружает конфигурацию из переменных окружения.
// Если рядом лежит .env, его значения подхватываются без перезаписи уже заданных переменных.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 10),
			CORSOrigins:  getEnv("CORS_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "household"),
			Password:     getEnv("DB_PASSWORD", ""),
			DBName:       getEnv("DB_NAME", "household_planet"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			AutoMigrate:  getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			GroupID: getEnv("KAFKA_GROUP_ID", "household-planet"),
			Topics: Topics{
				Orders:        getEnv("KAFKA_TOPIC_ORDERS", "orders"),
				Payments:      getEnv("KAFKA_TOPIC_PAYMENTS", "payments"),
				Notifications: getEnv("KAFKA_TOPIC_NOTIFICATIONS", "notifications"),
			},
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  getEnvAsDuration("JWT_TTL", 24*time.Hour),
			Issuer:    getEnv("JWT_ISSUER", "household-planet"),
		},
		Mpesa: MpesaConfig{
			BaseURL:        getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:      getEnv("MPESA_SHORTCODE", ""),
			Passkey:        getEnv("MPESA_PASSKEY", ""),
			CallbackURL:    getEnv("MPESA_CALLBACK_URL", ""),
			TimeoutSeconds: getEnvAsInt("MPESA_TIMEOUT_SECONDS", 15),
		},
		Card: CardConfig{
			WebhookHash: getEnv("CARD_WEBHOOK_HASH", ""),
		},
		Notification: NotificationConfig{
			SMTPHost:       getEnv("SMTP_HOST", ""),
			SMTPPort:       getEnvAsInt("SMTP_PORT", 465),
			SMTPUser:       getEnv("SMTP_USER", ""),
			SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
			SMTPFrom:       getEnv("SMTP_FROM", ""),
			SMSGatewayURL:  getEnv("SMS_GATEWAY_URL", ""),
			SMSAPIKey:      getEnv("SMS_API_KEY", ""),
			SMSUsername:    getEnv("SMS_USERNAME", ""),
			SMSSenderID:    getEnv("SMS_SENDER_ID", ""),
			DedupeTTLHours: getEnvAsInt("NOTIFY_DEDUPE_TTL_HOURS", 72),
		},
		Analytics: AnalyticsConfig{
			CacheTTLMinutes:       getEnvAsInt("ANALYTICS_CACHE_TTL_MINUTES", 10),
			MaxRangeDays:          getEnvAsInt("ANALYTICS_MAX_RANGE_DAYS", 365),
			DefaultGroupBy:        getEnv("ANALYTICS_DEFAULT_GROUP_BY", "none"),
			DefaultTopLimit:       getEnvAsInt("ANALYTICS_DEFAULT_TOP_LIMIT", 5),
			RequestTimeoutSeconds: getEnvAsInt("ANALYTICS_REQUEST_TIMEOUT_SECONDS", 5),
		},
		RateLimit: RateLimitConfig{
			Enabled:               getEnvAsBool("RATE_LIMIT_ENABLED", false),
			Requests:              getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
			WindowSeconds:         getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			KeyPrefix:             getEnv("RATE_LIMIT_KEY_PREFIX", "ratelimit"),
			PromoValidateRequests: getEnvAsInt("RATE_LIMIT_PROMO_VALIDATE_REQUESTS", 20),
		},
		Reconciler: ReconcilerConfig{
			Enabled:    getEnvAsBool("RECONCILER_ENABLED", true),
			Interval:   getEnvAsDuration("RECONCILER_INTERVAL", 2*time.Minute),
			StaleAfter: getEnvAsDuration("RECONCILER_STALE_AFTER", 5*time.Minute),
			BatchSize:  getEnvAsInt("RECONCILER_BATCH_SIZE", 50),
		},
	}
}

// getEnv получает значение переменной окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt получает значение переменной окружения как int с значением по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat получает значение переменной окружения как float64 с значением по умолчанию
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool получает значение переменной окружения как bool с значением по умолчанию
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.ToLower(getEnv(key, ""))
	if valueStr == "true" || valueStr == "1" || valueStr == "yes" {
		return true
	}
	if valueStr == "false" || valueStr == "0" || valueStr == "no" {
		return false
	}
	return defaultValue
}

// getEnvAsDuration понимает как "90s"/"5m", так и голое число секунд.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
