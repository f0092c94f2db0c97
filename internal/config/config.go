package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	TransportDirect = "direct"
	TransportKafka  = "kafka"

	LimiterDB    = "db"
	LimiterRedis = "redis"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string
	LogEnv   string

	// REDIS_ADDR 为空时不启用 Redis：缓存直通，限流只能走 db 后端
	RedisAddr string
	RedisDB   int

	// 通知链路：direct 进程内直接发送；kafka 走 Redis Stream outbox -> Kafka -> 消费者
	NotifyTransport string
	KafkaBrokers    []string
	KafkaTopic      string
	KafkaGroupID    string
	NotifyStream    string
	NotifyGroup     string
	NotifyConsumer  string

	// 失败尝试限流
	RateLimitBackend     string
	RateLimitMaxAttempts int
	RateLimitWindow      time.Duration
	RateLimitSweepSpec   string

	SpinTimeout    time.Duration
	PrizeCacheTTL  time.Duration
	WinnerCacheTTL time.Duration

	// 邮件
	SendGridAPIKey string
	MailFrom       string
	MailFromName   string
	AdminEmail     string
	AppName        string
	AppURL         string
	EmailPacing    time.Duration

	// 管理端
	AdminPasswordHash []byte
	// ResetPasswordHash 为空时清库接口不可用
	ResetPasswordHash []byte
	JWTSecret         string
	AdminSession      time.Duration
}

// Load 读取并校验配置，缺失时使用默认值。存在 .env 文件时先加载它。
func Load() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := AppConfig{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		DBPath:             getEnv("DB_PATH", "prize_wheel.db"),
		LogEnv:             getEnv("LOG_ENV", "development"),
		RedisAddr:          strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		NotifyTransport:    getEnv("NOTIFY_TRANSPORT", TransportDirect),
		KafkaBrokers:       splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "prize-wheel-notifications"),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "prize-wheel-mailer"),
		NotifyStream:       getEnv("NOTIFY_STREAM", "prize_wheel:notifications"),
		NotifyGroup:        getEnv("NOTIFY_GROUP", "prize-wheel-relay-group"),
		NotifyConsumer:     getEnv("NOTIFY_CONSUMER", "prize-wheel-relay-1"),
		RateLimitBackend:   getEnv("RATE_LIMIT_BACKEND", LimiterDB),
		RateLimitSweepSpec: getEnv("RATE_LIMIT_SWEEP_SPEC", "@every 1h"),
		SendGridAPIKey:     strings.TrimSpace(os.Getenv("SENDGRID_API_KEY")),
		MailFrom:           getEnv("MAIL_FROM", "noreply@example.org"),
		MailFromName:       getEnv("MAIL_FROM_NAME", "Prize Wheel"),
		AdminEmail:         strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AppName:            getEnv("APP_NAME", "Prize Wheel"),
		AppURL:             getEnv("APP_URL", "http://localhost:8080"),
		JWTSecret:          strings.TrimSpace(os.Getenv("JWT_SECRET")),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	if cfg.RateLimitMaxAttempts, err = getEnvInt("RATE_LIMIT_MAX_ATTEMPTS", 5); err != nil {
		return AppConfig{}, fmt.Errorf("invalid RATE_LIMIT_MAX_ATTEMPTS: %w", err)
	}
	if cfg.RateLimitMaxAttempts <= 0 {
		return AppConfig{}, fmt.Errorf("RATE_LIMIT_MAX_ATTEMPTS must be > 0")
	}
	if cfg.RateLimitWindow, err = getEnvDuration("RATE_LIMIT_WINDOW_MIN", 15, time.Minute); err != nil {
		return AppConfig{}, err
	}
	if cfg.SpinTimeout, err = getEnvDuration("SPIN_TIMEOUT_MS", 5000, time.Millisecond); err != nil {
		return AppConfig{}, err
	}
	if cfg.PrizeCacheTTL, err = getEnvDuration("PRIZE_CACHE_TTL_SEC", 300, time.Second); err != nil {
		return AppConfig{}, err
	}
	if cfg.WinnerCacheTTL, err = getEnvDuration("WINNER_CACHE_TTL_SEC", 120, time.Second); err != nil {
		return AppConfig{}, err
	}
	if cfg.EmailPacing, err = getEnvDuration("EMAIL_PACING_MS", 600, time.Millisecond); err != nil {
		return AppConfig{}, err
	}
	if cfg.AdminSession, err = getEnvDuration("ADMIN_SESSION_HOURS", 4, time.Hour); err != nil {
		return AppConfig{}, err
	}

	switch cfg.RateLimitBackend {
	case LimiterDB:
	case LimiterRedis:
		if cfg.RedisAddr == "" {
			return AppConfig{}, fmt.Errorf("RATE_LIMIT_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return AppConfig{}, fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q", LimiterDB, LimiterRedis)
	}

	switch cfg.NotifyTransport {
	case TransportDirect:
	case TransportKafka:
		if cfg.RedisAddr == "" {
			return AppConfig{}, fmt.Errorf("NOTIFY_TRANSPORT=kafka requires REDIS_ADDR")
		}
		if len(cfg.KafkaBrokers) == 0 {
			return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
		}
		if cfg.KafkaTopic == "" || cfg.KafkaGroupID == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_TOPIC and KAFKA_GROUP_ID must not be empty")
		}
	default:
		return AppConfig{}, fmt.Errorf("NOTIFY_TRANSPORT must be %q or %q", TransportDirect, TransportKafka)
	}

	if cfg.AdminPasswordHash, err = passwordHash("ADMIN_PASSWORD_HASH", "ADMIN_PASSWORD"); err != nil {
		return AppConfig{}, err
	}
	if cfg.ResetPasswordHash, err = passwordHash("ADMIN_RESET_PASSWORD_HASH", "ADMIN_RESET_PASSWORD"); err != nil {
		return AppConfig{}, err
	}
	if len(cfg.AdminPasswordHash) > 0 && cfg.JWTSecret == "" {
		return AppConfig{}, fmt.Errorf("JWT_SECRET must be set when an admin password is configured")
	}

	return cfg, nil
}

// passwordHash 优先使用 hashKey 中的 bcrypt 哈希，否则对 plainKey 的明文做 bcrypt。
// 两者都为空时返回 nil。
func passwordHash(hashKey, plainKey string) ([]byte, error) {
	if h := strings.TrimSpace(os.Getenv(hashKey)); h != "" {
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", hashKey, err)
		}
		return []byte(h), nil
	}
	pw := os.Getenv(plainKey)
	if pw == "" {
		return nil, nil
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", plainKey, err)
	}
	return h, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// getEnvDuration 读取以 unit 为单位的正整数时长。
func getEnvDuration(key string, fallback int, unit time.Duration) (time.Duration, error) {
	n, err := getEnvInt(key, fallback)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return time.Duration(n) * unit, nil
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
