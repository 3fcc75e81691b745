package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultSessionSecret is only meant for local development.
const DefaultSessionSecret = "secret_key_change_me"

// Config 服务运行配置，来自环境变量（可选 .env 文件）
type Config struct {
	Port     string
	GinMode  string
	LogLevel string
	BaseURL  string

	DatabaseURL string
	RedisURL    string

	AdminAPIKey string

	NeynarAPIKey        string
	NeynarBaseURL       string
	NeynarClientID      string
	NeynarWebhookSecret string
	HubRateLimit        float64 // requests per second towards Neynar

	AuthSessionTTL time.Duration
	SessionSecret  string
	SessionMaxAge  time.Duration

	ShortenerPolicy string

	Worker WorkerConfig
}

type WorkerConfig struct {
	AutoStart   bool
	BatchSize   int
	Interval    time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	BatchDelay  time.Duration
	CastLimit   int
	Concurrency int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=kast port=5432 sslmode=disable TimeZone=UTC")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("NEYNAR_BASE_URL", "https://api.neynar.com")
	v.SetDefault("HUB_RATE_LIMIT", 5.0)
	v.SetDefault("AUTH_SESSION_TTL", "5m")
	v.SetDefault("SESSION_SECRET", DefaultSessionSecret)
	v.SetDefault("SESSION_MAX_AGE", "168h")
	v.SetDefault("MODERATION_SHORTENER_POLICY", "allow")

	v.SetDefault("WORKER_AUTOSTART", false)
	v.SetDefault("WORKER_BATCH_SIZE", 100)
	v.SetDefault("WORKER_INTERVAL", "5m")
	v.SetDefault("WORKER_MAX_RETRIES", 3)
	v.SetDefault("WORKER_RETRY_DELAY", "5s")
	v.SetDefault("WORKER_BATCH_DELAY", "1s")
	v.SetDefault("WORKER_CAST_LIMIT", 50)
	v.SetDefault("WORKER_CONCURRENCY", 16)
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// .env 不存在时直接使用系统环境变量
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Port:                v.GetString("PORT"),
		GinMode:             v.GetString("GIN_MODE"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		BaseURL:             strings.TrimSuffix(v.GetString("BASE_URL"), "/"),
		DatabaseURL:         v.GetString("DATABASE_URL"),
		RedisURL:            v.GetString("REDIS_URL"),
		AdminAPIKey:         v.GetString("ADMIN_API_KEY"),
		NeynarAPIKey:        v.GetString("NEYNAR_API_KEY"),
		NeynarBaseURL:       strings.TrimSuffix(v.GetString("NEYNAR_BASE_URL"), "/"),
		NeynarClientID:      v.GetString("NEYNAR_CLIENT_ID"),
		NeynarWebhookSecret: v.GetString("NEYNAR_WEBHOOK_SECRET"),
		HubRateLimit:        v.GetFloat64("HUB_RATE_LIMIT"),
		AuthSessionTTL:      v.GetDuration("AUTH_SESSION_TTL"),
		SessionSecret:       v.GetString("SESSION_SECRET"),
		SessionMaxAge:       v.GetDuration("SESSION_MAX_AGE"),
		ShortenerPolicy:     v.GetString("MODERATION_SHORTENER_POLICY"),
		Worker: WorkerConfig{
			AutoStart:   v.GetBool("WORKER_AUTOSTART"),
			BatchSize:   v.GetInt("WORKER_BATCH_SIZE"),
			Interval:    v.GetDuration("WORKER_INTERVAL"),
			MaxRetries:  v.GetInt("WORKER_MAX_RETRIES"),
			RetryDelay:  v.GetDuration("WORKER_RETRY_DELAY"),
			BatchDelay:  v.GetDuration("WORKER_BATCH_DELAY"),
			CastLimit:   v.GetInt("WORKER_CAST_LIMIT"),
			Concurrency: v.GetInt("WORKER_CONCURRENCY"),
		},
	}
}
