package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	DBAutoMigrate         bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	AdminPassword         string
	StaffPassword         string
	LoginRateLimit        string
	LockTTLSeconds        int
	ReportCacheTTLSeconds int
	LogLevel              string
	LogFormat             string
	LowStockScanAt        string
	Timezone              string
	SMTPHost              string
	SMTPPort              int
	SMTPUsername          string
	SMTPPassword          string
	SMTPFrom              string
	LowStockNotifyTo      []string
}

// Load reads .env when present, then the process environment. Variables
// already set in the environment win over .env values.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		DBAutoMigrate:         getBool("DB_AUTO_MIGRATE", false),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getInt("REDIS_DB", 0, 0),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		AdminPassword:         os.Getenv("ADMIN_PASSWORD"),
		StaffPassword:         os.Getenv("STAFF_PASSWORD"),
		LoginRateLimit:        getEnv("LOGIN_RATE_LIMIT", "5-M"),
		LockTTLSeconds:        getInt("LOCK_TTL_SECONDS", 10, 1),
		ReportCacheTTLSeconds: getInt("REPORT_CACHE_TTL_SECONDS", 60, 1),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		LowStockScanAt:        getEnv("LOW_STOCK_SCAN_AT", "08:00"),
		Timezone:              getEnv("TIMEZONE", "UTC"),
		SMTPHost:              os.Getenv("SMTP_HOST"),
		SMTPPort:              getInt("SMTP_PORT", 587, 1),
		SMTPUsername:          os.Getenv("SMTP_USERNAME"),
		SMTPPassword:          os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:              os.Getenv("SMTP_FROM"),
		LowStockNotifyTo:      splitList(os.Getenv("LOW_STOCK_NOTIFY_TO")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) MailEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != "" && len(c.LowStockNotifyTo) > 0
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getInt(key string, fallback int, min int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < min {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return val
}

func splitList(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
