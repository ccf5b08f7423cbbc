package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	Environment  string
	RuleDir      string
	Rules        []string // rule names run by the daily pipeline
	LockKey      int64    // advisory lock identifier for the pipeline
	Workers      int
	LookbackBars int
	PipelineAt   string // HH:MM local time for the daily job
}

// LoadConfig loads environment variables, with .env support for local runs.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	cfg := &Config{
		DBHost:       getEnv("PG_HOST", "127.0.0.1"),
		DBPort:       getEnv("PG_PORT", "5432"),
		DBUser:       getEnv("PG_USER", "postgres"),
		DBPassword:   getEnv("PG_PASSWORD", ""),
		DBName:       getEnv("PG_DB", "tdx_screener"),
		Environment:  getEnv("ENVIRONMENT", "development"),
		RuleDir:      getEnv("RULE_DIR", "rules"),
		Rules:        splitList(getEnv("RULES", "b1")),
		LockKey:      getEnvInt64("PIPELINE_LOCK_KEY", 42424242),
		Workers:      getEnvInt("SCREEN_WORKERS", 8),
		LookbackBars: getEnvInt("LOOKBACK_BARS", 300),
		PipelineAt:   getEnv("PIPELINE_AT", "16:00"),
	}
	return cfg, nil
}

// InitDB opens the postgres connection used by every storage adapter.
func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=Asia/Shanghai",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort,
	)

	logLevel := logger.Info
	if cfg.Environment == "production" {
		logLevel = logger.Error
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	log.Info().Str("host", cfg.DBHost).Str("db", cfg.DBName).Msg("database connection verified")
	return db, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
