package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	// RunMode selects how the binary behaves: "once" runs a single pipeline
	// invocation and exits (the expected mode under an external scheduler),
	// "loop" keeps an internal ticker running.
	RunMode string

	// RollupLookbackDays bounds the live rollup and attribution views.
	RollupLookbackDays int
	// SnapshotReprocessDays is the merge window fed into the snapshot store
	// on every run. Kept short so late-arriving source data self-heals.
	SnapshotReprocessDays int
	// ForecastLookbackDays bounds the training series handed to the model.
	ForecastLookbackDays int
	// ForecastMinHistoryDays gates model invocation per series.
	ForecastMinHistoryDays int
	// ForecastHorizonDays is the number of daily points requested per series.
	ForecastHorizonDays int

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
}

const (
	RunModeOnce = "once"
	RunModeLoop = "loop"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "aimeter"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		RunMode: normalizeRunMode(getenv("RUN_MODE", RunModeOnce)),

		RollupLookbackDays:     getenvInt("ROLLUP_LOOKBACK_DAYS", 90),
		SnapshotReprocessDays:  getenvInt("SNAPSHOT_REPROCESS_DAYS", 2),
		ForecastLookbackDays:   getenvInt("FORECAST_LOOKBACK_DAYS", 365),
		ForecastMinHistoryDays: getenvInt("FORECAST_MIN_HISTORY_DAYS", 14),
		ForecastHorizonDays:    getenvInt("FORECAST_HORIZON_DAYS", 365),

		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "postgres"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),

		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 0),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 0),
	}

	return cfg
}

func normalizeRunMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case RunModeLoop:
		return RunModeLoop
	default:
		return RunModeOnce
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
