package factory

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// LoadDotEnv loads the first readable .env file among paths into the process
// environment. Variables already set are kept.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err == nil {
			zap.S().Debugw("loaded environment file", "path", p)
			return
		}
	}
}

// ConfigFromEnv overlays environment variables on DefaultConfig.
func ConfigFromEnv() *formsync.Config {
	cfg := formsync.DefaultConfig()

	db := &cfg.Database
	db.Host = getEnv("DB_HOST", db.Host)
	db.Port = getEnvInt("DB_PORT", db.Port)
	db.Database = getEnv("DB_NAME", db.Database)
	db.Username = getEnv("DB_USER", db.Username)
	db.Password = getEnv("DB_PASSWORD", db.Password)
	db.SSLMode = getEnv("DB_SSL_MODE", db.SSLMode)
	db.PoolSize = getEnvInt("DB_POOL_SIZE", db.PoolSize)
	db.LightPoolSize = getEnvInt("DB_LIGHT_POOL_SIZE", db.LightPoolSize)
	db.AcquireTimeout = getEnvDuration("DB_ACQUIRE_TIMEOUT", db.AcquireTimeout)
	db.ConnectTimeout = getEnvDuration("DB_CONNECT_TIMEOUT", db.ConnectTimeout)
	db.Tables.FormDefinition = getEnv("FORM_TABLE", db.Tables.FormDefinition)
	db.Tables.Member = getEnv("MEMBER_TABLE", db.Tables.Member)
	db.Tables.Department = getEnv("DEPARTMENT_TABLE", db.Tables.Department)
	db.Tables.Position = getEnv("POSITION_TABLE", db.Tables.Position)

	es := &cfg.Search
	if addrs := getEnv("ES_ADDRESSES", ""); addrs != "" {
		es.Addresses = splitList(addrs)
	}
	es.Username = getEnv("ES_USERNAME", es.Username)
	es.Password = getEnv("ES_PASSWORD", es.Password)
	es.IndexPrefix = getEnv("ES_INDEX_PREFIX", es.IndexPrefix)
	es.MemberIndex = getEnv("ES_MEMBER_INDEX", es.MemberIndex)
	es.MaxRetries = getEnvInt("ES_MAX_RETRIES", es.MaxRetries)
	es.BulkTimeout = getEnvDuration("ES_BULK_TIMEOUT", es.BulkTimeout)
	es.RequestTimeout = getEnvDuration("ES_REQUEST_TIMEOUT", es.RequestTimeout)
	es.CircuitBreaker.Enabled = getEnvBool("ES_CIRCUIT_BREAKER", es.CircuitBreaker.Enabled)

	s := &cfg.Sync
	s.ReadBatchSize = getEnvInt("SYNC_READ_BATCH_SIZE", s.ReadBatchSize)
	s.WriteBatchSize = getEnvInt("SYNC_WRITE_BATCH_SIZE", s.WriteBatchSize)
	s.ChildRowLimit = getEnvInt("SYNC_CHILD_ROW_LIMIT", s.ChildRowLimit)
	s.Workers = getEnvInt("SYNC_WORKERS", s.Workers)
	s.WatermarkColumn = getEnv("SYNC_WATERMARK_COLUMN", s.WatermarkColumn)
	s.SyncMembersFirst = getEnvBool("SYNC_MEMBERS_FIRST", s.SyncMembersFirst)

	q := &cfg.Query
	q.DefaultSize = getEnvInt("QUERY_DEFAULT_SIZE", q.DefaultSize)
	q.MaxSize = getEnvInt("QUERY_MAX_SIZE", q.MaxSize)
	q.Timeout = getEnvDuration("QUERY_TIMEOUT", q.Timeout)

	cfg.Watermark.Path = getEnv("WATERMARK_PATH", cfg.Watermark.Path)
	cfg.Scheduler.Enabled = getEnvBool("SCHEDULE_ENABLED", cfg.Scheduler.Enabled)
	cfg.Scheduler.Spec = getEnv("SCHEDULE_SPEC", cfg.Scheduler.Spec)
	cfg.Tasks.Capacity = getEnvInt("TASK_CAPACITY", cfg.Tasks.Capacity)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Metrics.Enabled = getEnvBool("METRICS_ENABLED", cfg.Metrics.Enabled)
	return cfg
}

// NewLogger builds the process logger for level and installs it globally.
func NewLogger(level string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if strings.EqualFold(level, "debug") {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		zap.S().Warnw("ignoring malformed integer", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		zap.S().Warnw("ignoring malformed duration", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		zap.S().Warnw("ignoring malformed boolean", "key", key, "value", value)
	}
	return defaultValue
}
