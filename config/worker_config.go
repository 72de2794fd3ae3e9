package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	FrontendURL string

	// Storage
	DatabaseURL string
	RedisURL    string

	// JWT
	JWTSecret string

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Hex-encoded 32-byte key protecting stored OAuth tokens.
	EncryptionKey string

	// Sync
	SyncMaxPerLabel          int
	SyncPageConcurrency      int
	SyncProviderQPS          float64
	SyncIncrementalMax       int
	SyncIncrementalWindowDay int
	SyncLeaseTimeout         time.Duration

	// Worker
	WorkerID        string
	WorkerCount     int
	WorkerQueueSize int

	// Consumer (Redis Stream)
	ConsumerBlockMS    int
	ConsumerMaxRetries int

	// CORS
	AllowedOrigins []string

	// Scheduler
	SchedulerEnabled      bool
	SchedulerInterval     time.Duration
	SchedulerStartupDelay time.Duration
}

// Load reads configuration from the environment. When CONFIG_FILE names a
// YAML file its top-level keys (same names as the environment variables)
// fill in anything the environment leaves unset.
func Load() (*Config, error) {
	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	cfg := &Config{
		Port:        src.getEnv("PORT", "8080"),
		Environment: src.getEnv("ENV", "development"),
		LogLevel:    src.getEnv("LOG_LEVEL", "info"),
		FrontendURL: src.getEnv("FRONTEND_URL", "http://localhost:3000"),

		DatabaseURL: src.getEnv("DATABASE_URL", ""),
		RedisURL:    src.getEnv("REDIS_URL", ""),

		JWTSecret: src.getEnv("JWT_SECRET", ""),

		GoogleClientID:     src.getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: src.getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  src.getEnv("GOOGLE_REDIRECT_URL", ""),

		EncryptionKey: src.getEnv("ENCRYPTION_KEY", ""),

		SyncMaxPerLabel:          src.getEnvInt("SYNC_MAX_PER_LABEL", 500),
		SyncPageConcurrency:      src.getEnvInt("SYNC_PAGE_CONCURRENCY", 10),
		SyncProviderQPS:          src.getEnvFloat("SYNC_PROVIDER_QPS", 25),
		SyncIncrementalMax:       src.getEnvInt("SYNC_INCREMENTAL_MAX", 50),
		SyncIncrementalWindowDay: src.getEnvInt("SYNC_INCREMENTAL_WINDOW_DAYS", 7),
		SyncLeaseTimeout:         src.getEnvDuration("SYNC_LEASE_TIMEOUT", time.Hour),

		WorkerID:        src.getEnv("WORKER_ID", generateWorkerID()),
		WorkerCount:     src.getEnvInt("WORKER_COUNT", 4),
		WorkerQueueSize: src.getEnvInt("WORKER_QUEUE_SIZE", 100),

		ConsumerBlockMS:    src.getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries: src.getEnvInt("CONSUMER_MAX_RETRIES", 3),

		AllowedOrigins: src.getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		SchedulerEnabled:      src.getEnvBool("SCHEDULER_ENABLED", true),
		SchedulerInterval:     time.Duration(src.getEnvInt("SCHEDULER_INTERVAL_MINUTES", 5)) * time.Minute,
		SchedulerStartupDelay: src.getEnvDuration("SCHEDULER_STARTUP_DELAY", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	required := map[string]string{
		"DATABASE_URL":         c.DatabaseURL,
		"GOOGLE_CLIENT_ID":     c.GoogleClientID,
		"GOOGLE_CLIENT_SECRET": c.GoogleClientSecret,
		"GOOGLE_REDIRECT_URL":  c.GoogleRedirectURL,
		"ENCRYPTION_KEY":       c.EncryptionKey,
	}

	var missing []string
	for _, key := range []string{"DATABASE_URL", "GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_REDIRECT_URL", "ENCRYPTION_KEY"} {
		if strings.TrimSpace(required[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.SyncMaxPerLabel <= 0 || c.SyncPageConcurrency <= 0 || c.SyncIncrementalMax <= 0 {
		return errors.New("sync limits must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// =============================================================================
// Value sources
// =============================================================================

type source struct {
	file map[string]string
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case []any:
			parts := make([]string, 0, len(t))
			for _, p := range t {
				parts = append(parts, fmt.Sprint(p))
			}
			values[strings.ToUpper(k)] = strings.Join(parts, ",")
		case nil:
		default:
			values[strings.ToUpper(k)] = fmt.Sprint(t)
		}
	}
	return values, nil
}

func (s source) lookup(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return s.file[key]
}

func (s source) getEnv(key, defaultValue string) string {
	if value := s.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

func (s source) getEnvInt(key string, defaultValue int) int {
	if value := s.lookup(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (s source) getEnvFloat(key string, defaultValue float64) float64 {
	if value := s.lookup(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func (s source) getEnvBool(key string, defaultValue bool) bool {
	if value := s.lookup(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func (s source) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := s.lookup(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func (s source) getEnvSlice(key string, defaultValue []string) []string {
	if value := s.lookup(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
