package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backends for users, sessions and the segregation-of-duty ledger.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the daemon configuration, read from PLANTGATE_* variables.
type Config struct {
	// Backend selects where users and sessions live. With "redis", users stay
	// in Postgres when a DSN is set and in memory otherwise.
	Backend  string
	PGDSN    string
	RedisURL string

	SessionSecret string
	SessionIssuer string
	SweepInterval time.Duration
	AuthTimeout   time.Duration

	AuditWriter        string
	AuditBuffer        int
	AuditBatchSize     int
	AuditFlushInterval time.Duration

	RolesFile string
	SeedDemo  bool

	HTTPAddr     string
	GRPCAddr     string
	OpsRateLimit float64
	OpsRateBurst int

	Version string
	Commit  string
}

// Load reads optional env files (missing ones are skipped) and then the
// process environment. Variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	cfg := &Config{
		Backend:            strings.ToLower(getenv("PLANTGATE_BACKEND", BackendMemory)),
		PGDSN:              getenv("PLANTGATE_PG_DSN", ""),
		RedisURL:           getenv("PLANTGATE_REDIS_URL", ""),
		SessionSecret:      getenv("PLANTGATE_SESSION_SECRET", ""),
		SessionIssuer:      getenv("PLANTGATE_SESSION_ISSUER", "plantgate"),
		SweepInterval:      getenvDuration("PLANTGATE_SWEEP_INTERVAL", 5*time.Minute),
		AuthTimeout:        getenvDuration("PLANTGATE_AUTH_TIMEOUT", 5*time.Second),
		AuditWriter:        strings.ToLower(getenv("PLANTGATE_AUDIT_WRITER", "log")),
		AuditBuffer:        getenvInt("PLANTGATE_AUDIT_BUFFER", 4096),
		AuditBatchSize:     getenvInt("PLANTGATE_AUDIT_BATCH", 128),
		AuditFlushInterval: getenvDuration("PLANTGATE_AUDIT_FLUSH", time.Second),
		RolesFile:          getenv("PLANTGATE_ROLES_FILE", ""),
		SeedDemo:           getenvBool("PLANTGATE_SEED_DEMO", false),
		HTTPAddr:           getenv("PLANTGATE_HTTP_ADDR", ":8080"),
		GRPCAddr:           getenv("PLANTGATE_GRPC_ADDR", ":9090"),
		OpsRateLimit:       getenvFloat("PLANTGATE_OPS_RPS", 20),
		OpsRateBurst:       getenvInt("PLANTGATE_OPS_BURST", 40),
		Version:            getenv("PLANTGATE_VERSION", "dev"),
		Commit:             getenv("PLANTGATE_COMMIT", "none"),
	}
	return cfg, nil
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.PGDSN == "" {
			errs = append(errs, errors.New("PLANTGATE_PG_DSN is required for the postgres backend"))
		}
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("PLANTGATE_REDIS_URL is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	switch c.AuditWriter {
	case "log":
	case "postgres", "both":
		if c.PGDSN == "" {
			errs = append(errs, fmt.Errorf("PLANTGATE_PG_DSN is required for audit writer %q", c.AuditWriter))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit writer %q", c.AuditWriter))
	}
	if len(c.SessionSecret) < 32 {
		errs = append(errs, errors.New("PLANTGATE_SESSION_SECRET must be at least 32 bytes"))
	}
	if c.AuditBuffer <= 0 || c.AuditBatchSize <= 0 {
		errs = append(errs, errors.New("audit buffer and batch size must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}
