package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PLANTGATE_BACKEND", "")
	t.Setenv("PLANTGATE_SESSION_SECRET", secret)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendMemory, cfg.Backend)
	require.Equal(t, 5*time.Minute, cfg.SweepInterval)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "log", cfg.AuditWriter)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PLANTGATE_TEST_ONLY_KEY=from-file\nPLANTGATE_SWEEP_INTERVAL=90s\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PLANTGATE_TEST_ONLY_KEY") })
	t.Setenv("PLANTGATE_SWEEP_INTERVAL", "")
	os.Unsetenv("PLANTGATE_SWEEP_INTERVAL")

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	require.Equal(t, "from-file", os.Getenv("PLANTGATE_TEST_ONLY_KEY"))
	require.Equal(t, 90*time.Second, cfg.SweepInterval)
}

func TestEnvironmentWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PLANTGATE_HTTP_ADDR=:1111\n"), 0o600))
	t.Setenv("PLANTGATE_HTTP_ADDR", ":2222")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":2222", cfg.HTTPAddr)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"postgres without dsn", Config{Backend: BackendPostgres, AuditWriter: "log", SessionSecret: secret, AuditBuffer: 1, AuditBatchSize: 1}, "PLANTGATE_PG_DSN"},
		{"redis without url", Config{Backend: BackendRedis, AuditWriter: "log", SessionSecret: secret, AuditBuffer: 1, AuditBatchSize: 1}, "PLANTGATE_REDIS_URL"},
		{"unknown backend", Config{Backend: "sqlite", AuditWriter: "log", SessionSecret: secret, AuditBuffer: 1, AuditBatchSize: 1}, "unknown backend"},
		{"short secret", Config{Backend: BackendMemory, AuditWriter: "log", SessionSecret: "x", AuditBuffer: 1, AuditBatchSize: 1}, "SESSION_SECRET"},
		{"pg audit without dsn", Config{Backend: BackendMemory, AuditWriter: "postgres", SessionSecret: secret, AuditBuffer: 1, AuditBatchSize: 1}, "audit writer"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
