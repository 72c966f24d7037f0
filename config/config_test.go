package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jsonindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
index:
  path: /var/lib/jsonindex
  areas: [orders, customers]
commit:
  batch_size: 50
  upper_bound: 30s
snapshot:
  backend: s3
  bucket: backups
  prefix: prod/
  max_snapshots: 7
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/jsonindex", cfg.Index.Path)
	assert.Equal(t, []string{"orders", "customers"}, cfg.Index.Areas)
	assert.Equal(t, 10, cfg.Index.MergeFactor)
	assert.Equal(t, int64(50), cfg.Commit.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Commit.UpperBound)
	assert.Equal(t, time.Second, cfg.Commit.LowerBound)
	assert.Equal(t, BackendS3, cfg.Snapshot.Backend)
	assert.Equal(t, "backups", cfg.Snapshot.Bucket)
	assert.Equal(t, 7, cfg.Snapshot.MaxSnapshots)
	assert.Equal(t, time.Hour, cfg.SnapshotInterval())
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	data, err := cfg.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"JSONINDEX_INDEX_PATH":             "/tmp/idx",
		"JSONINDEX_INDEX_AREAS":            "a, b,,c",
		"JSONINDEX_COMMIT_BATCH_SIZE":      "5",
		"JSONINDEX_COMMIT_TICK":            "50ms",
		"JSONINDEX_SNAPSHOT_BACKEND":       "minio",
		"JSONINDEX_SNAPSHOT_ENDPOINT":      "localhost:9000",
		"JSONINDEX_SNAPSHOT_BUCKET":        "snaps",
		"JSONINDEX_SNAPSHOT_USE_SSL":       "true",
		"JSONINDEX_SNAPSHOT_MAX_SNAPSHOTS": "2",
		"JSONINDEX_LOG_LEVEL":              "debug",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	require.NoError(t, cfg.applyEnv(lookup))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/tmp/idx", cfg.Index.Path)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Index.Areas)
	assert.Equal(t, int64(5), cfg.Commit.BatchSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Commit.Tick)
	assert.Equal(t, BackendMinio, cfg.Snapshot.Backend)
	assert.True(t, cfg.Snapshot.UseSSL)
	assert.Equal(t, 2, cfg.Snapshot.MaxSnapshots)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	env := map[string]string{
		"JSONINDEX_COMMIT_BATCH_SIZE":  "many",
		"JSONINDEX_COMMIT_UPPER_BOUND": "soon",
	}
	cfg := DefaultConfig()
	err := cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSONINDEX_COMMIT_BATCH_SIZE")
	assert.Contains(t, err.Error(), "JSONINDEX_COMMIT_UPPER_BOUND")
	assert.Equal(t, int64(1000), cfg.Commit.BatchSize)
}

func TestApplyEnvOverrides_ProcessEnvironment(t *testing.T) {
	t.Setenv("JSONINDEX_SERVER_ADDR", ":9999")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnvOverrides())
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty path", func(c *Config) { c.Index.Path = "" }},
		{"merge factor", func(c *Config) { c.Index.MergeFactor = 1 }},
		{"no areas", func(c *Config) { c.Index.Areas = nil }},
		{"batch size", func(c *Config) { c.Commit.BatchSize = 0 }},
		{"lower above upper", func(c *Config) { c.Commit.LowerBound = time.Minute }},
		{"unknown backend", func(c *Config) { c.Snapshot.Backend = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Snapshot.Backend = BackendS3 }},
		{"minio without endpoint", func(c *Config) {
			c.Snapshot.Backend = BackendMinio
			c.Snapshot.Bucket = "b"
		}},
		{"max snapshots", func(c *Config) { c.Snapshot.MaxSnapshots = 0 }},
		{"schedule", func(c *Config) { c.Snapshot.Schedule = "sometimes" }},
		{"io limit", func(c *Config) { c.Snapshot.IOLimit = -1 }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)

	_, err = ParseLevel("")
	assert.Error(t, err)
}
