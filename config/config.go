// Package config loads the jsonindex service configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/jsonindex/scheduler"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "JSONINDEX_"

// Snapshot storage backends.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendS3     = "s3"
	BackendMinio  = "minio"
)

// Config is the service configuration.
type Config struct {
	Index    IndexConfig    `yaml:"index"`
	Commit   CommitConfig   `yaml:"commit"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// IndexConfig locates the index directory.
type IndexConfig struct {
	Path        string   `yaml:"path"`
	MergeFactor int      `yaml:"merge_factor"`
	Areas       []string `yaml:"areas"`
	IDField     string   `yaml:"id_field"`
}

// CommitConfig tunes the throttled commit.
type CommitConfig struct {
	BatchSize  int64         `yaml:"batch_size"`
	UpperBound time.Duration `yaml:"upper_bound"`
	LowerBound time.Duration `yaml:"lower_bound"`
	Tick       time.Duration `yaml:"tick"`
}

// SnapshotConfig selects the snapshot store and its schedule.
type SnapshotConfig struct {
	Backend      string `yaml:"backend"`
	Path         string `yaml:"path"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UseSSL       bool   `yaml:"use_ssl"`
	MaxSnapshots int    `yaml:"max_snapshots"`
	Schedule     string `yaml:"schedule"`
	IOLimit      int64  `yaml:"io_limit"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Index: IndexConfig{
			Path:        "data/index",
			MergeFactor: 10,
			Areas:       []string{"default"},
			IDField:     "id",
		},
		Commit: CommitConfig{
			BatchSize:  1000,
			UpperBound: 10 * time.Second,
			LowerBound: time.Second,
			Tick:       200 * time.Millisecond,
		},
		Snapshot: SnapshotConfig{
			Backend:      BackendLocal,
			Path:         "data/snapshots",
			Region:       "us-east-1",
			MaxSnapshots: 3,
			Schedule:     "@hourly",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults. An empty path or a missing file yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ApplyEnvOverrides applies JSONINDEX_* variables from the process
// environment.
func (c *Config) ApplyEnvOverrides() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int64) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("INDEX_PATH", &c.Index.Path)
	if v, ok := lookup(EnvPrefix + "INDEX_AREAS"); ok {
		c.Index.Areas = splitList(v)
	}
	str("INDEX_ID_FIELD", &c.Index.IDField)

	mergeFactor := int64(c.Index.MergeFactor)
	integer("INDEX_MERGE_FACTOR", &mergeFactor)
	c.Index.MergeFactor = int(mergeFactor)

	integer("COMMIT_BATCH_SIZE", &c.Commit.BatchSize)
	duration("COMMIT_UPPER_BOUND", &c.Commit.UpperBound)
	duration("COMMIT_LOWER_BOUND", &c.Commit.LowerBound)
	duration("COMMIT_TICK", &c.Commit.Tick)

	str("SNAPSHOT_BACKEND", &c.Snapshot.Backend)
	str("SNAPSHOT_PATH", &c.Snapshot.Path)
	str("SNAPSHOT_BUCKET", &c.Snapshot.Bucket)
	str("SNAPSHOT_PREFIX", &c.Snapshot.Prefix)
	str("SNAPSHOT_ENDPOINT", &c.Snapshot.Endpoint)
	str("SNAPSHOT_REGION", &c.Snapshot.Region)
	str("SNAPSHOT_ACCESS_KEY", &c.Snapshot.AccessKey)
	str("SNAPSHOT_SECRET_KEY", &c.Snapshot.SecretKey)
	str("SNAPSHOT_SCHEDULE", &c.Snapshot.Schedule)
	integer("SNAPSHOT_IO_LIMIT", &c.Snapshot.IOLimit)
	if v, ok := lookup(EnvPrefix + "SNAPSHOT_USE_SSL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %sSNAPSHOT_USE_SSL: %w", EnvPrefix, err))
		} else {
			c.Snapshot.UseSSL = b
		}
	}

	maxSnapshots := int64(c.Snapshot.MaxSnapshots)
	integer("SNAPSHOT_MAX_SNAPSHOTS", &maxSnapshots)
	c.Snapshot.MaxSnapshots = int(maxSnapshots)

	str("SERVER_ADDR", &c.Server.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error

	if c.Index.Path == "" {
		errs = append(errs, errors.New("config: index.path is required"))
	}
	if c.Index.MergeFactor < 2 {
		errs = append(errs, fmt.Errorf("config: index.merge_factor must be at least 2, got %d", c.Index.MergeFactor))
	}
	if len(c.Index.Areas) == 0 {
		errs = append(errs, errors.New("config: index.areas must name at least one area"))
	}
	if c.Commit.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("config: commit.batch_size must be positive, got %d", c.Commit.BatchSize))
	}
	if c.Commit.LowerBound <= 0 || c.Commit.UpperBound <= 0 || c.Commit.Tick <= 0 {
		errs = append(errs, errors.New("config: commit bounds and tick must be positive"))
	}
	if c.Commit.LowerBound > c.Commit.UpperBound {
		errs = append(errs, fmt.Errorf("config: commit.lower_bound %s exceeds upper_bound %s", c.Commit.LowerBound, c.Commit.UpperBound))
	}

	switch c.Snapshot.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Snapshot.Path == "" {
			errs = append(errs, errors.New("config: snapshot.path is required for the local backend"))
		}
	case BackendS3:
		if c.Snapshot.Bucket == "" {
			errs = append(errs, errors.New("config: snapshot.bucket is required for the s3 backend"))
		}
	case BackendMinio:
		if c.Snapshot.Bucket == "" || c.Snapshot.Endpoint == "" {
			errs = append(errs, errors.New("config: snapshot.bucket and snapshot.endpoint are required for the minio backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown snapshot.backend %q", c.Snapshot.Backend))
	}
	if c.Snapshot.MaxSnapshots < 1 {
		errs = append(errs, fmt.Errorf("config: snapshot.max_snapshots must be at least 1, got %d", c.Snapshot.MaxSnapshots))
	}
	if c.Snapshot.IOLimit < 0 {
		errs = append(errs, errors.New("config: snapshot.io_limit must not be negative"))
	}
	if c.Snapshot.Schedule != "" {
		if _, err := scheduler.ParseInterval(c.Snapshot.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("config: snapshot.schedule: %w", err))
		}
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log.format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// SnapshotInterval returns the parsed schedule, zero when disabled.
func (c Config) SnapshotInterval() time.Duration {
	if c.Snapshot.Schedule == "" {
		return 0
	}
	d, _ := scheduler.ParseInterval(c.Snapshot.Schedule)
	return d
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: invalid log level %q", s)
	}
	return l, nil
}
