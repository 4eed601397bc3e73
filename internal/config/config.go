package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// ecsforge - Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Dynlib    DynlibConfig    `yaml:"dynlib"`
	Bus       BusConfig       `yaml:"bus"`
	Commit    CommitConfig    `yaml:"commit"`
	Scene     SceneConfig     `yaml:"scene"`
	Persist   PersistConfig   `yaml:"persist"`
	Admin     AdminConfig     `yaml:"admin"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig describes the TCP acceptor and epoll reactor.
type ServerConfig struct {
	ListenAddr        string `yaml:"listen_addr"`
	PollTimeoutMs     int    `yaml:"poll_timeout_ms"`
	ReadTimeoutSec    int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec   int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec    int    `yaml:"idle_timeout_sec"`
	ReadBufferBytes   int    `yaml:"read_buffer_bytes"`
	WriteBufferBytes  int    `yaml:"write_buffer_bytes"`
	MaxConnections    int    `yaml:"max_connections"`
}

// DynlibConfig controls hot-reloadable gameplay library loading.
type DynlibConfig struct {
	LibraryDir      string `yaml:"library_dir"`
	WatchIntervalMs int    `yaml:"watch_interval_ms"`
	DebugCopyOnLoad bool   `yaml:"debug_copy_on_load"`
}

// BusConfig controls dispatch-bus queueing behavior.
type BusConfig struct {
	BoundedChannelSize int  `yaml:"bounded_channel_size"`
	KeepOrder          bool `yaml:"keep_order"`
	KeepDuplicate      bool `yaml:"keep_duplicate"`
	WorkerCount        int  `yaml:"worker_count"`
}

// CommitConfig controls the commit-change-system tick gating.
type CommitConfig struct {
	TickStep      int `yaml:"tick_step"`
	TickIntervalMs int `yaml:"tick_interval_ms"`
}

// SceneConfig controls the spatial AoI grid.
type SceneConfig struct {
	GridSize          float64 `yaml:"grid_size"`
	AroundRadiusGrids int     `yaml:"around_radius_grids"`
	GCEmptyScenes     bool    `yaml:"gc_empty_scenes"`
}

// PersistConfig selects and configures the Database-direction sink.
type PersistConfig struct {
	Backend  string         `yaml:"backend"` // "redis", "postgres", "none"
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	ListKeyPrefix string `yaml:"list_key_prefix"`
}

type PostgresConfig struct {
	DSN       string `yaml:"dsn"`
	TableName string `yaml:"table_name"`
}

// AdminConfig controls the operator HTTP/gRPC/websocket surfaces.
type AdminConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	GRPCAddr       string   `yaml:"grpc_addr"`
	LiveFeedPath   string   `yaml:"live_feed_path"`
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TelemetryConfig controls metrics and logging verbosity.
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides, then fills
// any remaining zero-valued fields with defaults.
func (c *Config) applyEnvOverrides() {
	// Server / reactor
	c.Server.ListenAddr = getEnv("ECSFORGE_LISTEN_ADDR", c.Server.ListenAddr)
	if v := getEnvInt("ECSFORGE_POLL_TIMEOUT_MS", 0); v > 0 {
		c.Server.PollTimeoutMs = v
	}
	if v := getEnvInt("ECSFORGE_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("ECSFORGE_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("ECSFORGE_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("ECSFORGE_MAX_CONNECTIONS", 0); v > 0 {
		c.Server.MaxConnections = v
	}

	// Dynlib
	c.Dynlib.LibraryDir = getEnv("ECSFORGE_LIBRARY_DIR", c.Dynlib.LibraryDir)
	if v := getEnvInt("ECSFORGE_WATCH_INTERVAL_MS", 0); v > 0 {
		c.Dynlib.WatchIntervalMs = v
	}
	c.Dynlib.DebugCopyOnLoad = getEnvBool("ECSFORGE_DEBUG_COPY_ON_LOAD", c.Dynlib.DebugCopyOnLoad)

	// Bus
	if v := getEnvInt("ECSFORGE_BOUNDED_CHANNEL_SIZE", 0); v > 0 {
		c.Bus.BoundedChannelSize = v
	}
	c.Bus.KeepOrder = getEnvBool("ECSFORGE_KEEP_ORDER", c.Bus.KeepOrder)
	c.Bus.KeepDuplicate = getEnvBool("ECSFORGE_KEEP_DUPLICATE", c.Bus.KeepDuplicate)
	if v := getEnvInt("ECSFORGE_BUS_WORKERS", 0); v > 0 {
		c.Bus.WorkerCount = v
	}

	// Commit
	if v := getEnvInt("ECSFORGE_TICK_STEP", 0); v > 0 {
		c.Commit.TickStep = v
	}
	if v := getEnvInt("ECSFORGE_TICK_INTERVAL_MS", 0); v > 0 {
		c.Commit.TickIntervalMs = v
	}

	// Scene
	if v := getEnvFloat("ECSFORGE_GRID_SIZE", 0); v > 0 {
		c.Scene.GridSize = v
	}
	if v := getEnvInt("ECSFORGE_AROUND_RADIUS_GRIDS", 0); v > 0 {
		c.Scene.AroundRadiusGrids = v
	}
	c.Scene.GCEmptyScenes = getEnvBool("ECSFORGE_GC_EMPTY_SCENES", c.Scene.GCEmptyScenes)

	// Persist
	c.Persist.Backend = getEnv("ECSFORGE_PERSIST_BACKEND", c.Persist.Backend)
	c.Persist.Redis.Addr = getEnv("ECSFORGE_REDIS_ADDR", c.Persist.Redis.Addr)
	c.Persist.Redis.Password = getEnv("ECSFORGE_REDIS_PASSWORD", c.Persist.Redis.Password)
	if v := getEnvInt("ECSFORGE_REDIS_DB", -1); v >= 0 {
		c.Persist.Redis.DB = v
	}
	c.Persist.Postgres.DSN = getEnv("ECSFORGE_POSTGRES_DSN", c.Persist.Postgres.DSN)

	// Admin
	c.Admin.HTTPAddr = getEnv("ECSFORGE_ADMIN_HTTP_ADDR", c.Admin.HTTPAddr)
	c.Admin.GRPCAddr = getEnv("ECSFORGE_ADMIN_GRPC_ADDR", c.Admin.GRPCAddr)
	c.Admin.Enabled = getEnvBool("ECSFORGE_ADMIN_ENABLED", c.Admin.Enabled)
	if v := getEnv("ECSFORGE_ADMIN_ALLOWED_ORIGINS", ""); v != "" {
		c.Admin.AllowedOrigins = splitCSV(v)
	}

	// Telemetry
	c.Telemetry.MetricsAddr = getEnv("ECSFORGE_METRICS_ADDR", c.Telemetry.MetricsAddr)
	c.Telemetry.LogLevel = getEnv("ECSFORGE_LOG_LEVEL", c.Telemetry.LogLevel)

	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields.
func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":9000"
	}
	if c.Server.PollTimeoutMs == 0 {
		c.Server.PollTimeoutMs = 1000
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 30
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 30
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 30
	}
	if c.Server.ReadBufferBytes == 0 {
		c.Server.ReadBufferBytes = 4096
	}
	if c.Server.WriteBufferBytes == 0 {
		c.Server.WriteBufferBytes = 4096
	}
	if c.Server.MaxConnections == 0 {
		c.Server.MaxConnections = 4096
	}
	if c.Dynlib.LibraryDir == "" {
		c.Dynlib.LibraryDir = "./libraries"
	}
	if c.Dynlib.WatchIntervalMs == 0 {
		c.Dynlib.WatchIntervalMs = 2000
	}
	if c.Bus.BoundedChannelSize == 0 {
		c.Bus.BoundedChannelSize = 1024
	}
	if c.Bus.WorkerCount == 0 {
		c.Bus.WorkerCount = 4
	}
	if c.Commit.TickStep == 0 {
		c.Commit.TickStep = 1
	}
	if c.Commit.TickIntervalMs == 0 {
		c.Commit.TickIntervalMs = 50
	}
	if c.Scene.GridSize == 0 {
		c.Scene.GridSize = 64.0
	}
	if c.Scene.AroundRadiusGrids == 0 {
		c.Scene.AroundRadiusGrids = 1
	}
	if c.Persist.Backend == "" {
		c.Persist.Backend = "none"
	}
	if c.Persist.Redis.ListKeyPrefix == "" {
		c.Persist.Redis.ListKeyPrefix = "ecsforge:delta:"
	}
	if c.Persist.Postgres.TableName == "" {
		c.Persist.Postgres.TableName = "entity_deltas"
	}
	if c.Admin.HTTPAddr == "" {
		c.Admin.HTTPAddr = ":9090"
	}
	if c.Admin.GRPCAddr == "" {
		c.Admin.GRPCAddr = ":9091"
	}
	if c.Admin.LiveFeedPath == "" {
		c.Admin.LiveFeedPath = "/live"
	}
	if len(c.Admin.AllowedOrigins) == 0 {
		c.Admin.AllowedOrigins = []string{"*"}
	}
	if c.Telemetry.MetricsAddr == "" {
		c.Telemetry.MetricsAddr = ":9092"
	}
	if c.Telemetry.LogLevel == "" {
		c.Telemetry.LogLevel = "info"
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
