// Package config loads the engine configuration from an optional YAML
// file, an optional .env file and LANEGATE_* environment variables, in
// that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env      string `yaml:"env" validate:"oneof=dev prod"`
	HTTPAddr string `yaml:"http_addr" validate:"required"`
	GRPCAddr string `yaml:"grpc_addr"` // empty disables gRPC

	Database  DatabaseConfig   `yaml:"database"`
	Log       LogConfig        `yaml:"log"`
	Access    AccessConfig     `yaml:"access"`
	Relay     RelayConfig      `yaml:"relay"`
	Reader    ReaderConfig     `yaml:"reader"`
	Readers   []ReaderEndpoint `yaml:"readers" validate:"dive"`
	LogWriter LogWriterConfig  `yaml:"log_writer"`
	Retention RetentionConfig  `yaml:"retention"`
	Auth      AuthConfig       `yaml:"auth"`
	CORS      CORSConfig       `yaml:"cors"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// AccessConfig holds the decision windows.
type AccessConfig struct {
	CooldownWindow      Duration `yaml:"cooldown_window" validate:"gt=0"`
	CrossLaneWindow     Duration `yaml:"cross_lane_window" validate:"gt=0"`
	MaxDBRecords        int      `yaml:"max_db_records" validate:"gte=1"`
	MaintenanceInterval Duration `yaml:"maintenance_interval" validate:"gt=0"`
	LookupTimeout       Duration `yaml:"lookup_timeout" validate:"gt=0"`
	QueueSize           int      `yaml:"queue_size" validate:"gte=1"`
}

type RelayConfig struct {
	Driver        string   `yaml:"driver" validate:"oneof=gpio sim"`
	Pins          []int    `yaml:"pins" validate:"min=1,unique,dive,gte=0"`
	ActiveLow     bool     `yaml:"active_low"`
	Hold          Duration `yaml:"hold" validate:"gt=0"`
	GrantChannels []int    `yaml:"grant_channels" validate:"dive,gte=1"`
}

type ReaderConfig struct {
	PollInterval          Duration `yaml:"poll_interval" validate:"gt=0"`
	ProbeInterval         Duration `yaml:"probe_interval" validate:"gt=0"`
	MaxConnectionAttempts int      `yaml:"max_connection_attempts" validate:"gte=1"`
	BackoffBase           Duration `yaml:"backoff_base" validate:"gt=0"`
	BackoffMax            Duration `yaml:"backoff_max" validate:"gtefield=BackoffBase"`
	OfflineRetry          Duration `yaml:"offline_retry" validate:"gt=0"`
	BufferClearThreshold  int      `yaml:"buffer_clear_threshold" validate:"gte=1"`
	IOTimeout             Duration `yaml:"io_timeout" validate:"gt=0"`
	HeartbeatInterval     Duration `yaml:"heartbeat_interval" validate:"gte=0"`
}

// ReaderEndpoint is one statically configured reader.  When Readers is
// empty the inventory comes from the readers table.
type ReaderEndpoint struct {
	ID       int    `yaml:"id" validate:"gte=1"`
	LaneID   int    `yaml:"lane_id" validate:"gte=1"`
	DeviceID int    `yaml:"device_id"`
	Address  string `yaml:"address" validate:"required"`
	Driver   string `yaml:"driver" validate:"omitempty,oneof=tcp sim"`
}

type LogWriterConfig struct {
	QueueSize    int      `yaml:"queue_size" validate:"gte=1"`
	Workers      int      `yaml:"workers" validate:"gte=1"`
	DrainTimeout Duration `yaml:"drain_timeout" validate:"gt=0"`
	WriteTimeout Duration `yaml:"write_timeout" validate:"gt=0"`
}

type RetentionConfig struct {
	AccessLogDays      int `yaml:"access_log_days" validate:"gte=0"` // 0 = keep forever
	PruneIntervalHours int `yaml:"prune_interval_hours" validate:"gte=1"`
}

type AuthConfig struct {
	// JWTSecret signs operator tokens for the manual barrier API.
	// Required in prod; empty in dev disables auth.
	JWTSecret string `yaml:"jwt_secret"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Env:      "dev",
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		Database: DatabaseConfig{Path: "./data/lanegate.db"},
		Log:      LogConfig{Level: "info", Format: "json"},
		Access: AccessConfig{
			CooldownWindow:      Duration(3 * time.Second),
			CrossLaneWindow:     Duration(20 * time.Second),
			MaxDBRecords:        3,
			MaintenanceInterval: Duration(30 * time.Second),
			LookupTimeout:       Duration(2 * time.Second),
			QueueSize:           256,
		},
		Relay: RelayConfig{
			Driver:    "gpio",
			Pins:      []int{26, 20, 21},
			ActiveLow: true,
			Hold:      Duration(2 * time.Second),
		},
		Reader: ReaderConfig{
			PollInterval:          Duration(50 * time.Millisecond),
			ProbeInterval:         Duration(30 * time.Second),
			MaxConnectionAttempts: 5,
			BackoffBase:           Duration(2 * time.Second),
			BackoffMax:            Duration(30 * time.Second),
			OfflineRetry:          Duration(60 * time.Second),
			BufferClearThreshold:  5,
			IOTimeout:             Duration(time.Second),
			HeartbeatInterval:     Duration(60 * time.Second),
		},
		LogWriter: LogWriterConfig{
			QueueSize:    1024,
			Workers:      2,
			DrainTimeout: Duration(5 * time.Second),
			WriteTimeout: Duration(5 * time.Second),
		},
		Retention: RetentionConfig{
			AccessLogDays:      90,
			PruneIntervalHours: 6,
		},
		CORS: CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

// Load builds the configuration.  path may be empty, in which case only
// defaults and the environment apply.  A .env file in the working
// directory, if present, is loaded into the environment first without
// overriding variables that are already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsProd() bool { return c.Env == "prod" }

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or "" when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyEnv(c *Config) {
	c.Env = strings.ToLower(getenvDefault("LANEGATE_ENV", c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}

	c.HTTPAddr = getenvDefault("LANEGATE_HTTP_ADDR", c.HTTPAddr)
	if v, ok := os.LookupEnv("LANEGATE_GRPC_ADDR"); ok {
		c.GRPCAddr = strings.TrimSpace(v)
	}
	c.Database.Path = getenvDefault("LANEGATE_DB_PATH", c.Database.Path)
	c.Log.Level = strings.ToLower(getenvDefault("LANEGATE_LOG_LEVEL", c.Log.Level))
	c.Log.Format = strings.ToLower(getenvDefault("LANEGATE_LOG_FORMAT", c.Log.Format))

	c.Access.CooldownWindow = getenvDuration("LANEGATE_COOLDOWN_WINDOW", c.Access.CooldownWindow)
	c.Access.CrossLaneWindow = getenvDuration("LANEGATE_CROSS_LANE_WINDOW", c.Access.CrossLaneWindow)
	c.Access.MaxDBRecords = getenvInt("LANEGATE_MAX_DB_RECORDS", c.Access.MaxDBRecords)

	c.Relay.Driver = strings.ToLower(getenvDefault("LANEGATE_RELAY_DRIVER", c.Relay.Driver))

	c.Retention.AccessLogDays = getenvInt("LANEGATE_RETENTION_DAYS", c.Retention.AccessLogDays)
	c.Retention.PruneIntervalHours = getenvInt("LANEGATE_PRUNE_INTERVAL_HOURS", c.Retention.PruneIntervalHours)

	c.Auth.JWTSecret = getenvDefault("LANEGATE_JWT_SECRET", c.Auth.JWTSecret)
	if origins := splitCSV(os.Getenv("LANEGATE_CORS_ORIGINS")); origins != nil {
		c.CORS.AllowedOrigins = origins
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvDuration(key string, def Duration) Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return Duration(d)
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
