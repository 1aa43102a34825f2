// Package config loads application settings from flags, environment,
// an optional YAML file and built-in defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"layering-detector/internal/detection"
)

// EnvPrefix prefixes every environment variable, e.g. LAYERING_PATHS_INPUT.
const EnvPrefix = "LAYERING"

// ErrInvalid is returned for settings that cannot be parsed or validated.
var ErrInvalid = errors.New("invalid configuration")

// AppConfig is the full application configuration.
type AppConfig struct {
	Paths      PathsConfig
	Detection  DetectionSettings
	Log        LogConfig
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Kafka      KafkaConfig
	Server     ServerConfig
}

// PathsConfig holds file locations of the batch run.
type PathsConfig struct {
	Input   string
	Output  string
	LogFile string
	Report  string // optional Markdown summary
}

// DetectionSettings holds the detection thresholds.
type DetectionSettings struct {
	OrderWindow         time.Duration
	CancellationWindow  time.Duration
	OppositeTradeWindow time.Duration
	MinOrdersSameSide   int
	AlwaysSuspicious    []string
	Workers             int // parallel group evaluation; 0 means GOMAXPROCS
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string
}

// PostgresConfig holds the event/detection store connection. Empty DSN disables it.
type PostgresConfig struct {
	DSN string
}

// ClickHouseConfig holds the analytics store connection. Empty DSN disables it.
type ClickHouseConfig struct {
	DSN string
}

// KafkaConfig holds alert publishing settings. No brokers disables publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string
}

// defaults mirror the batch tool's historical settings.
var defaults = map[string]any{
	"paths.input":                     "data/transactions.csv",
	"paths.output":                    "output/suspicious_accounts.csv",
	"paths.log_file":                  "logs/detection.log",
	"paths.report":                    "",
	"detection.order_window":          "10s",
	"detection.cancellation_window":   "5s",
	"detection.opposite_trade_window": "2s",
	"detection.min_orders_same_side":  detection.DefaultMinOrdersSameSide,
	"detection.always_suspicious":     strings.Join(detection.DefaultAlwaysSuspicious, ","),
	"detection.workers":               0,
	"log.level":                       "info",
	"log.format":                      "console",
	"postgres.dsn":                    "",
	"clickhouse.dsn":                  "",
	"kafka.brokers":                   "",
	"kafka.topic":                     "layering.detections",
	"server.addr":                     ":8080",
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"input":                 "paths.input",
	"output":                "paths.output",
	"log":                   "paths.log_file",
	"report":                "paths.report",
	"order-window":          "detection.order_window",
	"cancellation-window":   "detection.cancellation_window",
	"opposite-trade-window": "detection.opposite_trade_window",
	"min-orders":            "detection.min_orders_same_side",
	"always-suspicious":     "detection.always_suspicious",
	"workers":               "detection.workers",
	"log-level":             "log.level",
	"log-format":            "log.format",
	"postgres-dsn":          "postgres.dsn",
	"clickhouse-dsn":        "clickhouse.dsn",
	"kafka-brokers":         "kafka.brokers",
	"kafka-topic":           "kafka.topic",
	"addr":                  "server.addr",
}

// NewFlagSet returns a flag set with every configuration flag registered.
// Commands may add their own flags before calling Load.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "YAML config file")
	fs.String("env-file", ".env", "dotenv file loaded into the environment if present")

	fs.String("input", defaults["paths.input"].(string), "Input CSV file")
	fs.String("output", defaults["paths.output"].(string), "Output CSV file")
	fs.String("log", defaults["paths.log_file"].(string), "Log file")
	fs.String("report", "", "Optional Markdown report file")

	fs.String("order-window", "10s", "Max span of the layered orders (duration or seconds)")
	fs.String("cancellation-window", "5s", "Max delay from order to cancellation (duration or seconds)")
	fs.String("opposite-trade-window", "2s", "Max delay from last cancellation to opposite trade (duration or seconds)")
	fs.Int("min-orders", detection.DefaultMinOrdersSameSide, "Same-side orders required in a window")
	fs.StringSlice("always-suspicious", detection.DefaultAlwaysSuspicious, "Accounts flagged unconditionally")
	fs.Int("workers", 0, "Parallel group evaluation; 0 uses all CPUs")

	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("log-format", "console", "Stdout log format: console or json")
	fs.String("postgres-dsn", "", "PostgreSQL DSN for event and detection stores")
	fs.String("clickhouse-dsn", "", "ClickHouse DSN for detection analytics")
	fs.StringSlice("kafka-brokers", nil, "Kafka brokers for detection alerts")
	fs.String("kafka-topic", defaults["kafka.topic"].(string), "Kafka topic for detection alerts")
	fs.String("addr", defaults["server.addr"].(string), "HTTP listen address")
	return fs
}

// Load parses args into fs and resolves the configuration.
// Precedence: flags > environment (LAYERING_*) > config file > defaults.
func Load(fs *pflag.FlagSet, args []string) (*AppConfig, error) {
	if !fs.Parsed() {
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, pflag.ErrHelp) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	if f := fs.Lookup("env-file"); f != nil && f.Value.String() != "" {
		if err := loadDotEnv(f.Value.String()); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	return fromViper(v)
}

// loadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func fromViper(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{
		Paths: PathsConfig{
			Input:   v.GetString("paths.input"),
			Output:  v.GetString("paths.output"),
			LogFile: v.GetString("paths.log_file"),
			Report:  v.GetString("paths.report"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Postgres:   PostgresConfig{DSN: v.GetString("postgres.dsn")},
		ClickHouse: ClickHouseConfig{DSN: v.GetString("clickhouse.dsn")},
		Kafka: KafkaConfig{
			Brokers: stringList(v.Get("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
		},
		Server: ServerConfig{Addr: v.GetString("server.addr")},
	}

	var err error
	d := &cfg.Detection
	if d.OrderWindow, err = ParseSeconds(v.GetString("detection.order_window")); err != nil {
		return nil, fmt.Errorf("%w: ORDER_WINDOW: %v", ErrInvalid, err)
	}
	if d.CancellationWindow, err = ParseSeconds(v.GetString("detection.cancellation_window")); err != nil {
		return nil, fmt.Errorf("%w: CANCELLATION_WINDOW: %v", ErrInvalid, err)
	}
	if d.OppositeTradeWindow, err = ParseSeconds(v.GetString("detection.opposite_trade_window")); err != nil {
		return nil, fmt.Errorf("%w: OPPOSITE_TRADE_WINDOW: %v", ErrInvalid, err)
	}
	if d.MinOrdersSameSide, err = strconv.Atoi(v.GetString("detection.min_orders_same_side")); err != nil {
		return nil, fmt.Errorf("%w: MIN_ORDERS_SAME_SIDE: %v", ErrInvalid, err)
	}
	if d.Workers, err = strconv.Atoi(v.GetString("detection.workers")); err != nil {
		return nil, fmt.Errorf("%w: workers: %v", ErrInvalid, err)
	}
	d.AlwaysSuspicious = stringList(v.Get("detection.always_suspicious"))

	return cfg, nil
}

// DetectionConfig builds the validated engine configuration.
func (c *AppConfig) DetectionConfig() (detection.Config, error) {
	d := c.Detection
	return detection.NewConfig(
		detection.WithOrderWindow(d.OrderWindow),
		detection.WithCancellationWindow(d.CancellationWindow),
		detection.WithOppositeTradeWindow(d.OppositeTradeWindow),
		detection.WithMinOrdersSameSide(d.MinOrdersSameSide),
		detection.WithAlwaysSuspicious(d.AlwaysSuspicious...),
	)
}

// ParseSeconds parses a Go duration ("1500ms", "10s") or a bare number of
// seconds ("10", "2.5").
func ParseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// stringList normalizes list values from flags ([]string), YAML ([]any) and
// environment variables (comma separated string). Blank items are dropped.
func stringList(raw any) []string {
	var items []string
	switch x := raw.(type) {
	case nil:
	case string:
		items = strings.Split(x, ",")
	case []string:
		items = x
	case []any:
		for _, item := range x {
			items = append(items, fmt.Sprint(item))
		}
	default:
		items = []string{fmt.Sprint(x)}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
