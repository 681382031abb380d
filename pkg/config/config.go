// Package config loads the harvester configuration from a YAML or .env file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DateLayout is the layout of FROM_DATE.
const DateLayout = "2006-01-02"

// ErrMissingRequired is returned when a required setting is absent.
var ErrMissingRequired = errors.New("missing required configuration")

// Config is the immutable configuration of one run.
type Config struct {
	StackExchange StackExchangeConfig `yaml:"stackexchange"`
	Query         QueryConfig         `yaml:"query"`
	Output        OutputConfig        `yaml:"output"`
	Log           LogConfig           `yaml:"log"`
	Redis         RedisConfig         `yaml:"redis"`
	Database      DatabaseConfig      `yaml:"database"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// StackExchangeConfig configures the API client.
type StackExchangeConfig struct {
	APIKey             string        `yaml:"api_key"              env:"STACKEXCHANGE_API_KEY"        env-required:"true"`
	BaseURL            string        `yaml:"base_url"             env:"STACKEXCHANGE_BASE_URL"       env-default:"https://api.stackexchange.com/2.3"`
	Filter             string        `yaml:"filter"               env:"STACKEXCHANGE_FILTER"         env-default:"withbody"`
	PageSize           int           `yaml:"page_size"            env:"PAGE_SIZE"                    env-default:"100"`
	MinRequestInterval time.Duration `yaml:"min_request_interval" env:"MIN_REQUEST_INTERVAL"         env-default:"100ms"`
	RequestTimeout     time.Duration `yaml:"request_timeout"      env:"REQUEST_TIMEOUT"              env-default:"10s"`
	UserAgent          string        `yaml:"user_agent"           env:"STACKEXCHANGE_USER_AGENT"     env-default:"se-harvest/0.1.0"`
}

// QueryConfig selects the questions to harvest.
type QueryConfig struct {
	Site     string `yaml:"site"      env:"STACKEXCHANGE_SITE" env-required:"true"`
	Tag      string `yaml:"tag"       env:"TAG"                env-required:"true"`
	FromDate string `yaml:"from_date" env:"FROM_DATE"          env-required:"true"`
	MaxPages int    `yaml:"max_pages" env:"MAX_PAGES"          env-default:"0"`
}

// OutputConfig selects the export format and destination.
type OutputConfig struct {
	Format    string `yaml:"format"     env:"OUTPUT_FORMAT" env-default:"json"`
	Dir       string `yaml:"dir"        env:"OUTPUT_DIR"    env-default:"."`
	Path      string `yaml:"path"       env:"OUTPUT_PATH"`
	PlainText bool   `yaml:"plain_text" env:"PLAIN_TEXT"    env-default:"false"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Pretty bool   `yaml:"pretty" env:"LOG_PRETTY" env-default:"false"`
}

// RedisConfig enables quota publishing when URL is set.
type RedisConfig struct {
	URL       string `yaml:"url"       env:"REDIS_URL"`
	Namespace string `yaml:"namespace" env:"REDIS_NAMESPACE" env-default:"se"`
}

// DatabaseConfig enables the Postgres sink when URL is set.
type DatabaseConfig struct {
	URL string `yaml:"url" env:"DATABASE_URL"`
}

// MetricsConfig enables the Prometheus textfile dump when File is set.
type MetricsConfig struct {
	File string `yaml:"file" env:"METRICS_FILE"`
}

// MustLoad is a wrapper around Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the configuration in order of precedence:
// 1) explicit path; 2) CONFIG_PATH; 3) ./.env; 4) environment only.
// Environment variables override values read from a file.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat(".env"); err == nil {
			path = ".env"
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, wrapReadError(err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, wrapReadError(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func wrapReadError(err error) error {
	if strings.Contains(err.Error(), "is required") {
		return fmt.Errorf("%w: %v", ErrMissingRequired, err)
	}
	return fmt.Errorf("failed to read config: %w", err)
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.StackExchange.APIKey) == "" {
		missing = append(missing, "STACKEXCHANGE_API_KEY")
	}
	if strings.TrimSpace(c.Query.Site) == "" {
		missing = append(missing, "STACKEXCHANGE_SITE")
	}
	if strings.TrimSpace(c.Query.Tag) == "" {
		missing = append(missing, "TAG")
	}
	if strings.TrimSpace(c.Query.FromDate) == "" {
		missing = append(missing, "FROM_DATE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}

	if _, err := c.FromTimestamp(); err != nil {
		return err
	}
	if c.StackExchange.PageSize < 1 || c.StackExchange.PageSize > 100 {
		return fmt.Errorf("page_size must be between 1 and 100 (got %d)", c.StackExchange.PageSize)
	}
	if c.StackExchange.MinRequestInterval < 0 {
		return fmt.Errorf("min_request_interval must not be negative")
	}
	if c.Query.MaxPages < 0 {
		return fmt.Errorf("max_pages must be >= 0 (got %d)", c.Query.MaxPages)
	}
	switch strings.ToLower(c.Output.Format) {
	case "json", "jsonl":
	default:
		return fmt.Errorf("output.format must be json or jsonl (got %q)", c.Output.Format)
	}
	return nil
}

// FromTimestamp parses FROM_DATE as local midnight and returns it as a UNIX timestamp.
func (c *Config) FromTimestamp() (int64, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(c.Query.FromDate), time.Local)
	if err != nil {
		return 0, fmt.Errorf("from_date must be YYYY-MM-DD (got %q): %w", c.Query.FromDate, err)
	}
	return t.Unix(), nil
}
