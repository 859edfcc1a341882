// Package config loads the layered server configuration: built-in defaults, a YAML file, a .env file and finally
// POST_ARCHIVER_* environment variables, all addressed by flat "section.key" paths.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultEnvPrefix = "POST_ARCHIVER_"

var (
	ErrInvalidPort        = errors.New("server.port must be between 1 and 65535")
	ErrInvalidConcurrency = errors.New("concurrency must be at least 1")
	ErrInvalidMaxSize     = errors.New("video.max_size_bytes must be positive")
	ErrInvalidCompression = errors.New("video.compression must be one of: high, medium, low")
	ErrInvalidAttempts    = errors.New("video.retry_attempts must be at least 1")
	ErrInvalidLogLevel    = errors.New("log.level must be one of: debug, info, warn, error")
	ErrMissingNotion      = errors.New("notion.token and notion.database_id are required")
)

// Defaults are the values used for any key not set elsewhere. Every key that can be overridden from the environment
// must appear here or in the loaded file.
var Defaults = map[string]any{
	"server.host":             "127.0.0.1",
	"server.port":             3000,
	"server.max_body_bytes":   50 << 20,
	"server.read_timeout":     "30s",
	"server.write_timeout":    "10m",
	"server.shutdown_timeout": "30s",
	"server.allowed_origin":   "*",

	"log.level":  "info",
	"log.format": "console",

	"notion.token":       "",
	"notion.database_id": "",
	"notion.api_url":     "https://api.notion.com/v1",
	"notion.version":     "2022-06-28",
	"notion.timeout":     "30s",

	"document.include_debug_log": false,

	"storage.app_key":             "",
	"storage.app_secret":          "",
	"storage.refresh_token":       "",
	"storage.access_token":        "",
	"storage.folder":              "/post-archiver",
	"storage.api_url":             "https://api.dropboxapi.com/2",
	"storage.content_url":         "https://content.dropboxapi.com/2",
	"storage.token_url":           "https://api.dropboxapi.com/oauth2/token",
	"storage.refresh_interval":    "3h",
	"storage.timeout":             "5m",
	"storage.video_name_template": "{{.Date}} - {{.Author}} - video {{.Number}}.{{.Ext}}",
	"storage.image_name_template": "{{.Date}} - {{.Author}} - image {{.Number}} - {{.ID}}.{{.Ext}}",

	"video.max_size_bytes":    100 << 20,
	"video.accepted_formats":  []any{"mp4", "mov", "webm"},
	"video.target_format":     "mp4",
	"video.compression":       "medium",
	"video.download_timeout":  "5m",
	"video.transcode_timeout": "15m",
	"video.user_agent":        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"video.retry_attempts":    3,
	"video.retry_base_delay":  "2s",
	"video.concurrency":       2,
	"video.ffmpeg_path":       "ffmpeg",
	"video.ffprobe_path":      "ffprobe",
	"video.temp_dir":          "",

	"image.concurrency":      5,
	"image.download_timeout": "30s",
	"image.max_size_bytes":   20 << 20,

	"resolver.unshorten_url": "https://unshorten.it/json",
	"resolver.timeout":       "10s",
	"resolver.user_agent":    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"resolver.short_hosts":   []any{},
	"resolver.cache":         true,
	"resolver.concurrency":   4,

	"store.path": "post-archiver.db",
}

// Config is a flat view of all configuration values.
type Config struct {
	values map[string]any
}

type loadOptions struct {
	envFile   string
	envPrefix string
	lookupEnv func(string) (string, bool)
}

type Option func(*loadOptions)

// WithEnvFile loads a dotenv file before reading the environment. A missing file is not an error.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) {
		o.envFile = path
	}
}

func WithEnvPrefix(prefix string) Option {
	return func(o *loadOptions) {
		o.envPrefix = prefix
	}
}

// WithLookupEnv replaces os.LookupEnv, mostly for tests.
func WithLookupEnv(f func(string) (string, bool)) Option {
	return func(o *loadOptions) {
		o.lookupEnv = f
	}
}

// New returns the defaults overlaid with values (which may be nested maps or flat "a.b" keys).
func New(values map[string]any) *Config {
	c := &Config{values: make(map[string]any, len(Defaults))}
	for k, v := range Defaults {
		c.values[k] = v
	}
	flatten("", values, c.values)
	return c
}

// Load reads the YAML file at path (if path is non-empty) on top of the defaults, then applies environment overrides.
func Load(path string, opts ...Option) (*Config, error) {
	o := loadOptions{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var fileValues map[string]any
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fileValues); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	c := New(fileValues)

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}
	for key := range c.values {
		if value, ok := o.lookupEnv(EnvName(o.envPrefix, key)); ok {
			c.values[key] = value
		}
	}
	return c, nil
}

// EnvName gives the environment variable that overrides key, e.g. "server.port" -> "POST_ARCHIVER_SERVER_PORT".
func EnvName(prefix string, key string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
		} else {
			out[key] = v
		}
	}
}

// Keys returns every known key in sorted order.
func (c *Config) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the raw value for a "section.key" path.
func (c *Config) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

func (c *Config) Set(key string, value any) {
	c.values[key] = value
}

func (c *Config) String(key string) string {
	v, ok := c.values[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (c *Config) Int(key string) int {
	return int(c.Int64(key))
}

func (c *Config) Int64(key string) int64 {
	switch v := c.values[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	}
	return 0
}

func (c *Config) Bool(key string) bool {
	switch v := c.values[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	}
	return false
}

// Duration accepts Go duration strings ("90s", "3h") or a plain number of seconds.
func (c *Config) Duration(key string) time.Duration {
	switch v := c.values[key].(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return time.Duration(n * float64(time.Second))
		}
	}
	return 0
}

// Strings accepts a YAML list or a comma-separated string.
func (c *Config) Strings(key string) []string {
	var out []string
	switch v := c.values[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
	case string:
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var result error
	if port := c.Int("server.port"); port < 1 || port > 65535 {
		result = multierror.Append(result, fmt.Errorf("%w: got %d", ErrInvalidPort, port))
	}
	for _, key := range []string{"video.concurrency", "image.concurrency", "resolver.concurrency"} {
		if c.Int(key) < 1 {
			result = multierror.Append(result, fmt.Errorf("%s: %w", key, ErrInvalidConcurrency))
		}
	}
	if c.Int64("video.max_size_bytes") <= 0 {
		result = multierror.Append(result, ErrInvalidMaxSize)
	}
	switch c.String("video.compression") {
	case "high", "medium", "low":
	default:
		result = multierror.Append(result, ErrInvalidCompression)
	}
	if c.Int("video.retry_attempts") < 1 {
		result = multierror.Append(result, ErrInvalidAttempts)
	}
	switch strings.ToLower(c.String("log.level")) {
	case "debug", "info", "warn", "error":
	default:
		result = multierror.Append(result, ErrInvalidLogLevel)
	}
	if c.String("notion.token") == "" || c.String("notion.database_id") == "" {
		result = multierror.Append(result, ErrMissingNotion)
	}
	return result
}
