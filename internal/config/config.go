package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DotEnvPath is the local env file read in development.
const DotEnvPath = ".env"

// DefaultLibraryDeps are loaded before the token script.
var DefaultLibraryDeps = []string{
	"https://cdn.jsdelivr.net/npm/p5@1.2.0/lib/p5.js",
}

// Config is built once in main and passed by value to every component.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	Env      string `env:"ENV" envDefault:"dev"`
	LogLevel string `env:"LOG_LEVEL"`

	ContractAddr string `env:"CONTRACT_ADDR"`
	FilePrefix   string `env:"FILE_NAME"`

	// Storage
	StoreBackend       string `env:"STORE_BACKEND" envDefault:"gcs"` // "gcs", "redis" or "memory"
	BucketName         string `env:"BUCKET_NAME"`
	StorageKeyfilePath string `env:"STORAGE_KEYFILE_PATH"`
	RedisAddr          string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	HotCacheMaxBytes   int64  `env:"HOT_CACHE_MAX_BYTES" envDefault:"0"`

	// Cross-instance render coordination
	LeaseBackend      string        `env:"LEASE_BACKEND" envDefault:"none"` // "none" or "redis"
	LeaseTTL          time.Duration `env:"LEASE_TTL" envDefault:"2m"`
	LeasePollInterval time.Duration `env:"LEASE_POLL_INTERVAL" envDefault:"500ms"`

	// Chain
	InfuraKey        string        `env:"INFURA_KEY"`
	RPCURL           string        `env:"RPC_URL"`
	ChainCallTimeout time.Duration `env:"CHAIN_CALL_TIMEOUT" envDefault:"30s"`
	MaxScriptChunks  uint64        `env:"MAX_SCRIPT_CHUNKS" envDefault:"10000"`

	// Browser
	BrowserlessKey    string        `env:"PUPPETEER_BROWSERLESS_IO_KEY"`
	BrowserWSEndpoint string        `env:"BROWSER_WS_ENDPOINT"`
	Selector          string        `env:"SELECTOR" envDefault:"__RENDERER_SELECTOR"`
	ViewportWidth     int64         `env:"THUMBNAIL_WIDTH" envDefault:"2700"`
	ViewportHeight    int64         `env:"THUMBNAIL_HEIGHT" envDefault:"2700"`
	RenderTimeout     time.Duration `env:"RENDER_TIMEOUT" envDefault:"60s"`
	MaxRenders        int64         `env:"MAX_CONCURRENT_RENDERS" envDefault:"0"`
	LibraryDeps       []string      `env:"LIBRARY_DEPS" envSeparator:","`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"120s"`

	// Tracing
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadDotEnv copies path into the process environment. Variables already
// set win; a missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load parses the environment, applies defaults and validates.
// In development a local .env file is read first.
func Load() (Config, error) {
	if e := os.Getenv("ENV"); e == "" || e == "dev" || e == "development" {
		if err := LoadDotEnv(DotEnvPath); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// WithDefaults returns a copy of Config with sane defaults applied.
func (c Config) WithDefaults() Config {
	cfg := c

	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.LeaseBackend = strings.ToLower(strings.TrimSpace(cfg.LeaseBackend))
	cfg.FilePrefix = strings.Trim(cfg.FilePrefix, "/")

	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "gcs"
	}
	if cfg.LeaseBackend == "" {
		cfg.LeaseBackend = "none"
	}
	if cfg.Selector == "" {
		cfg.Selector = "__RENDERER_SELECTOR"
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 2700
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 2700
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 60 * time.Second
	}
	if cfg.ChainCallTimeout <= 0 {
		cfg.ChainCallTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if cfg.MaxScriptChunks == 0 {
		cfg.MaxScriptChunks = 10000
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	if cfg.LeasePollInterval <= 0 {
		cfg.LeasePollInterval = 500 * time.Millisecond
	}
	if len(cfg.LibraryDeps) == 0 {
		cfg.LibraryDeps = append([]string(nil), DefaultLibraryDeps...)
	}

	return cfg
}

// Validate checks required fields only.
func (c Config) Validate() error {
	var errs []error

	if c.ContractAddr == "" {
		errs = append(errs, errors.New("CONTRACT_ADDR is required"))
	}
	if c.FilePrefix == "" {
		errs = append(errs, errors.New("FILE_NAME is required"))
	}
	if c.InfuraKey == "" && c.RPCURL == "" {
		errs = append(errs, errors.New("INFURA_KEY or RPC_URL is required"))
	}

	switch c.StoreBackend {
	case "gcs":
		if c.BucketName == "" {
			errs = append(errs, errors.New("BUCKET_NAME is required for the gcs store"))
		}
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.LeaseBackend {
	case "none", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown LEASE_BACKEND %q", c.LeaseBackend))
	}

	return errors.Join(errs...)
}

// RPCEndpoint returns the JSON-RPC URL the chain reader dials.
func (c Config) RPCEndpoint() string {
	if c.RPCURL != "" {
		return c.RPCURL
	}
	return "https://mainnet.infura.io/v3/" + c.InfuraKey
}

// BrowserEndpoint returns the DevTools websocket to connect to,
// or "" when a local browser should be launched.
func (c Config) BrowserEndpoint() string {
	if c.BrowserWSEndpoint != "" {
		return c.BrowserWSEndpoint
	}
	if c.BrowserlessKey != "" {
		return "wss://chrome.browserless.io?token=" + c.BrowserlessKey
	}
	return ""
}

// NeedsRedis reports whether any component needs a redis client.
func (c Config) NeedsRedis() bool {
	return c.StoreBackend == "redis" || c.LeaseBackend == "redis"
}

// IsDev reports whether the deployment tag is a development one.
func (c Config) IsDev() bool {
	return c.Env == "dev" || c.Env == "development"
}
