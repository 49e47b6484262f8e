// Package config loads ramekin configuration.
//
// Sources, highest precedence first:
//   - runtime overrides passed to Load
//   - RAMEKIN_* environment variables
//   - a config file (ramekin.yaml in the working directory or the user
//     config directory, or an explicit path)
//   - defaults
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Health  HealthConfig  `mapstructure:"health"`

	// Workers bounds concurrently running capture jobs.
	Workers int `mapstructure:"workers"`

	// DataDir holds the recipe database, job records and local photos
	// unless their paths are set explicitly.
	DataDir string `mapstructure:"data_dir"`

	Store   StoreConfig   `mapstructure:"store"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Extract ExtractConfig `mapstructure:"extract"`
	Photos  PhotosConfig  `mapstructure:"photos"`
	Vision  VisionConfig  `mapstructure:"vision"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// StoreConfig selects the recipe version database. URL (libsql/Turso)
// takes precedence over Path.
type StoreConfig struct {
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

type JobsConfig struct {
	Dir string `mapstructure:"dir"`
}

type FetchConfig struct {
	AllowedHosts []string      `mapstructure:"allowed_hosts"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	RatePerHost  float64       `mapstructure:"rate_per_host"`
	UserAgent    string        `mapstructure:"user_agent"`
}

type ExtractConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// PhotosConfig selects where recipe photos are read from.
type PhotosConfig struct {
	// Backend is "file" or "s3".
	Backend string         `mapstructure:"backend"`
	Dir     string         `mapstructure:"dir"`
	S3      PhotosS3Config `mapstructure:"s3"`
}

type PhotosS3Config struct {
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// VisionConfig configures the multimodal model used for photo imports. An
// empty provider disables photo imports.
type VisionConfig struct {
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	OllamaHost string `mapstructure:"ollama_host"`
	MaxTokens  int    `mapstructure:"max_tokens"`
}

// Identity names the application for env prefixes, config file names and
// data directories.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is used when Load runs before SetAppIdentity.
var DefaultIdentity = Identity{BinaryName: "ramekin", EnvPrefix: "RAMEKIN", ConfigName: "ramekin"}

var (
	configMu    sync.RWMutex
	appIdentity *Identity
	appConfig   *Config
	configFile  string
)

// SetAppIdentity overrides the application identity.
func SetAppIdentity(id Identity) {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = &id
}

// SetConfigFile makes Load read path instead of searching for a config file.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Load builds the configuration. Each override map is nested by section,
// e.g. {"server": {"port": 9000}}, and wins over every other source.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}

	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyDerived(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appConfig = &cfg
	return &cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	switch c.Photos.Backend {
	case "file", "s3":
	default:
		return fmt.Errorf("photos.backend must be file or s3, got %q", c.Photos.Backend)
	}
	if c.Photos.Backend == "s3" && strings.TrimSpace(c.Photos.S3.Bucket) == "" {
		return errors.New("photos.s3.bucket is required for the s3 backend")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("health.enabled", true)
	v.SetDefault("workers", 4)
	v.SetDefault("data_dir", gfconfig.GetAppDataDir(appIdentity.ConfigName))

	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("jobs.dir", "")

	v.SetDefault("fetch.allowed_hosts", []string{})
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.max_body_bytes", 5<<20)
	v.SetDefault("fetch.rate_per_host", 1.0)
	v.SetDefault("fetch.user_agent", "")

	v.SetDefault("extract.timeout", "60s")

	v.SetDefault("photos.backend", "file")
	v.SetDefault("photos.dir", "")
	v.SetDefault("photos.s3.bucket", "")
	v.SetDefault("photos.s3.prefix", "")
	v.SetDefault("photos.s3.region", "")
	v.SetDefault("photos.s3.endpoint", "")
	v.SetDefault("photos.s3.profile", "")
	v.SetDefault("photos.s3.force_path_style", false)

	v.SetDefault("vision.provider", "")
	v.SetDefault("vision.model", "")
	v.SetDefault("vision.api_key", "")
	v.SetDefault("vision.ollama_host", "")
	v.SetDefault("vision.max_tokens", 4096)
}

func applyDerived(cfg *Config) {
	if cfg.Store.Path == "" && cfg.Store.URL == "" {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "ramekin.db")
	}
	if cfg.Jobs.Dir == "" {
		cfg.Jobs.Dir = filepath.Join(cfg.DataDir, "jobs")
	}
	if cfg.Photos.Dir == "" {
		cfg.Photos.Dir = filepath.Join(cfg.DataDir, "photos")
	}
	cfg.Logging.Profile = strings.ToLower(cfg.Logging.Profile)
	cfg.Photos.Backend = strings.ToLower(strings.TrimSpace(cfg.Photos.Backend))
}

func readConfigFile(v *viper.Viper) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName(appIdentity.ConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, p := range getUserConfigPaths() {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// getUserConfigPaths returns the per-user directories searched for a config
// file.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return []string{}
	}
	return []string{filepath.Join(dir, appIdentity.ConfigName)}
}

// envSpec maps one environment variable to a config key.
type envSpec struct {
	Name string
	Path string
}

// envKeys maps env suffixes to config keys. Server settings use the short
// names common to service deployments (PORT, HOST, LOG_LEVEL).
var envKeys = map[string]string{
	"HOST":                 "server.host",
	"PORT":                 "server.port",
	"READ_TIMEOUT":         "server.read_timeout",
	"WRITE_TIMEOUT":        "server.write_timeout",
	"IDLE_TIMEOUT":         "server.idle_timeout",
	"SHUTDOWN_TIMEOUT":     "server.shutdown_timeout",
	"LOG_LEVEL":            "logging.level",
	"LOG_PROFILE":          "logging.profile",
	"HEALTH_ENABLED":       "health.enabled",
	"WORKERS":              "workers",
	"DATA_DIR":             "data_dir",
	"STORE_PATH":           "store.path",
	"STORE_URL":            "store.url",
	"STORE_AUTH_TOKEN":     "store.auth_token",
	"JOBS_DIR":             "jobs.dir",
	"FETCH_ALLOWED_HOSTS":  "fetch.allowed_hosts",
	"FETCH_TIMEOUT":        "fetch.timeout",
	"FETCH_MAX_BODY_BYTES": "fetch.max_body_bytes",
	"FETCH_RATE_PER_HOST":  "fetch.rate_per_host",
	"FETCH_USER_AGENT":     "fetch.user_agent",
	"EXTRACT_TIMEOUT":      "extract.timeout",
	"PHOTOS_BACKEND":       "photos.backend",
	"PHOTOS_DIR":           "photos.dir",
	"PHOTOS_S3_BUCKET":     "photos.s3.bucket",
	"PHOTOS_S3_PREFIX":     "photos.s3.prefix",
	"PHOTOS_S3_REGION":     "photos.s3.region",
	"PHOTOS_S3_ENDPOINT":   "photos.s3.endpoint",
	"PHOTOS_S3_PROFILE":    "photos.s3.profile",
	"PHOTOS_S3_FORCE_PATH": "photos.s3.force_path_style",
	"VISION_PROVIDER":      "vision.provider",
	"VISION_MODEL":         "vision.model",
	"VISION_API_KEY":       "vision.api_key",
	"VISION_OLLAMA_HOST":   "vision.ollama_host",
	"VISION_MAX_TOKENS":    "vision.max_tokens",
}

// getEnvSpecs returns the env bindings for the current identity, sorted by
// name.
func getEnvSpecs() []envSpec {
	if appIdentity == nil {
		return []envSpec{}
	}
	specs := make([]envSpec, 0, len(envKeys))
	for suffix, path := range envKeys {
		specs = append(specs, envSpec{Name: appIdentity.EnvPrefix + "_" + suffix, Path: path})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
