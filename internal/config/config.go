package config

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/yourorg/erp-loader/internal/backend"
	"github.com/yourorg/erp-loader/internal/engine"
	"github.com/yourorg/erp-loader/internal/submit"
)

// Config is the loader configuration shared by the commands.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	OData    BackendConfig  `mapstructure:"odata"`
	SOAP     BackendConfig  `mapstructure:"soap"`
	Temporal TemporalConfig `mapstructure:"temporal"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	API      APIConfig      `mapstructure:"api"`
	Log      LogConfig      `mapstructure:"log"`
}

// EngineConfig tunes batching and the in-batch worker pool.
type EngineConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	Workers     int           `mapstructure:"workers"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// BackendConfig holds one protocol's connection settings.
type BackendConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	Timeout    time.Duration `mapstructure:"timeout"`
	FetchToken bool          `mapstructure:"fetch_token"`
	SOAPAction string        `mapstructure:"soap_action"`
}

type TemporalConfig struct {
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type APIConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	UploadRoot     string   `mapstructure:"upload_root"` // local dir or s3://bucket/prefix
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from the optional YAML file at path, then from
// LOADER_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LOADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.API.AllowedOrigins) == 1 && strings.Contains(cfg.API.AllowedOrigins[0], ",") {
		cfg.API.AllowedOrigins = strings.Split(cfg.API.AllowedOrigins[0], ",")
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.batch_size", engine.DefaultBatchSize)
	v.SetDefault("engine.workers", submit.DefaultWorkers)
	v.SetDefault("engine.call_timeout", engine.DefaultCallTimeout)

	for _, p := range []string{"odata", "soap"} {
		v.SetDefault(p+".base_url", "")
		v.SetDefault(p+".user", "")
		v.SetDefault(p+".password", "")
		v.SetDefault(p+".timeout", backend.DefaultTimeout)
		v.SetDefault(p+".soap_action", "")
	}
	v.SetDefault("odata.fetch_token", true)
	v.SetDefault("soap.fetch_token", false)

	v.SetDefault("temporal.address", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "erp-loader")

	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.allowed_origins", []string{"*"})
	v.SetDefault("api.upload_root", "/var/erp-loader/uploads")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// bindEnvVars adds the unprefixed names the worker has always honoured.
func bindEnvVars(v *viper.Viper) error {
	binds := map[string][]string{
		"temporal.address":    {"LOADER_TEMPORAL_ADDRESS", "TEMPORAL_TARGET_HOST", "TEMPORAL_ADDRESS"},
		"temporal.namespace":  {"LOADER_TEMPORAL_NAMESPACE", "TEMPORAL_NAMESPACE"},
		"temporal.task_queue": {"LOADER_TEMPORAL_TASK_QUEUE", "TEMPORAL_TASK_QUEUE"},
		"metrics.addr":        {"LOADER_METRICS_ADDR", "METRICS_ADDR"},
		"log.level":           {"LOADER_LOG_LEVEL", "LOG_LEVEL"},
	}
	for key, envs := range binds {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Engine.BatchSize < 1 {
		return fmt.Errorf("engine.batch_size must be at least 1")
	}
	if cfg.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1")
	}
	for name, b := range map[string]BackendConfig{"odata": cfg.OData, "soap": cfg.SOAP} {
		if b.BaseURL != "" && !strings.HasPrefix(b.BaseURL, "http://") && !strings.HasPrefix(b.BaseURL, "https://") {
			return fmt.Errorf("%s.base_url must be an http(s) url", name)
		}
		if b.Timeout < 0 {
			return fmt.Errorf("%s.timeout must be non-negative", name)
		}
	}
	if cfg.Temporal.TaskQueue == "" {
		return fmt.Errorf("temporal.task_queue is required")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

// Conn builds a backend connection with its own cookie jar.
func (b BackendConfig) Conn(logger *zap.Logger) backend.Conn {
	jar, _ := cookiejar.New(nil)
	return backend.Conn{
		BaseURL:  b.BaseURL,
		User:     b.User,
		Password: b.Password,
		Client:   &http.Client{Timeout: b.Timeout, Jar: jar},
		Logger:   logger,
	}
}

// Backends assembles the submitter settings for submit.NewRegistry.
func (c *Config) Backends(logger *zap.Logger) submit.Backends {
	return submit.Backends{
		OData:           c.OData.Conn(logger),
		ODataFetchToken: c.OData.FetchToken,
		SOAP:            c.SOAP.Conn(logger),
		SOAPAction:      c.SOAP.SOAPAction,
		Workers:         c.Engine.Workers,
	}
}
