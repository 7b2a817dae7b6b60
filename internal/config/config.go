package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/dunamismax/artify/internal/engine"
	"github.com/dunamismax/artify/internal/pipeline"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. ARTIFY_IMAGE_MAX_DIM.
const EnvPrefix = "ARTIFY"

// FileEnv names the variable holding an optional YAML, TOML or JSON config file.
const FileEnv = "ARTIFY_CONFIG"

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Image     ImageConfig     `mapstructure:"image"`
	Engine    EngineConfig    `mapstructure:"engine"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type APIConfig struct {
	Addr            string        `mapstructure:"addr"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RefinedStatus maps decode failures to 422, overload to 503 and
	// inference timeouts to 504 instead of a blanket 500.
	RefinedStatus  bool     `mapstructure:"refined_status"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	ClientIDHeader string   `mapstructure:"client_id_header"`
}

type ImageConfig struct {
	MaxDim      int    `mapstructure:"max_dim"`
	Filter      string `mapstructure:"filter"`
	AutoOrient  bool   `mapstructure:"auto_orient"`
	JPEGQuality int    `mapstructure:"jpeg_quality"`
}

type EngineConfig struct {
	Kind           string          `mapstructure:"kind"`
	Timeout        time.Duration   `mapstructure:"timeout"`
	MaxConcurrent  int             `mapstructure:"max_concurrent"`
	AcquireTimeout time.Duration   `mapstructure:"acquire_timeout"`
	ONNX           ONNXConfig      `mapstructure:"onnx"`
	TFServing      TFServingConfig `mapstructure:"tfserving"`
}

type ONNXConfig struct {
	ModelPath string `mapstructure:"model_path"`
	// ModelObject is fetched from the model registry into ModelPath at
	// startup when set.
	ModelObject    string `mapstructure:"model_object"`
	SharedLibrary  string `mapstructure:"shared_library"`
	ContentInput   string `mapstructure:"content_input"`
	StyleInput     string `mapstructure:"style_input"`
	Output         string `mapstructure:"output"`
	IntraOpThreads int    `mapstructure:"intra_op_threads"`
}

type TFServingConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	ContentInput string        `mapstructure:"content_input"`
	StyleInput   string        `mapstructure:"style_input"`
	Output       string        `mapstructure:"output"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Capacity      int           `mapstructure:"capacity"`
	Window        time.Duration `mapstructure:"window"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type DatabaseConfig struct {
	// DSN selects the postgres usage log. Empty keeps usage in memory.
	DSN           string `mapstructure:"dsn"`
	MemoryHistory int    `mapstructure:"memory_history"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	ServiceName  string  `mapstructure:"service_name"`
	Exporter     string  `mapstructure:"exporter"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.addr", "0.0.0.0:5050")
	v.SetDefault("api.max_upload_bytes", 20<<20)
	v.SetDefault("api.read_timeout", 30*time.Second)
	v.SetDefault("api.write_timeout", 120*time.Second)
	v.SetDefault("api.idle_timeout", 60*time.Second)
	v.SetDefault("api.shutdown_timeout", 15*time.Second)
	v.SetDefault("api.refined_status", false)
	v.SetDefault("api.cors_origins", []string{"*"})
	v.SetDefault("api.client_id_header", "X-Client-ID")

	v.SetDefault("image.max_dim", 512)
	v.SetDefault("image.filter", pipeline.FilterLinear)
	v.SetDefault("image.auto_orient", true)
	v.SetDefault("image.jpeg_quality", 0)

	v.SetDefault("engine.kind", engine.KindTFServing)
	v.SetDefault("engine.timeout", 60*time.Second)
	v.SetDefault("engine.max_concurrent", max(1, runtime.NumCPU()/2))
	v.SetDefault("engine.acquire_timeout", 10*time.Second)
	v.SetDefault("engine.onnx.model_path", "./models/arbitrary-image-stylization.onnx")
	v.SetDefault("engine.onnx.model_object", "")
	v.SetDefault("engine.onnx.shared_library", "")
	v.SetDefault("engine.onnx.content_input", "placeholder")
	v.SetDefault("engine.onnx.style_input", "placeholder_1")
	v.SetDefault("engine.onnx.output", "output_0")
	v.SetDefault("engine.onnx.intra_op_threads", 0)
	v.SetDefault("engine.tfserving.base_url", "http://localhost:8501")
	v.SetDefault("engine.tfserving.model", "arbitrary_image_stylization")
	v.SetDefault("engine.tfserving.content_input", "placeholder")
	v.SetDefault("engine.tfserving.style_input", "placeholder_1")
	v.SetDefault("engine.tfserving.output", "output_0")
	v.SetDefault("engine.tfserving.timeout", 60*time.Second)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.redis_addr", "localhost:6379")
	v.SetDefault("rate_limit.redis_password", "")
	v.SetDefault("rate_limit.redis_db", 0)
	v.SetDefault("rate_limit.capacity", 30)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.key_prefix", "artify:ratelimit")

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "minioadmin")
	v.SetDefault("storage.secret_key", "minioadmin")
	v.SetDefault("storage.bucket", "artify-models")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.use_ssl", false)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.memory_history", 1000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.service_name", "artify-api")
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.otlp_insecure", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load reads defaults, then the optional file named by ARTIFY_CONFIG, then
// ARTIFY_* environment variables, and validates the result.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv(FileEnv)); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Engine.Kind = strings.ToLower(strings.TrimSpace(cfg.Engine.Kind))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.API.Addr) == "" {
		errs = append(errs, errors.New("api.addr is required"))
	}
	if c.API.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("api.max_upload_bytes must be positive, got %d", c.API.MaxUploadBytes))
	}
	if c.Image.MaxDim <= 0 {
		errs = append(errs, fmt.Errorf("image.max_dim must be positive, got %d", c.Image.MaxDim))
	}
	if err := pipeline.ValidateFilter(c.Image.Filter); err != nil {
		errs = append(errs, fmt.Errorf("image.filter: %w", err))
	}
	if c.Image.JPEGQuality < 0 || c.Image.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("image.jpeg_quality must be within 0..100, got %d", c.Image.JPEGQuality))
	}

	switch strings.ToLower(c.Engine.Kind) {
	case engine.KindIdentity:
	case engine.KindONNX:
		if c.Engine.ONNX.ModelPath == "" {
			errs = append(errs, errors.New("engine.onnx.model_path is required for the onnx engine"))
		}
		if c.Engine.ONNX.ModelObject != "" && c.Storage.Endpoint == "" {
			errs = append(errs, errors.New("engine.onnx.model_object needs storage.endpoint"))
		}
	case engine.KindTFServing:
		if c.Engine.TFServing.BaseURL == "" || c.Engine.TFServing.Model == "" {
			errs = append(errs, errors.New("engine.tfserving.base_url and engine.tfserving.model are required for the tfserving engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("engine.kind %q is not one of identity, onnx, tfserving", c.Engine.Kind))
	}
	if c.Engine.Timeout < 0 || c.Engine.AcquireTimeout < 0 {
		errs = append(errs, errors.New("engine timeouts must not be negative"))
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Capacity <= 0 || c.RateLimit.Window <= 0 {
			errs = append(errs, errors.New("rate_limit.capacity and rate_limit.window must be positive"))
		}
		if c.RateLimit.RedisAddr == "" {
			errs = append(errs, errors.New("rate_limit.redis_addr is required when rate limiting is enabled"))
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, console", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// IsPassthrough reports whether the identity engine was selected, which
// returns the content image unstyled.
func (c EngineConfig) IsPassthrough() bool {
	return c.Kind == engine.KindIdentity
}

func (c EngineConfig) ToEngineConfig() engine.Config {
	return engine.Config{
		Kind: c.Kind,
		ONNX: engine.ONNXConfig{
			ModelPath:      c.ONNX.ModelPath,
			SharedLibrary:  c.ONNX.SharedLibrary,
			ContentInput:   c.ONNX.ContentInput,
			StyleInput:     c.ONNX.StyleInput,
			Output:         c.ONNX.Output,
			IntraOpThreads: c.ONNX.IntraOpThreads,
		},
		TFServing: engine.TFServingConfig{
			BaseURL:      c.TFServing.BaseURL,
			Model:        c.TFServing.Model,
			ContentInput: c.TFServing.ContentInput,
			StyleInput:   c.TFServing.StyleInput,
			Output:       c.TFServing.Output,
			Timeout:      c.TFServing.Timeout,
		},
	}
}

func (c ImageConfig) PipelineOptions() pipeline.Options {
	return pipeline.Options{Filter: c.Filter, AutoOrient: c.AutoOrient}
}
