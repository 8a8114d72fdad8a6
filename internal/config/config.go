package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Vision    VisionConfig    `yaml:"vision"`
	OCR       OCRConfig       `yaml:"ocr"`
	Access    AccessConfig    `yaml:"access"`
	Forward   ForwardConfig   `yaml:"forward"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	APIKey         string   `yaml:"api_key"`
	APIKeys        []string `yaml:"api_keys"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
}

// Keys returns every accepted API key. api_key and api_keys are merged so a
// new key can be added before the old one is retired.
func (s ServerConfig) Keys() []string {
	keys := make([]string, 0, len(s.APIKeys)+1)
	if s.APIKey != "" {
		keys = append(keys, s.APIKey)
	}
	return append(keys, s.APIKeys...)
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
	Migrate  bool   `yaml:"migrate"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// RedisConfig configures the snapshot cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	ONNXLibrary        string  `yaml:"onnx_library"`
	DetectorModel      string  `yaml:"detector_model"`
	EmbedderModel      string  `yaml:"embedder_model"`
	EmbedderInput      string  `yaml:"embedder_input"`
	EmbedderOutput     string  `yaml:"embedder_output"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	InputSize          int     `yaml:"input_size"`
	EmbedderInputSize  int     `yaml:"embedder_input_size"`
	CropPadding        float64 `yaml:"crop_padding"`
}

type OCRConfig struct {
	URL     string        `yaml:"url"`
	Country string        `yaml:"country"`
	Timeout time.Duration `yaml:"timeout"`
}

type AccessConfig struct {
	FaceThreshold    float64  `yaml:"face_threshold"`
	EmbeddingDim     int      `yaml:"embedding_dim"`
	AmbiguityEpsilon *float64 `yaml:"ambiguity_epsilon"`
	PlateCorrection  *bool    `yaml:"plate_correction"`
	StoreCaptures    bool     `yaml:"store_captures"`
	PublishDecisions bool     `yaml:"publish_decisions"`
}

const defaultAmbiguityEpsilon = 0.001

// Epsilon returns the ambiguity gap. Unset means the default; 0 disables the
// check.
func (a AccessConfig) Epsilon() float64 {
	if a.AmbiguityEpsilon == nil {
		return defaultAmbiguityEpsilon
	}
	return *a.AmbiguityEpsilon
}

// CorrectionEnabled reports whether OCR confusable correction is on. It
// defaults to true when unset.
func (a AccessConfig) CorrectionEnabled() bool {
	return a.PlateCorrection == nil || *a.PlateCorrection
}

type ForwardConfig struct {
	Enabled     bool          `yaml:"enabled"`
	URL         string        `yaml:"url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxDeliver  int           `yaml:"max_deliver"`
	Workers     int           `yaml:"workers"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the access core cannot run with.
func (c *Config) Validate() error {
	if c.Access.EmbeddingDim <= 0 {
		return fmt.Errorf("access.embedding_dim must be positive, got %d", c.Access.EmbeddingDim)
	}
	if c.Access.FaceThreshold <= 0 {
		return fmt.Errorf("access.face_threshold must be positive, got %v", c.Access.FaceThreshold)
	}
	if c.Access.Epsilon() < 0 {
		return fmt.Errorf("access.ambiguity_epsilon must not be negative, got %v", c.Access.Epsilon())
	}
	if c.Forward.Enabled && c.Forward.URL == "" {
		return fmt.Errorf("forward.url is required when forwarding is enabled")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 10
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = 10 * time.Minute
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "guarda"
	}
	if cfg.Vision.DetectorModel == "" {
		cfg.Vision.DetectorModel = "det_10g.onnx"
	}
	if cfg.Vision.EmbedderModel == "" {
		cfg.Vision.EmbedderModel = "face_embedder.onnx"
	}
	if cfg.Vision.EmbedderInput == "" {
		cfg.Vision.EmbedderInput = "input.1"
	}
	if cfg.Vision.EmbedderOutput == "" {
		cfg.Vision.EmbedderOutput = "683"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.InputSize == 0 {
		cfg.Vision.InputSize = 640
	}
	if cfg.Vision.EmbedderInputSize == 0 {
		cfg.Vision.EmbedderInputSize = 112
	}
	if cfg.Vision.CropPadding == 0 {
		cfg.Vision.CropPadding = 0.2
	}
	if cfg.OCR.Country == "" {
		cfg.OCR.Country = "br"
	}
	if cfg.OCR.Timeout == 0 {
		cfg.OCR.Timeout = 10 * time.Second
	}
	if cfg.Access.FaceThreshold == 0 {
		cfg.Access.FaceThreshold = 0.6
	}
	if cfg.Access.EmbeddingDim == 0 {
		cfg.Access.EmbeddingDim = 128
	}
	if cfg.Forward.Timeout == 0 {
		cfg.Forward.Timeout = 5 * time.Second
	}
	if cfg.Forward.MaxDeliver == 0 {
		cfg.Forward.MaxDeliver = 5
	}
	if cfg.Forward.Workers == 0 {
		cfg.Forward.Workers = 2
	}
	if cfg.Forward.MetricsAddr == "" {
		cfg.Forward.MetricsAddr = ":8082"
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GUARDA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GUARDA_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("GUARDA_API_KEYS"); v != "" {
		cfg.Server.APIKeys = strings.Split(v, ",")
	}
	if v := os.Getenv("GUARDA_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("GUARDA_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("GUARDA_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("GUARDA_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("GUARDA_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("GUARDA_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("GUARDA_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("GUARDA_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("GUARDA_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("GUARDA_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("GUARDA_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("GUARDA_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("GUARDA_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("GUARDA_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("GUARDA_ONNX_LIBRARY"); v != "" {
		cfg.Vision.ONNXLibrary = v
	}
	if v := os.Getenv("GUARDA_OCR_URL"); v != "" {
		cfg.OCR.URL = v
	}
	if v := os.Getenv("GUARDA_FACE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Access.FaceThreshold = f
		}
	}
	if v := os.Getenv("GUARDA_EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Access.EmbeddingDim = n
		}
	}
	if v := os.Getenv("GUARDA_AMBIGUITY_EPSILON"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Access.AmbiguityEpsilon = &f
		}
	}
	if v := os.Getenv("GUARDA_PLATE_CORRECTION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Access.PlateCorrection = &b
		}
	}
	if v := os.Getenv("GUARDA_FORWARD_URL"); v != "" {
		cfg.Forward.URL = v
		cfg.Forward.Enabled = true
	}
	if v := os.Getenv("GUARDA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
