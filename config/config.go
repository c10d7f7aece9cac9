package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/feichai0017/batchsheet-processor/pkg/logger"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Worker   WorkerConfig   `yaml:"worker"`
	OCR      OCRConfig      `yaml:"ocr"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      logger.Config  `yaml:"log"`
}

type ServerConfig struct {
	Port           string   `yaml:"port"`
	Mode           string   `yaml:"mode"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type IngestConfig struct {
	PersistImages     bool          `yaml:"persistImages"`
	AcceptPDF         bool          `yaml:"acceptPdf"`
	QueueImages       bool          `yaml:"queueImages"`
	MaxUploadBytes    int64         `yaml:"maxUploadBytes"`
	MaxPages          int           `yaml:"maxPages"`
	AllowedExtensions []string      `yaml:"allowedExtensions"`
	SignedURLTTL      time.Duration `yaml:"signedUrlTtl"`
	BatchConcurrency  int           `yaml:"batchConcurrency"`
}

type WorkerConfig struct {
	ID          string        `yaml:"id"`
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batchSize"`
	MaxAttempts int           `yaml:"maxAttempts"`
	LeaseTTL    time.Duration `yaml:"leaseTtl"`
	TempDir     string        `yaml:"tempDir"`
	Wake        bool          `yaml:"wake"`
}

type OCRConfig struct {
	// Engine is "tesseract" or "textract".
	Engine        string  `yaml:"engine"`
	Language      string  `yaml:"language"`
	MinConfidence float64 `yaml:"minConfidence"`
	Whitelist     string  `yaml:"whitelist"`
}

type StorageConfig struct {
	// Backend is "s3", "minio" or "memory".
	Backend string `yaml:"backend"`
	Prefix  string `yaml:"prefix"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver   string `yaml:"driver"`
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"maxConns"`
	Migrate  bool   `yaml:"migrate"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			Mode:           "release",
			AllowedOrigins: []string{"*"},
		},
		Ingest: IngestConfig{
			PersistImages:     true,
			AcceptPDF:         true,
			MaxUploadBytes:    50 << 20,
			MaxPages:          200,
			AllowedExtensions: []string{".pdf", ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif", ".webp"},
			SignedURLTTL:      60 * time.Second,
			BatchConcurrency:  4,
		},
		Worker: WorkerConfig{
			Interval:    30 * time.Second,
			BatchSize:   5,
			MaxAttempts: 3,
			LeaseTTL:    10 * time.Minute,
			Wake:        true,
		},
		OCR: OCRConfig{
			Engine:   "tesseract",
			Language: "eng",
		},
		Storage: StorageConfig{
			Backend: "minio",
			Prefix:  "batch-sheets",
		},
		Database: DatabaseConfig{
			Driver:   "postgres",
			MaxConns: 10,
			Migrate:  true,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Log: logger.DefaultConfig(),
	}
}

// Load reads the YAML file at path (if any) over the defaults, then applies
// environment overrides. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	loadDotEnv()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.OCR.Engine {
	case "tesseract", "textract":
	default:
		return fmt.Errorf("unknown ocr engine %q", c.OCR.Engine)
	}
	switch c.Storage.Backend {
	case "s3", "minio", "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Worker.BatchSize <= 0 {
		return errors.New("worker.batchSize must be positive")
	}
	if c.Worker.Interval <= 0 {
		return errors.New("worker.interval must be positive")
	}
	if c.Worker.MaxAttempts <= 0 {
		return errors.New("worker.maxAttempts must be positive")
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("PORT", &c.Server.Port)
	str("GIN_MODE", &c.Server.Mode)
	if v, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = splitList(v)
	}

	boolean("INGEST_PERSIST_IMAGES", &c.Ingest.PersistImages)
	boolean("INGEST_ACCEPT_PDF", &c.Ingest.AcceptPDF)
	boolean("INGEST_QUEUE_IMAGES", &c.Ingest.QueueImages)
	duration("INGEST_SIGNED_URL_TTL", &c.Ingest.SignedURLTTL)

	str("WORKER_ID", &c.Worker.ID)
	duration("WORKER_INTERVAL", &c.Worker.Interval)
	integer("WORKER_BATCH_SIZE", &c.Worker.BatchSize)
	integer("WORKER_MAX_ATTEMPTS", &c.Worker.MaxAttempts)
	duration("WORKER_LEASE_TTL", &c.Worker.LeaseTTL)
	str("WORKER_TEMP_DIR", &c.Worker.TempDir)

	str("OCR_ENGINE", &c.OCR.Engine)
	str("OCR_LANGUAGE", &c.OCR.Language)

	str("STORAGE_BACKEND", &c.Storage.Backend)
	str("DATABASE_DRIVER", &c.Database.Driver)
	str("DATABASE_URL", &c.Database.URL)

	boolean("REDIS_ENABLED", &c.Redis.Enabled)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	integer("REDIS_DB", &c.Redis.DB)

	str("LOG_LEVEL", &c.Log.Level)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
