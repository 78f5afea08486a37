package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Vision   VisionConfig   `yaml:"vision"`
	Identity IdentityConfig `yaml:"identity"`
	Enrich   EnrichConfig   `yaml:"enrich"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
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
	DetectionThreshold float64 `yaml:"detection_threshold"`
	EmbeddingDim       int     `yaml:"embedding_dim"`
}

// IdentityConfig holds the enrollment/verification policy knobs.
type IdentityConfig struct {
	// ReferencePrefix is the object-store prefix holding the permanent
	// copies of registered reference images.
	ReferencePrefix string `yaml:"reference_prefix"`
	// MatchThreshold is the cosine-distance cutoff for a verify decision.
	// Calibrated for the 512-d embedding backbone; recalibrate if the
	// embedding model changes.
	MatchThreshold float64 `yaml:"match_threshold"`
}

type EnrichConfig struct {
	OutputDir   string `yaml:"output_dir"`
	RunName     string `yaml:"run_name"`
	MinMP4Bytes int64  `yaml:"min_mp4_bytes"`
	DeleteAVI   bool   `yaml:"delete_avi"`
	FPS         int    `yaml:"fps"`
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

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.EmbeddingDim == 0 {
		cfg.Vision.EmbeddingDim = 512
	}
	if cfg.Identity.ReferencePrefix == "" {
		cfg.Identity.ReferencePrefix = "registered_faces"
	}
	if cfg.Identity.MatchThreshold == 0 {
		cfg.Identity.MatchThreshold = 0.4
	}
	if cfg.Enrich.OutputDir == "" {
		cfg.Enrich.OutputDir = "enrich_outputs"
	}
	if cfg.Enrich.RunName == "" {
		cfg.Enrich.RunName = "person"
	}
	if cfg.Enrich.MinMP4Bytes == 0 {
		cfg.Enrich.MinMP4Bytes = 1024
	}
	if cfg.Enrich.FPS == 0 {
		cfg.Enrich.FPS = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VISAGE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VISAGE_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("VISAGE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("VISAGE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("VISAGE_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("VISAGE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("VISAGE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("VISAGE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("VISAGE_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("VISAGE_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("VISAGE_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("VISAGE_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("VISAGE_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("VISAGE_ENRICH_OUTPUT_DIR"); v != "" {
		cfg.Enrich.OutputDir = v
	}
	if v := os.Getenv("VISAGE_MATCH_THRESHOLD"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Identity.MatchThreshold = t
		}
	}
}
