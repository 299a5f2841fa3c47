package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const DefaultPath = "config/config.yaml"

// Environment overrides, applied after the YAML file and .env are read.
const (
	EnvPort           = "CREEL_PORT"
	EnvLogLevel       = "CREEL_LOG_LEVEL"
	EnvMySQLDSN       = "CREEL_MYSQL_DSN"
	EnvRedisAddr      = "CREEL_REDIS_ADDR"
	EnvRedisPassword  = "CREEL_REDIS_PASSWORD"
	EnvMinIOEndpoint  = "CREEL_MINIO_ENDPOINT"
	EnvMinIOAccessKey = "CREEL_MINIO_ACCESS_KEY"
	EnvMinIOSecretKey = "CREEL_MINIO_SECRET_KEY"
	EnvProviderURL    = "CREEL_PROVIDER_BASE_URL"
	EnvProviderKey    = "CREEL_PROVIDER_API_KEY"
	EnvPerImageRate   = "CREEL_PER_IMAGE_RATE"
	EnvPerSecondRate  = "CREEL_PER_SECOND_RATE"
)

type Config struct {
	Server struct {
		Port     string `yaml:"port"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	MinIO struct {
		Endpoint      string `yaml:"endpoint"`
		AccessKey     string `yaml:"access_key"`
		SecretKey     string `yaml:"secret_key"`
		Bucket        string `yaml:"bucket"`
		UseSSL        bool   `yaml:"use_ssl"`
		PublicBaseURL string `yaml:"public_base_url"`
	} `yaml:"minio"`
	Provider struct {
		BaseURL          string        `yaml:"base_url"`
		APIKey           string        `yaml:"api_key"`
		StyleModel       string        `yaml:"style_model"`
		ComposeModel     string        `yaml:"compose_model"`
		ComposeTextModel string        `yaml:"compose_text_model"`
		VideoModel       string        `yaml:"video_model"`
		RequestTimeout   time.Duration `yaml:"request_timeout"`
		WaitInterval     time.Duration `yaml:"wait_interval"`
		WaitTimeout      time.Duration `yaml:"wait_timeout"`
	} `yaml:"provider"`
	Pipeline struct {
		PerImageRate       int64         `yaml:"per_image_rate"`
		PerSecondRate      int64         `yaml:"per_second_rate"`
		MaxScenes          int           `yaml:"max_scenes"`
		MaxTotalDuration   int           `yaml:"max_total_duration"`
		MaxReferenceImages int           `yaml:"max_reference_images"`
		PollInterval       time.Duration `yaml:"poll_interval"`
		PollMaxAttempts    int           `yaml:"poll_max_attempts"`
		AspectRatio        string        `yaml:"aspect_ratio"`
		PersistVideos      bool          `yaml:"persist_videos"`
		FanoutLimit        int           `yaml:"fanout_limit"`
	} `yaml:"pipeline"`
	Worker struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"worker"`
}

// AppConfig is set by InitConfig for the command entry points only.
var AppConfig *Config

// Default returns a Config populated with the production defaults.
func Default() *Config {
	c := &Config{}
	c.Server.Port = ":8080"
	c.Server.LogLevel = "info"
	c.MinIO.Bucket = "character-reel"
	c.Provider.BaseURL = "https://api.kie.ai/api/v1"
	c.Provider.StyleModel = "google/nano-banana-edit"
	c.Provider.ComposeModel = "flux-2/pro-image-to-image"
	c.Provider.ComposeTextModel = "flux-2/pro-text-to-image"
	c.Provider.VideoModel = "kling/v2-5-turbo-image-to-video-pro"
	c.Provider.RequestTimeout = 60 * time.Second
	c.Provider.WaitInterval = 3 * time.Second
	c.Provider.WaitTimeout = 5 * time.Minute
	c.Pipeline.PerImageRate = 10
	c.Pipeline.PerSecondRate = 75
	c.Pipeline.MaxScenes = 3
	c.Pipeline.MaxTotalDuration = 15
	c.Pipeline.MaxReferenceImages = 8
	c.Pipeline.PollInterval = 5 * time.Second
	c.Pipeline.PollMaxAttempts = 180
	c.Pipeline.AspectRatio = "9:16"
	c.Pipeline.FanoutLimit = 4
	c.Worker.Concurrency = 5
	return c
}

// Load reads the YAML file at path over the defaults, then applies .env and
// environment overrides. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InitConfig loads path into AppConfig.
func InitConfig(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(EnvPort, &c.Server.Port)
	setString(EnvLogLevel, &c.Server.LogLevel)
	setString(EnvMySQLDSN, &c.MySQL.DSN)
	setString(EnvRedisAddr, &c.Redis.Addr)
	setString(EnvRedisPassword, &c.Redis.Password)
	setString(EnvMinIOEndpoint, &c.MinIO.Endpoint)
	setString(EnvMinIOAccessKey, &c.MinIO.AccessKey)
	setString(EnvMinIOSecretKey, &c.MinIO.SecretKey)
	setString(EnvProviderURL, &c.Provider.BaseURL)
	setString(EnvProviderKey, &c.Provider.APIKey)

	for key, dst := range map[string]*int64{
		EnvPerImageRate:  &c.Pipeline.PerImageRate,
		EnvPerSecondRate: &c.Pipeline.PerSecondRate,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

// Validate reports the first missing or out-of-range setting.
func (c *Config) Validate() error {
	switch {
	case c.MySQL.DSN == "":
		return fmt.Errorf("mysql.dsn is required")
	case c.Redis.Addr == "":
		return fmt.Errorf("redis.addr is required")
	case c.MinIO.Endpoint == "" || c.MinIO.Bucket == "":
		return fmt.Errorf("minio.endpoint and minio.bucket are required")
	case c.MinIO.PublicBaseURL == "":
		return fmt.Errorf("minio.public_base_url is required; stored artifact urls must not expire")
	case c.Provider.BaseURL == "":
		return fmt.Errorf("provider.base_url is required")
	case c.Pipeline.PerImageRate < 0 || c.Pipeline.PerSecondRate < 0:
		return fmt.Errorf("pipeline rates must not be negative")
	case c.Pipeline.MaxScenes < 1:
		return fmt.Errorf("pipeline.max_scenes must be at least 1")
	case c.Pipeline.MaxTotalDuration < 1:
		return fmt.Errorf("pipeline.max_total_duration must be at least 1")
	case c.Pipeline.MaxReferenceImages < 1:
		return fmt.Errorf("pipeline.max_reference_images must be at least 1")
	case c.Pipeline.PollMaxAttempts < 1:
		return fmt.Errorf("pipeline.poll_max_attempts must be at least 1")
	}
	return nil
}
