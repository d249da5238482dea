package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/prappser/prappser_media/internal/bus"
	"github.com/prappser/prappser_media/internal/database"
	"github.com/prappser/prappser_media/internal/logging"
	"github.com/prappser/prappser_media/internal/middleware"
	"github.com/prappser/prappser_media/internal/migration"
	"github.com/prappser/prappser_media/internal/storage"
	"github.com/prappser/prappser_media/internal/thumbnail"
)

const (
	defaultConfigFile = "files/config.yaml"
	configFileEnv     = "MEDIA_CONFIG"
	envPrefix         = "MEDIA"
)

type Config struct {
	Server     ServerConfig          `mapstructure:"server"`
	Log        logging.Config        `mapstructure:"log"`
	Database   database.Config       `mapstructure:"database"`
	Storage    StorageConfig         `mapstructure:"storage"`
	Thumbnails thumbnail.Config      `mapstructure:"thumbnails"`
	Migration  migration.Config      `mapstructure:"migration"`
	NATS       bus.Config            `mapstructure:"nats"`
	Auth       middleware.AuthConfig `mapstructure:"auth"`
	CORS       CORSConfig            `mapstructure:"cors"`
}

type ServerConfig struct {
	Addr               string        `mapstructure:"addr"`
	MediaPrefix        string        `mapstructure:"media_prefix"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	MaxRequestBodySize int           `mapstructure:"max_request_body_size"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	Standard storage.BackendConfig `mapstructure:"standard"`
	Cold     storage.BackendConfig `mapstructure:"cold"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoadConfig reads .env, then the YAML file named by MEDIA_CONFIG (default
// files/config.yaml), then MEDIA_* environment overrides such as
// MEDIA_THUMBNAILS_WORKERS. A missing default file is not an error.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	path := os.Getenv(configFileEnv)
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}
	return loadConfig(path, explicit)
}

func loadConfig(path string, required bool) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Warn().Str("path", path).Msg("Config file not found, using defaults and environment")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case database.DriverSQLite3, database.DriverPostgres:
	default:
		return fmt.Errorf("database.driver %q is not sqlite3 or postgres", c.Database.Driver)
	}
	for name, backend := range map[string]storage.BackendConfig{"standard": c.Storage.Standard, "cold": c.Storage.Cold} {
		switch backend.Type {
		case storage.StorageTypeLocal:
			if backend.LocalPath == "" {
				return fmt.Errorf("storage.%s.local_path is required", name)
			}
		case storage.StorageTypeS3:
			if backend.S3Bucket == "" || backend.S3Endpoint == "" {
				return fmt.Errorf("storage.%s needs s3_endpoint and s3_bucket", name)
			}
		default:
			return fmt.Errorf("storage.%s.type %q is not local or s3", name, backend.Type)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.media_prefix", "/media")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "2m")
	v.SetDefault("server.max_request_body_size", 1<<20)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", database.DriverSQLite3)
	v.SetDefault("database.dsn", "")

	v.SetDefault("storage.standard.type", string(storage.StorageTypeLocal))
	v.SetDefault("storage.standard.local_path", "./storage/standard")
	v.SetDefault("storage.standard.s3_endpoint", "")
	v.SetDefault("storage.standard.s3_bucket", "")
	v.SetDefault("storage.standard.s3_access_key", "")
	v.SetDefault("storage.standard.s3_secret_key", "")
	v.SetDefault("storage.standard.s3_region", "")
	v.SetDefault("storage.standard.s3_use_ssl", false)
	v.SetDefault("storage.cold.type", string(storage.StorageTypeLocal))
	v.SetDefault("storage.cold.local_path", "./storage/cold")
	v.SetDefault("storage.cold.s3_endpoint", "")
	v.SetDefault("storage.cold.s3_bucket", "")
	v.SetDefault("storage.cold.s3_access_key", "")
	v.SetDefault("storage.cold.s3_secret_key", "")
	v.SetDefault("storage.cold.s3_region", "")
	v.SetDefault("storage.cold.s3_use_ssl", false)

	t := thumbnail.DefaultConfig()
	v.SetDefault("thumbnails.workers", t.Workers)
	v.SetDefault("thumbnails.max_attempts", t.MaxAttempts)
	v.SetDefault("thumbnails.max_queue_depth", t.MaxQueueDepth)
	v.SetDefault("thumbnails.fetch_timeout", t.FetchTimeout)
	v.SetDefault("thumbnails.poll_interval", t.PollInterval)
	v.SetDefault("thumbnails.retry_base_delay", t.RetryBaseDelay)
	v.SetDefault("thumbnails.retry_max_delay", t.RetryMaxDelay)
	v.SetDefault("thumbnails.stale_after", t.StaleAfter)
	v.SetDefault("thumbnails.width", t.Width)
	v.SetDefault("thumbnails.height", t.Height)
	v.SetDefault("thumbnails.jpeg_quality", t.JPEGQuality)
	v.SetDefault("thumbnails.frame_offset", t.FrameOffset)
	v.SetDefault("thumbnails.ffmpeg_path", t.FFmpegPath)

	m := migration.DefaultConfig()
	v.SetDefault("migration.enabled", m.Enabled)
	v.SetDefault("migration.interval", m.Interval)
	v.SetDefault("migration.cold_after", m.ColdAfter)
	v.SetDefault("migration.batch_size", m.BatchSize)
	v.SetDefault("migration.batch_concurrency", m.BatchConcurrency)
	v.SetDefault("migration.copy_timeout_floor", m.CopyTimeoutFloor)
	v.SetDefault("migration.assumed_throughput", m.AssumedThroughput)
	v.SetDefault("migration.stale_after", m.StaleAfter)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.uploaded_subject", "media.uploaded")
	v.SetDefault("nats.done_subject", "media.thumbnail.done")
	v.SetDefault("nats.queue_group", "media-thumbnails")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "prappser-media")

	v.SetDefault("cors.allowed_origins", []string{"*"})
}
