package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	ListenAddr    string `env:"LISTEN_ADDR" envDefault:":3002"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:3002"`
	JWTSecret     string `env:"JWT_SECRET"`

	Storage StorageConfig
	Blobs   BlobConfig

	MaxUploadBytes     int64    `env:"MAX_UPLOAD_BYTES" envDefault:"26214400"`
	FeedBufferSize     int      `env:"FEED_BUFFER_SIZE" envDefault:"64"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:*,http://127.0.0.1:*"`
}

type StorageConfig struct {
	// Type is memory, sqlite or postgres.
	Type           string `env:"STORAGE_TYPE" envDefault:"memory"`
	DataSourceName string `env:"DATA_SOURCE_NAME" envDefault:"study-circles.db"`
	PostgresURL    string `env:"POSTGRES_URL"`
}

type BlobConfig struct {
	// Type is memory, filesystem or s3.
	Type             string `env:"BLOB_STORAGE_TYPE" envDefault:"memory"`
	LocalStoragePath string `env:"LOCAL_STORAGE_PATH" envDefault:"./data"`
	S3BucketName     string `env:"S3_BUCKET_NAME"`
	S3PublicBaseURL  string `env:"S3_PUBLIC_BASE_URL"`
}

// BlobBaseURL is where the service itself serves memory and filesystem blobs.
func (c *Config) BlobBaseURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/api/blobs"
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found")
	}
	return Parse()
}

func Parse() (*Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch c.Storage.Type {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("POSTGRES_URL must be set for postgres storage")
		}
	default:
		return fmt.Errorf("unknown STORAGE_TYPE %q", c.Storage.Type)
	}

	switch c.Blobs.Type {
	case "memory", "filesystem":
	case "s3":
		if c.Blobs.S3BucketName == "" {
			return fmt.Errorf("S3_BUCKET_NAME must be set for s3 blob storage")
		}
	default:
		return fmt.Errorf("unknown BLOB_STORAGE_TYPE %q", c.Blobs.Type)
	}

	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}
