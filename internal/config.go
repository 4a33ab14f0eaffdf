package internal

import (
	"fmt"
	"strings"
	"time"
)

const (
	StoreBadger   = "badger"
	StorePostgres = "postgres"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	Store          string `env:"STORE,default=badger"`
	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/badger"`
	PostgresDSN    string `env:"POSTGRES_DSN"`
	MaxRetries     int    `env:"MAX_RETRIES,default=5"`

	IdentityURL      string        `env:"IDENTITY_URL"`
	IdentityFile     string        `env:"IDENTITY_FILE"`
	IdentityTimeout  time.Duration `env:"IDENTITY_TIMEOUT,default=2s"`
	IdentityCacheTTL time.Duration `env:"IDENTITY_CACHE_TTL,default=0s"`
	IdentityCacheMax int           `env:"IDENTITY_CACHE_MAX_ENTRIES,default=10000"`
	RedisURL         string        `env:"REDIS_URL"`
	ListTimeout      time.Duration `env:"LIST_TIMEOUT,default=3s"`

	MaxContentLength int           `env:"MAX_CONTENT_LENGTH,default=4000"`
	NumberOfWorkers  int           `env:"NUMBER_OF_WORKERS,default=8"`
	BufferSize       int           `env:"BUFFER_SIZE,default=1024"`
	SinkTimeout      time.Duration `env:"SINK_TIMEOUT,default=2s"`
	MetricInterval   time.Duration `env:"METRIC_INTERVAL,default=30s"`

	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=128"`
	InflightTimeout      time.Duration `env:"INFLIGHT_TIMEOUT,default=5s"`
	ReadTimeout          time.Duration `env:"WS_READ_TIMEOUT,default=60s"`

	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`

	Host      string `env:"HOST,default=0.0.0.0"`
	Port      int    `env:"PORT,default=8080"`
	GrpcPort  int    `env:"GRPC_PORT,default=9090"`
	DebugPort int    `env:"DEBUG_PORT,default=8081"`
}

// Validate checks the combinations the env decoder cannot express.
func (c Config) Validate() error {
	switch strings.ToLower(c.Store) {
	case StoreBadger:
		if c.BadgerFilepath == "" {
			return fmt.Errorf("BADGER_FILEPATH is required with STORE=%s", StoreBadger)
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required with STORE=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StoreBadger, StorePostgres, c.Store)
	}
	if c.IdentityURL == "" && c.IdentityFile == "" {
		return fmt.Errorf("one of IDENTITY_URL or IDENTITY_FILE is required")
	}
	if c.NumberOfWorkers < 1 || c.BufferSize < 1 {
		return fmt.Errorf("NUMBER_OF_WORKERS and BUFFER_SIZE must be positive")
	}
	if c.MaxContentLength < 1 {
		return fmt.Errorf("MAX_CONTENT_LENGTH must be positive, got %d", c.MaxContentLength)
	}
	return nil
}
