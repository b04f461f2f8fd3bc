// Package config provides centralized configuration management for the import
// API and the import workers. It loads configuration from environment variables
// with sensible defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Staging  StagingConfig
	Storage  StorageConfig
	Worker   WorkerConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// TrustedProxies lists proxy CIDRs whose X-Real-IP/X-Forwarded-For headers
	// are believed (comma-separated, default: none)
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// DatabaseConfig holds job store settings.
type DatabaseConfig struct {
	// Driver selects the job store: postgres or sqlite (default: postgres)
	Driver string `env:"DB_DRIVER" default:"postgres"`

	// URL is the PostgreSQL connection string, required for the postgres driver.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// SQLitePath is the database file for the sqlite driver (default: data/imports.db)
	SQLitePath string `env:"SQLITE_PATH" default:"data/imports.db"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// RedisConfig holds the queue broker connection settings.
type RedisConfig struct {
	// Addr is the Redis host:port (required)
	Addr string `env:"REDIS_ADDR" envAlt:"REDIS_HOST" required:"true"`

	// Password is the Redis AUTH password
	Password string `env:"REDIS_PASSWORD"`

	// DB is the Redis logical database (default: 0)
	DB int `env:"REDIS_DB" default:"0"`

	// PoolSize is the maximum number of socket connections (default: 10)
	PoolSize int `env:"REDIS_POOL_SIZE" default:"10"`

	// DialTimeout bounds connection establishment (default: 5s)
	DialTimeout time.Duration `env:"REDIS_DIAL_TIMEOUT" default:"5s"`
}

// QueueConfig holds import queue transport settings.
type QueueConfig struct {
	// Mode is the transport: stream (pull, acknowledged) or pubsub (broadcast) (default: stream)
	Mode string `env:"QUEUE_MODE" default:"stream"`

	// Name is the stream key or pub/sub channel (default: imports:productos)
	Name string `env:"QUEUE_NAME" envAlt:"QUEUE_CHANNEL" default:"imports:productos"`

	// Group is the stream consumer group (default: import-workers)
	Group string `env:"QUEUE_GROUP" default:"import-workers"`

	// Consumer names this worker inside the group (default: hostname-pid)
	Consumer string `env:"QUEUE_CONSUMER"`

	// Block is how long one receive waits for a message (default: 5s)
	Block time.Duration `env:"QUEUE_BLOCK" default:"5s"`

	// VisibilityTimeout is how long an unacknowledged message stays with its
	// consumer before another may claim it (default: 15m)
	VisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT" default:"15m"`

	// MaxDeliveries dead-letters a message after this many deliveries, 0 disables (default: 5)
	MaxDeliveries int64 `env:"QUEUE_MAX_DELIVERIES" default:"5"`
}

// StagingConfig holds local upload staging settings.
type StagingConfig struct {
	// Dir is where uploaded files are staged (default: uploads/imports)
	Dir string `env:"STAGING_DIR" envAlt:"UPLOAD_DIR" default:"uploads/imports"`

	// MaxFileSize is the maximum allowed file size in bytes (default: 50MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"52428800"`

	// MaxConcurrent is the maximum number of parallel uploads (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an upload slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// Remote stores uploads in the object storage bucket instead of the
	// local staging directory (default: false)
	Remote bool `env:"STAGING_REMOTE" default:"false"`
}

// StorageConfig holds object storage settings.
type StorageConfig struct {
	// Dir is the root of the directory bucket (default: data/bucket)
	Dir string `env:"STORAGE_DIR" default:"data/bucket"`

	// KeyPrefix is prepended to object keys of uploaded imports (default: imports)
	KeyPrefix string `env:"STORAGE_KEY_PREFIX" default:"imports"`
}

// WorkerConfig holds import worker settings.
type WorkerConfig struct {
	// MaxRetries is how many times a failed job may be requeued (default: 3)
	MaxRetries int `env:"MAX_RETRIES" envAlt:"WORKER_MAX_RETRIES" default:"3"`

	// VisibilityExtendInterval is the minimum time between visibility
	// extensions of a pull delivery during a long import (default: 1m)
	VisibilityExtendInterval time.Duration `env:"WORKER_VISIBILITY_EXTEND_INTERVAL" default:"1m"`

	// ProgressEvery is how many rows pass between progress writes (default: 50)
	ProgressEvery int `env:"WORKER_PROGRESS_EVERY" default:"50"`

	// ErrorBackoff is the pause after a failed receive (default: 2s)
	ErrorBackoff time.Duration `env:"WORKER_ERROR_BACKOFF" default:"2s"`

	// KeepStaged leaves local staged files in place after a completed import
	KeepStaged bool `env:"WORKER_KEEP_STAGED" default:"false"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`

	// File additionally writes logs to this rotated file when set
	File string `env:"LOG_FILE"`

	// MaxSizeMB is the size at which the log file is rotated (default: 100)
	MaxSizeMB int `env:"LOG_MAX_SIZE_MB" default:"100"`

	// MaxBackups is how many rotated files are kept (default: 5)
	MaxBackups int `env:"LOG_MAX_BACKUPS" default:"5"`

	// MaxAgeDays is how long rotated files are kept (default: 28)
	MaxAgeDays int `env:"LOG_MAX_AGE_DAYS" default:"28"`

	// Compress gzips rotated files (default: true)
	Compress bool `env:"LOG_COMPRESS" default:"true"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// ConsumerName returns Consumer, or hostname-pid when unset.
func (c *QueueConfig) ConsumerName() string {
	if c.Consumer != "" {
		return c.Consumer
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}
