package config

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config holds the daemon configuration. Environment variables win over
// defaults; flags win over both.
type Config struct {
	DBPath       string `env:"CLIPD_DB_PATH"`
	IngestSocket string `env:"CLIPD_INGEST_SOCKET"`
	ClientSocket string `env:"CLIPD_CLIENT_SOCKET"`
	HTTPAddr     string `env:"CLIPD_HTTP_ADDR"`

	MaxItems         int           `env:"CLIPD_MAX_ITEMS"`
	PollInterval     time.Duration `env:"CLIPD_POLL_INTERVAL"`
	ThumbnailWorkers int           `env:"CLIPD_THUMBNAIL_WORKERS"`
	ThumbnailMaxEdge int           `env:"CLIPD_THUMBNAIL_MAX_EDGE"`
	QueueSize        int           `env:"CLIPD_QUEUE_SIZE"`

	Production bool `env:"CLIPD_PRODUCTION"`
}

// New loads configuration from .env, the environment, and flags.
func New() *Config {
	_ = godotenv.Load()

	cfg := &Config{}
	_ = env.Parse(cfg)

	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the SQLite database")
	flag.StringVar(&cfg.IngestSocket, "ingest-socket", cfg.IngestSocket, "unix socket for the capture client")
	flag.StringVar(&cfg.ClientSocket, "client-socket", cfg.ClientSocket, "unix socket for subscriber connections")
	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "address of the status/websocket HTTP server")
	flag.IntVar(&cfg.MaxItems, "max-items", cfg.MaxItems, "retention ceiling for non-favorite items")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "change-detection poll interval")
	flag.IntVar(&cfg.ThumbnailWorkers, "thumbnail-workers", cfg.ThumbnailWorkers, "thumbnail worker pool size")
	flag.BoolVar(&cfg.Production, "production", cfg.Production, "use production logging")
	flag.Parse()

	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	home, _ := os.UserHomeDir()
	baseDir := filepath.Join(home, ".clipd")

	if c.DBPath == "" {
		c.DBPath = filepath.Join(baseDir, "clipd.db")
	}
	if c.IngestSocket == "" {
		c.IngestSocket = filepath.Join(baseDir, "ingest.sock")
	}
	if c.ClientSocket == "" {
		c.ClientSocket = filepath.Join(baseDir, "clients.sock")
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = "localhost:7390"
	}
	if c.MaxItems <= 0 {
		c.MaxItems = 500
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.ThumbnailWorkers <= 0 {
		c.ThumbnailWorkers = 2
	}
	if c.ThumbnailMaxEdge <= 0 {
		c.ThumbnailMaxEdge = 250
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
}

// BaseDir is the directory holding the database and sockets.
func (c *Config) BaseDir() string {
	return filepath.Dir(c.DBPath)
}
