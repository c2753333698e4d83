package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the broker reads from the environment.
// godotenv loading happens in main; everything here falls back to the
// defaults the cluster is provisioned with.
type Config struct {
	ListenAddr string

	DatabaseURL string
	RedisAddr   string

	TotalSlots     int
	BaseRconPort   int
	BaseUDPPort    int
	RconPassword   string
	RconTimeout    time.Duration
	ServerHost     string
	SessionTimeout time.Duration

	ScorePollInterval time.Duration
	SweepInterval     time.Duration

	SavesDir    string
	FLESavesDir string
	SaveSettle  time.Duration

	StreamBaseURL  string
	StreamBasePort int

	// Optional S3-compatible archive for finished save files.
	ArchiveBucket    string
	ArchiveAccountID string
	ArchiveKeyID     string
	ArchiveKeySecret string
}

func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		TotalSlots:        getEnvInt("TOTAL_SLOTS", 20),
		BaseRconPort:      getEnvInt("BASE_RCON_PORT", 27000),
		BaseUDPPort:       getEnvInt("BASE_UDP_PORT", 34197),
		RconPassword:      getEnv("RCON_PASSWORD", "factorio"),
		RconTimeout:       getEnvDuration("RCON_TIMEOUT", 5*time.Second),
		ServerHost:        getEnv("SERVER_HOST", "localhost"),
		SessionTimeout:    getEnvDuration("SESSION_TIMEOUT", 2*time.Hour),
		ScorePollInterval: getEnvDuration("SCORE_POLL_INTERVAL", 30*time.Second),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", time.Minute),
		SavesDir:          getEnv("SAVES_DIR", "/var/broker/saves"),
		FLESavesDir:       getEnv("FLE_SAVES_DIR", "/var/broker/fle/saves"),
		SaveSettle:        getEnvDuration("SAVE_SETTLE", 2*time.Second),
		StreamBaseURL:     getEnv("STREAM_BASE_URL", "https://localhost"),
		StreamBasePort:    getEnvInt("STREAM_BASE_PORT", 3003),
		ArchiveBucket:     os.Getenv("ARCHIVE_BUCKET_NAME"),
		ArchiveAccountID:  os.Getenv("ARCHIVE_ACCOUNT_ID"),
		ArchiveKeyID:      os.Getenv("ARCHIVE_ACCESS_KEY_ID"),
		ArchiveKeySecret:  os.Getenv("ARCHIVE_ACCESS_KEY_SECRET"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if cfg.TotalSlots <= 0 {
		return nil, fmt.Errorf("TOTAL_SLOTS must be positive, got %d", cfg.TotalSlots)
	}

	return cfg, nil
}

// RconAddr returns the RCON endpoint for a slot.
func (c *Config) RconAddr(slot int) string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.BaseRconPort+slot)
}

// UDPPort returns the game client port for a slot.
func (c *Config) UDPPort(slot int) int {
	return c.BaseUDPPort + slot
}

// StreamURL returns the spectator stream URL for a slot. Slot 0 maps to
// StreamBasePort, slot 1 to StreamBasePort+1, and so on.
func (c *Config) StreamURL(slot int) string {
	return fmt.Sprintf("%s:%d/", c.StreamBaseURL, c.StreamBasePort+slot)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
