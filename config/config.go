// Package config loads connection-core settings from the process
// environment, optionally pre-populated from a .env file via godotenv —
// the teacher's go.mod already names this dependency; this package is
// where it's actually exercised, following the same os.Getenv-with-
// defaults style the teacher uses throughout rtmp_server.go and
// redis_cmds.go.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the tunables the demo binary reads at startup (spec.md
// §4.5, §4.6, §6 defaults). The admin listener and the control-plane
// client read their own environment variables and do not use it.
type Config struct {
	BindAddress string
	RTMPPort    int

	TLSEnabled  bool
	TLSCertPath string
	TLSKeyPath  string

	HandshakeTimeout  time.Duration
	KeepAliveInterval time.Duration
	MaxInactivity     time.Duration

	WorkerPoolSize             int
	WorkerQueueSize            int
	WorkerSubmitsPerSecond     float64
	QueueThresholdForAudioDrop int
	MaxHandlingTimeout         time.Duration

	BytesReadInterval uint64

	ControlBaseURL string
	ControlSecret  string

	CallbackURL        string
	CallbackJWTSecret  string
	CallbackJWTSubject string
}

// Load reads a .env file if present (missing is not an error, matching
// godotenv's own semantics) then builds a Config from the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	c := &Config{
		BindAddress:                os.Getenv("BIND_ADDRESS"),
		RTMPPort:                   envInt("RTMP_PORT", 1935),
		TLSEnabled:                 os.Getenv("RTMP_SSL") == "YES",
		TLSCertPath:                os.Getenv("SSL_CERT_PATH"),
		TLSKeyPath:                 os.Getenv("SSL_KEY_PATH"),
		HandshakeTimeout:           envDuration("HANDSHAKE_TIMEOUT_MS", 5_000),
		KeepAliveInterval:          envDuration("KEEP_ALIVE_INTERVAL_MS", 5_000),
		MaxInactivity:              envDuration("MAX_INACTIVITY_MS", 60_000),
		WorkerPoolSize:             envInt("WORKER_POOL_SIZE", 8),
		WorkerQueueSize:            envInt("WORKER_QUEUE_SIZE", 256),
		WorkerSubmitsPerSecond:     envFloat("WORKER_SUBMITS_PER_SECOND", 500),
		QueueThresholdForAudioDrop: envInt("AUDIO_DROP_QUEUE_THRESHOLD", 64),
		MaxHandlingTimeout:         envDuration("MAX_HANDLING_TIMEOUT_MS", 5_000),
		BytesReadInterval:          uint64(envInt("BYTES_READ_INTERVAL", 1<<20)),
		ControlBaseURL:             os.Getenv("CONTROL_BASE_URL"),
		ControlSecret:              os.Getenv("CONTROL_SECRET"),
		CallbackURL:                os.Getenv("CALLBACK_URL"),
		CallbackJWTSecret:          os.Getenv("JWT_SECRET"),
		CallbackJWTSubject:         os.Getenv("CUSTOM_JWT_SUBJECT"),
	}
	return c, nil
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(name string, defMs int) time.Duration {
	return time.Duration(envInt(name, defMs)) * time.Millisecond
}

func envFloat(name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
