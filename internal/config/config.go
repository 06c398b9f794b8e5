// Package config loads the harness configuration from the environment. The
// access core itself takes no configuration; everything here only shapes how
// the standalone binary runs it.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is the harness runtime configuration.
type Config struct {
	LogLevel  string
	LogFormat string

	MetricsAddr string

	// UseDBus selects the real session-bus portal instead of the built-in
	// fake.
	UseDBus bool

	// PortalTimeout bounds how long a consent dialog may stay unanswered.
	PortalTimeout time.Duration

	// FakePortalGrant and FakePortalDelay shape the built-in fake portal.
	FakePortalGrant bool
	FakePortalDelay time.Duration
}

// Load reads configuration from the environment, with an optional .env file.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	return Config{
		LogLevel:        getEnv("WAVEGUARD_LOG_LEVEL", "info"),
		LogFormat:       getEnv("WAVEGUARD_LOG_FORMAT", "auto"),
		MetricsAddr:     getEnv("WAVEGUARD_METRICS_ADDR", ""),
		UseDBus:         getEnvBool("WAVEGUARD_USE_DBUS", false),
		PortalTimeout:   getEnvDuration("WAVEGUARD_PORTAL_TIMEOUT", 30*time.Second),
		FakePortalGrant: getEnvBool("WAVEGUARD_FAKE_PORTAL_GRANT", true),
		FakePortalDelay: getEnvDuration("WAVEGUARD_FAKE_PORTAL_DELAY", 250*time.Millisecond),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid boolean in environment, using default")
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration in environment, using default")
		return fallback
	}
	return d
}
