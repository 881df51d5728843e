// Package config reads settings from the environment, optionally seeded from
// a .env file.
package config

import (
	"os"
	"strings"
	"time"
)

// Environment keys.
const (
	KeyAssetDir     = "PICOREVIVE_ASSET_DIR"
	KeyBundleURL    = "PICOREVIVE_BUNDLE_URL"
	KeyPollInterval = "PICOREVIVE_POLL_INTERVAL"
	KeyLogFile      = "PICOREVIVE_LOG_FILE"
	KeyStateFile    = "PICOREVIVE_STATE_FILE"
	KeyVerbose      = "PICOREVIVE_VERBOSE"
)

// String returns the trimmed environment variable or fallback when unset.
func String(key, fallback string) string {
	Ensure()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Duration parses a positive duration from the environment or returns
// fallback.
func Duration(key string, fallback time.Duration) time.Duration {
	Ensure()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

// Bool parses a boolean environment variable.
func Bool(key string, fallback bool) bool {
	Ensure()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes":
			return true
		case "0", "false", "no":
			return false
		}
	}
	return fallback
}
