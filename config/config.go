// Package config loads connector configuration from environment variables,
// following the same fail-fast, no-framework style the rest of the
// connector uses for its other ambient concerns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all connector configuration.
type Config struct {
	// Port is the HTTP listen port for the health/ILP surface.
	Port int

	// BaseAddress is this node's own ILP address, used as the
	// triggered_by address on locally-originated Rejects.
	BaseAddress string

	// BusinessLogicURL is the base URL of the business-logic collaborator
	// C4 delegates payment decisions to.
	BusinessLogicURL string

	// BusinessLogicTimeout bounds each call to the business-logic collaborator.
	BusinessLogicTimeout time.Duration

	// SessionTTL bounds how long an outbound send_packet waits by default
	// when the Prepare carries no usable expiry.
	SessionTTL time.Duration

	// LogLevel selects the slog level: debug, info, warn, or error.
	LogLevel string

	// NodeID identifies this connector instance in /health responses.
	NodeID string

	// PeerURL is the WebSocket URL of the directly-peered remote connector.
	PeerURL string

	// PeerID is the identifier this node presents during the BTP auth handshake.
	PeerID string

	// PeerSecret is the shared auth token for the BTP handshake.
	PeerSecret string

	// FulfillmentScheme selects "simple" (SHA-256-only, default) or "psk2"
	// (HMAC-SHA-256 per RFC-0029).
	FulfillmentScheme string

	// PSK2SharedSecret is consulted only when FulfillmentScheme is "psk2".
	PSK2SharedSecret string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first if present (dev convenience; a no-op
// in production where real env vars are set directly).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnvInt("PORT", 8080),
		BaseAddress:          getEnv("BASE_ADDRESS", ""),
		BusinessLogicURL:     getEnv("BUSINESS_LOGIC_URL", ""),
		BusinessLogicTimeout: time.Duration(getEnvInt("BUSINESS_LOGIC_TIMEOUT", 5000)) * time.Millisecond,
		SessionTTL:           time.Duration(getEnvInt("SESSION_TTL_MS", 10000)) * time.Millisecond,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		NodeID:               getEnv("NODE_ID", "connector-1"),
		PeerURL:              getEnv("PEER_URL", ""),
		PeerID:               getEnv("PEER_ID", ""),
		PeerSecret:           getEnv("PEER_SECRET", ""),
		FulfillmentScheme:    getEnv("FULFILLMENT_SCHEME", "simple"),
		PSK2SharedSecret:     getEnv("PSK2_SHARED_SECRET", ""),
	}

	if cfg.BaseAddress == "" {
		return nil, fmt.Errorf("BASE_ADDRESS env var is required")
	}
	if cfg.BusinessLogicURL == "" {
		return nil, fmt.Errorf("BUSINESS_LOGIC_URL env var is required")
	}
	if cfg.FulfillmentScheme == "psk2" && cfg.PSK2SharedSecret == "" {
		return nil, fmt.Errorf("PSK2_SHARED_SECRET env var is required when FULFILLMENT_SCHEME=psk2")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
