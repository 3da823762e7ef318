package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
	// ReapInterval is how often the room reaper scans the registry.
	ReapInterval time.Duration
	// IdleThreshold is how long an empty room may sit untouched before
	// the reaper removes it.
	IdleThreshold time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, reapInterval, idleThreshold time.Duration) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if reapInterval <= 0 {
		return nil, fmt.Errorf("reap interval must be positive")
	}
	if idleThreshold <= 0 {
		return nil, fmt.Errorf("idle threshold must be positive")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		ReapInterval:   reapInterval,
		IdleThreshold:  idleThreshold,
	}, nil
}
