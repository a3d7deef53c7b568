// Package config loads process configuration from the environment (spec
// §6), grounded on the teacher's cmd/game-server/main.go os.Getenv +
// fallback-default idiom.
package config

import (
	"os"
	"strconv"
	"strings"
)

type StorageType string

const (
	StorageMemory StorageType = "memory"
	StorageRedis  StorageType = "redis"
)

// Config holds every environment-recognized setting (spec §6). Unknown
// environment variables are ignored, matching the spec's stated contract.
type Config struct {
	RedisURL       string
	RedisPrimary   bool
	AllowedOrigins []string
	InstanceID     string
	Workers        int
	StorageType    StorageType
	LogLevel       string
	Port           string
}

// Load reads the recognized environment variables, applying the teacher's
// style of permissive fallback defaults rather than failing startup.
func Load() *Config {
	cfg := &Config{
		RedisURL:     os.Getenv("REDIS_URL"),
		RedisPrimary: os.Getenv("REDIS_PRIMARY") == "true" || os.Getenv("REDIS_PRIMARY") == "1",
		InstanceID:   os.Getenv("INSTANCE_ID"),
		LogLevel:     os.Getenv("LOG_LEVEL"),
		Port:         os.Getenv("PORT"),
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = generateInstanceID()
	}

	cfg.Workers = 1
	if w := os.Getenv("WORKERS"); w != "" {
		if n, err := strconv.Atoi(w); err == nil && n > 0 {
			cfg.Workers = n
		}
	}

	switch StorageType(os.Getenv("STORAGE_TYPE")) {
	case StorageRedis:
		cfg.StorageType = StorageRedis
	case StorageMemory:
		cfg.StorageType = StorageMemory
	default:
		if cfg.RedisURL != "" || cfg.RedisPrimary {
			cfg.StorageType = StorageRedis
		} else {
			cfg.StorageType = StorageMemory
		}
	}

	return cfg
}

// OriginAllowed implements the wildcard-subdomain matching rule from §6:
// "*.domain" matches any subdomain of domain (and domain itself).
func (c *Config) OriginAllowed(origin string) bool {
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" {
			return true
		}
		if strings.HasPrefix(allowed, "*.") {
			suffix := allowed[1:] // ".domain"
			base := allowed[2:]
			if origin == base || strings.HasSuffix(origin, suffix) {
				return true
			}
			continue
		}
		if allowed == origin {
			return true
		}
	}
	return false
}
