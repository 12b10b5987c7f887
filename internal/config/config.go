package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        int
	GinMode     string
	TLSCertFile string
	TLSKeyFile  string

	// AdminSecret enables the access-code admin API when non-empty.
	AdminSecret string
	TokenExpiry time.Duration

	// Liveness and expiry policy.
	OnlineThreshold   time.Duration
	OfflineThreshold  time.Duration
	SweepInterval     time.Duration
	PendingSessionTTL time.Duration
	ActiveSessionTTL  time.Duration
	AccessCodeTTL     time.Duration
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// LoadRelay loads the public relay server configuration.
func LoadRelay() (Config, error) {
	return LoadFromEnv(osEnv{}, 8080)
}

// LoadHostServer loads the in-process direct-connect server configuration.
func LoadHostServer() (Config, error) {
	return LoadFromEnv(osEnv{}, 3000)
}

func LoadFromEnv(env Env, defaultPort int) (Config, error) {
	cfg := Config{
		Port:              defaultPort,
		GinMode:           "release",
		TokenExpiry:       24 * time.Hour,
		OnlineThreshold:   30 * time.Second,
		OfflineThreshold:  2 * time.Minute,
		SweepInterval:     time.Minute,
		PendingSessionTTL: 5 * time.Minute,
		ActiveSessionTTL:  time.Hour,
		AccessCodeTTL:     5 * time.Minute,
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")
	cfg.AdminSecret = env.Getenv("ADMIN_SECRET")

	durations := []struct {
		key  string
		unit time.Duration
		dst  *time.Duration
	}{
		{"TOKEN_EXPIRY_SECONDS", time.Second, &cfg.TokenExpiry},
		{"ONLINE_THRESHOLD_SECONDS", time.Second, &cfg.OnlineThreshold},
		{"OFFLINE_THRESHOLD_SECONDS", time.Second, &cfg.OfflineThreshold},
		{"SWEEP_INTERVAL_SECONDS", time.Second, &cfg.SweepInterval},
		{"PENDING_SESSION_TTL_SECONDS", time.Second, &cfg.PendingSessionTTL},
		{"ACTIVE_SESSION_TTL_SECONDS", time.Second, &cfg.ActiveSessionTTL},
		{"ACCESS_CODE_TTL_MINUTES", time.Minute, &cfg.AccessCodeTTL},
	}
	for _, d := range durations {
		raw := env.Getenv(d.key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid %s", d.key)
		}
		*d.dst = time.Duration(n) * d.unit
	}

	return cfg, nil
}
