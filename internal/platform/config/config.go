// Package config reads service configuration from ONCE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config captures everything main needs to wire both servers.
type Config struct {
	Environment string

	Authorize ServerConfig
	Token     ServerConfig

	TrustRoots            []string
	Intermediates         []string
	CRLSources            []string
	CRLRefreshInterval    time.Duration
	RequireRevocationData bool

	CodeTTL          time.Duration
	TokenTTL         time.Duration
	ConsentTicketTTL time.Duration
	ConsentSecret    string

	Issuer         string
	SigningAlg     string
	SigningKeyFile string
	SigningSecret  string
	SigningKeyID   string

	ClientsFile string

	StoreBackend    string
	CleanupInterval time.Duration
	Redis           RedisConfig
	DatabaseURL     string

	KafkaBrokers string
	AuditTopic   string

	TokenRateLimit float64
	TokenRateBurst int
}

// ServerConfig holds listener settings for one HTTP server.
type ServerConfig struct {
	Addr        string
	TLSCertFile string
	TLSKeyFile  string
}

// TLSEnabled reports whether both certificate and key are configured.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

// RedisConfig holds Redis connection and pool settings.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
// Malformed values are reported instead of silently replaced by defaults.
func FromEnv() (Config, error) {
	r := &reader{}

	cfg := Config{
		Environment: r.str("ONCE_ENV", "development"),
		Authorize: ServerConfig{
			Addr:        r.str("ONCE_AUTHORIZE_ADDR", ":8443"),
			TLSCertFile: r.str("ONCE_AUTHORIZE_TLS_CERT", ""),
			TLSKeyFile:  r.str("ONCE_AUTHORIZE_TLS_KEY", ""),
		},
		Token: ServerConfig{
			Addr:        r.str("ONCE_TOKEN_ADDR", ":8080"),
			TLSCertFile: r.str("ONCE_TOKEN_TLS_CERT", ""),
			TLSKeyFile:  r.str("ONCE_TOKEN_TLS_KEY", ""),
		},

		TrustRoots:            r.list("ONCE_TRUST_ROOTS"),
		Intermediates:         r.list("ONCE_INTERMEDIATES"),
		CRLSources:            r.list("ONCE_CRL_SOURCES"),
		CRLRefreshInterval:    r.duration("ONCE_CRL_REFRESH_INTERVAL", time.Hour),
		RequireRevocationData: r.boolean("ONCE_REQUIRE_REVOCATION_DATA", true),

		CodeTTL:          r.duration("ONCE_CODE_TTL", 60*time.Second),
		TokenTTL:         r.duration("ONCE_TOKEN_TTL", 5*time.Minute),
		ConsentTicketTTL: r.duration("ONCE_CONSENT_TICKET_TTL", 5*time.Minute),
		ConsentSecret:    r.str("ONCE_CONSENT_SECRET", ""),

		Issuer:         r.str("ONCE_ISSUER", "https://once.local"),
		SigningAlg:     r.str("ONCE_SIGNING_ALG", "ES256"),
		SigningKeyFile: r.str("ONCE_SIGNING_KEY_FILE", ""),
		SigningSecret:  r.str("ONCE_SIGNING_SECRET", ""),
		SigningKeyID:   r.str("ONCE_SIGNING_KEY_ID", "once-1"),

		ClientsFile: r.str("ONCE_CLIENTS_FILE", "clients.yaml"),

		StoreBackend:    strings.ToLower(r.str("ONCE_STORE", StoreMemory)),
		CleanupInterval: r.duration("ONCE_CLEANUP_INTERVAL", 30*time.Second),
		Redis: RedisConfig{
			URL:          r.str("ONCE_REDIS_URL", ""),
			PoolSize:     r.integer("ONCE_REDIS_POOL_SIZE", 10),
			MinIdleConns: r.integer("ONCE_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  r.duration("ONCE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  r.duration("ONCE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: r.duration("ONCE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		DatabaseURL: r.str("ONCE_DATABASE_URL", ""),

		KafkaBrokers: r.str("ONCE_KAFKA_BROKERS", ""),
		AuditTopic:   r.str("ONCE_AUDIT_TOPIC", "once.audit"),

		TokenRateLimit: r.float("ONCE_TOKEN_RATE_LIMIT", 5),
		TokenRateBurst: r.integer("ONCE_TOKEN_RATE_BURST", 10),
	}

	if r.err != nil {
		return Config{}, r.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsProduction reports whether development fallbacks must be refused.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("ONCE_REDIS_URL is required for the redis store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("ONCE_DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}

	switch c.SigningAlg {
	case "ES256":
	case "HS256":
		if len(c.SigningSecret) < 32 {
			return fmt.Errorf("ONCE_SIGNING_SECRET must be at least 32 bytes for HS256")
		}
	default:
		return fmt.Errorf("unsupported signing algorithm %q", c.SigningAlg)
	}

	if c.CodeTTL <= 0 || c.TokenTTL <= 0 || c.ConsentTicketTTL <= 0 {
		return fmt.Errorf("ttl values must be positive")
	}
	return nil
}

// reader accumulates the first parse error so FromEnv reads top to bottom.
type reader struct {
	err error
}

func (r *reader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (r *reader) list(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}

func (r *reader) boolean(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

func (r *reader) integer(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return f
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
