// Package database opens the Postgres pool behind the sealed record store.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const pingTimeout = 5 * time.Second

// Config holds pool sizing. Records are single-row inserts and deletes, so the
// pool stays small and connections are recycled often.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	AutoMigrate     bool
}

func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
		AutoMigrate:     true,
	}
}

// Pool wraps *sql.DB with health checking.
type Pool struct {
	db *sql.DB
}

// Option configures New.
type Option func(*options)

type options struct {
	reg prometheus.Registerer
}

// WithMetrics exports database/sql pool statistics under db_name="once".
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.reg = reg
	}
}

// New opens the pool, verifies connectivity and applies pending migrations
// when cfg.AutoMigrate is set.
func New(ctx context.Context, cfg Config, opts ...Option) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("database url is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := Migrate(db); err != nil {
			db.Close() //nolint:errcheck // best-effort cleanup on init failure
			return nil, err
		}
	}

	if o.reg != nil {
		if err := o.reg.Register(collectors.NewDBStatsCollector(db, "once")); err != nil {
			db.Close() //nolint:errcheck // best-effort cleanup on init failure
			return nil, fmt.Errorf("register pool metrics: %w", err)
		}
	}

	return &Pool{db: db}, nil
}

func (p *Pool) DB() *sql.DB {
	return p.db
}

// Health pings the database.
func (p *Pool) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Pool) Close() error {
	return p.db.Close()
}
