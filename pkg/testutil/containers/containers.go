//go:build integration

// Package containers starts the Redis and Postgres servers the store backends
// are tested against. Each server starts at most once per test binary; a
// failed start is remembered so later tests fail fast with the same cause.
package containers

import (
	"sync"
	"testing"
)

type shared[T any] struct {
	once sync.Once
	val  T
	err  error
}

func (s *shared[T]) get(t *testing.T, start func() (T, error)) T {
	t.Helper()
	if testing.Short() {
		t.Skip("store backend tests need docker; skipped in short mode")
	}
	s.once.Do(func() { s.val, s.err = start() })
	if s.err != nil {
		t.Fatalf("start container: %v", s.err)
	}
	return s.val
}

var (
	postgresServer shared[*PostgresContainer]
	redisServer    shared[*RedisContainer]
)

// Postgres returns the shared, migrated Postgres server.
func Postgres(t *testing.T) *PostgresContainer {
	t.Helper()
	return postgresServer.get(t, startPostgres)
}

// Redis returns the shared Redis server.
func Redis(t *testing.T) *RedisContainer {
	t.Helper()
	return redisServer.get(t, startRedis)
}
