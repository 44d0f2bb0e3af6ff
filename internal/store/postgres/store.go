// Package postgres stores sealed records in the sealed_records table.
// Take is a single DELETE ... RETURNING statement, so row locking in
// PostgreSQL decides the one winner among concurrent redemptions.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"once/internal/store"
)

const uniqueViolation = "23505"

const (
	insertRecord = `
INSERT INTO sealed_records (storage_key, client_id, ciphertext, nonce, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	takeRecord = `
DELETE FROM sealed_records
WHERE storage_key = $1
RETURNING client_id, ciphertext, nonce, expires_at, created_at`

	deleteExpired = `DELETE FROM sealed_records WHERE expires_at <= $1`

	// An expired row left behind by a missed sweep may be reclaimed.
	consumeTicket = `
INSERT INTO consumed_tickets (ticket_id, expires_at)
VALUES ($1, $2)
ON CONFLICT (ticket_id) DO UPDATE SET expires_at = EXCLUDED.expires_at
WHERE consumed_tickets.expires_at <= $3`

	deleteExpiredTickets = `DELETE FROM consumed_tickets WHERE expires_at <= $1`
)

// Store persists sealed records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// New constructs a PostgreSQL-backed store. The schema is applied by
// database.Migrate.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Put(ctx context.Context, record *store.SealedRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, insertRecord,
		record.StorageKey,
		record.ClientID,
		record.Ciphertext,
		record.Nonce,
		record.ExpiresAt.UTC(),
		record.CreatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("put sealed record: %w", err)
	}
	return nil
}

func (s *Store) Take(ctx context.Context, storageKey, clientID string, now time.Time) (*store.SealedRecord, error) {
	record := &store.SealedRecord{StorageKey: storageKey}
	err := s.db.QueryRowContext(ctx, takeRecord, storageKey).Scan(
		&record.ClientID,
		&record.Ciphertext,
		&record.Nonce,
		&record.ExpiresAt,
		&record.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take sealed record: %w", err)
	}
	return store.Resolve(record, clientID, now)
}

func (s *Store) ConsumeTicket(ctx context.Context, id string, expiresAt, now time.Time) error {
	if err := store.ValidateTicket(id, expiresAt, now); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, consumeTicket, id, expiresAt.UTC(), now.UTC())
	if err != nil {
		return fmt.Errorf("consume consent ticket: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume consent ticket rows: %w", err)
	}
	if rows == 0 {
		return store.ErrTicketConsumed
	}
	return nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if _, err := s.db.ExecContext(ctx, deleteExpiredTickets, now.UTC()); err != nil {
		return 0, fmt.Errorf("delete expired consent tickets: %w", err)
	}
	res, err := s.db.ExecContext(ctx, deleteExpired, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sealed records: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sealed records rows: %w", err)
	}
	return int(rows), nil
}

var _ store.Store = (*Store)(nil)
