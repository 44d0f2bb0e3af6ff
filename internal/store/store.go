// Package store defines the transient store for sealed consent records.
//
// A record is retrievable at most once. Take removes the record in the same
// atomic step that returns it, so concurrent redemptions of one code yield one
// winner and every other caller sees ErrCodeNotFound.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"once/pkg/platform/sentinel"
)

var (
	// ErrCodeNotFound covers never-issued, already-redeemed and expired codes.
	ErrCodeNotFound = fmt.Errorf("sealed record: %w", sentinel.ErrNotFound)
	// ErrClientMismatch is returned when the record was bound to another
	// client. The record has been destroyed.
	ErrClientMismatch = errors.New("sealed record bound to another client")
	// ErrDuplicateKey is returned by Put when the storage key is already live.
	ErrDuplicateKey = fmt.Errorf("sealed record: %w", sentinel.ErrConflict)
	// ErrInvalidRecord is returned by Put for incomplete or already expired records.
	ErrInvalidRecord = errors.New("invalid sealed record")
	// ErrTicketConsumed is returned by ConsumeTicket for an id already recorded.
	ErrTicketConsumed = fmt.Errorf("consent ticket: %w", sentinel.ErrConflict)
)

// SealedRecord is the only persisted state: ciphertext addressed by the
// one-way hash of its authorization code.
type SealedRecord struct {
	StorageKey string
	ClientID   string
	Ciphertext []byte
	Nonce      []byte
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// TTL is the lifetime granted at creation.
func (r *SealedRecord) TTL() time.Duration {
	return r.ExpiresAt.Sub(r.CreatedAt)
}

// Expired reports whether the record is no longer redeemable at now.
func (r *SealedRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Validate checks the record before it is stored.
func (r *SealedRecord) Validate() error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	case r.StorageKey == "":
		return fmt.Errorf("%w: storage key required", ErrInvalidRecord)
	case r.ClientID == "":
		return fmt.Errorf("%w: client id required", ErrInvalidRecord)
	case len(r.Ciphertext) == 0 || len(r.Nonce) == 0:
		return fmt.Errorf("%w: ciphertext and nonce required", ErrInvalidRecord)
	case r.TTL() <= 0:
		return fmt.Errorf("%w: expiry must follow creation", ErrInvalidRecord)
	}
	return nil
}

// Store is implemented by every transient backend.
type Store interface {
	// Put stores a new record until record.ExpiresAt.
	Put(ctx context.Context, record *SealedRecord) error
	// Take atomically retrieves and deletes the record. A record bound to a
	// different client is deleted and ErrClientMismatch returned.
	Take(ctx context.Context, storageKey, clientID string, now time.Time) (*SealedRecord, error)
	// DeleteExpired removes records expired at now and reports how many.
	// Expired ticket ids are swept too but not counted.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	// ConsumeTicket records a consent ticket id until expiresAt. Recording is
	// put-if-absent: a second call for a live id returns ErrTicketConsumed.
	ConsumeTicket(ctx context.Context, id string, expiresAt, now time.Time) error
}

// ValidateTicket checks ConsumeTicket arguments shared by every backend.
func ValidateTicket(id string, expiresAt, now time.Time) error {
	if id == "" {
		return fmt.Errorf("%w: ticket id required", ErrInvalidRecord)
	}
	if !expiresAt.After(now) {
		return fmt.Errorf("%w: ticket already expired", ErrInvalidRecord)
	}
	return nil
}

// Resolve applies the post-removal checks shared by every backend to a record
// that has just been taken out of storage.
func Resolve(record *SealedRecord, clientID string, now time.Time) (*SealedRecord, error) {
	if record == nil || record.Expired(now) {
		return nil, ErrCodeNotFound
	}
	if record.ClientID != clientID {
		return nil, ErrClientMismatch
	}
	return record, nil
}
