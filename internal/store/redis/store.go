// Package redis stores sealed records in Redis with native key expiry.
// Take relies on GETDEL (Redis 6.2+) for atomic retrieve-and-delete.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"once/internal/store"
)

const (
	keyPrefix    = "once:sealed:"
	ticketPrefix = "once:ticket:"
)

type recordJSON struct {
	ClientID   string `json:"client_id"`
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	ExpiresAt  int64  `json:"expires_at"` // Unix nano
	CreatedAt  int64  `json:"created_at"` // Unix nano
}

// Store persists sealed records in Redis.
type Store struct {
	client redis.Cmdable
}

// New constructs a Redis-backed store.
func New(client redis.Cmdable) *Store {
	return &Store{client: client}
}

func key(storageKey string) string {
	return keyPrefix + storageKey
}

func (s *Store) Put(ctx context.Context, record *store.SealedRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(recordJSON{
		ClientID:   record.ClientID,
		Ciphertext: record.Ciphertext,
		Nonce:      record.Nonce,
		ExpiresAt:  record.ExpiresAt.UnixNano(),
		CreatedAt:  record.CreatedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("marshal sealed record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, key(record.StorageKey), data, expiry(record.TTL())).Result()
	if err != nil {
		return fmt.Errorf("put sealed record: %w", err)
	}
	if !ok {
		return store.ErrDuplicateKey
	}
	return nil
}

func (s *Store) Take(ctx context.Context, storageKey, clientID string, now time.Time) (*store.SealedRecord, error) {
	data, err := s.client.GetDel(ctx, key(storageKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take sealed record: %w", err)
	}

	var j recordJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal sealed record: %w", err)
	}

	return store.Resolve(&store.SealedRecord{
		StorageKey: storageKey,
		ClientID:   j.ClientID,
		Ciphertext: j.Ciphertext,
		Nonce:      j.Nonce,
		ExpiresAt:  time.Unix(0, j.ExpiresAt),
		CreatedAt:  time.Unix(0, j.CreatedAt),
	}, clientID, now)
}

// ConsumeTicket sets the ticket key with NX, expiring with the ticket.
func (s *Store) ConsumeTicket(ctx context.Context, id string, expiresAt, now time.Time) error {
	if err := store.ValidateTicket(id, expiresAt, now); err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, ticketPrefix+id, 1, expiry(expiresAt.Sub(now))).Result()
	if err != nil {
		return fmt.Errorf("consume consent ticket: %w", err)
	}
	if !ok {
		return store.ErrTicketConsumed
	}
	return nil
}

// expiry rounds ttl to what Redis accepts. go-redis sends PX for sub-second
// remainders, EX otherwise.
func expiry(ttl time.Duration) time.Duration {
	return max(ttl.Truncate(time.Millisecond), time.Millisecond)
}

// DeleteExpired is a no-op: Redis evicts expired keys itself.
func (s *Store) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

var _ store.Store = (*Store)(nil)
