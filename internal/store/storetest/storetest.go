// Package storetest holds the behavioural suite every store.Store backend
// must pass. Memory runs it in unit tests; Redis and Postgres run it under
// the integration build tag.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"once/internal/authcode"
	"once/internal/store"
	"once/pkg/testutil"
)

// Suite exercises store.Store semantics against a fresh backend per test.
type Suite struct {
	suite.Suite

	// NewStore returns the backend under test.
	NewStore func(t *testing.T) store.Store
	// NativeExpiry marks backends whose DeleteExpired is a no-op.
	NativeExpiry bool

	store store.Store
	now   time.Time
}

func (s *Suite) SetupTest() {
	s.store = s.NewStore(s.T())
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *Suite) newRecord(clientID string, ttl time.Duration) *store.SealedRecord {
	code, err := authcode.Generate(nil)
	s.Require().NoError(err)
	return &store.SealedRecord{
		StorageKey: code.StorageKey(),
		ClientID:   clientID,
		Ciphertext: []byte("ciphertext-bytes-with-tag"),
		Nonce:      make([]byte, 24),
		CreatedAt:  s.now,
		ExpiresAt:  s.now.Add(ttl),
	}
}

func (s *Suite) TestTakeReturnsRecordOnce() {
	ctx := context.Background()
	rec := s.newRecord("client-a", time.Minute)
	s.Require().NoError(s.store.Put(ctx, rec))

	got, err := s.store.Take(ctx, rec.StorageKey, "client-a", s.now.Add(time.Second))
	s.Require().NoError(err)
	s.Equal(rec.ClientID, got.ClientID)
	s.Equal(rec.Ciphertext, got.Ciphertext)
	s.Equal(rec.Nonce, got.Nonce)
	s.True(rec.ExpiresAt.Equal(got.ExpiresAt))

	_, err = s.store.Take(ctx, rec.StorageKey, "client-a", s.now.Add(time.Second))
	s.ErrorIs(err, store.ErrCodeNotFound)
}

func (s *Suite) TestUnknownKey() {
	_, err := s.store.Take(context.Background(), s.newRecord("client-a", time.Minute).StorageKey, "client-a", s.now)
	s.ErrorIs(err, store.ErrCodeNotFound)
}

func (s *Suite) TestExpiredRecordIsAbsent() {
	ctx := context.Background()
	rec := s.newRecord("client-a", time.Minute)
	s.Require().NoError(s.store.Put(ctx, rec))

	_, err := s.store.Take(ctx, rec.StorageKey, "client-a", rec.ExpiresAt)
	s.ErrorIs(err, store.ErrCodeNotFound)

	_, err = s.store.Take(ctx, rec.StorageKey, "client-a", s.now)
	s.ErrorIs(err, store.ErrCodeNotFound, "expired take must still consume the record")
}

func (s *Suite) TestClientMismatchDestroysRecord() {
	ctx := context.Background()
	rec := s.newRecord("client-a", time.Minute)
	s.Require().NoError(s.store.Put(ctx, rec))

	_, err := s.store.Take(ctx, rec.StorageKey, "client-b", s.now)
	s.ErrorIs(err, store.ErrClientMismatch)

	_, err = s.store.Take(ctx, rec.StorageKey, "client-a", s.now)
	s.ErrorIs(err, store.ErrCodeNotFound)
}

func (s *Suite) TestConcurrentTakeHasOneWinner() {
	ctx := context.Background()
	rec := s.newRecord("client-a", time.Minute)
	s.Require().NoError(s.store.Put(ctx, rec))

	result := testutil.RunConcurrent(32, func(int) error {
		_, err := s.store.Take(ctx, rec.StorageKey, "client-a", s.now)
		return err
	})

	s.Equal(int32(1), result.Successes)
	s.Equal(int32(31), result.NotFounds)
	s.Zero(result.Errors)
}

func (s *Suite) TestDuplicatePut() {
	ctx := context.Background()
	rec := s.newRecord("client-a", time.Minute)
	s.Require().NoError(s.store.Put(ctx, rec))
	s.ErrorIs(s.store.Put(ctx, rec), store.ErrDuplicateKey)
}

func (s *Suite) TestPutRejectsInvalidRecords() {
	ctx := context.Background()

	expired := s.newRecord("client-a", 0)
	s.ErrorIs(s.store.Put(ctx, expired), store.ErrInvalidRecord)

	noClient := s.newRecord("", time.Minute)
	s.ErrorIs(s.store.Put(ctx, noClient), store.ErrInvalidRecord)

	s.ErrorIs(s.store.Put(ctx, nil), store.ErrInvalidRecord)
}

func (s *Suite) TestDeleteExpired() {
	ctx := context.Background()
	short := s.newRecord("client-a", time.Second)
	long := s.newRecord("client-a", time.Hour)
	s.Require().NoError(s.store.Put(ctx, short))
	s.Require().NoError(s.store.Put(ctx, long))

	n, err := s.store.DeleteExpired(ctx, s.now.Add(time.Minute))
	s.Require().NoError(err)
	if !s.NativeExpiry {
		s.Equal(1, n)
	}

	_, err = s.store.Take(ctx, long.StorageKey, "client-a", s.now.Add(time.Minute))
	s.NoError(err)
}

func (s *Suite) TestConsumeTicketOnce() {
	ctx := context.Background()
	expiresAt := s.now.Add(time.Minute)

	s.Require().NoError(s.store.ConsumeTicket(ctx, "ticket-1", expiresAt, s.now))
	s.ErrorIs(s.store.ConsumeTicket(ctx, "ticket-1", expiresAt, s.now.Add(time.Second)), store.ErrTicketConsumed)
	s.NoError(s.store.ConsumeTicket(ctx, "ticket-2", expiresAt, s.now), "ids are independent")
}

func (s *Suite) TestConcurrentConsumeTicketHasOneWinner() {
	ctx := context.Background()
	expiresAt := s.now.Add(time.Minute)

	result := testutil.RunConcurrent(32, func(int) error {
		return s.store.ConsumeTicket(ctx, "ticket-race", expiresAt, s.now)
	})

	s.Equal(int32(1), result.Successes)
	s.Equal(int32(31), result.Conflicts)
	s.Zero(result.Errors)
}

func (s *Suite) TestConsumeTicketRejectsInvalidArguments() {
	ctx := context.Background()
	s.ErrorIs(s.store.ConsumeTicket(ctx, "", s.now.Add(time.Minute), s.now), store.ErrInvalidRecord)
	s.ErrorIs(s.store.ConsumeTicket(ctx, "ticket-1", s.now, s.now), store.ErrInvalidRecord)
}

func (s *Suite) TestExpiredTicketIdMayBeRecordedAgain() {
	if s.NativeExpiry {
		s.T().Skip("backend expires ticket keys on wall-clock time")
	}
	ctx := context.Background()
	expiresAt := s.now.Add(time.Minute)
	s.Require().NoError(s.store.ConsumeTicket(ctx, "ticket-1", expiresAt, s.now))

	later := expiresAt.Add(time.Second)
	s.NoError(s.store.ConsumeTicket(ctx, "ticket-1", later.Add(time.Minute), later))

	_, err := s.store.DeleteExpired(ctx, later.Add(2*time.Minute))
	s.Require().NoError(err)
	s.NoError(s.store.ConsumeTicket(ctx, "ticket-1", later.Add(3*time.Minute), later.Add(2*time.Minute)))
}
