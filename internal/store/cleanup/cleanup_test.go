package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"once/internal/store"
	"once/internal/store/memory"
)

type failingStore struct{}

func (failingStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, errors.New("connection reset")
}

func TestRunOnce_RemovesExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	mem := memory.New()

	put := func(key string, ttl time.Duration) {
		require.NoError(t, mem.Put(ctx, &store.SealedRecord{
			StorageKey: key,
			ClientID:   "client-a",
			Ciphertext: []byte("ct"),
			Nonce:      []byte("n"),
			CreatedAt:  now,
			ExpiresAt:  now.Add(ttl),
		}))
	}
	put("expired-1", time.Second)
	put("expired-2", 30*time.Second)
	put("live", time.Hour)

	reg := prometheus.NewRegistry()
	svc, err := New(mem,
		WithClock(func() time.Time { return now.Add(time.Minute) }),
		WithMetrics(reg),
	)
	require.NoError(t, err)

	n, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, mem.Len())
	assert.Equal(t, float64(2), testutil.ToFloat64(svc.deleted))
}

func TestRunOnce_PropagatesError(t *testing.T) {
	svc, err := New(failingStore{})
	require.NoError(t, err)

	_, err = svc.RunOnce(context.Background())
	assert.ErrorContains(t, err, "connection reset")
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestStart_StopsOnCancel(t *testing.T) {
	svc, err := New(memory.New(), WithInterval(time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cleanup did not stop")
	}
}
