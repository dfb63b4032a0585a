package redisx

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ariefcatur/medlink/internal/prescriptions"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "prescription_status:42", fmt.Sprintf(KeyPrescriptionStatus, int64(42)))
	assert.Equal(t, "lock:checkout:MDL-1", fmt.Sprintf(KeyCheckoutLock, "MDL-1"))
	assert.Equal(t, "dedup:notifier:ev-1", fmt.Sprintf(KeyDedup, "notifier", "ev-1"))
	assert.Greater(t, TTLDedup, TTLStatusCache)
}

// testRedis connects to REDIS_TEST_ADDR; the remaining tests skip without it.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := New(addr)
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestLocker(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	l := NewLocker(rdb)
	ref := "test-" + uuid.NewString()

	release, ok, err := l.Acquire(ctx, ref, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, ref, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must wait")

	release()
	release2, ok, err := l.Acquire(ctx, ref, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}

func TestStatusCache(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	c := NewStatusCache(rdb)
	id := time.Now().UnixNano()
	t.Cleanup(func() { rdb.Del(ctx, fmt.Sprintf(KeyPrescriptionStatus, id)) })

	got, err := c.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	snap := prescriptions.StatusSnapshot{
		Status: prescriptions.StatusAwaitingPayment, PatientID: 1, HospitalID: 2,
		UpdatedAt: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, c.SetStatus(ctx, id, snap))
	got, err = c.GetStatus(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snap.Status, got.Status)
	assert.True(t, snap.UpdatedAt.Equal(got.UpdatedAt))

	stale := snap
	stale.Status = prescriptions.StatusPharmacyReviewing
	stale.UpdatedAt = snap.UpdatedAt.Add(-time.Second)
	require.NoError(t, c.SetStatus(ctx, id, stale))
	got, err = c.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, prescriptions.StatusAwaitingPayment, got.Status, "older snapshot must not replace a newer one")

	newer := snap
	newer.Status = prescriptions.StatusPaymentReceived
	newer.UpdatedAt = snap.UpdatedAt.Add(time.Second)
	require.NoError(t, c.SetStatus(ctx, id, newer))
	got, err = c.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, prescriptions.StatusPaymentReceived, got.Status)
}

func TestDedup(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	d := NewDedup(rdb, "test")
	ev := uuid.NewString()
	t.Cleanup(func() { rdb.Del(ctx, fmt.Sprintf(KeyDedup, "test", ev)) })

	seen, err := d.Seen(ctx, ev)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, ev))
	seen, err = d.Seen(ctx, ev)
	require.NoError(t, err)
	assert.True(t, seen)
}
