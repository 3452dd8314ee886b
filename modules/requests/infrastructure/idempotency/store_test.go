package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Hour)

	_, ok := store.Get("k1")
	require.False(t, ok)

	store.Put("k1", []byte(`{"id":"abc"}`))
	got, ok := store.Get("k1")
	require.True(t, ok)
	require.Equal(t, []byte(`{"id":"abc"}`), got)
}

func TestMemoryStore_ReturnsCopy(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Hour)
	store.Put("k1", []byte("original"))

	got, ok := store.Get("k1")
	require.True(t, ok)
	got[0] = 'X'

	again, ok := store.Get("k1")
	require.True(t, ok)
	require.Equal(t, []byte("original"), again)
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore(10*time.Millisecond, 20*time.Millisecond)
	store.Put("k1", []byte("v"))

	_, ok := store.Get("k1")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := store.Get("k1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}
