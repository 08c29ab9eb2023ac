package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryExpiresOnRead(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newMemory(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "volunteerId", "42", time.Minute))

	var got string
	found, err := m.Get(ctx, "volunteerId", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "42", got)

	now = now.Add(time.Minute)
	found, err = m.Get(ctx, "volunteerId", &got)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, m.entries, "expired entry should be evicted on read")
}

func TestMemoryWithoutTTLKeepsEntry(t *testing.T) {
	now := time.Now()
	m := newMemory(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "muted", []string{"conversation:1"}, 0))
	now = now.Add(24 * time.Hour)

	var got []string
	found, err := m.Get(ctx, "muted", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"conversation:1"}, got)

	require.NoError(t, m.Delete(ctx, "muted"))
	found, err = m.Get(ctx, "muted", &got)
	require.NoError(t, err)
	assert.False(t, found)
}
