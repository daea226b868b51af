package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGet(t *testing.T) {
	reg := NewMemoryRegistry()
	defer reg.Close()

	ctx := context.Background()
	info := Info{
		ClientID:    7,
		Name:        "alice",
		EntityIndex: 3,
		EntityGen:   1,
		Addr:        "127.0.0.1:40000",
		ConnectedAt: time.Now(),
	}

	require.NoError(t, reg.Set(ctx, info, time.Minute))

	got, err := reg.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Name)
	assert.Equal(t, uint32(3), got.EntityIndex)
	assert.False(t, got.UpdatedAt.IsZero(), "Set должен проставить UpdatedAt")

	_, err = reg.Get(ctx, 8)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTTLExpires(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Set(ctx, Info{ClientID: 1, Name: "ghost"}, 20*time.Millisecond))

	_, err := reg.Get(ctx, 1)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = reg.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list, "истёкшая запись не должна попадать в List")
}

func TestMemorySetRefreshesTTL(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Set(ctx, Info{ClientID: 1}, 30*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, reg.Set(ctx, Info{ClientID: 1}, 100*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, err := reg.Get(ctx, 1)
	assert.NoError(t, err, "повторный Set должен продлить жизнь записи")
}

func TestMemoryDelete(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Set(ctx, Info{ClientID: 5}, time.Minute))
	require.NoError(t, reg.Delete(ctx, 5))

	_, err := reg.Get(ctx, 5)
	assert.ErrorIs(t, err, ErrNotFound)

	// Удаление отсутствующей записи не считается ошибкой.
	assert.NoError(t, reg.Delete(ctx, 5))
}

func TestMemoryListSorted(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	for _, id := range []uint64{42, 7, 19} {
		require.NoError(t, reg.Set(ctx, Info{ClientID: id}, time.Minute))
	}

	list, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, uint64(7), list[0].ClientID)
	assert.Equal(t, uint64(19), list[1].ClientID)
	assert.Equal(t, uint64(42), list[2].ClientID)
}
