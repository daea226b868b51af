package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sha1d/pixel-sahur/internal/character"
	"github.com/sha1d/pixel-sahur/internal/ecs"
	"github.com/sha1d/pixel-sahur/internal/physics"
	"github.com/sha1d/pixel-sahur/internal/protocol"
	"github.com/sha1d/pixel-sahur/internal/vec"
)

func spawnWireEntity(t *testing.T, store *ecs.Store, pos vec.Vec2) ecs.EntityID {
	t.Helper()
	id := store.CreateEntity()
	require.NoError(t, store.SetTransform(id, ecs.NewTransform(pos)))
	require.NoError(t, store.SetCharacter(id, character.NewStatus(character.DefaultTuning())))
	require.NoError(t, store.SetHitbox(id, ecs.Hitbox{Half: vec.Vec2{X: 0.5, Y: 0.5}, Layer: physics.LayerPlayer, Mass: 1}))
	return id
}

func maskByRef(s *protocol.Snapshot) map[protocol.EntityRef]protocol.FieldMask {
	out := make(map[protocol.EntityRef]protocol.FieldMask, len(s.Entries))
	for _, e := range s.Entries {
		out[e.Ref] = e.Mask
	}
	return out
}

func TestDeltaSkipsUnchangedEntities(t *testing.T) {
	store := ecs.NewStore()
	own := spawnWireEntity(t, store, vec.Vec2{})
	moved := spawnWireEntity(t, store, vec.Vec2{X: 2})
	static := spawnWireEntity(t, store, vec.Vec2{X: 4})

	base := captureState(store, 1)
	store.MutTransform(moved).Pos.X = 3
	cur := captureState(store, 2)

	s := buildDelta(cur, base, own.Packed(), 7)
	require.False(t, s.IsFull())
	assert.Equal(t, uint32(2), s.Tick)
	assert.Equal(t, uint32(1), s.BaseTick)
	assert.Equal(t, uint32(7), s.LastInputSeq)

	masks := maskByRef(s)
	assert.Contains(t, masks, refOf(own))
	assert.Contains(t, masks, refOf(moved))
	assert.NotContains(t, masks, refOf(static))
	assert.Equal(t, protocol.FieldTransform, masks[refOf(moved)])
}

func TestDeltaAlwaysCarriesOwnEntity(t *testing.T) {
	store := ecs.NewStore()
	own := spawnWireEntity(t, store, vec.Vec2{X: 1})

	base := captureState(store, 1)
	cur := captureState(store, 2)

	s := buildDelta(cur, base, own.Packed(), 0)
	require.Len(t, s.Entries, 1)
	e := s.Entries[0]
	assert.Equal(t, refOf(own), e.Ref)
	assert.True(t, e.Mask.Has(protocol.FieldTransform))
	assert.True(t, e.Mask.Has(protocol.FieldCharacter))
	assert.False(t, e.Mask.Has(protocol.FieldHitbox))
}

func TestDeltaIgnoresSubPrecisionDrift(t *testing.T) {
	store := ecs.NewStore()
	own := spawnWireEntity(t, store, vec.Vec2{})
	other := spawnWireEntity(t, store, vec.Vec2{X: 1000})

	base := captureState(store, 1)
	// Сдвиг ниже точности float32 на этой величине: на провод не попадает
	store.MutTransform(other).Pos.X += 1e-9
	cur := captureState(store, 2)

	s := buildDelta(cur, base, own.Packed(), 0)
	assert.NotContains(t, maskByRef(s), refOf(other))
}

func TestDeltaReportsRemovedEntities(t *testing.T) {
	store := ecs.NewStore()
	own := spawnWireEntity(t, store, vec.Vec2{})
	gone := spawnWireEntity(t, store, vec.Vec2{X: 2})

	base := captureState(store, 1)
	require.NoError(t, store.DestroyEntity(gone))
	cur := captureState(store, 2)

	s := buildDelta(cur, base, own.Packed(), 0)
	require.Len(t, s.Removed, 1)
	assert.Equal(t, refOf(gone), s.Removed[0])
}

func TestDeltaNewEntityCarriesAllComponents(t *testing.T) {
	store := ecs.NewStore()
	own := spawnWireEntity(t, store, vec.Vec2{})
	base := captureState(store, 1)

	fresh := spawnWireEntity(t, store, vec.Vec2{X: 2})
	cur := captureState(store, 2)

	s := buildDelta(cur, base, own.Packed(), 0)
	mask := maskByRef(s)[refOf(fresh)]
	assert.True(t, mask.Has(protocol.FieldTransform))
	assert.True(t, mask.Has(protocol.FieldCharacter))
	assert.True(t, mask.Has(protocol.FieldHitbox))
}

func TestFullSnapshotListsWholeWorld(t *testing.T) {
	store := ecs.NewStore()
	spawnWireEntity(t, store, vec.Vec2{})
	spawnWireEntity(t, store, vec.Vec2{X: 2})

	s := buildFull(captureState(store, 5), 3)
	assert.True(t, s.IsFull())
	assert.Equal(t, uint32(5), s.Tick)
	assert.Equal(t, uint32(3), s.LastInputSeq)
	require.Len(t, s.Entries, 2)
	for _, e := range s.Entries {
		assert.True(t, e.Mask.Has(protocol.FieldTransform))
		assert.True(t, e.Mask.Has(protocol.FieldCharacter))
		assert.True(t, e.Mask.Has(protocol.FieldHitbox))
	}
}

func TestHistoryEvictsOldestState(t *testing.T) {
	h := newSnapshotHistory(4)
	store := ecs.NewStore()
	spawnWireEntity(t, store, vec.Vec2{})

	for tick := uint32(1); tick <= 5; tick++ {
		h.push(captureState(store, tick))
	}

	_, ok := h.get(1)
	assert.False(t, ok)
	for tick := uint32(2); tick <= 5; tick++ {
		st, ok := h.get(tick)
		require.True(t, ok)
		assert.Equal(t, tick, st.tick)
	}
}
