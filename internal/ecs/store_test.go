package ecs

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sha1d/pixel-sahur/internal/character"
	"github.com/sha1d/pixel-sahur/internal/vec"
)

func TestCreateDestroyGeneration(t *testing.T) {
	s := NewStore()

	id := s.CreateEntity()
	require.True(t, s.IsAlive(id))
	require.Equal(t, 1, s.Alive())

	require.NoError(t, s.DestroyEntity(id))
	require.False(t, s.IsAlive(id))
	require.Equal(t, 0, s.Alive())

	// Повторное уничтожение — no-op с ошибкой
	require.ErrorIs(t, s.DestroyEntity(id), ErrInvalidEntity)
	require.Equal(t, 0, s.Alive())

	// Индекс переиспользуется, поколение растет
	id2 := s.CreateEntity()
	assert.Equal(t, id.Index, id2.Index)
	assert.NotEqual(t, id.Gen, id2.Gen)

	// Устаревший идентификатор не проходит ни одну операцию
	assert.False(t, s.IsAlive(id))
	_, ok := s.Transform(id)
	assert.False(t, ok)
	assert.ErrorIs(t, s.SetTransform(id, NewTransform(vec.Vec2{})), ErrInvalidEntity)
	assert.Nil(t, s.MutTransform(id))
}

func TestPackedRoundTrip(t *testing.T) {
	id := EntityID{Index: 123456, Gen: 42}
	assert.Equal(t, id, UnpackID(id.Packed()))
}

func TestComponentOverwriteKeepsArchetype(t *testing.T) {
	s := NewStore()
	id := s.CreateEntity()

	require.NoError(t, s.SetTransform(id, NewTransform(vec.Vec2{X: 1})))
	v1 := s.version

	// Повторная запись того же вида меняет данные, но не структуру
	require.NoError(t, s.SetTransform(id, NewTransform(vec.Vec2{X: 2})))
	assert.Equal(t, v1, s.version)

	tr, ok := s.Transform(id)
	require.True(t, ok)
	assert.Equal(t, 2.0, tr.Pos.X)
	assert.True(t, s.auditArchetypes())
}

func TestQueryMatchesSupersets(t *testing.T) {
	s := NewStore()

	a := s.CreateEntity()
	require.NoError(t, s.SetTransform(a, NewTransform(vec.Vec2{})))

	b := s.CreateEntity()
	require.NoError(t, s.SetTransform(b, NewTransform(vec.Vec2{})))
	require.NoError(t, s.SetHitbox(b, Hitbox{Half: vec.Vec2{X: 1, Y: 1}, Mass: 1}))

	c := s.CreateEntity()
	require.NoError(t, s.SetHitbox(c, Hitbox{Half: vec.Vec2{X: 1, Y: 1}, Mass: 1}))

	assert.ElementsMatch(t, []EntityID{a, b}, s.Query(MaskTransform))
	assert.ElementsMatch(t, []EntityID{b, c}, s.Query(MaskHitbox))
	assert.ElementsMatch(t, []EntityID{b}, s.Query(MaskTransform|MaskHitbox))

	// Удаление компонента выводит сущность из результата
	require.NoError(t, s.RemoveComponent(b, KindTransform))
	assert.ElementsMatch(t, []EntityID{a}, s.Query(MaskTransform))

	// Удаление отсутствующего компонента — no-op
	require.NoError(t, s.RemoveComponent(b, KindTransform))
	assert.True(t, s.auditArchetypes())
}

func TestQueryCacheReuse(t *testing.T) {
	s := NewStore()
	for i := 0; i < 10; i++ {
		id := s.CreateEntity()
		require.NoError(t, s.SetTransform(id, NewTransform(vec.Vec2{X: float64(i)})))
	}

	first := s.Query(MaskTransform)
	version := s.version

	// Без структурных изменений повторный запрос не пересобирается
	second := s.Query(MaskTransform)
	assert.Equal(t, version, s.version)
	assert.Equal(t, len(first), len(second))
}

func TestDeferredStructuralOps(t *testing.T) {
	s := NewStore()

	victim := s.CreateEntity()
	require.NoError(t, s.SetTransform(victim, NewTransform(vec.Vec2{})))

	s.beginDefer()

	// Создание разрешено сразу: пустая маска не видна запросам
	born := s.CreateEntity()
	require.NoError(t, s.SetHitbox(born, Hitbox{Half: vec.Vec2{X: 1, Y: 1}, Mass: 1}))
	assert.Empty(t, s.Query(MaskHitbox))

	// Уничтожение отложено: сущность жива до конца тика
	require.NoError(t, s.DestroyEntity(victim))
	assert.True(t, s.IsAlive(victim))
	assert.Len(t, s.Query(MaskTransform), 1)

	s.Flush()

	assert.False(t, s.IsAlive(victim))
	assert.Empty(t, s.Query(MaskTransform))
	assert.Len(t, s.Query(MaskHitbox), 1)
	assert.True(t, s.auditArchetypes())
}

func TestDeferredOpsOnSameTickDeath(t *testing.T) {
	s := NewStore()
	id := s.CreateEntity()
	require.NoError(t, s.SetTransform(id, NewTransform(vec.Vec2{})))

	s.beginDefer()
	require.NoError(t, s.DestroyEntity(id))
	// Команда над сущностью, умирающей в том же тике, тихо пропадает
	require.NoError(t, s.SetHitbox(id, Hitbox{Half: vec.Vec2{X: 1, Y: 1}}))
	s.Flush()

	assert.False(t, s.IsAlive(id))
	assert.Empty(t, s.Query(MaskHitbox))
	assert.True(t, s.auditArchetypes())
}

// TestArchetypeIntegrityRandomOps гоняет случайные структурные операции
// и проверяет, что сущность никогда не числится в двух архетипах
func TestArchetypeIntegrityRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := NewStore()

	ids := make([]EntityID, 0, 64)
	for i := 0; i < 32; i++ {
		ids = append(ids, s.CreateEntity())
	}

	kinds := []ComponentKind{KindTransform, KindHitbox, KindCharacter, KindInput, KindOwner}
	for step := 0; step < 2000; step++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(10) {
		case 0:
			if s.IsAlive(id) {
				require.NoError(t, s.DestroyEntity(id))
			}
		case 1:
			ids = append(ids, s.CreateEntity())
		case 2, 3, 4:
			if s.IsAlive(id) {
				require.NoError(t, s.RemoveComponent(id, kinds[rng.Intn(len(kinds))]))
			}
		default:
			if s.IsAlive(id) {
				switch kinds[rng.Intn(len(kinds))] {
				case KindTransform:
					require.NoError(t, s.SetTransform(id, NewTransform(vec.Vec2{})))
				case KindHitbox:
					require.NoError(t, s.SetHitbox(id, Hitbox{Half: vec.Vec2{X: 1, Y: 1}}))
				case KindCharacter:
					require.NoError(t, s.SetCharacter(id, character.NewStatus(character.DefaultTuning())))
				case KindInput:
					require.NoError(t, s.SetInput(id, Input{}))
				case KindOwner:
					require.NoError(t, s.SetOwner(id, Owner{ClientID: 1}))
				}
			}
		}

		if step%100 == 0 {
			require.True(t, s.auditArchetypes(), "архетипы разошлись на шаге %d", step)
		}
	}
	require.True(t, s.auditArchetypes())
}

func TestCreateEntityWithID(t *testing.T) {
	s := NewStore()

	id := EntityID{Index: 5, Gen: 3}
	require.NoError(t, s.CreateEntityWithID(id))
	require.True(t, s.IsAlive(id))

	// Конфликт с живой сущностью
	require.ErrorIs(t, s.CreateEntityWithID(id), ErrInvalidEntity)

	// Нулевое поколение невалидно
	require.ErrorIs(t, s.CreateEntityWithID(EntityID{Index: 9}), ErrInvalidEntity)

	// Идентификатор другого поколения на том же индексе не путается
	assert.False(t, s.IsAlive(EntityID{Index: 5, Gen: 2}))
}

// TestCreateWithIDReleasedSlot: воскрешение уничтоженного слота обязано
// изъять его индекс из списка свободных, иначе CreateEntity выдаст тот же
// слот второй раз и затрет живую сущность
func TestCreateWithIDReleasedSlot(t *testing.T) {
	s := NewStore()

	a := s.CreateEntity()
	require.NoError(t, s.DestroyEntity(a))

	mirror := EntityID{Index: a.Index, Gen: a.Gen + 1}
	require.NoError(t, s.CreateEntityWithID(mirror))
	require.NoError(t, s.SetOwner(mirror, Owner{ClientID: 9}))

	fresh := s.CreateEntity()
	assert.NotEqual(t, mirror.Index, fresh.Index, "CreateEntity не должен переиспользовать живой слот")

	// Обе сущности живы и не делят данные
	require.True(t, s.IsAlive(mirror))
	require.True(t, s.IsAlive(fresh))
	assert.Equal(t, 2, s.Alive())

	owner, ok := s.Owner(mirror)
	require.True(t, ok)
	assert.Equal(t, uint32(9), owner.ClientID)
	assert.True(t, s.auditArchetypes())
}

func BenchmarkQueryCached(b *testing.B) {
	s := NewStore()
	for i := 0; i < 1000; i++ {
		id := s.CreateEntity()
		_ = s.SetTransform(id, NewTransform(vec.Vec2{X: float64(i)}))
		if i%2 == 0 {
			_ = s.SetHitbox(id, Hitbox{Half: vec.Vec2{X: 1, Y: 1}, Mass: 1})
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Query(MaskTransform | MaskHitbox)
	}
}

func BenchmarkCreateDestroy(b *testing.B) {
	s := NewStore()
	for i := 0; i < b.N; i++ {
		id := s.CreateEntity()
		_ = s.SetTransform(id, Transform{})
		_ = s.DestroyEntity(id)
	}
}
