package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sha1d/pixel-sahur/internal/character"
	"github.com/sha1d/pixel-sahur/internal/ecs"
	"github.com/sha1d/pixel-sahur/internal/physics"
	"github.com/sha1d/pixel-sahur/internal/vec"
	"github.com/sha1d/pixel-sahur/internal/worldgen"
)

const testDT = 1.0 / 60.0

func testOptions() Options {
	return Options{
		Bounds:       physics.NewRect(-32, -32, 32, 32),
		CellSize:     8.0,
		Tuning:       character.DefaultTuning(),
		HazardDamage: 10,
		RespawnTicks: 180,
	}
}

func stepN(w *World, n int) {
	for i := 0; i < n; i++ {
		w.Step(testDT)
	}
}

func TestSpawnPlayerComponents(t *testing.T) {
	w := NewWorld(testOptions())

	id, err := w.SpawnPlayer(7)
	require.NoError(t, err)

	mask, ok := w.Store().Mask(id)
	require.True(t, ok)
	assert.True(t, mask.Contains(ecs.MaskTransform|ecs.MaskHitbox|ecs.MaskCharacter|ecs.MaskInput|ecs.MaskOwner))

	owner, ok := w.Store().Owner(id)
	require.True(t, ok)
	assert.Equal(t, uint32(7), owner.ClientID)

	st, ok := w.Store().Character(id)
	require.True(t, ok)
	assert.Equal(t, character.StateIdle, st.State)
	assert.Equal(t, w.Machine().Tuning().MaxHealth, st.Health)

	// Без генератора единственная точка возрождения — центр мира
	tr, ok := w.Store().Transform(id)
	require.True(t, ok)
	assert.Equal(t, w.Bounds().Center(), tr.Pos)
}

func TestMovementClampsToBounds(t *testing.T) {
	opts := testOptions()
	opts.Bounds = physics.NewRect(-2, -2, 2, 2)
	w := NewWorld(opts)

	id, err := w.SpawnPlayer(1)
	require.NoError(t, err)
	require.NoError(t, w.ApplyInput(id, ecs.Input{Move: vec.Vec2{X: 1}}))

	// 6 ед/с при 60 тиках — 0.1 за тик; до границы 20 тиков, дальше зажим
	stepN(w, 60)

	tr, _ := w.Store().Transform(id)
	assert.InDelta(t, 2.0, tr.Pos.X, 1e-9)
	assert.InDelta(t, 0.0, tr.Pos.Y, 1e-9)
}

func TestDiagonalInputNormalized(t *testing.T) {
	w := NewWorld(testOptions())

	id, err := w.SpawnPlayer(1)
	require.NoError(t, err)
	require.NoError(t, w.ApplyInput(id, ecs.Input{Move: vec.Vec2{X: 1, Y: 1}}))

	w.Step(testDT)

	tr, _ := w.Store().Transform(id)
	moved := tr.Pos.Sub(w.Bounds().Center())
	assert.InDelta(t, w.Machine().Tuning().MoveSpeed*testDT, moved.Length(), 1e-9)
	assert.InDelta(t, moved.X, moved.Y, 1e-9)
}

func TestObstacleBlocksPlayer(t *testing.T) {
	w := NewWorld(testOptions())

	_, err := w.SpawnObstacle(vec.Vec2{X: 2, Y: 0}, vec.Vec2{X: 0.5, Y: 0.5})
	require.NoError(t, err)

	id, err := w.SpawnPlayer(1)
	require.NoError(t, err)
	require.NoError(t, w.ApplyInput(id, ecs.Input{Move: vec.Vec2{X: 1}}))

	stepN(w, 120)

	// Игрок уперся в препятствие: выталкивание возвращает его к касанию
	tr, _ := w.Store().Transform(id)
	assert.InDelta(t, 1.0, tr.Pos.X, 1e-6)
	assert.InDelta(t, 0.0, tr.Pos.Y, 1e-9)
}

func TestHazardDamageRespectsInvulnWindow(t *testing.T) {
	w := NewWorld(testOptions())

	_, err := w.SpawnHazard(vec.Vec2{}, vec.Vec2{X: 2, Y: 2})
	require.NoError(t, err)

	id, err := w.SpawnPlayer(1)
	require.NoError(t, err)

	// Первый тик: контакт enter, урон, переход в Hurt с неуязвимостью
	w.Step(testDT)
	st, _ := w.Store().Character(id)
	assert.Equal(t, int32(90), st.Health)
	assert.Equal(t, character.StateHurt, st.State)

	// Пока неуязвимость тикает, контакт stay урона не наносит
	stepN(w, 44)
	st, _ = w.Store().Character(id)
	assert.Equal(t, int32(90), st.Health)

	// Окно истекло — следующий контакт снова ранит
	w.Step(testDT)
	st, _ = w.Store().Character(id)
	assert.Equal(t, int32(80), st.Health)
}

func TestHazardIgnoredWhileAirborne(t *testing.T) {
	w := NewWorld(testOptions())

	_, err := w.SpawnHazard(vec.Vec2{}, vec.Vec2{X: 2, Y: 2})
	require.NoError(t, err)

	id, err := w.SpawnPlayer(1)
	require.NoError(t, err)

	require.NoError(t, w.ApplyInput(id, ecs.Input{Actions: character.ActionJump}))
	w.Step(testDT)
	require.NoError(t, w.ApplyInput(id, ecs.Input{}))

	st, _ := w.Store().Character(id)
	require.Equal(t, character.StateJump, st.State)

	// Jump 20 тиков + Fall 16: до приземления зона не трогает
	stepN(w, 35)
	st, _ = w.Store().Character(id)
	assert.Equal(t, w.Machine().Tuning().MaxHealth, st.Health)

	// Тик приземления: Fall -> Idle, контакт stay наносит урон
	w.Step(testDT)
	st, _ = w.Store().Character(id)
	assert.Equal(t, int32(90), st.Health)
}

func TestDeadPlayerRespawnsAfterTimer(t *testing.T) {
	opts := testOptions()
	opts.HazardDamage = opts.Tuning.MaxHealth
	opts.RespawnTicks = 10
	w := NewWorld(opts)

	_, err := w.SpawnHazard(vec.Vec2{}, vec.Vec2{X: 2, Y: 2})
	require.NoError(t, err)

	id, err := w.SpawnPlayer(1)
	require.NoError(t, err)

	w.Step(testDT)
	st, _ := w.Store().Character(id)
	require.Equal(t, character.StateDead, st.State)
	assert.Equal(t, int32(0), st.Health)

	deaths := w.DrainDeaths()
	require.Len(t, deaths, 1)
	assert.Equal(t, id, deaths[0].Entity)
	assert.Equal(t, uint32(1), deaths[0].Tick)
	assert.Empty(t, w.DrainDeaths())

	// Таймер возрождения: 10 тиков в Dead, затем Idle с полным здоровьем
	stepN(w, 10)
	st, _ = w.Store().Character(id)
	assert.Equal(t, character.StateIdle, st.State)
	assert.Equal(t, opts.Tuning.MaxHealth, st.Health)

	tr, _ := w.Store().Transform(id)
	assert.Equal(t, w.Bounds().Center(), tr.Pos)
	assert.True(t, tr.Vel.IsZero())
}

func TestDespawnRemovesFromSimulation(t *testing.T) {
	w := NewWorld(testOptions())

	id, err := w.SpawnPlayer(1)
	require.NoError(t, err)
	require.NoError(t, w.Despawn(id))

	assert.False(t, w.Store().IsAlive(id))
	assert.ErrorIs(t, w.ApplyInput(id, ecs.Input{Move: vec.Vec2{X: 1}}), ecs.ErrInvalidEntity)

	w.Step(testDT)
	assert.Equal(t, 0, w.Store().Alive())
}

func TestPopulatedArenaHasSpawnPoints(t *testing.T) {
	opts := testOptions()
	opts.Bounds = physics.NewRect(-64, -64, 64, 64)
	w := NewWorld(opts)
	require.NoError(t, w.Populate(worldgen.NewArenaGenerator(1337)))

	require.Greater(t, w.Store().Alive(), 0)

	// Игроки расходятся по кольцу точек возрождения
	a, err := w.SpawnPlayer(1)
	require.NoError(t, err)
	b, err := w.SpawnPlayer(2)
	require.NoError(t, err)

	ta, _ := w.Store().Transform(a)
	tb, _ := w.Store().Transform(b)
	assert.NotEqual(t, ta.Pos, tb.Pos)
}

// scriptInput возвращает детерминированный ввод игрока p на тик i
func scriptInput(p, i int) ecs.Input {
	in := ecs.Input{
		Move: vec.Vec2{
			X: float64((i+p*3)%7) - 3,
			Y: float64((i+p*5)%5) - 2,
		},
	}
	switch {
	case i%37 == 0:
		in.Actions |= character.ActionDash
	case i%53 == 0:
		in.Actions |= character.ActionJump
	case i%29 == 0:
		in.Actions |= character.ActionAttack
	}
	return in
}

func worldState(t *testing.T, w *World) []any {
	t.Helper()
	var out []any
	for _, id := range w.Store().Query(ecs.MaskTransform) {
		tr, _ := w.Store().Transform(id)
		out = append(out, id, tr)
		if st, ok := w.Store().Character(id); ok {
			out = append(out, st)
		}
	}
	return out
}

func TestTwoWorldsSameSeedStayIdentical(t *testing.T) {
	build := func() (*World, []ecs.EntityID) {
		w := NewWorld(testOptions())
		require.NoError(t, w.Populate(worldgen.NewArenaGenerator(99)))
		var ids []ecs.EntityID
		for c := uint32(1); c <= 2; c++ {
			id, err := w.SpawnPlayer(c)
			require.NoError(t, err)
			ids = append(ids, id)
		}
		return w, ids
	}

	wa, idsA := build()
	wb, idsB := build()
	require.Equal(t, idsA, idsB)

	for i := 0; i < 180; i++ {
		for p, id := range idsA {
			require.NoError(t, wa.ApplyInput(id, scriptInput(p, i)))
		}
		for p, id := range idsB {
			require.NoError(t, wb.ApplyInput(id, scriptInput(p, i)))
		}
		wa.Step(testDT)
		wb.Step(testDT)
	}

	assert.Equal(t, wa.Tick(), wb.Tick())
	assert.Equal(t, wa.Store().Alive(), wb.Store().Alive())
	assert.Equal(t, worldState(t, wa), worldState(t, wb))
}
