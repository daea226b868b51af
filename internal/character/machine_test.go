package character

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sha1d/pixel-sahur/internal/vec"
)

func testTuning() Tuning {
	t := DefaultTuning()
	t.AttackActiveTicks = 18
	t.AttackRecoveryTicks = 12
	t.BufferTicks = 15
	return t
}

// step прогоняет автомат n тиков с одинаковым вводом
func step(m *Machine, st *Status, in Frame, from uint32, n int) uint32 {
	tick := from
	for i := 0; i < n; i++ {
		tick++
		m.Step(st, in, tick)
	}
	return tick
}

func TestIdleMoveTransitions(t *testing.T) {
	m := NewMachine(testTuning())
	st := NewStatus(m.Tuning())

	require.Equal(t, StateIdle, st.State)

	m.Step(&st, Frame{Move: vec.Vec2{X: 1}}, 1)
	assert.Equal(t, StateMove, st.State)
	assert.Equal(t, vec.Vec2{X: 1}, st.Facing)

	m.Step(&st, Frame{}, 2)
	assert.Equal(t, StateIdle, st.State)
	// Направление взгляда сохраняется без ввода
	assert.Equal(t, vec.Vec2{X: 1}, st.Facing)
}

func TestAttackCycle(t *testing.T) {
	m := NewMachine(testTuning())
	st := NewStatus(m.Tuning())
	total := int(m.Tuning().AttackActiveTicks + m.Tuning().AttackRecoveryTicks)

	m.Step(&st, Frame{Actions: ActionAttack}, 1)
	require.Equal(t, StateAttack, st.State)

	// Атака держится весь active+recovery
	tick := step(m, &st, Frame{}, 1, total-1)
	assert.Equal(t, StateAttack, st.State)

	// Следующий тик — возврат в Idle
	m.Step(&st, Frame{}, tick+1)
	assert.Equal(t, StateIdle, st.State)
}

// TestBufferedDashFiresWhenRecoveryEnds: рывок, нажатый во время восстановления
// после атаки, срабатывает ровно в тик окончания восстановления
func TestBufferedDashFiresWhenRecoveryEnds(t *testing.T) {
	m := NewMachine(testTuning())
	st := NewStatus(m.Tuning())
	total := int(m.Tuning().AttackActiveTicks + m.Tuning().AttackRecoveryTicks)

	m.Step(&st, Frame{Actions: ActionAttack}, 1)
	require.Equal(t, StateAttack, st.State)

	// 19 тиков атаки прошло, идет восстановление — жмем рывок
	tick := step(m, &st, Frame{}, 1, 19)
	m.Step(&st, Frame{Actions: ActionDash}, tick+1)
	tick++
	require.Equal(t, StateAttack, st.State, "рывок в восстановлении буферизуется")
	require.Equal(t, 1, st.BufferedActions())

	// Дотягиваем до предпоследнего тика атаки
	tick = step(m, &st, Frame{}, tick, total-int(st.StateTicks)-1)
	require.Equal(t, StateAttack, st.State)

	// Тик окончания восстановления: атака спадает и буфер срабатывает сразу
	m.Step(&st, Frame{}, tick+1)
	assert.Equal(t, StateDash, st.State)
	assert.Equal(t, 0, st.BufferedActions())
}

func TestBufferedActionExpires(t *testing.T) {
	m := NewMachine(testTuning())
	st := NewStatus(m.Tuning())

	m.Step(&st, Frame{Actions: ActionJump}, 1)
	require.Equal(t, StateJump, st.State)

	// Рывок нажат в воздухе: в Jump/Fall перехода нет, действие ждет в буфере
	m.Step(&st, Frame{Actions: ActionDash}, 2)
	require.Equal(t, 1, st.BufferedActions())

	// Полет длится дольше окна буфера — к приземлению рывок протух
	airborne := int(m.Tuning().JumpTicks + m.Tuning().FallTicks)
	step(m, &st, Frame{}, 2, airborne+2)
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 0, st.BufferedActions())
}

func TestJumpFallLanding(t *testing.T) {
	m := NewMachine(testTuning())
	st := NewStatus(m.Tuning())

	m.Step(&st, Frame{Actions: ActionJump}, 1)
	require.Equal(t, StateJump, st.State)
	assert.True(t, st.State.Airborne())

	tick := step(m, &st, Frame{}, 1, int(m.Tuning().JumpTicks))
	assert.Equal(t, StateFall, st.State)

	step(m, &st, Frame{}, tick, int(m.Tuning().FallTicks))
	assert.Equal(t, StateIdle, st.State)
}

func TestDamageHurtAndInvulnerability(t *testing.T) {
	m := NewMachine(testTuning())
	st := NewStatus(m.Tuning())

	died := m.Damage(&st, 30)
	assert.False(t, died)
	assert.Equal(t, StateHurt, st.State)
	assert.Equal(t, int32(70), st.Health)
	require.Greater(t, st.InvulnTicks, uint32(0))

	// Пока активна неуязвимость, урон игнорируется
	died = m.Damage(&st, 30)
	assert.False(t, died)
	assert.Equal(t, int32(70), st.Health)

	// Оглушение заканчивается по таймеру
	step(m, &st, Frame{}, 1, int(m.Tuning().HurtTicks)+1)
	assert.Equal(t, StateIdle, st.State)
}

func TestDeathAndRespawn(t *testing.T) {
	m := NewMachine(testTuning())
	st := NewStatus(m.Tuning())
	st.InvulnTicks = 0

	died := m.Damage(&st, st.MaxHealth+50)
	assert.True(t, died)
	assert.Equal(t, StateDead, st.State)
	assert.Equal(t, int32(0), st.Health, "здоровье не уходит в минус")

	// Dead — терминальное состояние: ни ввод, ни урон, ни лечение не действуют
	m.Step(&st, Frame{Move: vec.Vec2{X: 1}, Actions: ActionAttack | ActionDash}, 10)
	assert.Equal(t, StateDead, st.State)
	assert.False(t, m.Damage(&st, 10))
	m.Heal(&st, 10)
	assert.Equal(t, int32(0), st.Health)

	// Единственный выход — явный Respawn
	m.Respawn(&st)
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, st.MaxHealth, st.Health)
	assert.Greater(t, st.InvulnTicks, uint32(0), "защита после возрождения")
}

func TestHealClampsToMax(t *testing.T) {
	m := NewMachine(testTuning())
	st := NewStatus(m.Tuning())
	st.InvulnTicks = 0

	m.Damage(&st, 10)
	m.Heal(&st, 1000)
	assert.Equal(t, st.MaxHealth, st.Health)
}

func TestSpeedAndEffectiveMove(t *testing.T) {
	m := NewMachine(testTuning())
	st := NewStatus(m.Tuning())

	assert.Equal(t, m.Tuning().MoveSpeed, m.Speed(&st))

	// Рывок: скорость рывка, направление — по взгляду, ввод игнорируется
	m.Step(&st, Frame{Move: vec.Vec2{Y: 1}}, 1)
	m.Step(&st, Frame{Actions: ActionDash}, 2)
	require.Equal(t, StateDash, st.State)
	assert.Equal(t, m.Tuning().DashSpeed, m.Speed(&st))
	assert.Equal(t, vec.Vec2{Y: 1}, m.EffectiveMove(&st, vec.Vec2{X: -1}))

	// Атака укореняет
	st2 := NewStatus(m.Tuning())
	m.Step(&st2, Frame{Actions: ActionAttack}, 1)
	require.Equal(t, StateAttack, st2.State)
	assert.Zero(t, m.Speed(&st2))
	assert.True(t, m.EffectiveMove(&st2, vec.Vec2{X: 1}).IsZero())
}

func TestHeldActionDoesNotStack(t *testing.T) {
	m := NewMachine(testTuning())
	st := NewStatus(m.Tuning())

	m.Step(&st, Frame{Actions: ActionAttack}, 1)
	require.Equal(t, StateAttack, st.State)

	// Зажатая кнопка не плодит дубликаты в буфере
	for tick := uint32(2); tick <= 6; tick++ {
		m.Step(&st, Frame{Actions: ActionDash}, tick)
	}
	assert.Equal(t, 1, st.BufferedActions())
}
