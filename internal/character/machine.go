package character

import "github.com/sha1d/pixel-sahur/internal/vec"

// Tuning — настройки персонажа. Длительности выражены в тиках симуляции,
// скорости — в мировых единицах в секунду.
type Tuning struct {
	MoveSpeed           float64
	DashSpeed           float64
	DashTicks           uint32
	AttackActiveTicks   uint32
	AttackRecoveryTicks uint32
	JumpTicks           uint32
	FallTicks           uint32
	HurtTicks           uint32
	InvulnTicks         uint32
	BufferTicks         uint32
	MaxHealth           int32
}

// DefaultTuning возвращает тюнинг по умолчанию для тикрейта 60 Гц
func DefaultTuning() Tuning {
	return Tuning{
		MoveSpeed:           6.0,
		DashSpeed:           18.0,
		DashTicks:           12,
		AttackActiveTicks:   18,
		AttackRecoveryTicks: 12,
		JumpTicks:           20,
		FallTicks:           16,
		HurtTicks:           20,
		InvulnTicks:         45,
		BufferTicks:         15,
		MaxHealth:           100,
	}
}

// bufferCap — емкость кольца буферизованных действий
const bufferCap = 8

type bufferedAction struct {
	action Action
	tick   uint32
}

// Status — полное состояние персонажа. Простое значение: буфер ввода —
// кольцо фиксированного размера, копирование дешевое.
type Status struct {
	State       ActionState
	Health      int32
	MaxHealth   int32
	Facing      vec.Vec2
	StateTicks  uint32
	InvulnTicks uint32

	bufLen uint8
	buf    [bufferCap]bufferedAction
}

// NewStatus создает персонажа в Idle с полным здоровьем
func NewStatus(t Tuning) Status {
	return Status{
		State:     StateIdle,
		Health:    t.MaxHealth,
		MaxHealth: t.MaxHealth,
		Facing:    vec.Vec2{X: 1},
	}
}

// BufferedActions возвращает число действий, ожидающих в буфере
func (st *Status) BufferedActions() int {
	return int(st.bufLen)
}

// triggerKind — вид триггера перехода
type triggerKind uint8

const (
	onAction triggerKind = iota // флаг действия (через буфер ввода)
	onTimer                     // истечение таймера состояния
	onCondition                 // произвольное условие
)

type guardFunc func(st *Status, in Frame) bool

// rule — строка таблицы переходов состояния
type rule struct {
	trigger triggerKind
	action  Action
	after   uint32
	guard   guardFunc
	target  ActionState
}

// Machine — табличный конечный автомат. Один экземпляр обслуживает всех
// персонажей: состояние целиком живет в Status.
type Machine struct {
	tuning Tuning
	rules  map[ActionState][]rule
}

// NewMachine строит автомат по таблице переходов из настроек
func NewMachine(t Tuning) *Machine {
	moving := func(st *Status, in Frame) bool { return !in.Move.IsZero() }
	still := func(st *Status, in Frame) bool { return in.Move.IsZero() }

	actionRules := []rule{
		{trigger: onAction, action: ActionAttack, target: StateAttack},
		{trigger: onAction, action: ActionDash, target: StateDash},
		{trigger: onAction, action: ActionJump, target: StateJump},
	}

	m := &Machine{tuning: t}
	m.rules = map[ActionState][]rule{
		StateIdle: append(append([]rule{}, actionRules...),
			rule{trigger: onCondition, guard: moving, target: StateMove}),
		StateMove: append(append([]rule{}, actionRules...),
			rule{trigger: onCondition, guard: still, target: StateIdle}),
		StateJump:   {{trigger: onTimer, after: t.JumpTicks, target: StateFall}},
		StateFall:   {{trigger: onTimer, after: t.FallTicks, target: StateIdle}},
		StateDash:   {{trigger: onTimer, after: t.DashTicks, target: StateIdle}},
		StateAttack: {{trigger: onTimer, after: t.AttackActiveTicks + t.AttackRecoveryTicks, target: StateIdle}},
		StateHurt:   {{trigger: onTimer, after: t.HurtTicks, target: StateIdle}},
		StateDead:   nil,
	}
	return m
}

// Tuning возвращает настройки автомата
func (m *Machine) Tuning() Tuning {
	return m.tuning
}

// Step продвигает персонажа на один тик. Порядок фаз фиксирован:
// таймеры, буферизация новых действий, розыгрыш буфера, условия движения.
// Действие, ставшее легальным в этом тике, срабатывает в этом же тике.
func (m *Machine) Step(st *Status, in Frame, tick uint32) {
	if st.InvulnTicks > 0 {
		st.InvulnTicks--
	}
	st.StateTicks++

	if st.State == StateDead {
		return
	}

	if !in.Move.IsZero() {
		st.Facing = in.Move.Normalized()
	}

	// Таймерные переходы текущего состояния
	for _, r := range m.rules[st.State] {
		if r.trigger == onTimer && st.StateTicks >= r.after {
			m.transition(st, r.target)
			break
		}
	}

	// Новые действия — в буфер; просроченные — вон
	m.bufferActions(st, in, tick)
	st.dropExpired(tick, m.tuning.BufferTicks)

	// Первое действие из буфера, легальное в текущем состоянии
	if m.consumeBuffer(st, in) {
		return
	}

	// Условные переходы (Idle <-> Move по вектору движения)
	for _, r := range m.rules[st.State] {
		if r.trigger == onCondition && r.guard(st, in) {
			m.transition(st, r.target)
			return
		}
	}
}

// Damage применяет урон. Возвращает true, если персонаж погиб этим уроном.
// Урон игнорируется в Dead и при активной неуязвимости; здоровье
// ограничено диапазоном [0, MaxHealth].
func (m *Machine) Damage(st *Status, amount int32) bool {
	if amount <= 0 || st.State == StateDead || st.InvulnTicks > 0 {
		return false
	}

	st.Health -= amount
	if st.Health <= 0 {
		st.Health = 0
		m.transition(st, StateDead)
		return true
	}

	m.transition(st, StateHurt)
	return false
}

// Heal восстанавливает здоровье, не превышая максимум. Мертвых не лечит.
func (m *Machine) Heal(st *Status, amount int32) {
	if amount <= 0 || st.State == StateDead {
		return
	}
	st.Health += amount
	if st.Health > st.MaxHealth {
		st.Health = st.MaxHealth
	}
}

// Respawn возвращает персонажа в строй: полное здоровье, Idle, пустой
// буфер. Единственный выход из Dead.
func (m *Machine) Respawn(st *Status) {
	st.Health = st.MaxHealth
	st.InvulnTicks = m.tuning.InvulnTicks
	st.bufLen = 0
	m.transition(st, StateIdle)
}

// Speed возвращает скорость движения в текущем состоянии
func (m *Machine) Speed(st *Status) float64 {
	switch st.State {
	case StateDash:
		return m.tuning.DashSpeed
	case StateAttack, StateHurt, StateDead:
		return 0
	default:
		return m.tuning.MoveSpeed
	}
}

// EffectiveMove возвращает фактический вектор движения: рывок идет по
// направлению взгляда и не управляется, укорененные состояния не двигаются.
func (m *Machine) EffectiveMove(st *Status, move vec.Vec2) vec.Vec2 {
	switch st.State {
	case StateDash:
		return st.Facing
	case StateAttack, StateHurt, StateDead:
		return vec.Vec2{}
	default:
		return move
	}
}

// transition переводит персонажа в новое состояние и применяет входные
// эффекты состояния
func (m *Machine) transition(st *Status, target ActionState) {
	st.State = target
	st.StateTicks = 0

	switch target {
	case StateHurt:
		st.InvulnTicks = m.tuning.InvulnTicks
	}
}

// bufferActions кладет новые флаги действий в буфер. Действие, уже
// ожидающее в буфере, повторно не ставится.
func (m *Machine) bufferActions(st *Status, in Frame, tick uint32) {
	for _, a := range []Action{ActionAttack, ActionDash, ActionJump} {
		if in.Actions.Has(a) && !st.buffered(a) {
			st.push(a, tick)
		}
	}
}

// consumeBuffer разыгрывает первое (старейшее) действие, для которого
// текущее состояние имеет переход. Одно действие за тик.
func (m *Machine) consumeBuffer(st *Status, in Frame) bool {
	for i := 0; i < int(st.bufLen); i++ {
		for _, r := range m.rules[st.State] {
			if r.trigger != onAction || r.action != st.buf[i].action {
				continue
			}
			if r.guard != nil && !r.guard(st, in) {
				continue
			}
			st.removeAt(i)
			m.transition(st, r.target)
			return true
		}
	}
	return false
}

func (st *Status) buffered(a Action) bool {
	for i := 0; i < int(st.bufLen); i++ {
		if st.buf[i].action == a {
			return true
		}
	}
	return false
}

// push добавляет действие в хвост; при переполнении вытесняется старейшее
func (st *Status) push(a Action, tick uint32) {
	if st.bufLen == bufferCap {
		st.removeAt(0)
	}
	st.buf[st.bufLen] = bufferedAction{action: a, tick: tick}
	st.bufLen++
}

func (st *Status) removeAt(i int) {
	copy(st.buf[i:], st.buf[i+1:int(st.bufLen)])
	st.bufLen--
}

// dropExpired удаляет действия, пролежавшие в буфере дольше окна
func (st *Status) dropExpired(tick, window uint32) {
	for i := 0; i < int(st.bufLen); {
		if tick-st.buf[i].tick > window {
			st.removeAt(i)
			continue
		}
		i++
	}
}
