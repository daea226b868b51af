// Package character реализует конечный автомат боевого персонажа:
// восемь состояний, табличные переходы, буферизация ввода и урон
// с окном неуязвимости.
package character

import "github.com/sha1d/pixel-sahur/internal/vec"

// ActionState — состояние персонажа
type ActionState uint8

const (
	StateIdle ActionState = iota
	StateMove
	StateJump
	StateFall
	StateDash
	StateAttack
	StateHurt
	StateDead
)

// String возвращает имя состояния
func (s ActionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMove:
		return "move"
	case StateJump:
		return "jump"
	case StateFall:
		return "fall"
	case StateDash:
		return "dash"
	case StateAttack:
		return "attack"
	case StateHurt:
		return "hurt"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Airborne сообщает, что персонаж находится в воздухе
func (s ActionState) Airborne() bool {
	return s == StateJump || s == StateFall
}

// Action — битовые флаги разовых действий из ввода
type Action uint16

const (
	ActionAttack Action = 1 << iota
	ActionDash
	ActionJump
)

// Has проверяет наличие флага
func (a Action) Has(flag Action) bool {
	return a&flag != 0
}

// Frame — ввод персонажа на один тик: вектор движения и флаги действий
type Frame struct {
	Move    vec.Vec2
	Actions Action
}
