package ecs

import (
	"github.com/sha1d/pixel-sahur/internal/character"
	"github.com/sha1d/pixel-sahur/internal/physics"
	"github.com/sha1d/pixel-sahur/internal/vec"
)

// ComponentKind идентифицирует вид компонента. Набор фиксирован на этапе
// компиляции: данные каждого вида лежат в собственной плотной таблице.
type ComponentKind uint8

const (
	KindTransform ComponentKind = iota
	KindHitbox
	KindCharacter
	KindInput
	KindOwner
	kindCount
)

// String возвращает имя вида компонента
func (k ComponentKind) String() string {
	switch k {
	case KindTransform:
		return "transform"
	case KindHitbox:
		return "hitbox"
	case KindCharacter:
		return "character"
	case KindInput:
		return "input"
	case KindOwner:
		return "owner"
	default:
		return "unknown"
	}
}

// ComponentMask — битовая маска набора компонентов; значение маски
// определяет архетип сущности
type ComponentMask uint8

const (
	MaskTransform ComponentMask = 1 << KindTransform
	MaskHitbox    ComponentMask = 1 << KindHitbox
	MaskCharacter ComponentMask = 1 << KindCharacter
	MaskInput     ComponentMask = 1 << KindInput
	MaskOwner     ComponentMask = 1 << KindOwner
)

// MaskOf собирает маску из перечисленных видов
func MaskOf(kinds ...ComponentKind) ComponentMask {
	var m ComponentMask
	for _, k := range kinds {
		m |= 1 << k
	}
	return m
}

// Has проверяет наличие вида в маске
func (m ComponentMask) Has(k ComponentKind) bool {
	return m&(1<<k) != 0
}

// Contains проверяет, что маска содержит все виды из required
func (m ComponentMask) Contains(required ComponentMask) bool {
	return m&required == required
}

// Transform — позиция и движение сущности в мире
type Transform struct {
	Pos   vec.Vec2
	Vel   vec.Vec2
	Rot   float64
	Scale float64
}

// NewTransform создает Transform в точке pos с масштабом 1
func NewTransform(pos vec.Vec2) Transform {
	return Transform{Pos: pos, Scale: 1}
}

// Hitbox — коллайдер сущности: полуразмеры, слой и режим.
// Sensor-хитбокс порождает события контактов, но не разрешается.
// Масса 0 означает статическое тело.
type Hitbox struct {
	Half   vec.Vec2
	Layer  physics.Layer
	Sensor bool
	Mass   float64
}

// Input — последний применённый к сущности ввод
type Input struct {
	Seq     uint32
	Tick    uint32
	Move    vec.Vec2
	Actions character.Action
}

// Owner — привязка сущности к подключенному клиенту
type Owner struct {
	ClientID uint32
}
