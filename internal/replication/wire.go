// Package replication синхронизирует авторитетный мир с клиентами:
// сервер собирает снимки и дельты по подтвержденной базе, клиент
// предсказывает собственную сущность, сверяется с авторитетом и
// интерполирует чужие сущности с фиксированной задержкой.
package replication

import (
	"github.com/sha1d/pixel-sahur/internal/character"
	"github.com/sha1d/pixel-sahur/internal/ecs"
	"github.com/sha1d/pixel-sahur/internal/physics"
	"github.com/sha1d/pixel-sahur/internal/protocol"
	"github.com/sha1d/pixel-sahur/internal/vec"
)

// refOf переводит идентификатор сущности в сетевую ссылку
func refOf(id ecs.EntityID) protocol.EntityRef {
	return protocol.EntityRef{Index: id.Index, Gen: id.Gen}
}

// idOf переводит сетевую ссылку в идентификатор сущности
func idOf(ref protocol.EntityRef) ecs.EntityID {
	return ecs.EntityID{Index: ref.Index, Gen: ref.Gen}
}

func packRef(ref protocol.EntityRef) uint64 {
	return idOf(ref).Packed()
}

// wireTransform переводит Transform в форму провода. Сравнение дельт
// идет по этой форме: изменение ниже точности float32 не считается
// изменением и не попадает в снимок.
func wireTransform(t ecs.Transform) protocol.TransformState {
	return protocol.TransformState{
		PosX:  float32(t.Pos.X),
		PosY:  float32(t.Pos.Y),
		VelX:  float32(t.Vel.X),
		VelY:  float32(t.Vel.Y),
		Rot:   float32(t.Rot),
		Scale: float32(t.Scale),
	}
}

func wireCharacter(st character.Status) protocol.CharacterState {
	return protocol.CharacterState{
		State:   uint8(st.State),
		Health:  st.Health,
		FacingX: float32(st.Facing.X),
		FacingY: float32(st.Facing.Y),
	}
}

func wireHitbox(hb ecs.Hitbox) protocol.HitboxState {
	return protocol.HitboxState{
		HalfX:  float32(hb.Half.X),
		HalfY:  float32(hb.Half.Y),
		Layer:  uint8(hb.Layer),
		Sensor: hb.Sensor,
		Mass:   float32(hb.Mass),
	}
}

// transformFromWire восстанавливает трансформ из формы провода
func transformFromWire(t protocol.TransformState) ecs.Transform {
	return ecs.Transform{
		Pos:   vec.Vec2{X: float64(t.PosX), Y: float64(t.PosY)},
		Vel:   vec.Vec2{X: float64(t.VelX), Y: float64(t.VelY)},
		Rot:   float64(t.Rot),
		Scale: float64(t.Scale),
	}
}

func hitboxFromWire(hb protocol.HitboxState) ecs.Hitbox {
	return ecs.Hitbox{
		Half:   vec.Vec2{X: float64(hb.HalfX), Y: float64(hb.HalfY)},
		Layer:  physics.Layer(hb.Layer),
		Sensor: hb.Sensor,
		Mass:   float64(hb.Mass),
	}
}

// actionsFromWire переводит битовые флаги провода во флаги действий
func actionsFromWire(v uint16) character.Action {
	var a character.Action
	if v&protocol.ActionFlagAttack != 0 {
		a |= character.ActionAttack
	}
	if v&protocol.ActionFlagDash != 0 {
		a |= character.ActionDash
	}
	if v&protocol.ActionFlagJump != 0 {
		a |= character.ActionJump
	}
	return a
}

// actionsToWire переводит флаги действий в битовые флаги провода
func actionsToWire(a character.Action) uint16 {
	var v uint16
	if a.Has(character.ActionAttack) {
		v |= protocol.ActionFlagAttack
	}
	if a.Has(character.ActionDash) {
		v |= protocol.ActionFlagDash
	}
	if a.Has(character.ActionJump) {
		v |= protocol.ActionFlagJump
	}
	return v
}

// moveFromWire восстанавливает вектор движения из координат провода.
// Клиентское предсказание обязано пропустить свой ввод через это же
// квантование, иначе его траектория разойдется с серверной.
func moveFromWire(x, y float32) vec.Vec2 {
	return vec.Vec2{X: float64(x), Y: float64(y)}
}
