package game

import (
	"github.com/sha1d/pixel-sahur/internal/character"
	"github.com/sha1d/pixel-sahur/internal/ecs"
	"github.com/sha1d/pixel-sahur/internal/physics"
	"github.com/sha1d/pixel-sahur/internal/vec"
)

// Приоритеты систем. Столкновения идут после движения, чтобы разрешение
// видело позиции текущего тика; урон — после столкновений, по их событиям.
const (
	priorityMovement  = 10
	priorityCharacter = 20
	priorityCollision = 30
	priorityDamage    = 40
	priorityRespawn   = 50
)

// MovementSystem интегрирует движение по последнему вводу и состоянию
// персонажа
type MovementSystem struct {
	world *World
}

func (s *MovementSystem) Name() string  { return "movement" }
func (s *MovementSystem) Priority() int { return priorityMovement }

func (s *MovementSystem) Required() ecs.ComponentMask {
	return ecs.MaskTransform | ecs.MaskInput | ecs.MaskCharacter
}

func (s *MovementSystem) Update(store *ecs.Store, ids []ecs.EntityID, dt float64) {
	w := s.world
	for _, id := range ids {
		tr := store.MutTransform(id)
		st := store.MutCharacter(id)
		in, _ := store.Input(id)
		ApplyMovement(w.machine, st, tr, in.Move, dt, w.opts.Bounds)
	}
}

// CharacterSystem продвигает конечный автомат каждого персонажа на тик
type CharacterSystem struct {
	world *World
}

func (s *CharacterSystem) Name() string  { return "character" }
func (s *CharacterSystem) Priority() int { return priorityCharacter }

func (s *CharacterSystem) Required() ecs.ComponentMask {
	return ecs.MaskCharacter | ecs.MaskInput
}

func (s *CharacterSystem) Update(store *ecs.Store, ids []ecs.EntityID, dt float64) {
	w := s.world
	for _, id := range ids {
		st := store.MutCharacter(id)
		in, _ := store.Input(id)
		w.machine.Step(st, character.Frame{Move: in.Move, Actions: in.Actions}, w.tick)
	}
}

// CollisionSystem собирает тела из хитбоксов, прогоняет движок
// столкновений и применяет позиционные поправки. События контактов
// остаются в мире для систем ниже по порядку.
type CollisionSystem struct {
	world  *World
	bodies []physics.Body
}

func (s *CollisionSystem) Name() string  { return "collision" }
func (s *CollisionSystem) Priority() int { return priorityCollision }

func (s *CollisionSystem) Required() ecs.ComponentMask {
	return ecs.MaskTransform | ecs.MaskHitbox
}

func (s *CollisionSystem) Update(store *ecs.Store, ids []ecs.EntityID, dt float64) {
	s.bodies = s.bodies[:0]
	for _, id := range ids {
		tr, _ := store.Transform(id)
		hb, _ := store.Hitbox(id)
		s.bodies = append(s.bodies, physics.Body{
			ID:     id.Packed(),
			Box:    physics.NewAABB(tr.Pos, hb.Half),
			Layer:  hb.Layer,
			Sensor: hb.Sensor,
			Mass:   hb.Mass,
		})
	}

	corrections, events := s.world.engine.Step(s.bodies)
	for _, c := range corrections {
		tr := store.MutTransform(ecs.UnpackID(c.ID))
		if tr == nil {
			continue
		}
		tr.Pos = s.world.opts.Bounds.ClampPoint(tr.Pos.Add(c.Delta))
	}
	s.world.contacts = events
}

// DamageSystem наносит урон от опасных зон по событиям контактов
// текущего тика. Персонаж в воздухе над зоной урона не получает.
type DamageSystem struct {
	world *World
}

func (s *DamageSystem) Name() string  { return "damage" }
func (s *DamageSystem) Priority() int { return priorityDamage }

func (s *DamageSystem) Required() ecs.ComponentMask {
	return ecs.MaskCharacter
}

func (s *DamageSystem) Update(store *ecs.Store, ids []ecs.EntityID, dt float64) {
	w := s.world
	for _, ev := range w.contacts {
		if ev.Kind == physics.ContactExit {
			continue
		}
		victim, ok := hazardVictim(ev)
		if !ok {
			continue
		}
		id := ecs.UnpackID(victim)
		st := store.MutCharacter(id)
		if st == nil || st.State.Airborne() {
			continue
		}
		if w.machine.Damage(st, w.opts.HazardDamage) {
			w.deaths = append(w.deaths, DeathRecord{Entity: id, Tick: w.tick})
		}
	}
}

// hazardVictim возвращает сторону контакта, противоположную опасной зоне
func hazardVictim(ev physics.ContactEvent) (uint64, bool) {
	switch {
	case ev.LayerA == physics.LayerHazard && ev.LayerB != physics.LayerHazard:
		return ev.B, true
	case ev.LayerB == physics.LayerHazard && ev.LayerA != physics.LayerHazard:
		return ev.A, true
	}
	return 0, false
}

// RespawnSystem возвращает погибших игроков в мир после таймера
// возрождения. Точка возрождения детерминирована по индексу сущности.
type RespawnSystem struct {
	world *World
}

func (s *RespawnSystem) Name() string  { return "respawn" }
func (s *RespawnSystem) Priority() int { return priorityRespawn }

func (s *RespawnSystem) Required() ecs.ComponentMask {
	return ecs.MaskTransform | ecs.MaskCharacter | ecs.MaskOwner
}

func (s *RespawnSystem) Update(store *ecs.Store, ids []ecs.EntityID, dt float64) {
	w := s.world
	for _, id := range ids {
		st := store.MutCharacter(id)
		if st.State != character.StateDead || st.StateTicks < w.opts.RespawnTicks {
			continue
		}
		w.machine.Respawn(st)
		tr := store.MutTransform(id)
		tr.Pos = w.respawnPoint(id)
		tr.Vel = vec.Vec2{}
	}
}
