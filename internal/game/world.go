// Package game собирает симуляцию воедино: мир владеет хранилищем
// сущностей, движком столкновений и автоматом персонажей, системы
// исполняются планировщиком в фиксированном порядке, тиковый цикл
// задает ритм. Мир однопоточный: все вызовы делаются из горутины цикла.
package game

import (
	"fmt"

	"github.com/sha1d/pixel-sahur/internal/character"
	"github.com/sha1d/pixel-sahur/internal/ecs"
	"github.com/sha1d/pixel-sahur/internal/physics"
	"github.com/sha1d/pixel-sahur/internal/vec"
	"github.com/sha1d/pixel-sahur/internal/worldgen"
)

// Хитбоксы сущностей арены в мировых единицах
var (
	playerHalf = vec.Vec2{X: 0.5, Y: 0.5}
)

const playerMass = 1.0

// Options задает параметры мира
type Options struct {
	Bounds       physics.Rect
	CellSize     float64 // размер ячейки широкой фазы
	Tuning       character.Tuning
	HazardDamage int32  // урон опасной зоны за контакт
	RespawnTicks uint32 // тиков в Dead до возрождения
}

// DefaultOptions возвращает параметры мира по умолчанию
func DefaultOptions() Options {
	return Options{
		Bounds:       physics.NewRect(-64, -64, 64, 64),
		CellSize:     8.0,
		Tuning:       character.DefaultTuning(),
		HazardDamage: 10,
		RespawnTicks: 180,
	}
}

// DeathRecord фиксирует гибель сущности на тике
type DeathRecord struct {
	Entity ecs.EntityID
	Tick   uint32
}

// World — авторитетное состояние симуляции. Создание и удаление сущностей
// между тиками применяется сразу, изнутри систем — откладывается до конца
// тика планировщиком.
type World struct {
	opts    Options
	store   *ecs.Store
	sched   *ecs.Scheduler
	engine  *physics.Engine
	machine *character.Machine

	tick        uint32
	spawnPoints []vec.Vec2
	nextSpawn   int

	contacts []physics.ContactEvent
	deaths   []DeathRecord
}

// NewWorld создает мир и регистрирует игровые системы в порядке
// приоритетов: движение, автомат персонажей, столкновения, урон,
// возрождение.
func NewWorld(opts Options) *World {
	w := &World{
		opts:        opts,
		store:       ecs.NewStore(),
		machine:     character.NewMachine(opts.Tuning),
		spawnPoints: []vec.Vec2{opts.Bounds.Center()},
	}
	w.sched = ecs.NewScheduler(w.store)
	w.engine = physics.NewEngine(opts.CellSize, physics.DefaultLayerMatrix())

	w.sched.Register(&MovementSystem{world: w})
	w.sched.Register(&CharacterSystem{world: w})
	w.sched.Register(&CollisionSystem{world: w})
	w.sched.Register(&DamageSystem{world: w})
	w.sched.Register(&RespawnSystem{world: w})
	return w
}

// Populate заполняет арену размещениями генератора и запоминает точки
// возрождения. Вызывается один раз до запуска цикла.
func (w *World) Populate(gen *worldgen.ArenaGenerator) error {
	for _, p := range gen.Generate(w.opts.Bounds) {
		var err error
		switch p.Kind {
		case worldgen.KindObstacle:
			_, err = w.SpawnObstacle(p.Pos, p.Half)
		case worldgen.KindHazard:
			_, err = w.SpawnHazard(p.Pos, p.Half)
		}
		if err != nil {
			return fmt.Errorf("заполнение арены: %w", err)
		}
	}
	if pts := gen.SpawnPoints(w.opts.Bounds, gen.SpawnCount); len(pts) > 0 {
		w.spawnPoints = pts
	}
	return nil
}

// SpawnPlayer создает сущность игрока на очередной точке возрождения
func (w *World) SpawnPlayer(clientID uint32) (ecs.EntityID, error) {
	id := w.store.CreateEntity()
	pos := w.takeSpawnPoint()
	if err := w.store.SetTransform(id, ecs.NewTransform(pos)); err != nil {
		return ecs.EntityID{}, fmt.Errorf("спавн игрока: %w", err)
	}
	if err := w.store.SetHitbox(id, ecs.Hitbox{Half: playerHalf, Layer: physics.LayerPlayer, Mass: playerMass}); err != nil {
		return ecs.EntityID{}, fmt.Errorf("спавн игрока: %w", err)
	}
	if err := w.store.SetCharacter(id, character.NewStatus(w.opts.Tuning)); err != nil {
		return ecs.EntityID{}, fmt.Errorf("спавн игрока: %w", err)
	}
	if err := w.store.SetInput(id, ecs.Input{}); err != nil {
		return ecs.EntityID{}, fmt.Errorf("спавн игрока: %w", err)
	}
	if err := w.store.SetOwner(id, ecs.Owner{ClientID: clientID}); err != nil {
		return ecs.EntityID{}, fmt.Errorf("спавн игрока: %w", err)
	}
	return id, nil
}

// SpawnObstacle создает твердое статичное препятствие
func (w *World) SpawnObstacle(pos, half vec.Vec2) (ecs.EntityID, error) {
	id := w.store.CreateEntity()
	if err := w.store.SetTransform(id, ecs.NewTransform(pos)); err != nil {
		return ecs.EntityID{}, fmt.Errorf("спавн препятствия: %w", err)
	}
	if err := w.store.SetHitbox(id, ecs.Hitbox{Half: half, Layer: physics.LayerObstacle}); err != nil {
		return ecs.EntityID{}, fmt.Errorf("спавн препятствия: %w", err)
	}
	return id, nil
}

// SpawnHazard создает сенсорную опасную зону
func (w *World) SpawnHazard(pos, half vec.Vec2) (ecs.EntityID, error) {
	id := w.store.CreateEntity()
	if err := w.store.SetTransform(id, ecs.NewTransform(pos)); err != nil {
		return ecs.EntityID{}, fmt.Errorf("спавн опасной зоны: %w", err)
	}
	if err := w.store.SetHitbox(id, ecs.Hitbox{Half: half, Layer: physics.LayerHazard, Sensor: true}); err != nil {
		return ecs.EntityID{}, fmt.Errorf("спавн опасной зоны: %w", err)
	}
	return id, nil
}

// Despawn удаляет сущность из мира
func (w *World) Despawn(id ecs.EntityID) error {
	return w.store.DestroyEntity(id)
}

// ApplyInput записывает ввод сущности. Вызывается между тиками.
func (w *World) ApplyInput(id ecs.EntityID, in ecs.Input) error {
	return w.store.SetInput(id, in)
}

// Step продвигает симуляцию на один тик
func (w *World) Step(dt float64) {
	w.tick++
	w.sched.RunTick(dt)
}

// Tick возвращает номер последнего выполненного тика
func (w *World) Tick() uint32 {
	return w.tick
}

// Store дает доступ к хранилищу сущностей
func (w *World) Store() *ecs.Store {
	return w.store
}

// Scheduler дает доступ к планировщику систем
func (w *World) Scheduler() *ecs.Scheduler {
	return w.sched
}

// Machine возвращает автомат персонажей мира
func (w *World) Machine() *character.Machine {
	return w.machine
}

// Bounds возвращает границы мира
func (w *World) Bounds() physics.Rect {
	return w.opts.Bounds
}

// ContactEvents возвращает события контактов последнего тика.
// Срез действителен до следующего Step.
func (w *World) ContactEvents() []physics.ContactEvent {
	return w.contacts
}

// DrainDeaths возвращает смерти, накопленные с прошлого вызова
func (w *World) DrainDeaths() []DeathRecord {
	d := w.deaths
	w.deaths = nil
	return d
}

// takeSpawnPoint выдает точки возрождения по кругу
func (w *World) takeSpawnPoint() vec.Vec2 {
	p := w.spawnPoints[w.nextSpawn%len(w.spawnPoints)]
	w.nextSpawn++
	return p
}

// respawnPoint возвращает детерминированную точку возрождения сущности
func (w *World) respawnPoint(id ecs.EntityID) vec.Vec2 {
	return w.spawnPoints[int(id.Index)%len(w.spawnPoints)]
}
