package game

import (
	"github.com/sha1d/pixel-sahur/internal/character"
	"github.com/sha1d/pixel-sahur/internal/ecs"
	"github.com/sha1d/pixel-sahur/internal/physics"
	"github.com/sha1d/pixel-sahur/internal/vec"
)

// IntegrateMovement выполняет один шаг движения: скорость из вектора
// движения, позиция интегрированием, затем зажим в границы мира.
// Вектор длиннее единицы нормализуется, поэтому ввод не может разогнать
// сущность выше её скорости.
//
// Эта функция — единственная реализация движения: серверная система и
// клиентское предсказание вызывают её с одними и теми же аргументами и
// получают бит-в-бит одинаковый результат.
func IntegrateMovement(t *ecs.Transform, move vec.Vec2, speed, dt float64, bounds physics.Rect) {
	if move.LengthSq() > 1 {
		move = move.Normalized()
	}
	t.Vel = move.Mul(speed)
	t.Pos = bounds.ClampPoint(t.Pos.Add(t.Vel.Mul(dt)))
}

// ApplyMovement интегрирует движение персонажа с учетом его состояния:
// автомат определяет скорость и может переопределить направление
// (рывок идет по взгляду, укорененные состояния стоят на месте).
func ApplyMovement(m *character.Machine, st *character.Status, t *ecs.Transform, move vec.Vec2, dt float64, bounds physics.Rect) {
	IntegrateMovement(t, m.EffectiveMove(st, move), m.Speed(st), dt, bounds)
}
