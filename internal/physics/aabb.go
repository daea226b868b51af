package physics

import (
	"math"

	"github.com/sha1d/pixel-sahur/internal/vec"
)

// AABB — осевой прямоугольник, заданный центром и полуразмерами
type AABB struct {
	Center vec.Vec2
	Half   vec.Vec2
}

// NewAABB создает AABB по центру и полуразмерам
func NewAABB(center, half vec.Vec2) AABB {
	return AABB{Center: center, Half: half}
}

// Min возвращает левый нижний угол
func (b AABB) Min() vec.Vec2 {
	return vec.Vec2{X: b.Center.X - b.Half.X, Y: b.Center.Y - b.Half.Y}
}

// Max возвращает правый верхний угол
func (b AABB) Max() vec.Vec2 {
	return vec.Vec2{X: b.Center.X + b.Half.X, Y: b.Center.Y + b.Half.Y}
}

// Overlaps проверяет строгое пересечение; касание гранями пересечением не считается
func (b AABB) Overlaps(other AABB) bool {
	return math.Abs(b.Center.X-other.Center.X) < b.Half.X+other.Half.X &&
		math.Abs(b.Center.Y-other.Center.Y) < b.Half.Y+other.Half.Y
}

// Contains проверяет, что точка лежит внутри прямоугольника
func (b AABB) Contains(p vec.Vec2) bool {
	return math.Abs(p.X-b.Center.X) <= b.Half.X &&
		math.Abs(p.Y-b.Center.Y) <= b.Half.Y
}

// MTV возвращает вектор минимального выталкивания, выводящий b из other.
// Выбирается ось наименьшего проникновения; при равенстве — X.
// Для непересекающихся прямоугольников возвращает (zero, false).
func (b AABB) MTV(other AABB) (vec.Vec2, bool) {
	dx := b.Center.X - other.Center.X
	dy := b.Center.Y - other.Center.Y

	overlapX := b.Half.X + other.Half.X - math.Abs(dx)
	overlapY := b.Half.Y + other.Half.Y - math.Abs(dy)
	if overlapX <= 0 || overlapY <= 0 {
		return vec.Vec2{}, false
	}

	if overlapX <= overlapY {
		if dx < 0 {
			return vec.Vec2{X: -overlapX}, true
		}
		return vec.Vec2{X: overlapX}, true
	}
	if dy < 0 {
		return vec.Vec2{Y: -overlapY}, true
	}
	return vec.Vec2{Y: overlapY}, true
}

// Rect — прямоугольная область мира, заданная углами
type Rect struct {
	Min, Max vec.Vec2
}

// NewRect создает Rect по координатам углов
func NewRect(minX, minY, maxX, maxY float64) Rect {
	return Rect{Min: vec.Vec2{X: minX, Y: minY}, Max: vec.Vec2{X: maxX, Y: maxY}}
}

// ClampPoint возвращает ближайшую к p точку внутри области
func (r Rect) ClampPoint(p vec.Vec2) vec.Vec2 {
	if p.X < r.Min.X {
		p.X = r.Min.X
	}
	if p.X > r.Max.X {
		p.X = r.Max.X
	}
	if p.Y < r.Min.Y {
		p.Y = r.Min.Y
	}
	if p.Y > r.Max.Y {
		p.Y = r.Max.Y
	}
	return p
}

// Contains проверяет принадлежность точки области
func (r Rect) Contains(p vec.Vec2) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// Center возвращает центр области
func (r Rect) Center() vec.Vec2 {
	return vec.Vec2{X: (r.Min.X + r.Max.X) / 2, Y: (r.Min.Y + r.Max.Y) / 2}
}
