// Package worldgen детерминированно заполняет арену препятствиями и
// опасными зонами на основе шума Перлина. Один сид — одна и та же
// раскладка на сервере и в тестах.
package worldgen

import (
	"math"
	"math/rand"

	"github.com/aquilax/go-perlin"

	"github.com/sha1d/pixel-sahur/internal/physics"
	"github.com/sha1d/pixel-sahur/internal/vec"
)

// Kind — тип размещаемого объекта
type Kind uint8

const (
	KindObstacle Kind = iota // твердое статичное препятствие
	KindHazard               // сенсорная опасная зона
)

// Placement — один объект арены: центр, полуразмеры и тип
type Placement struct {
	Pos  vec.Vec2
	Half vec.Vec2
	Kind Kind
}

// Пороги шума для размещения (шум нормализован в [0, 1])
const (
	obstacleStart = 0.68 // выше — препятствие
	hazardMax     = 0.26 // ниже (по второму каналу) — опасная зона
)

// ArenaGenerator генерирует раскладку арены
type ArenaGenerator struct {
	Seed        int64
	NoiseScale  float64 // масштаб основного шума (препятствия)
	HazardScale float64 // масштаб шума опасных зон
	CellStep    float64 // шаг решетки размещения в мировых единицах
	SpawnRadius float64 // радиус чистой зоны вокруг точек возрождения
	SpawnCount  int     // число точек возрождения на кольце

	noise  *perlin.Perlin
	hazard *perlin.Perlin
}

// NewArenaGenerator создает генератор с настройками по умолчанию
func NewArenaGenerator(seed int64) *ArenaGenerator {
	return &ArenaGenerator{
		Seed:        seed,
		NoiseScale:  0.07,
		HazardScale: 0.035,
		CellStep:    6.0,
		SpawnRadius: 9.0,
		SpawnCount:  8,
		noise:       perlin.NewPerlin(2.0, 2.0, 3, seed),
		hazard:      perlin.NewPerlin(2.0, 2.0, 3, seed+42),
	}
}

// normalized переводит шум из [-1, 1] в [0, 1]
func normalized(p *perlin.Perlin, x, y float64) float64 {
	return (p.Noise2D(x, y) + 1.0) / 2.0
}

// Generate строит раскладку внутри границ. Решетка обходится по строкам,
// поэтому порядок результата детерминирован.
func (g *ArenaGenerator) Generate(bounds physics.Rect) []Placement {
	spawns := g.SpawnPoints(bounds, g.SpawnCount)
	rng := rand.New(rand.NewSource(g.Seed))

	var out []Placement
	for y := bounds.Min.Y + g.CellStep; y < bounds.Max.Y-g.CellStep/2; y += g.CellStep {
		for x := bounds.Min.X + g.CellStep; x < bounds.Max.X-g.CellStep/2; x += g.CellStep {
			// Джиттер внутри ячейки, детерминированный общим rng
			pos := vec.Vec2{
				X: x + (rng.Float64()-0.5)*g.CellStep*0.4,
				Y: y + (rng.Float64()-0.5)*g.CellStep*0.4,
			}

			height := normalized(g.noise, pos.X*g.NoiseScale, pos.Y*g.NoiseScale)
			pocket := normalized(g.hazard, pos.X*g.HazardScale, pos.Y*g.HazardScale)

			var p Placement
			switch {
			case height >= obstacleStart:
				half := 1.2 + rng.Float64()*1.3
				p = Placement{Pos: pos, Half: vec.Vec2{X: half, Y: half}, Kind: KindObstacle}
			case pocket <= hazardMax:
				p = Placement{Pos: pos, Half: vec.Vec2{X: 2.2, Y: 2.2}, Kind: KindHazard}
			default:
				continue
			}

			if nearSpawn(pos, spawns, g.SpawnRadius) {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}

// SpawnPoints возвращает n точек возрождения кольцом вокруг центра арены
func (g *ArenaGenerator) SpawnPoints(bounds physics.Rect, n int) []vec.Vec2 {
	if n <= 0 {
		return nil
	}
	center := bounds.Center()
	size := bounds.Max.Sub(bounds.Min)
	radius := math.Min(size.X, size.Y) * 0.3

	pts := make([]vec.Vec2, 0, n)
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n)
		pts = append(pts, vec.Vec2{
			X: center.X + math.Cos(angle)*radius,
			Y: center.Y + math.Sin(angle)*radius,
		})
	}
	return pts
}

func nearSpawn(pos vec.Vec2, spawns []vec.Vec2, radius float64) bool {
	for _, s := range spawns {
		if pos.DistanceTo(s) < radius {
			return true
		}
	}
	return false
}
