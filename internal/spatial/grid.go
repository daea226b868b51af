// Package spatial реализует равномерную сетку для широкой фазы поиска
// пересечений. Запрос региона обязан возвращать надмножество пересекающихся
// сущностей: ложные срабатывания допустимы, пропуски — нет.
package spatial

import (
	"fmt"
	"math"

	"github.com/sha1d/pixel-sahur/internal/vec"
)

// cellKey — целочисленные координаты ячейки сетки
type cellKey struct {
	X, Y int32
}

// gridEntry хранит границы сущности и занятые ею ячейки
type gridEntry struct {
	min, max vec.Vec2
	cells    []cellKey
}

// Grid — равномерная сетка. Не потокобезопасна: владелец — горутина симуляции.
type Grid struct {
	cellSize float64
	cells    map[cellKey]map[uint64]struct{}
	entities map[uint64]*gridEntry
}

// NewGrid создает сетку с заданным размером ячейки
func NewGrid(cellSize float64) *Grid {
	if cellSize <= 0 {
		cellSize = 1.0
	}
	return &Grid{
		cellSize: cellSize,
		cells:    make(map[cellKey]map[uint64]struct{}),
		entities: make(map[uint64]*gridEntry),
	}
}

// Insert регистрирует сущность с границами [min, max].
// Повторная вставка эквивалентна Update.
func (g *Grid) Insert(id uint64, min, max vec.Vec2) {
	if _, exists := g.entities[id]; exists {
		g.Update(id, min, max)
		return
	}

	cells := g.cellsForBounds(min, max)
	entry := &gridEntry{min: min, max: max, cells: cells}
	g.entities[id] = entry

	for _, key := range cells {
		g.addToCell(key, id)
	}
}

// Update перемещает сущность. Если набор ячеек не изменился,
// обновляются только границы. Незарегистрированная сущность вставляется.
func (g *Grid) Update(id uint64, min, max vec.Vec2) {
	entry, exists := g.entities[id]
	if !exists {
		g.Insert(id, min, max)
		return
	}

	newCells := g.cellsForBounds(min, max)
	entry.min = min
	entry.max = max

	if cellsEqual(entry.cells, newCells) {
		return
	}

	for _, key := range entry.cells {
		g.removeFromCell(key, id)
	}
	for _, key := range newCells {
		g.addToCell(key, id)
	}
	entry.cells = newCells
}

// Remove удаляет сущность из сетки; отсутствующий id — no-op
func (g *Grid) Remove(id uint64) {
	entry, exists := g.entities[id]
	if !exists {
		return
	}

	for _, key := range entry.cells {
		g.removeFromCell(key, id)
	}
	delete(g.entities, id)
}

// QueryRegion возвращает сущности, чьи ячейки перекрывают регион [min, max].
// Результат дедуплицирован; порядок не определен.
func (g *Grid) QueryRegion(min, max vec.Vec2) []uint64 {
	seen := make(map[uint64]struct{})
	result := make([]uint64, 0, 16)

	for _, key := range g.cellsForBounds(min, max) {
		for id := range g.cells[key] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			result = append(result, id)
		}
	}
	return result
}

// Len возвращает число зарегистрированных сущностей
func (g *Grid) Len() int {
	return len(g.entities)
}

// Clear очищает сетку
func (g *Grid) Clear() {
	g.cells = make(map[cellKey]map[uint64]struct{})
	g.entities = make(map[uint64]*gridEntry)
}

// Stats — статистика занятости сетки
type Stats struct {
	Entities   int
	Cells      int
	MaxPerCell int
}

// GetStats возвращает статистику занятости
func (g *Grid) GetStats() Stats {
	st := Stats{Entities: len(g.entities), Cells: len(g.cells)}
	for _, members := range g.cells {
		if len(members) > st.MaxPerCell {
			st.MaxPerCell = len(members)
		}
	}
	return st
}

// String возвращает краткое описание занятости
func (g *Grid) String() string {
	st := g.GetStats()
	return fmt.Sprintf("Grid{entities: %d, cells: %d, max/cell: %d}", st.Entities, st.Cells, st.MaxPerCell)
}

// cellsForBounds возвращает ячейки, перекрываемые границами.
// math.Floor корректно обрабатывает отрицательные координаты.
func (g *Grid) cellsForBounds(min, max vec.Vec2) []cellKey {
	minX := int32(math.Floor(min.X / g.cellSize))
	minY := int32(math.Floor(min.Y / g.cellSize))
	maxX := int32(math.Floor(max.X / g.cellSize))
	maxY := int32(math.Floor(max.Y / g.cellSize))

	cells := make([]cellKey, 0, (maxX-minX+1)*(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			cells = append(cells, cellKey{X: x, Y: y})
		}
	}
	return cells
}

func (g *Grid) addToCell(key cellKey, id uint64) {
	members, exists := g.cells[key]
	if !exists {
		members = make(map[uint64]struct{})
		g.cells[key] = members
	}
	members[id] = struct{}{}
}

func (g *Grid) removeFromCell(key cellKey, id uint64) {
	members, exists := g.cells[key]
	if !exists {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(g.cells, key)
	}
}

func cellsEqual(a, b []cellKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
