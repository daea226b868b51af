package physics

import (
	"sort"

	"github.com/sha1d/pixel-sahur/internal/spatial"
	"github.com/sha1d/pixel-sahur/internal/vec"
)

// Body — снимок коллайдера на текущий тик
type Body struct {
	ID     uint64
	Box    AABB
	Layer  Layer
	Sensor bool
	Mass   float64 // 0 — статическое тело
}

// ContactKind — фаза жизни контакта пары тел
type ContactKind uint8

const (
	ContactEnter ContactKind = iota
	ContactStay
	ContactExit
)

// String возвращает имя фазы контакта
func (k ContactKind) String() string {
	switch k {
	case ContactEnter:
		return "enter"
	case ContactStay:
		return "stay"
	case ContactExit:
		return "exit"
	default:
		return "unknown"
	}
}

// ContactEvent — событие контакта; A всегда меньше B
type ContactEvent struct {
	Kind    ContactKind
	A, B    uint64
	LayerA  Layer
	LayerB  Layer
	SensorA bool
	SensorB bool
}

// Correction — позиционная поправка solid-тела после разрешения пересечения
type Correction struct {
	ID    uint64
	Delta vec.Vec2
}

type pairKey struct {
	a, b uint64
}

func canonicalPair(x, y uint64) pairKey {
	if x < y {
		return pairKey{a: x, b: y}
	}
	return pairKey{a: y, b: x}
}

type contactInfo struct {
	layerA, layerB   Layer
	sensorA, sensorB bool
}

// Engine — движок столкновений: широкая фаза по сетке, узкая по AABB,
// разрешение solid-пар выталкиванием по MTV и события enter/stay/exit.
// События отдаются только после завершения всех разрешений тика.
type Engine struct {
	grid    *spatial.Grid
	matrix  LayerMatrix
	tracked map[uint64]struct{}
	prev    map[pairKey]contactInfo
}

// NewEngine создает движок с заданным размером ячейки широкой фазы
func NewEngine(cellSize float64, matrix LayerMatrix) *Engine {
	return &Engine{
		grid:    spatial.NewGrid(cellSize),
		matrix:  matrix,
		tracked: make(map[uint64]struct{}),
		prev:    make(map[pairKey]contactInfo),
	}
}

// Grid открывает доступ к сетке широкой фазы (для статистики)
func (e *Engine) Grid() *spatial.Grid {
	return e.grid
}

// Step выполняет один проход: обновляет сетку, находит пары, разрешает
// пересечения solid-тел и формирует события контактов. Пары обрабатываются
// в каноническом порядке (minID, maxID) по возрастанию — результат
// детерминирован независимо от порядка тел на входе.
func (e *Engine) Step(bodies []Body) ([]Correction, []ContactEvent) {
	byID := make(map[uint64]Body, len(bodies))
	for _, b := range bodies {
		byID[b.ID] = b
		e.grid.Update(b.ID, b.Box.Min(), b.Box.Max())
		e.tracked[b.ID] = struct{}{}
	}
	for id := range e.tracked {
		if _, ok := byID[id]; !ok {
			e.grid.Remove(id)
			delete(e.tracked, id)
		}
	}

	// Широкая фаза: кандидатные пары из сетки, канонический ключ, дедуп
	pairSet := make(map[pairKey]struct{})
	pairs := make([]pairKey, 0, len(bodies))
	for _, b := range bodies {
		for _, otherID := range e.grid.QueryRegion(b.Box.Min(), b.Box.Max()) {
			if otherID == b.ID {
				continue
			}
			key := canonicalPair(b.ID, otherID)
			if _, dup := pairSet[key]; dup {
				continue
			}
			other, ok := byID[otherID]
			if !ok {
				continue
			}
			if !e.matrix.Interacts(b.Layer, other.Layer) {
				continue
			}
			if !b.Box.Overlaps(other.Box) {
				continue
			}
			pairSet[key] = struct{}{}
			pairs = append(pairs, key)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].a != pairs[j].a {
			return pairs[i].a < pairs[j].a
		}
		return pairs[i].b < pairs[j].b
	})

	// Узкая фаза + разрешение. Сенсорные пары дают только события.
	corrections := make([]Correction, 0, len(pairs)*2)
	curr := make(map[pairKey]contactInfo, len(pairs))
	events := make([]ContactEvent, 0, len(pairs))

	for _, key := range pairs {
		a, b := byID[key.a], byID[key.b]
		info := contactInfo{layerA: a.Layer, layerB: b.Layer, sensorA: a.Sensor, sensorB: b.Sensor}
		curr[key] = info

		if !a.Sensor && !b.Sensor {
			corrections = appendResolution(corrections, a, b)
		}

		kind := ContactEnter
		if _, was := e.prev[key]; was {
			kind = ContactStay
		}
		events = append(events, contactEvent(kind, key, info))
	}

	// События выхода: пары прошлого тика, отсутствующие в текущем
	exits := make([]pairKey, 0)
	for key := range e.prev {
		if _, still := curr[key]; !still {
			exits = append(exits, key)
		}
	}
	sort.Slice(exits, func(i, j int) bool {
		if exits[i].a != exits[j].a {
			return exits[i].a < exits[j].a
		}
		return exits[i].b < exits[j].b
	})
	for _, key := range exits {
		events = append(events, contactEvent(ContactExit, key, e.prev[key]))
	}

	e.prev = curr
	return corrections, events
}

func contactEvent(kind ContactKind, key pairKey, info contactInfo) ContactEvent {
	return ContactEvent{
		Kind:    kind,
		A:       key.a,
		B:       key.b,
		LayerA:  info.layerA,
		LayerB:  info.layerB,
		SensorA: info.sensorA,
		SensorB: info.sensorB,
	}
}

// appendResolution раздвигает пересекающиеся solid-тела вдоль MTV.
// Поправки делятся пропорционально обратным массам: статическое тело
// (масса 0) не двигается, пара статических тел не разрешается вовсе.
func appendResolution(out []Correction, a, b Body) []Correction {
	mtv, ok := a.Box.MTV(b.Box)
	if !ok {
		return out
	}

	invA := inverseMass(a.Mass)
	invB := inverseMass(b.Mass)
	total := invA + invB
	if total == 0 {
		return out
	}

	if invA > 0 {
		out = append(out, Correction{ID: a.ID, Delta: mtv.Mul(invA / total)})
	}
	if invB > 0 {
		out = append(out, Correction{ID: b.ID, Delta: mtv.Mul(-invB / total)})
	}
	return out
}

func inverseMass(mass float64) float64 {
	if mass <= 0 {
		return 0
	}
	return 1 / mass
}
