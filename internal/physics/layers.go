package physics

// Layer — слой коллизий сущности
type Layer uint8

const (
	LayerPlayer Layer = iota
	LayerEnemy
	LayerProjectile
	LayerObstacle
	LayerTrigger
	LayerHazard
	layerCount
)

// String возвращает имя слоя
func (l Layer) String() string {
	switch l {
	case LayerPlayer:
		return "player"
	case LayerEnemy:
		return "enemy"
	case LayerProjectile:
		return "projectile"
	case LayerObstacle:
		return "obstacle"
	case LayerTrigger:
		return "trigger"
	case LayerHazard:
		return "hazard"
	default:
		return "unknown"
	}
}

// LayerMatrix определяет, какие пары слоев взаимодействуют.
// Матрица симметрична: Set поддерживает оба направления.
type LayerMatrix [layerCount][layerCount]bool

// Set включает или выключает взаимодействие пары слоев
func (m *LayerMatrix) Set(a, b Layer, enabled bool) {
	m[a][b] = enabled
	m[b][a] = enabled
}

// Interacts проверяет, взаимодействует ли пара слоев
func (m *LayerMatrix) Interacts(a, b Layer) bool {
	return m[a][b]
}

// DefaultLayerMatrix возвращает матрицу по умолчанию:
// персонажи сталкиваются друг с другом и препятствиями,
// снаряды поражают персонажей и препятствия, триггеры и
// опасные зоны замечают персонажей, не блокируя их.
func DefaultLayerMatrix() LayerMatrix {
	var m LayerMatrix
	m.Set(LayerPlayer, LayerPlayer, true)
	m.Set(LayerPlayer, LayerEnemy, true)
	m.Set(LayerPlayer, LayerObstacle, true)
	m.Set(LayerPlayer, LayerTrigger, true)
	m.Set(LayerPlayer, LayerHazard, true)
	m.Set(LayerEnemy, LayerEnemy, true)
	m.Set(LayerEnemy, LayerObstacle, true)
	m.Set(LayerEnemy, LayerHazard, true)
	m.Set(LayerProjectile, LayerPlayer, true)
	m.Set(LayerProjectile, LayerEnemy, true)
	m.Set(LayerProjectile, LayerObstacle, true)
	return m
}
