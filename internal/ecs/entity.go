// Package ecs реализует хранилище сущностей с архетипами и планировщик
// систем. Хранилище однопоточное: им владеет горутина симуляции,
// межпоточный обмен идет через очереди слоя репликации.
package ecs

import (
	"errors"
	"fmt"
)

// ErrInvalidEntity возвращается операциями над устаревшим или неизвестным
// идентификатором сущности
var ErrInvalidEntity = errors.New("entity id is stale or unknown")

// EntityID — стабильный идентификатор сущности. Индекс слота
// переиспользуется, поколение при переиспользовании растет, поэтому
// устаревший идентификатор не проходит проверку живости.
// Поколение 0 не используется: нулевой EntityID всегда невалиден.
type EntityID struct {
	Index uint32
	Gen   uint16
}

// IsZero проверяет нулевой (невалидный) идентификатор
func (id EntityID) IsZero() bool {
	return id.Gen == 0
}

// Packed упаковывает идентификатор в uint64 для внешних индексов
// (широкая фаза, ключи интерполяции)
func (id EntityID) Packed() uint64 {
	return uint64(id.Index)<<16 | uint64(id.Gen)
}

// UnpackID распаковывает идентификатор из uint64
func UnpackID(v uint64) EntityID {
	return EntityID{Index: uint32(v >> 16), Gen: uint16(v & 0xFFFF)}
}

// String возвращает читаемое представление идентификатора
func (id EntityID) String() string {
	return fmt.Sprintf("e%d.%d", id.Index, id.Gen)
}
