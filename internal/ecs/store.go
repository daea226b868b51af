package ecs

import (
	"sort"

	"github.com/sha1d/pixel-sahur/internal/character"
)

// slot — метаданные слота сущности
type slot struct {
	gen   uint16
	alive bool
	mask  ComponentMask
}

// archetype — группа сущностей с одинаковой маской компонентов.
// Членство поддерживается swap-remove; порядок внутри группы
// детерминирован последовательностью операций.
type archetype struct {
	entities []EntityID
	index    map[uint32]int
}

// queryCache — кешированный результат запроса по маске
type queryCache struct {
	version uint64
	ids     []EntityID
}

type opKind uint8

const (
	opDestroy opKind = iota
	opAdd
	opRemove
)

// command — отложенная структурная операция
type command struct {
	kind opKind
	id   EntityID
	comp ComponentKind
}

// Store хранит сущности в плотных таблицах по видам компонентов.
// Таблицы растут вместе со слотами, присутствие компонента определяет
// битовая маска слота. Структурные операции, выданные во время тика,
// откладываются до Flush, чтобы последовательности запросов оставались
// стабильными, пока работает система.
type Store struct {
	slots []slot
	free  []uint32
	count int

	transforms []Transform
	hitboxes   []Hitbox
	characters []character.Status
	inputs     []Input
	owners     []Owner

	archetypes map[ComponentMask]*archetype
	queries    map[ComponentMask]*queryCache
	version    uint64

	deferring bool
	pending   []command
}

// NewStore создает пустое хранилище
func NewStore() *Store {
	return &Store{
		archetypes: make(map[ComponentMask]*archetype),
		queries:    make(map[ComponentMask]*queryCache),
	}
}

// CreateEntity создает сущность без компонентов и возвращает идентификатор.
// Индексы уничтоженных сущностей переиспользуются с новым поколением.
// Допустима в любой момент: пустая маска не видна ни одному запросу,
// поэтому стабильность итерации не нарушается.
func (s *Store) CreateEntity() EntityID {
	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
		sl := &s.slots[idx]
		sl.gen++
		if sl.gen == 0 {
			sl.gen = 1 // поколение 0 зарезервировано за невалидными ID
		}
		sl.alive = true
		sl.mask = 0
	} else {
		idx = uint32(len(s.slots))
		s.slots = append(s.slots, slot{gen: 1, alive: true})
		s.grow()
	}
	s.count++
	return EntityID{Index: idx, Gen: s.slots[idx].gen}
}

// CreateEntityWithID создает сущность с заранее заданным идентификатором.
// Используется клиентской репликой для зеркалирования серверных ID.
// Конфликт с живой сущностью или нулевое поколение — ошибка.
func (s *Store) CreateEntityWithID(id EntityID) error {
	if id.Gen == 0 {
		return ErrInvalidEntity
	}
	for uint32(len(s.slots)) <= id.Index {
		s.slots = append(s.slots, slot{})
		s.grow()
	}
	sl := &s.slots[id.Index]
	if sl.alive {
		return ErrInvalidEntity
	}
	// Индекс мог лежать в списке свободных после DestroyEntity: его нужно
	// изъять, иначе CreateEntity выдаст тот же слот второй раз
	for i, f := range s.free {
		if f == id.Index {
			s.free = append(s.free[:i], s.free[i+1:]...)
			break
		}
	}
	sl.gen = id.Gen
	sl.alive = true
	sl.mask = 0
	s.count++
	return nil
}

// DestroyEntity уничтожает сущность. Во время тика уничтожение
// откладывается до Flush. Повторное уничтожение — no-op с ошибкой.
func (s *Store) DestroyEntity(id EntityID) error {
	if !s.IsAlive(id) {
		return ErrInvalidEntity
	}
	if s.deferring {
		s.pending = append(s.pending, command{kind: opDestroy, id: id})
		return nil
	}
	s.destroyNow(id)
	return nil
}

// IsAlive проверяет, что идентификатор указывает на живую сущность
// актуального поколения
func (s *Store) IsAlive(id EntityID) bool {
	if id.Gen == 0 || id.Index >= uint32(len(s.slots)) {
		return false
	}
	sl := &s.slots[id.Index]
	return sl.alive && sl.gen == id.Gen
}

// Alive возвращает число живых сущностей
func (s *Store) Alive() int {
	return s.count
}

// Mask возвращает текущую маску компонентов сущности
func (s *Store) Mask(id EntityID) (ComponentMask, bool) {
	if !s.IsAlive(id) {
		return 0, false
	}
	return s.slots[id.Index].mask, true
}

// SetTransform записывает компонент Transform. Если компонент уже есть,
// перезаписываются только данные; иначе добавление попадает под правила
// отложенных структурных операций.
func (s *Store) SetTransform(id EntityID, v Transform) error {
	if !s.IsAlive(id) {
		return ErrInvalidEntity
	}
	s.transforms[id.Index] = v
	s.addKind(id, KindTransform)
	return nil
}

// SetHitbox записывает компонент Hitbox
func (s *Store) SetHitbox(id EntityID, v Hitbox) error {
	if !s.IsAlive(id) {
		return ErrInvalidEntity
	}
	s.hitboxes[id.Index] = v
	s.addKind(id, KindHitbox)
	return nil
}

// SetCharacter записывает компонент персонажа
func (s *Store) SetCharacter(id EntityID, v character.Status) error {
	if !s.IsAlive(id) {
		return ErrInvalidEntity
	}
	s.characters[id.Index] = v
	s.addKind(id, KindCharacter)
	return nil
}

// SetInput записывает компонент ввода
func (s *Store) SetInput(id EntityID, v Input) error {
	if !s.IsAlive(id) {
		return ErrInvalidEntity
	}
	s.inputs[id.Index] = v
	s.addKind(id, KindInput)
	return nil
}

// SetOwner записывает компонент владельца
func (s *Store) SetOwner(id EntityID, v Owner) error {
	if !s.IsAlive(id) {
		return ErrInvalidEntity
	}
	s.owners[id.Index] = v
	s.addKind(id, KindOwner)
	return nil
}

// RemoveComponent удаляет компонент вида kind. Отсутствующий компонент —
// no-op. Во время тика удаление откладывается до Flush.
func (s *Store) RemoveComponent(id EntityID, kind ComponentKind) error {
	if !s.IsAlive(id) {
		return ErrInvalidEntity
	}
	if s.deferring {
		s.pending = append(s.pending, command{kind: opRemove, id: id, comp: kind})
		return nil
	}
	s.applyRemove(id, kind)
	return nil
}

// Transform возвращает копию компонента Transform
func (s *Store) Transform(id EntityID) (Transform, bool) {
	if !s.has(id, KindTransform) {
		return Transform{}, false
	}
	return s.transforms[id.Index], true
}

// MutTransform возвращает указатель на компонент для мутации на месте.
// Указатель валиден до следующего структурного изменения хранилища.
func (s *Store) MutTransform(id EntityID) *Transform {
	if !s.has(id, KindTransform) {
		return nil
	}
	return &s.transforms[id.Index]
}

// Hitbox возвращает копию компонента Hitbox
func (s *Store) Hitbox(id EntityID) (Hitbox, bool) {
	if !s.has(id, KindHitbox) {
		return Hitbox{}, false
	}
	return s.hitboxes[id.Index], true
}

// MutHitbox возвращает указатель на компонент Hitbox
func (s *Store) MutHitbox(id EntityID) *Hitbox {
	if !s.has(id, KindHitbox) {
		return nil
	}
	return &s.hitboxes[id.Index]
}

// Character возвращает копию состояния персонажа
func (s *Store) Character(id EntityID) (character.Status, bool) {
	if !s.has(id, KindCharacter) {
		return character.Status{}, false
	}
	return s.characters[id.Index], true
}

// MutCharacter возвращает указатель на состояние персонажа
func (s *Store) MutCharacter(id EntityID) *character.Status {
	if !s.has(id, KindCharacter) {
		return nil
	}
	return &s.characters[id.Index]
}

// Input возвращает копию компонента ввода
func (s *Store) Input(id EntityID) (Input, bool) {
	if !s.has(id, KindInput) {
		return Input{}, false
	}
	return s.inputs[id.Index], true
}

// MutInput возвращает указатель на компонент ввода
func (s *Store) MutInput(id EntityID) *Input {
	if !s.has(id, KindInput) {
		return nil
	}
	return &s.inputs[id.Index]
}

// Owner возвращает копию компонента владельца
func (s *Store) Owner(id EntityID) (Owner, bool) {
	if !s.has(id, KindOwner) {
		return Owner{}, false
	}
	return s.owners[id.Index], true
}

// Query возвращает сущности, маска которых содержит все требуемые виды.
// Результат кеширован и заимствован: слайс валиден до следующего
// структурного изменения, удерживать его между тиками нельзя.
func (s *Store) Query(required ComponentMask) []EntityID {
	qc, ok := s.queries[required]
	if ok && qc.version == s.version {
		return qc.ids
	}
	if !ok {
		qc = &queryCache{}
		s.queries[required] = qc
	}

	// Архетипы-надмножества в порядке возрастания маски —
	// порядок обхода детерминирован
	masks := make([]ComponentMask, 0, len(s.archetypes))
	for m := range s.archetypes {
		if m.Contains(required) {
			masks = append(masks, m)
		}
	}
	sort.Slice(masks, func(i, j int) bool { return masks[i] < masks[j] })

	ids := qc.ids[:0]
	for _, m := range masks {
		ids = append(ids, s.archetypes[m].entities...)
	}
	qc.ids = ids
	qc.version = s.version
	return qc.ids
}

// Flush применяет отложенные структурные операции в порядке поступления.
// Команды над сущностями, умершими в том же тике, тихо пропускаются.
func (s *Store) Flush() {
	s.deferring = false
	for i := range s.pending {
		cmd := s.pending[i]
		if !s.IsAlive(cmd.id) {
			continue
		}
		switch cmd.kind {
		case opDestroy:
			s.destroyNow(cmd.id)
		case opAdd:
			s.applyAdd(cmd.id, cmd.comp)
		case opRemove:
			s.applyRemove(cmd.id, cmd.comp)
		}
	}
	s.pending = s.pending[:0]
}

// beginDefer переводит хранилище в режим откладывания структурных операций
func (s *Store) beginDefer() {
	s.deferring = true
}

// addKind делает компонент видимым: вне тика — немедленно, во время
// тика — через очередь отложенных операций. Данные к этому моменту
// уже записаны в таблицу.
func (s *Store) addKind(id EntityID, kind ComponentKind) {
	if s.slots[id.Index].mask.Has(kind) {
		return // данные перезаписаны, структура не меняется
	}
	if s.deferring {
		s.pending = append(s.pending, command{kind: opAdd, id: id, comp: kind})
		return
	}
	s.applyAdd(id, kind)
}

func (s *Store) applyAdd(id EntityID, kind ComponentKind) {
	sl := &s.slots[id.Index]
	if sl.mask.Has(kind) {
		return
	}
	if sl.mask != 0 {
		s.removeFromArchetype(id, sl.mask)
	}
	sl.mask |= 1 << kind
	s.placeInArchetype(id, sl.mask)
	s.version++
}

func (s *Store) applyRemove(id EntityID, kind ComponentKind) {
	sl := &s.slots[id.Index]
	if !sl.mask.Has(kind) {
		return
	}
	s.removeFromArchetype(id, sl.mask)
	sl.mask &^= 1 << kind
	if sl.mask != 0 {
		s.placeInArchetype(id, sl.mask)
	}
	s.version++
}

func (s *Store) destroyNow(id EntityID) {
	sl := &s.slots[id.Index]
	if sl.mask != 0 {
		s.removeFromArchetype(id, sl.mask)
	}
	sl.alive = false
	sl.mask = 0
	s.free = append(s.free, id.Index)
	s.count--
	s.version++
}

func (s *Store) placeInArchetype(id EntityID, mask ComponentMask) {
	arch, ok := s.archetypes[mask]
	if !ok {
		arch = &archetype{index: make(map[uint32]int)}
		s.archetypes[mask] = arch
	}
	arch.index[id.Index] = len(arch.entities)
	arch.entities = append(arch.entities, id)
}

func (s *Store) removeFromArchetype(id EntityID, mask ComponentMask) {
	arch := s.archetypes[mask]
	pos := arch.index[id.Index]
	last := len(arch.entities) - 1
	if pos != last {
		moved := arch.entities[last]
		arch.entities[pos] = moved
		arch.index[moved.Index] = pos
	}
	arch.entities = arch.entities[:last]
	delete(arch.index, id.Index)
}

func (s *Store) has(id EntityID, kind ComponentKind) bool {
	return s.IsAlive(id) && s.slots[id.Index].mask.Has(kind)
}

// grow добавляет слот во все таблицы компонентов
func (s *Store) grow() {
	s.transforms = append(s.transforms, Transform{})
	s.hitboxes = append(s.hitboxes, Hitbox{})
	s.characters = append(s.characters, character.Status{})
	s.inputs = append(s.inputs, Input{})
	s.owners = append(s.owners, Owner{})
}

// auditArchetypes проверяет целостность архетипов: каждая живая сущность
// с непустой маской состоит ровно в одной группе, и ровно в той, что
// соответствует её маске. Используется тестами.
func (s *Store) auditArchetypes() bool {
	seen := make(map[uint32]ComponentMask)
	for mask, arch := range s.archetypes {
		for _, id := range arch.entities {
			if _, dup := seen[id.Index]; dup {
				return false
			}
			seen[id.Index] = mask
		}
	}
	for idx, sl := range s.slots {
		if !sl.alive || sl.mask == 0 {
			if _, present := seen[uint32(idx)]; present {
				return false
			}
			continue
		}
		if seen[uint32(idx)] != sl.mask {
			return false
		}
	}
	return true
}
