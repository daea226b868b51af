package replication

import (
	"github.com/sha1d/pixel-sahur/internal/ecs"
	"github.com/sha1d/pixel-sahur/internal/protocol"
)

// entityRecord — состояние одной сущности в форме провода
type entityRecord struct {
	ref       protocol.EntityRef
	mask      protocol.FieldMask
	transform protocol.TransformState
	character protocol.CharacterState
	hitbox    protocol.HitboxState
}

// tickState — полное состояние реплицируемых сущностей на одном тике.
// order хранит порядок обхода хранилища: снимки из одного состояния
// всегда перечисляют сущности одинаково.
type tickState struct {
	tick    uint32
	order   []uint64
	records map[uint64]entityRecord
}

// captureState снимает состояние всех сущностей с Transform в форме провода
func captureState(store *ecs.Store, tick uint32) *tickState {
	ids := store.Query(ecs.MaskTransform)
	st := &tickState{
		tick:    tick,
		order:   make([]uint64, 0, len(ids)),
		records: make(map[uint64]entityRecord, len(ids)),
	}
	for _, id := range ids {
		rec := entityRecord{ref: refOf(id)}
		if tr, ok := store.Transform(id); ok {
			rec.mask |= protocol.FieldTransform
			rec.transform = wireTransform(tr)
		}
		if ch, ok := store.Character(id); ok {
			rec.mask |= protocol.FieldCharacter
			rec.character = wireCharacter(ch)
		}
		if hb, ok := store.Hitbox(id); ok {
			rec.mask |= protocol.FieldHitbox
			rec.hitbox = wireHitbox(hb)
		}
		key := id.Packed()
		st.order = append(st.order, key)
		st.records[key] = rec
	}
	return st
}

// snapshotHistory — кольцо последних состояний мира. База дельты ищется
// по номеру тика; вытесненная база означает полный снимок.
type snapshotHistory struct {
	states []*tickState
	next   int
}

func newSnapshotHistory(capacity int) *snapshotHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &snapshotHistory{states: make([]*tickState, capacity)}
}

// push кладет состояние тика, вытесняя самое старое
func (h *snapshotHistory) push(st *tickState) {
	h.states[h.next] = st
	h.next = (h.next + 1) % len(h.states)
}

// get возвращает состояние тика, если оно еще в кольце
func (h *snapshotHistory) get(tick uint32) (*tickState, bool) {
	for _, st := range h.states {
		if st != nil && st.tick == tick {
			return st, true
		}
	}
	return nil, false
}

// entry собирает запись снимка из записи состояния с заданной маской
func entry(rec entityRecord, mask protocol.FieldMask) protocol.EntityState {
	e := protocol.EntityState{Ref: rec.ref, Mask: mask}
	if mask.Has(protocol.FieldTransform) {
		e.Transform = rec.transform
	}
	if mask.Has(protocol.FieldCharacter) {
		e.Character = rec.character
	}
	if mask.Has(protocol.FieldHitbox) {
		e.Hitbox = rec.hitbox
	}
	return e
}

// buildFull собирает полный снимок состояния
func buildFull(cur *tickState, lastSeq uint32) *protocol.Snapshot {
	s := &protocol.Snapshot{Tick: cur.tick, LastInputSeq: lastSeq}
	s.Entries = make([]protocol.EntityState, 0, len(cur.order))
	for _, key := range cur.order {
		rec := cur.records[key]
		s.Entries = append(s.Entries, entry(rec, rec.mask))
	}
	return s
}

// buildDelta собирает дельту относительно базового состояния: в записи
// попадают только компоненты, изменившиеся с базового тика, в Removed —
// сущности, исчезнувшие с него. Собственная сущность клиента включается
// всегда: сверке предсказания нужна авторитетная позиция в каждом снимке.
func buildDelta(cur, base *tickState, own uint64, lastSeq uint32) *protocol.Snapshot {
	s := &protocol.Snapshot{Tick: cur.tick, BaseTick: base.tick, LastInputSeq: lastSeq}

	for _, key := range cur.order {
		rec := cur.records[key]
		prev, existed := base.records[key]

		var mask protocol.FieldMask
		if !existed {
			mask = rec.mask
		} else {
			if rec.mask.Has(protocol.FieldTransform) &&
				(!prev.mask.Has(protocol.FieldTransform) || rec.transform != prev.transform) {
				mask |= protocol.FieldTransform
			}
			if rec.mask.Has(protocol.FieldCharacter) &&
				(!prev.mask.Has(protocol.FieldCharacter) || rec.character != prev.character) {
				mask |= protocol.FieldCharacter
			}
			if rec.mask.Has(protocol.FieldHitbox) &&
				(!prev.mask.Has(protocol.FieldHitbox) || rec.hitbox != prev.hitbox) {
				mask |= protocol.FieldHitbox
			}
		}
		if key == own {
			mask |= rec.mask & (protocol.FieldTransform | protocol.FieldCharacter)
		}
		if mask == 0 {
			continue
		}
		s.Entries = append(s.Entries, entry(rec, mask))
	}

	for _, key := range base.order {
		if _, ok := cur.records[key]; !ok {
			s.Removed = append(s.Removed, base.records[key].ref)
		}
	}
	return s
}
