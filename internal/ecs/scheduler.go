package ecs

import "sort"

// System — единица игровой логики, исполняемая каждый тик над сущностями,
// маска которых содержит Required()
type System interface {
	Name() string
	Priority() int
	Required() ComponentMask
	Update(s *Store, entities []EntityID, dt float64)
}

type systemEntry struct {
	sys     System
	seq     int
	enabled bool
}

// Scheduler выполняет системы в порядке возрастания приоритета; равные
// приоритеты разрешаются порядком регистрации, поэтому порядок запуска
// стабилен от запуска к запуску.
type Scheduler struct {
	store   *Store
	entries []*systemEntry
	nextSeq int
}

// NewScheduler создает планировщик над хранилищем
func NewScheduler(store *Store) *Scheduler {
	return &Scheduler{store: store}
}

// Register добавляет систему. Новая система включена.
func (sc *Scheduler) Register(sys System) {
	sc.entries = append(sc.entries, &systemEntry{sys: sys, seq: sc.nextSeq, enabled: true})
	sc.nextSeq++
	sort.Slice(sc.entries, func(i, j int) bool {
		a, b := sc.entries[i], sc.entries[j]
		if a.sys.Priority() != b.sys.Priority() {
			return a.sys.Priority() < b.sys.Priority()
		}
		return a.seq < b.seq
	})
}

// SetEnabled включает или выключает систему по имени; выключенная система
// пропускается, сохраняя позицию в порядке запуска. Возвращает false,
// если система не зарегистрирована.
func (sc *Scheduler) SetEnabled(name string, enabled bool) bool {
	for _, e := range sc.entries {
		if e.sys.Name() == name {
			e.enabled = enabled
			return true
		}
	}
	return false
}

// Enabled сообщает, включена ли система
func (sc *Scheduler) Enabled(name string) bool {
	for _, e := range sc.entries {
		if e.sys.Name() == name {
			return e.enabled
		}
	}
	return false
}

// Systems возвращает имена систем в порядке выполнения
func (sc *Scheduler) Systems() []string {
	names := make([]string, 0, len(sc.entries))
	for _, e := range sc.entries {
		names = append(names, e.sys.Name())
	}
	return names
}

// RunTick выполняет включенные системы и применяет отложенные структурные
// операции. Пока работает система, структура хранилища не меняется —
// последовательности запросов стабильны весь её проход.
func (sc *Scheduler) RunTick(dt float64) {
	sc.store.beginDefer()
	for _, e := range sc.entries {
		if !e.enabled {
			continue
		}
		ids := sc.store.Query(e.sys.Required())
		e.sys.Update(sc.store, ids, dt)
	}
	sc.store.Flush()
}
