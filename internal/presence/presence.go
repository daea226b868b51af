// Package presence ведёт реестр активных клиентских сессий.
// Hub обновляет записи с TTL на каждом каденсе, REST отдаёт список
// через /api/clients. Для одиночного узла достаточно памяти,
// для нескольких узлов используется Redis-реализация.
package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound возвращается, когда записи о клиенте нет в реестре
// или её TTL уже истёк.
var ErrNotFound = errors.New("presence entry not found")

// Info описывает одну активную сессию клиента.
type Info struct {
	ClientID    uint64    `json:"client_id"`
	Name        string    `json:"name"`
	EntityIndex uint32    `json:"entity_index"`
	EntityGen   uint16    `json:"entity_gen"`
	Addr        string    `json:"addr"`
	Guest       bool      `json:"guest"`
	ConnectedAt time.Time `json:"connected_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Registry хранит записи о живых сессиях. Запись живёт не дольше TTL:
// если владелец перестал её обновлять, она исчезает из List/Get сама.
type Registry interface {
	// Set создаёт или обновляет запись и её TTL.
	Set(ctx context.Context, info Info, ttl time.Duration) error

	// Get возвращает запись клиента или ErrNotFound.
	Get(ctx context.Context, clientID uint64) (Info, error)

	// Delete удаляет запись. Отсутствие записи не считается ошибкой.
	Delete(ctx context.Context, clientID uint64) error

	// List возвращает все живые записи, отсортированные по ClientID.
	List(ctx context.Context) ([]Info, error)

	// Close освобождает ресурсы реализации.
	Close() error
}

// memoryEntry — запись в памяти вместе со сроком её жизни.
type memoryEntry struct {
	info      Info
	expiresAt time.Time
}

// MemoryRegistry — реестр в памяти процесса. Истёкшие записи
// отбрасываются лениво при чтении.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[uint64]memoryEntry
}

// NewMemoryRegistry создаёт пустой реестр в памяти.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[uint64]memoryEntry)}
}

// Set создаёт или обновляет запись и её TTL.
func (m *MemoryRegistry) Set(ctx context.Context, info Info, ttl time.Duration) error {
	if info.UpdatedAt.IsZero() {
		info.UpdatedAt = time.Now()
	}

	m.mu.Lock()
	m.entries[info.ClientID] = memoryEntry{info: info, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Get возвращает запись клиента или ErrNotFound.
func (m *MemoryRegistry) Get(ctx context.Context, clientID uint64) (Info, error) {
	m.mu.RLock()
	entry, ok := m.entries[clientID]
	m.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return Info{}, ErrNotFound
	}
	return entry.info, nil
}

// Delete удаляет запись клиента.
func (m *MemoryRegistry) Delete(ctx context.Context, clientID uint64) error {
	m.mu.Lock()
	delete(m.entries, clientID)
	m.mu.Unlock()
	return nil
}

// List возвращает живые записи, отсортированные по ClientID.
// Заодно вычищает истёкшие, чтобы карта не росла бесконечно.
func (m *MemoryRegistry) List(ctx context.Context) ([]Info, error) {
	now := time.Now()

	m.mu.Lock()
	result := make([]Info, 0, len(m.entries))
	for id, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, id)
			continue
		}
		result = append(result, entry.info)
	}
	m.mu.Unlock()

	sortInfos(result)
	return result, nil
}

// Close для реестра в памяти ничего не делает.
func (m *MemoryRegistry) Close() error {
	return nil
}

// sortInfos упорядочивает записи по ClientID, чтобы List был стабилен.
func sortInfos(infos []Info) {
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ClientID < infos[j].ClientID
	})
}
