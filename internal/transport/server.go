package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/sha1d/pixel-sahur/internal/logging"
)

// ErrClientNotFound возвращается при отправке отключённому клиенту.
var ErrClientNotFound = errors.New("client not found")

// serverClient хранит состояние одного подключённого клиента.
type serverClient struct {
	id       uint64
	channel  Channel
	lastSeen atomic.Int64 // unix nano
}

// KCPServer принимает KCP-соединения и раздаёт кадры обработчикам.
// Каждому соединению назначается монотонный числовой идентификатор.
type KCPServer struct {
	addr     string
	config   *Config
	listener *kcp.Listener
	logger   *logging.Logger

	clients   map[uint64]*serverClient
	clientsMu sync.RWMutex
	nextID    uint64

	onConnect    func(id uint64, ch Channel)
	onFrame      func(id uint64, payload []byte)
	onDisconnect func(id uint64, err error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKCPServer создаёт сервер. Слушать начинает Start.
func NewKCPServer(addr string, config *Config) *KCPServer {
	if config == nil {
		config = DefaultConfig()
	}
	return &KCPServer{
		addr:    addr,
		config:  config,
		logger:  logging.GetComponentLogger("transport"),
		clients: make(map[uint64]*serverClient),
	}
}

// SetHandlers устанавливает обработчики событий. Вызывается до Start.
func (s *KCPServer) SetHandlers(
	onConnect func(id uint64, ch Channel),
	onFrame func(id uint64, payload []byte),
	onDisconnect func(id uint64, err error),
) {
	s.onConnect = onConnect
	s.onFrame = onFrame
	s.onDisconnect = onDisconnect
}

// Start начинает слушать адрес и принимать соединения.
func (s *KCPServer) Start() error {
	listener, err := kcp.ListenWithOptions(s.addr, nil, 0, 0)
	if err != nil {
		return fmt.Errorf("ошибка прослушивания %s: %w", s.addr, err)
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(2)
	go s.acceptLoop()
	go s.sweepLoop()

	s.logger.Info("🚀 KCP сервер запущен на %s", s.addr)
	return nil
}

// Stop останавливает сервер и отключает всех клиентов.
func (s *KCPServer) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()

	s.clientsMu.Lock()
	clients := make([]*serverClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[uint64]*serverClient)
	s.clientsMu.Unlock()

	for _, c := range clients {
		c.channel.Close()
	}

	s.logger.Info("🛑 KCP сервер остановлен")
	return nil
}

// Addr возвращает фактический адрес прослушивания. До Start пустая строка.
func (s *KCPServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// SendTo отправляет кадр конкретному клиенту.
func (s *KCPServer) SendTo(id uint64, payload []byte, opts *SendOptions) error {
	s.clientsMu.RLock()
	client, ok := s.clients[id]
	s.clientsMu.RUnlock()

	if !ok {
		return ErrClientNotFound
	}
	return client.channel.Send(payload, opts)
}

// Broadcast отправляет кадр всем подключённым клиентам.
func (s *KCPServer) Broadcast(payload []byte, opts *SendOptions) {
	s.clientsMu.RLock()
	clients := make([]*serverClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		if err := c.channel.Send(payload, opts); err != nil {
			s.logger.Warn("Не удалось отправить клиенту %d: %v", c.id, err)
		}
	}
}

// Kick принудительно отключает клиента. Закрытие канала завершает
// его читающую горутину, та вызовет onDisconnect.
func (s *KCPServer) Kick(id uint64) {
	s.clientsMu.RLock()
	client, ok := s.clients[id]
	s.clientsMu.RUnlock()

	if ok {
		client.channel.Close()
	}
}

// ClientCount возвращает число подключённых клиентов.
func (s *KCPServer) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// acceptLoop принимает входящие соединения.
func (s *KCPServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Ошибка приёма соединения: %v", err)
				continue
			}
		}

		kcpConn, ok := conn.(*kcp.UDPSession)
		if !ok {
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(kcpConn)
	}
}

// handleConnection регистрирует клиента и качает его кадры до разрыва.
func (s *KCPServer) handleConnection(conn *kcp.UDPSession) {
	defer s.wg.Done()

	channel, err := newKCPChannel(conn, s.config)
	if err != nil {
		s.logger.Error("Ошибка создания канала для %s: %v", conn.RemoteAddr(), err)
		return
	}

	id := atomic.AddUint64(&s.nextID, 1)
	client := &serverClient{id: id, channel: channel}
	client.lastSeen.Store(time.Now().UnixNano())

	s.clientsMu.Lock()
	s.clients[id] = client
	s.clientsMu.Unlock()

	s.logger.Info("🔗 Клиент %d подключен: %s", id, channel.RemoteAddr())
	if s.onConnect != nil {
		s.onConnect(id, channel)
	}

	s.pumpFrames(client)
	s.dropClient(client, nil)
}

// pumpFrames передаёт входящие кадры обработчику до закрытия канала.
func (s *KCPServer) pumpFrames(client *serverClient) {
	for payload := range client.channel.Receive() {
		client.lastSeen.Store(time.Now().UnixNano())
		if s.onFrame != nil {
			s.onFrame(client.id, payload)
		}
	}
}

// dropClient снимает клиента с учёта и уведомляет обработчик.
func (s *KCPServer) dropClient(client *serverClient, reason error) {
	s.clientsMu.Lock()
	_, exists := s.clients[client.id]
	delete(s.clients, client.id)
	s.clientsMu.Unlock()

	if !exists {
		return
	}

	client.channel.Close()
	s.logger.Info("👋 Клиент %d отключен", client.id)
	if s.onDisconnect != nil {
		s.onDisconnect(client.id, reason)
	}
}

// sweepLoop отключает клиентов без активности дольше IdleTimeout.
func (s *KCPServer) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepIdle()
		case <-s.ctx.Done():
			return
		}
	}
}

// sweepIdle находит просроченных клиентов и закрывает их каналы.
func (s *KCPServer) sweepIdle() {
	deadline := time.Now().Add(-s.config.IdleTimeout).UnixNano()

	s.clientsMu.RLock()
	var idle []*serverClient
	for _, c := range s.clients {
		if c.lastSeen.Load() < deadline {
			idle = append(idle, c)
		}
	}
	s.clientsMu.RUnlock()

	for _, c := range idle {
		s.logger.Warn("⏱️ Клиент %d превысил таймаут простоя", c.id)
		// Закрытие канала завершит pumpFrames, дальше сработает dropClient.
		c.channel.Close()
	}
}

// проверка соответствия интерфейсу
var _ Server = (*KCPServer)(nil)
