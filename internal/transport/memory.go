package transport

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sha1d/pixel-sahur/internal/logging"
)

// memoryChannel — одна сторона пары каналов в памяти. Кадры проходят
// тот же кодек, что и на проводе, поэтому тесты покрывают и сжатие.
type memoryChannel struct {
	codec *codec
	addr  string

	wire     chan []byte // входящие закодированные кадры
	peerWire chan []byte
	peerDone chan struct{}
	peer     *memoryChannel

	recv      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	framesSent     uint64
	framesReceived uint64
	bytesSent      uint64
	bytesReceived  uint64
}

// newMemoryPair создаёт две перекрёстно связанные стороны.
func newMemoryPair(config *Config, clientAddr, serverAddr string) (*memoryChannel, *memoryChannel, error) {
	clientCodec, err := newCodec(config.CompressThreshold)
	if err != nil {
		return nil, nil, err
	}
	serverCodec, err := newCodec(config.CompressThreshold)
	if err != nil {
		clientCodec.close()
		return nil, nil, err
	}

	client := &memoryChannel{
		codec: clientCodec,
		addr:  serverAddr, // адрес удалённой стороны
		wire:  make(chan []byte, config.BufferSize),
		recv:  make(chan []byte, config.BufferSize),
		done:  make(chan struct{}),
	}
	server := &memoryChannel{
		codec: serverCodec,
		addr:  clientAddr,
		wire:  make(chan []byte, config.BufferSize),
		recv:  make(chan []byte, config.BufferSize),
		done:  make(chan struct{}),
	}

	client.peer, client.peerWire, client.peerDone = server, server.wire, server.done
	server.peer, server.peerWire, server.peerDone = client, client.wire, client.done

	client.wg.Add(1)
	go client.pump()
	server.wg.Add(1)
	go server.pump()

	return client, server, nil
}

// Send кадрирует данные и передаёт кадр на сторону получателя.
func (mc *memoryChannel) Send(data []byte, opts *SendOptions) error {
	// Явная проверка до отправки: select ниже может выбрать буфер
	// даже у закрытой пары.
	select {
	case <-mc.done:
		return ErrChannelClosed
	case <-mc.peerDone:
		return ErrChannelClosed
	default:
	}

	frame, err := mc.codec.encodeFrame(data)
	if err != nil {
		return err
	}

	select {
	case mc.peerWire <- frame:
		atomic.AddUint64(&mc.framesSent, 1)
		atomic.AddUint64(&mc.bytesSent, uint64(len(frame)))
		return nil
	case <-mc.done:
		return ErrChannelClosed
	case <-mc.peerDone:
		return ErrChannelClosed
	}
}

// Receive возвращает канал входящих полезных нагрузок.
func (mc *memoryChannel) Receive() <-chan []byte {
	return mc.recv
}

// Close закрывает обе стороны пары, как разрыв соединения.
func (mc *memoryChannel) Close() error {
	mc.closeOnce.Do(func() { close(mc.done) })
	if mc.peer != nil {
		mc.peer.closeOnce.Do(func() { close(mc.peer.done) })
	}
	return nil
}

// Stats возвращает статистику стороны.
func (mc *memoryChannel) Stats() Stats {
	connected := true
	select {
	case <-mc.done:
		connected = false
	default:
	}

	return Stats{
		FramesSent:     atomic.LoadUint64(&mc.framesSent),
		FramesReceived: atomic.LoadUint64(&mc.framesReceived),
		BytesSent:      atomic.LoadUint64(&mc.bytesSent),
		BytesReceived:  atomic.LoadUint64(&mc.bytesReceived),
		Connected:      connected,
		RemoteAddr:     mc.addr,
		LastActivity:   time.Now(),
	}
}

// RemoteAddr возвращает синтетический адрес удалённой стороны.
func (mc *memoryChannel) RemoteAddr() string {
	return mc.addr
}

// pump раскодирует входящие кадры и раздаёт полезные нагрузки.
func (mc *memoryChannel) pump() {
	defer mc.wg.Done()
	defer close(mc.recv)

	for {
		select {
		case frame := <-mc.wire:
			payload, err := mc.codec.decodeBody(frame[headerSize:])
			if err != nil {
				continue
			}
			atomic.AddUint64(&mc.framesReceived, 1)
			atomic.AddUint64(&mc.bytesReceived, uint64(len(payload)))

			select {
			case mc.recv <- payload:
			case <-mc.done:
				return
			}
		case <-mc.done:
			return
		}
	}
}

// memoryServerClient — учётная запись клиента на сервере в памяти.
type memoryServerClient struct {
	id      uint64
	channel *memoryChannel
}

// MemoryServer реализует Server без сети: клиенты подключаются
// вызовом Dial в том же процессе. Используется в тестах и при
// встраивании бота в процесс сервера.
type MemoryServer struct {
	config *Config
	logger *logging.Logger

	clients   map[uint64]*memoryServerClient
	clientsMu sync.RWMutex
	nextID    uint64
	started   bool
	startedMu sync.Mutex
	wg        sync.WaitGroup

	onConnect    func(id uint64, ch Channel)
	onFrame      func(id uint64, payload []byte)
	onDisconnect func(id uint64, err error)
}

// NewMemoryServer создаёт сервер в памяти.
func NewMemoryServer(config *Config) *MemoryServer {
	if config == nil {
		config = DefaultConfig()
	}
	return &MemoryServer{
		config:  config,
		logger:  logging.GetComponentLogger("transport"),
		clients: make(map[uint64]*memoryServerClient),
	}
}

// SetHandlers устанавливает обработчики событий. Вызывается до Start.
func (s *MemoryServer) SetHandlers(
	onConnect func(id uint64, ch Channel),
	onFrame func(id uint64, payload []byte),
	onDisconnect func(id uint64, err error),
) {
	s.onConnect = onConnect
	s.onFrame = onFrame
	s.onDisconnect = onDisconnect
}

// Start помечает сервер готовым принимать Dial.
func (s *MemoryServer) Start() error {
	s.startedMu.Lock()
	s.started = true
	s.startedMu.Unlock()
	return nil
}

// Stop отключает всех клиентов и ждёт завершения насосов.
func (s *MemoryServer) Stop() error {
	s.startedMu.Lock()
	s.started = false
	s.startedMu.Unlock()

	s.clientsMu.Lock()
	clients := make([]*memoryServerClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		c.channel.Close()
	}
	s.wg.Wait()
	return nil
}

// Dial подключает нового клиента и возвращает его сторону канала.
// Обработчик onConnect вызывается до возврата, поэтому первый кадр
// клиента не обгонит регистрацию.
func (s *MemoryServer) Dial() (Channel, error) {
	s.startedMu.Lock()
	started := s.started
	s.startedMu.Unlock()
	if !started {
		return nil, errors.New("memory server not started")
	}

	id := atomic.AddUint64(&s.nextID, 1)
	clientCh, serverCh, err := newMemoryPair(
		s.config,
		fmt.Sprintf("mem://client-%d", id),
		"mem://server",
	)
	if err != nil {
		return nil, err
	}

	client := &memoryServerClient{id: id, channel: serverCh}
	s.clientsMu.Lock()
	s.clients[id] = client
	s.clientsMu.Unlock()

	if s.onConnect != nil {
		s.onConnect(id, serverCh)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for payload := range serverCh.Receive() {
			if s.onFrame != nil {
				s.onFrame(id, payload)
			}
		}
		s.dropClient(client)
	}()

	return clientCh, nil
}

// SendTo отправляет кадр конкретному клиенту.
func (s *MemoryServer) SendTo(id uint64, payload []byte, opts *SendOptions) error {
	s.clientsMu.RLock()
	client, ok := s.clients[id]
	s.clientsMu.RUnlock()

	if !ok {
		return ErrClientNotFound
	}
	return client.channel.Send(payload, opts)
}

// Broadcast отправляет кадр всем подключённым клиентам.
func (s *MemoryServer) Broadcast(payload []byte, opts *SendOptions) {
	s.clientsMu.RLock()
	clients := make([]*memoryServerClient, 0, len(s.clients))
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

// Kick принудительно отключает клиента.
func (s *MemoryServer) Kick(id uint64) {
	s.clientsMu.RLock()
	client, ok := s.clients[id]
	s.clientsMu.RUnlock()

	if ok {
		client.channel.Close()
	}
}

// ClientCount возвращает число подключённых клиентов.
func (s *MemoryServer) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// dropClient снимает клиента с учёта и уведомляет обработчик.
func (s *MemoryServer) dropClient(client *memoryServerClient) {
	s.clientsMu.Lock()
	_, exists := s.clients[client.id]
	delete(s.clients, client.id)
	s.clientsMu.Unlock()

	if !exists {
		return
	}

	client.channel.Close()
	if s.onDisconnect != nil {
		s.onDisconnect(client.id, nil)
	}
}

var (
	_ Channel = (*memoryChannel)(nil)
	_ Server  = (*MemoryServer)(nil)
)
