package transport

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/sha1d/pixel-sahur/internal/logging"
)

// KCPChannel реализует Channel поверх KCP (надёжный UDP).
// Сессия работает в потоковом режиме, границы кадров восстанавливает
// префикс длины.
type KCPChannel struct {
	conn   *kcp.UDPSession
	config *Config
	codec  *codec
	logger *logging.Logger

	sendBuffer chan []byte
	recvBuffer chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats

	framesSent     uint64
	framesReceived uint64
	bytesSent      uint64
	bytesReceived  uint64
}

// DialKCP подключается к серверу и настраивает сессию для игрового трафика.
func DialKCP(addr string, config *Config) (*KCPChannel, error) {
	if config == nil {
		config = DefaultConfig()
	}

	conn, err := kcp.DialWithOptions(addr, nil, 10, 3)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к %s: %w", addr, err)
	}

	return newKCPChannel(conn, config)
}

// newKCPChannel оборачивает принятую или набранную KCP-сессию.
func newKCPChannel(conn *kcp.UDPSession, config *Config) (*KCPChannel, error) {
	cdc, err := newCodec(config.CompressThreshold)
	if err != nil {
		conn.Close()
		return nil, err
	}

	// Агрессивные настройки для игр: минимальная задержка важнее
	// пропускной способности.
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(1, 20, 2, 1)
	conn.SetWindowSize(512, 512)
	conn.SetMtu(1400)

	ctx, cancel := context.WithCancel(context.Background())

	ch := &KCPChannel{
		conn:       conn,
		config:     config,
		codec:      cdc,
		logger:     logging.GetComponentLogger("transport"),
		sendBuffer: make(chan []byte, config.BufferSize),
		recvBuffer: make(chan []byte, config.BufferSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	ch.stats.Connected = true
	ch.stats.RemoteAddr = conn.RemoteAddr().String()
	ch.stats.LastActivity = time.Now()

	ch.wg.Add(2)
	go ch.sendLoop()
	go ch.receiveLoop()

	return ch, nil
}

// Send кадрирует данные и ставит кадр в очередь отправки.
func (kc *KCPChannel) Send(data []byte, opts *SendOptions) error {
	frame, err := kc.codec.encodeFrame(data)
	if err != nil {
		return err
	}

	select {
	case kc.sendBuffer <- frame:
		return nil
	case <-kc.ctx.Done():
		return ErrChannelClosed
	}
}

// Receive возвращает канал входящих полезных нагрузок.
func (kc *KCPChannel) Receive() <-chan []byte {
	return kc.recvBuffer
}

// Close закрывает сессию и дожидается завершения горутин.
func (kc *KCPChannel) Close() error {
	kc.mu.Lock()
	if !kc.stats.Connected {
		kc.mu.Unlock()
		return nil
	}
	kc.stats.Connected = false
	kc.mu.Unlock()

	kc.cancel()
	err := kc.conn.Close() // разблокирует чтение в receiveLoop
	kc.wg.Wait()
	kc.codec.close()
	return err
}

// Stats возвращает статистику соединения.
func (kc *KCPChannel) Stats() Stats {
	kc.mu.RLock()
	s := kc.stats
	kc.mu.RUnlock()

	s.FramesSent = atomic.LoadUint64(&kc.framesSent)
	s.FramesReceived = atomic.LoadUint64(&kc.framesReceived)
	s.BytesSent = atomic.LoadUint64(&kc.bytesSent)
	s.BytesReceived = atomic.LoadUint64(&kc.bytesReceived)
	return s
}

// RemoteAddr возвращает адрес удалённого узла.
func (kc *KCPChannel) RemoteAddr() string {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.stats.RemoteAddr
}

// sendLoop пишет кадры из очереди в сессию.
func (kc *KCPChannel) sendLoop() {
	defer kc.wg.Done()

	for {
		select {
		case frame := <-kc.sendBuffer:
			if _, err := kc.conn.Write(frame); err != nil {
				select {
				case <-kc.ctx.Done():
				default:
					kc.logger.Error("Ошибка отправки кадра: %v", err)
				}
				return
			}

			atomic.AddUint64(&kc.framesSent, 1)
			atomic.AddUint64(&kc.bytesSent, uint64(len(frame)))
			kc.touch()
		case <-kc.ctx.Done():
			return
		}
	}
}

// receiveLoop читает кадры из сессии и раздаёт полезные нагрузки.
// Закрытие conn в Close разблокирует io.ReadFull внутри readFrame.
func (kc *KCPChannel) receiveLoop() {
	defer kc.wg.Done()
	defer close(kc.recvBuffer)

	reader := bufio.NewReader(kc.conn)

	for {
		payload, err := kc.codec.readFrame(reader)
		if err != nil {
			select {
			case <-kc.ctx.Done():
			default:
				kc.logger.Debug("Чтение кадра завершено: %v", err)
				kc.cancel()
			}
			return
		}

		atomic.AddUint64(&kc.framesReceived, 1)
		atomic.AddUint64(&kc.bytesReceived, uint64(len(payload)))
		kc.touch()

		select {
		case kc.recvBuffer <- payload:
		case <-kc.ctx.Done():
			return
		default:
			kc.logger.Warn("Буфер приёма переполнен, кадр отброшен")
		}
	}
}

// touch обновляет время последней активности.
func (kc *KCPChannel) touch() {
	kc.mu.Lock()
	kc.stats.LastActivity = time.Now()
	kc.mu.Unlock()
}
