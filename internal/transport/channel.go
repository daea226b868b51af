// Package transport предоставляет каналы доставки кадров между клиентом
// и сервером. Основной канал — KCP (надёжный UDP), для тестов и
// одиночных процессов есть реализация в памяти с тем же форматом кадров.
//
// Формат кадра на проводе:
//
//	[длина u32 LE][флаги u8][тело]
//
// Длина покрывает байт флагов и тело. Бит 0 флагов означает, что тело
// сжато zstd. Полезная нагрузка кадра — уже готовые байты протокола,
// транспорт в их структуру не заглядывает.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	// flagZstd помечает сжатое zstd тело кадра.
	flagZstd byte = 1 << 0

	// headerSize — размер префикса длины.
	headerSize = 4

	// maxFrameSize ограничивает размер кадра, защищая от враждебных
	// префиксов длины.
	maxFrameSize = 1 << 20
)

// ErrChannelClosed возвращается операциями над закрытым каналом.
var ErrChannelClosed = errors.New("channel closed")

// ErrFrameTooLarge возвращается при кадре больше maxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// SendOptions настройки отправки кадра.
type SendOptions struct {
	// Reliable требует гарантированной доставки. KCP доставляет надёжно
	// всегда, флаг учитывают реализации с ненадёжным нижним слоем.
	Reliable bool
}

// Stats содержит статистику соединения.
type Stats struct {
	FramesSent     uint64
	FramesReceived uint64
	BytesSent      uint64
	BytesReceived  uint64
	LastActivity   time.Time
	Connected      bool
	RemoteAddr     string
}

// Channel — двунаправленный канал кадров.
type Channel interface {
	// Send кадрирует, при необходимости сжимает и отправляет данные.
	Send(data []byte, opts *SendOptions) error

	// Receive возвращает канал входящих полезных нагрузок.
	// Канал закрывается при разрыве соединения.
	Receive() <-chan []byte

	// Close закрывает соединение и останавливает горутины канала.
	Close() error

	// Stats возвращает статистику соединения.
	Stats() Stats

	// RemoteAddr возвращает адрес удалённого узла.
	RemoteAddr() string
}

// Server — принимающая сторона транспорта. Реализации: KCP-сервер
// и сервер в памяти для тестов.
type Server interface {
	// SetHandlers устанавливает обработчики событий. Вызывается до Start.
	SetHandlers(
		onConnect func(id uint64, ch Channel),
		onFrame func(id uint64, payload []byte),
		onDisconnect func(id uint64, err error),
	)

	Start() error
	Stop() error

	// SendTo отправляет кадр конкретному клиенту.
	SendTo(id uint64, payload []byte, opts *SendOptions) error

	// Broadcast отправляет кадр всем подключённым клиентам.
	Broadcast(payload []byte, opts *SendOptions)

	// Kick принудительно отключает клиента.
	Kick(id uint64)

	// ClientCount возвращает число подключённых клиентов.
	ClientCount() int
}

// Config содержит настройки канала.
type Config struct {
	// BufferSize — ёмкость очередей отправки и приёма.
	BufferSize int

	// CompressThreshold — минимальный размер тела для сжатия zstd.
	// Ноль отключает сжатие.
	CompressThreshold int

	// IdleTimeout — время без активности, после которого сервер
	// отключает клиента.
	IdleTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию канала по умолчанию.
func DefaultConfig() *Config {
	return &Config{
		BufferSize:        256,
		CompressThreshold: 512,
		IdleTimeout:       30 * time.Second,
	}
}

// codec держит пару zstd кодеков канала. EncodeAll/DecodeAll
// переиспользуют внутренние буферы, поэтому пара живёт столько же,
// сколько канал.
type codec struct {
	enc       *zstd.Encoder
	dec       *zstd.Decoder
	threshold int
}

func newCodec(threshold int) (*codec, error) {
	c := &codec{threshold: threshold}
	if threshold > 0 {
		var err error
		c.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("ошибка создания компрессора: %w", err)
		}
	}
	// Декодер нужен всегда: удалённая сторона может сжимать
	// независимо от нашего порога.
	var err error
	c.dec, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания декомпрессора: %w", err)
	}
	return c, nil
}

// encodeFrame собирает кадр целиком: префикс длины, флаги, тело.
func (c *codec) encodeFrame(payload []byte) ([]byte, error) {
	body := payload
	var flags byte
	if c.enc != nil && c.threshold > 0 && len(payload) >= c.threshold {
		body = c.enc.EncodeAll(payload, nil)
		flags |= flagZstd
	}

	if len(body)+1 > maxFrameSize {
		return nil, ErrFrameTooLarge
	}

	frame := make([]byte, headerSize+1+len(body))
	binary.LittleEndian.PutUint32(frame[:headerSize], uint32(len(body)+1))
	frame[headerSize] = flags
	copy(frame[headerSize+1:], body)
	return frame, nil
}

// decodeBody разворачивает тело кадра (флаги + данные) в полезную нагрузку.
func (c *codec) decodeBody(body []byte) ([]byte, error) {
	if len(body) < 1 {
		return nil, errors.New("пустое тело кадра")
	}

	flags := body[0]
	data := body[1:]

	if flags&flagZstd != 0 {
		decompressed, err := c.dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("ошибка декомпрессии: %w", err)
		}
		return decompressed, nil
	}

	// Копия: кадр мог быть окном в переиспользуемый буфер чтения.
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// readFrame читает один кадр из потока и возвращает полезную нагрузку.
func (c *codec) readFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint32(header[:])
	if length == 0 {
		return nil, errors.New("нулевая длина кадра")
	}
	if length > maxFrameSize {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return c.decodeBody(body)
}

func (c *codec) close() {
	if c.enc != nil {
		c.enc.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}
