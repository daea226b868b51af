package protocol

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrMalformedPacket возвращается при любом дефекте входных байтов:
// усеченный буфер, неизвестный тип, счетчик за пределами лимита.
// Декодер не должен паниковать на враждебных данных.
var ErrMalformedPacket = errors.New("malformed packet")

// Writer накапливает бинарное представление сообщения.
// Все числа пишутся в little-endian.
type Writer struct {
	buf []byte
}

// NewWriter создает писатель с предвыделенным буфером
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes возвращает накопленные байты
func (w *Writer) Bytes() []byte { return w.buf }

// Len возвращает текущий размер сообщения
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) Uint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) Uint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) Uint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) Uint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) Int32(v int32) {
	w.Uint32(uint32(v))
}

func (w *Writer) Int64(v int64) {
	w.Uint64(uint64(v))
}

func (w *Writer) Float32(v float32) {
	w.Uint32(math.Float32bits(v))
}

func (w *Writer) Bool(v bool) {
	if v {
		w.Uint8(1)
	} else {
		w.Uint8(0)
	}
}

// String пишет строку с префиксом длины uint16
func (w *Writer) String(s string) {
	w.Uint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// Reader последовательно читает примитивы из буфера. Ошибка липкая:
// после первого сбоя все дальнейшие чтения возвращают нули, итог
// проверяется одним вызовом Err.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader создает читатель поверх данных (без копирования)
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err возвращает первую встреченную ошибку чтения
func (r *Reader) Err() error { return r.err }

// Remaining возвращает число непрочитанных байтов
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// fail помечает читатель испорченным
func (r *Reader) fail() {
	if r.err == nil {
		r.err = ErrMalformedPacket
	}
}

// take выдает окно в n байтов или nil при нехватке
func (r *Reader) take(n int) []byte {
	if r.err != nil || r.Remaining() < n {
		r.fail()
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) Uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) Int32() int32 {
	return int32(r.Uint32())
}

func (r *Reader) Int64() int64 {
	return int64(r.Uint64())
}

func (r *Reader) Float32() float32 {
	return math.Float32frombits(r.Uint32())
}

func (r *Reader) Bool() bool {
	return r.Uint8() != 0
}

// String читает строку с префиксом длины; длина сверх max — дефект пакета
func (r *Reader) String(max int) string {
	n := int(r.Uint16())
	if n > max {
		r.fail()
		return ""
	}
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

// Count читает счетчик элементов uint16 с верхней границей
func (r *Reader) Count(max int) int {
	n := int(r.Uint16())
	if n > max {
		r.fail()
		return 0
	}
	return n
}
