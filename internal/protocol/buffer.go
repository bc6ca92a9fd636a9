package protocol

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShortBuffer возвращается читателем при нехватке данных
var ErrShortBuffer = errors.New("protocol: short buffer")

// Writer накапливает big-endian поля в срезе
type Writer struct {
	buf []byte
}

// NewWriter создаёт writer с заданной начальной ёмкостью
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }
func (w *Writer) Reset()        { w.buf = w.buf[:0] }

func (w *Writer) PutU8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) PutU16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

func (w *Writer) PutU32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

// PutU64 пишет 64-битное значение двумя 32-битными половинами: старшая, затем младшая
func (w *Writer) PutU64(v uint64) {
	w.PutU32(uint32(v >> 32))
	w.PutU32(uint32(v))
}

func (w *Writer) PutF32(v float32) { w.PutU32(math.Float32bits(v)) }

func (w *Writer) PutBytes(b []byte) { w.buf = append(w.buf, b...) }

// PutString пишет строку в поле фиксированной ширины, дополняя нулями.
// Строка ровно в ширину поля пишется без завершающего нуля, длиннее - обрезается.
func (w *Writer) PutString(s string, width int) {
	if len(s) > width {
		s = s[:width]
	}
	w.buf = append(w.buf, s...)
	for i := len(s); i < width; i++ {
		w.buf = append(w.buf, 0)
	}
}

// PutShortString пишет строку с префиксом длины u8
func (w *Writer) PutShortString(s string) {
	if len(s) > math.MaxUint8 {
		s = s[:math.MaxUint8]
	}
	w.PutU8(uint8(len(s)))
	w.buf = append(w.buf, s...)
}

// Reader читает big-endian поля и запоминает первую ошибку
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) Err() error     { return r.err }
func (r *Reader) Remaining() int { return len(r.buf) - r.off }
func (r *Reader) Offset() int    { return r.off }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = ErrShortBuffer
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *Reader) U64() uint64 {
	msb := r.U32()
	lsb := r.U32()
	return uint64(msb)<<32 | uint64(lsb)
}

func (r *Reader) F32() float32 { return math.Float32frombits(r.U32()) }

// Bytes возвращает копию следующих n байт
func (r *Reader) Bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// String читает поле фиксированной ширины до первого нуля
func (r *Reader) String(width int) string {
	b := r.take(width)
	if b == nil {
		return ""
	}
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// ShortString читает строку с префиксом длины u8
func (r *Reader) ShortString() string {
	n := int(r.U8())
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}
