// Package replay реализует запись игровой сессии в кольцевой буфер или файл
// и воспроизведение записанных файлов подключённым зрителям.
package replay

import (
	"fmt"

	"github.com/annel0/mmo-replay/internal/protocol"
)

// Mode классифицирует записанный пакет
type Mode uint16

const (
	// RealPacket живой трафик, пересылается зрителям с полным состоянием
	RealPacket Mode = 0
	// StatePacket часть снимка состояния
	StatePacket Mode = 1
	// UpdatePacket граница снимка, нулевой длины
	UpdatePacket Mode = 2
	// HiddenPacket служебные данные, зрителям не пересылаются никогда
	HiddenPacket Mode = 3
)

func (m Mode) String() string {
	switch m {
	case RealPacket:
		return "real"
	case StatePacket:
		return "state"
	case UpdatePacket:
		return "update"
	case HiddenPacket:
		return "hidden"
	default:
		return fmt.Sprintf("mode(%d)", uint16(m))
	}
}

// PacketHeaderSize mode, code, len, next, prev, timestamp
const PacketHeaderSize = 2 + 2 + 4 + 4 + 4 + 8

// MaxDataLen наибольшая полезная нагрузка записи
const MaxDataLen = protocol.MaxPayloadLen

// Packet одна запись сессии. Данные принадлежат записи.
type Packet struct {
	Mode        Mode
	Code        uint16
	Timestamp   int64 // микросекунды
	Data        []byte
	NextFilePos uint32
	PrevFilePos uint32
}

// NewPacket копирует полезную нагрузку, запись никогда не ссылается на чужой буфер
func NewPacket(mode Mode, code uint16, data []byte, ts int64) *Packet {
	p := &Packet{Mode: mode, Code: code, Timestamp: ts}
	if len(data) > 0 {
		p.Data = make([]byte, len(data))
		copy(p.Data, data)
	}
	return p
}

// Len длина полезной нагрузки
func (p *Packet) Len() int {
	return len(p.Data)
}

// WireSize размер записи в файле и в учёте буфера
func (p *Packet) WireSize() int {
	return len(p.Data) + PacketHeaderSize
}

// Clone глубокая копия
func (p *Packet) Clone() *Packet {
	c := *p
	if p.Data != nil {
		c.Data = append([]byte(nil), p.Data...)
	}
	return &c
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s %s len=%d ts=%d", p.Mode, protocol.CodeName(p.Code), len(p.Data), p.Timestamp)
}
