package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrFrameTooLarge кадр длиннее MaxPayloadLen
var ErrFrameTooLarge = errors.New("protocol: frame too large")

// Frame сообщение сетевого канала. Mode используется только в канале
// живого трафика от игрового сервера, зрителям он не передаётся.
type Frame struct {
	Mode uint16
	Code uint16
	Data []byte
}

// WriteMessage пишет кадр зрителю: [len u16][code u16][payload]
func WriteMessage(w io.Writer, code uint16, data []byte) error {
	if len(data) > MaxPayloadLen {
		return fmt.Errorf("%w: %d", ErrFrameTooLarge, len(data))
	}
	hdr := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint16(hdr[0:2], uint16(len(data)))
	binary.BigEndian.PutUint16(hdr[2:4], code)
	_, err := w.Write(append(hdr, data...))
	return err
}

// ReadMessage читает кадр, записанный WriteMessage
func ReadMessage(r io.Reader) (Frame, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := int(binary.BigEndian.Uint16(hdr[0:2]))
	if n > MaxPayloadLen {
		return Frame{}, fmt.Errorf("%w: %d", ErrFrameTooLarge, n)
	}
	f := Frame{Code: binary.BigEndian.Uint16(hdr[2:4]), Data: make([]byte, n)}
	if _, err := io.ReadFull(r, f.Data); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// WriteFeedFrame пишет кадр живого трафика: [mode u16][code u16][len u16][payload]
func WriteFeedFrame(w io.Writer, f Frame) error {
	if len(f.Data) > MaxPayloadLen {
		return fmt.Errorf("%w: %d", ErrFrameTooLarge, len(f.Data))
	}
	hdr := make([]byte, 6, 6+len(f.Data))
	binary.BigEndian.PutUint16(hdr[0:2], f.Mode)
	binary.BigEndian.PutUint16(hdr[2:4], f.Code)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(len(f.Data)))
	_, err := w.Write(append(hdr, f.Data...))
	return err
}

// ReadFeedFrame читает кадр, записанный WriteFeedFrame
func ReadFeedFrame(r io.Reader) (Frame, error) {
	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := int(binary.BigEndian.Uint16(hdr[4:6]))
	if n > MaxPayloadLen {
		return Frame{}, fmt.Errorf("%w: %d", ErrFrameTooLarge, n)
	}
	f := Frame{
		Mode: binary.BigEndian.Uint16(hdr[0:2]),
		Code: binary.BigEndian.Uint16(hdr[2:4]),
		Data: make([]byte, n),
	}
	if _, err := io.ReadFull(r, f.Data); err != nil {
		return Frame{}, err
	}
	return f, nil
}
