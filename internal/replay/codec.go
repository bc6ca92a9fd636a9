package replay

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/xxh3"

	"github.com/annel0/mmo-replay/internal/protocol"
)

const (
	// FileMagic "BZrr"
	FileMagic   uint32 = 0x425A7272
	FileVersion uint32 = 1

	// смещение поля длительности, перезаписывается при закрытии файла
	durationOffset = 12

	headerNumericSize = 4 + 4 + 4 + 8 + 4 + 4 + 4

	// HeaderFixedSize заголовок без блобов флагов и мира
	HeaderFixedSize = headerNumericSize +
		protocol.CallSignLen + protocol.MottoLen + protocol.ServerVersionLen +
		protocol.AppVersionLen + protocol.HashLen + protocol.SettingsSize

	maxHeaderBlob = 64 * 1024 * 1024
)

var (
	ErrPacketTooLarge = errors.New("replay: packet too large")
	ErrBadMagic       = errors.New("replay: not a record file")
	ErrBadVersion     = errors.New("replay: unsupported record file version")
	ErrCorruptHeader  = errors.New("replay: corrupt header")
)

// Header заголовок файла записи
type Header struct {
	Duration      int64 // микросекунды
	Player        uint32
	CallSign      string
	Motto         string
	ServerVersion string
	AppVersion    string
	RealHash      string
	Settings      protocol.Settings
	Flags         []byte
	World         []byte
}

// Offset позиция первой записи в файле
func (h *Header) Offset() uint32 {
	return uint32(HeaderFixedSize + len(h.Flags) + len(h.World))
}

// AppendHeader кодирует заголовок в конец dst
func AppendHeader(dst []byte, h *Header) []byte {
	w := protocol.NewWriter(int(h.Offset()))
	w.PutU32(FileMagic)
	w.PutU32(FileVersion)
	w.PutU32(h.Offset())
	w.PutU64(uint64(h.Duration))
	w.PutU32(h.Player)
	w.PutU32(uint32(len(h.Flags)))
	w.PutU32(uint32(len(h.World)))
	w.PutString(h.CallSign, protocol.CallSignLen)
	w.PutString(h.Motto, protocol.MottoLen)
	w.PutString(h.ServerVersion, protocol.ServerVersionLen)
	w.PutString(h.AppVersion, protocol.AppVersionLen)
	w.PutString(h.RealHash, protocol.HashLen)
	w.PutBytes(h.Settings.Pack())
	w.PutBytes(h.Flags)
	w.PutBytes(h.World)
	return append(dst, w.Bytes()...)
}

// ReadHeader читает заголовок с текущей позиции r
func ReadHeader(r io.Reader) (*Header, error) {
	fixed := make([]byte, HeaderFixedSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrBadMagic)
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}

	br := protocol.NewReader(fixed)
	if magic := br.U32(); magic != FileMagic {
		return nil, fmt.Errorf("%w: magic 0x%08X", ErrBadMagic, magic)
	}
	if version := br.U32(); version != FileVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, version)
	}
	offset := br.U32()
	h := &Header{}
	h.Duration = int64(br.U64())
	h.Player = br.U32()
	flagsSize := br.U32()
	worldSize := br.U32()
	h.CallSign = br.String(protocol.CallSignLen)
	h.Motto = br.String(protocol.MottoLen)
	h.ServerVersion = br.String(protocol.ServerVersionLen)
	h.AppVersion = br.String(protocol.AppVersionLen)
	h.RealHash = br.String(protocol.HashLen)
	settings, err := protocol.UnpackSettings(br.Bytes(protocol.SettingsSize))
	if err != nil || br.Err() != nil {
		return nil, fmt.Errorf("%w: fixed part", ErrCorruptHeader)
	}
	h.Settings = settings

	if flagsSize > maxHeaderBlob || worldSize > maxHeaderBlob {
		return nil, fmt.Errorf("%w: flags=%d world=%d", ErrCorruptHeader, flagsSize, worldSize)
	}
	if uint64(offset) != uint64(HeaderFixedSize)+uint64(flagsSize)+uint64(worldSize) {
		return nil, fmt.Errorf("%w: offset %d", ErrCorruptHeader, offset)
	}

	if flagsSize > 0 {
		h.Flags = make([]byte, flagsSize)
		if _, err := io.ReadFull(r, h.Flags); err != nil {
			return nil, fmt.Errorf("%w: flags: %v", ErrCorruptHeader, err)
		}
	}
	if worldSize > 0 {
		h.World = make([]byte, worldSize)
		if _, err := io.ReadFull(r, h.World); err != nil {
			return nil, fmt.Errorf("%w: world: %v", ErrCorruptHeader, err)
		}
	}
	return h, nil
}

// WorldHash хэш содержимого мира для поля RealHash
func WorldHash(world []byte) string {
	sum := xxh3.Hash128(world).Bytes()
	return hex.EncodeToString(sum[:])
}

// AppendPacket кодирует запись с её файловыми ссылками
func AppendPacket(dst []byte, p *Packet) []byte {
	return appendPacket(dst, p, p.NextFilePos, p.PrevFilePos)
}

func appendPacket(dst []byte, p *Packet, next, prev uint32) []byte {
	var hdr [PacketHeaderSize]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(p.Mode))
	binary.BigEndian.PutUint16(hdr[2:4], p.Code)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(p.Data)))
	binary.BigEndian.PutUint32(hdr[8:12], next)
	binary.BigEndian.PutUint32(hdr[12:16], prev)
	binary.BigEndian.PutUint32(hdr[16:20], uint32(uint64(p.Timestamp)>>32))
	binary.BigEndian.PutUint32(hdr[20:24], uint32(uint64(p.Timestamp)))
	dst = append(dst, hdr[:]...)
	return append(dst, p.Data...)
}

func decodePacketHeader(hdr []byte) (*Packet, int, error) {
	n := binary.BigEndian.Uint32(hdr[4:8])
	if n > MaxDataLen {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, n)
	}
	p := &Packet{
		Mode:        Mode(binary.BigEndian.Uint16(hdr[0:2])),
		Code:        binary.BigEndian.Uint16(hdr[2:4]),
		NextFilePos: binary.BigEndian.Uint32(hdr[8:12]),
		PrevFilePos: binary.BigEndian.Uint32(hdr[12:16]),
	}
	msb := uint64(binary.BigEndian.Uint32(hdr[16:20]))
	lsb := uint64(binary.BigEndian.Uint32(hdr[20:24]))
	p.Timestamp = int64(msb<<32 | lsb)
	return p, int(n), nil
}

// DecodePacket разбирает запись из b и возвращает число прочитанных байт
func DecodePacket(b []byte) (*Packet, int, error) {
	if len(b) < PacketHeaderSize {
		return nil, 0, io.ErrUnexpectedEOF
	}
	p, n, err := decodePacketHeader(b[:PacketHeaderSize])
	if err != nil {
		return nil, 0, err
	}
	if len(b) < PacketHeaderSize+n {
		return nil, 0, io.ErrUnexpectedEOF
	}
	if n > 0 {
		p.Data = make([]byte, n)
		copy(p.Data, b[PacketHeaderSize:PacketHeaderSize+n])
	}
	return p, PacketHeaderSize + n, nil
}

// ReadPacket читает следующую запись потока. io.EOF только на чистой границе.
func ReadPacket(r io.Reader) (*Packet, error) {
	var hdr [PacketHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	p, n, err := decodePacketHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	if n > 0 {
		p.Data = make([]byte, n)
		if _, err := io.ReadFull(r, p.Data); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	return p, nil
}

// FileWriter пишет файл записи и ведёт смещения для ссылок между записями
type FileWriter struct {
	w       io.WriteSeeker
	offset  uint32
	prev    uint32
	packets int
	first   int64
	last    int64
	buf     []byte
}

func NewFileWriter(w io.WriteSeeker) *FileWriter {
	return &FileWriter{w: w}
}

// WriteHeader пишет заголовок, должен быть вызван первым
func (fw *FileWriter) WriteHeader(h *Header) error {
	fw.buf = AppendHeader(fw.buf[:0], h)
	if _, err := fw.w.Write(fw.buf); err != nil {
		return fmt.Errorf("ошибка записи заголовка: %w", err)
	}
	fw.offset = h.Offset()
	return nil
}

// WritePacket дописывает запись, проставляя next/prev ссылки в файле.
// Сама запись не изменяется.
func (fw *FileWriter) WritePacket(p *Packet) error {
	if len(p.Data) > MaxDataLen {
		return fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(p.Data))
	}
	next := fw.offset + uint32(p.WireSize())
	fw.buf = appendPacket(fw.buf[:0], p, next, fw.prev)
	if _, err := fw.w.Write(fw.buf); err != nil {
		return fmt.Errorf("ошибка записи пакета: %w", err)
	}
	if fw.packets == 0 {
		fw.first = p.Timestamp
	}
	fw.last = p.Timestamp
	fw.prev = fw.offset
	fw.offset = next
	fw.packets++
	return nil
}

// PatchDuration перезаписывает длительность в заголовке и возвращается в конец
func (fw *FileWriter) PatchDuration(duration int64) error {
	if _, err := fw.w.Seek(durationOffset, io.SeekStart); err != nil {
		return fmt.Errorf("ошибка позиционирования: %w", err)
	}
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(uint64(duration)>>32))
	binary.BigEndian.PutUint32(b[4:8], uint32(uint64(duration)))
	if _, err := fw.w.Write(b[:]); err != nil {
		return fmt.Errorf("ошибка записи длительности: %w", err)
	}
	_, err := fw.w.Seek(0, io.SeekEnd)
	return err
}

// Bytes размер файла на текущий момент
func (fw *FileWriter) Bytes() int64 { return int64(fw.offset) }

// Packets число записанных пакетов
func (fw *FileWriter) Packets() int { return fw.packets }

// Elapsed время между первой и последней записью
func (fw *FileWriter) Elapsed() int64 {
	if fw.packets == 0 {
		return 0
	}
	return fw.last - fw.first
}

// FileReader произвольный доступ к записям по файловым смещениям
type FileReader struct {
	r io.ReaderAt
}

func NewFileReader(r io.ReaderAt) *FileReader {
	return &FileReader{r: r}
}

// ReadHeader читает заголовок с начала файла
func (fr *FileReader) ReadHeader() (*Header, error) {
	return ReadHeader(io.NewSectionReader(fr.r, 0, 1<<62))
}

// ReadPacketAt читает запись по смещению pos. io.EOF означает конец данных.
func (fr *FileReader) ReadPacketAt(pos uint32) (*Packet, error) {
	var hdr [PacketHeaderSize]byte
	n, err := fr.r.ReadAt(hdr[:], int64(pos))
	if n < PacketHeaderSize {
		if n == 0 && (err == nil || errors.Is(err, io.EOF)) {
			return nil, io.EOF
		}
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	p, size, err := decodePacketHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	if size > 0 {
		p.Data = make([]byte, size)
		n, err := fr.r.ReadAt(p.Data, int64(pos)+PacketHeaderSize)
		if n < size {
			if err == nil || errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	return p, nil
}
