package replay

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-replay/internal/protocol"
)

func TestPacketRoundTrip(t *testing.T) {
	cases := []*Packet{
		{Mode: UpdatePacket, Code: protocol.MsgTeamUpdate, Timestamp: 1},
		{Mode: RealPacket, Code: protocol.MsgPlayerUpdate, Timestamp: 1<<40 + 7, Data: []byte{1, 2, 3}, NextFilePos: 100, PrevFilePos: 50},
		{Mode: HiddenPacket, Code: protocol.MsgAdminInfo, Timestamp: 99, Data: bytes.Repeat([]byte{0xAA}, MaxDataLen)},
	}
	for _, p := range cases {
		t.Run(p.Mode.String(), func(t *testing.T) {
			b := AppendPacket(nil, p)
			assert.Len(t, b, p.WireSize())

			got, n, err := DecodePacket(b)
			require.NoError(t, err)
			assert.Equal(t, len(b), n)
			assert.Equal(t, p, got)

			got, err = ReadPacket(bytes.NewReader(b))
			require.NoError(t, err)
			assert.Equal(t, p, got)
		})
	}
}

func TestPacketTimestampHalves(t *testing.T) {
	p := &Packet{Timestamp: 0x0000000100000002}
	b := AppendPacket(nil, p)
	assert.Equal(t, []byte{0, 0, 0, 1, 0, 0, 0, 2}, b[16:24])
}

func TestDecodeRejectsOversizedLength(t *testing.T) {
	p := &Packet{Mode: RealPacket, Data: []byte{1}}
	b := AppendPacket(nil, p)
	// длина MaxPacketLen - 4 + 1
	b[4], b[5], b[6], b[7] = 0, 0, 0x03, 0xFD

	_, _, err := DecodePacket(b)
	assert.ErrorIs(t, err, ErrPacketTooLarge)

	_, err = ReadPacket(bytes.NewReader(b))
	assert.ErrorIs(t, err, ErrPacketTooLarge)
}

func TestReadPacketTruncated(t *testing.T) {
	b := AppendPacket(nil, &Packet{Data: []byte{1, 2, 3, 4}})

	_, err := ReadPacket(bytes.NewReader(b[:len(b)-2]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadPacket(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)

	_, _, err = DecodePacket(b[:10])
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func testHeader() *Header {
	return &Header{
		Duration:      12_345_678,
		Player:        7,
		CallSign:      "tiger",
		Motto:         "roar",
		ServerVersion: "2.0",
		AppVersion:    "mmo-replay 1.0",
		RealHash:      WorldHash([]byte("world")),
		Settings:      protocol.Settings{WorldSize: 800, MaxPlayers: 16, NumFlags: 3},
		Flags:         []byte("GM SW"),
		World:         []byte("world"),
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := testHeader()
	b := AppendHeader(nil, h)
	require.Len(t, b, int(h.Offset()))
	assert.Equal(t, uint32(HeaderFixedSize+5+5), h.Offset())

	got, err := ReadHeader(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestHeaderRoundTripFullWidthStrings(t *testing.T) {
	h := testHeader()
	h.CallSign = strings.Repeat("c", protocol.CallSignLen)
	h.Motto = strings.Repeat("m", protocol.MottoLen)
	h.ServerVersion = "BZFS107e"
	h.RealHash = strings.Repeat("f", protocol.HashLen)

	got, err := ReadHeader(bytes.NewReader(AppendHeader(nil, h)))
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestHeaderErrors(t *testing.T) {
	b := AppendHeader(nil, testHeader())

	t.Run("magic", func(t *testing.T) {
		bad := append([]byte(nil), b...)
		bad[0] = 'X'
		_, err := ReadHeader(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrBadMagic)
	})
	t.Run("version", func(t *testing.T) {
		bad := append([]byte(nil), b...)
		bad[7] = 9
		_, err := ReadHeader(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrBadVersion)
	})
	t.Run("offset", func(t *testing.T) {
		bad := append([]byte(nil), b...)
		bad[11]++
		_, err := ReadHeader(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrCorruptHeader)
	})
	t.Run("truncated", func(t *testing.T) {
		_, err := ReadHeader(bytes.NewReader(b[:len(b)-1]))
		assert.ErrorIs(t, err, ErrCorruptHeader)
	})
	t.Run("empty", func(t *testing.T) {
		_, err := ReadHeader(bytes.NewReader(nil))
		assert.ErrorIs(t, err, ErrBadMagic)
	})
}

func TestFileWriterLinksAndDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.rec")
	f, err := os.Create(path)
	require.NoError(t, err)

	h := testHeader()
	h.Duration = 0
	w := NewFileWriter(f)
	require.NoError(t, w.WriteHeader(h))

	packets := []*Packet{
		NewPacket(UpdatePacket, protocol.MsgTeamUpdate, nil, 1_000_000),
		NewPacket(StatePacket, protocol.MsgSetVar, setVar("_a", "1"), 1_000_000),
		NewPacket(RealPacket, protocol.MsgPlayerUpdate, []byte{1, 2}, 3_500_000),
	}
	for _, p := range packets {
		require.NoError(t, w.WritePacket(p))
	}
	assert.Equal(t, 3, w.Packets())
	assert.Equal(t, int64(2_500_000), w.Elapsed())
	require.NoError(t, w.PatchDuration(w.Elapsed()))

	// после патча запись продолжается в конец файла
	require.NoError(t, w.WritePacket(NewPacket(RealPacket, protocol.MsgShotBegin, nil, 4_000_000)))
	require.NoError(t, f.Close())

	f, err = os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := NewFileReader(f)
	got, err := r.ReadHeader()
	require.NoError(t, err)
	assert.Equal(t, int64(2_500_000), got.Duration)

	pos := got.Offset()
	var prev uint32
	var read []*Packet
	for {
		p, err := r.ReadPacketAt(pos)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, prev, p.PrevFilePos, "ссылка назад записи %d", len(read))
		assert.Equal(t, pos+uint32(p.WireSize()), p.NextFilePos)
		read = append(read, p)
		prev = pos
		pos = p.NextFilePos
	}
	require.Len(t, read, 4)
	assert.Equal(t, packets[1].Data, read[1].Data)
	assert.Equal(t, uint32(0), read[0].PrevFilePos)

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, info.Size(), w.Bytes())
}

func TestFileWriterRejectsOversized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.rec")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := NewFileWriter(f)
	require.NoError(t, w.WriteHeader(testHeader()))
	err = w.WritePacket(&Packet{Data: make([]byte, MaxDataLen+1)})
	assert.ErrorIs(t, err, ErrPacketTooLarge)
	assert.Zero(t, w.Packets())
}

func TestReadPacketAtTruncatedTail(t *testing.T) {
	h := testHeader()
	b := AppendHeader(nil, h)
	b = AppendPacket(b, &Packet{Data: []byte{1, 2, 3}})
	b = b[:len(b)-1]

	r := NewFileReader(bytes.NewReader(b))
	_, err := r.ReadPacketAt(h.Offset())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = r.ReadPacketAt(uint32(len(b) + 100))
	assert.ErrorIs(t, err, io.EOF)
}
