package replay

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pkt(ts int64, size int) *Packet {
	return NewPacket(RealPacket, 0, make([]byte, size), ts)
}

// checkWindow сверяет окно с эталонным срезом от хвоста к голове
func checkWindow(t *testing.T, w *Window, want []*Packet) {
	t.Helper()

	bytes := 0
	for _, p := range want {
		bytes += p.WireSize()
	}
	assert.Equal(t, len(want), w.PacketCount())
	assert.Equal(t, bytes, w.ByteCount())
	assert.Equal(t, len(want) == 0, w.Empty())

	if len(want) == 0 {
		assert.Equal(t, NoHandle, w.Head())
		assert.Equal(t, NoHandle, w.Tail())
		return
	}

	var forward []*Packet
	for h := w.Tail(); h != NoHandle; h = w.Next(h) {
		forward = append(forward, w.Packet(h))
	}
	require.Equal(t, want, forward)

	var backward []*Packet
	for h := w.Head(); h != NoHandle; h = w.Prev(h) {
		backward = append(backward, w.Packet(h))
	}
	require.Len(t, backward, len(want))
	for i := range want {
		assert.Same(t, want[len(want)-1-i], backward[i])
	}
}

func TestWindowBasicOrder(t *testing.T) {
	w := NewWindow()
	checkWindow(t, w, nil)
	assert.Nil(t, w.PopTail())
	assert.Nil(t, w.PopHead())
	assert.Nil(t, w.Packet(NoHandle))
	assert.Equal(t, NoHandle, w.Next(NoHandle))

	a, b, c := pkt(1, 0), pkt(2, 10), pkt(3, 5)
	w.PushHead(b)
	w.PushHead(c)
	w.PushTail(a)
	checkWindow(t, w, []*Packet{a, b, c})

	assert.Same(t, a, w.PopTail())
	assert.Same(t, c, w.PopHead())
	checkWindow(t, w, []*Packet{b})

	assert.Same(t, b, w.PopHead())
	checkWindow(t, w, nil)
}

func TestWindowHandlesStable(t *testing.T) {
	w := NewWindow()
	a := w.PushHead(pkt(1, 1))
	b := w.PushHead(pkt(2, 2))
	w.PopTail()

	// освобождённый слот переиспользуется, живой handle не меняется
	c := w.PushHead(pkt(3, 3))
	assert.Equal(t, a, c)
	assert.Equal(t, int64(2), w.Packet(b).Timestamp)
	assert.Equal(t, b, w.Prev(c))
	assert.Equal(t, c, w.Next(b))
}

func TestWindowRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	w := NewWindow()
	var model []*Packet

	for i := 0; i < 2000; i++ {
		switch rng.Intn(5) {
		case 0, 1:
			p := pkt(int64(i), rng.Intn(64))
			w.PushHead(p)
			model = append(model, p)
		case 2:
			p := pkt(int64(-i), rng.Intn(64))
			w.PushTail(p)
			model = append([]*Packet{p}, model...)
		case 3:
			got := w.PopTail()
			if len(model) == 0 {
				require.Nil(t, got)
				continue
			}
			require.Same(t, model[0], got)
			model = model[1:]
		case 4:
			got := w.PopHead()
			if len(model) == 0 {
				require.Nil(t, got)
				continue
			}
			require.Same(t, model[len(model)-1], got)
			model = model[:len(model)-1]
		}
		if i%97 == 0 {
			checkWindow(t, w, model)
		}
	}
	checkWindow(t, w, model)

	w.Reset()
	checkWindow(t, w, nil)
}

func TestWindowEachStops(t *testing.T) {
	w := NewWindow()
	for i := 0; i < 5; i++ {
		w.PushHead(pkt(int64(i), 0))
	}
	var seen []int64
	w.Each(func(_ Handle, p *Packet) bool {
		seen = append(seen, p.Timestamp)
		return p.Timestamp < 2
	})
	assert.Equal(t, []int64{0, 1, 2}, seen)
}
