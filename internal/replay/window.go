package replay

// Handle стабильный индекс записи в окне. Действителен, пока запись не извлечена.
type Handle int32

// NoHandle отсутствие записи
const NoHandle Handle = -1

type node struct {
	pkt  *Packet
	next Handle // к голове (новее)
	prev Handle // к хвосту (старше)
}

// Window двусвязная очередь записей поверх арены. Голова самая новая, хвост самый старый.
type Window struct {
	nodes       []node
	free        []Handle
	head        Handle
	tail        Handle
	byteCount   int
	packetCount int
}

// NewWindow создаёт пустое окно
func NewWindow() *Window {
	return &Window{head: NoHandle, tail: NoHandle}
}

func (w *Window) alloc(p *Packet) Handle {
	n := node{pkt: p, next: NoHandle, prev: NoHandle}
	if k := len(w.free); k > 0 {
		h := w.free[k-1]
		w.free = w.free[:k-1]
		w.nodes[h] = n
		return h
	}
	w.nodes = append(w.nodes, n)
	return Handle(len(w.nodes) - 1)
}

func (w *Window) release(h Handle) *Packet {
	p := w.nodes[h].pkt
	w.nodes[h] = node{next: NoHandle, prev: NoHandle}
	w.free = append(w.free, h)
	w.byteCount -= p.WireSize()
	w.packetCount--
	return p
}

// PushHead добавляет самую новую запись
func (w *Window) PushHead(p *Packet) Handle {
	h := w.alloc(p)
	w.nodes[h].prev = w.head
	if w.head != NoHandle {
		w.nodes[w.head].next = h
	} else {
		w.tail = h
	}
	w.head = h
	w.byteCount += p.WireSize()
	w.packetCount++
	return h
}

// PushTail добавляет запись старее всех имеющихся
func (w *Window) PushTail(p *Packet) Handle {
	h := w.alloc(p)
	w.nodes[h].next = w.tail
	if w.tail != NoHandle {
		w.nodes[w.tail].prev = h
	} else {
		w.head = h
	}
	w.tail = h
	w.byteCount += p.WireSize()
	w.packetCount++
	return h
}

// PopTail извлекает самую старую запись, nil если окно пусто
func (w *Window) PopTail() *Packet {
	h := w.tail
	if h == NoHandle {
		return nil
	}
	w.tail = w.nodes[h].next
	if w.tail != NoHandle {
		w.nodes[w.tail].prev = NoHandle
	} else {
		w.head = NoHandle
	}
	return w.release(h)
}

// PopHead извлекает самую новую запись, nil если окно пусто
func (w *Window) PopHead() *Packet {
	h := w.head
	if h == NoHandle {
		return nil
	}
	w.head = w.nodes[h].prev
	if w.head != NoHandle {
		w.nodes[w.head].next = NoHandle
	} else {
		w.tail = NoHandle
	}
	return w.release(h)
}

// Reset освобождает все записи
func (w *Window) Reset() {
	w.nodes = w.nodes[:0]
	w.free = w.free[:0]
	w.head = NoHandle
	w.tail = NoHandle
	w.byteCount = 0
	w.packetCount = 0
}

func (w *Window) Head() Handle     { return w.head }
func (w *Window) Tail() Handle     { return w.tail }
func (w *Window) ByteCount() int   { return w.byteCount }
func (w *Window) PacketCount() int { return w.packetCount }
func (w *Window) Empty() bool      { return w.packetCount == 0 }

// Next соседняя запись в сторону головы
func (w *Window) Next(h Handle) Handle {
	if h == NoHandle {
		return NoHandle
	}
	return w.nodes[h].next
}

// Prev соседняя запись в сторону хвоста
func (w *Window) Prev(h Handle) Handle {
	if h == NoHandle {
		return NoHandle
	}
	return w.nodes[h].prev
}

// Packet запись по handle, nil для NoHandle
func (w *Window) Packet(h Handle) *Packet {
	if h == NoHandle || int(h) >= len(w.nodes) {
		return nil
	}
	return w.nodes[h].pkt
}

// Each обходит записи от хвоста к голове, пока fn возвращает true
func (w *Window) Each(fn func(h Handle, p *Packet) bool) {
	for h := w.tail; h != NoHandle; h = w.nodes[h].next {
		if !fn(h, w.nodes[h].pkt) {
			return
		}
	}
}
