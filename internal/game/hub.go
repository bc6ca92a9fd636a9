package game

import (
	"sort"
	"sync"

	"github.com/annel0/mmo-replay/internal/protocol"
	"github.com/annel0/mmo-replay/internal/replay"
)

// Hub реестр подключённых зрителей
type Hub struct {
	mu      sync.RWMutex
	viewers map[int]replay.Viewer
}

func NewHub() *Hub {
	return &Hub{viewers: make(map[int]replay.Viewer)}
}

func (h *Hub) Add(v replay.Viewer) {
	h.mu.Lock()
	h.viewers[v.ID()] = v
	h.mu.Unlock()
}

func (h *Hub) Remove(id int) {
	h.mu.Lock()
	delete(h.viewers, id)
	h.mu.Unlock()
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Viewers копия списка в порядке id
func (h *Hub) Viewers() []replay.Viewer {
	h.mu.RLock()
	out := make([]replay.Viewer, 0, len(h.viewers))
	for _, v := range h.viewers {
		out = append(out, v)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Notice отправляет текстовое сообщение от сервера всем активным зрителям
func (h *Hub) Notice(text string) {
	msg := PackMessage(ServerPlayer, AllPlayers, text)
	for _, v := range h.Viewers() {
		if v.Active() {
			_ = v.Deliver(protocol.MsgMessage, msg)
		}
	}
}

// PackMessage тело MsgMessage: from u8, to u8, текст с завершающим нулём
func PackMessage(from, to uint8, text string) []byte {
	width := len(text) + 1
	if width > protocol.MessageLen {
		width = protocol.MessageLen
	}
	w := protocol.NewWriter(2 + width)
	w.PutU8(from)
	w.PutU8(to)
	w.PutString(text, width)
	return w.Bytes()
}

// UnpackMessage разбирает тело MsgMessage
func UnpackMessage(data []byte) (from, to uint8, text string, err error) {
	r := protocol.NewReader(data)
	from = r.U8()
	to = r.U8()
	text = r.String(r.Remaining())
	return from, to, text, r.Err()
}

// MemoryViewer зритель в памяти: копит доставленные сообщения.
// Используется тестами и утилитами, которым нужен локальный приёмник.
type MemoryViewer struct {
	mu       sync.Mutex
	id       int
	active   bool
	state    replay.ViewerState
	received []protocol.Frame
}

func NewMemoryViewer(id int) *MemoryViewer {
	return &MemoryViewer{id: id, active: true}
}

func (v *MemoryViewer) ID() int { return v.id }

func (v *MemoryViewer) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

func (v *MemoryViewer) SetActive(active bool) {
	v.mu.Lock()
	v.active = active
	v.mu.Unlock()
}

func (v *MemoryViewer) ReplayState() replay.ViewerState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *MemoryViewer) SetReplayState(s replay.ViewerState) {
	v.mu.Lock()
	v.state = s
	v.mu.Unlock()
}

func (v *MemoryViewer) Deliver(code uint16, data []byte) error {
	v.mu.Lock()
	v.received = append(v.received, protocol.Frame{Code: code, Data: append([]byte(nil), data...)})
	v.mu.Unlock()
	return nil
}

// Received копия доставленных сообщений
func (v *MemoryViewer) Received() []protocol.Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]protocol.Frame(nil), v.received...)
}
