package game

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/annel0/mmo-replay/internal/protocol"
	"github.com/annel0/mmo-replay/internal/replay"
)

// NumTeams rogue, red, green, blue, purple
const NumTeams = 5

// Специальные адресаты сообщений
const (
	ServerPlayer uint8 = 253
	AllPlayers   uint8 = 254
	NoPlayer     uint8 = 255
)

// Player properties
const (
	PropRegistered uint8 = 1 << 0
	PropAdmin      uint8 = 1 << 1
)

type Team struct {
	Size uint16
	Won  uint16
	Lost uint16
}

type Flag struct {
	Abbrev   string // две буквы типа флага
	Status   uint16
	Owner    uint8
	Position [3]float32
}

type Player struct {
	ID         uint8
	Type       uint16
	Team       uint16
	Wins       uint16
	Losses     uint16
	TKs        uint16
	CallSign   string
	Motto      string
	Properties uint8
	Addr       [4]byte
}

// World зеркало состояния игры. Обновляется живым трафиком через Apply
// и отдаётся снимкам через интерфейс replay.StateSource.
type World struct {
	mu       sync.RWMutex
	settings protocol.Settings
	data     []byte
	flagDefs []byte
	hash     string
	teams    [NumTeams]Team
	flags    []Flag
	players  map[uint8]*Player
	rabbit   int
	started  time.Time
	now      func() time.Time
}

// NewWorld создаёт пустое состояние с заданным определением мира
func NewWorld(settings protocol.Settings, worldData, flagDefs []byte) *World {
	w := &World{
		players: make(map[uint8]*Player),
		rabbit:  -1,
		now:     time.Now,
	}
	w.install(worldData, flagDefs, settings)
	w.started = w.now()
	return w
}

// SetClock подменяет часы (для тестов)
func (w *World) SetClock(now func() time.Time) {
	w.mu.Lock()
	w.now = now
	w.started = now()
	w.mu.Unlock()
}

func (w *World) install(worldData, flagDefs []byte, settings protocol.Settings) {
	w.settings = settings
	w.data = append([]byte(nil), worldData...)
	w.flagDefs = append([]byte(nil), flagDefs...)
	w.hash = replay.WorldHash(w.data)
	w.flags = make([]Flag, settings.NumFlags)
	for i := range w.flags {
		w.flags[i].Owner = NoPlayer
	}
}

// Install подменяет определение мира (воспроизведение файла с другим миром)
func (w *World) Install(worldData, flagDefs []byte, settings protocol.Settings) {
	w.mu.Lock()
	w.install(worldData, flagDefs, settings)
	w.mu.Unlock()
}

func (w *World) Settings() protocol.Settings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.settings
}

func (w *World) WorldData() []byte {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]byte(nil), w.data...)
}

func (w *World) FlagTypes() []byte {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]byte(nil), w.flagDefs...)
}

func (w *World) WorldHash() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.hash
}

// SetTeam задаёт счёт команды
func (w *World) SetTeam(team int, t Team) error {
	if team < 0 || team >= NumTeams {
		return fmt.Errorf("неверная команда %d", team)
	}
	w.mu.Lock()
	w.teams[team] = t
	w.mu.Unlock()
	return nil
}

// SetFlag задаёт состояние флага
func (w *World) SetFlag(index int, f Flag) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if index < 0 || index >= len(w.flags) {
		return fmt.Errorf("неверный индекс флага %d", index)
	}
	w.flags[index] = f
	return nil
}

// AddPlayer добавляет или заменяет игрока
func (w *World) AddPlayer(p Player) {
	w.mu.Lock()
	cp := p
	w.players[p.ID] = &cp
	w.mu.Unlock()
}

func (w *World) RemovePlayer(id uint8) {
	w.mu.Lock()
	delete(w.players, id)
	if w.rabbit == int(id) {
		w.rabbit = -1
	}
	w.mu.Unlock()
}

func (w *World) PlayerCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.players)
}

// SetRabbit назначает кролика, id < 0 снимает назначение
func (w *World) SetRabbit(id int) {
	w.mu.Lock()
	w.rabbit = id
	w.mu.Unlock()
}

// TeamStates записи MsgTeamUpdate по одной на команду: team, size, won, lost
func (w *World) TeamStates() [][]byte {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([][]byte, 0, len(w.teams))
	for i, t := range w.teams {
		buf := protocol.NewWriter(8)
		buf.PutU16(uint16(i))
		buf.PutU16(t.Size)
		buf.PutU16(t.Won)
		buf.PutU16(t.Lost)
		out = append(out, buf.Bytes())
	}
	return out
}

// FlagStates записи MsgFlagUpdate по одной на флаг
func (w *World) FlagStates() [][]byte {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([][]byte, 0, len(w.flags))
	for i, f := range w.flags {
		out = append(out, packFlag(uint16(i), f))
	}
	return out
}

func packFlag(index uint16, f Flag) []byte {
	buf := protocol.NewWriter(21)
	buf.PutU16(index)
	buf.PutString(f.Abbrev, 3)
	buf.PutU16(f.Status)
	buf.PutU8(f.Owner)
	for _, c := range f.Position {
		buf.PutF32(c)
	}
	return buf.Bytes()
}

func unpackFlag(r *protocol.Reader) (uint16, Flag) {
	index := r.U16()
	f := Flag{Abbrev: r.String(3), Status: r.U16(), Owner: r.U8()}
	for i := range f.Position {
		f.Position[i] = r.F32()
	}
	return index, f
}

// Players игроки в порядке возрастания id
func (w *World) Players() []replay.PlayerState {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ids := make([]int, 0, len(w.players))
	for id := range w.players {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	out := make([]replay.PlayerState, 0, len(ids))
	for _, id := range ids {
		p := w.players[uint8(id)]
		out = append(out, replay.PlayerState{
			ID:    p.ID,
			Add:   PackAddPlayer(*p),
			Info:  []byte{p.ID, p.Properties},
			Admin: []byte{5, p.ID, p.Addr[0], p.Addr[1], p.Addr[2], p.Addr[3]},
		})
	}
	return out
}

// PackAddPlayer тело MsgAddPlayer
func PackAddPlayer(p Player) []byte {
	buf := protocol.NewWriter(11 + protocol.CallSignLen + protocol.MottoLen)
	buf.PutU8(p.ID)
	buf.PutU16(p.Type)
	buf.PutU16(p.Team)
	buf.PutU16(p.Wins)
	buf.PutU16(p.Losses)
	buf.PutU16(p.TKs)
	buf.PutString(p.CallSign, protocol.CallSignLen)
	buf.PutString(p.Motto, protocol.MottoLen)
	return buf.Bytes()
}

// UnpackAddPlayer разбирает тело MsgAddPlayer
func UnpackAddPlayer(data []byte) (Player, error) {
	r := protocol.NewReader(data)
	p := Player{
		ID:     r.U8(),
		Type:   r.U16(),
		Team:   r.U16(),
		Wins:   r.U16(),
		Losses: r.U16(),
		TKs:    r.U16(),
	}
	p.CallSign = r.String(protocol.CallSignLen)
	p.Motto = r.String(protocol.MottoLen)
	return p, r.Err()
}

// Rabbit текущий кролик, только в режиме охоты на кролика
func (w *World) Rabbit() (uint8, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.settings.IsRabbitChase() || w.rabbit < 0 {
		return 0, false
	}
	return uint8(w.rabbit), true
}

// GameTime микросекунды с начала игры
func (w *World) GameTime() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.now().Sub(w.started).Microseconds()
}

// Apply обновляет зеркало по сообщению живого трафика.
// Неизвестные коды игнорируются, false означает, что сообщение не изменило состояние.
func (w *World) Apply(code uint16, data []byte) (bool, error) {
	switch code {
	case protocol.MsgAddPlayer:
		p, err := UnpackAddPlayer(data)
		if err != nil {
			return false, fmt.Errorf("MsgAddPlayer: %w", err)
		}
		w.AddPlayer(p)
	case protocol.MsgRemovePlayer:
		if len(data) < 1 {
			return false, fmt.Errorf("MsgRemovePlayer: %w", protocol.ErrShortBuffer)
		}
		w.RemovePlayer(data[0])
	case protocol.MsgNewRabbit:
		if len(data) < 1 {
			return false, fmt.Errorf("MsgNewRabbit: %w", protocol.ErrShortBuffer)
		}
		if data[0] == NoPlayer {
			w.SetRabbit(-1)
		} else {
			w.SetRabbit(int(data[0]))
		}
	case protocol.MsgTeamUpdate:
		r := protocol.NewReader(data)
		count := int(r.U16())
		for i := 0; i < count; i++ {
			team := int(r.U16())
			t := Team{Size: r.U16(), Won: r.U16(), Lost: r.U16()}
			if r.Err() != nil {
				return false, fmt.Errorf("MsgTeamUpdate: %w", r.Err())
			}
			if err := w.SetTeam(team, t); err != nil {
				return false, err
			}
		}
	case protocol.MsgFlagUpdate:
		r := protocol.NewReader(data)
		count := int(r.U16())
		for i := 0; i < count; i++ {
			index, f := unpackFlag(r)
			if r.Err() != nil {
				return false, fmt.Errorf("MsgFlagUpdate: %w", r.Err())
			}
			if err := w.SetFlag(int(index), f); err != nil {
				return false, err
			}
		}
	default:
		return false, nil
	}
	return true, nil
}
