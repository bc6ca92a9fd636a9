package replay

import (
	"fmt"

	"github.com/annel0/mmo-replay/internal/logging"
	"github.com/annel0/mmo-replay/internal/protocol"
)

// PlayerState упакованное состояние одного игрока для снимка
type PlayerState struct {
	ID    uint8
	Add   []byte // тело MsgAddPlayer
	Info  []byte // запись MsgPlayerInfo
	Admin []byte // запись MsgAdminInfo, только для сервера
}

// StateSource отдаёт текущее состояние мира в упакованном виде.
// TeamStates и FlagStates возвращают записи без префикса-счётчика.
type StateSource interface {
	TeamStates() [][]byte
	FlagStates() [][]byte
	Players() []PlayerState
	Rabbit() (uint8, bool)
	GameTime() int64
}

// VarStore хранилище переменных конфигурации сервера
type VarStore interface {
	Get(name string) (string, bool)
	Set(name, value string)
	Each(fn func(name, value string))
}

// Var пара имя/значение из MsgSetVar
type Var struct {
	Name  string
	Value string
}

type emitFunc func(mode Mode, code uint16, data []byte) error

// Snapshotter сериализует полное состояние в последовательность записей
type Snapshotter struct {
	state StateSource
	vars  VarStore
	log   *logging.Logger
}

func NewSnapshotter(state StateSource, vars VarStore, log *logging.Logger) *Snapshotter {
	if log == nil {
		log = logging.Default()
	}
	return &Snapshotter{state: state, vars: vars, log: log}
}

// fit отбрасывает записи, которые не помещаются в пакет даже поодиночке
func (s *Snapshotter) fit(category string, entries [][]byte, countWidth int) [][]byte {
	out := entries[:0:0]
	for _, e := range entries {
		if len(e)+countWidth > MaxDataLen {
			s.log.Warn("⚠️ %s: запись %d байт не помещается в снимок, пропущена", category, len(e))
			continue
		}
		out = append(out, e)
	}
	return out
}

// Save порядок важен: граница, команды, флаги, игроки, кролик, переменные, время
func (s *Snapshotter) Save(emit emitFunc) error {
	if err := emit(UpdatePacket, protocol.MsgTeamUpdate, nil); err != nil {
		return fmt.Errorf("граница снимка: %w", err)
	}
	if s.state != nil {
		if err := s.saveTeams(emit); err != nil {
			return err
		}
		if err := s.saveFlags(emit); err != nil {
			return err
		}
		if err := s.savePlayers(emit); err != nil {
			return err
		}
		if err := s.saveRabbit(emit); err != nil {
			return err
		}
	}
	if err := s.saveVariables(emit); err != nil {
		return err
	}
	if s.state != nil {
		return s.saveGameTime(emit)
	}
	return nil
}

func (s *Snapshotter) saveTeams(emit emitFunc) error {
	for _, chunk := range chunkEntries(s.fit("команды", s.state.TeamStates(), 2), 2) {
		if err := emit(StatePacket, protocol.MsgTeamUpdate, chunk); err != nil {
			return fmt.Errorf("команды: %w", err)
		}
	}
	return nil
}

func (s *Snapshotter) saveFlags(emit emitFunc) error {
	for _, chunk := range chunkEntries(s.fit("флаги", s.state.FlagStates(), 2), 2) {
		if err := emit(StatePacket, protocol.MsgFlagUpdate, chunk); err != nil {
			return fmt.Errorf("флаги: %w", err)
		}
	}
	return nil
}

func (s *Snapshotter) savePlayers(emit emitFunc) error {
	players := s.state.Players()
	info := make([][]byte, 0, len(players))
	admin := make([][]byte, 0, len(players))

	for _, pl := range players {
		if len(pl.Add) > MaxDataLen {
			s.log.Warn("⚠️ игрок %d: MsgAddPlayer %d байт не помещается в снимок, пропущен", pl.ID, len(pl.Add))
			continue
		}
		if err := emit(StatePacket, protocol.MsgAddPlayer, pl.Add); err != nil {
			return fmt.Errorf("игрок %d: %w", pl.ID, err)
		}
		if len(pl.Info) > 0 {
			info = append(info, pl.Info)
		}
		if len(pl.Admin) > 0 {
			admin = append(admin, pl.Admin)
		}
	}

	for _, chunk := range chunkEntries(s.fit("информация игроков", info, 1), 1) {
		if err := emit(StatePacket, protocol.MsgPlayerInfo, chunk); err != nil {
			return fmt.Errorf("информация игроков: %w", err)
		}
	}
	for _, chunk := range chunkEntries(s.fit("admin info", admin, 1), 1) {
		if err := emit(HiddenPacket, protocol.MsgAdminInfo, chunk); err != nil {
			return fmt.Errorf("admin info: %w", err)
		}
	}
	return nil
}

func (s *Snapshotter) saveRabbit(emit emitFunc) error {
	id, ok := s.state.Rabbit()
	if !ok {
		return nil
	}
	return emit(StatePacket, protocol.MsgNewRabbit, []byte{id})
}

func (s *Snapshotter) saveVariables(emit emitFunc) error {
	if s.vars == nil {
		return nil
	}
	var vars []Var
	s.vars.Each(func(name, value string) {
		vars = append(vars, Var{Name: name, Value: value})
	})
	for _, chunk := range EncodeSetVar(vars) {
		if err := emit(StatePacket, protocol.MsgSetVar, chunk); err != nil {
			return fmt.Errorf("переменные: %w", err)
		}
	}
	return nil
}

func (s *Snapshotter) saveGameTime(emit emitFunc) error {
	w := protocol.NewWriter(8)
	w.PutU64(uint64(s.state.GameTime()))
	return emit(StatePacket, protocol.MsgGameTime, w.Bytes())
}

// chunkEntries группирует записи в пакеты не длиннее MaxDataLen,
// каждый с префиксом-счётчиком шириной countWidth (1 или 2 байта).
func chunkEntries(entries [][]byte, countWidth int) [][]byte {
	if len(entries) == 0 {
		return nil
	}
	maxCount := 0xFF
	if countWidth == 2 {
		maxCount = 0xFFFF
	}

	var chunks [][]byte
	var cur [][]byte
	size := countWidth

	flush := func() {
		if len(cur) == 0 {
			return
		}
		w := protocol.NewWriter(size)
		if countWidth == 2 {
			w.PutU16(uint16(len(cur)))
		} else {
			w.PutU8(uint8(len(cur)))
		}
		for _, e := range cur {
			w.PutBytes(e)
		}
		chunks = append(chunks, w.Bytes())
		cur = cur[:0]
		size = countWidth
	}

	for _, e := range entries {
		if len(cur) > 0 && (size+len(e) > MaxDataLen || len(cur) == maxCount) {
			flush()
		}
		cur = append(cur, e)
		size += len(e)
	}
	flush()
	return chunks
}

// EncodeSetVar упаковывает переменные в один или несколько MsgSetVar
func EncodeSetVar(vars []Var) [][]byte {
	entries := make([][]byte, 0, len(vars))
	for _, v := range vars {
		w := protocol.NewWriter(2 + len(v.Name) + len(v.Value))
		w.PutShortString(v.Name)
		w.PutShortString(v.Value)
		entries = append(entries, w.Bytes())
	}
	return chunkEntries(entries, 2)
}

// DecodeSetVar разбирает тело MsgSetVar
func DecodeSetVar(data []byte) ([]Var, error) {
	r := protocol.NewReader(data)
	count := int(r.U16())
	vars := make([]Var, 0, count)
	for i := 0; i < count; i++ {
		name := r.ShortString()
		value := r.ShortString()
		if r.Err() != nil {
			return nil, fmt.Errorf("MsgSetVar: запись %d из %d: %w", i, count, r.Err())
		}
		vars = append(vars, Var{Name: name, Value: value})
	}
	if r.Err() != nil {
		return nil, fmt.Errorf("MsgSetVar: %w", r.Err())
	}
	return vars, nil
}

// applySetVar применяет тело MsgSetVar к хранилищу
func applySetVar(store VarStore, data []byte) (int, error) {
	vars, err := DecodeSetVar(data)
	if err != nil {
		return 0, err
	}
	for _, v := range vars {
		store.Set(v.Name, v.Value)
	}
	return len(vars), nil
}
