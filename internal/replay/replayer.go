package replay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/annel0/mmo-replay/internal/archive"
	"github.com/annel0/mmo-replay/internal/logging"
	"github.com/annel0/mmo-replay/internal/protocol"
)

var (
	ErrNotReplayMode = errors.New("replay: server is not in replay mode")
	ErrNotLoaded     = errors.New("replay: no file loaded")
	ErrEmptyFile     = errors.New("replay: file has no packets")
	ErrNoVariables   = errors.New("replay: file has no leading variable state")
)

// SkipResult итог перемотки
type SkipResult int

const (
	SkippedOK SkipResult = iota
	SkippedToEnd
	SkippedToBeginning
)

func (s SkipResult) String() string {
	switch s {
	case SkippedToEnd:
		return "end"
	case SkippedToBeginning:
		return "beginning"
	default:
		return "ok"
	}
}

// idleNextTime значение NextTime, когда воспроизведение не идёт
const idleNextTime = 1000.0

// ReplayStats состояние воспроизведения для оператора
type ReplayStats struct {
	Loaded   bool          `json:"loaded"`
	File     string        `json:"file,omitempty"`
	Playing  bool          `json:"playing"`
	Looping  bool          `json:"looping"`
	Position time.Duration `json:"position"`
	Duration time.Duration `json:"duration"`
	Bytes    int           `json:"window_bytes"`
	Packets  int           `json:"window_packets"`
	MaxBytes int           `json:"window_max_bytes"`
	CallSign string        `json:"callsign,omitempty"`
	Motto    string        `json:"motto,omitempty"`
}

// Lines текстовые строки для ответа оператору
func (s ReplayStats) Lines() []string {
	if !s.Loaded {
		return []string{"No replay file loaded"}
	}
	state := "paused"
	if s.Looping {
		state = "looping"
	} else if s.Playing {
		state = "playing"
	}
	return []string{
		fmt.Sprintf("Replay file: %s (%s)", s.File, state),
		fmt.Sprintf("  author: %s (%s)", s.CallSign, s.Motto),
		fmt.Sprintf("  position: %.3f / %.3f seconds", s.Position.Seconds(), s.Duration.Seconds()),
		fmt.Sprintf("  window: %s, %d packets", humanize.IBytes(uint64(s.Bytes)), s.Packets),
	}
}

// Replayer воспроизводит файл записи через окно фиксированного размера
type Replayer struct {
	dir       string
	maxBytes  int
	gapNotice time.Duration
	now       func() time.Time
	log       *logging.Logger
	metrics   *Metrics
	vars      VarStore
	world     WorldHost
	viewers   Broadcaster
	catalog   Catalog
	events    EventPublisher
	allowed   func() bool
	file      *os.File
	fileName  string
	tempPath  string
	sessionID string
	reader    *FileReader
	header    *Header
	buf       *Window
	pos       Handle
	startTime int64
	offset    int64
	playing   bool
	looping   bool
}

func newReplayer(opts Options, deps Deps, allowed func() bool) *Replayer {
	return &Replayer{
		dir:       opts.Dir,
		maxBytes:  opts.MaxBytes,
		gapNotice: opts.GapNotice,
		now:       opts.Now,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		vars:      deps.Vars,
		world:     deps.World,
		viewers:   deps.Viewers,
		catalog:   deps.Catalog,
		events:    deps.Events,
		allowed:   allowed,
		buf:       NewWindow(),
		pos:       NoHandle,
	}
}

func (r *Replayer) Loaded() bool    { return r.reader != nil }
func (r *Replayer) Playing() bool   { return r.playing }
func (r *Replayer) Looping() bool   { return r.looping }
func (r *Replayer) Header() *Header { return r.header }
func (r *Replayer) Window() *Window { return r.buf }

// Current текущая запись, nil если файл не загружен
func (r *Replayer) Current() *Packet {
	return r.buf.Packet(r.pos)
}

// SetSize задаёт потолок окна в мегабайтах. Загруженное окно ужимается
// при следующем подкачивании, окно всегда держит хотя бы одну запись.
func (r *Replayer) SetSize(mbytes int) error {
	if mbytes < 0 {
		return fmt.Errorf("неверный размер окна: %d", mbytes)
	}
	r.maxBytes = mbytes * 1024 * 1024
	r.log.Info("Replay window size set to %d MB", mbytes)
	return nil
}

// LoadFile загружает файл по имени или по индексу "#N"
func (r *Replayer) LoadFile(name string) error {
	if r.allowed != nil && !r.allowed() {
		return ErrNotReplayMode
	}
	resolved, err := ResolveName(r.dir, name, r.catalog)
	if err != nil {
		return err
	}
	r.unload()

	if err := r.open(resolved); err != nil {
		r.unload()
		return err
	}

	r.fileName = resolved
	r.sessionID = uuid.NewString()
	r.log.Info("📼 Загружен файл %s: %s, %.3f секунд, автор %s",
		resolved, humanize.IBytes(uint64(r.buf.ByteCount())),
		float64(r.header.Duration)/1e6, r.header.CallSign)

	r.checkWorld()
	r.publish(EventReplayLoaded, map[string]string{
		"file":     resolved,
		"duration": fmt.Sprint(r.header.Duration),
		"callsign": r.header.CallSign,
	})
	return nil
}

func (r *Replayer) open(name string) error {
	path := filepath.Join(r.dir, name)
	if archive.IsArchive(name) {
		tmp := filepath.Join(r.dir, fmt.Sprintf(".%s.%s", archive.BaseName(name), uuid.NewString()[:8]))
		if err := archive.Unpack(path, tmp); err != nil {
			return err
		}
		r.tempPath = tmp
		path = tmp
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("не удалось открыть файл %s: %w", name, err)
	}
	r.file = f
	r.reader = NewFileReader(f)

	h, err := r.reader.ReadHeader()
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	r.header = h

	// Окно заполняется до потолка, но хотя бы одной записью
	pos := h.Offset()
	for r.buf.Empty() || r.buf.ByteCount() < r.maxBytes {
		p, err := r.reader.ReadPacketAt(pos)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: запись по смещению %d: %w", name, pos, err)
		}
		r.buf.PushHead(p)
		pos = p.NextFilePos
	}
	if r.buf.Empty() {
		return fmt.Errorf("%s: %w", name, ErrEmptyFile)
	}

	r.pos = r.buf.Tail()
	r.startTime = r.Current().Timestamp
	return r.preloadVariables()
}

// preloadVariables применяет переменные из первого блока снимка.
// Блок идёт после первой границы до первой живой записи или следующей границы.
// Если блок длиннее окна, остаток читается из файла без загрузки в окно.
func (r *Replayer) preloadVariables() error {
	h := r.buf.Tail()
	p := r.buf.Packet(h)
	next := func() (*Packet, error) {
		if h != NoHandle {
			h = r.buf.Next(h)
			if h != NoHandle {
				return r.buf.Packet(h), nil
			}
		}
		np, err := r.reader.ReadPacketAt(p.NextFilePos)
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return np, err
	}

	var err error
	for p != nil && p.Mode == UpdatePacket {
		if p, err = next(); err != nil {
			return fmt.Errorf("%w: %v", ErrNoVariables, err)
		}
	}

	applied := 0
	for p != nil && p.Mode != RealPacket && p.Mode != UpdatePacket {
		if p.Mode == StatePacket && p.Code == protocol.MsgSetVar {
			vars, derr := DecodeSetVar(p.Data)
			if derr != nil {
				return fmt.Errorf("%w: %v", ErrNoVariables, derr)
			}
			for _, v := range vars {
				if r.vars != nil {
					r.vars.Set(v.Name, v.Value)
				}
				applied++
			}
		}
		if p, err = next(); err != nil {
			return fmt.Errorf("%w: %v", ErrNoVariables, err)
		}
	}
	if applied == 0 {
		return ErrNoVariables
	}
	r.log.Debug("применено %d переменных из файла", applied)
	return nil
}

// checkWorld при несовпадении мира делает мир из файла текущим
func (r *Replayer) checkWorld() {
	if r.world == nil {
		return
	}
	if r.header.RealHash == r.world.WorldHash() && r.header.Settings == r.world.Settings() {
		return
	}
	r.log.Warn("⚠️ Мир файла %s отличается от мира сервера, используется мир из файла", r.fileName)
	r.world.Install(r.header.World, r.header.Flags, r.header.Settings)
	if r.viewers != nil {
		r.viewers.Notice("Replay world differs from the server world; reconnect to load it")
	}
}

// Unload закрывает файл и сбрасывает воспроизведение
func (r *Replayer) Unload() error {
	if !r.Loaded() {
		return ErrNotLoaded
	}
	name := r.fileName
	r.unload()
	ResetViewers(r.viewers)
	r.log.Info("⏏️ Файл %s выгружен", name)
	return nil
}

// Kill освобождает ресурсы без уведомлений
func (r *Replayer) Kill() {
	r.unload()
}

func (r *Replayer) unload() {
	if r.file != nil {
		r.file.Close()
	}
	if r.tempPath != "" {
		os.Remove(r.tempPath)
	}
	r.file = nil
	r.tempPath = ""
	r.reader = nil
	r.header = nil
	r.fileName = ""
	r.buf.Reset()
	r.pos = NoHandle
	r.playing = false
	r.looping = false
	r.metrics.setPlaying(false)
}

// Play запускает воспроизведение с текущей позиции
func (r *Replayer) Play() error {
	return r.start(false)
}

// Loop запускает воспроизведение по кругу
func (r *Replayer) Loop() error {
	return r.start(true)
}

func (r *Replayer) start(loop bool) error {
	if !r.Loaded() {
		return ErrNotLoaded
	}
	r.playing = true
	r.looping = loop
	r.offset = r.nowMicros() - r.Current().Timestamp
	r.resetViewers()
	r.metrics.setPlaying(true)

	verb := "play"
	if loop {
		verb = "loop"
	}
	r.log.Info("▶️ Воспроизведение %s (%s)", r.fileName, verb)
	r.publish(EventReplayStarted, map[string]string{"file": r.fileName, "mode": verb})
	return nil
}

// Pause останавливает выдачу, позиция сохраняется
func (r *Replayer) Pause() error {
	if !r.Loaded() {
		return ErrNotLoaded
	}
	r.playing = false
	r.metrics.setPlaying(false)
	r.resetViewers()
	return nil
}

// Skip перематывает на seconds секунд по границам снимков
func (r *Replayer) Skip(seconds float64) (SkipResult, error) {
	if !r.Loaded() {
		return SkippedOK, ErrNotLoaded
	}
	now := r.nowMicros()
	base := r.Current().Timestamp
	if r.playing {
		base = now - r.offset
	}
	target := base + int64(seconds*1e6)

	result := SkippedOK
	switch {
	case seconds > 0:
		for {
			p := r.NextStatePacket()
			if p == nil {
				result = SkippedToEnd
				break
			}
			if p.Timestamp >= target {
				break
			}
		}
	case seconds < 0:
		for {
			p := r.PrevStatePacket()
			if p == nil {
				result = SkippedToBeginning
				break
			}
			if p.Timestamp <= target {
				break
			}
		}
	}

	r.offset = now - r.Current().Timestamp
	r.resetViewers()
	r.metrics.skipped(result)
	r.log.Info("⏩ Перемотка на %.3f секунд: %s, позиция %.3f",
		seconds, result, float64(r.Current().Timestamp-r.startTime)/1e6)
	r.publish(EventReplaySkipped, map[string]string{
		"file":    r.fileName,
		"seconds": fmt.Sprintf("%.3f", seconds),
		"result":  result.String(),
	})
	return result, nil
}

// NextTime секунды до выдачи текущей записи
func (r *Replayer) NextTime() float64 {
	if !r.playing || !r.Loaded() {
		return idleNextTime
	}
	due := r.Current().Timestamp + r.offset
	return float64(due-r.nowMicros()) / 1e6
}

// SendPackets выдаёт все записи, чьё время наступило. Вызывается на каждом тике.
func (r *Replayer) SendPackets() bool {
	if !r.playing || !r.Loaded() {
		return false
	}
	now := r.nowMicros()

	var last *Packet
	for {
		cur := r.Current()
		if cur.Timestamp+r.offset > now {
			break
		}
		r.deliver(cur)
		last = cur

		if r.NextPacket() == nil {
			r.finish(now)
			return true
		}
	}
	if last == nil {
		return false
	}

	if r.gapNotice > 0 && r.viewers != nil {
		gap := r.Current().Timestamp - last.Timestamp
		if gap > r.gapNotice.Microseconds() {
			r.viewers.Notice(fmt.Sprintf("No activity for the next %.3f seconds", float64(gap)/1e6))
		}
	}
	return true
}

func (r *Replayer) deliver(p *Packet) {
	if p.Code == protocol.MsgSetVar && p.Mode != HiddenPacket && r.vars != nil {
		if _, err := applySetVar(r.vars, p.Data); err != nil {
			r.log.Warn("ошибка MsgSetVar в записи: %v", err)
		}
	}
	r.metrics.packetSent(p)
	if r.viewers == nil {
		return
	}

	for _, v := range r.viewers.Viewers() {
		if !v.Active() {
			continue
		}
		state, forward := Advance(v.ReplayState(), p.Mode)
		v.SetReplayState(state)
		if !forward {
			continue
		}
		if err := v.Deliver(p.Code, p.Data); err != nil {
			r.log.Debug("зритель %d: %v", v.ID(), err)
		}
	}
}

// finish конец данных: по кругу или остановка
func (r *Replayer) finish(now int64) {
	r.Rewind()
	if r.looping {
		r.offset = now - r.Current().Timestamp
		r.resetViewers()
		r.metrics.looped()
		r.log.Debug("воспроизведение %s начато заново", r.fileName)
		return
	}

	r.playing = false
	r.metrics.setPlaying(false)
	r.resetViewers()
	if r.viewers != nil {
		r.viewers.Notice("Replay Finished")
	}
	r.log.Info("🏁 Воспроизведение %s завершено", r.fileName)
	r.publish(EventReplayFinished, map[string]string{"file": r.fileName})
}

// resetViewers сбрасывает состояние зрителей и отправляет им MsgReplayReset
func (r *Replayer) resetViewers() {
	if r.viewers == nil {
		return
	}
	for _, v := range r.viewers.Viewers() {
		v.SetReplayState(StateNone)
		if v.Active() {
			if err := v.Deliver(protocol.MsgReplayReset, nil); err != nil {
				r.log.Debug("зритель %d: %v", v.ID(), err)
			}
		}
	}
}

// NextPacket шаг вперёд. На границе окна подгружает запись с диска
// и вытесняет хвост. nil в конце данных, позиция не меняется.
func (r *Replayer) NextPacket() *Packet {
	if !r.Loaded() {
		return nil
	}
	next := r.buf.Next(r.pos)
	if next == NoHandle {
		head := r.buf.Packet(r.buf.Head())
		p, err := r.reader.ReadPacketAt(head.NextFilePos)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.Error("ошибка чтения %s по смещению %d: %v", r.fileName, head.NextFilePos, err)
			}
			return nil
		}
		next = r.buf.PushHead(p)
		for r.buf.ByteCount() > r.maxBytes && r.buf.PacketCount() > 1 {
			r.buf.PopTail()
		}
		r.metrics.pagedIn("forward")
	}
	r.pos = next
	return r.buf.Packet(next)
}

// PrevPacket шаг назад, симметричен NextPacket
func (r *Replayer) PrevPacket() *Packet {
	if !r.Loaded() {
		return nil
	}
	prev := r.buf.Prev(r.pos)
	if prev == NoHandle {
		tail := r.buf.Packet(r.buf.Tail())
		if tail.PrevFilePos == 0 {
			return nil
		}
		p, err := r.reader.ReadPacketAt(tail.PrevFilePos)
		if err != nil {
			r.log.Error("ошибка чтения %s по смещению %d: %v", r.fileName, tail.PrevFilePos, err)
			return nil
		}
		prev = r.buf.PushTail(p)
		for r.buf.ByteCount() > r.maxBytes && r.buf.PacketCount() > 1 {
			r.buf.PopHead()
		}
		r.metrics.pagedIn("backward")
	}
	r.pos = prev
	return r.buf.Packet(prev)
}

// NextStatePacket переходит к следующей границе снимка.
// Если её нет, позиция остаётся на последней доступной границе и возвращается nil.
func (r *Replayer) NextStatePacket() *Packet {
	for {
		p := r.NextPacket()
		if p == nil {
			for q := r.Current(); q != nil && q.Mode != UpdatePacket; q = r.PrevPacket() {
			}
			return nil
		}
		if p.Mode == UpdatePacket {
			return p
		}
	}
}

// PrevStatePacket переходит к предыдущей границе снимка.
// Если её нет, позиция остаётся на первой границе и возвращается nil.
func (r *Replayer) PrevStatePacket() *Packet {
	for {
		p := r.PrevPacket()
		if p == nil {
			for q := r.Current(); q != nil && q.Mode != UpdatePacket; q = r.NextPacket() {
			}
			return nil
		}
		if p.Mode == UpdatePacket {
			return p
		}
	}
}

// Rewind возвращает позицию к первой границе файла
func (r *Replayer) Rewind() {
	for r.PrevStatePacket() != nil {
	}
}

// Stats текущее состояние воспроизведения
func (r *Replayer) Stats() ReplayStats {
	if !r.Loaded() {
		return ReplayStats{MaxBytes: r.maxBytes}
	}
	return ReplayStats{
		MaxBytes: r.maxBytes,
		Loaded:   true,
		File:     r.fileName,
		Playing:  r.playing,
		Looping:  r.looping,
		Position: time.Duration(r.Current().Timestamp-r.startTime) * time.Microsecond,
		Duration: time.Duration(r.header.Duration) * time.Microsecond,
		Bytes:    r.buf.ByteCount(),
		Packets:  r.buf.PacketCount(),
		CallSign: r.header.CallSign,
		Motto:    r.header.Motto,
	}
}

func (r *Replayer) nowMicros() int64 {
	return r.now().UnixMicro()
}

func (r *Replayer) publish(eventType string, fields map[string]string) {
	if r.events == nil {
		return
	}
	fields["session_id"] = r.sessionID
	r.events.PublishEvent(eventType, fields)
}

// ReplayHelp справка по командам воспроизведения
func ReplayHelp() string {
	return strings.Join([]string{
		"replay list [-t|-n] [pattern]  list the available recordings",
		"replay load <filename|#index>  load a recording",
		"replay play                    play from the current position",
		"replay loop                    play in a loop",
		"replay pause                   pause playback",
		"replay skip [+/-seconds]       skip by state boundaries",
		"replay stats                   show replay statistics",
		"replay unload                  unload the current file",
	}, "\n")
}
