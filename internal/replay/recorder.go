package replay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/annel0/mmo-replay/internal/logging"
	"github.com/annel0/mmo-replay/internal/protocol"
)

var (
	ErrReplayActive    = errors.New("replay: server is in replay mode")
	ErrRecordingActive = errors.New("replay: recording is active")
	ErrNotRecording    = errors.New("replay: not recording")
	ErrNoBuffer        = errors.New("replay: no buffered data to save")
)

// RecordMode куда направляются записанные пакеты
type RecordMode int

const (
	NotRecording RecordMode = iota
	Buffered
	StraightToFile
)

func (m RecordMode) String() string {
	switch m {
	case Buffered:
		return "buffered"
	case StraightToFile:
		return "file"
	default:
		return "off"
	}
}

// Author игрок, от имени которого сохраняется файл
type Author struct {
	Player   uint32
	CallSign string
	Motto    string
}

// WorldHost определение мира текущего сервера
type WorldHost interface {
	Settings() protocol.Settings
	WorldData() []byte
	FlagTypes() []byte
	WorldHash() string
	// Install подменяет определение мира на время воспроизведения
	Install(world, flags []byte, settings protocol.Settings)
}

// RecordStats состояние записи для оператора
type RecordStats struct {
	Enabled    bool          `json:"enabled"`
	Mode       string        `json:"mode"`
	SessionID  string        `json:"session_id,omitempty"`
	File       string        `json:"file,omitempty"`
	Bytes      int64         `json:"bytes"`
	Packets    int           `json:"packets"`
	Span       time.Duration `json:"span"`
	MaxBytes   int           `json:"max_bytes"`
	UpdateRate time.Duration `json:"update_rate"`
}

// Lines текстовые строки для ответа оператору
func (s RecordStats) Lines() []string {
	lines := []string{}
	if s.Enabled {
		lines = append(lines, fmt.Sprintf("Recording enabled (%s)", s.Mode))
	} else {
		lines = append(lines, "Recording disabled")
	}
	if s.File != "" {
		lines = append(lines, fmt.Sprintf("  file: %s", s.File))
	}
	lines = append(lines,
		fmt.Sprintf("  buffered: %s, %s packets, %.3f seconds",
			humanize.IBytes(uint64(s.Bytes)), humanize.Comma(int64(s.Packets)), s.Span.Seconds()),
		fmt.Sprintf("  max size: %s, update rate: %s", humanize.IBytes(uint64(s.MaxBytes)), s.UpdateRate),
	)
	return lines
}

// Recorder пишет трафик в кольцевой буфер или прямо в файл
type Recorder struct {
	dir       string
	maxBytes  int
	rate      time.Duration
	serverVer string
	appVer    string
	now       func() time.Time
	log       *logging.Logger
	metrics   *Metrics
	snap      stateSaver
	world     WorldHost
	events    EventPublisher
	inReplay  func() bool
	enabled   bool
	mode      RecordMode
	buf       *Window
	file      *os.File
	fileName  string
	writer    *FileWriter
	lastTime  int64
	lastSnap  int64
	routed    bool
	sessionID string
}

func newRecorder(opts Options, deps Deps, inReplay func() bool) *Recorder {
	return &Recorder{
		dir:       opts.Dir,
		maxBytes:  opts.MaxBytes,
		rate:      opts.UpdateRate,
		serverVer: opts.ServerVersion,
		appVer:    opts.AppVersion,
		now:       opts.Now,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		snap:      NewSnapshotter(deps.State, deps.Vars, opts.Logger),
		world:     deps.World,
		events:    deps.Events,
		inReplay:  inReplay,
		buf:       NewWindow(),
	}
}

func (r *Recorder) Enabled() bool       { return r.enabled }
func (r *Recorder) Mode() RecordMode    { return r.mode }
func (r *Recorder) Buffer() *Window     { return r.buf }
func (r *Recorder) SessionID() string   { return r.sessionID }
func (r *Recorder) MaxBytes() int       { return r.maxBytes }
func (r *Recorder) Rate() time.Duration { return r.rate }

// Start включает запись в буфер и сразу делает снимок состояния
func (r *Recorder) Start() error {
	if r.inReplay != nil && r.inReplay() {
		return ErrReplayActive
	}
	if r.enabled {
		r.log.Debug("запись уже включена (%s)", r.mode)
		return nil
	}
	if err := EnsureDir(r.dir); err != nil {
		return err
	}

	r.enabled = true
	if r.mode == NotRecording {
		r.mode = Buffered
	}
	r.sessionID = uuid.NewString()
	r.log.Info("🎬 Запись включена: %s, буфер %s", r.sessionID, humanize.IBytes(uint64(r.maxBytes)))

	if err := r.saveStates(); err != nil {
		r.abort()
		return err
	}
	r.publish(EventRecordStarted, map[string]string{"mode": r.mode.String()})
	return nil
}

// Stop завершает запись и освобождает буфер и файл
func (r *Recorder) Stop() error {
	if !r.enabled {
		return ErrNotRecording
	}
	fields := map[string]string{"mode": r.mode.String()}
	if r.fileName != "" {
		fields["file"] = r.fileName
	}
	err := r.reset()
	r.log.Info("⏹️ Запись остановлена")
	r.publish(EventRecordStopped, fields)
	return err
}

// Kill освобождает ресурсы без событий, используется при завершении сервера
func (r *Recorder) Kill() {
	if err := r.reset(); err != nil {
		r.log.Warn("ошибка закрытия записи: %v", err)
	}
}

// abort откатывает неудачный запуск записи в выключенное состояние
func (r *Recorder) abort() {
	if err := r.reset(); err != nil {
		r.log.Warn("ошибка закрытия записи: %v", err)
	}
	r.sessionID = ""
}

func (r *Recorder) reset() error {
	var err error
	if r.file != nil {
		if perr := r.writer.PatchDuration(r.writer.Elapsed()); perr != nil {
			err = fmt.Errorf("не удалось записать длительность %s: %w", r.fileName, perr)
		}
		if cerr := r.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
		r.log.Info("💾 Файл %s закрыт: %s, %d пакетов",
			r.fileName, humanize.IBytes(uint64(r.writer.Bytes())), r.writer.Packets())
	}
	r.file = nil
	r.writer = nil
	r.fileName = ""
	r.buf.Reset()
	r.metrics.bufferSize(r.buf)
	r.enabled = false
	r.mode = NotRecording
	r.routed = false
	return err
}

// SetSize задаёт потолок буфера в мегабайтах
func (r *Recorder) SetSize(mbytes int) error {
	if mbytes < 0 {
		return fmt.Errorf("неверный размер буфера: %d", mbytes)
	}
	r.maxBytes = mbytes * 1024 * 1024
	if r.mode == Buffered {
		r.evict()
	}
	r.log.Info("Record size set to %d MB", mbytes)
	return nil
}

// SetRate задаёт период снимков состояния в секундах
func (r *Recorder) SetRate(seconds int) error {
	if seconds < 0 {
		return fmt.Errorf("неверный период снимков: %d", seconds)
	}
	r.rate = time.Duration(seconds) * time.Second
	r.log.Info("Record rate set to %d seconds", seconds)
	return nil
}

// SaveFile переключает запись в режим прямой записи в файл
func (r *Recorder) SaveFile(name string, author Author) error {
	if r.inReplay != nil && r.inReplay() {
		return ErrReplayActive
	}
	if BadFilename(name) {
		return fmt.Errorf("%w: %q", ErrBadFilename, name)
	}
	if err := EnsureDir(r.dir); err != nil {
		return err
	}
	if err := r.reset(); err != nil {
		r.log.Warn("ошибка закрытия предыдущей записи: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(r.dir, name), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("не удалось открыть файл %s: %w", name, err)
	}
	w := NewFileWriter(f)
	if err := w.WriteHeader(r.header(author, 0)); err != nil {
		f.Close()
		return err
	}

	r.file = f
	r.writer = w
	r.fileName = name
	r.mode = StraightToFile
	r.enabled = true
	r.sessionID = uuid.NewString()
	r.log.Info("🎬 Запись в файл %s: %s", name, r.sessionID)

	if err := r.saveStates(); err != nil {
		r.abort()
		return err
	}
	r.publish(EventRecordStarted, map[string]string{"mode": r.mode.String(), "file": name})
	return nil
}

// SaveBuffer сохраняет содержимое буфера начиная с границы снимка,
// которая не моложе seconds секунд. seconds <= 0 сохраняет весь буфер.
func (r *Recorder) SaveBuffer(name string, seconds int, author Author) error {
	if r.mode != Buffered || r.buf.Empty() {
		return ErrNoBuffer
	}
	if BadFilename(name) {
		return fmt.Errorf("%w: %q", ErrBadFilename, name)
	}

	start := r.findBufferStart(seconds)
	if start == NoHandle {
		return ErrNoBuffer
	}
	if err := EnsureDir(r.dir); err != nil {
		return err
	}

	head := r.buf.Packet(r.buf.Head())
	duration := head.Timestamp - r.buf.Packet(start).Timestamp

	f, err := os.OpenFile(filepath.Join(r.dir, name), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("не удалось открыть файл %s: %w", name, err)
	}
	w := NewFileWriter(f)
	err = w.WriteHeader(r.header(author, duration))
	for h := start; err == nil && h != NoHandle; h = r.buf.Next(h) {
		err = w.WritePacket(r.buf.Packet(h))
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(filepath.Join(r.dir, name))
		return fmt.Errorf("не удалось сохранить буфер в %s: %w", name, err)
	}

	r.log.Info("💾 Буфер сохранён в %s: %s, %d пакетов, %.3f секунд",
		name, humanize.IBytes(uint64(w.Bytes())), w.Packets(), float64(duration)/1e6)
	r.publish(EventRecordSaved, map[string]string{
		"file":     name,
		"packets":  fmt.Sprint(w.Packets()),
		"duration": fmt.Sprint(duration),
	})
	return nil
}

// findBufferStart ищет от головы первую границу, отстоящую хотя бы на seconds.
// Если такой нет, берётся самая старая граница.
func (r *Recorder) findBufferStart(seconds int) Handle {
	head := r.buf.Packet(r.buf.Head())
	if seconds > 0 {
		window := int64(seconds) * int64(time.Second/time.Microsecond)
		for h := r.buf.Head(); h != NoHandle; h = r.buf.Prev(h) {
			p := r.buf.Packet(h)
			if p.Mode == UpdatePacket && head.Timestamp-p.Timestamp >= window {
				return h
			}
		}
	}
	for h := r.buf.Tail(); h != NoHandle; h = r.buf.Next(h) {
		if r.buf.Packet(h).Mode == UpdatePacket {
			return h
		}
	}
	return NoHandle
}

// AddPacket записывает сообщение живого трафика. Без включённой записи ничего не делает.
func (r *Recorder) AddPacket(code uint16, data []byte, mode Mode) error {
	if !r.enabled {
		return nil
	}
	if len(data) > MaxDataLen {
		r.metrics.packetRejected()
		r.log.Warn("пакет %s отклонён: %d байт", protocol.CodeName(code), len(data))
		return fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(data))
	}

	// MsgAddPlayer идёт раньше снимка, иначе снимок разошёлся бы с этим сообщением
	if code == protocol.MsgAddPlayer {
		err := r.route(mode, code, data)
		if r.snapshotDue() {
			if serr := r.saveStates(); serr != nil && err == nil {
				err = serr
			}
		}
		return err
	}

	if r.snapshotDue() {
		if err := r.saveStates(); err != nil {
			return err
		}
	}
	return r.route(mode, code, data)
}

// Tick периодический снимок, только если с прошлого снимка был трафик
func (r *Recorder) Tick() {
	if !r.enabled || !r.routed || !r.snapshotDue() {
		return
	}
	if err := r.saveStates(); err != nil {
		r.log.Error("ошибка снимка состояния: %v", err)
	}
}

func (r *Recorder) snapshotDue() bool {
	return r.nowMicros()-r.lastSnap > r.rate.Microseconds()
}

type stateSaver interface {
	Save(emit emitFunc) error
}

func (r *Recorder) saveStates() error {
	err := r.snap.Save(r.emit)
	r.lastSnap = r.lastTime
	r.routed = false
	if err != nil {
		return fmt.Errorf("снимок состояния: %w", err)
	}
	r.metrics.snapshotSaved()
	r.log.Debug("снимок состояния сохранён, буфер %d пакетов", r.buf.PacketCount())
	return nil
}

func (r *Recorder) route(mode Mode, code uint16, data []byte) error {
	if err := r.emit(mode, code, data); err != nil {
		return err
	}
	r.routed = true
	return nil
}

func (r *Recorder) emit(mode Mode, code uint16, data []byte) error {
	if len(data) > MaxDataLen {
		r.metrics.packetRejected()
		return fmt.Errorf("%w: %s %d bytes", ErrPacketTooLarge, protocol.CodeName(code), len(data))
	}
	p := NewPacket(mode, code, data, r.nowMicros())
	r.lastTime = p.Timestamp

	switch r.mode {
	case StraightToFile:
		if err := r.writer.WritePacket(p); err != nil {
			r.log.Error("ошибка записи в %s: %v", r.fileName, err)
			return err
		}
	case Buffered:
		r.buf.PushHead(p)
		r.evict()
		r.metrics.bufferSize(r.buf)
	default:
		return ErrNotRecording
	}
	r.metrics.packetRecorded(p)
	return nil
}

// evict удаляет самые старые отрезки целиком, чтобы буфер начинался с границы.
// Последний отрезок не режется, даже если он один больше потолка.
func (r *Recorder) evict() {
	evicted := 0
	for r.buf.ByteCount() > r.maxBytes {
		cut := NoHandle
		for h := r.buf.Next(r.buf.Tail()); h != NoHandle; h = r.buf.Next(h) {
			if r.buf.Packet(h).Mode == UpdatePacket {
				cut = h
				break
			}
		}
		if cut == NoHandle {
			break
		}
		for r.buf.Tail() != cut {
			r.buf.PopTail()
			evicted++
		}
	}
	if evicted > 0 {
		r.metrics.packetsEvicted(evicted)
		r.log.Trace("из буфера вытеснено %d пакетов", evicted)
	}
}

// nowMicros монотонное время записи в микросекундах
func (r *Recorder) nowMicros() int64 {
	ts := r.now().UnixMicro()
	if ts < r.lastTime {
		ts = r.lastTime
	}
	return ts
}

func (r *Recorder) header(author Author, duration int64) *Header {
	h := &Header{
		Duration:      duration,
		Player:        author.Player,
		CallSign:      author.CallSign,
		Motto:         author.Motto,
		ServerVersion: r.serverVer,
		AppVersion:    r.appVer,
	}
	if r.world != nil {
		h.Settings = r.world.Settings()
		h.Flags = r.world.FlagTypes()
		h.World = r.world.WorldData()
		h.RealHash = r.world.WorldHash()
	}
	return h
}

// Stats текущее состояние записи
func (r *Recorder) Stats() RecordStats {
	s := RecordStats{
		Enabled:    r.enabled,
		Mode:       r.mode.String(),
		SessionID:  r.sessionID,
		File:       r.fileName,
		MaxBytes:   r.maxBytes,
		UpdateRate: r.rate,
	}
	switch r.mode {
	case StraightToFile:
		s.Bytes = r.writer.Bytes()
		s.Packets = r.writer.Packets()
		s.Span = time.Duration(r.writer.Elapsed()) * time.Microsecond
	case Buffered:
		s.Bytes = int64(r.buf.ByteCount())
		s.Packets = r.buf.PacketCount()
		if !r.buf.Empty() {
			span := r.buf.Packet(r.buf.Head()).Timestamp - r.buf.Packet(r.buf.Tail()).Timestamp
			s.Span = time.Duration(span) * time.Microsecond
		}
	}
	return s
}

func (r *Recorder) publish(eventType string, fields map[string]string) {
	if r.events == nil {
		return
	}
	fields["session_id"] = r.sessionID
	r.events.PublishEvent(eventType, fields)
}

// RecordHelp справка по командам записи
func RecordHelp() string {
	return strings.Join([]string{
		"record start                 start buffered recording",
		"record stop                  stop recording",
		"record size <Mbytes>         set the buffer ceiling",
		"record rate <seconds>        set the state snapshot rate",
		"record stats                 show recording statistics",
		"record file <filename>       record straight to a file",
		"record save <filename> [secs] save the buffer to a file",
	}, "\n")
}
