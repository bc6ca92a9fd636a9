package replay

import (
	"time"

	"github.com/annel0/mmo-replay/internal/logging"
)

// Типы событий жизненного цикла сессий
const (
	EventRecordStarted  = "record.started"
	EventRecordStopped  = "record.stopped"
	EventRecordSaved    = "record.saved"
	EventReplayLoaded   = "replay.loaded"
	EventReplayStarted  = "replay.started"
	EventReplayFinished = "replay.finished"
	EventReplaySkipped  = "replay.skipped"
)

// EventPublisher получает события жизненного цикла. Вызывается из тика, не должен блокировать.
type EventPublisher interface {
	PublishEvent(eventType string, fields map[string]string)
}

// Options параметры движка
type Options struct {
	Dir           string
	MaxBytes      int
	UpdateRate    time.Duration
	GapNotice     time.Duration // < 0 отключает уведомления о паузах
	ServerVersion string
	AppVersion    string
	Now           func() time.Time
	Logger        *logging.Logger
	Metrics       *Metrics
}

// Default значения как у исходного сервера
const (
	DefaultMaxBytes   = 16 * 1024 * 1024
	DefaultUpdateRate = 10 * time.Second
	DefaultGapNotice  = 10 * time.Second
)

func (o *Options) setDefaults() {
	if o.Dir == "" {
		o.Dir = "recordings"
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.UpdateRate <= 0 {
		o.UpdateRate = DefaultUpdateRate
	}
	if o.GapNotice == 0 {
		o.GapNotice = DefaultGapNotice
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
}

// Deps внешние коллабораторы движка. Любой может быть nil.
type Deps struct {
	State   StateSource
	Vars    VarStore
	World   WorldHost
	Viewers Broadcaster
	Catalog Catalog
	Events  EventPublisher
}

// Engine контекст сессии: один рекордер и один плеер на сервер.
// Все методы вызываются из одной горутины тика.
type Engine struct {
	opts       Options
	recorder   *Recorder
	replayer   *Replayer
	replayMode bool
}

// NewEngine создаёт движок. Логгеры компонентов: record и replay.
func NewEngine(opts Options, deps Deps) *Engine {
	opts.setDefaults()
	e := &Engine{opts: opts}

	recOpts := opts
	if recOpts.Logger == logging.Default() {
		recOpts.Logger = logging.GetRecordLogger()
	}
	repOpts := opts
	if repOpts.Logger == logging.Default() {
		repOpts.Logger = logging.GetReplayLogger()
	}

	e.recorder = newRecorder(recOpts, deps, func() bool { return e.replayMode })
	e.replayer = newReplayer(repOpts, deps, func() bool { return e.replayMode })
	return e
}

func (e *Engine) Recorder() *Recorder { return e.recorder }
func (e *Engine) Replayer() *Replayer { return e.replayer }
func (e *Engine) ReplayMode() bool    { return e.replayMode }
func (e *Engine) Dir() string         { return e.opts.Dir }

// EnterReplayMode переводит сервер в режим воспроизведения. Невозможно во время записи.
func (e *Engine) EnterReplayMode() error {
	if e.recorder.Enabled() {
		return ErrRecordingActive
	}
	if err := EnsureDir(e.opts.Dir); err != nil {
		return err
	}
	e.replayMode = true
	e.opts.Logger.Info("📽️ Сервер в режиме воспроизведения, директория %s", e.opts.Dir)
	return nil
}

// LeaveReplayMode выгружает файл и разрешает запись
func (e *Engine) LeaveReplayMode() {
	e.replayer.Kill()
	e.replayMode = false
}

// Tick периодическая работа: снимки рекордера и выдача записей плеера
func (e *Engine) Tick() {
	if e.replayMode {
		e.replayer.SendPackets()
		return
	}
	e.recorder.Tick()
}

// NextTime секунды до следующей работы плеера, для расчёта сна цикла
func (e *Engine) NextTime() float64 {
	if !e.replayMode {
		return idleNextTime
	}
	return e.replayer.NextTime()
}

// ListFiles список записей в директории
func (e *Engine) ListFiles(opts ListOptions) ([]Summary, error) {
	return ListFiles(e.opts.Dir, opts, e.replayer.catalog)
}

// Close освобождает файлы при завершении сервера
func (e *Engine) Close() {
	e.recorder.Kill()
	e.replayer.Kill()
}
