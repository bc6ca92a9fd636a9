package replay

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrDriverStopped команда отправлена после остановки цикла
var ErrDriverStopped = errors.New("replay: driver stopped")

type command struct {
	fn   func(*Engine) error
	done chan error
}

// Driver крутит тик движка в одной горутине и выполняет в ней же команды
// из других горутин (REST API, сетевые каналы).
type Driver struct {
	engine   *Engine
	interval time.Duration
	cmds     chan command
	stopped  chan struct{}
	dropped  atomic.Int64
}

// NewDriver создаёт цикл с периодом тика interval
func NewDriver(engine *Engine, interval time.Duration, queue int) *Driver {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	if queue <= 0 {
		queue = 1024
	}
	return &Driver{
		engine:   engine,
		interval: interval,
		cmds:     make(chan command, queue),
		stopped:  make(chan struct{}),
	}
}

// Run блокирует до отмены ctx. При выходе закрывает файлы движка.
func (d *Driver) Run(ctx context.Context) error {
	defer close(d.stopped)
	defer d.engine.Close()

	timer := time.NewTimer(d.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-d.cmds:
			err := cmd.fn(d.engine)
			if cmd.done != nil {
				cmd.done <- err
			}
		case <-timer.C:
			d.engine.Tick()
			timer.Reset(d.nextWait())
		}
	}
}

// nextWait спит до ближайшей записи плеера, но не дольше периода тика
func (d *Driver) nextWait() time.Duration {
	wait := time.Duration(d.engine.NextTime() * float64(time.Second))
	if wait <= 0 {
		return time.Millisecond
	}
	if wait > d.interval {
		return d.interval
	}
	return wait
}

// Do выполняет fn в горутине тика и ждёт результата
func (d *Driver) Do(ctx context.Context, fn func(*Engine) error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case d.cmds <- cmd:
	case <-d.stopped:
		return ErrDriverStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-d.stopped:
		return ErrDriverStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post ставит fn в очередь без ожидания. false если очередь полна.
func (d *Driver) Post(fn func(*Engine)) bool {
	cmd := command{fn: func(e *Engine) error { fn(e); return nil }}
	select {
	case d.cmds <- cmd:
		return true
	default:
		d.dropped.Add(1)
		return false
	}
}

// Dropped число команд, отброшенных Post
func (d *Driver) Dropped() int64 {
	return d.dropped.Load()
}
