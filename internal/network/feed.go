package network

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/mmo-replay/internal/logging"
	"github.com/annel0/mmo-replay/internal/protocol"
	"github.com/annel0/mmo-replay/internal/replay"
)

// Poster ставит работу в очередь горутины тика
type Poster interface {
	Post(fn func(*replay.Engine)) bool
}

// StateMirror зеркало состояния игры, обновляемое живым трафиком
type StateMirror interface {
	Apply(code uint16, data []byte) (bool, error)
}

// VarApplier применяет MsgSetVar
type VarApplier interface {
	Apply(data []byte) error
}

// FeedStats счётчики канала живого трафика
type FeedStats struct {
	Connections int64 `json:"connections"`
	Frames      int64 `json:"frames"`
	Dropped     int64 `json:"dropped"`
	Errors      int64 `json:"errors"`
}

// FeedServer принимает живой трафик игрового сервера: кадры
// [mode][code][len][payload]. Каждый кадр обновляет зеркало состояния
// и передаётся рекордеру в горутине тика.
type FeedServer struct {
	listener net.Listener
	poster   Poster
	world    StateMirror
	vars     VarApplier
	log      *logging.Logger
	metrics  *NetworkMetrics

	connections atomic.Int64
	frames      atomic.Int64
	dropped     atomic.Int64
	errors      atomic.Int64

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFeedServer слушает address. world и vars могут быть nil.
func NewFeedServer(address string, poster Poster, world StateMirror, vars VarApplier, log *logging.Logger, metrics *NetworkMetrics) (*FeedServer, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.GetNetworkLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &FeedServer{
		listener: listener,
		poster:   poster,
		world:    world,
		vars:     vars,
		log:      log,
		metrics:  metrics,
		conns:    make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Addr адрес слушателя
func (fs *FeedServer) Addr() net.Addr { return fs.listener.Addr() }

// Start запускает приём соединений
func (fs *FeedServer) Start() {
	fs.log.Info("📡 Приём живого трафика на %s", fs.listener.Addr())
	fs.wg.Add(1)
	go fs.acceptLoop()
}

// Stop закрывает слушатель и соединения, дожидаясь обработчиков
func (fs *FeedServer) Stop() {
	fs.cancel()
	fs.listener.Close()

	fs.mu.Lock()
	for c := range fs.conns {
		c.Close()
	}
	fs.mu.Unlock()

	fs.wg.Wait()
}

// Stats текущие счётчики
func (fs *FeedServer) Stats() FeedStats {
	return FeedStats{
		Connections: fs.connections.Load(),
		Frames:      fs.frames.Load(),
		Dropped:     fs.dropped.Load(),
		Errors:      fs.errors.Load(),
	}
}

func (fs *FeedServer) acceptLoop() {
	defer fs.wg.Done()
	for {
		conn, err := fs.listener.Accept()
		if err != nil {
			if fs.ctx.Err() != nil {
				return
			}
			fs.log.Warn("ошибка принятия соединения трафика: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		fs.mu.Lock()
		fs.conns[conn] = struct{}{}
		fs.mu.Unlock()

		fs.wg.Add(1)
		go fs.handleConnection(conn)
	}
}

func (fs *FeedServer) handleConnection(conn net.Conn) {
	defer fs.wg.Done()
	fs.connections.Add(1)
	fs.metrics.feedConn(1)
	fs.log.Info("🔌 Источник трафика подключён: %s", conn.RemoteAddr())

	defer func() {
		conn.Close()
		fs.mu.Lock()
		delete(fs.conns, conn)
		fs.mu.Unlock()
		fs.connections.Add(-1)
		fs.metrics.feedConn(-1)
		fs.log.Info("🔌 Источник трафика отключён: %s", conn.RemoteAddr())
	}()

	r := bufio.NewReaderSize(conn, 64*1024)
	for {
		frame, err := protocol.ReadFeedFrame(r)
		if err != nil {
			if fs.ctx.Err() == nil {
				fs.log.Debug("чтение трафика %s завершено: %v", conn.RemoteAddr(), err)
			}
			return
		}
		fs.handleFrame(frame)
	}
}

// handleFrame проверяет режим и передаёт кадр в тик
func (fs *FeedServer) handleFrame(frame protocol.Frame) {
	mode := replay.Mode(frame.Mode)
	if mode > replay.HiddenPacket {
		fs.errors.Add(1)
		fs.metrics.feedError()
		fs.log.Warn("кадр %s с неизвестным режимом %d отброшен", protocol.CodeName(frame.Code), frame.Mode)
		return
	}
	fs.frames.Add(1)
	fs.metrics.frame(mode.String())

	ok := fs.poster.Post(func(e *replay.Engine) {
		if e.ReplayMode() {
			return
		}
		fs.apply(frame)
		if err := e.Recorder().AddPacket(frame.Code, frame.Data, mode); err != nil {
			fs.errors.Add(1)
			fs.metrics.feedError()
		}
	})
	if !ok {
		fs.dropped.Add(1)
		fs.metrics.feedDrop()
	}
}

// apply обновляет зеркало раньше записи: снимок после MsgAddPlayer уже содержит игрока
func (fs *FeedServer) apply(frame protocol.Frame) {
	var err error
	switch {
	case frame.Code == protocol.MsgSetVar:
		if fs.vars != nil {
			err = fs.vars.Apply(frame.Data)
		}
	case fs.world != nil:
		_, err = fs.world.Apply(frame.Code, frame.Data)
	}
	if err != nil {
		fs.errors.Add(1)
		fs.metrics.feedError()
		fs.log.Warn("кадр %s не применён: %v", protocol.CodeName(frame.Code), err)
	}
}
