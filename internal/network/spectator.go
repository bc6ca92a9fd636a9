package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/mmo-replay/internal/logging"
	"github.com/annel0/mmo-replay/internal/protocol"
	"github.com/annel0/mmo-replay/internal/replay"
)

// ErrSendBufferFull зритель не успевает читать
var ErrSendBufferFull = errors.New("network: send buffer full")

// ErrConnClosed соединение закрыто
var ErrConnClosed = errors.New("network: connection closed")

// Registry реестр зрителей, в который сервер добавляет подключения
type Registry interface {
	Add(v replay.Viewer)
	Remove(id int)
}

// SpectatorConn соединение зрителя. Реализует replay.Viewer:
// Deliver кладёт сообщение в буфер, запись в сокет идёт из sendLoop.
type SpectatorConn struct {
	id      int
	conn    net.Conn
	log     *logging.Logger
	metrics *NetworkMetrics

	sendBuffer chan protocol.Frame
	closed     chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup

	mu     sync.Mutex
	state  replay.ViewerState
	active atomic.Bool

	dropped atomic.Int64
	sent    atomic.Int64
}

func newSpectatorConn(id int, conn net.Conn, bufferSize int, log *logging.Logger, metrics *NetworkMetrics) *SpectatorConn {
	sc := &SpectatorConn{
		id:         id,
		conn:       conn,
		log:        log,
		metrics:    metrics,
		sendBuffer: make(chan protocol.Frame, bufferSize),
		closed:     make(chan struct{}),
	}
	sc.active.Store(true)
	return sc
}

func (sc *SpectatorConn) ID() int      { return sc.id }
func (sc *SpectatorConn) Active() bool { return sc.active.Load() }

func (sc *SpectatorConn) ReplayState() replay.ViewerState {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state
}

func (sc *SpectatorConn) SetReplayState(s replay.ViewerState) {
	sc.mu.Lock()
	sc.state = s
	sc.mu.Unlock()
}

// Deliver не блокирует тик: при полном буфере сообщение теряется
func (sc *SpectatorConn) Deliver(code uint16, data []byte) error {
	if !sc.Active() {
		return ErrConnClosed
	}
	if len(data) > protocol.MaxPayloadLen {
		return fmt.Errorf("%w: %d", protocol.ErrFrameTooLarge, len(data))
	}
	frame := protocol.Frame{Code: code, Data: append([]byte(nil), data...)}
	select {
	case sc.sendBuffer <- frame:
		return nil
	case <-sc.closed:
		return ErrConnClosed
	default:
		sc.dropped.Add(1)
		sc.metrics.spectatorDrop()
		return ErrSendBufferFull
	}
}

// Dropped сообщения, потерянные из-за переполнения
func (sc *SpectatorConn) Dropped() int64 { return sc.dropped.Load() }

// Close закрывает сокет и ждёт завершения циклов
func (sc *SpectatorConn) Close() {
	sc.shutdown()
	sc.wg.Wait()
}

func (sc *SpectatorConn) shutdown() {
	sc.closeOnce.Do(func() {
		sc.active.Store(false)
		close(sc.closed)
		sc.conn.Close()
	})
}

func (sc *SpectatorConn) start(onClose func()) {
	sc.wg.Add(2)
	go sc.sendLoop()
	go func() {
		sc.receiveLoop()
		onClose()
	}()
}

// sendLoop пишет кадры через буферизованный writer, сбрасывая его, когда очередь пуста
func (sc *SpectatorConn) sendLoop() {
	defer sc.wg.Done()
	bw := bufio.NewWriterSize(sc.conn, 16*1024)

	for {
		select {
		case <-sc.closed:
			return
		case frame := <-sc.sendBuffer:
			if err := sc.write(bw, frame); err != nil {
				sc.log.Debug("зритель %d: ошибка отправки: %v", sc.id, err)
				sc.shutdown()
				return
			}
			if len(sc.sendBuffer) > 0 {
				continue
			}
			if err := bw.Flush(); err != nil {
				sc.log.Debug("зритель %d: ошибка отправки: %v", sc.id, err)
				sc.shutdown()
				return
			}
		}
	}
}

func (sc *SpectatorConn) write(bw *bufio.Writer, frame protocol.Frame) error {
	_ = sc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := protocol.WriteMessage(bw, frame.Code, frame.Data); err != nil {
		return err
	}
	n := 4 + len(frame.Data)
	sc.sent.Add(int64(n))
	sc.metrics.sent(n)
	return nil
}

// receiveLoop читает кадры зрителя только чтобы заметить отключение
func (sc *SpectatorConn) receiveLoop() {
	defer sc.wg.Done()
	defer sc.shutdown()

	r := bufio.NewReader(sc.conn)
	for {
		frame, err := protocol.ReadMessage(r)
		if err != nil {
			return
		}
		sc.log.Trace("зритель %d: входящее %s (%d байт)", sc.id, protocol.CodeName(frame.Code), len(frame.Data))
	}
}

// SpectatorServer принимает зрителей и регистрирует их в реестре
type SpectatorServer struct {
	listener   net.Listener
	registry   Registry
	log        *logging.Logger
	metrics    *NetworkMetrics
	bufferSize int

	mu     sync.Mutex
	conns  map[int]*SpectatorConn
	nextID int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSpectatorServer слушает address. bufferSize - очередь сообщений на зрителя.
func NewSpectatorServer(address string, registry Registry, bufferSize int, log *logging.Logger, metrics *NetworkMetrics) (*SpectatorServer, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if log == nil {
		log = logging.GetNetworkLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SpectatorServer{
		listener:   listener,
		registry:   registry,
		log:        log,
		metrics:    metrics,
		bufferSize: bufferSize,
		conns:      make(map[int]*SpectatorConn),
		nextID:     1,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Addr адрес, на котором слушает сервер
func (s *SpectatorServer) Addr() net.Addr { return s.listener.Addr() }

// Start запускает приём соединений
func (s *SpectatorServer) Start() {
	s.log.Info("👀 Сервер зрителей слушает %s", s.listener.Addr())
	s.wg.Add(1)
	go s.acceptLoop()
}

// Stop закрывает слушатель и все соединения
func (s *SpectatorServer) Stop() {
	s.cancel()
	s.listener.Close()
	s.wg.Wait()

	s.mu.Lock()
	conns := make([]*SpectatorConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Count число подключённых зрителей
func (s *SpectatorServer) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *SpectatorServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.log.Warn("ошибка принятия соединения зрителя: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		id := s.nextID
		s.nextID++
		sc := newSpectatorConn(id, conn, s.bufferSize, s.log, s.metrics)
		s.conns[id] = sc
		s.mu.Unlock()

		s.registry.Add(sc)
		s.metrics.spectatorConn(1)
		s.log.Info("👀 Зритель %d подключён: %s", id, conn.RemoteAddr())

		sc.start(func() { s.remove(id) })
	}
}

func (s *SpectatorServer) remove(id int) {
	s.mu.Lock()
	_, ok := s.conns[id]
	delete(s.conns, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.registry.Remove(id)
	s.metrics.spectatorConn(-1)
	s.log.Info("👋 Зритель %d отключён", id)
}
