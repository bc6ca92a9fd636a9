package network

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-replay/internal/game"
	"github.com/annel0/mmo-replay/internal/logging"
	"github.com/annel0/mmo-replay/internal/protocol"
	"github.com/annel0/mmo-replay/internal/replay"
)

func quietLogger() *logging.Logger {
	return logging.NewWriterLogger("network", io.Discard, logging.ERROR)
}

func TestSpectatorServer(t *testing.T) {
	hub := game.NewHub()
	reg := prometheus.NewRegistry()
	metrics := NewNetworkMetrics(reg)
	srv, err := NewSpectatorServer("127.0.0.1:0", hub, 16, quietLogger(), metrics)
	require.NoError(t, err)
	srv.Start()
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, srv.Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.spectators))

	v := hub.Viewers()[0]
	assert.True(t, v.Active())
	assert.Equal(t, replay.StateNone, v.ReplayState())
	v.SetReplayState(replay.StateStateful)
	assert.Equal(t, replay.StateStateful, v.ReplayState())

	t.Run("доставка в порядке", func(t *testing.T) {
		require.NoError(t, v.Deliver(protocol.MsgTeamUpdate, []byte{1, 2, 3}))
		hub.Notice("Replay Finished")

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		r := bufio.NewReader(conn)
		f, err := protocol.ReadMessage(r)
		require.NoError(t, err)
		assert.Equal(t, protocol.MsgTeamUpdate, f.Code)
		assert.Equal(t, []byte{1, 2, 3}, f.Data)

		f, err = protocol.ReadMessage(r)
		require.NoError(t, err)
		assert.Equal(t, protocol.MsgMessage, f.Code)
		_, _, text, err := game.UnpackMessage(f.Data)
		require.NoError(t, err)
		assert.Contains(t, text, "Replay Finished")
	})

	t.Run("отключение", func(t *testing.T) {
		conn.Close()
		require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
		assert.False(t, v.Active())
		assert.ErrorIs(t, v.Deliver(protocol.MsgMessage, nil), ErrConnClosed)
		assert.Equal(t, 0.0, testutil.ToFloat64(metrics.spectators))
	})
}

func TestSpectatorConnBuffer(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sc := newSpectatorConn(7, server, 1, quietLogger(), nil)
	require.NoError(t, sc.Deliver(protocol.MsgMessage, []byte("a")))
	assert.ErrorIs(t, sc.Deliver(protocol.MsgMessage, []byte("b")), ErrSendBufferFull)
	assert.Equal(t, int64(1), sc.Dropped())

	assert.ErrorIs(t, sc.Deliver(protocol.MsgMessage, make([]byte, protocol.MaxPayloadLen+1)), protocol.ErrFrameTooLarge)

	sc.Close()
	assert.ErrorIs(t, sc.Deliver(protocol.MsgMessage, nil), ErrConnClosed)
}

type feedEnv struct {
	world  *game.World
	vars   *game.VarStore
	driver *replay.Driver
	feed   *FeedServer
	conn   net.Conn
}

func newFeedEnv(t *testing.T) *feedEnv {
	t.Helper()
	world := game.NewWorld(protocol.Settings{MaxPlayers: 8}, []byte("box"), []byte("GM"))
	vars := game.NewVarStore()
	vars.Set("_gravity", "-9.8")

	engine := replay.NewEngine(replay.Options{Dir: t.TempDir(), Logger: quietLogger()}, replay.Deps{
		State: world, Vars: vars, World: world, Viewers: game.NewHub(),
	})
	driver := replay.NewDriver(engine, 5*time.Millisecond, 64)
	ctx, cancel := context.WithCancel(context.Background())
	go driver.Run(ctx)
	t.Cleanup(cancel)

	feed, err := NewFeedServer("127.0.0.1:0", driver, world, vars, quietLogger(), nil)
	require.NoError(t, err)
	feed.Start()
	t.Cleanup(feed.Stop)

	conn, err := net.Dial("tcp", feed.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &feedEnv{world: world, vars: vars, driver: driver, feed: feed, conn: conn}
}

func (env *feedEnv) packets(t *testing.T) int {
	var n int
	require.NoError(t, env.driver.Do(context.Background(), func(e *replay.Engine) error {
		n = e.Recorder().Stats().Packets
		return nil
	}))
	return n
}

func TestFeedServer(t *testing.T) {
	env := newFeedEnv(t)
	require.NoError(t, env.driver.Do(context.Background(), func(e *replay.Engine) error {
		return e.Recorder().Start()
	}))
	base := env.packets(t)
	require.Greater(t, base, 0, "снимок при старте")

	add := game.PackAddPlayer(game.Player{ID: 4, Team: 1, CallSign: "hawk"})
	setvar := replay.EncodeSetVar([]replay.Var{{Name: "_shotSpeed", Value: "120"}})[0]

	require.NoError(t, protocol.WriteFeedFrame(env.conn, protocol.Frame{Mode: uint16(replay.RealPacket), Code: protocol.MsgAddPlayer, Data: add}))
	require.NoError(t, protocol.WriteFeedFrame(env.conn, protocol.Frame{Mode: uint16(replay.RealPacket), Code: protocol.MsgSetVar, Data: setvar}))
	require.NoError(t, protocol.WriteFeedFrame(env.conn, protocol.Frame{Mode: 9, Code: protocol.MsgMessage}))

	require.Eventually(t, func() bool { return env.packets(t) == base+2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, env.world.PlayerCount())
	v, ok := env.vars.Get("_shotSpeed")
	require.True(t, ok)
	assert.Equal(t, "120", v)

	stats := env.feed.Stats()
	assert.Equal(t, int64(1), stats.Connections)
	assert.Equal(t, int64(2), stats.Frames)
	assert.Equal(t, int64(1), stats.Errors)

	t.Run("в режиме воспроизведения трафик игнорируется", func(t *testing.T) {
		require.NoError(t, env.driver.Do(context.Background(), func(e *replay.Engine) error {
			if err := e.Recorder().Stop(); err != nil {
				return err
			}
			return e.EnterReplayMode()
		}))
		remove := []byte{4}
		require.NoError(t, protocol.WriteFeedFrame(env.conn, protocol.Frame{Code: protocol.MsgRemovePlayer, Data: remove}))
		require.Eventually(t, func() bool { return env.feed.Stats().Frames == 3 }, 2*time.Second, 5*time.Millisecond)
		// Do выполняется после поставленного Post
		env.packets(t)
		assert.Equal(t, 1, env.world.PlayerCount())
	})
}
