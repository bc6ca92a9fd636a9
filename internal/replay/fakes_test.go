package replay

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-replay/internal/logging"
	"github.com/annel0/mmo-replay/internal/protocol"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeVars struct {
	names  []string
	values map[string]string
}

func newFakeVars(kv ...string) *fakeVars {
	v := &fakeVars{values: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return v
}

func (v *fakeVars) Get(name string) (string, bool) {
	val, ok := v.values[name]
	return val, ok
}

func (v *fakeVars) Set(name, value string) {
	if _, ok := v.values[name]; !ok {
		v.names = append(v.names, name)
	}
	v.values[name] = value
}

func (v *fakeVars) Each(fn func(name, value string)) {
	for _, n := range v.names {
		fn(n, v.values[n])
	}
}

type fakeState struct {
	teams   [][]byte
	flags   [][]byte
	players []PlayerState
	rabbit  int
	clock   int64
}

func newFakeState() *fakeState {
	return &fakeState{teams: [][]byte{make([]byte, 8)}, rabbit: -1, clock: 42}
}

func (s *fakeState) TeamStates() [][]byte   { return s.teams }
func (s *fakeState) FlagStates() [][]byte   { return s.flags }
func (s *fakeState) Players() []PlayerState { return s.players }
func (s *fakeState) GameTime() int64        { return s.clock }

func (s *fakeState) Rabbit() (uint8, bool) {
	if s.rabbit < 0 {
		return 0, false
	}
	return uint8(s.rabbit), true
}

type fakeWorld struct {
	settings  protocol.Settings
	data      []byte
	flags     []byte
	installed int
}

func (w *fakeWorld) Settings() protocol.Settings { return w.settings }
func (w *fakeWorld) WorldData() []byte           { return w.data }
func (w *fakeWorld) FlagTypes() []byte           { return w.flags }
func (w *fakeWorld) WorldHash() string           { return WorldHash(w.data) }

func (w *fakeWorld) Install(world, flags []byte, settings protocol.Settings) {
	w.data = world
	w.flags = flags
	w.settings = settings
	w.installed++
}

type delivered struct {
	code uint16
	data []byte
}

type fakeViewer struct {
	id       int
	active   bool
	state    ViewerState
	received []delivered
}

func (v *fakeViewer) ID() int                     { return v.id }
func (v *fakeViewer) Active() bool                { return v.active }
func (v *fakeViewer) ReplayState() ViewerState    { return v.state }
func (v *fakeViewer) SetReplayState(s ViewerState) { v.state = s }

func (v *fakeViewer) Deliver(code uint16, data []byte) error {
	v.received = append(v.received, delivered{code: code, data: append([]byte(nil), data...)})
	return nil
}

// codes коды доставленных сообщений без служебных MsgReplayReset
func (v *fakeViewer) codes() []uint16 {
	var out []uint16
	for _, d := range v.received {
		if d.code != protocol.MsgReplayReset {
			out = append(out, d.code)
		}
	}
	return out
}

type fakeHub struct {
	viewers []*fakeViewer
	notices []string
}

func (h *fakeHub) add(id int) *fakeViewer {
	v := &fakeViewer{id: id, active: true}
	h.viewers = append(h.viewers, v)
	return v
}

func (h *fakeHub) Viewers() []Viewer {
	out := make([]Viewer, len(h.viewers))
	for i, v := range h.viewers {
		out[i] = v
	}
	return out
}

func (h *fakeHub) Notice(text string) { h.notices = append(h.notices, text) }

type fakeEvents struct {
	types []string
}

func (e *fakeEvents) PublishEvent(eventType string, _ map[string]string) {
	e.types = append(e.types, eventType)
}

func quietLogger() *logging.Logger {
	return logging.NewWriterLogger("test", io.Discard, logging.ERROR)
}

type testEnv struct {
	dir    string
	clock  *fakeClock
	vars   *fakeVars
	state  *fakeState
	world  *fakeWorld
	hub    *fakeHub
	events *fakeEvents
	engine *Engine
}

func newTestEnv(t *testing.T, maxBytes int, rate time.Duration) *testEnv {
	t.Helper()
	env := &testEnv{
		dir:    t.TempDir(),
		clock:  newFakeClock(),
		vars:   newFakeVars("_gravity", "-9.8"),
		state:  newFakeState(),
		world:  &fakeWorld{data: []byte("world"), flags: []byte("GM")},
		hub:    &fakeHub{},
		events: &fakeEvents{},
	}
	env.engine = NewEngine(Options{
		Dir:        env.dir,
		MaxBytes:   maxBytes,
		UpdateRate: rate,
		Now:        env.clock.Now,
		Logger:     quietLogger(),
	}, Deps{
		State:   env.state,
		Vars:    env.vars,
		World:   env.world,
		Viewers: env.hub,
		Events:  env.events,
	})
	return env
}

// setVar тело MsgSetVar с одной переменной
func setVar(name, value string) []byte {
	return EncodeSetVar([]Var{{Name: name, Value: value}})[0]
}

// writeRecordFile пишет файл из готовых записей
func writeRecordFile(t *testing.T, dir, name string, h *Header, packets []*Packet) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := NewFileWriter(f)
	require.NoError(t, w.WriteHeader(h))
	for _, p := range packets {
		require.NoError(t, w.WritePacket(p))
	}
	require.NoError(t, w.PatchDuration(w.Elapsed()))
	return path
}

// sessionPackets файл из n отрезков: граница, переменная, reals живых записей через 1 секунду
func sessionPackets(segments, reals int) []*Packet {
	var out []*Packet
	ts := int64(1_000_000)
	for s := 0; s < segments; s++ {
		out = append(out,
			NewPacket(UpdatePacket, protocol.MsgTeamUpdate, nil, ts),
			NewPacket(StatePacket, protocol.MsgSetVar, setVar("_seg", string(rune('a'+s))), ts),
		)
		for r := 0; r < reals; r++ {
			ts += 1_000_000
			out = append(out, NewPacket(RealPacket, protocol.MsgPlayerUpdate, []byte{byte(s), byte(r)}, ts))
		}
	}
	return out
}
