package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-replay/internal/protocol"
	"github.com/annel0/mmo-replay/internal/replay"
)

func TestVarStoreKeepsInsertionOrder(t *testing.T) {
	s := NewVarStore()
	s.Set("_gravity", "-9.8")
	s.Set("_tankSpeed", "25")
	s.Set("_gravity", "-5") // обновление не меняет порядок

	var names []string
	s.Each(func(name, _ string) { names = append(names, name) })
	assert.Equal(t, []string{"_gravity", "_tankSpeed"}, names)

	v, ok := s.Get("_gravity")
	require.True(t, ok)
	assert.Equal(t, "-5", v)

	assert.True(t, s.Delete("_tankSpeed"))
	assert.Equal(t, 1, s.Len())
}

func TestVarStoreApply(t *testing.T) {
	s := NewVarStore()
	chunks := replay.EncodeSetVar([]replay.Var{{Name: "_shotSpeed", Value: "100"}})
	require.Len(t, chunks, 1)

	require.NoError(t, s.Apply(chunks[0]))
	assert.Equal(t, []replay.Var{{Name: "_shotSpeed", Value: "100"}}, s.Snapshot())

	assert.Error(t, s.Apply([]byte{0, 5}))
}

func newTestWorld() *World {
	return NewWorld(protocol.Settings{GameType: protocol.RabbitChase, NumFlags: 2}, []byte("box 0 0 0"), []byte("GM SW"))
}

func TestWorldApplyTraffic(t *testing.T) {
	w := newTestWorld()

	add := PackAddPlayer(Player{ID: 3, Team: 1, CallSign: "tiger", Motto: "roar"})
	changed, err := w.Apply(protocol.MsgAddPlayer, add)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, w.PlayerCount())

	_, err = w.Apply(protocol.MsgNewRabbit, []byte{3})
	require.NoError(t, err)
	id, ok := w.Rabbit()
	assert.True(t, ok)
	assert.Equal(t, uint8(3), id)

	_, err = w.Apply(protocol.MsgRemovePlayer, []byte{3})
	require.NoError(t, err)
	assert.Zero(t, w.PlayerCount())
	_, ok = w.Rabbit()
	assert.False(t, ok, "кролик снимается вместе с игроком")

	changed, err = w.Apply(protocol.MsgShotBegin, []byte{1, 2})
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = w.Apply(protocol.MsgAddPlayer, []byte{1})
	assert.Error(t, err)
}

func TestWorldTeamAndFlagRoundTrip(t *testing.T) {
	src := newTestWorld()
	require.NoError(t, src.SetTeam(2, Team{Size: 4, Won: 10, Lost: 3}))
	require.NoError(t, src.SetFlag(1, Flag{Abbrev: "GM", Status: 1, Owner: 7, Position: [3]float32{1, 2, 3}}))
	assert.Error(t, src.SetFlag(5, Flag{}))

	dst := newTestWorld()
	teams := src.TeamStates()
	tw := protocol.NewWriter(64)
	tw.PutU16(uint16(len(teams)))
	for _, e := range teams {
		tw.PutBytes(e)
	}
	_, err := dst.Apply(protocol.MsgTeamUpdate, tw.Bytes())
	require.NoError(t, err)

	flags := src.FlagStates()
	require.Len(t, flags, 2)
	w := protocol.NewWriter(64)
	w.PutU16(uint16(len(flags)))
	for _, f := range flags {
		w.PutBytes(f)
	}
	_, err = dst.Apply(protocol.MsgFlagUpdate, w.Bytes())
	require.NoError(t, err)

	assert.Equal(t, src.TeamStates(), dst.TeamStates())
	require.Len(t, dst.TeamStates(), NumTeams)
	assert.Equal(t, []byte{0, 2, 0, 4, 0, 10, 0, 3}, dst.TeamStates()[2])
	assert.Equal(t, src.FlagStates(), dst.FlagStates())
}

func TestWorldPlayersSorted(t *testing.T) {
	w := newTestWorld()
	w.AddPlayer(Player{ID: 9, CallSign: "b"})
	w.AddPlayer(Player{ID: 2, CallSign: "a", Properties: PropAdmin})

	players := w.Players()
	require.Len(t, players, 2)
	assert.Equal(t, uint8(2), players[0].ID)
	assert.Equal(t, []byte{2, PropAdmin}, players[0].Info)

	p, err := UnpackAddPlayer(players[0].Add)
	require.NoError(t, err)
	assert.Equal(t, "a", p.CallSign)
}

func TestWorldInstallChangesHash(t *testing.T) {
	w := newTestWorld()
	before := w.WorldHash()
	assert.Equal(t, replay.WorldHash([]byte("box 0 0 0")), before)

	w.Install([]byte("pyramid"), nil, protocol.Settings{NumFlags: 1})
	assert.NotEqual(t, before, w.WorldHash())
	assert.Len(t, w.FlagStates(), 1)
	assert.Equal(t, uint16(1), w.Settings().NumFlags)
}

func TestWorldGameTime(t *testing.T) {
	w := newTestWorld()
	base := time.Unix(1000, 0)
	now := base
	w.SetClock(func() time.Time { return now })

	now = base.Add(1500 * time.Millisecond)
	assert.Equal(t, int64(1_500_000), w.GameTime())
}

func TestHubNotice(t *testing.T) {
	h := NewHub()
	a := NewMemoryViewer(1)
	b := NewMemoryViewer(2)
	b.SetActive(false)
	h.Add(b)
	h.Add(a)

	viewers := h.Viewers()
	require.Len(t, viewers, 2)
	assert.Equal(t, 1, viewers[0].ID())

	h.Notice("Replay Finished")
	require.Len(t, a.Received(), 1)
	assert.Empty(t, b.Received())

	from, to, text, err := UnpackMessage(a.Received()[0].Data)
	require.NoError(t, err)
	assert.Equal(t, ServerPlayer, from)
	assert.Equal(t, AllPlayers, to)
	assert.Equal(t, "Replay Finished", text)

	h.Remove(1)
	assert.Equal(t, 1, h.Count())
}
