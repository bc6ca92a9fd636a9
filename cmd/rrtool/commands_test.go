package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-replay/internal/auth"
	"github.com/annel0/mmo-replay/internal/protocol"
	"github.com/annel0/mmo-replay/internal/replay"
)

// writeSample пишет файл: граница, переменные, три реальных пакета по секунде
func writeSample(t *testing.T, dir, name string, patch bool) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	world := []byte("box 0 0 0")
	fw := replay.NewFileWriter(f)
	require.NoError(t, fw.WriteHeader(&replay.Header{
		CallSign:      "tiger",
		Motto:         "roar",
		ServerVersion: "2.0",
		AppVersion:    "test",
		RealHash:      replay.WorldHash(world),
		Settings:      protocol.Settings{MaxPlayers: 8},
		Flags:         []byte("GM"),
		World:         world,
	}))

	ts := int64(1_000_000)
	vars := replay.EncodeSetVar([]replay.Var{{Name: "_gravity", Value: "-9.8"}})[0]
	require.NoError(t, fw.WritePacket(replay.NewPacket(replay.UpdatePacket, protocol.MsgTeamUpdate, nil, ts)))
	require.NoError(t, fw.WritePacket(replay.NewPacket(replay.StatePacket, protocol.MsgSetVar, vars, ts)))
	require.NoError(t, fw.WritePacket(replay.NewPacket(replay.HiddenPacket, protocol.MsgAdminInfo, []byte{0}, ts)))
	for i := 1; i <= 3; i++ {
		require.NoError(t, fw.WritePacket(replay.NewPacket(replay.RealPacket, protocol.MsgMessage, []byte("hi"), ts+int64(i)*1_000_000)))
	}
	if patch {
		require.NoError(t, fw.PatchDuration(fw.Elapsed()))
	}
	return path
}

func TestInfoAndDump(t *testing.T) {
	path := writeSample(t, t.TempDir(), "match.rec", true)

	var out bytes.Buffer
	require.NoError(t, runInfo(&out, []string{path}))
	assert.Contains(t, out.String(), "duration:       3.000 seconds")
	assert.Contains(t, out.String(), "tiger (roar)")
	assert.Contains(t, out.String(), "(ok)")

	out.Reset()
	require.NoError(t, runDump(&out, []string{"-hidden=false", path}))
	assert.Equal(t, 6, strings.Count(out.String(), "\n"), out.String())
	assert.NotContains(t, out.String(), "hidden")

	out.Reset()
	require.NoError(t, runDump(&out, []string{"-n", "2", path}))
	assert.Contains(t, out.String(), "-- 2 records shown")

	assert.Error(t, runInfo(&out, nil))
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()

	t.Run("целый файл", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runVerify(&out, []string{writeSample(t, dir, "good.rec", true)}))
		assert.Contains(t, out.String(), "6 records (real 3, state 1, update 1, hidden 1)")
		assert.Contains(t, out.String(), "ok")
	})

	t.Run("длительность не записана", func(t *testing.T) {
		var out bytes.Buffer
		err := runVerify(&out, []string{writeSample(t, dir, "open.rec", false)})
		assert.ErrorIs(t, err, errVerify)
		assert.Contains(t, out.String(), "длительность в заголовке 0.000")
	})

	t.Run("обрезанный хвост", func(t *testing.T) {
		path := writeSample(t, dir, "cut.rec", true)
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.NoError(t, os.Truncate(path, info.Size()-1))

		var out bytes.Buffer
		assert.ErrorIs(t, runVerify(&out, []string{path}), errVerify)
		assert.Contains(t, out.String(), "unexpected EOF")
	})

	t.Run("не файл записи", func(t *testing.T) {
		path := filepath.Join(dir, "junk.rec")
		require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("junk"), 200), 0644))
		var out bytes.Buffer
		assert.ErrorIs(t, runVerify(&out, []string{path}), replay.ErrBadMagic)
	})
}

func TestPackListUnpack(t *testing.T) {
	dir := t.TempDir()
	path := writeSample(t, dir, "match.rec", true)
	writeSample(t, dir, "other.rec", true)

	var out bytes.Buffer
	require.NoError(t, runPack(&out, []string{"-rm", path}))
	assert.Contains(t, out.String(), "match.rec.zst")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	out.Reset()
	require.NoError(t, runList(&out, []string{"-dir", dir}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "match.rec.zst")
	assert.Contains(t, lines[1], "other.rec")

	out.Reset()
	require.NoError(t, runVerify(&out, []string{path + ".zst"}))

	out.Reset()
	require.NoError(t, runUnpack(&out, []string{path + ".zst"}))
	require.NoError(t, runVerify(&out, []string{path}))

	assert.Error(t, runPack(&out, []string{path + ".zst"}))
	assert.Error(t, runUnpack(&out, []string{path}))

	out.Reset()
	require.NoError(t, runList(&out, []string{"-dir", t.TempDir()}))
	assert.Contains(t, out.String(), "No record files found")
}

func TestToken(t *testing.T) {
	t.Setenv("REPLAY_JWT_SECRET", "")
	var out bytes.Buffer
	assert.Error(t, runToken(&out, []string{"-name", "root"}))

	secret, err := auth.GenerateSecureSecret()
	require.NoError(t, err)
	require.NoError(t, runToken(&out, []string{"-name", "root", "-admin", "-secret", secret}))

	claims, err := auth.ValidateJWT(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "root", claims.Operator)
	assert.True(t, claims.IsAdmin)
}
