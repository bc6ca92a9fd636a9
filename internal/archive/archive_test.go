package archive

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpack(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "match.rec")
	data := bytes.Repeat([]byte("BZrr tank battle "), 4096)
	require.NoError(t, os.WriteFile(src, data, 0644))

	packed := src + Ext
	require.NoError(t, Pack(src, packed))

	info, err := os.Stat(packed)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(data)))

	out := filepath.Join(dir, "restored", "match.rec")
	require.NoError(t, Unpack(packed, out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestOpenStreams(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.rec")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0644))
	require.NoError(t, Pack(src, src+Ext))

	rc, err := Open(src + Ext)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestOpenRejectsPlainFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "plain.zst")
	require.NoError(t, os.WriteFile(src, []byte("not zstd"), 0644))

	_, err := Open(src)
	assert.Error(t, err)
}

func TestNames(t *testing.T) {
	assert.True(t, IsArchive("x.rec.zst"))
	assert.False(t, IsArchive("x.rec"))
	assert.Equal(t, "x.rec", BaseName("x.rec.zst"))
}
