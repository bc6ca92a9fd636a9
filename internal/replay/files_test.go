package replay

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCatalog struct {
	entries map[string]Summary
	lookups int
	hits    int
}

func newMapCatalog() *mapCatalog {
	return &mapCatalog{entries: map[string]Summary{}}
}

func (c *mapCatalog) Lookup(name string, size int64, modTime time.Time) (Summary, bool) {
	c.lookups++
	s, ok := c.entries[name]
	if !ok || s.Size != size || !s.ModTime.Equal(modTime) {
		return Summary{}, false
	}
	c.hits++
	return s, true
}

func (c *mapCatalog) Store(s Summary) error {
	c.entries[s.Name] = s
	return nil
}

func TestBadFilename(t *testing.T) {
	bad := []string{"", ".hidden", "../x", "a/b", `a\b`, "c:x", "a..b"}
	for _, name := range bad {
		assert.True(t, BadFilename(name), name)
	}
	good := []string{"match.rec", "2024-01-01_ctf", "a.b.c"}
	for _, name := range good {
		assert.False(t, BadFilename(name), name)
	}
}

func TestParseSortOrder(t *testing.T) {
	for in, want := range map[string]SortOrder{"": SortByName, "-n": SortByName, "TIME": SortByTime, "-t": SortByTime} {
		got, err := ParseSortOrder(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseSortOrder("size")
	assert.Error(t, err)
}

func TestListFilesSortAndPattern(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "zeta.rec", matchingHeader(), sessionPackets(1, 1))
	writeRecordFile(t, dir, "alpha.rec", matchingHeader(), sessionPackets(1, 1))
	writeRecordFile(t, dir, "match.bin", matchingHeader(), sessionPackets(1, 1))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("text"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.rec"), 0755))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "zeta.rec"), old, old))

	names := func(list []Summary) []string {
		var out []string
		for _, s := range list {
			out = append(out, s.Name)
		}
		return out
	}

	byName, err := ListFiles(dir, ListOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha.rec", "match.bin", "zeta.rec"}, names(byName))

	byTime, err := ListFiles(dir, ListOptions{Sort: SortByTime}, nil)
	require.NoError(t, err)
	assert.Equal(t, "zeta.rec", byTime[0].Name)

	filtered, err := ListFiles(dir, ListOptions{Pattern: "*.rec"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha.rec", "zeta.rec"}, names(filtered))

	_, err = ListFiles(dir, ListOptions{Pattern: "["}, nil)
	assert.Error(t, err)

	_, err = ListFiles(filepath.Join(dir, "missing"), ListOptions{}, nil)
	assert.Error(t, err)
}

func TestListFilesUsesCatalog(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "one.rec", matchingHeader(), sessionPackets(1, 1))
	cat := newMapCatalog()

	first, err := ListFiles(dir, ListOptions{}, cat)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Zero(t, cat.hits)
	assert.Contains(t, cat.entries, "one.rec")

	second, err := ListFiles(dir, ListOptions{}, cat)
	require.NoError(t, err)
	assert.Equal(t, 1, cat.hits)
	assert.Equal(t, first, second)

	// изменённый файл перечитывается
	writeRecordFile(t, dir, "one.rec", matchingHeader(), sessionPackets(2, 1))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "one.rec"), later, later))
	third, err := ListFiles(dir, ListOptions{}, cat)
	require.NoError(t, err)
	assert.Equal(t, 1, cat.hits)
	assert.NotEqual(t, first[0].Size, third[0].Size)
}

func TestReadSummary(t *testing.T) {
	dir := t.TempDir()
	h := matchingHeader()
	h.Player = 12
	writeRecordFile(t, dir, "s.rec", h, sessionPackets(2, 3))

	s, err := ReadSummary(dir, "s.rec")
	require.NoError(t, err)
	assert.Equal(t, "s.rec", s.Name)
	assert.Equal(t, uint32(12), s.Player)
	assert.Equal(t, "roar", s.Motto)
	assert.Equal(t, int64(6_000_000), s.Duration)
	assert.False(t, s.Archived)
	assert.True(t, IsRecordFile(filepath.Join(dir, "s.rec")))
}

func TestResolveName(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "b.rec", matchingHeader(), sessionPackets(1, 1))
	writeRecordFile(t, dir, "a.rec", matchingHeader(), sessionPackets(1, 1))

	name, err := ResolveName(dir, "#1", nil)
	require.NoError(t, err)
	assert.Equal(t, "a.rec", name)

	name, err = ResolveName(dir, "plain.rec", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain.rec", name)

	_, err = ResolveName(dir, "#x", nil)
	assert.ErrorIs(t, err, ErrBadFilename)
	_, err = ResolveName(dir, "#9", nil)
	assert.ErrorIs(t, err, ErrNoSuchFile)
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))
	require.NoError(t, EnsureDir(dir))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.Error(t, EnsureDir(file))
}
