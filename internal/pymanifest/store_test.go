package pymanifest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadWithNoPersistedFileStartsEmpty(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	confDir := t.TempDir()

	s := NewStore(root, confDir, false, nil)
	require.NoError(t, s.Load())

	snap := s.Snapshot()
	assert.Empty(t, snap.Entries)
	assert.Equal(t, root, snap.Root)
}

func TestStore_SaveThenLoadRoundTrips(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	confDir := t.TempDir()

	s := NewStore(root, confDir, false, nil)
	require.NoError(t, s.Load())
	require.NoError(t, s.Update())
	require.NoError(t, s.Save())

	reloaded := NewStore(root, confDir, false, nil)
	require.NoError(t, reloaded.Load())

	assert.Equal(t, s.Snapshot().Entries, reloaded.Snapshot().Entries)
}

func TestMergeWithPersisted_MissingPersistedEntryBecomesTombstone(t *testing.T) {
	t.Parallel()

	persisted := New("/root")
	persisted.Entries["gone.txt"] = PathInfo{Type: TypeFile, LastMod: 100}

	scan := New("/root")

	merged := mergeWithPersisted(persisted, scan, nil)

	entry, ok := merged.Entries["gone.txt"]
	require.True(t, ok)
	assert.True(t, entry.IsTombstone())
}

func TestMergeWithPersisted_ScanOverwritesPersistedLiveEntry(t *testing.T) {
	t.Parallel()

	persisted := New("/root")
	persisted.Entries["f.txt"] = PathInfo{Type: TypeFile, LastMod: 100}

	scan := New("/root")
	scan.Entries["f.txt"] = PathInfo{Type: TypeFile, LastMod: 500}

	merged := mergeWithPersisted(persisted, scan, nil)
	assert.EqualValues(t, 500, merged.Entries["f.txt"].LastMod)
}

func TestMergeWithPersisted_OldTombstoneIsPurgedPastLimit(t *testing.T) {
	t.Parallel()

	deletedAt := time.Now().Add(-40 * 24 * time.Hour).Unix()

	persisted := New("/root")
	persisted.Entries["old.txt"] = PathInfo{Type: TypeFile, LastMod: deletedAt, Deleted: &deletedAt}

	scan := New("/root")
	limit := 30

	merged := mergeWithPersisted(persisted, scan, &limit)
	assert.NotContains(t, merged.Entries, "old.txt")
}

func TestMergeWithPersisted_RecentTombstoneSurvivesWithinLimit(t *testing.T) {
	t.Parallel()

	deletedAt := time.Now().Add(-1 * time.Hour).Unix()

	persisted := New("/root")
	persisted.Entries["recent.txt"] = PathInfo{Type: TypeFile, LastMod: deletedAt, Deleted: &deletedAt}

	scan := New("/root")
	limit := 30

	merged := mergeWithPersisted(persisted, scan, &limit)
	assert.Contains(t, merged.Entries, "recent.txt")
}

func TestToWireFromWire_RoundTripsEntriesWithoutRoot(t *testing.T) {
	t.Parallel()

	m := New("/some/root")
	m.Entries["a.txt"] = PathInfo{Type: TypeFile, LastMod: 42, Perm: 0o644}

	wire, err := ToWire(m)
	require.NoError(t, err)

	back, err := FromWire(wire)
	require.NoError(t, err)

	assert.Equal(t, m.Entries, back.Entries)
	assert.Empty(t, back.Root)
}

func TestEncodeDecodeOnDisk_RoundTripsRootAndEntries(t *testing.T) {
	t.Parallel()

	m := New("/abs/root")
	m.Entries["x.txt"] = PathInfo{Type: TypeFile, LastMod: 7}

	data, err := encodeOnDisk(m)
	require.NoError(t, err)

	back, err := decodeOnDisk(data)
	require.NoError(t, err)

	assert.Equal(t, m.Root, back.Root)
	assert.Equal(t, m.Entries, back.Entries)
}

func TestStore_JSONPathUsesRootBaseName(t *testing.T) {
	t.Parallel()

	confDir := t.TempDir()
	s := NewStore("/data/myproject", confDir, false, nil)
	assert.Equal(t, filepath.Join(confDir, "myproject.json"), s.jsonPath())
}
