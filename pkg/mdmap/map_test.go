package mdmap

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mdadm.map")

	m, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, m.Upsert(Entry{DevNM: "md0", MetadataVersion: "imsm", UUID: "uuid-a", Path: "/dev/md0"}))
	require.NoError(t, m.Close())

	m2, err := Open(path)
	require.NoError(t, err)
	defer m2.Close()

	e, ok := m2.ByDevNM("md0")
	require.True(t, ok)
	assert.Equal(t, "uuid-a", e.UUID)

	e2, ok := m2.ByUUID("uuid-a")
	require.True(t, ok)
	assert.Equal(t, "md0", e2.DevNM)
}

func TestRemoveDeletesEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mdadm.map")
	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Upsert(Entry{DevNM: "md0", MetadataVersion: "imsm", UUID: "u", Path: "/dev/md0"}))
	require.NoError(t, m.Remove("md0"))

	_, ok := m.ByDevNM("md0")
	assert.False(t, ok)
}

func TestFreeNameStartsAt127AndSkipsBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mdadm.map")
	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	name, err := m.FreeName(nil)
	require.NoError(t, err)
	assert.Equal(t, "md127", name)

	require.NoError(t, m.Upsert(Entry{DevNM: "md127", MetadataVersion: "imsm", UUID: "u", Path: "/dev/md127"}))
	name, err = m.FreeName(func(devnm string) bool { return devnm == "md126" })
	require.NoError(t, err)
	assert.Equal(t, "md125", name)
}
