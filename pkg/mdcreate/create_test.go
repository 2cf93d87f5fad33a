package mdcreate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdcore/mdcore/pkg/imsm"
	"github.com/mdcore/mdcore/pkg/mdblock"
	"github.com/mdcore/mdcore/pkg/mdctl"
	"github.com/mdcore/mdcore/pkg/mdgeom"
	"github.com/mdcore/mdcore/pkg/mdmap"
	"github.com/mdcore/mdcore/pkg/mdsuper"
	"github.com/mdcore/mdcore/pkg/mdvdev"
)

type fakeChannel struct{ loaded bool }

func (c *fakeChannel) Write(ctx context.Context, devnm string) error {
	if !c.loaded {
		return mdctl.ErrModuleNotLoaded
	}
	return nil
}

type fakeSysfs struct{ written map[string]string }

func (f *fakeSysfs) Get(ctx context.Context, key string) (string, error) { return f.written[key], nil }
func (f *fakeSysfs) Set(ctx context.Context, key, value string) error {
	if f.written == nil {
		f.written = map[string]string{}
	}
	f.written[key] = value
	return nil
}

func newMember(t *testing.T, minor int, serial string, sectors uint64) Member {
	t.Helper()
	dev, _, err := mdvdev.NewBlockDevice(9, minor, "", serial, sectors, mdblock.SectorSize512)
	require.NoError(t, err)
	return Member{Device: dev}
}

func baseRequest(t *testing.T, members []Member) Request {
	t.Helper()
	handler, ok := mdsuper.MatchByDescriptor("imsm")
	require.True(t, ok)

	m, err := mdmap.Open(filepath.Join(t.TempDir(), "mdadm.map"))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	return Request{
		Name:     "data",
		Level:    mdgeom.Level5,
		Members:  members,
		Run:      true,
		Handler:  handler,
		NameMap:  m,
		Channel:  &fakeChannel{loaded: true},
		Modprobe: nil,
		Sysfs:    &fakeSysfs{},
	}
}

func TestCreateRaid5Success(t *testing.T) {
	members := []Member{
		newMember(t, 0, "disk0", 2_000_000),
		newMember(t, 1, "disk1", 2_000_000),
		newMember(t, 2, "disk2", 2_000_000),
	}
	req := baseRequest(t, members)

	res, err := Create(context.Background(), req, Defaults{})
	require.NoError(t, err)
	assert.Equal(t, "md127", res.DevNM)
	require.Len(t, res.Container.Volumes, 1)
	assert.Equal(t, "data", res.Container.Volumes[0].Name)
	assert.Equal(t, mdgeom.Level5, res.Container.Volumes[0].CurrentMap().Level)
	assert.Equal(t, imsm.MapUninitialized, res.Container.Volumes[0].CurrentMap().State)
	assert.False(t, res.Container.Volumes[0].Dirty)
	assert.Len(t, res.Container.Disks, 3)

	entry, ok := req.NameMap.ByDevNM("md127")
	require.True(t, ok)
	assert.Equal(t, res.UUID, entry.UUID)
	assert.Equal(t, "active", req.Sysfs.(*fakeSysfs).written["array_state"])
}

func TestCreateAssumeCleanPublishesNormalMap(t *testing.T) {
	members := []Member{
		newMember(t, 0, "disk0", 2_000_000),
		newMember(t, 1, "disk1", 2_000_000),
		newMember(t, 2, "disk2", 2_000_000),
	}
	req := baseRequest(t, members)
	req.AssumeClean = true

	res, err := Create(context.Background(), req, Defaults{})
	require.NoError(t, err)
	require.Len(t, res.Container.Volumes, 1)
	assert.Equal(t, imsm.MapNormal, res.Container.Volumes[0].CurrentMap().State)
	assert.False(t, res.Container.Volumes[0].Dirty)
	assert.True(t, res.Container.Volumes[0].DirtyStripeOK)
}

func TestCreateRejectsTooFewDisksForRaid6(t *testing.T) {
	members := []Member{
		newMember(t, 0, "disk0", 2_000_000),
		newMember(t, 1, "disk1", 2_000_000),
	}
	req := baseRequest(t, members)
	req.Level = mdgeom.Level6

	_, err := Create(context.Background(), req, Defaults{})
	require.Error(t, err)
}

func TestCreateWithZeroingWritesZeroesAcrossMembers(t *testing.T) {
	members := []Member{
		newMember(t, 0, "disk0", 200_000),
		newMember(t, 1, "disk1", 200_000),
		newMember(t, 2, "disk2", 200_000),
	}
	req := baseRequest(t, members)
	req.WriteZeroes = true

	payload := []byte("not zero")
	_, err := members[0].Device.WriteAt(payload, 4096)
	require.NoError(t, err)

	_, err = Create(context.Background(), req, Defaults{})
	require.NoError(t, err)

	buf := make([]byte, len(payload))
	_, err = members[0].Device.ReadAt(buf, 4096)
	require.NoError(t, err)
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}
}

func TestCreateRejectsSignatureWithoutRun(t *testing.T) {
	members := []Member{
		newMember(t, 0, "disk0", 2_000_000),
		newMember(t, 1, "disk1", 2_000_000),
		newMember(t, 2, "disk2", 2_000_000),
	}
	_, err := members[0].Device.WriteAt([]byte{0x55, 0xAA}, 510)
	require.NoError(t, err)

	req := baseRequest(t, members)
	req.Run = false

	_, err = Create(context.Background(), req, Defaults{})
	require.Error(t, err)
}

func TestCreateSignatureAcceptedViaConfirmOverwrite(t *testing.T) {
	members := []Member{
		newMember(t, 0, "disk0", 2_000_000),
		newMember(t, 1, "disk1", 2_000_000),
		newMember(t, 2, "disk2", 2_000_000),
	}
	_, err := members[0].Device.WriteAt([]byte{0x55, 0xAA}, 510)
	require.NoError(t, err)

	req := baseRequest(t, members)
	req.Run = false
	req.ConfirmOverwrite = func(dev *mdblock.Device, sig string) bool { return true }

	_, err = Create(context.Background(), req, Defaults{})
	require.NoError(t, err)
}

func TestDetectSignatureRecognisesIMSM(t *testing.T) {
	dev, _, err := mdvdev.NewBlockDevice(9, 0, "", "disk0", 2_000_000, mdblock.SectorSize512)
	require.NoError(t, err)
	_, err = dev.WriteAt([]byte(imsm.Signature), 0)
	require.NoError(t, err)

	kind, found, err := DetectSignature(dev)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "IMSM container signature", kind)
}
