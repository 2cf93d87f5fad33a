package mdmonitor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMdstat = `Personalities : [raid6] [raid5] [raid4]
md0 : active raid5 sdc1[2] sdb1[1] sda1[0]
      1998848 blocks super 1.2 level 5, 64k chunk, algorithm 2 [3/3] [UUU]

md1 : active raid1 sdd1[0] sde1[1](F)
      104792064 blocks super 1.2 [2/1] [U_]
      [=====>...............]  recovery = 27.5% (28800000/104792064) finish=10.2min speed=123456K/sec

unused devices: <none>
`

func TestParseMdstatParsesHealthyArray(t *testing.T) {
	snaps, err := ParseMdstat(strings.NewReader(sampleMdstat))
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	md0 := snaps[0]
	assert.Equal(t, "/dev/md0", md0.Array)
	assert.Equal(t, 3, md0.Raid)
	assert.Equal(t, 3, md0.Active)
	assert.Equal(t, 0, md0.Failed)
	assert.Equal(t, -1, md0.RebuildPercent)
	require.Len(t, md0.Slots, 3)
}

func TestParseMdstatParsesDegradedRecoveringArray(t *testing.T) {
	snaps, err := ParseMdstat(strings.NewReader(sampleMdstat))
	require.NoError(t, err)

	md1 := snaps[1]
	assert.Equal(t, "/dev/md1", md1.Array)
	assert.Equal(t, 2, md1.Raid)
	assert.Equal(t, 1, md1.Active)
	assert.Equal(t, 1, md1.Failed)
	assert.Equal(t, 27, md1.RebuildPercent)
	require.Len(t, md1.Slots, 2)
	assert.True(t, md1.Slots[1].Failed)
}
