package mdincremental

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mdcore/mdcore/pkg/mdgeom"
)

func TestComputeAvailabilityTiesAreAllFresh(t *testing.T) {
	out := ComputeAvailability([]Report{
		{Slot: 0, EventCount: 10},
		{Slot: 1, EventCount: 10},
		{Slot: 2, EventCount: 10},
	})
	assert.Equal(t, uint64(10), out.Max)
	assert.Equal(t, AvailFresh, out.Avail[0])
	assert.Equal(t, AvailFresh, out.Avail[1])
	assert.Equal(t, AvailFresh, out.Avail[2])
}

func TestComputeAvailabilityMaxMinusOneUsableOnlyWithoutFresh(t *testing.T) {
	out := ComputeAvailability([]Report{
		{Slot: 0, EventCount: 10},
		{Slot: 1, EventCount: 9},
	})
	assert.Equal(t, AvailFresh, out.Avail[0])
	assert.Equal(t, AvailUsable, out.Avail[1])
}

func TestComputeAvailabilityMaxPlusOneBumpsAndDemotes(t *testing.T) {
	out := ComputeAvailability([]Report{
		{Slot: 0, EventCount: 10},
		{Slot: 1, EventCount: 9},
		{Slot: 2, EventCount: 11},
	})
	assert.Equal(t, uint64(11), out.Max)
	assert.Equal(t, AvailFresh, out.Avail[2])
	assert.Equal(t, AvailUsable, out.Avail[0])
	assert.Equal(t, AvailNone, out.Avail[1])
}

func TestComputeAvailabilityMaxPlusTwoInvalidatesEverythingSeen(t *testing.T) {
	out := ComputeAvailability([]Report{
		{Slot: 0, EventCount: 10},
		{Slot: 1, EventCount: 9},
		{Slot: 2, EventCount: 12},
	})
	assert.Equal(t, uint64(12), out.Max)
	assert.Equal(t, AvailFresh, out.Avail[2])
	_, ok := out.Avail[0]
	assert.False(t, ok)
	_, ok = out.Avail[1]
	assert.False(t, ok)
}

func TestComputeAvailabilityCrossWitnessPruning(t *testing.T) {
	out := ComputeAvailability([]Report{
		{Slot: 0, EventCount: 10},
		{Slot: 1, EventCount: 9, FailedSlots: []int{0}},
	})
	assert.Equal(t, AvailFresh, out.Avail[0])
	assert.Equal(t, AvailNone, out.Avail[1])
}

func TestEnoughRaid5NeedsAllButOne(t *testing.T) {
	avail := map[int]Availability{0: AvailFresh, 1: AvailFresh, 2: AvailNone}
	assert.True(t, Enough(mdgeom.Level5, 3, avail))
}

func TestEnoughRaid5FailsWithTwoMissing(t *testing.T) {
	avail := map[int]Availability{0: AvailFresh, 1: AvailNone, 2: AvailNone}
	assert.False(t, Enough(mdgeom.Level5, 3, avail))
}

func TestEnoughRaid10NeedsOnePerMirrorPair(t *testing.T) {
	avail := map[int]Availability{0: AvailFresh, 1: AvailNone, 2: AvailNone, 3: AvailFresh}
	assert.True(t, Enough(mdgeom.Level10, 4, avail))
}

func TestEnoughRaid10FailsWhenBothOfAPairMissing(t *testing.T) {
	avail := map[int]Availability{0: AvailNone, 1: AvailNone, 2: AvailFresh, 3: AvailFresh}
	assert.False(t, Enough(mdgeom.Level10, 4, avail))
}
