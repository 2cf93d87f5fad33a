package mdmonitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectNewArrayWhenPreviouslyUnknown(t *testing.T) {
	curr := Snapshot{Array: "/dev/md0", RebuildPercent: -1}
	events := Detect(Snapshot{}, curr, 0)
	assertContainsName(t, events, NewArray)
}

func TestDetectFailOnIncreasedFailedCount(t *testing.T) {
	prev := Snapshot{Array: "/dev/md0", Failed: 0, RebuildPercent: -1, Slots: []SlotState{{Device: "/dev/sda", Failed: false}}}
	curr := Snapshot{Array: "/dev/md0", Failed: 1, RebuildPercent: -1, Slots: []SlotState{{Device: "/dev/sda", Failed: true}}}
	events := Detect(prev, curr, 0)
	assertContainsName(t, events, Fail)
}

func TestDetectDegradedArrayWhenActiveDropsBelowRaid(t *testing.T) {
	prev := Snapshot{Array: "/dev/md0", Active: 3, Raid: 3, RebuildPercent: -1}
	curr := Snapshot{Array: "/dev/md0", Active: 2, Raid: 3, RebuildPercent: -1}
	events := Detect(prev, curr, 0)
	assertContainsName(t, events, DegradedArray)
}

func TestDetectSparesMissingWhenDegradedWithNoSpare(t *testing.T) {
	prev := Snapshot{Array: "/dev/md0", Active: 3, Raid: 3, Spare: 0, RebuildPercent: -1}
	curr := Snapshot{Array: "/dev/md0", Active: 2, Raid: 3, Spare: 0, RebuildPercent: -1}
	events := Detect(prev, curr, 0)
	assertContainsName(t, events, SparesMissing)
}

func TestDetectRebuildStartedAndFinished(t *testing.T) {
	prev := Snapshot{Array: "/dev/md0", RebuildPercent: -1}
	mid := Snapshot{Array: "/dev/md0", RebuildPercent: 0}
	events := Detect(prev, mid, 0)
	assertContainsName(t, events, RebuildStarted)

	done := Snapshot{Array: "/dev/md0", RebuildPercent: -1, MismatchCount: 3}
	events = Detect(mid, done, 0)
	assertContainsName(t, events, RebuildFinished)
	for _, e := range events {
		if e.Name == RebuildFinished {
			assert.Contains(t, e.Description, "3")
		}
	}
}

func TestDetectRebuildFiresAtGranularity(t *testing.T) {
	prev := Snapshot{Array: "/dev/md0", RebuildPercent: 0}
	curr := Snapshot{Array: "/dev/md0", RebuildPercent: 20}
	events := Detect(prev, curr, 20)
	assertContainsName(t, events, Rebuild)

	curr2 := Snapshot{Array: "/dev/md0", RebuildPercent: 5}
	events2 := Detect(prev, curr2, 20)
	assertNotContainsName(t, events2, Rebuild)
}

func TestDetectDeviceDisappeared(t *testing.T) {
	prev := Snapshot{Array: "/dev/md0", RebuildPercent: -1, Slots: []SlotState{{Device: "/dev/sdb"}}}
	curr := Snapshot{Array: "/dev/md0", RebuildPercent: -1, Slots: nil}
	events := Detect(prev, curr, 0)
	assertContainsName(t, events, DeviceDisappeared)
}

func TestEventTableLookups(t *testing.T) {
	assert.Equal(t, PriorityCritical, Fail.SyslogPriority())
	assert.True(t, Fail.Mails())
	assert.Equal(t, PriorityInfo, SpareActive.SyslogPriority())
	assert.False(t, SpareActive.Mails())
	assert.True(t, TestMessage.Mails())
}

func assertContainsName(t *testing.T, events []Event, n Name) {
	t.Helper()
	for _, e := range events {
		if e.Name == n {
			return
		}
	}
	t.Fatalf("expected events to contain %s, got %+v", n, events)
}

func assertNotContainsName(t *testing.T, events []Event, n Name) {
	t.Helper()
	for _, e := range events {
		if e.Name == n {
			t.Fatalf("expected events not to contain %s, got %+v", n, events)
		}
	}
}
