// Package mdmonitor implements the monitor loop of spec §4.6: event
// detection against a polled or udev-fed array snapshot, the
// event/priority/mail table, the three independent alerting actions,
// spare migration across spare-groups, and daemonisation. Shaped like
// the teacher's elog package (pkg/elog/logger.go): a small typed
// interface over an otherwise stateful, side-effecting subsystem, with
// the side effects (fork/exec, syslog, mail) kept behind that
// interface so the detection/decision logic stays pure and testable.
package mdmonitor

import "fmt"

// Name is one of the monitor's recognised event kinds (spec §4.6
// "Event set and priorities").
type Name int

const (
	SpareActive Name = iota
	NewArray
	MoveSpare
	TestMessage
	RebuildStarted
	Rebuild
	RebuildFinished
	SparesMissing
	DeviceDisappeared
	Fail
	FailSpare
	DegradedArray
)

func (n Name) String() string {
	switch n {
	case SpareActive:
		return "SpareActive"
	case NewArray:
		return "NewArray"
	case MoveSpare:
		return "MoveSpare"
	case TestMessage:
		return "TestMessage"
	case RebuildStarted:
		return "RebuildStarted"
	case Rebuild:
		return "Rebuild"
	case RebuildFinished:
		return "RebuildFinished"
	case SparesMissing:
		return "SparesMissing"
	case DeviceDisappeared:
		return "DeviceDisappeared"
	case Fail:
		return "Fail"
	case FailSpare:
		return "FailSpare"
	case DegradedArray:
		return "DegradedArray"
	default:
		return fmt.Sprintf("Name(%d)", int(n))
	}
}

// Priority is the syslog priority a Name is logged at (spec §4.6
// table).
type Priority int

const (
	PriorityInfo Priority = iota
	PriorityWarning
	PriorityCritical
)

// eventTable is spec §4.6's event/priority/mail table, in full.
var eventTable = map[Name]struct {
	priority Priority
	mails    bool
}{
	SpareActive:       {PriorityInfo, false},
	NewArray:          {PriorityInfo, false},
	MoveSpare:         {PriorityInfo, false},
	TestMessage:       {PriorityInfo, true},
	RebuildStarted:    {PriorityWarning, false},
	Rebuild:           {PriorityWarning, false},
	RebuildFinished:   {PriorityWarning, false},
	SparesMissing:     {PriorityWarning, true},
	DeviceDisappeared: {PriorityCritical, true},
	Fail:              {PriorityCritical, true},
	FailSpare:         {PriorityCritical, true},
	DegradedArray:     {PriorityCritical, true},
}

// SyslogPriority looks up n's table priority.
func (n Name) SyslogPriority() Priority { return eventTable[n].priority }

// Mails reports whether n is in the mail set (spec §4.6 table's
// "Mails?" column).
func (n Name) Mails() bool { return eventTable[n].mails }

// Event is one detected occurrence, carrying the fields spec §4.6
// requires: "event name, array device name, optional component device
// name, optional free-form description".
type Event struct {
	Name        Name
	Array       string
	Component   string // "" when not applicable
	Description string // "" when not applicable
}

// SlotState is one member's last-known state, used for diffing.
type SlotState struct {
	Device string
	Failed bool
	Spare  bool
}

// Snapshot is one array's recorded state between two detection passes
// (spec §4.6: "Per array, records: update time, counts {active,
// working, failed, spare, raid}, per-slot state, current resync/
// rebuild percent, name of parent container").
type Snapshot struct {
	Array          string
	Container      string
	Active         int
	Working        int
	Failed         int
	Spare          int
	Raid           int
	Slots          []SlotState
	RebuildPercent int // -1 when no resync/rebuild in progress
	MismatchCount  uint64
}

// RebuildGranularity is the default percent step that fires a Rebuild
// event (spec §4.6: "default every 20%").
const RebuildGranularity = 20

// Detect computes the events that fire transitioning prev -> curr for
// one array, per spec §4.6 "Event detection": "A change in any
// recorded field for an array fires an event." prev with a zero Array
// field means the array was not previously known (NewArray).
func Detect(prev, curr Snapshot, granularity int) []Event {
	if granularity <= 0 {
		granularity = RebuildGranularity
	}

	var events []Event
	if prev.Array == "" {
		events = append(events, Event{Name: NewArray, Array: curr.Array})
	}

	if curr.Failed > prev.Failed {
		events = append(events, Event{Name: Fail, Array: curr.Array, Description: failDescription(prev, curr)})
	}

	if curr.Spare < prev.Spare && curr.Failed > prev.Failed {
		events = append(events, Event{Name: FailSpare, Array: curr.Array})
	}

	if curr.Active < curr.Raid && prev.Active >= prev.Raid {
		events = append(events, Event{Name: DegradedArray, Array: curr.Array})
	}

	if curr.Active < curr.Raid && curr.Spare == 0 && !(prev.Active < prev.Raid && prev.Spare == 0) {
		events = append(events, Event{Name: SparesMissing, Array: curr.Array})
	}

	if curr.Spare > prev.Spare && curr.Failed == prev.Failed {
		events = append(events, Event{Name: SpareActive, Array: curr.Array})
	}

	if prev.RebuildPercent < 0 && curr.RebuildPercent >= 0 {
		events = append(events, Event{Name: RebuildStarted, Array: curr.Array})
	}
	if prev.RebuildPercent >= 0 && curr.RebuildPercent >= 0 {
		if curr.RebuildPercent/granularity > prev.RebuildPercent/granularity {
			events = append(events, Event{Name: Rebuild, Array: curr.Array, Description: fmt.Sprintf("%d%%", curr.RebuildPercent)})
		}
	}
	if prev.RebuildPercent >= 0 && curr.RebuildPercent < 0 {
		desc := ""
		if curr.MismatchCount > 0 {
			desc = fmt.Sprintf("mismatches found: %d", curr.MismatchCount)
		}
		events = append(events, Event{Name: RebuildFinished, Array: curr.Array, Description: desc})
	}

	if removedSlot := findDisappeared(prev.Slots, curr.Slots); removedSlot != "" {
		events = append(events, Event{Name: DeviceDisappeared, Array: curr.Array, Component: removedSlot})
	}

	return events
}

func failDescription(prev, curr Snapshot) string {
	for _, slot := range curr.Slots {
		if slot.Failed {
			for _, p := range prev.Slots {
				if p.Device == slot.Device && !p.Failed {
					return slot.Device
				}
			}
		}
	}
	return ""
}

func findDisappeared(prev, curr []SlotState) string {
	for _, p := range prev {
		found := false
		for _, c := range curr {
			if c.Device == p.Device {
				found = true
				break
			}
		}
		if !found {
			return p.Device
		}
	}
	return ""
}
