// Package mdincremental implements steps of the incremental-assembly
// pipeline of spec §4.4: admission filtering, bare-device detection,
// home-host trust and device-name allocation, add-disk with its retry
// passes, the quorum "enough?" decision, and the choice of a spare
// target for bare devices. Loading the superblock, bringing the array
// up and starting it are not done in this package. Staged like the teacher's admission/
// dispatch loop over discovered items (pkg/vconvert/handler.go).
package mdincremental

import "github.com/mdcore/mdcore/pkg/mdgeom"

// Availability is one slot's standing after the quorum pass (spec §4.4
// step 7).
type Availability int

const (
	AvailNone   Availability = iota // not counted: stale by 2+ generations, or pruned
	AvailUsable                     // one generation behind the current max
	AvailFresh                      // at the current max event count
)

// Report is one already-attached member's claim about the state of the
// array, re-read after an add-disk (spec §4.4 step 7's "re-read the
// full member set").
type Report struct {
	Slot        int
	EventCount  uint64
	FailedSlots []int // slots this disk's own bitmap marks as failed
}

// Outcome is the resolved per-slot availability and the final max event
// count seen.
type Outcome struct {
	Avail map[int]Availability
	Max   uint64
}

// ComputeAvailability implements spec §4.4 step 7's event-count
// resolution, literally: the first report seen sets the initial max;
// each subsequent report is classified relative to the running max,
// and a report claiming max+1 bumps max and demotes everyone else by
// one step (preserved as specified, per DESIGN.md's open-question
// decision — not "fixed" to reject the oddity).
func ComputeAvailability(reports []Report) Outcome {
	avail := map[int]Availability{}
	var max uint64
	seen := false

	for _, r := range reports {
		switch {
		case !seen:
			max = r.EventCount
			avail[r.Slot] = AvailFresh
			seen = true

		case r.EventCount == max:
			avail[r.Slot] = AvailFresh

		case r.EventCount+1 == max:
			if avail[r.Slot] != AvailFresh {
				avail[r.Slot] = AvailUsable
			}

		case r.EventCount == max+1:
			max = r.EventCount
			for slot, a := range avail {
				switch a {
				case AvailFresh:
					avail[slot] = AvailUsable
				case AvailUsable:
					avail[slot] = AvailNone
				}
			}
			avail[r.Slot] = AvailFresh

		case r.EventCount > max+1:
			avail = map[int]Availability{r.Slot: AvailFresh}
			max = r.EventCount

		default:
			// Two or more generations behind: not counted.
		}
	}

	pruneCrossWitness(reports, avail)
	return Outcome{Avail: avail, Max: max}
}

// pruneCrossWitness rejects any usable disk that votes a fresh member
// as failed (spec §4.4 step 7 "cross-witness pruning").
func pruneCrossWitness(reports []Report, avail map[int]Availability) {
	for _, r := range reports {
		if avail[r.Slot] != AvailUsable {
			continue
		}
		for _, failed := range r.FailedSlots {
			if avail[failed] == AvailFresh {
				avail[r.Slot] = AvailNone
				break
			}
		}
	}
}

// Enough implements the level-specific `enough()` predicate of spec
// §4.4 step 7: RAID0 needs all raidDisks slots present; RAID1 needs
// one; RAID5 needs raidDisks-1; RAID6 needs raidDisks-2; RAID10 needs
// at least one member of every mirror pair.
func Enough(level mdgeom.Level, raidDisks int, avail map[int]Availability) bool {
	present := func(slot int) bool {
		return avail[slot] == AvailFresh || avail[slot] == AvailUsable
	}
	count := func() int {
		n := 0
		for slot := 0; slot < raidDisks; slot++ {
			if present(slot) {
				n++
			}
		}
		return n
	}

	switch level {
	case mdgeom.Level0:
		return count() == raidDisks
	case mdgeom.Level1:
		return count() >= 1
	case mdgeom.Level5:
		return count() >= raidDisks-1
	case mdgeom.Level6:
		return count() >= raidDisks-2
	case mdgeom.Level10:
		for i := 0; i+1 < raidDisks; i += 2 {
			if !present(i) && !present(i+1) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
