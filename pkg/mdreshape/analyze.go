// Package mdreshape implements the reshape/migration state machine of
// spec §4.5: change analysis, the checkpointed worker loop that drives
// one reshape pass, and crash recovery from the on-disk migration
// record. Modeled after the teacher's in-process build worker
// (pkg/vdisk/build.go drives a multi-step pipeline over one artifact;
// this drives a multi-step pipeline over one container's reshape).
package mdreshape

import (
	"fmt"

	"code.cloudfoundry.org/bytefmt"

	"github.com/mdcore/mdcore/pkg/mdextent"
	"github.com/mdcore/mdcore/pkg/mdgeom"
)

// sectorBytes is the 512-byte logical sector size extents are counted
// in throughout pkg/mdextent.
const sectorBytes = 512

// Kind is the outcome analyze_change resolves a request to.
type Kind int

const (
	KindAbort Kind = iota
	KindTakeover
	KindMigration
	KindSizeChange
)

// Request is one reshape request. Exactly one field group may be set;
// analyze_change rejects anything else as ambiguous (spec §4.5
// "Analysis").
type Request struct {
	NewLevel       mdgeom.Level // zero value (Level0) means "unset" only when LevelSet is false
	LevelSet       bool
	NewChunkBlocks uint64
	ChunkSet       bool
	AddMembers     int // > 0 to grow member count
	GrowSizePer    uint64 // sectors to add per data member
}

func (r Request) fieldsSet() int {
	n := 0
	if r.LevelSet {
		n++
	}
	if r.ChunkSet {
		n++
	}
	if r.AddMembers > 0 {
		n++
	}
	if r.GrowSizePer > 0 {
		n++
	}
	return n
}

// levelTransition describes one entry of the fixed level-transition
// table (spec §4.5 "Level transitions validated against a fixed
// table").
type levelTransition struct {
	kind           Kind
	requiresLayout string // "" when the transition doesn't constrain layout
	memberFactor   int    // members multiplied (>1) or divided (<0, meaning /|memberFactor|) by this transition
}

var levelTransitions = map[[2]mdgeom.Level]levelTransition{
	{mdgeom.Level0, mdgeom.Level5}:  {kind: KindMigration, requiresLayout: "left-asymmetric"},
	{mdgeom.Level0, mdgeom.Level10}: {kind: KindTakeover, memberFactor: 2},
	{mdgeom.Level10, mdgeom.Level0}: {kind: KindTakeover, memberFactor: -2},
	{mdgeom.Level1, mdgeom.Level10}: {kind: KindTakeover},
	{mdgeom.Level10, mdgeom.Level1}: {kind: KindTakeover},
}

// Plan is the resolved outcome of analyze_change: what kind of
// transition this is, and the parameters needed to drive it.
type Plan struct {
	Kind           Kind
	FromLevel      mdgeom.Level
	ToLevel        mdgeom.Level
	RequiredLayout string
	NewMemberCount int
	RequiredFreeSectors uint64 // per data member, for a size-change plan
	AchievableGrow mdextent.FreeRun
}

// AnalyzeChange resolves req against the current volume state. members
// is the member count before the change; memberExtents/diskEnd supply
// the free-space picture for a size-grow request (spec §4.5
// "Free-space computation").
func AnalyzeChange(fromLevel mdgeom.Level, members int, req Request, currentSizePerMember uint64, memberExtents []mdextent.Extent, diskEnd uint64) (Plan, error) {
	if req.fieldsSet() != 1 {
		return Plan{}, fmt.Errorf("mdreshape: ambiguous request: exactly one attribute may change per call, got %d", req.fieldsSet())
	}

	switch {
	case req.LevelSet:
		t, ok := levelTransitions[[2]mdgeom.Level{fromLevel, req.NewLevel}]
		if !ok {
			return Plan{}, fmt.Errorf("mdreshape: unsupported level transition %s -> %s", fromLevel, req.NewLevel)
		}
		newMembers := members
		switch {
		case t.memberFactor > 0:
			newMembers = members * t.memberFactor
		case t.memberFactor < 0:
			newMembers = members / -t.memberFactor
		}
		return Plan{
			Kind:           t.kind,
			FromLevel:      fromLevel,
			ToLevel:        req.NewLevel,
			RequiredLayout: t.requiresLayout,
			NewMemberCount: newMembers,
		}, nil

	case req.ChunkSet:
		if fromLevel == mdgeom.Level10 {
			return Plan{}, fmt.Errorf("mdreshape: chunk size change is forbidden on raid10")
		}
		if currentSizePerMember%req.NewChunkBlocks != 0 {
			return Plan{}, fmt.Errorf("mdreshape: component_size %d is not a multiple of new chunk size %d", currentSizePerMember, req.NewChunkBlocks)
		}
		return Plan{Kind: KindMigration, FromLevel: fromLevel, ToLevel: fromLevel, NewMemberCount: members}, nil

	case req.AddMembers > 0:
		return Plan{
			Kind:           KindMigration,
			FromLevel:      fromLevel,
			ToLevel:        fromLevel,
			NewMemberCount: members + req.AddMembers,
		}, nil

	case req.GrowSizePer > 0:
		runs := mdextent.FreeRuns(memberExtents, diskEnd)
		best := mdextent.LargestFreeRun(runs, 0)
		if best.Size() < req.GrowSizePer {
			return Plan{}, fmt.Errorf("mdreshape: insufficient free space: need %s per member, largest run is %s",
				bytefmt.ByteSize(req.GrowSizePer*sectorBytes), bytefmt.ByteSize(best.Size()*sectorBytes))
		}
		return Plan{
			Kind:                KindSizeChange,
			FromLevel:           fromLevel,
			ToLevel:             fromLevel,
			NewMemberCount:      members,
			RequiredFreeSectors: req.GrowSizePer,
			AchievableGrow:      best,
		}, nil
	}

	return Plan{}, fmt.Errorf("mdreshape: unreachable: no request field set")
}

// InFlight describes a migration already recorded on disk, used to
// decide whether a new request is a legal rollback (spec §4.5
// "Rollback direction").
type InFlight struct {
	FromLevel mdgeom.Level
	ToLevel   mdgeom.Level
	Kind      Kind
}

// CanRollback reports whether req is exactly the inverse of an
// in-flight migration: only plain migrations roll back; takeovers and
// ambiguous/general migrations never do (spec §4.5: "takeovers and
// general migrations are not rollbackable").
func CanRollback(current InFlight, req Request) bool {
	if current.Kind != KindMigration {
		return false
	}
	if !req.LevelSet {
		return false
	}
	return req.NewLevel == current.FromLevel
}

// disksFailedTolerance is the level-specific degradation budget a
// reshape or recovery may tolerate before giving up (spec §4.5
// "Crash recovery": "RAID10: one per mirror pair; RAID5/6: 1/2
// respectively").
func disksFailedTolerance(l mdgeom.Level, members int) int {
	switch l {
	case mdgeom.Level5:
		return 1
	case mdgeom.Level6:
		return 2
	case mdgeom.Level10:
		return members / 2
	default:
		return 0
	}
}
