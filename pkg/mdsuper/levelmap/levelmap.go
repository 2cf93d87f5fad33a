// Package levelmap ports the name/number lookup tables from
// original_source/maps.c (r5layout, r6layout, pers, consistency_policies)
// into typed Go tables: level names, layout algorithm names, and
// consistency-policy names, each searchable by name or by number.
package levelmap

import "github.com/mdcore/mdcore/pkg/mdgeom"

// entry is one (name, number) pair, mirroring maps.c's mapping_t.
type entry struct {
	name string
	num  int
}

// table is a small ordered list searched linearly both ways, exactly as
// map_num/map_name do in maps.c; these tables are a handful of entries,
// so there is no reason to pay for a map[string]int's hashing overhead.
type table []entry

func (t table) byNum(num int) (string, bool) {
	for _, e := range t {
		if e.num == num {
			return e.name, true
		}
	}
	return "", false
}

func (t table) byName(name string) (int, bool) {
	for _, e := range t {
		if e.name == name {
			return e.num, true
		}
	}
	return 0, false
}

// Levels is the pers[] table from maps.c, restricted to the levels this
// engine supports (spec §3 Map.level): raid0/1/5/6/10 plus their numeric
// aliases.
var Levels = table{
	{"raid0", int(mdgeom.Level0)}, {"0", int(mdgeom.Level0)}, {"stripe", int(mdgeom.Level0)},
	{"raid1", int(mdgeom.Level1)}, {"1", int(mdgeom.Level1)}, {"mirror", int(mdgeom.Level1)},
	{"raid5", int(mdgeom.Level5)}, {"5", int(mdgeom.Level5)},
	{"raid6", int(mdgeom.Level6)}, {"6", int(mdgeom.Level6)},
	{"raid10", int(mdgeom.Level10)}, {"10", int(mdgeom.Level10)},
}

// LevelName returns the canonical "raidN" spelling for l.
func LevelName(l mdgeom.Level) string {
	switch l {
	case mdgeom.Level0:
		return "raid0"
	case mdgeom.Level1:
		return "raid1"
	case mdgeom.Level5:
		return "raid5"
	case mdgeom.Level6:
		return "raid6"
	case mdgeom.Level10:
		return "raid10"
	default:
		return ""
	}
}

// LevelByName resolves a user-typed level string (any of pers[]'s
// spellings for this engine's supported levels) to an mdgeom.Level.
func LevelByName(name string) (mdgeom.Level, bool) {
	n, ok := Levels.byName(name)
	if !ok {
		return 0, false
	}
	return mdgeom.Level(n), true
}

// R5Layout is maps.c's r5layout[]: RAID5 layout algorithm names.
var R5Layout = table{
	{"left-asymmetric", 0}, {"right-asymmetric", 1},
	{"left-symmetric", 2}, {"right-symmetric", 3},
	{"default", 2}, {"la", 0}, {"ra", 1}, {"ls", 2}, {"rs", 3},
	{"parity-first", 4}, {"parity-last", 5},
}

// R6Layout is maps.c's r6layout[]: RAID6 layout algorithm names,
// including the RAID5-compatible rotating-parity aliases.
var R6Layout = table{
	{"left-asymmetric", 0}, {"right-asymmetric", 1},
	{"left-symmetric", 2}, {"right-symmetric", 3},
	{"default", 2}, {"la", 0}, {"ra", 1}, {"ls", 2}, {"rs", 3},
	{"parity-first", 4}, {"parity-last", 5},
	{"left-asymmetric-6", 10}, {"right-asymmetric-6", 11},
	{"left-symmetric-6", 12}, {"right-symmetric-6", 13}, {"parity-first-6", 14},
}

// LayoutTableFor returns the layout name table appropriate for l, or nil
// when l takes no layout algorithm (raid0/raid1/raid10 have their own
// distinct layout mnemonics, handled separately by mdgeom.DefaultLayout).
func LayoutTableFor(l mdgeom.Level) table {
	switch l {
	case mdgeom.Level5:
		return R5Layout
	case mdgeom.Level6:
		return R6Layout
	default:
		return nil
	}
}

// LayoutName looks up num in the layout table for level l.
func LayoutName(l mdgeom.Level, num int) (string, bool) {
	t := LayoutTableFor(l)
	if t == nil {
		return "", false
	}
	return t.byNum(num)
}

// LayoutByName looks up name in the layout table for level l.
func LayoutByName(l mdgeom.Level, name string) (int, bool) {
	t := LayoutTableFor(l)
	if t == nil {
		return 0, false
	}
	return t.byName(name)
}

// ConsistencyPolicy mirrors maps.c's consistency_policies[] keys: the
// write-hole handling strategy reported for a Volume (spec §3 Volume,
// §4.2 write_hole_policy).
type ConsistencyPolicy int

const (
	ConsistencyUnknown ConsistencyPolicy = iota
	ConsistencyNone
	ConsistencyResync
	ConsistencyBitmap
	ConsistencyJournal
	ConsistencyPPL
)

var consistencyPolicies = table{
	{"unknown", int(ConsistencyUnknown)},
	{"none", int(ConsistencyNone)},
	{"resync", int(ConsistencyResync)},
	{"bitmap", int(ConsistencyBitmap)},
	{"journal", int(ConsistencyJournal)},
	{"ppl", int(ConsistencyPPL)},
}

// ConsistencyPolicyName returns the printable name for p.
func ConsistencyPolicyName(p ConsistencyPolicy) string {
	name, ok := consistencyPolicies.byNum(int(p))
	if !ok {
		return "unknown"
	}
	return name
}

// ConsistencyPolicyByName resolves a printable name back to a
// ConsistencyPolicy, defaulting to ConsistencyUnknown when unrecognised
// (matching maps.c's sentinel-on-miss convention).
func ConsistencyPolicyByName(name string) ConsistencyPolicy {
	n, ok := consistencyPolicies.byName(name)
	if !ok {
		return ConsistencyUnknown
	}
	return ConsistencyPolicy(n)
}
