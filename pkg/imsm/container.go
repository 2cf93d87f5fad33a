package imsm

import "github.com/mdcore/mdcore/pkg/mdgeom"

// Container is the in-memory aggregate for one IMSM container (spec §3
// "Container"). Per the Design Notes (§9), this replaces the original's
// pointer-graph handler state with owning arenas indexed by small
// integer handles: Disks and Volumes are slices, and every reference
// into them (Map ordinal tables, a Volume's member set) is a plain
// index rather than a pointer.
type Container struct {
	FamilyNum     uint64
	OrigFamilyNum uint64
	Generation    uint32
	Attributes    uint32

	Disks   []Disk   // arena; index == Disk.Index when present and configured
	Volumes []Volume

	BadBlocks Log
}

// Disk is the in-memory form of one Container member (spec §3 "Disk").
type Disk struct {
	Index       int32 // stable ordinal into Container.Disks, or IndexSpare/IndexMissing
	Serial      string
	TotalBlocks uint64
	State       uint32
	SCSIID      uint32
	Encryption  *EncryptionDescriptor
}

func (d *Disk) IsSpare() bool      { return d.State&DiskSpare != 0 }
func (d *Disk) IsConfigured() bool { return d.State&DiskConfigured != 0 }
func (d *Disk) IsFailed() bool     { return d.State&DiskFailed != 0 }
func (d *Disk) IsJournal() bool    { return d.State&DiskJournal != 0 }
func (d *Disk) IsUsable() bool     { return d.Index >= 0 && !d.IsFailed() }

// Map is the in-memory form of one Volume geometry snapshot (spec §3
// "Map").
type Map struct {
	PBA               uint64
	BlocksPerMember   uint64
	Level             mdgeom.Level
	BlocksPerStripLog uint8
	NumDomains        uint8
	FailedDiskOrdinal int8 // FailedDiskNone when none
	State             MapState
	Ordinals          []Ordinal // slot index -> Ordinal(disk index, needs-rebuild flag)
}

func (m *Map) NumMembers() int            { return len(m.Ordinals) }
func (m *Map) BlocksPerStrip() uint64     { return uint64(1) << m.BlocksPerStripLog }
func (m *Map) DataMembers() (int, error)  { return mdgeom.DataMembers(m.Level, m.NumMembers()) }

// Volume is the in-memory form of one RAID array inside a Container
// (spec §3 "Volume").
type Volume struct {
	Name            string
	ArraySize       uint64
	VolumeID        uint16
	Dirty           bool
	DirtyStripeOK   bool
	WriteHole       WriteHolePolicy
	Migrating       bool
	MigrType        MigrType
	Maps            []Map // len 1 normally, len 2 while migrating (spec §3 invariant)
}

// CurrentMap returns the active (destination, when migrating) map.
func (v *Volume) CurrentMap() *Map { return &v.Maps[0] }

// PriorMap returns the pre-migration map, or nil when not migrating.
func (v *Volume) PriorMap() *Map {
	if len(v.Maps) < 2 {
		return nil
	}
	return &v.Maps[1]
}

// DiskByIndex looks up a Disk by its stable container-arena index.
func (c *Container) DiskByIndex(idx int32) *Disk {
	for i := range c.Disks {
		if c.Disks[i].Index == idx {
			return &c.Disks[i]
		}
	}
	return nil
}

// MemberDisks resolves a Map's ordinal table into Disk pointers, in slot
// order; a slot whose ordinal has no matching Disk yields nil (a missing
// member, spec §3 "Entity lifecycle").
func (c *Container) MemberDisks(m *Map) []*Disk {
	out := make([]*Disk, len(m.Ordinals))
	for i, ord := range m.Ordinals {
		out[i] = c.DiskByIndex(ord.DiskIndex())
	}
	return out
}
