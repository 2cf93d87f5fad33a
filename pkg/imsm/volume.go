package imsm

import (
	"fmt"
	"regexp"

	"github.com/mdcore/mdcore/pkg/mdgeom"
)

// MaxNameBytes bounds a volume's printable name (spec §3, "MD_NAME_MAX").
const MaxNameBytes = 16

// WriteHolePolicy enumerates the consistency policies for partial-write
// recovery (spec §3 "Volume").
type WriteHolePolicy uint8

const (
	WriteHoleOff WriteHolePolicy = iota
	WriteHolePPLDistributed
	WriteHoleJournalingDrive
	WriteHoleMultiplePPLDistributed
	WriteHoleMultiplePPLOnJournal
	WriteHoleBitmap
	WriteHoleOffMultiple
)

// Volume status flags (spec §3: "clean/dirty, whether a dirty-stripe
// record is valid").
const (
	VolumeDirty            uint8 = 1 << 0
	VolumeDirtyStripeValid uint8 = 1 << 1
)

// MapState enumerates a Map's state (spec §3 "Map").
type MapState uint8

const (
	MapUninitialized MapState = iota
	MapNormal
	MapDegraded
	MapFailed
)

// FailedDiskNone is the sentinel failed-disk ordinal meaning "none"
// (spec §3 "Map").
const FailedDiskNone = -1

// MigrType enumerates the kinds of migration a Volume with two Maps can
// be undergoing (spec §4.5).
type MigrType uint8

const (
	MigrNone MigrType = iota
	MigrGenMigr
	MigrRebuild
	MigrInit
	MigrVerify
	MigrRepair
	MigrStateChange
)

// VolumeRecordFixed is the fixed-size prefix of a volume record (spec
// §4.2 "Volume record size": sizeof(volume) = fixed + sizeof(map[0]),
// +sizeof(map[1]) when migrating).
type VolumeRecordFixed struct {
	Name            [MaxNameBytes]byte
	ArraySizeLo     uint32
	ArraySizeHi     uint32
	VolumeID        uint16
	Status          uint8
	WriteHolePolicy uint8
	MigrState       uint8
	MigrType        uint8
	_               [2]byte
}

const VolumeRecordFixedSize = MaxNameBytes + 4*2 + 2 + 1*4 + 2

// NameString returns the NUL-trimmed printable name.
func (v *VolumeRecordFixed) NameString() string {
	s := string(v.Name[:])
	for i, b := range v.Name {
		if b == 0 {
			s = string(v.Name[:i])
			break
		}
	}
	return s
}

// ArraySize combines the split 64-bit array size, in 512-byte sectors.
func (v *VolumeRecordFixed) ArraySize() uint64 {
	return uint64(v.ArraySizeLo) | uint64(v.ArraySizeHi)<<32
}

// SetArraySize splits a 64-bit array size into its two halves.
func (v *VolumeRecordFixed) SetArraySize(s uint64) {
	v.ArraySizeLo = uint32(s)
	v.ArraySizeHi = uint32(s >> 32)
}

// portableName matches the POSIX-portable filename character class
// mdadm requires for array names (spec §3, §4.3 validation step 7).
var portableName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateName enforces spec §3's Volume.name rule: non-empty, <=16
// bytes, POSIX-portable charset, no leading dot.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("imsm: volume name must not be empty")
	}
	if len(name) > MaxNameBytes {
		return fmt.Errorf("imsm: volume name %q exceeds %d bytes", name, MaxNameBytes)
	}
	if name[0] == '.' {
		return fmt.Errorf("imsm: volume name %q must not start with a dot", name)
	}
	if !portableName.MatchString(name) {
		return fmt.Errorf("imsm: volume name %q is not POSIX-portable", name)
	}
	return nil
}

// MapRecordFixed is the fixed-size prefix of a Map (spec §3 "Map"); the
// ordinal table (one uint32 per member) follows.
type MapRecordFixed struct {
	PBALo            uint32
	PBAHi            uint32
	BlocksPerMemberLo uint32
	BlocksPerMemberHi uint32
	RaidLevel        uint8
	BlocksPerStripLog uint8 // log2(blocks per strip)
	NumMembers       uint8
	NumDomains       uint8
	FailedDiskOrdinal int8
	MapState         uint8
	_                [2]byte
}

const MapRecordFixedSize = 4*4 + 1*6 + 2

// FixedMapSizeFor returns sizeof(map) for a given member count:
// MapRecordFixed holds no ordinal slot of its own, so the ordinal table
// adds numMembers*4 bytes.
func FixedMapSizeFor(numMembers int) int {
	return MapRecordFixedSize + numMembers*4
}

// PBA combines the split starting LBA.
func (m *MapRecordFixed) PBA() uint64 { return uint64(m.PBALo) | uint64(m.PBAHi)<<32 }

// SetPBA splits a 64-bit starting LBA into halves.
func (m *MapRecordFixed) SetPBA(v uint64) {
	m.PBALo = uint32(v)
	m.PBAHi = uint32(v >> 32)
}

// BlocksPerMember combines the split per-member block count.
func (m *MapRecordFixed) BlocksPerMember() uint64 {
	return uint64(m.BlocksPerMemberLo) | uint64(m.BlocksPerMemberHi)<<32
}

// SetBlocksPerMember splits a 64-bit per-member block count into halves.
func (m *MapRecordFixed) SetBlocksPerMember(v uint64) {
	m.BlocksPerMemberLo = uint32(v)
	m.BlocksPerMemberHi = uint32(v >> 32)
}

// BlocksPerStrip decodes the log2-encoded strip size into blocks.
func (m *MapRecordFixed) BlocksPerStrip() uint64 {
	return uint64(1) << m.BlocksPerStripLog
}

// Level converts the on-disk raid_level byte into an mdgeom.Level,
// applying the read-side RAID10-as-RAID1 reinterpretation from spec
// §4.2 "Level encoding": readers must reinterpret (level==1,
// members==4) as level 10, and similarly for the 2-member mirror
// boundary. This is read-side only; writes always use the new
// encoding (preserved literally per spec §9's open question about the
// UEFI-compatibility condition — we apply it unconditionally on read,
// never on write, matching "do not alter write-side encoding unless the
// member count crosses the boundary").
func (m *MapRecordFixed) Level() mdgeom.Level {
	lvl := mdgeom.Level(m.RaidLevel)
	if lvl == mdgeom.Level1 && m.NumMembers == 4 {
		return mdgeom.Level10
	}
	return lvl
}

// EncodeLevel sets the on-disk raid_level byte, always using the
// current (non-compat) encoding.
func (m *MapRecordFixed) EncodeLevel(l mdgeom.Level) {
	m.RaidLevel = uint8(l)
}

// Ordinal is one entry of a Map's ordinal table: slot index -> Container
// Disk index, with a high-bit "needs rebuild" flag (spec §3 "Map").
type Ordinal uint32

const needsRebuildBit = uint32(1) << 31

func (o Ordinal) DiskIndex() int32     { return int32(uint32(o) &^ needsRebuildBit) }
func (o Ordinal) NeedsRebuild() bool   { return uint32(o)&needsRebuildBit != 0 }
func NewOrdinal(diskIndex int32, needsRebuild bool) Ordinal {
	v := uint32(diskIndex)
	if needsRebuild {
		v |= needsRebuildBit
	}
	return Ordinal(v)
}
