// Package mdsuper implements the metadata-handler abstraction of spec
// §4.1: a fixed capability set every on-disk format registers an
// implementation for. Per the Design Notes (§9), dynamic dispatch over
// a function-pointer table is replaced by a closed enumeration of
// format variants (Format) and a capability trait (Handler) matched on
// that enum — there is no plugin discovery, the set of formats is
// fixed at build time. This mirrors the teacher's compound-handler
// shape (pkg/vkern/manager-compound.go dispatches a fixed set of
// sub-managers by kind) and its staged-pipeline style
// (pkg/ext/ext.go's Compiler).
package mdsuper

import (
	"context"

	"github.com/mdcore/mdcore/pkg/imsm"
	"github.com/mdcore/mdcore/pkg/mdblock"
	"github.com/mdcore/mdcore/pkg/mdgeom"
)

// Format is the closed set of metadata formats this engine understands
// (spec §9: "a closed enumeration of format variants"). IMSM is the
// only member today; the type exists so adding a second format is a
// new case, not a new plugin-discovery mechanism.
type Format int

const (
	FormatUnknown Format = iota
	FormatIMSM
)

func (f Format) String() string {
	if f == FormatIMSM {
		return "imsm"
	}
	return "unknown"
}

// MatchByDescriptor resolves a CLI/config metadata tag ("imsm",
// "external:imsm") to a Handler, or ok=false when unrecognised (spec
// §4.1 match_by_descriptor).
func MatchByDescriptor(name string) (Handler, bool) {
	switch name {
	case "imsm", "external:imsm", "IMSM", "default":
		return imsmHandler{}, true
	default:
		return nil, false
	}
}

// UpdateKind is the closed set of update variants the CLI or monitor
// can apply to a Container (spec §4.1 "Update kinds").
type UpdateKind int

const (
	UpdateActivateSpare UpdateKind = iota
	UpdateCreateArray
	UpdateKillArray
	UpdateRenameArray
	UpdateAddRemoveDisk
	UpdateReshapeContainerDisks
	UpdateReshapeMigration
	UpdateTakeover
	UpdateMigrationCheckpoint
	UpdateSizeChange
	UpdatePreallocBadblocksMem
	UpdateRWHPolicy
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateActivateSpare:
		return "activate_spare"
	case UpdateCreateArray:
		return "create_array"
	case UpdateKillArray:
		return "kill_array"
	case UpdateRenameArray:
		return "rename_array"
	case UpdateAddRemoveDisk:
		return "add_remove_disk"
	case UpdateReshapeContainerDisks:
		return "reshape_container_disks"
	case UpdateReshapeMigration:
		return "reshape_migration"
	case UpdateTakeover:
		return "takeover"
	case UpdateMigrationCheckpoint:
		return "migration_checkpoint"
	case UpdateSizeChange:
		return "size_change"
	case UpdatePreallocBadblocksMem:
		return "prealloc_badblocks_mem"
	case UpdateRWHPolicy:
		return "rwh_policy"
	default:
		return "unknown"
	}
}

// Update is one plain-data update record passed from the CLI layer to
// a Handler, or appended to the per-container queue when an
// ArrayMonitor owns the container (spec §4.1, §9 "typed append-only
// queue").
type Update struct {
	Kind        UpdateKind
	VolumeName  string
	NewName     string
	DiskIndex   int32
	Disk        *imsm.Disk
	NewSize     uint64
	RWHPolicy   imsm.WriteHolePolicy
	TakeoverTo  mdgeom.Level
	Checkpoint  *imsm.MigrationRecord
}

// VolumeDescriptor is the lightweight, format-neutral projection of one
// Volume that container_content enumerates (spec §4.1).
type VolumeDescriptor struct {
	Name      string
	Level     mdgeom.Level
	ArraySize uint64
	Members   int
	Migrating bool
}

// Info is the format-neutral projection getinfo_super produces for the
// upper layers (spec §4.1 getinfo_super).
type Info struct {
	ContainerFamilyNum uint64
	Disks              int
	Volumes            []VolumeDescriptor
}

// SpareCriteria is the constraint set a candidate spare must satisfy to
// join a container (spec §4.1 get_spare_criteria).
type SpareCriteria struct {
	MinSizeSectors uint64
	SectorSize     uint32
	Policies       []string
}

// ReshapeProgress reports the outcome of one manage_reshape pass (spec
// §4.1, §4.5).
type ReshapeProgress struct {
	CurrentUnit uint64
	NumUnits    uint64
	Done        bool
}

// Handler is the capability trait every metadata format variant
// implements (spec §4.1). Operations are pure with respect to the
// abstract state unless documented otherwise; store_super is the one
// operation with an explicit durability contract (see pkg/imsm's
// codec.go StoreSuper).
type Handler interface {
	Format() Format

	LoadSuper(ctx context.Context, dev *mdblock.Device) (*imsm.Container, error)
	StoreSuper(ctx context.Context, dev *mdblock.Device, c *imsm.Container) error
	CompareSuper(a, b *imsm.Container) bool

	InitSuper(req CreateRequest) (*imsm.Container, error)
	AddToSuper(c *imsm.Container, d imsm.Disk) error
	WriteInitSuper(ctx context.Context, devs []*mdblock.Device, c *imsm.Container) error
	FreeSuper(c *imsm.Container)

	ContainerContent(c *imsm.Container) []VolumeDescriptor
	ValidateGeometry(req CreateRequest) (FreeSizeResult, error)
	GetInfoSuper(c *imsm.Container) Info

	UpdateSuper(c *imsm.Container, u Update) (changed bool, err error)
	ManageReshape(ctx context.Context, c *imsm.Container, v *imsm.Volume) (ReshapeProgress, error)
	GetSpareCriteria(c *imsm.Container) SpareCriteria

	WriteBitmap(c *imsm.Container, v *imsm.Volume) (*imsm.BitmapSuperblock, error)
	LocateBitmap(c *imsm.Container, v *imsm.Volume) (offsetBytes uint64, ok bool)
}

// CreateRequest bundles validate_geometry/init_super's inputs (spec
// §4.3). Chunk is in KiB; zero means "use the level default".
type CreateRequest struct {
	Name      string
	Level     mdgeom.Level
	Layout    string
	Disks     []*mdblock.Device
	Spares    []*mdblock.Device
	ChunkKiB  uint32
	SizeLimit uint64 // 0 means "use all available space"
	OROMMax   int    // platform-advertised member-count ceiling, 0 if none
}

// FreeSizeResult is validate_geometry's success value: the free size
// (in sectors) the create pipeline may use per member.
type FreeSizeResult struct {
	FreeSectors     uint64
	DataMembers     int
	BlocksPerMember uint64
}
