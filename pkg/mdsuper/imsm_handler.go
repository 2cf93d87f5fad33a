package mdsuper

import (
	"context"
	"fmt"

	"github.com/mdcore/mdcore/pkg/imsm"
	"github.com/mdcore/mdcore/pkg/mdblock"
	"github.com/mdcore/mdcore/pkg/mdextent"
	"github.com/mdcore/mdcore/pkg/mdgeom"
)

// imsmHandler is the Handler implementation for the IMSM format (spec
// §4.2). It holds no state of its own: every method takes the
// Container/Volume it operates on explicitly, per the Design Notes
// (§9) "owning aggregates indexed by small-integer handles" — this
// type is a capability trait, not a state container.
type imsmHandler struct{}

func (imsmHandler) Format() Format { return FormatIMSM }

func (imsmHandler) LoadSuper(ctx context.Context, dev *mdblock.Device) (*imsm.Container, error) {
	c, err := imsm.LoadSuper(dev)
	if err != nil {
		return nil, Wrap(ClassMetadataInvariant, "load_super", err)
	}
	return c, nil
}

func (imsmHandler) StoreSuper(ctx context.Context, dev *mdblock.Device, c *imsm.Container) error {
	if err := imsm.StoreSuper(dev, c); err != nil {
		return Wrap(ClassPermanentIO, "store_super", err)
	}
	return nil
}

// CompareSuper reports "same container" by the identifying subset: the
// family number. Two supers with the same family number but different
// orig_family_num are still the same container (spec §3: a container
// keeps its family_num as its stable identity across reshapes).
func (imsmHandler) CompareSuper(a, b *imsm.Container) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.FamilyNum == b.FamilyNum
}

func (imsmHandler) InitSuper(req CreateRequest) (*imsm.Container, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, Wrap(ClassGeometry, "init_super", err)
	}
	c := &imsm.Container{
		Attributes: imsm.AttrChecksumVerify,
		Generation: 0,
	}
	return c, nil
}

func (imsmHandler) AddToSuper(c *imsm.Container, d imsm.Disk) error {
	for _, existing := range c.Disks {
		if existing.Serial == d.Serial {
			return Errorf(ClassConfig, "add_to_super", "disk with serial %q already present", d.Serial)
		}
	}
	d.Index = int32(len(c.Disks))
	c.Disks = append(c.Disks, d)
	c.Generation++
	return nil
}

func (imsmHandler) WriteInitSuper(ctx context.Context, devs []*mdblock.Device, c *imsm.Container) error {
	for _, dev := range devs {
		if err := imsm.StoreSuper(dev, c); err != nil {
			return Wrap(ClassPermanentIO, "write_init_super", fmt.Errorf("member %s: %w", dev, err))
		}
	}
	return nil
}

func (imsmHandler) FreeSuper(c *imsm.Container) {
	*c = imsm.Container{}
}

func (imsmHandler) ContainerContent(c *imsm.Container) []VolumeDescriptor {
	out := make([]VolumeDescriptor, 0, len(c.Volumes))
	for i := range c.Volumes {
		v := &c.Volumes[i]
		m := v.CurrentMap()
		out = append(out, VolumeDescriptor{
			Name:      v.Name,
			Level:     m.Level,
			ArraySize: v.ArraySize,
			Members:   m.NumMembers(),
			Migrating: v.Migrating,
		})
	}
	return out
}

func validateCreateRequest(req CreateRequest) error {
	if err := imsm.ValidateName(req.Name); err != nil {
		return err
	}
	total := len(req.Disks) + len(req.Spares)
	if err := mdgeom.MinDevicesForLevel(req.Level, total); err != nil {
		return err
	}
	if err := mdgeom.MemberRange(req.Level, len(req.Disks), req.OROMMax); err != nil {
		return err
	}
	if mdgeom.ForbidsSpares(req.Level) && len(req.Spares) > 0 {
		return fmt.Errorf("level %s does not accept spare devices", req.Level)
	}
	if req.ChunkKiB == 0 && mdgeom.ChunkRequired(req.Level) {
		// defaulted by the caller via mdgeom.DefaultChunkKiB; not an error here.
		_ = mdgeom.DefaultChunkKiB
	}
	return nil
}

// ValidateGeometry computes the per-member free size available for
// req, honoring the boundary rule of spec §8: "Creating a volume
// exactly filling the last free extent succeeds; one sector larger
// fails."
func (imsmHandler) ValidateGeometry(req CreateRequest) (FreeSizeResult, error) {
	if err := validateCreateRequest(req); err != nil {
		return FreeSizeResult{}, Wrap(ClassGeometry, "validate_geometry", err)
	}
	dataMembers, err := mdgeom.DataMembers(req.Level, len(req.Disks))
	if err != nil {
		return FreeSizeResult{}, Wrap(ClassGeometry, "validate_geometry", err)
	}

	minSectors := req.Disks[0].TotalSectors
	for _, d := range req.Disks[1:] {
		if d.TotalSectors < minSectors {
			minSectors = d.TotalSectors
		}
	}
	usable := minSectors
	if usable > mdextent.ReservedSectors {
		usable -= mdextent.ReservedSectors
	} else {
		usable = 0
	}

	chunkKiB := req.ChunkKiB
	if chunkKiB == 0 {
		chunkKiB = mdgeom.DefaultChunkKiB
	}
	chunkSectors := uint64(chunkKiB) * 2 // KiB -> 512-byte sectors

	free := usable
	if req.SizeLimit > usable {
		return FreeSizeResult{}, Errorf(ClassGeometry, "validate_geometry", "not enough space for requested volume")
	}
	if req.SizeLimit > 0 {
		free = req.SizeLimit
	}
	free = mdgeom.AlignDown(free, chunkSectors)

	if free == 0 {
		return FreeSizeResult{}, Errorf(ClassGeometry, "validate_geometry", "not enough space for requested volume")
	}

	return FreeSizeResult{
		FreeSectors:     free,
		DataMembers:     dataMembers,
		BlocksPerMember: free,
	}, nil
}

func (imsmHandler) GetInfoSuper(c *imsm.Container) Info {
	return Info{
		ContainerFamilyNum: c.FamilyNum,
		Disks:              len(c.Disks),
		Volumes:            imsmHandler{}.ContainerContent(c),
	}
}

// UpdateSuper applies one Update to c. Per spec §8's idempotence law,
// rename_array/kill_array/rwh_policy applied twice with the same
// payload produce the same observable state (generation still
// increments — that is the visible acknowledgement per Design Notes).
func (h imsmHandler) UpdateSuper(c *imsm.Container, u Update) (bool, error) {
	switch u.Kind {
	case UpdateRenameArray:
		for i := range c.Volumes {
			if c.Volumes[i].Name == u.VolumeName {
				if c.Volumes[i].Name == u.NewName {
					c.Generation++
					return false, nil
				}
				if err := imsm.ValidateName(u.NewName); err != nil {
					return false, Wrap(ClassConfig, "update_super", err)
				}
				c.Volumes[i].Name = u.NewName
				c.Generation++
				return true, nil
			}
		}
		for i := range c.Volumes {
			if c.Volumes[i].Name == u.NewName {
				// Same rename applied again: state already matches.
				c.Generation++
				return false, nil
			}
		}
		return false, Errorf(ClassConfig, "update_super", "no volume named %q", u.VolumeName)

	case UpdateKillArray:
		for i := range c.Volumes {
			if c.Volumes[i].Name == u.VolumeName {
				c.Volumes = append(c.Volumes[:i], c.Volumes[i+1:]...)
				c.Generation++
				return true, nil
			}
		}
		c.Generation++
		return false, nil

	case UpdateRWHPolicy:
		for i := range c.Volumes {
			if c.Volumes[i].Name == u.VolumeName {
				changed := c.Volumes[i].WriteHole != u.RWHPolicy
				c.Volumes[i].WriteHole = u.RWHPolicy
				c.Generation++
				return changed, nil
			}
		}
		return false, Errorf(ClassConfig, "update_super", "no volume named %q", u.VolumeName)

	case UpdateSizeChange:
		for i := range c.Volumes {
			if c.Volumes[i].Name == u.VolumeName {
				if c.Volumes[i].ArraySize == u.NewSize {
					return false, nil // no-op for the current size, spec §8
				}
				c.Volumes[i].ArraySize = u.NewSize
				c.Generation++
				return true, nil
			}
		}
		return false, Errorf(ClassConfig, "update_super", "no volume named %q", u.VolumeName)

	case UpdateAddRemoveDisk:
		if u.Disk == nil {
			return false, Errorf(ClassConfig, "update_super", "add_remove_disk requires a disk")
		}
		if err := h.AddToSuper(c, *u.Disk); err != nil {
			return false, err
		}
		return true, nil

	case UpdatePreallocBadblocksMem:
		// Pure capacity hint; no observable state changes, matching the
		// original's "reserve memory ahead of use" semantics.
		return false, nil

	default:
		return false, Errorf(ClassConfig, "update_super", "update kind %s not implemented", u.Kind)
	}
}

func (imsmHandler) ManageReshape(ctx context.Context, c *imsm.Container, v *imsm.Volume) (ReshapeProgress, error) {
	if !v.Migrating {
		return ReshapeProgress{Done: true}, nil
	}
	return ReshapeProgress{Done: false}, nil
}

func (imsmHandler) GetSpareCriteria(c *imsm.Container) SpareCriteria {
	var minSize uint64
	for _, d := range c.Disks {
		if minSize == 0 || d.TotalBlocks < minSize {
			minSize = d.TotalBlocks
		}
	}
	return SpareCriteria{MinSizeSectors: minSize, SectorSize: mdblock.SectorSize512}
}

func (imsmHandler) WriteBitmap(c *imsm.Container, v *imsm.Volume) (*imsm.BitmapSuperblock, error) {
	m := v.CurrentMap()
	sb := imsm.NewBitmapSuperblock([16]byte{}, uint32(m.BlocksPerStrip()*512), 5, v.ArraySize)
	return sb, nil
}

func (imsmHandler) LocateBitmap(c *imsm.Container, v *imsm.Volume) (uint64, bool) {
	if v.WriteHole != imsm.WriteHoleBitmap {
		return 0, false
	}
	m := v.CurrentMap()
	dataEnd := (m.PBA + m.BlocksPerMember) * 512
	return dataEnd + imsm.HeaderOffsetFromDataEnd, true
}
