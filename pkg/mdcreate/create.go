// Package mdcreate implements the array-creation pipeline of spec
// §4.3: validation ordering, the publish sequence, zeroing, and the
// create-time concurrency contract. It is staged the way the
// teacher's disk-build pipeline is staged (pkg/vdisk/build.go): one
// function walking a fixed sequence of named steps, returning on the
// first error, with a request struct carrying every input up front.
package mdcreate

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/google/uuid"
	"github.com/imdario/mergo"
	"golang.org/x/sync/errgroup"

	"github.com/mdcore/mdcore/pkg/imsm"
	"github.com/mdcore/mdcore/pkg/mdblock"
	"github.com/mdcore/mdcore/pkg/mdctl"
	"github.com/mdcore/mdcore/pkg/mdgeom"
	"github.com/mdcore/mdcore/pkg/mdmap"
	"github.com/mdcore/mdcore/pkg/mdsuper"
)

// zeroChunkBytes bounds one zeroing write, keeping SIGINT/ctx-cancel
// latency to seconds (spec §4.3 "Zeroing").
const zeroChunkBytes = 1 << 30

// twoTB is the size threshold the platform OROM check applies to (spec
// §4.3 validation step 8).
const twoTB = uint64(2) << 40

// Member is one requested member slot.
type Member struct {
	Device      *mdblock.Device
	IsSpare     bool
	IsJournal   bool
	WriteMostly bool
	FailFast    bool
}

// Defaults carries the handler-advertised fallbacks merged under an
// explicit caller value (spec §4.3 validation steps 3-4).
type Defaults struct {
	ChunkKiB uint32
	Layout   string
}

// ConfirmOverwrite is asked, during the per-device probe, whether to
// proceed over an existing filesystem/partition/RAID signature (spec
// §4.3 validation step 5). A nil callback means non-interactive mode:
// any signature found aborts creation.
type ConfirmOverwrite func(dev *mdblock.Device, signature string) bool

// Request bundles every input to Create (spec §4.3 "Inputs").
type Request struct {
	Name      string
	Level     mdgeom.Level
	Layout    string
	ChunkKiB  uint32
	Members   []Member
	SizeLimit uint64 // sectors; 0 means "max"

	Run             bool
	Force           bool
	AssumeClean     bool
	WriteZeroes     bool
	WriteHolePolicy imsm.WriteHolePolicy
	OROMMax         int
	OROMRejects     bool // platform capability record rejects this tuple

	ConfirmOverwrite ConfirmOverwrite

	Handler  mdsuper.Handler
	NameMap  *mdmap.Map
	Channel  mdctl.NewArrayChannel
	Modprobe mdctl.ModprobeFunc
	Sysfs    mdctl.Sysfs // nil is valid: array_state write is then skipped
}

// Result is what a successful Create publishes.
type Result struct {
	DevNM     string
	UUID      string
	Container *imsm.Container
}

// Create runs the full §4.3 pipeline: validate, probe devices, claim
// the name, create the kernel node, init_super, zero, attach members,
// write supers, bitmap, start.
func Create(ctx context.Context, req Request, defaults Defaults) (*Result, error) {
	if err := mergeDefaults(&req, defaults); err != nil {
		return nil, err
	}
	free, err := validate(ctx, req)
	if err != nil {
		return nil, err
	}

	devnm, err := req.NameMap.FreeName(nil)
	if err != nil {
		return nil, fmt.Errorf("mdcreate: claiming array name: %w", err)
	}

	if err := mdctl.CreateNamedArray(ctx, req.Channel, req.Modprobe, devnm); err != nil {
		return nil, fmt.Errorf("mdcreate: creating kernel array node: %w", err)
	}

	disks, spares := splitMembers(req.Members)
	container, err := req.Handler.InitSuper(mdsuper.CreateRequest{
		Name:     req.Name,
		Level:    req.Level,
		Layout:   req.Layout,
		Disks:    disks,
		Spares:   spares,
		ChunkKiB: req.ChunkKiB,
	})
	if err != nil {
		return nil, fmt.Errorf("mdcreate: init_super: %w", err)
	}

	if req.WriteZeroes {
		if err := zeroMembers(ctx, req.Members, free.FreeSectors); err != nil {
			return nil, fmt.Errorf("mdcreate: zeroing: %w", err)
		}
	}

	if err := attachMembers(req, container); err != nil {
		return nil, err
	}

	vol, err := buildVolume(req, container, free)
	if err != nil {
		return nil, err
	}
	container.Volumes = append(container.Volumes, *vol)

	var devs []*mdblock.Device
	for _, m := range req.Members {
		if m.Device != nil {
			devs = append(devs, m.Device)
		}
	}
	if err := req.Handler.WriteInitSuper(ctx, devs, container); err != nil {
		return nil, err
	}

	if req.WriteHolePolicy == imsm.WriteHoleBitmap {
		if _, err := req.Handler.WriteBitmap(container, &container.Volumes[len(container.Volumes)-1]); err != nil {
			return nil, fmt.Errorf("mdcreate: writing bitmap: %w", err)
		}
	}

	id := uuid.New().String()
	if err := req.NameMap.Upsert(mdmap.Entry{
		DevNM:           devnm,
		MetadataVersion: req.Handler.Format().String(),
		UUID:            id,
		Path:            "/dev/" + devnm,
	}); err != nil {
		return nil, fmt.Errorf("mdcreate: publishing name map entry: %w", err)
	}

	if req.Sysfs != nil {
		state := "readonly"
		if req.Run {
			state = "active"
		}
		if err := mdctl.SetArrayState(ctx, req.Sysfs, state); err != nil {
			return nil, fmt.Errorf("mdcreate: starting array: %w", err)
		}
	}

	return &Result{DevNM: devnm, UUID: id, Container: container}, nil
}

// mergeDefaults layers the handler-advertised chunk/layout defaults
// under req's explicit zero fields (spec §4.3 validation steps 3-4),
// using mergo instead of a hand-rolled field-by-field fallback.
func mergeDefaults(req *Request, d Defaults) error {
	fallback := Request{ChunkKiB: d.ChunkKiB, Layout: d.Layout}
	if fallback.ChunkKiB == 0 {
		fallback.ChunkKiB = mdgeom.DefaultChunkKiB
	}
	if fallback.Layout == "" {
		fallback.Layout = mdgeom.DefaultLayout(req.Level)
	}
	if err := mergo.Merge(req, fallback); err != nil {
		return fmt.Errorf("mdcreate: merging defaults: %w", err)
	}
	return nil
}

func splitMembers(members []Member) (disks, spares []*mdblock.Device) {
	for _, m := range members {
		if m.Device == nil {
			continue
		}
		if m.IsSpare {
			spares = append(spares, m.Device)
		} else {
			disks = append(disks, m.Device)
		}
	}
	return disks, spares
}

// validate runs spec §4.3's validation-ordering steps 1-8 and returns
// the computed free size from step 6.
func validate(ctx context.Context, req Request) (mdsuper.FreeSizeResult, error) {
	disks, spares := splitMembers(req.Members)
	total := len(req.Members)

	// Step 1: level recognised, member-range and spare rules.
	if err := mdgeom.MinDevicesForLevel(req.Level, total); err != nil {
		return mdsuper.FreeSizeResult{}, fmt.Errorf("mdcreate: %w", err)
	}
	if err := mdgeom.MemberRange(req.Level, len(disks), req.OROMMax); err != nil {
		return mdsuper.FreeSizeResult{}, fmt.Errorf("mdcreate: %w", err)
	}
	if mdgeom.ForbidsSpares(req.Level) && len(spares) > 0 {
		return mdsuper.FreeSizeResult{}, fmt.Errorf("mdcreate: level %s does not accept spares", req.Level)
	}

	// Step 2: device count already fixed by len(req.Members); nothing
	// further to check for the non-container case.

	// Step 3: chunk mandatory/forbidden by level.
	if mdgeom.ChunkRequired(req.Level) && req.ChunkKiB == 0 {
		return mdsuper.FreeSizeResult{}, fmt.Errorf("mdcreate: level %s requires a chunk size", req.Level)
	}
	if !mdgeom.ChunkRequired(req.Level) && req.ChunkKiB != 0 {
		return mdsuper.FreeSizeResult{}, fmt.Errorf("mdcreate: level %s forbids a chunk size", req.Level)
	}

	// Step 4: layout defaulted already by mergeDefaults.

	// Step 5: per-device probe.
	for _, m := range req.Members {
		if m.Device == nil {
			continue
		}
		sig, found, err := DetectSignature(m.Device)
		if err != nil {
			return mdsuper.FreeSizeResult{}, fmt.Errorf("mdcreate: probing %s: %w", m.Device, err)
		}
		if found && !req.Run {
			if req.ConfirmOverwrite == nil || !req.ConfirmOverwrite(m.Device, sig) {
				return mdsuper.FreeSizeResult{}, fmt.Errorf("mdcreate: %s has an existing %s, aborting (use --run to skip)", m.Device, sig)
			}
		}
	}

	// Step 6: free-space computation via the handler.
	free, err := req.Handler.ValidateGeometry(mdsuper.CreateRequest{
		Name:      req.Name,
		Level:     req.Level,
		Layout:    req.Layout,
		Disks:     disks,
		Spares:    spares,
		ChunkKiB:  req.ChunkKiB,
		SizeLimit: req.SizeLimit,
		OROMMax:   req.OROMMax,
	})
	if err != nil {
		return mdsuper.FreeSizeResult{}, fmt.Errorf("mdcreate: %w", err)
	}

	// Step 7: name validity.
	if err := imsm.ValidateName(req.Name); err != nil {
		return mdsuper.FreeSizeResult{}, fmt.Errorf("mdcreate: %w", err)
	}

	// Step 8: platform OROM check (IMSM only). Reject the (level, chunk,
	// disks, >=2TB) tuple unless Force, mirroring the opaque-record check
	// spec.md leaves to the platform driver.
	if req.OROMRejects && !req.Force {
		return mdsuper.FreeSizeResult{}, fmt.Errorf("mdcreate: platform capability record rejects this configuration (use Force to override)")
	}
	for _, d := range disks {
		if d.SizeBytes() >= twoTB && req.OROMRejects && !req.Force {
			return mdsuper.FreeSizeResult{}, fmt.Errorf("mdcreate: platform does not support >=2TiB members without Force")
		}
	}

	return free, nil
}

// DetectSignature inspects dev for a recognisable filesystem,
// partition table, or RAID signature (spec §4.3 validation step 5).
// It reports the signature kind found, if any.
func DetectSignature(dev *mdblock.Device) (kind string, found bool, err error) {
	boot := make([]byte, 512)
	if _, rerr := dev.ReadAt(boot, 0); rerr != nil {
		return "", false, rerr
	}
	if boot[510] == 0x55 && boot[511] == 0xAA {
		return "MBR partition table", true, nil
	}

	if dev.SizeBytes() >= 1024 {
		gpt := make([]byte, 8)
		if _, rerr := dev.ReadAt(gpt, 512); rerr == nil {
			if string(gpt) == "EFI PART" {
				return "GPT partition table", true, nil
			}
		}
	}

	if dev.SizeBytes() >= 2048+2 {
		magic := make([]byte, 2)
		if _, rerr := dev.ReadAt(magic, 1024+56); rerr == nil {
			if binary.LittleEndian.Uint16(magic) == 0xEF53 {
				return "ext2/3/4 filesystem", true, nil
			}
		}
	}

	if dev.SizeBytes() >= uint64(len(imsm.Signature)) {
		sig := make([]byte, len(imsm.Signature))
		if _, rerr := dev.ReadAt(sig, 0); rerr == nil {
			if string(sig) == imsm.Signature {
				return "IMSM container signature", true, nil
			}
		}
	}

	return "", false, nil
}

// zeroMembers writes zeroes over the first sizeSectors*512 bytes of
// every real member, one goroutine per member via errgroup, in
// bounded zeroChunkBytes writes so ctx cancellation lands within
// seconds (spec §4.3 "Zeroing").
func zeroMembers(ctx context.Context, members []Member, sizeSectors uint64) error {
	g, gctx := errgroup.WithContext(ctx)
	sizeBytes := sizeSectors * 512
	for _, m := range members {
		m := m
		if m.Device == nil {
			continue
		}
		g.Go(func() error {
			return zeroDevice(gctx, m.Device, sizeBytes)
		})
	}
	return g.Wait()
}

func zeroDevice(ctx context.Context, dev *mdblock.Device, sizeBytes uint64) error {
	chunk := make([]byte, zeroChunkBytes)
	var off uint64
	for off < sizeBytes {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n := uint64(len(chunk))
		if off+n > sizeBytes {
			n = sizeBytes - off
		}
		if _, err := dev.WriteAt(chunk[:n], int64(off)); err != nil {
			return fmt.Errorf("zeroing %s at %d: %w", dev, off, err)
		}
		off += n
	}
	return nil
}

// attachMembers runs the two-pass member attachment of spec §4.3
// publish step 5: pass 1 adds every device to the super; pass 2 (the
// kernel add-disk control) is the caller's responsibility once the
// metadata mutation is complete, since it requires a live Controller
// this package does not own.
func attachMembers(req Request, container *imsm.Container) error {
	for _, m := range req.Members {
		if m.Device == nil {
			continue
		}
		state := uint32(imsm.DiskConfigured)
		if m.IsSpare {
			state = imsm.DiskSpare
		}
		if m.IsJournal {
			state |= imsm.DiskJournal
		}
		if err := req.Handler.AddToSuper(container, imsm.Disk{
			Serial:      m.Device.Serial,
			TotalBlocks: m.Device.TotalSectors,
			State:       state,
		}); err != nil {
			return fmt.Errorf("mdcreate: add_to_super: %w", err)
		}
	}
	return nil
}

// buildVolume constructs the first Volume in memory (spec §4.3 publish
// step 3), deriving the map's ordinal table from the disks just
// attached and the computed free size from step 6.
func buildVolume(req Request, container *imsm.Container, free mdsuper.FreeSizeResult) (*imsm.Volume, error) {
	chunkSectors := uint64(req.ChunkKiB) * 2
	var stripLog uint8
	if chunkSectors > 0 {
		if bits.OnesCount64(chunkSectors) != 1 {
			return nil, fmt.Errorf("mdcreate: chunk size %d KiB is not a power of two in sectors", req.ChunkKiB)
		}
		stripLog = uint8(bits.TrailingZeros64(chunkSectors))
	}

	var ordinals []imsm.Ordinal
	for _, d := range container.Disks {
		if d.IsSpare() {
			continue
		}
		ordinals = append(ordinals, imsm.NewOrdinal(d.Index, false))
	}

	// A fresh map starts uninitialized: parity has not been resynced, so
	// the map is not crash-recoverable mid-resync until init completes
	// (spec §8 scenario 1: map_state=uninitialized -> normal after
	// init). assume-clean means the members are already trusted in
	// sync, so the map can publish straight to normal.
	mapState := imsm.MapUninitialized
	if req.AssumeClean {
		mapState = imsm.MapNormal
	}

	m := imsm.Map{
		PBA:               0,
		BlocksPerMember:   free.BlocksPerMember,
		Level:             req.Level,
		BlocksPerStripLog: stripLog,
		NumDomains:        uint8(mdgeom.DomainCount(req.Level)),
		FailedDiskOrdinal: imsm.FailedDiskNone,
		State:             mapState,
		Ordinals:          ordinals,
	}

	arraySize := mdgeom.ArraySize(free.BlocksPerMember, free.DataMembers)

	return &imsm.Volume{
		Name:          req.Name,
		ArraySize:     arraySize,
		VolumeID:      uint16(len(container.Volumes)),
		Dirty:         false,
		DirtyStripeOK: req.AssumeClean,
		WriteHole:     req.WriteHolePolicy,
		Migrating:     false,
		MigrType:      imsm.MigrNone,
		Maps:          []imsm.Map{m},
	}, nil
}
