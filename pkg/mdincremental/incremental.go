package mdincremental

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/mdcore/mdcore/pkg/imsm"
	"github.com/mdcore/mdcore/pkg/mdblock"
	"github.com/mdcore/mdcore/pkg/mdctl"
	"github.com/mdcore/mdcore/pkg/mdmap"
	"github.com/mdcore/mdcore/pkg/mdsuper"
)

// DeviceFilter matches a device path against configured glob patterns
// (spec §4.4 step 1: "if configuration lists a device filter and D is
// not matched, drop"; the original config's DEVICE lines are
// shell-glob-shaped: `/dev/sd*`, `/dev/disk/by-id/*`).
type DeviceFilter struct {
	globs []glob.Glob
}

// NewDeviceFilter compiles patterns. An empty pattern list matches
// every path (spec: "if configuration lists a device filter").
func NewDeviceFilter(patterns []string) (*DeviceFilter, error) {
	f := &DeviceFilter{}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("mdincremental: compiling device filter %q: %w", p, err)
		}
		f.globs = append(f.globs, g)
	}
	return f, nil
}

// Match reports whether path is admitted.
func (f *DeviceFilter) Match(path string) bool {
	if f == nil || len(f.globs) == 0 {
		return true
	}
	for _, g := range f.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// bareWindow is the size of the end-of-device window the bare-device
// check samples (spec §4.4 step 2).
const bareWindow = 4096

// sentinelBytes are the values a bare device's end-of-device windows
// may uniformly carry (spec §4.4 step 2: "all-0x00, all-0x5A, or
// all-0xFF").
var sentinelBytes = [...]byte{0x00, 0x5A, 0xFF}

// IsBare reports whether dev's first and last bareWindow bytes match
// one of the sentinel fills, meaning it carries no metadata and is a
// spare-migration candidate (spec §4.4 step 2).
func IsBare(dev *mdblock.Device) (bool, error) {
	if dev.SizeBytes() < 2*bareWindow {
		return false, nil
	}
	first := make([]byte, bareWindow)
	if _, err := dev.ReadAt(first, 0); err != nil {
		return false, err
	}
	last := make([]byte, bareWindow)
	if _, err := dev.ReadAt(last, int64(dev.SizeBytes())-bareWindow); err != nil {
		return false, err
	}
	for _, s := range sentinelBytes {
		if allBytes(first, s) && allBytes(last, s) {
			return true, nil
		}
	}
	return false, nil
}

func allBytes(b []byte, v byte) bool {
	for _, x := range b {
		if x != v {
			return false
		}
	}
	return true
}

// Trust is the outcome of identity matching against the local
// home-host (spec §4.4 step 3).
type Trust int

const (
	TrustLocal Trust = iota
	TrustForeign
)

// ResolveTrust compares a super's recorded home-host field to the
// local host (plus the "any" wildcard); a mismatch degrades to
// TrustForeign (spec §4.4 step 3).
func ResolveTrust(superHomeHost, localHost string, policyRequiresMatch bool) Trust {
	if !policyRequiresMatch {
		return TrustLocal
	}
	if superHomeHost == "any" || superHomeHost == localHost {
		return TrustLocal
	}
	return TrustForeign
}

// stripHostPrefix removes a leading "host:" component from an embedded
// array name, as done only when trust is local (spec §4.4 step 4).
func stripHostPrefix(name string) string {
	if i := strings.Index(name, ":"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// AllocateDevNM implements spec §4.4 step 4's device-name allocation:
// an explicit preferred path wins outright; else the embedded name
// (host-prefix-stripped when trust is local), suffixed with "_N" on
// collision; else a free numbered slot under the map lock.
func AllocateDevNM(m *mdmap.Map, preferredPath, embeddedName string, trust Trust, busy mdmap.BusyChecker) (string, error) {
	if preferredPath != "" {
		return preferredPath, nil
	}
	name := embeddedName
	if trust == TrustLocal {
		name = stripHostPrefix(name)
	}
	if name != "" {
		candidate := name
		for n := 1; ; n++ {
			if _, ok := m.ByDevNM(candidate); !ok {
				return candidate, nil
			}
			candidate = fmt.Sprintf("%s_%d", name, n)
		}
	}
	return m.FreeName(busy)
}

// Sentinel errors an mdctl.Controller.AddNewDisk implementation
// returns to signal the two retry branches of spec §4.4 step 6.
var (
	ErrDuplicateDiskNumber = errors.New("mdincremental: EBUSY: duplicate disk number")
	ErrDiskInSync          = errors.New("mdincremental: EINVAL: disk marked in-sync")
)

// RejectOlderFunc implements the reject-older pass: enumerate every
// slot sharing d's disk number, re-read each super, and mark for
// removal any whose event count is strictly less than d's (spec §4.4
// step 6).
type RejectOlderFunc func(ctx context.Context, duplicateNumber int) error

// AddDisk implements spec §4.4 step 6's add-new-disk retry contract.
func AddDisk(ctx context.Context, ctrl mdctl.Controller, d mdctl.DiskInfo, allowForceSpare bool, rejectOlder RejectOlderFunc) error {
	err := ctrl.AddNewDisk(ctx, d)
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrDuplicateDiskNumber):
		if rejectOlder == nil {
			return err
		}
		if rerr := rejectOlder(ctx, d.Number); rerr != nil {
			return fmt.Errorf("mdincremental: reject-older pass: %w", rerr)
		}
		return ctrl.AddNewDisk(ctx, d)
	case errors.Is(err, ErrDiskInSync):
		if !allowForceSpare {
			return err
		}
		cleared := d
		cleared.State &^= imsm.DiskConfigured
		return ctrl.AddNewDisk(ctx, cleared)
	default:
		return err
	}
}

// ContainerCandidate is one container mdincremental considers as a
// spare-migration target for a bare device (spec §4.4 step 9).
type ContainerCandidate struct {
	DevNM        string
	MetadataKind string
	Criteria     mdsuper.SpareCriteria
	FailedCount  int
}

// ChooseSpareTarget picks the most-degraded eligible container for a
// bare device dev, honoring an explicit target hint when it is itself
// eligible (spec §4.4 step 9).
func ChooseSpareTarget(dev *mdblock.Device, candidates []ContainerCandidate, targetHint, policyMetadataKind string) (*ContainerCandidate, bool) {
	eligible := func(c *ContainerCandidate) bool {
		if policyMetadataKind != "" && c.MetadataKind != policyMetadataKind {
			return false
		}
		return dev.TotalSectors >= c.Criteria.MinSizeSectors
	}

	if targetHint != "" {
		for i := range candidates {
			if candidates[i].DevNM == targetHint && eligible(&candidates[i]) {
				return &candidates[i], true
			}
		}
	}

	var best *ContainerCandidate
	for i := range candidates {
		c := &candidates[i]
		if !eligible(c) {
			continue
		}
		if best == nil || c.FailedCount > best.FailedCount {
			best = c
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}
