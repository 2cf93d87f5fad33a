// Package mdblock models the BlockDevice handle described in spec §3: a
// raw block device identified by a kernel major/minor pair, optionally
// named in the device directory, carrying a trimmed serial number, a
// total sector count and a reported logical sector size.
package mdblock

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Sector sizes the kernel may report for a device's logical block size.
const (
	SectorSize512 = 512
	SectorSize4K  = 4096
)

// Errors surfaced by Device's IO wrapper when the underlying handle
// doesn't support the requested operation.
var (
	ErrNoRead  = errors.New("block device does not support reading")
	ErrNoWrite = errors.New("block device does not support writing")
)

// Device is a handle to a raw block device, real or simulated.
type Device struct {
	Major, Minor int
	Name         string // path in the device directory, e.g. "/dev/sda", or "" if none
	Serial       string
	TotalSectors uint64
	SectorSize   uint32 // 512 or 4096

	rw io.ReadWriteSeeker
}

// New wraps an already-open device handle. rw may be nil for a Device
// used only to carry identity metadata (e.g. a "missing" slot).
func New(major, minor int, name, serial string, totalSectors uint64, sectorSize uint32, rw io.ReadWriteSeeker) (*Device, error) {
	if sectorSize != SectorSize512 && sectorSize != SectorSize4K {
		return nil, fmt.Errorf("unsupported logical sector size: %d", sectorSize)
	}
	return &Device{
		Major:        major,
		Minor:        minor,
		Name:         name,
		Serial:       NormalizeSerial(serial),
		TotalSectors: totalSectors,
		SectorSize:   sectorSize,
		rw:           rw,
	}, nil
}

// NormalizeSerial trims whitespace and remaps ':' to ';', per spec §3.
func NormalizeSerial(serial string) string {
	s := strings.TrimSpace(serial)
	return strings.ReplaceAll(s, ":", ";")
}

// ReadAt reads len(p) bytes from the device starting at byte offset off.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if d.rw == nil {
		return 0, fmt.Errorf("reading %s: %w", d.label(), ErrNoRead)
	}
	if _, err := d.rw.Seek(off, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seeking %s: %w", d.label(), err)
	}
	n, err := io.ReadFull(d.rw, p)
	if err != nil {
		return n, fmt.Errorf("reading %s at %d: %w", d.label(), off, err)
	}
	return n, nil
}

// WriteAt writes p to the device starting at byte offset off.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if d.rw == nil {
		return 0, fmt.Errorf("writing %s: %w", d.label(), ErrNoWrite)
	}
	if _, err := d.rw.Seek(off, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seeking %s: %w", d.label(), err)
	}
	n, err := d.rw.Write(p)
	if err != nil {
		return n, fmt.Errorf("writing %s at %d: %w", d.label(), off, err)
	}
	return n, nil
}

// Sync flushes writes to stable storage (if supported by the handle).
func (d *Device) Sync() error {
	type syncer interface{ Sync() error }
	if s, ok := d.rw.(syncer); ok {
		return s.Sync()
	}
	return nil
}

// SizeBytes returns the device's total capacity in bytes.
func (d *Device) SizeBytes() uint64 {
	return d.TotalSectors * uint64(d.SectorSize)
}

// SectorSizeBytes returns the device's logical sector size, satisfying
// the narrow device interface pkg/imsm's codec depends on.
func (d *Device) SectorSizeBytes() uint32 {
	return d.SectorSize
}

func (d *Device) label() string {
	if d.Name != "" {
		return d.Name
	}
	return strconv.Itoa(d.Major) + ":" + strconv.Itoa(d.Minor)
}

// String implements fmt.Stringer for log lines.
func (d *Device) String() string {
	return fmt.Sprintf("%s(serial=%q,%d sectors@%d)", d.label(), d.Serial, d.TotalSectors, d.SectorSize)
}
