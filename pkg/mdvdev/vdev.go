// Package mdvdev implements a simulated block device test harness: a
// sparse, block-indexed backing store in the shape of
// github.com/zchee/go-qcow2's BlockBackend (img *os.File plus a lazily
// allocated cluster table) — without adopting qcow2's on-disk format,
// since this engine has no use for a second disk-image codec. Blocks
// are allocated on first write, read as zero before that, and a
// BlockDevice built on top can inject permanent read failures on
// specific sectors to exercise spec §7's "Permanent I/O" error class.
package mdvdev

import (
	"fmt"
	"io"

	qcow2 "github.com/zchee/go-qcow2"
)

// BlockSize is the sparse allocation granularity, mirroring qcow2's
// cluster as the unit blocks are lazily materialized in.
const BlockSize = 64 * 1024

// VirtualDevice is a sparse in-memory backing store addressed by
// block index, matching go-qcow2's BlockBackend shape (an image handle
// plus allocate-on-write blocks) but holding plain []byte blocks
// instead of real qcow2 L1/L2 cluster tables.
type VirtualDevice struct {
	sizeBytes  int64
	pos        int64
	blocks     map[int64][]byte
	badSectors map[int64]error // byte offset (sector-aligned) -> injected read error
	option     *qcow2.BlockOption
}

// Option reports which go-qcow2-style backend this device was opened
// as: DriverQCow2 for a device built by NewBlockDevice, nil for one
// made directly with New.
func (v *VirtualDevice) Option() *qcow2.BlockOption { return v.option }

// New creates a VirtualDevice of the given total size.
func New(sizeBytes int64) *VirtualDevice {
	return &VirtualDevice{sizeBytes: sizeBytes, blocks: make(map[int64][]byte)}
}

// InjectReadError makes every read that starts at byte offset off
// return err, simulating spec §7's "bad sector, unreadable device
// during load" class. Reads starting at any other offset, including
// ones whose range spans off, are not affected.
func (v *VirtualDevice) InjectReadError(off int64, err error) {
	if v.badSectors == nil {
		v.badSectors = make(map[int64]error)
	}
	v.badSectors[off] = err
}

// ClearReadError removes a previously injected fault.
func (v *VirtualDevice) ClearReadError(off int64) {
	delete(v.badSectors, off)
}

func (v *VirtualDevice) blockFor(off int64, alloc bool) []byte {
	idx := off / BlockSize
	b, ok := v.blocks[idx]
	if !ok {
		if !alloc {
			return nil
		}
		b = make([]byte, BlockSize)
		v.blocks[idx] = b
	}
	return b
}

// Read implements io.Reader at the current position.
func (v *VirtualDevice) Read(p []byte) (int, error) {
	n, err := v.readAt(p, v.pos)
	v.pos += int64(n)
	return n, err
}

// Write implements io.Writer at the current position.
func (v *VirtualDevice) Write(p []byte) (int, error) {
	n, err := v.writeAt(p, v.pos)
	v.pos += int64(n)
	return n, err
}

// Seek implements io.Seeker.
func (v *VirtualDevice) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = v.pos + offset
	case io.SeekEnd:
		newPos = v.sizeBytes + offset
	default:
		return 0, fmt.Errorf("mdvdev: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("mdvdev: negative seek position")
	}
	v.pos = newPos
	return newPos, nil
}

// Sync is a no-op: the backing store is already fully in memory, so
// there is nothing to flush (satisfies the device interface's
// optional Sync method).
func (v *VirtualDevice) Sync() error { return nil }

func (v *VirtualDevice) readAt(p []byte, off int64) (int, error) {
	if off >= v.sizeBytes {
		return 0, io.EOF
	}
	if injected, ok := v.badSectors[off]; ok {
		return 0, injected
	}
	n := len(p)
	if off+int64(n) > v.sizeBytes {
		n = int(v.sizeBytes - off)
	}
	read := 0
	for read < n {
		blockOff := off + int64(read)
		b := v.blockFor(blockOff, false)
		inBlock := int(blockOff % BlockSize)
		avail := BlockSize - inBlock
		take := n - read
		if take > avail {
			take = avail
		}
		if b == nil {
			for i := 0; i < take; i++ {
				p[read+i] = 0
			}
		} else {
			copy(p[read:read+take], b[inBlock:inBlock+take])
		}
		read += take
	}
	var err error
	if read < len(p) {
		err = io.EOF
	}
	return read, err
}

func (v *VirtualDevice) writeAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > v.sizeBytes {
		return 0, fmt.Errorf("mdvdev: write at %d len %d exceeds device size %d", off, len(p), v.sizeBytes)
	}
	written := 0
	for written < len(p) {
		blockOff := off + int64(written)
		b := v.blockFor(blockOff, true)
		inBlock := int(blockOff % BlockSize)
		avail := BlockSize - inBlock
		take := len(p) - written
		if take > avail {
			take = avail
		}
		copy(b[inBlock:inBlock+take], p[written:written+take])
		written += take
	}
	return written, nil
}
