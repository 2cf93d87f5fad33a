// Package imsm implements the Intel Matrix Storage Manager on-disk
// container format described in spec §4.2: the anchor signature and
// version, checksum, attribute negotiation, sector-size dualism, size
// splitting, volume/map layout, bad-block log, migration record, and
// write-intent bitmap placement. This is the largest single component
// of the engine (spec §2: 40% of the core).
package imsm

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Signature is the fixed 24-byte ASCII string every anchor begins with.
const Signature = "Intel Raid ISM Cfg Sig. "

// Version strings negotiated in the anchor header.
const (
	Version130 = "1.3.00" // default
	Version200 = "2.0.00" // journal-drive arrays
)

// Attribute bits (spec §4.2 "Attribute flags").
const (
	AttrChecksumVerify     uint32 = 1 << 0
	Attr2TB                uint32 = 1 << 1
	Attr2TBDisk            uint32 = 1 << 2
	AttrRAID0              uint32 = 1 << 3
	AttrRAID1              uint32 = 1 << 4
	AttrRAID10             uint32 = 1 << 5
	AttrRAID5              uint32 = 1 << 6
	AttrExpandedStripeSize uint32 = 1 << 7
	AttrRAID10Ext          uint32 = 1 << 8
	AttrBBM                uint32 = 1 << 9
	AttrNeverUse           uint32 = 1 << 31
)

// Supported is the mask of attribute bits this handler actively honors.
const Supported = AttrChecksumVerify | Attr2TB | Attr2TBDisk | AttrRAID0 |
	AttrRAID1 | AttrRAID10 | AttrRAID5 | AttrExpandedStripeSize |
	AttrRAID10Ext | AttrBBM

// Ignored is the mask of attribute bits accepted but not acted on,
// present for historical reasons (spec §4.2).
const Ignored = AttrNeverUse

// RESERVED_SECTORS and metadata footprint constants (spec §4.2 "Creation
// offset discipline").
const (
	ReservedSectors = 8192
	MPBSectorCount  = 2 // anchor occupies the last two sectors of the disk
)

// AnchorHeader is the fixed-size prefix of the anchor buffer (spec §4.2
// "Layout (anchor buffer)"). Disk and volume records follow immediately
// after, back to back, then the bad-block log if AttrBBM is set.
type AnchorHeader struct {
	Signature       [24]byte
	Version         [6]byte
	_               [2]byte // pad to 4-byte alignment
	CheckSum        uint32
	MPBSize         uint32 // total anchor length in bytes, including disk/volume/bbl records
	FamilyNumLo     uint32
	FamilyNumHi     uint32
	GenerationNum   uint32
	Attributes      uint32
	NumDisks        uint8
	NumRaidDevs     uint8
	ErrorLogCursor  uint8
	_               uint8
	Cache1Size      uint32
	OrigFamilyNumLo uint32
	OrigFamilyNumHi uint32
	PWRCycleCount   uint32
	BBLogSizeBytes  uint32 // 0 when AttrBBM unset
}

const AnchorHeaderSize = 24 + 6 + 2 + 4*11 + 1*4

// FamilyNum combines the split 64-bit family number (spec §4.2 "Size
// split").
func (h *AnchorHeader) FamilyNum() uint64 {
	return uint64(h.FamilyNumLo) | uint64(h.FamilyNumHi)<<32
}

// SetFamilyNum splits a 64-bit family number into its two halves.
func (h *AnchorHeader) SetFamilyNum(v uint64) {
	h.FamilyNumLo = uint32(v)
	h.FamilyNumHi = uint32(v >> 32)
}

// OrigFamilyNum combines the split orig_family_num halves.
func (h *AnchorHeader) OrigFamilyNum() uint64 {
	return uint64(h.OrigFamilyNumLo) | uint64(h.OrigFamilyNumHi)<<32
}

// SetOrigFamilyNum splits a 64-bit orig_family_num into halves.
func (h *AnchorHeader) SetOrigFamilyNum(v uint64) {
	h.OrigFamilyNumLo = uint32(v)
	h.OrigFamilyNumHi = uint32(v >> 32)
}

// ValidateAttributes enforces spec §4.2: accept only if
// (attributes & ~(SUPPORTED|IGNORED)) == 0; an unknown bit blocks every
// volume in the super.
func ValidateAttributes(attrs uint32) error {
	if attrs & ^(Supported|Ignored) != 0 {
		return fmt.Errorf("imsm: attribute bits %#x outside supported|ignored mask", attrs & ^(Supported|Ignored))
	}
	return nil
}

// Checksum computes the 32-bit truncated sum of the little-endian 32-bit
// words of buf (spec §4.2 "Checksum"). Callers must zero the check_sum
// field in buf before calling, matching the write-side contract, or pass
// a buffer that already has it zeroed for the read-side recompute.
func Checksum(buf []byte) (uint32, error) {
	if len(buf)%4 != 0 {
		return 0, fmt.Errorf("imsm: checksum buffer length %d not a multiple of 4", len(buf))
	}
	var sum uint32
	r := bytes.NewReader(buf)
	var word uint32
	for {
		if err := binary.Read(r, binary.LittleEndian, &word); err != nil {
			break
		}
		sum += word
	}
	return sum, nil
}

// checksumFieldOffset is the byte offset of AnchorHeader.CheckSum within
// the serialized header (signature 24 + version 6 + pad 2).
const checksumFieldOffset = 24 + 6 + 2

// ComputeAndStamp recomputes the checksum over the whole anchor buffer
// with the check_sum field treated as zero, and writes it back into buf.
// buf must already have CheckSum encoded at checksumFieldOffset (any
// value; it is masked out of the sum).
func ComputeAndStamp(buf []byte) error {
	if len(buf) < checksumFieldOffset+4 {
		return fmt.Errorf("imsm: anchor buffer too small (%d bytes)", len(buf))
	}
	tmp := make([]byte, len(buf))
	copy(tmp, buf)
	binary.LittleEndian.PutUint32(tmp[checksumFieldOffset:], 0)
	sum, err := Checksum(tmp)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[checksumFieldOffset:], sum)
	return nil
}

// VerifyChecksum recomputes the checksum over buf (with check_sum
// zeroed) and compares it to the stored value. A mismatch means, per
// spec §4.2, "treat the super as not present".
func VerifyChecksum(buf []byte) (bool, error) {
	if len(buf) < checksumFieldOffset+4 {
		return false, fmt.Errorf("imsm: anchor buffer too small (%d bytes)", len(buf))
	}
	stored := binary.LittleEndian.Uint32(buf[checksumFieldOffset:])
	tmp := make([]byte, len(buf))
	copy(tmp, buf)
	binary.LittleEndian.PutUint32(tmp[checksumFieldOffset:], 0)
	sum, err := Checksum(tmp)
	if err != nil {
		return false, err
	}
	return sum == stored, nil
}
