package imsm

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MigrStatus enumerates the MigrationRecord's status field (spec §3
// "MigrationRecord").
type MigrStatus uint8

const (
	MigrStatusSourceNormal MigrStatus = iota
	MigrStatusSourceInCheckpointArea
)

// MigrationRecord is the per-container, per-disk crash-safe checkpoint
// of an in-flight reshape (spec §3 "MigrationRecord"). It is replicated
// on every member at a fixed offset near the end of each disk.
type MigrationRecord struct {
	Ascending           uint8
	Status              uint8
	_                    [2]byte
	BlocksPerUnitLo     uint32
	BlocksPerUnitHi     uint32
	DestDepthPerUnitLo  uint32
	DestDepthPerUnitHi  uint32
	CheckpointAreaPBALo uint32
	CheckpointAreaPBAHi uint32
	DestFirstMemberLBALo uint32
	DestFirstMemberLBAHi uint32
	NumUnitsLo          uint32
	NumUnitsHi          uint32
	CurrentUnitLo       uint32
	CurrentUnitHi       uint32
	PostMigrCapacityLo  uint32
	PostMigrCapacityHi  uint32
	FamilyNumLo         uint32
	FamilyNumHi         uint32
}

const MigrationRecordSize = 4 + 4*16

// RecordOffset is the byte offset of the migration record from the end
// of a disk (spec §4.2: "Stored at disk_size - sector_size*1").
func RecordOffset(diskSizeBytes uint64, sectorSize uint32) uint64 {
	return diskSizeBytes - uint64(sectorSize)
}

// AnchorOffset is the byte offset of the anchor from the end of a disk
// (spec §4.1 store_super: "the anchor is placed at disk_size -
// 2*sector_size").
func AnchorOffset(diskSizeBytes uint64, sectorSize uint32) uint64 {
	return diskSizeBytes - 2*uint64(sectorSize)
}

// ExtendedSectorOffset is the byte offset of sector n of the anchor
// buffer: n == 0 is the anchor sector itself, and each n >= 1 of
// extended content sits n sectors before it (spec §4.1:
// "extended content at disk_size - (2+N)*sector_size").
func ExtendedSectorOffset(diskSizeBytes uint64, sectorSize uint32, n int) uint64 {
	return diskSizeBytes - uint64(2+n)*uint64(sectorSize)
}

func splitU64(v uint64) (lo, hi uint32) { return uint32(v), uint32(v >> 32) }
func joinU64(lo, hi uint32) uint64      { return uint64(lo) | uint64(hi)<<32 }

func (r *MigrationRecord) BlocksPerUnit() uint64 { return joinU64(r.BlocksPerUnitLo, r.BlocksPerUnitHi) }
func (r *MigrationRecord) SetBlocksPerUnit(v uint64) {
	r.BlocksPerUnitLo, r.BlocksPerUnitHi = splitU64(v)
}

func (r *MigrationRecord) DestDepthPerUnit() uint64 {
	return joinU64(r.DestDepthPerUnitLo, r.DestDepthPerUnitHi)
}
func (r *MigrationRecord) SetDestDepthPerUnit(v uint64) {
	r.DestDepthPerUnitLo, r.DestDepthPerUnitHi = splitU64(v)
}

func (r *MigrationRecord) CheckpointAreaPBA() uint64 {
	return joinU64(r.CheckpointAreaPBALo, r.CheckpointAreaPBAHi)
}
func (r *MigrationRecord) SetCheckpointAreaPBA(v uint64) {
	r.CheckpointAreaPBALo, r.CheckpointAreaPBAHi = splitU64(v)
}

func (r *MigrationRecord) DestFirstMemberLBA() uint64 {
	return joinU64(r.DestFirstMemberLBALo, r.DestFirstMemberLBAHi)
}
func (r *MigrationRecord) SetDestFirstMemberLBA(v uint64) {
	r.DestFirstMemberLBALo, r.DestFirstMemberLBAHi = splitU64(v)
}

func (r *MigrationRecord) NumUnits() uint64 { return joinU64(r.NumUnitsLo, r.NumUnitsHi) }
func (r *MigrationRecord) SetNumUnits(v uint64) { r.NumUnitsLo, r.NumUnitsHi = splitU64(v) }

func (r *MigrationRecord) CurrentUnit() uint64 { return joinU64(r.CurrentUnitLo, r.CurrentUnitHi) }
func (r *MigrationRecord) SetCurrentUnit(v uint64) { r.CurrentUnitLo, r.CurrentUnitHi = splitU64(v) }

func (r *MigrationRecord) PostMigrCapacity() uint64 {
	return joinU64(r.PostMigrCapacityLo, r.PostMigrCapacityHi)
}
func (r *MigrationRecord) SetPostMigrCapacity(v uint64) {
	r.PostMigrCapacityLo, r.PostMigrCapacityHi = splitU64(v)
}

func (r *MigrationRecord) FamilyNum() uint64 { return joinU64(r.FamilyNumLo, r.FamilyNumHi) }
func (r *MigrationRecord) SetFamilyNum(v uint64) { r.FamilyNumLo, r.FamilyNumHi = splitU64(v) }

// Valid reports whether the record is internally consistent enough to
// trust: current_unit must not exceed num_units (spec §8 invariant).
func (r *MigrationRecord) Valid() bool {
	return r.CurrentUnit() <= r.NumUnits()
}

// EncodeMigrationRecord serializes r into its fixed-size wire form, in
// little-endian byte order, writing the whole struct with one
// binary.Write as codec.go does for its records.
func EncodeMigrationRecord(r *MigrationRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, r); err != nil {
		return nil, fmt.Errorf("imsm: encoding migration record: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeMigrationRecord parses the fixed-size wire form written by
// EncodeMigrationRecord.
func DecodeMigrationRecord(b []byte) (*MigrationRecord, error) {
	if len(b) < MigrationRecordSize {
		return nil, fmt.Errorf("imsm: migration record buffer too short: %d < %d", len(b), MigrationRecordSize)
	}
	var r MigrationRecord
	if err := binary.Read(bytes.NewReader(b[:MigrationRecordSize]), binary.LittleEndian, &r); err != nil {
		return nil, fmt.Errorf("imsm: decoding migration record: %w", err)
	}
	return &r, nil
}
