package imsm

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mdcore/mdcore/pkg/mdgeom"
)

// device is the narrow surface codec needs from a block device; it is
// satisfied by *mdblock.Device and by any simulated backing store used
// in tests (spec §4.1 load_super/store_super take a BlockDevice).
type device interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Sync() error
	SizeBytes() uint64
	SectorSizeBytes() uint32
}

// EncodeAnchor serializes c into the on-disk anchor buffer, in the
// layout order spec §4.2 "Layout (anchor buffer)" specifies: the fixed
// anchor header; num_disks disk records; num_raid_devs volume records
// (each followed by its one or two maps, each map followed by its
// ordinal table); the bad-block log last, whenever AttrBBM is set
// (even with no entries). All
// multi-sector numeric fields are written in the given member's native
// sector-size representation (spec §4.2 "Sector-size dualism").
func EncodeAnchor(c *Container, sectorSize uint32) ([]byte, error) {
	if err := ValidateAttributes(c.Attributes); err != nil {
		return nil, err
	}

	var body bytes.Buffer // everything after the header

	for i := range c.Disks {
		d := &c.Disks[i]
		var rec DiskRecord
		rec.SetSerial(d.Serial)
		rec.SetTotalBlocks(FromCanonical(d.TotalBlocks, sectorSize))
		rec.SCSIID = d.SCSIID
		rec.State = d.State
		if err := binary.Write(&body, binary.LittleEndian, rec); err != nil {
			return nil, fmt.Errorf("imsm: encoding disk record %d: %w", i, err)
		}
	}

	for vi := range c.Volumes {
		v := &c.Volumes[vi]
		var vrec VolumeRecordFixed
		copy(vrec.Name[:], v.Name)
		vrec.SetArraySize(FromCanonical(v.ArraySize, sectorSize))
		vrec.VolumeID = v.VolumeID
		if v.Dirty {
			vrec.Status |= VolumeDirty
		}
		if v.DirtyStripeOK {
			vrec.Status |= VolumeDirtyStripeValid
		}
		vrec.WriteHolePolicy = uint8(v.WriteHole)
		if v.Migrating {
			vrec.MigrState = 1
		}
		vrec.MigrType = uint8(v.MigrType)
		if err := binary.Write(&body, binary.LittleEndian, vrec); err != nil {
			return nil, fmt.Errorf("imsm: encoding volume record %q: %w", v.Name, err)
		}
		for mi := range v.Maps {
			if err := encodeMap(&body, &v.Maps[mi], sectorSize); err != nil {
				return nil, fmt.Errorf("imsm: encoding volume %q map %d: %w", v.Name, mi, err)
			}
		}
	}

	bblAttr := c.Attributes&AttrBBM != 0
	var bblBytes []byte
	if bblAttr {
		diskLog := c.BadBlocks
		if sectorSize == 4096 {
			diskLog = ScaleTo4K(diskLog)
		}
		entries, err := diskLog.ToDiskEntries()
		if err != nil {
			return nil, err
		}
		var bbuf bytes.Buffer
		binary.Write(&bbuf, binary.LittleEndian, BadBlockSignature)
		binary.Write(&bbuf, binary.LittleEndian, uint32(len(entries)))
		for _, e := range entries {
			binary.Write(&bbuf, binary.LittleEndian, e.LBA)
			binary.Write(&bbuf, binary.LittleEndian, e.MarkedCountM1)
			binary.Write(&bbuf, binary.LittleEndian, e.DiskOrdinal)
			bbuf.Write([]byte{0, 0}) // pad entry to 12 bytes
		}
		bblBytes = bbuf.Bytes()
		body.Write(bblBytes)
	}

	var header AnchorHeader
	copy(header.Signature[:], Signature)
	ver := Version130
	copy(header.Version[:], ver)
	header.MPBSize = uint32(AnchorHeaderSize + body.Len())
	header.SetFamilyNum(c.FamilyNum)
	header.SetOrigFamilyNum(c.OrigFamilyNum)
	header.GenerationNum = c.Generation
	header.Attributes = c.Attributes
	header.NumDisks = uint8(len(c.Disks))
	header.NumRaidDevs = uint8(len(c.Volumes))
	if bblAttr {
		header.BBLogSizeBytes = uint32(len(bblBytes))
	}

	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("imsm: encoding anchor header: %w", err)
	}
	out.Write(body.Bytes())

	buf := out.Bytes()
	if err := ComputeAndStamp(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func encodeMap(w *bytes.Buffer, m *Map, sectorSize uint32) error {
	var mrec MapRecordFixed
	mrec.SetPBA(FromCanonical(m.PBA, sectorSize))
	mrec.SetBlocksPerMember(FromCanonical(m.BlocksPerMember, sectorSize))
	mrec.EncodeLevel(m.Level)
	mrec.BlocksPerStripLog = m.BlocksPerStripLog
	mrec.NumMembers = uint8(len(m.Ordinals))
	mrec.NumDomains = m.NumDomains
	mrec.FailedDiskOrdinal = m.FailedDiskOrdinal
	mrec.MapState = uint8(m.State)
	if err := binary.Write(w, binary.LittleEndian, mrec); err != nil {
		return err
	}
	for _, ord := range m.Ordinals {
		if err := binary.Write(w, binary.LittleEndian, uint32(ord)); err != nil {
			return err
		}
	}
	return nil
}

// DecodeAnchor parses a buffer previously produced by EncodeAnchor (or
// read whole off a device) back into a Container, applying the
// checksum verification, attribute validation, and canonicalization
// rules of spec §4.2.
func DecodeAnchor(buf []byte, sectorSize uint32) (*Container, error) {
	ok, err := VerifyChecksum(buf)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("imsm: checksum mismatch, treating super as not present")
	}

	r := bytes.NewReader(buf)
	var header AnchorHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("imsm: reading anchor header: %w", err)
	}
	if string(bytes.TrimRight(header.Signature[:], "\x00")) != Signature {
		return nil, fmt.Errorf("imsm: bad signature %q", header.Signature)
	}
	if err := ValidateAttributes(header.Attributes); err != nil {
		return nil, err
	}

	c := &Container{
		FamilyNum:     header.FamilyNum(),
		OrigFamilyNum: header.OrigFamilyNum(),
		Generation:    header.GenerationNum,
		Attributes:    header.Attributes,
	}

	for i := 0; i < int(header.NumDisks); i++ {
		var rec DiskRecord
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return nil, fmt.Errorf("imsm: reading disk record %d: %w", i, err)
		}
		c.Disks = append(c.Disks, Disk{
			Index:       int32(i),
			Serial:      rec.SerialString(),
			TotalBlocks: ToCanonical(ClearHighBits(rec.TotalBlocks(), header.Attributes), sectorSize),
			State:       rec.State,
			SCSIID:      rec.SCSIID,
		})
	}

	for i := 0; i < int(header.NumRaidDevs); i++ {
		var vrec VolumeRecordFixed
		if err := binary.Read(r, binary.LittleEndian, &vrec); err != nil {
			return nil, fmt.Errorf("imsm: reading volume record %d: %w", i, err)
		}
		v := Volume{
			Name:          vrec.NameString(),
			ArraySize:     ToCanonical(ClearHighBits(vrec.ArraySize(), header.Attributes), sectorSize),
			VolumeID:      vrec.VolumeID,
			Dirty:         vrec.Status&VolumeDirty != 0,
			DirtyStripeOK: vrec.Status&VolumeDirtyStripeValid != 0,
			WriteHole:     WriteHolePolicy(vrec.WriteHolePolicy),
			Migrating:     vrec.MigrState != 0,
			MigrType:      MigrType(vrec.MigrType),
		}
		numMaps := 1
		if v.Migrating {
			numMaps = 2
		}
		for mi := 0; mi < numMaps; mi++ {
			m, err := decodeMap(r, sectorSize, header.Attributes)
			if err != nil {
				return nil, fmt.Errorf("imsm: reading volume %q map %d: %w", v.Name, mi, err)
			}
			v.Maps = append(v.Maps, *m)
		}
		c.Volumes = append(c.Volumes, v)
	}

	if header.Attributes&AttrBBM != 0 && header.BBLogSizeBytes > 0 {
		remaining := make([]byte, header.BBLogSizeBytes)
		if _, err := r.Read(remaining); err != nil {
			return nil, fmt.Errorf("imsm: reading bad-block log: %w", err)
		}
		br := bytes.NewReader(remaining)
		var sig, count uint32
		binary.Read(br, binary.LittleEndian, &sig)
		binary.Read(br, binary.LittleEndian, &count)
		if sig != BadBlockSignature {
			return nil, fmt.Errorf("imsm: bad-block log signature mismatch")
		}
		entries := make([]DiskEntry, 0, count)
		for i := uint32(0); i < count; i++ {
			var e DiskEntry
			var pad [2]byte
			binary.Read(br, binary.LittleEndian, &e.LBA)
			binary.Read(br, binary.LittleEndian, &e.MarkedCountM1)
			binary.Read(br, binary.LittleEndian, &e.DiskOrdinal)
			binary.Read(br, binary.LittleEndian, &pad)
			entries = append(entries, e)
		}
		badLog := FromDiskEntries(entries)
		if sectorSize == 4096 {
			badLog = ScaleFrom4K(badLog)
		}
		c.BadBlocks = badLog
	}

	return c, nil
}

func decodeMap(r *bytes.Reader, sectorSize uint32, attrs uint32) (*Map, error) {
	var mrec MapRecordFixed
	if err := binary.Read(r, binary.LittleEndian, &mrec); err != nil {
		return nil, err
	}
	ords := make([]Ordinal, mrec.NumMembers)
	for i := range ords {
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		ords[i] = Ordinal(v)
	}
	return &Map{
		PBA:               ToCanonical(ClearHighBits(mrec.PBA(), attrs), sectorSize),
		BlocksPerMember:   ToCanonical(ClearHighBits(mrec.BlocksPerMember(), attrs), sectorSize),
		Level:             mrec.Level(),
		BlocksPerStripLog: mrec.BlocksPerStripLog,
		NumDomains:        mrec.NumDomains,
		FailedDiskOrdinal: mrec.FailedDiskOrdinal,
		State:             MapState(mrec.MapState),
		Ordinals:          ords,
	}, nil
}

// bufferSectorOffset maps logical sector index k (0 == the anchor
// sector itself) within an encoded anchor buffer to its physical byte
// offset on disk, per spec §4.1 store_super's durability-ordering
// contract: the anchor occupies disk_size-2*sectorSize, and each
// additional (higher-indexed, i.e. later-in-buffer) sector of overflow
// content is placed one sector further from the end of the disk.
func bufferSectorOffset(diskSize uint64, sectorSize uint32, k int) uint64 {
	return ExtendedSectorOffset(diskSize, sectorSize, k)
}

// StoreSuper writes c to dev as an IMSM anchor, observing the
// durability-ordering contract of spec §4.1: every extended (overflow)
// sector is written and the write durably flushed before the anchor
// sector itself is written, so a crash never leaves a newly-stamped,
// checksum-valid anchor pointing at stale or partially-written overflow
// content.
func StoreSuper(dev device, c *Container) error {
	ss := dev.SectorSizeBytes()
	buf, err := EncodeAnchor(c, ss)
	if err != nil {
		return err
	}
	total := mdgeom.Divide(uint64(len(buf)), uint64(ss))
	padded := make([]byte, total*uint64(ss))
	copy(padded, buf)

	diskSize := dev.SizeBytes()

	// Extended sectors are logical sectors 1..total-1 (the tail of the
	// buffer); write them first, furthest-from-the-end sector first so a
	// partial write still leaves a contiguous prefix written, and fsync
	// before touching the anchor sector.
	for k := int(total) - 1; k >= 1; k-- {
		off := bufferSectorOffset(diskSize, ss, k)
		chunk := padded[uint64(k)*uint64(ss) : (uint64(k)+1)*uint64(ss)]
		if _, err := dev.WriteAt(chunk, int64(off)); err != nil {
			return fmt.Errorf("imsm: writing extended anchor sector %d: %w", k, err)
		}
	}
	if total > 1 {
		if err := dev.Sync(); err != nil {
			return fmt.Errorf("imsm: flushing extended anchor sectors: %w", err)
		}
	}

	anchorOff := bufferSectorOffset(diskSize, ss, 0)
	anchorSector := padded[0:ss]
	if _, err := dev.WriteAt(anchorSector, int64(anchorOff)); err != nil {
		return fmt.Errorf("imsm: writing anchor sector: %w", err)
	}
	return dev.Sync()
}

// LoadSuper reads and validates the anchor on dev, returning the
// decoded Container, or an error (including a checksum mismatch) when
// no valid super is present.
func LoadSuper(dev device) (*Container, error) {
	ss := dev.SectorSizeBytes()
	diskSize := dev.SizeBytes()
	anchorOff := bufferSectorOffset(diskSize, ss, 0)

	head := make([]byte, ss)
	if _, err := dev.ReadAt(head, int64(anchorOff)); err != nil {
		return nil, fmt.Errorf("imsm: reading anchor sector: %w", err)
	}
	if string(bytes.TrimRight(head[0:24], "\x00")) != Signature {
		return nil, fmt.Errorf("imsm: no IMSM signature present")
	}
	mpbSize := binary.LittleEndian.Uint32(head[checksumFieldOffset+4:])
	total := int(mdgeom.Divide(uint64(mpbSize), uint64(ss)))
	if total < 1 {
		total = 1
	}

	full := make([]byte, uint64(total)*uint64(ss))
	copy(full[0:ss], head)
	for k := 1; k < total; k++ {
		off := bufferSectorOffset(diskSize, ss, k)
		if _, err := dev.ReadAt(full[uint64(k)*uint64(ss):(uint64(k)+1)*uint64(ss)], int64(off)); err != nil {
			return nil, fmt.Errorf("imsm: reading extended anchor sector %d: %w", k, err)
		}
	}

	return DecodeAnchor(full[:mpbSize], ss)
}
