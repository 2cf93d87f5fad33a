package mdvdev

import (
	"github.com/mdcore/mdcore/pkg/mdblock"
	qcow2 "github.com/zchee/go-qcow2"
)

// backendOption tags a VirtualDevice with the go-qcow2 block-backend
// option it was opened as, so a caller choosing between backends (a
// real sparse file vs. this in-memory harness) can select on the same
// Driver enum go-qcow2 exposes for its own backends.
var backendOption = qcow2.NewBlockOption(qcow2.DriverQCow2)

// NewBlockDevice builds a *mdblock.Device backed by a fresh
// VirtualDevice of totalSectors*sectorSize bytes, for tests across
// pkg/imsm, pkg/mdsuper, pkg/mdcreate, pkg/mdincremental and
// pkg/mdreshape that need a real io.ReadWriteSeeker rather than a
// package-local stub.
func NewBlockDevice(major, minor int, name, serial string, totalSectors uint64, sectorSize uint32) (*mdblock.Device, *VirtualDevice, error) {
	v := New(int64(totalSectors * uint64(sectorSize)))
	v.option = backendOption
	dev, err := mdblock.New(major, minor, name, serial, totalSectors, sectorSize, v)
	if err != nil {
		return nil, nil, err
	}
	return dev, v, nil
}
