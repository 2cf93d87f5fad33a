// Package mdctl models the kernel control surface of spec §6 as narrow
// Go interfaces rather than raw ioctl numbers: a typed RPC boundary to
// the md driver, a sysfs string key-value tree, and the new_array
// creation channel. Production code backs these with real ioctl/sysfs
// syscalls; tests back them with an in-memory fake, following the
// teacher's narrow-interface-over-external-system pattern
// (pkg/virtualizers' Virtualizer interface abstracts a hypervisor the
// same way this abstracts the md driver).
package mdctl

import (
	"context"
	"fmt"

	"github.com/syndtr/gocapability/capability"
)

// ArrayInfo mirrors the SET_ARRAY_INFO/GET_ARRAY_INFO ioctl payload
// (spec §6): a single struct in, a single struct (or error) out.
type ArrayInfo struct {
	Major, Minor int
	Level        int
	RaidDisks    int
	Size         uint64 // sectors
	State        string
}

// DiskInfo mirrors ADD_NEW_DISK/GET_DISK_INFO's payload.
type DiskInfo struct {
	Major, Minor int
	Number       int
	State        uint32
}

// Controller is the typed RPC boundary to one array control node (spec
// §6 "A set of ioctl codes... modelled as a typed RPC to the md
// driver").
type Controller interface {
	SetArrayInfo(ctx context.Context, info ArrayInfo) error
	GetArrayInfo(ctx context.Context) (ArrayInfo, error)
	AddNewDisk(ctx context.Context, d DiskInfo) error
	GetDiskInfo(ctx context.Context, number int) (DiskInfo, error)
	RunArray(ctx context.Context) error
	RestartArrayRW(ctx context.Context) error
	StopArray(ctx context.Context) error
	SetBitmapFile(ctx context.Context, fd int) error
}

// legalArrayStates is the set of array_state values the core writes
// via sysfs (spec §6: "the set of legal array_state values the core
// writes is {active, readonly, read-auto, clean}").
var legalArrayStates = map[string]bool{
	"active": true, "readonly": true, "read-auto": true, "clean": true,
}

// Sysfs is the per-array string key-value tree the core reads and
// writes (spec §6 "The core only uses string get/set").
type Sysfs interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// SetArrayState validates value against the legal write set before
// delegating to s.Set, per spec §6's restriction on the values this
// engine is allowed to write (it may still read any value the kernel
// reports).
func SetArrayState(ctx context.Context, s Sysfs, value string) error {
	if !legalArrayStates[value] {
		return fmt.Errorf("mdctl: %q is not a legal array_state value to write", value)
	}
	return s.Set(ctx, "array_state", value)
}

// NewArrayChannel models "/sys/module/md_mod/parameters/new_array"
// (spec §6): a single-value write channel, with a one-time modprobe
// fallback when the channel does not yet exist.
type NewArrayChannel interface {
	// Write attempts to write devnm; ErrModuleNotLoaded signals the
	// caller should modprobe md_mod and retry exactly once.
	Write(ctx context.Context, devnm string) error
}

// ErrModuleNotLoaded is returned by a NewArrayChannel.Write when the
// channel file does not exist (spec §6: "if absent, modprobe md_mod is
// invoked once and the write retried").
var ErrModuleNotLoaded = fmt.Errorf("mdctl: new_array channel absent, md_mod not loaded")

// ModprobeFunc loads the md_mod kernel module; production wires this to
// exec.Command("modprobe", "md_mod").Run, tests supply a stub.
type ModprobeFunc func(ctx context.Context) error

// CreateNamedArray implements spec §6's retry contract: write devnm to
// ch, and if the channel is absent, modprobe once and retry exactly
// once more.
func CreateNamedArray(ctx context.Context, ch NewArrayChannel, modprobe ModprobeFunc, devnm string) error {
	err := ch.Write(ctx, devnm)
	if err == nil {
		return nil
	}
	if err != ErrModuleNotLoaded {
		return err
	}
	if modprobe == nil {
		return err
	}
	if merr := modprobe(ctx); merr != nil {
		return fmt.Errorf("mdctl: modprobe md_mod: %w", merr)
	}
	return ch.Write(ctx, devnm)
}

// requiredCapabilities are the Linux capabilities this engine's
// privileged operations need: raw block I/O and device-node management
// (CAP_SYS_ADMIN covers both ioctl-on-md and mknod in practice).
var requiredCapabilities = []capability.Cap{
	capability.CAP_SYS_ADMIN,
}

// CheckCapabilities is the preflight check spec §7's "Kernel RPC
// failure" class exists to avoid triggering needlessly: fail fast with
// a plain error naming the missing capability before attempting any
// ioctl, rather than surfacing an opaque EPERM from the kernel.
func CheckCapabilities() error {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("mdctl: reading process capabilities: %w", err)
	}
	if err := caps.Load(); err != nil {
		return fmt.Errorf("mdctl: loading process capabilities: %w", err)
	}
	for _, c := range requiredCapabilities {
		if !caps.Get(capability.EFFECTIVE, c) {
			return fmt.Errorf("mdctl: missing required capability %s", c)
		}
	}
	return nil
}
