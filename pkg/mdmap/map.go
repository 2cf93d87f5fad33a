// Package mdmap implements the name/UUID map file of spec §4.7: a
// single flat-text file mapping {devnm, metadata_version, uuid, path}
// tuples, guarded by an advisory file lock and published by atomic
// temp-write/fsync/rename, following the teacher's
// TempFile-then-publish shape (pkg/vproj/util.go, pkg/vproj/projects.go)
// generalized from "unpack an asset to a temp file" to "publish a
// rewritten map".
package mdmap

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kennygrant/sanitize"
	"github.com/thanhpk/randstr"
	"golang.org/x/sys/unix"
)

// Entry is one record in the map file.
type Entry struct {
	DevNM           string // "md0".."md511"
	MetadataVersion string // e.g. "imsm"; Upsert passes it through sanitize.BaseName, so "external:imsm" is stored as "external-imsm"
	UUID            string
	Path            string
}

func (e Entry) line() string {
	return fmt.Sprintf("%s %s %s %s", e.DevNM, e.MetadataVersion, e.UUID, e.Path)
}

// Map is an opened, lock-held handle to the map file. Callers must call
// Close to release the lock; every mutating method rewrites the whole
// file atomically but does not itself release the lock, per spec §4.7:
// "the lock is held across the critical sections of creation and
// incremental assembly's name-allocation through add-disk."
type Map struct {
	path    string
	f       *os.File
	entries []Entry
}

// Open acquires the advisory lock on path (creating it if absent) and
// reads the current entries. The lock is exclusive (unix.LOCK_EX);
// Open blocks until it is available.
func Open(path string) (*Map, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mdmap: creating %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("mdmap: opening %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("mdmap: locking %s: %w", path, err)
	}
	m := &Map{path: path, f: f}
	if err := m.reload(); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// Close releases the advisory lock and closes the file handle.
func (m *Map) Close() error {
	unix.Flock(int(m.f.Fd()), unix.LOCK_UN)
	return m.f.Close()
}

func (m *Map) reload() error {
	if _, err := m.f.Seek(0, 0); err != nil {
		return fmt.Errorf("mdmap: seeking %s: %w", m.path, err)
	}
	var entries []Entry
	sc := bufio.NewScanner(m.f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return fmt.Errorf("mdmap: malformed line %q in %s", line, m.path)
		}
		entries = append(entries, Entry{DevNM: fields[0], MetadataVersion: fields[1], UUID: fields[2], Path: fields[3]})
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("mdmap: reading %s: %w", m.path, err)
	}
	m.entries = entries
	return nil
}

// All returns a copy of every entry currently in the map.
func (m *Map) All() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ByDevNM, ByPath, ByUUID implement spec §4.7's three query kinds.
func (m *Map) ByDevNM(devnm string) (Entry, bool) { return m.find(func(e Entry) bool { return e.DevNM == devnm }) }
func (m *Map) ByPath(path string) (Entry, bool)   { return m.find(func(e Entry) bool { return e.Path == path }) }
func (m *Map) ByUUID(uuid string) (Entry, bool)   { return m.find(func(e Entry) bool { return e.UUID == uuid }) }

func (m *Map) find(pred func(Entry) bool) (Entry, bool) {
	for _, e := range m.entries {
		if pred(e) {
			return e, true
		}
	}
	return Entry{}, false
}

// Upsert inserts e, or replaces the existing entry with the same
// DevNM, then publishes the rewritten file.
func (m *Map) Upsert(e Entry) error {
	e.MetadataVersion = sanitize.BaseName(e.MetadataVersion)
	for i := range m.entries {
		if m.entries[i].DevNM == e.DevNM {
			m.entries[i] = e
			return m.publish()
		}
	}
	m.entries = append(m.entries, e)
	return m.publish()
}

// Remove deletes the entry for devnm, if present, then publishes.
func (m *Map) Remove(devnm string) error {
	out := m.entries[:0]
	for _, e := range m.entries {
		if e.DevNM != devnm {
			out = append(out, e)
		}
	}
	m.entries = out
	return m.publish()
}

// publish rewrites the map file atomically: write to a temp sibling,
// fsync, rename over path (spec §4.7).
func (m *Map) publish() error {
	dir := filepath.Dir(m.path)
	tmpName := filepath.Join(dir, ".mdadm.map."+randstr.Hex(8))

	tmp, err := os.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("mdmap: creating temp file: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, e := range m.entries {
		if _, err := fmt.Fprintln(w, e.line()); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("mdmap: writing temp file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("mdmap: flushing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("mdmap: fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("mdmap: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("mdmap: renaming temp file into place: %w", err)
	}
	return nil
}

// freeNameLow and freeNameHigh bound the wrap-around search order of
// spec §4.7: "iterates md0..md511 wrapping from 127 downward".
const (
	freeNameLow  = 0
	freeNameHigh = 511
	freeNameFrom = 127
)

// BusyChecker reports whether devnm is busy according to the kernel
// (e.g. an existing /dev node or major/minor conflict), so FreeName can
// skip names this process does not yet know about.
type BusyChecker func(devnm string) bool

// FreeName finds the first unused devnm, in the order spec §4.7
// specifies: starting at md127 and counting down to md0, then wrapping
// to md511 and counting down to md128.
func (m *Map) FreeName(busy BusyChecker) (string, error) {
	order := make([]int, 0, freeNameHigh+1)
	for i := freeNameFrom; i >= freeNameLow; i-- {
		order = append(order, i)
	}
	for i := freeNameHigh; i > freeNameFrom; i-- {
		order = append(order, i)
	}
	for _, i := range order {
		devnm := fmt.Sprintf("md%d", i)
		if _, ok := m.ByDevNM(devnm); ok {
			continue
		}
		if busy != nil && busy(devnm) {
			continue
		}
		return devnm, nil
	}
	return "", fmt.Errorf("mdmap: no free devnm in md%d..md%d", freeNameLow, freeNameHigh)
}
