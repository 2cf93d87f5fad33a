package mdreshape

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/djherbis/buffer"
	"github.com/djherbis/nio"

	"github.com/mdcore/mdcore/pkg/imsm"
	"github.com/mdcore/mdcore/pkg/mdgeom"
)

// Member is one usable container member as the reshape worker sees it:
// a plain random-access region, not a kernel device.
type Member struct {
	Index  int32
	RW     io.ReaderAt
	W      io.WriterAt
	Failed bool
}

// Layout is the read or write side of a reshape: enough geometry to
// locate the critical stripe and the checkpoint area.
type Layout struct {
	FirstMemberLBA   uint64
	BlocksPerUnit    uint64
	StripAlignBlocks uint64 // old-layout strip size used to align the read window
}

// RecordWriter persists a migration record to every usable member
// (spec §4.5 step e/g: "write the record to every usable member").
type RecordWriter interface {
	WriteRecord(ctx context.Context, members []Member, rec *imsm.MigrationRecord) error
}

// Syncer models the kernel's resync-position handshake (spec §4.5 step
// f): advance suspend_lo/suspend_hi and sync_max to P, then wait for
// sync_completed to catch up.
type Syncer interface {
	Advance(ctx context.Context, p uint64) error
	Completed(ctx context.Context) (uint64, error)
}

// syncPollAttempts/syncPollInterval implement spec §4.5 step f's bounded
// wait: "retries 3x at ~3ms intervals before giving up".
const (
	syncPollAttempts = 3
	syncPollInterval = 3 * time.Millisecond
)

func waitSyncCompleted(ctx context.Context, s Syncer, target uint64, dataDisks int) error {
	for i := 0; i < syncPollAttempts; i++ {
		completed, err := s.Completed(ctx)
		if err != nil {
			return err
		}
		if completed >= target/uint64(dataDisks) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(syncPollInterval):
		}
	}
	return fmt.Errorf("mdreshape: sync_completed did not reach %d after %d polls", target, syncPollAttempts)
}

// TransformFunc maps a source critical-stripe buffer into its
// destination-layout form (restore_stripes in spec §4.5 step d). It is
// level/layout specific; the worker is agnostic to it.
type TransformFunc func(src []byte, srcLayout, dstLayout Layout) ([]byte, error)

// Worker drives one container's reshape to completion (spec §4.5
// "Checkpoint loop (manage_reshape)"). Runs in-process, one per
// container, matching the teacher's one-worker-per-build-job pattern
// (pkg/vdisk/build.go).
type Worker struct {
	Level       mdgeom.Level
	Members     []Member
	SrcLayout   Layout
	DstLayout   Layout
	CkptAreaPBA uint64
	NumUnits    uint64
	MaxPosition uint64

	Transform TransformFunc
	Records   RecordWriter
	Sync      Syncer

	// Rec is mutated in place and persisted via Records.WriteRecord;
	// Rec.CurrentUnit() is the single source of truth for progress
	// (spec §4.5 "Progress reporting contract").
	Rec *imsm.MigrationRecord
}

// Run drives the loop to current_unit == num_units or until ctx is
// canceled or the array degrades past tolerance.
func (w *Worker) Run(ctx context.Context) error {
	if w.Rec.CurrentUnit() == 0 {
		w.Rec.Ascending = 1
		w.Rec.SetNumUnits(w.NumUnits)
	}

	tolerance := disksFailedTolerance(w.Level, len(w.Members))
	dataDisks, err := mdgeom.DataMembers(w.Level, len(w.Members))
	if err != nil {
		return fmt.Errorf("mdreshape: %w", err)
	}

	for w.Rec.CurrentUnit() < w.NumUnits {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if failed := countFailed(w.Members); failed > tolerance {
			return fmt.Errorf("mdreshape: array degraded beyond tolerance (%d failed, %d tolerated)", failed, tolerance)
		}

		unit := blocksPerUnitOf(w)
		p := w.Rec.CurrentUnit()*unit + unit
		if p > w.MaxPosition {
			p = w.MaxPosition
		}

		stripe, err := w.readCriticalStripe(p)
		if err != nil {
			return fmt.Errorf("mdreshape: reading critical stripe at unit %d: %w", w.Rec.CurrentUnit(), err)
		}

		transformed, err := w.Transform(stripe, w.SrcLayout, w.DstLayout)
		if err != nil {
			return fmt.Errorf("mdreshape: transforming critical stripe: %w", err)
		}
		if err := w.writeCheckpointArea(transformed); err != nil {
			return fmt.Errorf("mdreshape: writing checkpoint area: %w", err)
		}

		w.Rec.Status = uint8(imsm.MigrStatusSourceInCheckpointArea)
		w.Rec.SetCurrentUnit(w.Rec.CurrentUnit() + 1)
		if err := w.persistRecord(ctx); err != nil {
			return err
		}

		if err := w.Sync.Advance(ctx, p); err != nil {
			return fmt.Errorf("mdreshape: advancing kernel sync position: %w", err)
		}
		if err := waitSyncCompleted(ctx, w.Sync, p, dataDisks); err != nil {
			return err
		}

		w.Rec.Status = uint8(imsm.MigrStatusSourceNormal)
		if err := w.persistRecord(ctx); err != nil {
			return err
		}
	}
	return nil
}

func blocksPerUnitOf(w *Worker) uint64 {
	if w.DstLayout.BlocksPerUnit != 0 {
		return w.DstLayout.BlocksPerUnit
	}
	return w.SrcLayout.BlocksPerUnit
}

func countFailed(members []Member) int {
	n := 0
	for _, m := range members {
		if m.Failed {
			n++
		}
	}
	return n
}

// readCriticalStripe reads the source range [align_down_to_old_stripe(
// P_prev), P] into a bounded buffer (spec §4.5 step c). The buffer is
// djherbis/buffer-backed rather than a single fixed-size slice because
// blocks_per_unit is data-dependent and can be large for wide arrays;
// nio.Pipe gives the read stage a bounded, optionally disk-spilling
// channel into the transform stage instead of an unbounded io.Copy
// straight to a slice.
func (w *Worker) readCriticalStripe(p uint64) ([]byte, error) {
	pPrev := w.Rec.CurrentUnit() * blocksPerUnitOf(w)
	start := alignDown(pPrev, w.SrcLayout.StripAlignBlocks)
	if p <= start {
		return nil, nil
	}
	length := p - start

	const blockBytes = 512
	buf := buffer.New(int64(length * blockBytes))
	r, wr := nio.Pipe(buf)

	errc := make(chan error, 1)
	go func() {
		defer wr.Close()
		section := io.NewSectionReader(firstUsableReader(w.Members), int64(start*blockBytes), int64(length*blockBytes))
		_, err := io.Copy(wr, section)
		errc <- err
	}()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if cerr := <-errc; cerr != nil {
		return nil, cerr
	}
	return out, nil
}

func firstUsableReader(members []Member) io.ReaderAt {
	for _, m := range members {
		if !m.Failed && m.RW != nil {
			return m.RW
		}
	}
	return nil
}

func alignDown(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v / align) * align
}

func (w *Worker) writeCheckpointArea(data []byte) error {
	const blockBytes = 512
	off := int64(w.CkptAreaPBA * blockBytes)
	for i := range w.Members {
		m := &w.Members[i]
		if m.Failed || m.W == nil {
			continue
		}
		if _, err := m.W.WriteAt(data, off); err != nil {
			return fmt.Errorf("member %d: %w", m.Index, err)
		}
	}
	return nil
}

func (w *Worker) persistRecord(ctx context.Context) error {
	return w.Records.WriteRecord(ctx, w.Members, w.Rec)
}
