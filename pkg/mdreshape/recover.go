package mdreshape

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/mdcore/mdcore/pkg/imsm"
	"github.com/mdcore/mdcore/pkg/mdgeom"
)

// RecordSource reads the migration record from one member, in slot
// order, for recovery's "lowest-indexed non-failed slot" rule (spec
// §4.5 "Crash recovery").
type RecordSource interface {
	ReadRecord(ctx context.Context, member Member) (*imsm.MigrationRecord, error)
}

// RecoverBackup implements spec §4.5's crash recovery: if the lowest-
// indexed non-failed member's migration record shows
// source_in_checkpoint_area, replay the checkpoint area back onto
// every usable member's destination location. Tolerates up to the
// level-specific degradation; gives up past that.
func RecoverBackup(ctx context.Context, level mdgeom.Level, members []Member, src RecordSource, dstFirstMemberLBA, destOffsetInVolume uint64) error {
	rec, err := readLowestIndexedRecord(ctx, members, src)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil // no usable member carried a record; nothing to recover
	}
	if imsm.MigrStatus(rec.Status) != imsm.MigrStatusSourceInCheckpointArea {
		return nil // clean: the last checkpoint fully committed
	}

	tolerance := disksFailedTolerance(level, len(members))
	if failed := countFailed(members); failed > tolerance {
		return fmt.Errorf("mdreshape: recovery unrecoverable: %d members failed, tolerance is %d", failed, tolerance)
	}

	const blockBytes = 512
	depth := int64(rec.DestDepthPerUnit() * blockBytes)
	srcOff := int64(rec.CheckpointAreaPBA() * blockBytes)
	dstOff := int64((dstFirstMemberLBA + destOffsetInVolume) * blockBytes)

	buf := make([]byte, depth)
	for i := range members {
		m := &members[i]
		if m.Failed || m.RW == nil || m.W == nil {
			continue
		}
		if _, err := m.RW.ReadAt(buf, srcOff); err != nil && err != io.EOF {
			return fmt.Errorf("mdreshape: replay read on member %d: %w", m.Index, err)
		}
		if _, err := m.W.WriteAt(buf, dstOff); err != nil {
			return fmt.Errorf("mdreshape: replay write on member %d: %w", m.Index, err)
		}
	}
	return nil
}

func readLowestIndexedRecord(ctx context.Context, members []Member, src RecordSource) (*imsm.MigrationRecord, error) {
	ordered := make([]Member, len(members))
	copy(ordered, members)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	for _, m := range ordered {
		if m.Failed {
			continue
		}
		rec, err := src.ReadRecord(ctx, m)
		if err != nil {
			continue // this slot's record is unreadable; try the next
		}
		return rec, nil
	}
	return nil, nil
}
