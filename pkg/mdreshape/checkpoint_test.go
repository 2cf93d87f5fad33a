package mdreshape

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdcore/mdcore/pkg/imsm"
	"github.com/mdcore/mdcore/pkg/mdgeom"
)

type memBacking struct{ data []byte }

func newMemBacking(size int) *memBacking { return &memBacking{data: make([]byte, size)} }

func (m *memBacking) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.data[off:])
	return n, nil
}

func (m *memBacking) WriteAt(p []byte, off int64) (int, error) {
	n := copy(m.data[off:], p)
	return n, nil
}

type fakeRecordWriter struct{ writes int }

func (w *fakeRecordWriter) WriteRecord(ctx context.Context, members []Member, rec *imsm.MigrationRecord) error {
	w.writes++
	return nil
}

type fakeSyncer struct{ completed uint64 }

func (s *fakeSyncer) Advance(ctx context.Context, p uint64) error { return nil }
func (s *fakeSyncer) Completed(ctx context.Context) (uint64, error) {
	s.completed += 1_000_000
	return s.completed, nil
}

func identityTransform(src []byte, srcLayout, dstLayout Layout) ([]byte, error) {
	return src, nil
}

func TestWorkerRunCompletesAllUnits(t *testing.T) {
	const memberSize = 1 << 16
	backing := []*memBacking{newMemBacking(memberSize), newMemBacking(memberSize), newMemBacking(memberSize)}
	members := make([]Member, len(backing))
	for i, b := range backing {
		members[i] = Member{Index: int32(i), RW: b, W: b}
	}

	w := &Worker{
		Level:       mdgeom.Level5,
		Members:     members,
		SrcLayout:   Layout{BlocksPerUnit: 8, StripAlignBlocks: 8},
		DstLayout:   Layout{BlocksPerUnit: 8},
		CkptAreaPBA: 100,
		NumUnits:    4,
		MaxPosition: 32,
		Transform:   identityTransform,
		Records:     &fakeRecordWriter{},
		Sync:        &fakeSyncer{},
		Rec:         &imsm.MigrationRecord{},
	}

	err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, w.NumUnits, w.Rec.CurrentUnit())
	assert.Equal(t, uint8(imsm.MigrStatusSourceNormal), w.Rec.Status)
}

func TestWorkerRunAbortsWhenDegradedPastTolerance(t *testing.T) {
	const memberSize = 1 << 16
	backing := []*memBacking{newMemBacking(memberSize), newMemBacking(memberSize), newMemBacking(memberSize)}
	members := make([]Member, len(backing))
	for i, b := range backing {
		members[i] = Member{Index: int32(i), RW: b, W: b}
	}
	members[0].Failed = true
	members[1].Failed = true

	w := &Worker{
		Level:       mdgeom.Level5,
		Members:     members,
		SrcLayout:   Layout{BlocksPerUnit: 8, StripAlignBlocks: 8},
		DstLayout:   Layout{BlocksPerUnit: 8},
		NumUnits:    4,
		MaxPosition: 32,
		Transform:   identityTransform,
		Records:     &fakeRecordWriter{},
		Sync:        &fakeSyncer{},
		Rec:         &imsm.MigrationRecord{},
	}

	err := w.Run(context.Background())
	require.Error(t, err)
}

func TestWorkerRunPersistsRecordTwicePerUnit(t *testing.T) {
	const memberSize = 1 << 16
	backing := []*memBacking{newMemBacking(memberSize), newMemBacking(memberSize)}
	members := make([]Member, len(backing))
	for i, b := range backing {
		members[i] = Member{Index: int32(i), RW: b, W: b}
	}

	rw := &fakeRecordWriter{}
	w := &Worker{
		Level:       mdgeom.Level1,
		Members:     members,
		SrcLayout:   Layout{BlocksPerUnit: 4, StripAlignBlocks: 4},
		DstLayout:   Layout{BlocksPerUnit: 4},
		NumUnits:    2,
		MaxPosition: 8,
		Transform:   identityTransform,
		Records:     rw,
		Sync:        &fakeSyncer{},
		Rec:         &imsm.MigrationRecord{},
	}

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, int(w.NumUnits)*2, rw.writes)
}
