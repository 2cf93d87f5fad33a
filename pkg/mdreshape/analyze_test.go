package mdreshape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdcore/mdcore/pkg/mdextent"
	"github.com/mdcore/mdcore/pkg/mdgeom"
)

func TestAnalyzeChangeRejectsAmbiguousRequest(t *testing.T) {
	_, err := AnalyzeChange(mdgeom.Level0, 3, Request{LevelSet: true, NewLevel: mdgeom.Level5, ChunkSet: true, NewChunkBlocks: 256}, 1000, nil, 0)
	require.Error(t, err)
}

func TestAnalyzeChangeRaid0ToRaid5IsMigrationWithLeftAsymmetric(t *testing.T) {
	plan, err := AnalyzeChange(mdgeom.Level0, 3, Request{LevelSet: true, NewLevel: mdgeom.Level5}, 1000, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, KindMigration, plan.Kind)
	assert.Equal(t, "left-asymmetric", plan.RequiredLayout)
	assert.Equal(t, 3, plan.NewMemberCount)
}

func TestAnalyzeChangeRaid0ToRaid10IsTakeoverDoublingMembers(t *testing.T) {
	plan, err := AnalyzeChange(mdgeom.Level0, 2, Request{LevelSet: true, NewLevel: mdgeom.Level10}, 1000, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, KindTakeover, plan.Kind)
	assert.Equal(t, 4, plan.NewMemberCount)
}

func TestAnalyzeChangeRaid10ToRaid0HalvesMembers(t *testing.T) {
	plan, err := AnalyzeChange(mdgeom.Level10, 4, Request{LevelSet: true, NewLevel: mdgeom.Level0}, 1000, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, KindTakeover, plan.Kind)
	assert.Equal(t, 2, plan.NewMemberCount)
}

func TestAnalyzeChangeRejectsUnsupportedLevelTransition(t *testing.T) {
	_, err := AnalyzeChange(mdgeom.Level5, 3, Request{LevelSet: true, NewLevel: mdgeom.Level6}, 1000, nil, 0)
	require.Error(t, err)
}

func TestAnalyzeChangeChunkForbiddenOnRaid10(t *testing.T) {
	_, err := AnalyzeChange(mdgeom.Level10, 4, Request{ChunkSet: true, NewChunkBlocks: 256}, 1024, nil, 0)
	require.Error(t, err)
}

func TestAnalyzeChangeChunkRequiresDivisibility(t *testing.T) {
	_, err := AnalyzeChange(mdgeom.Level5, 3, Request{ChunkSet: true, NewChunkBlocks: 300}, 1000, nil, 0)
	require.Error(t, err)
}

func TestAnalyzeChangeChunkAcceptsDivisibleSize(t *testing.T) {
	plan, err := AnalyzeChange(mdgeom.Level5, 3, Request{ChunkSet: true, NewChunkBlocks: 250}, 1000, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, KindMigration, plan.Kind)
}

func TestAnalyzeChangeGrowSucceedsWithEnoughFreeSpace(t *testing.T) {
	extents := []mdextent.Extent{{Start: 0, Size: 1000, Volume: "data"}}
	plan, err := AnalyzeChange(mdgeom.Level5, 3, Request{GrowSizePer: 500}, 1000, extents, 20000)
	require.NoError(t, err)
	assert.Equal(t, KindSizeChange, plan.Kind)
	assert.GreaterOrEqual(t, plan.AchievableGrow.Size(), uint64(500))
}

func TestAnalyzeChangeGrowFailsWithoutEnoughFreeSpace(t *testing.T) {
	extents := []mdextent.Extent{{Start: 0, Size: 1000, Volume: "data"}}
	_, err := AnalyzeChange(mdgeom.Level5, 3, Request{GrowSizePer: 500}, 1000, extents, 1200)
	require.Error(t, err)
}

func TestCanRollbackAcceptsExactInverse(t *testing.T) {
	current := InFlight{FromLevel: mdgeom.Level0, ToLevel: mdgeom.Level5, Kind: KindMigration}
	assert.True(t, CanRollback(current, Request{LevelSet: true, NewLevel: mdgeom.Level0}))
}

func TestCanRollbackRejectsTakeover(t *testing.T) {
	current := InFlight{FromLevel: mdgeom.Level0, ToLevel: mdgeom.Level10, Kind: KindTakeover}
	assert.False(t, CanRollback(current, Request{LevelSet: true, NewLevel: mdgeom.Level0}))
}

func TestCanRollbackRejectsNonInverseRequest(t *testing.T) {
	current := InFlight{FromLevel: mdgeom.Level0, ToLevel: mdgeom.Level5, Kind: KindMigration}
	assert.False(t, CanRollback(current, Request{LevelSet: true, NewLevel: mdgeom.Level6}))
}
