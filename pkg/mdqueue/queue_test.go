package mdqueue

import (
	"testing"

	"github.com/mdcore/mdcore/pkg/mdsuper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueDequeueOrder(t *testing.T) {
	q, err := Open(t.TempDir())
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Enqueue(mdsuper.Update{Kind: mdsuper.UpdateRenameArray, VolumeName: "a"}))
	require.NoError(t, q.Enqueue(mdsuper.Update{Kind: mdsuper.UpdateKillArray, VolumeName: "b"}))
	assert.Equal(t, uint64(2), q.Len())

	first, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "a", first.VolumeName)

	second, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "b", second.VolumeName)
}

func TestQueueDrainAppliesInOrderAndEmpties(t *testing.T) {
	q, err := Open(t.TempDir())
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Enqueue(mdsuper.Update{Kind: mdsuper.UpdateRenameArray, VolumeName: "a"}))
	require.NoError(t, q.Enqueue(mdsuper.Update{Kind: mdsuper.UpdateRenameArray, VolumeName: "b"}))

	var seen []string
	require.NoError(t, q.Drain(func(u mdsuper.Update) error {
		seen = append(seen, u.VolumeName)
		return nil
	}))
	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Equal(t, uint64(0), q.Len())
}
