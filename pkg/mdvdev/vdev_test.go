package mdvdev

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	v := New(1 << 20)

	payload := []byte("imsm anchor payload")
	_, err := v.Seek(512, io.SeekStart)
	require.NoError(t, err)
	n, err := v.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	_, err = v.Seek(512, io.SeekStart)
	require.NoError(t, err)
	_, err = io.ReadFull(v, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf)
}

func TestUnwrittenRegionReadsAsZero(t *testing.T) {
	v := New(BlockSize * 4)
	buf := make([]byte, 256)
	_, err := v.Seek(BlockSize*2, io.SeekStart)
	require.NoError(t, err)
	_, err = io.ReadFull(v, buf)
	require.NoError(t, err)
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}
}

func TestWriteSpanningBlockBoundary(t *testing.T) {
	v := New(BlockSize * 3)
	payload := make([]byte, 128)
	for i := range payload {
		payload[i] = byte(i)
	}
	off := int64(BlockSize - 64)
	_, err := v.Seek(off, io.SeekStart)
	require.NoError(t, err)
	_, err = v.Write(payload)
	require.NoError(t, err)

	buf := make([]byte, len(payload))
	_, err = v.Seek(off, io.SeekStart)
	require.NoError(t, err)
	_, err = io.ReadFull(v, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf)
}

func TestInjectedReadErrorSurfacesOnExactOffset(t *testing.T) {
	v := New(BlockSize)
	boom := io.ErrUnexpectedEOF
	v.InjectReadError(512, boom)

	_, err := v.Seek(512, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 64)
	_, err = v.Read(buf)
	assert.ErrorIs(t, err, boom)

	v.ClearReadError(512)
	_, err = v.Seek(512, io.SeekStart)
	require.NoError(t, err)
	_, err = v.Read(buf)
	assert.NoError(t, err)
}

func TestWriteBeyondDeviceSizeFails(t *testing.T) {
	v := New(512)
	_, err := v.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = v.Write(make([]byte, 1024))
	assert.Error(t, err)
}
