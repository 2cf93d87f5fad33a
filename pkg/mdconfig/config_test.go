package mdconfig

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesPrefixedKeywords(t *testing.T) {
	src := `
# a comment
HOMEHOST myhost
ARR /dev/md0 metadata=imsm UUID=1234
DEV /dev/sd[a-d]
MONITORDELAY 60
`
	v, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, "myhost", v.HomeHost())
	assert.Equal(t, 60, v.MonitorDelay())
	require.Len(t, v.ArrayLines(), 1)
	assert.Contains(t, v.ArrayLines()[0], "metadata=imsm")
	require.Len(t, v.DeviceLines(), 1)
}

func TestLoadRejectsUnknownKeyword(t *testing.T) {
	_, err := Load(strings.NewReader("BOGUS foo"))
	require.Error(t, err)
}

func TestLoadRejectsTooShortToken(t *testing.T) {
	_, err := Load(strings.NewReader("AR foo"))
	require.Error(t, err)
}
