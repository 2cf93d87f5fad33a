package mdctl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSysfs struct{ written map[string]string }

func (f *fakeSysfs) Get(ctx context.Context, key string) (string, error) { return f.written[key], nil }
func (f *fakeSysfs) Set(ctx context.Context, key, value string) error {
	if f.written == nil {
		f.written = map[string]string{}
	}
	f.written[key] = value
	return nil
}

func TestSetArrayStateRejectsIllegalValue(t *testing.T) {
	s := &fakeSysfs{}
	err := SetArrayState(context.Background(), s, "broken")
	require.Error(t, err)
}

func TestSetArrayStateAcceptsLegalValues(t *testing.T) {
	s := &fakeSysfs{}
	require.NoError(t, SetArrayState(context.Background(), s, "read-auto"))
	assert.Equal(t, "read-auto", s.written["array_state"])
}

type fakeChannel struct {
	loaded  bool
	written string
}

func (c *fakeChannel) Write(ctx context.Context, devnm string) error {
	if !c.loaded {
		return ErrModuleNotLoaded
	}
	c.written = devnm
	return nil
}

func TestCreateNamedArrayModprobesOnceThenRetries(t *testing.T) {
	ch := &fakeChannel{}
	modprobed := 0
	modprobe := func(ctx context.Context) error {
		modprobed++
		ch.loaded = true
		return nil
	}

	err := CreateNamedArray(context.Background(), ch, modprobe, "md0")
	require.NoError(t, err)
	assert.Equal(t, 1, modprobed)
	assert.Equal(t, "md0", ch.written)
}

func TestCreateNamedArraySucceedsWithoutModprobeWhenAlreadyLoaded(t *testing.T) {
	ch := &fakeChannel{loaded: true}
	err := CreateNamedArray(context.Background(), ch, nil, "md1")
	require.NoError(t, err)
	assert.Equal(t, "md1", ch.written)
}
