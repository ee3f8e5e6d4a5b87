package oru

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetaGetSetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, ok, err := metaGet(ctx, store.Writer(), "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, metaSet(ctx, store.Writer(), "key1", "value1"))
	v, ok, err := metaGet(ctx, store.Writer(), "key1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value1", v)

	require.NoError(t, metaSet(ctx, store.Writer(), "key1", "value2"))
	v, ok, err = metaGet(ctx, store.Writer(), "key1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value2", v)
}

func TestDeviceIdentityPersistsAcrossCalls(t *testing.T) {
	store := newTestStore(t)
	device := NewDeviceIdentity(store)
	ctx := context.Background()

	first, err := device.GetDeviceID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := device.GetDeviceID(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
