package objectstore_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/clusterkeeper/pkg/objectstore"
)

func TestMetadataValid(t *testing.T) {
	assert.True(t, objectstore.Metadata{Hash: "abc123"}.Valid())
	assert.False(t, objectstore.Metadata{Hash: ""}.Valid())
	assert.False(t, objectstore.Metadata{Hash: "0"}.Valid())
}

func TestSnapshotKey(t *testing.T) {
	ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "demo/etcd-snapshot-20260731-120000.db", objectstore.SnapshotKey("demo", ts))
}

func TestFakeStoreLatest(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := objectstore.NewFakeStore(func() time.Time {
		c := clock
		clock = clock.Add(time.Hour)
		return c
	})

	require.NoError(t, store.Put(ctx, "demo/etcd-snapshot-1.db", bytes.NewReader([]byte("a")), 1, objectstore.Metadata{Hash: "h1"}))
	require.NoError(t, store.Put(ctx, "demo/etcd-snapshot-2.db", bytes.NewReader([]byte("bb")), 2, objectstore.Metadata{Hash: "h2"}))

	latest, err := store.Latest(ctx, "demo")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "demo/etcd-snapshot-2.db", latest.Key)
	assert.Equal(t, "h2", latest.Metadata.Hash)
}
