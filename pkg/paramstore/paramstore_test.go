package paramstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/clusterkeeper/pkg/paramstore"
)

func TestIsUnset(t *testing.T) {
	assert.True(t, paramstore.IsUnset(""))
	assert.True(t, paramstore.IsUnset(paramstore.Placeholder))
	assert.True(t, paramstore.IsUnset(paramstore.PendingInitialization))
	assert.False(t, paramstore.IsUnset("https://10.0.0.1:6443"))
}

func TestReadyForJoin(t *testing.T) {
	params := map[string]string{
		paramstore.KeyInitialized:    "true",
		paramstore.KeyEndpoint:       "https://10.0.0.1:6443",
		paramstore.KeyJoinToken:      "abc.def",
		paramstore.KeyCACertHash:     "sha256:deadbeef",
		paramstore.KeyCertificateKey: "cert-key-value",
	}
	assert.True(t, paramstore.ReadyForJoin(params))

	incomplete := map[string]string{paramstore.KeyInitialized: "true"}
	assert.False(t, paramstore.ReadyForJoin(incomplete))

	notInitialized := map[string]string{paramstore.KeyInitialized: "false"}
	assert.False(t, paramstore.ReadyForJoin(notInitialized))
}

func TestFakeStoreRoundTrip(t *testing.T) {
	store := paramstore.NewFakeStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, paramstore.KeyEndpoint, "https://10.0.0.1:6443", false))
	require.NoError(t, store.Put(ctx, paramstore.KeyJoinToken, "abc.def", true))

	v, err := store.Get(ctx, paramstore.KeyEndpoint)
	require.NoError(t, err)
	assert.Equal(t, "https://10.0.0.1:6443", v)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
