package etcdid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/clusterkeeper/pkg/etcdid"
)

func TestRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 255, 1 << 32, 0xFFFFFFFFFFFFFFFF, 0x1a2b3c4d5e6f}
	for _, decimal := range cases {
		hex := etcdid.ToHex(decimal)
		got, err := etcdid.FromHex(hex)
		require.NoError(t, err)
		assert.Equal(t, decimal, got, "round trip for %d", decimal)
	}
}

func TestFromHexInvalid(t *testing.T) {
	_, err := etcdid.FromHex("not-hex")
	assert.Error(t, err)
}

func TestToHexKnownValue(t *testing.T) {
	assert.Equal(t, "ff", etcdid.ToHex(255))
	assert.Equal(t, "0", etcdid.ToHex(0))
}
