package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load("testdata/member.ini")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", cfg.RemoteAddress)
	assert.Equal(t, 9000, cfg.RemotePort)
	assert.False(t, cfg.IsRoot)
	assert.Equal(t, 500, cfg.IntervalMs)
	assert.Equal(t, 2048, cfg.PacketSize)
	// Unspecified keys keep their documented defaults.
	assert.Equal(t, DefaultBlockSize, cfg.BlockSize)
	assert.Equal(t, DefaultCacheSize, cfg.CacheSize)
}

func TestRootAddrResolves(t *testing.T) {
	cfg, err := Load("testdata/member.ini")
	require.NoError(t, err)
	addr, err := cfg.RootAddr()
	require.NoError(t, err)
	assert.EqualValues(t, 9000, addr.Port)
	assert.Equal(t, [4]byte{10, 0, 0, 1}, addr.IP)
}

func TestDefaultCacheSizeIsMultipleOfBlockSize(t *testing.T) {
	cfg := Default()
	assert.Zero(t, cfg.CacheSize%cfg.BlockSize)
}
