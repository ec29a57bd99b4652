package geoip

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResolverEmptyPath(t *testing.T) {
	r, err := NewResolver("  ")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestNewResolverRejectsBadDatabase(t *testing.T) {
	_, err := NewResolver(filepath.Join(t.TempDir(), "missing.mmdb"))
	require.Error(t, err)

	junk := filepath.Join(t.TempDir(), "junk.mmdb")
	require.NoError(t, os.WriteFile(junk, []byte("not a maxmind database"), 0o644))
	_, err = NewResolver(junk)
	require.Error(t, err)
}

func TestNilResolverIsUnavailable(t *testing.T) {
	var r *Resolver
	_, err := r.CountryCode("8.8.8.8")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, r.Close())
}

func TestRoutable(t *testing.T) {
	cases := map[string]bool{
		"8.8.8.8":     true,
		"2001:4860::": true,
		"10.1.2.3":    false,
		"192.168.0.1": false,
		"127.0.0.1":   false,
		"::1":         false,
		"fe80::1":     false,
		"0.0.0.0":     false,
	}
	for raw, want := range cases {
		assert.Equal(t, want, routable(netip.MustParseAddr(raw)), raw)
	}
}
