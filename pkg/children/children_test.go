package children

import (
	"net"
	"testing"
	"time"

	"github.com/scdt-project/scdt/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(port int) wire.Addr {
	a, _ := wire.AddrFromUDP(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: port})
	return a
}

func fillFourChildren(tbl *Table) {
	pings := []time.Duration{50 * time.Millisecond, 60 * time.Millisecond, 70 * time.Millisecond, 80 * time.Millisecond}
	for i, p := range pings {
		tbl.Offer(addr(i+1), p)
	}
}

func TestAdmitUntilFull(t *testing.T) {
	tbl := New()
	fillFourChildren(tbl)
	assert.Equal(t, MaxFanout, tbl.Len())
}

// TestEvictionS3 sets shortest pings to [50,60,70,80]ms; a 40ms candidate
// should evict the 80ms child (slot 3).
func TestEvictionS3(t *testing.T) {
	tbl := New()
	fillFourChildren(tbl)

	res := tbl.Offer(addr(100), 40*time.Millisecond)
	require.Equal(t, Admitted, res.Outcome)
	require.NotNil(t, res.Evicted)
	assert.Equal(t, addr(4), *res.Evicted)
	assert.True(t, tbl.Contains(addr(100)))
	assert.False(t, tbl.Contains(addr(4)))
	assert.Equal(t, MaxFanout, tbl.Len())
}

// TestNoEvictionS4 checks that a 75ms candidate does not clear the 80ms
// child's 10% margin (72ms), so it gets redirected instead of admitted.
func TestNoEvictionS4(t *testing.T) {
	tbl := New()
	fillFourChildren(tbl)

	res := tbl.Offer(addr(200), 75*time.Millisecond)
	assert.Equal(t, Redirected, res.Outcome)
	assert.Nil(t, res.Evicted)
	assert.False(t, tbl.Contains(addr(200)))
}

func TestUpdateExistingChildTakesMin(t *testing.T) {
	tbl := New()
	tbl.Offer(addr(1), 100*time.Millisecond)
	res := tbl.Offer(addr(1), 50*time.Millisecond)
	assert.Equal(t, Updated, res.Outcome)

	res2 := tbl.Offer(addr(1), 200*time.Millisecond)
	assert.Equal(t, Updated, res2.Outcome)
	assert.Equal(t, 1, tbl.Len())
	assert.Equal(t, 50*time.Millisecond, tbl.slots[0].shortestPing)
}

func TestDistinctChildrenInvariant(t *testing.T) {
	tbl := New()
	fillFourChildren(tbl)
	seen := map[wire.Addr]bool{}
	for _, a := range tbl.Addrs() {
		assert.False(t, seen[a])
		seen[a] = true
	}
}
