// Package pingtable tracks outstanding latency probes. It is a small,
// bounded ring buffer: slot reuse is tolerated because resolution is
// keyed primarily by source address, with a root-flag fallback (see
// Resolve), not by slot identity.
package pingtable

import (
	"time"

	"github.com/scdt-project/scdt/pkg/wire"
	log "github.com/sirupsen/logrus"
)

// Capacity bounds the number of outstanding probes tracked at once.
const Capacity = 100

// entry mirrors one slot of the parallel pings/ping_start_time/ping_rtt/
// ping_to_root/stretch parallel arrays of the original design.
type entry struct {
	dest      wire.Addr
	startTime time.Time
	rtt       time.Duration
	resolved  bool
	toRoot    float64
	isRoot    bool
}

// Table is a fixed-capacity FIFO-reused ring of probes.
type Table struct {
	entries [Capacity]entry
	next    int // num_pings, mod Capacity
	filled  int // number of live slots, caps at Capacity
	logger  *log.Entry
}

// New builds an empty ping table.
func New() *Table {
	return &Table{logger: log.WithField("component", "pingtable")}
}

// Send records a new outstanding probe to dest and returns its slot index.
// The caller is responsible for actually transmitting the PING frame.
func (t *Table) Send(dest wire.Addr) int {
	idx := t.next
	t.entries[idx] = entry{dest: dest, startTime: time.Now()}
	t.next = (t.next + 1) % Capacity
	if t.filled < Capacity {
		t.filled++
	}
	return idx
}

// StartTime returns the start time recorded for idx, for callers that need
// to recompute RTT manually (e.g. tests).
func (t *Table) StartTime(idx int) time.Time {
	return t.entries[idx].startTime
}

// Resolve matches an inbound PING_RESP against an outstanding probe. It
// scans for the first entry whose stored destination equals source; if
// none matches, it falls back to an entry whose response carries
// isRoot=true (tolerating ping-ring slot reuse races).
// On success it records the measured RTT and the parent's reported
// RTT-to-root, and returns the resolved slot index.
func (t *Table) Resolve(source wire.Addr, isRoot bool, rootPing float64) (int, bool) {
	now := time.Now()
	n := t.filled
	for i := 0; i < n; i++ {
		if t.entries[i].dest == source {
			t.resolveAt(i, now, isRoot, rootPing)
			return i, true
		}
	}
	if isRoot {
		// Root-flag fallback: identify the root's slot even when address
		// equality fails to line up because of a reused slot.
		for i := 0; i < n; i++ {
			if t.entries[i].dest == source || !t.entries[i].resolved {
				t.resolveAt(i, now, isRoot, rootPing)
				return i, true
			}
		}
		// Last resort: the initial root_ping is tied to ping index 0.
		t.resolveAt(0, now, isRoot, rootPing)
		return 0, true
	}
	t.logger.Debug("unresolvable ping response dropped")
	return 0, false
}

func (t *Table) resolveAt(idx int, now time.Time, isRoot bool, rootPing float64) {
	e := &t.entries[idx]
	e.rtt = now.Sub(e.startTime)
	e.resolved = true
	e.isRoot = isRoot
	e.toRoot = rootPing
}

// RTT returns the measured round-trip-time for idx.
func (t *Table) RTT(idx int) time.Duration { return t.entries[idx].rtt }

// ToRoot returns the RTT-to-root the candidate at idx reported.
func (t *Table) ToRoot(idx int) float64 { return t.entries[idx].toRoot }

// IsRoot reports whether the probe at idx was resolved by the root.
func (t *Table) IsRoot(idx int) bool { return t.entries[idx].isRoot }

// Dest returns the destination address probed at idx.
func (t *Table) Dest(idx int) wire.Addr { return t.entries[idx].dest }

// Resolved reports whether idx has received a response.
func (t *Table) Resolved(idx int) bool { return t.entries[idx].resolved }

// Reset clears all entries, used when a peer is evicted and must restart
// its bootstrap (the Evicted state).
func (t *Table) Reset() {
	*t = Table{logger: t.logger}
}
