// Package children implements the fixed-fanout child admission table:
// greedy latency-minimizing admission with a hysteresis margin against
// oscillation.
package children

import (
	"time"

	"github.com/scdt-project/scdt/pkg/wire"
	log "github.com/sirupsen/logrus"
)

// MaxFanout is the maximum number of children a peer will accept.
const MaxFanout = 4

// evictionMargin is the 10% improvement a candidate must clear before it
// is allowed to evict an existing, worse-located child.
const evictionMargin = 0.10

type slot struct {
	addr         wire.Addr
	shortestPing time.Duration
}

// Table holds a peer's admitted children.
type Table struct {
	slots  []slot
	logger *log.Entry
}

// New builds an empty child table.
func New() *Table {
	return &Table{logger: log.WithField("component", "children")}
}

// Outcome describes what Offer decided to do with a candidate.
type Outcome int

const (
	// Admitted: the candidate was accepted as a new child (table had room,
	// or it evicted a worse-located one).
	Admitted Outcome = iota
	// Updated: the candidate was already a child; its measured ping was
	// refreshed to the better of the two values.
	Updated
	// Redirected: the table is full and no eviction was justified; the
	// candidate should be sent TRY with the current child list.
	Redirected
)

// Evicted, when non-nil from Offer, names the child that was kicked out
// and must be sent REATTACH.
type Result struct {
	Outcome Outcome
	Evicted *wire.Addr
}

// Offer applies the admission policy for addr with the given measured
// ping (0 when unmeasured). It returns what happened and, on eviction,
// who must be notified.
func (t *Table) Offer(addr wire.Addr, ping time.Duration) Result {
	for i := range t.slots {
		if t.slots[i].addr == addr {
			if ping < t.slots[i].shortestPing {
				t.slots[i].shortestPing = ping
			}
			return Result{Outcome: Updated}
		}
	}

	if len(t.slots) < MaxFanout {
		t.slots = append(t.slots, slot{addr: addr, shortestPing: ping})
		t.logger.WithField("child", addr).Info("admitted child")
		return Result{Outcome: Admitted}
	}

	worst := 0
	for i := 1; i < len(t.slots); i++ {
		if t.slots[i].shortestPing > t.slots[worst].shortestPing {
			worst = i
		}
	}
	threshold := t.slots[worst].shortestPing - t.slots[worst].shortestPing/10
	if ping < threshold {
		evicted := t.slots[worst].addr
		t.logger.WithFields(log.Fields{"evicted": evicted, "candidate": addr}).Info("evicting worse-located child")
		t.slots[worst] = slot{addr: addr, shortestPing: ping}
		return Result{Outcome: Admitted, Evicted: &evicted}
	}

	return Result{Outcome: Redirected}
}

// Remove deletes addr from the table, if present (e.g. after it is sent
// REATTACH elsewhere, or detected gone).
func (t *Table) Remove(addr wire.Addr) bool {
	for i := range t.slots {
		if t.slots[i].addr == addr {
			t.slots = append(t.slots[:i], t.slots[i+1:]...)
			return true
		}
	}
	return false
}

// Addrs returns the current children in table order, suitable for
// serializing a TRY/CHILDREN reply.
func (t *Table) Addrs() []wire.Addr {
	out := make([]wire.Addr, len(t.slots))
	for i, s := range t.slots {
		out[i] = s.addr
	}
	return out
}

// Len reports the current number of admitted children.
func (t *Table) Len() int { return len(t.slots) }

// Contains reports whether addr is currently an admitted child.
func (t *Table) Contains(addr wire.Addr) bool {
	for _, s := range t.slots {
		if s.addr == addr {
			return true
		}
	}
	return false
}
