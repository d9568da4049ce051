// Package parent implements the parent-selection engine: the
// per-peer state machine that walks down the tree from the root, probing
// candidates nominated by TRY frames and descending to the best
// acceptable one until it finds where it belongs.
package parent

import (
	"github.com/scdt-project/scdt/pkg/pingtable"
	"github.com/scdt-project/scdt/pkg/wire"
	log "github.com/sirupsen/logrus"
)

// MaxStretch is the acceptability threshold for a candidate's stretch.
const MaxStretch = 2.0

// State names the parent-selection engine's current phase.
type State uint8

const (
	StateBootstrap State = iota
	StateAwaitingRound
	StateEvaluating
	StateAttached
)

// Sender abstracts sending a control frame to a peer, so this package does
// not depend on the transport or the rest of the peer.
type Sender interface {
	Send(dst wire.Addr, frame []byte) error
}

// Engine drives parent selection for one non-root peer.
type Engine struct {
	root   wire.Addr
	parent wire.Addr
	sender Sender
	pings  *pingtable.Table
	logger *log.Entry

	state State

	// rootRTT is the round-trip time to the root, established by the
	// first PING_RESP from the root (ping index 0).
	rootRTT float64

	candidateStack []int // LIFO of ping-table indices for the current round
	candidateSet   map[int]struct{}
	roundPending   int

	depth int
}

// New builds a parent-selection engine for a non-root peer whose
// bootstrap contact is root.
func New(root wire.Addr, sender Sender) *Engine {
	return &Engine{
		root:         root,
		parent:       root,
		sender:       sender,
		pings:        pingtable.New(),
		candidateSet: map[int]struct{}{},
		logger:       log.WithField("component", "parent"),
	}
}

// Parent returns the current best-known parent address.
func (e *Engine) Parent() wire.Addr { return e.parent }

// Depth returns the diagnostic descent depth accumulated so far.
func (e *Engine) Depth() int { return e.depth }

// State returns the engine's current phase.
func (e *Engine) State() State { return e.state }

// RootRTT returns this peer's own measured RTT-to-root baseline, the
// value it reports in the PING_RESP it sends back to probers.
func (e *Engine) RootRTT() float64 { return e.rootRTT }

// Start begins the bootstrap: probe the root and ask it for children.
func (e *Engine) Start() {
	e.state = StateBootstrap
	e.pings.Send(e.root)
	_ = e.sender.Send(e.root, wire.EncodePing())
	_ = e.sender.Send(e.root, wire.EncodeChildren())
}

// HandlePingResponse resolves an inbound PING_RESP against the ping
// table. If it completes the currently-awaited round, evaluation runs.
func (e *Engine) HandlePingResponse(source wire.Addr, rootPing float64, isRoot bool) {
	idx, ok := e.pings.Resolve(source, isRoot, rootPing)
	if !ok {
		return
	}
	if isRoot && e.rootRTT == 0 {
		e.rootRTT = float64(e.pings.RTT(idx).Microseconds())
	}

	if _, inRound := e.candidateSet[idx]; !inRound {
		return
	}
	if e.roundPending > 0 {
		e.roundPending--
	}
	if e.roundPending == 0 {
		e.evaluate()
	}
}

// HandleTry processes an inbound TRY, arming a new probing round over the
// carried candidates. An empty candidate list finalizes attachment at the
// sender immediately.
func (e *Engine) HandleTry(source wire.Addr, candidates []wire.Addr) {
	e.depth++
	if len(candidates) == 0 {
		e.parent = source
		_ = e.sender.Send(e.parent, wire.EncodeAttach())
		e.state = StateAttached
		return
	}

	e.candidateStack = e.candidateStack[:0]
	for k := range e.candidateSet {
		delete(e.candidateSet, k)
	}
	e.roundPending = len(candidates)
	e.state = StateAwaitingRound

	for _, c := range candidates {
		idx := e.pings.Send(c)
		e.candidateStack = append(e.candidateStack, idx)
		e.candidateSet[idx] = struct{}{}
		_ = e.sender.Send(c, wire.EncodePing())
	}
}

// evaluate implements the Evaluating state: pick the minimum-stretch
// acceptable candidate from the completed round, or fall back to
// attaching at the current parent. The bootstrap ping to the root never
// reaches here: it is never added to candidateSet, so HandlePingResponse
// returns before calling evaluate for it: evaluation only follows a
// TRY-driven round, and only once the responder is not the root.
func (e *Engine) evaluate() {
	e.state = StateEvaluating

	bestIdx := -1
	bestStretch := MaxStretch
	for len(e.candidateStack) > 0 {
		idx := e.candidateStack[len(e.candidateStack)-1]
		e.candidateStack = e.candidateStack[:len(e.candidateStack)-1]
		if !e.pings.Resolved(idx) {
			continue // never resolved within the round: absent from evaluation
		}
		stretch := e.stretchOf(idx)
		if stretch < bestStretch {
			bestStretch = stretch
			bestIdx = idx
		}
	}

	if bestIdx >= 0 {
		e.parent = e.pings.Dest(bestIdx)
		_ = e.sender.Send(e.parent, wire.EncodeChildren())
		e.state = StateAwaitingRound
		return
	}

	_ = e.sender.Send(e.parent, wire.EncodeAttach())
	e.state = StateAttached
}

func (e *Engine) stretchOf(idx int) float64 {
	if e.rootRTT == 0 {
		return MaxStretch // avoid div-by-zero before the root baseline exists
	}
	rtt := float64(e.pings.RTT(idx).Microseconds())
	p2r := e.pings.ToRoot(idx)
	return (rtt + p2r) / e.rootRTT
}

// HandleAttachSuccess accepts ATTACH_SUC. Some protocol variants already
// set parent on descent, so accepting this late is idempotent.
func (e *Engine) HandleAttachSuccess(source wire.Addr) {
	e.parent = source
	e.state = StateAttached
	e.logger.WithField("parent", source).Info("attached")
}

// HandleReattach implements the Evicted transition: reset all
// parent-selection state and restart bootstrap from the root.
func (e *Engine) HandleReattach() {
	e.logger.Warn("evicted by parent, restarting bootstrap")
	e.pings.Reset()
	e.candidateStack = nil
	e.candidateSet = map[int]struct{}{}
	e.roundPending = 0
	e.rootRTT = 0
	e.depth = 0
	e.parent = e.root
	e.Start()
}
