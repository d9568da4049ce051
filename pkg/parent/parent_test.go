package parent

import (
	"net"
	"testing"

	"github.com/scdt-project/scdt/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(port int) wire.Addr {
	a, _ := wire.AddrFromUDP(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: port})
	return a
}

type sent struct {
	dst   wire.Addr
	frame wire.Frame
}

type fakeSender struct {
	sent []sent
}

func (f *fakeSender) Send(dst wire.Addr, frame []byte) error {
	decoded, err := wire.Decode(frame)
	if err != nil {
		panic(err)
	}
	f.sent = append(f.sent, sent{dst: dst, frame: decoded})
	return nil
}

func (f *fakeSender) last() sent { return f.sent[len(f.sent)-1] }

// TestBootstrapSendsPingAndChildren exercises a fresh non-root peer's
// first moves: probe the bootstrap contact and ask it for children.
func TestBootstrapSendsPingAndChildren(t *testing.T) {
	root := addr(9)
	s := &fakeSender{}
	e := New(root, s)
	e.Start()

	require.Len(t, s.sent, 2)
	assert.Equal(t, wire.KindPing, s.sent[0].frame.Kind)
	assert.Equal(t, wire.KindChildren, s.sent[1].frame.Kind)
	assert.Equal(t, root, s.sent[0].dst)
}

// TestEmptyTryFinalizesAttach matches S1: root replies TRY with n=0,
// member attaches directly to root.
func TestEmptyTryFinalizesAttach(t *testing.T) {
	root := addr(9)
	s := &fakeSender{}
	e := New(root, s)
	e.Start()

	e.HandleTry(root, nil)
	assert.Equal(t, root, e.Parent())
	assert.Equal(t, StateAttached, e.State())
	last := s.last()
	assert.Equal(t, wire.KindAttach, last.frame.Kind)
	assert.Equal(t, root, last.dst)
}

func TestAttachSuccessIsIdempotent(t *testing.T) {
	root := addr(9)
	s := &fakeSender{}
	e := New(root, s)
	e.Start()
	e.HandleTry(root, nil)
	e.HandleAttachSuccess(root)
	assert.Equal(t, root, e.Parent())
	assert.Equal(t, StateAttached, e.State())
}

// TestDescendToCloserCandidate matches S2: root's TRY carries [A]; B pings
// A, A's stretch is acceptable, B descends to A.
func TestDescendToCloserCandidate(t *testing.T) {
	root := addr(9)
	candidateA := addr(10)
	s := &fakeSender{}
	e := New(root, s)
	e.Start()

	// Establish the root RTT baseline. Set directly rather than relying on
	// wall-clock timing within the test process.
	e.HandlePingResponse(root, 0, true)
	e.rootRTT = 1000

	e.HandleTry(root, []wire.Addr{candidateA})
	assert.Equal(t, 1, e.Depth())
	assert.Equal(t, StateAwaitingRound, e.State())

	// A responds to the probe with a small reported RTT-to-root.
	e.HandlePingResponse(candidateA, 0.1, false)

	assert.Equal(t, candidateA, e.Parent())
	last := s.last()
	assert.Equal(t, wire.KindChildren, last.frame.Kind)
	assert.Equal(t, candidateA, last.dst)
}

// TestUnacceptableStretchFallsBackToCurrentParent verifies that when no
// candidate clears MaxStretch, the engine attaches at the current level
// instead of descending.
func TestUnacceptableStretchFallsBackToCurrentParent(t *testing.T) {
	root := addr(9)
	farCandidate := addr(11)
	s := &fakeSender{}
	e := New(root, s)
	e.Start()
	e.HandlePingResponse(root, 0, true)
	e.rootRTT = 1000 // microseconds, tiny direct path to root

	e.HandleTry(root, []wire.Addr{farCandidate})
	// Candidate reports a huge RTT-to-root, well past 2x direct.
	e.HandlePingResponse(farCandidate, 1_000_000, false)

	assert.Equal(t, root, e.Parent())
	assert.Equal(t, StateAttached, e.State())
	last := s.last()
	assert.Equal(t, wire.KindAttach, last.frame.Kind)
}

// TestUnresolvedCandidateAbsentFromEvaluation drives evaluate() directly
// once the round has (by whatever means) closed out, to check that a
// candidate whose probe never came back is skipped rather than crashing
// or winning by default. Attach has no explicit timeout, so how a round
// with a permanently lost probe ever reaches roundPending==0 is left to
// the caller; this test isolates the skip behavior in isolation from that
// question.
func TestUnresolvedCandidateAbsentFromEvaluation(t *testing.T) {
	root := addr(9)
	a, b := addr(10), addr(11)
	s := &fakeSender{}
	e := New(root, s)
	e.Start()
	e.HandlePingResponse(root, 0, true)

	e.rootRTT = 1000
	e.HandleTry(root, []wire.Addr{a, b})
	// Only b responds; a's probe is lost.
	e.pings.Resolve(b, false, 0.01)
	e.roundPending = 0
	e.evaluate()

	assert.Equal(t, b, e.Parent())
}

func TestReattachRestartsBootstrap(t *testing.T) {
	root := addr(9)
	a := addr(10)
	s := &fakeSender{}
	e := New(root, s)
	e.Start()
	e.HandlePingResponse(root, 0, true)
	e.rootRTT = 1000
	e.HandleTry(root, []wire.Addr{a})
	e.HandlePingResponse(a, 0.01, false)
	require.Equal(t, a, e.Parent())

	e.HandleReattach()
	assert.Equal(t, root, e.Parent())
	assert.Equal(t, StateBootstrap, e.State())
	assert.Equal(t, 0, e.Depth())
}
