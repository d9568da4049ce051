// Package peer composes the six SCDT components (codec, ping table,
// parent-selection engine, child table, forwarding, and block cache) into
// one running peer, the way pkg/node/local.go composes NMT, PDO, SDO and
// the object dictionary into one CANopen node.
package peer

import (
	"sync"
	"time"

	"github.com/scdt-project/scdt/pkg/cache"
	"github.com/scdt-project/scdt/pkg/children"
	"github.com/scdt-project/scdt/pkg/config"
	"github.com/scdt-project/scdt/pkg/diag"
	"github.com/scdt-project/scdt/pkg/forward"
	"github.com/scdt-project/scdt/pkg/parent"
	"github.com/scdt-project/scdt/pkg/transport"
	"github.com/scdt-project/scdt/pkg/wire"
	log "github.com/sirupsen/logrus"
)

// attachBootstrapDelay is the pause before a non-root peer sends its
// first PING/CHILDREN to its bootstrap contact.
const attachBootstrapDelay = 50 * time.Millisecond

// Socket is the narrow transport surface a Peer needs; *transport.Socket
// satisfies it, and tests can substitute an in-memory fake.
type Socket interface {
	Send(dst wire.Addr, frame []byte) error
	Connect(listener transport.Listener)
	Close() error
}

// Peer is one running SCDT node: a single-threaded cooperative event loop
// over one datagram endpoint.
type Peer struct {
	cfg    config.Config
	self   wire.Addr
	isRoot bool
	root   wire.Addr

	socket Socket
	logger *log.Entry

	mu       sync.Mutex
	children *children.Table
	cache    *cache.Cache
	parentFn *parent.Engine // nil for the root

	originator *forward.Originator

	attachTimer     *time.Timer
	originationTick *time.Ticker
	stopOrigination chan struct{}

	diagWriter  *diag.Writer
	lastLatency time.Duration
}

// New builds a Peer from cfg, bound to self, without starting it.
func New(cfg config.Config, self wire.Addr, socket Socket, diagDir string) (*Peer, error) {
	root, err := cfg.RootAddr()
	if err != nil {
		return nil, err
	}

	p := &Peer{
		cfg:      cfg,
		self:     self,
		isRoot:   cfg.IsRoot,
		root:     root,
		socket:   socket,
		logger:   log.WithField("component", "peer").WithField("self", self),
		children: children.New(),
		cache:    cache.New(cfg.CacheSize, cfg.BlockSize),
		diagWriter: diag.NewWriter(diagDir),
	}
	if !p.isRoot {
		p.parentFn = parent.New(root, senderAdapter{p})
	}
	return p, nil
}

// senderAdapter lets parent.Engine (and forward.Relay/Originator) send
// through the peer's socket without depending on *Peer directly.
type senderAdapter struct{ p *Peer }

func (s senderAdapter) Send(dst wire.Addr, frame []byte) error { return s.p.socket.Send(dst, frame) }

// Start binds the peer into its event loop: the root begins periodic data
// origination, a non-root peer schedules its initial attach bootstrap.
func (p *Peer) Start() {
	p.socket.Connect(p)

	if p.isRoot {
		body := make([]byte, 0)
		p.originator = forward.NewOriginator(p.cfg.PacketSize, senderAdapter{p}, p.children, func(n int) []byte {
			if len(body) < n {
				return make([]byte, n)
			}
			return body[:n]
		})
		p.originationTick = time.NewTicker(time.Duration(p.cfg.IntervalMs) * time.Millisecond)
		p.stopOrigination = make(chan struct{})
		go p.runOrigination()
		return
	}

	p.attachTimer = time.AfterFunc(attachBootstrapDelay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.parentFn.Start()
	})
}

func (p *Peer) runOrigination() {
	for {
		select {
		case <-p.originationTick.C:
			p.mu.Lock()
			p.originator.Tick()
			p.mu.Unlock()
		case <-p.stopOrigination:
			return
		}
	}
}

// Stop cancels pending timers, closes the socket, and (for non-root
// peers) appends the diagnostic artefacts.
func (p *Peer) Stop() error {
	if p.attachTimer != nil {
		p.attachTimer.Stop()
	}
	if p.originationTick != nil {
		p.originationTick.Stop()
		close(p.stopOrigination)
	}
	err := p.socket.Close()

	if !p.isRoot {
		p.mu.Lock()
		latency := p.lastLatency
		childCount := p.children.Len()
		p.mu.Unlock()
		if werr := p.diagWriter.RecordLatency(latency); werr != nil {
			p.logger.WithError(werr).Warn("failed writing times.txt")
		}
		if werr := p.diagWriter.RecordChildCount(childCount); werr != nil {
			p.logger.WithError(werr).Warn("failed writing child.txt")
		}
	}
	return err
}

// Handle implements transport.Listener: it is the single dispatcher every
// inbound datagram passes through before reaching a component.
func (p *Peer) Handle(source wire.Addr, datagram []byte) {
	frame, err := wire.Decode(datagram)
	if err != nil {
		p.logger.WithError(err).WithField("source", source).Debug("malformed frame dropped")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch frame.Kind {
	case wire.KindPing:
		p.handlePing(source)
	case wire.KindPingResponse:
		if p.parentFn != nil {
			p.parentFn.HandlePingResponse(source, frame.RootPing, frame.IsRoot)
		}
	case wire.KindTry:
		if p.parentFn != nil {
			p.parentFn.HandleTry(source, frame.Candidates)
		}
	case wire.KindAttachSuccess:
		if p.parentFn != nil {
			p.parentFn.HandleAttachSuccess(source)
		}
	case wire.KindReattach:
		if p.parentFn != nil {
			p.parentFn.HandleReattach()
		}
	case wire.KindChildren:
		_ = p.socket.Send(source, wire.EncodeTry(p.children.Addrs()))
	case wire.KindAttach:
		p.handleAttach(source)
	case wire.KindNack:
		p.handleNack(source, frame.Offset)
	case wire.KindData:
		p.handleData(source, frame.Offset, frame.Payload, datagram)
	}
}

func (p *Peer) handlePing(source wire.Addr) {
	rootPing := 0.0
	if !p.isRoot && p.parentFn != nil {
		rootPing = p.parentFn.RootRTT()
	}
	_ = p.socket.Send(source, wire.EncodePingResponse(rootPing, p.isRoot))
}

// handleAttach implements child admission policy. The admission ping is
// 0 because the wire protocol carries no RTT measurement in the ATTACH
// frame itself (see DESIGN.md).
func (p *Peer) handleAttach(source wire.Addr) {
	result := p.children.Offer(source, 0)
	switch result.Outcome {
	case children.Admitted:
		if result.Evicted != nil {
			_ = p.socket.Send(*result.Evicted, wire.EncodeReattach())
		}
		_ = p.socket.Send(source, wire.EncodeAttachSuccess())
	case children.Updated:
		// Nothing further: the new measurement has already been folded in.
	case children.Redirected:
		_ = p.socket.Send(source, wire.EncodeTry(p.children.Addrs()))
	}
}

// handleNack implements NACK service: reply with the cached block if
// still resident, else forward the NACK to our own parent.
func (p *Peer) handleNack(source wire.Addr, offset uint32) {
	data, aligned, ok := p.cache.Lookup(offset)
	if ok {
		_ = p.socket.Send(source, wire.EncodeData(aligned, data))
		return
	}
	if p.parentFn == nil {
		// Impossible by invariant: the root has no parent to escalate to.
		p.logger.WithField("offset", offset).Error("root received unresolvable NACK")
		return
	}
	_ = p.socket.Send(p.parentFn.Parent(), wire.EncodeNack(offset))
}

// handleData implements the forwarding & data plane: write to cache,
// detect gaps, NACK the parent, and relay to every child.
func (p *Peer) handleData(source wire.Addr, offset uint32, payload []byte, datagram []byte) {
	if p.isRoot {
		return // the root originates; it does not receive DATA.
	}

	_, nacks := p.cache.Write(offset, payload, false)
	for _, n := range nacks {
		_ = p.socket.Send(p.parentFn.Parent(), wire.EncodeNack(n))
	}

	if len(payload) >= 8 {
		p.recordLatency(payload[:8])
	}

	forward.Relay(p.self, p.parentFn.Parent(), datagram, p.children, senderAdapter{p}, p.logger)
}

func (p *Peer) recordLatency(tsHeader []byte) {
	sentNanos := int64(uint64(tsHeader[0]) | uint64(tsHeader[1])<<8 | uint64(tsHeader[2])<<16 |
		uint64(tsHeader[3])<<24 | uint64(tsHeader[4])<<32 | uint64(tsHeader[5])<<40 |
		uint64(tsHeader[6])<<48 | uint64(tsHeader[7])<<56)
	p.lastLatency = time.Since(time.Unix(0, sentNanos))
}

// Parent returns the peer's current parent address (the root itself, for
// the root).
func (p *Peer) Parent() wire.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.parentFn == nil {
		return p.root
	}
	return p.parentFn.Parent()
}

// ChildCount returns the number of currently admitted children.
func (p *Peer) ChildCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.children.Len()
}
