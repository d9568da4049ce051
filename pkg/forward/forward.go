// Package forward implements the data plane: root origination of the
// byte stream and best-effort relay of received DATA frames to every
// child.
package forward

import (
	"encoding/binary"
	"time"

	"github.com/scdt-project/scdt/pkg/wire"
	log "github.com/sirupsen/logrus"
)

// Sender abstracts sending a raw frame to a peer.
type Sender interface {
	Send(dst wire.Addr, frame []byte) error
}

// ChildLister abstracts the child table enough for fan-out.
type ChildLister interface {
	Addrs() []wire.Addr
}

// Originator runs at the root, periodically emitting DATA frames with a
// monotonically increasing start offset.
type Originator struct {
	payloadSize int
	offset      uint32
	sender      Sender
	children    ChildLister
	source      func(n int) []byte
	logger      *log.Entry
}

// NewOriginator builds a root-side data originator. source supplies the
// next chunk of application bytes to ship (its own 8-byte timestamp
// header is prepended automatically); payloadSize is the total DATA
// frame payload size including that timestamp.
func NewOriginator(payloadSize int, sender Sender, children ChildLister, source func(n int) []byte) *Originator {
	return &Originator{
		payloadSize: payloadSize,
		sender:      sender,
		children:    children,
		source:      source,
		logger:      log.WithField("component", "forward.originator"),
	}
}

// Tick emits one DATA frame and fans it out to every current child. The
// first 8 bytes of the payload carry the origination timestamp, used by
// receivers for end-to-end latency measurement.
func (o *Originator) Tick() {
	body := o.source(o.payloadSize - 8)
	frame := make([]byte, 8+len(body))
	binary.LittleEndian.PutUint64(frame[:8], uint64(time.Now().UnixNano()))
	copy(frame[8:], body)

	datagram := wire.EncodeData(o.offset, frame)
	for _, c := range o.children.Addrs() {
		if err := o.sender.Send(c, datagram); err != nil {
			o.logger.WithError(err).WithField("child", c).Warn("origination send failed")
		}
	}
	o.offset += uint32(len(frame))
}

// Offset returns the next start offset to be used.
func (o *Originator) Offset() uint32 { return o.offset }

// Relay forwards an inbound DATA frame to every child of the receiving
// peer, skipping the peer itself and its own parent. Forwarding is
// best-effort and sequential in child-table order; one child's send
// failure does not abort the remaining sends.
func Relay(self wire.Addr, parent wire.Addr, datagram []byte, children ChildLister, sender Sender, logger *log.Entry) {
	for _, c := range children.Addrs() {
		if c == self || c == parent {
			continue
		}
		if err := sender.Send(c, datagram); err != nil {
			logger.WithError(err).WithField("child", c).Warn("forward send failed")
		}
	}
}
