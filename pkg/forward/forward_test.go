package forward

import (
	"net"
	"testing"

	"github.com/scdt-project/scdt/pkg/wire"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(port int) wire.Addr {
	a, _ := wire.AddrFromUDP(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: port})
	return a
}

type fakeSender struct {
	sent map[wire.Addr][]byte
}

func newFakeSender() *fakeSender { return &fakeSender{sent: map[wire.Addr][]byte{}} }

func (f *fakeSender) Send(dst wire.Addr, frame []byte) error {
	f.sent[dst] = frame
	return nil
}

type staticChildren []wire.Addr

func (s staticChildren) Addrs() []wire.Addr { return s }

func TestOriginatorIncreasesOffsetByPayloadSize(t *testing.T) {
	s := newFakeSender()
	children := staticChildren{addr(1), addr(2)}
	o := NewOriginator(108, s, children, func(n int) []byte { return make([]byte, n) })

	o.Tick()
	assert.EqualValues(t, 108, o.Offset())
	o.Tick()
	assert.EqualValues(t, 216, o.Offset())

	for _, c := range children {
		frame, err := wire.Decode(s.sent[c])
		require.NoError(t, err)
		assert.Equal(t, wire.KindData, frame.Kind)
	}
}

func TestRelaySkipsSelfAndParent(t *testing.T) {
	self := addr(1)
	parent := addr(2)
	child := addr(3)
	s := newFakeSender()
	children := staticChildren{self, parent, child}

	datagram := wire.EncodeData(0, []byte("hi"))
	Relay(self, parent, datagram, children, s, log.WithField("test", true))

	assert.NotContains(t, s.sent, self)
	assert.NotContains(t, s.sent, parent)
	assert.Equal(t, datagram, s.sent[child])
}
