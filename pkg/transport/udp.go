// Package transport provides the UDP datagram endpoint SCDT peers bind
// to: one socket per peer, used for both control frames and bulk data.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/scdt-project/scdt/pkg/wire"
	log "github.com/sirupsen/logrus"
)

// MaxDatagramSize bounds a single read; SCDT frames are small control
// messages or BLOCK_SIZE-ish DATA frames, never close to the UDP limit.
const MaxDatagramSize = 65507

// Listener receives decoded inbound frames together with their source.
type Listener interface {
	Handle(source wire.Addr, frame []byte)
}

// Socket is a single UDP endpoint bound to one well-known port, shared by
// all peers on the overlay (the root's port is the rendezvous, per §6).
type Socket struct {
	logger   *log.Entry
	mu       sync.Mutex
	conn     *net.UDPConn
	listener Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSocket binds a UDP socket to 0.0.0.0:port. Bind failure is fatal to
// the caller: a bind failure is fatal at startup.
func NewSocket(port int) (*Socket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("transport: bind failed: %w", err)
	}
	return &Socket{conn: conn, logger: log.WithField("component", "transport")}, nil
}

// Connect starts the receive loop, dispatching every inbound datagram to
// listener. Handlers run to completion before the next datagram is
// processed, matching the single-threaded cooperative model of §5.
func (s *Socket) Connect(listener Listener) {
	s.mu.Lock()
	s.listener = listener
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.receiveLoop(ctx)
}

func (s *Socket) receiveLoop(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]byte, MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, raddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.logger.WithError(err).Warn("read error, continuing")
			continue
		}
		source, err := wire.AddrFromUDP(raddr)
		if err != nil {
			s.logger.WithError(err).Debug("incompatible address family, dropping")
			continue
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		s.listener.Handle(source, datagram)
	}
}

// Send transmits frame to dst. Errors are logged and returned; the caller
// never fails the call: socket I/O errors are logged and the loop
// continues.
func (s *Socket) Send(dst wire.Addr, frame []byte) error {
	_, err := s.conn.WriteToUDP(frame, dst.UDPAddr())
	if err != nil {
		s.logger.WithError(err).WithField("dst", dst).Warn("send failed")
	}
	return err
}

// Close stops the receive loop and releases the socket. No graceful
// goodbye is sent to parent or children.
func (s *Socket) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// LocalAddr returns the bound local address, mostly useful in tests.
func (s *Socket) LocalAddr() wire.Addr {
	a, _ := wire.AddrFromUDP(s.conn.LocalAddr().(*net.UDPAddr))
	return a
}
