// Package wire implements the SCDT datagram codec: the tag set, address
// serialization, and the encode/decode pair for every control frame and
// the data frame.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
	"net"
)

// Frame tags. Longer tags are matched by length-bounded prefix compare
// against the literal bytes, including the trailing NUL where present.
var (
	tagAttach       = []byte("ATTACH\x00")
	tagPing         = []byte("PING\x00")
	tagPingResponse = []byte("PINGRESPONSE\x00")
	tagTry          = []byte("TRY")
	tagAttachSucA   = []byte("SUCCESSATTACH\x00")
	tagAttachSucB   = []byte("ATTACHSUCCESS\x00")
	tagNack         = []byte("NACK")
	tagReattach     = []byte("REATTACH\x00")
	tagChildren     = []byte("CHILDREN\x00")
)

// Kind identifies a decoded frame's type.
type Kind uint8

const (
	KindData Kind = iota
	KindAttach
	KindPing
	KindPingResponse
	KindTry
	KindAttachSuccess
	KindNack
	KindReattach
	KindChildren
)

var ErrShortFrame = errors.New("wire: frame too short to carry its tag/body")

// Addr is a peer identity: an IPv4 address plus a UDP port. Equality is
// bytewise over the address-plus-port blob, so Addr is comparable and
// usable as a map key directly.
type Addr struct {
	IP   [4]byte
	Port uint16
}

// AddrFromUDP converts a net.UDPAddr into an Addr. The address must carry
// a 4-byte (IPv4) representation.
func AddrFromUDP(u *net.UDPAddr) (Addr, error) {
	ip4 := u.IP.To4()
	if ip4 == nil {
		return Addr{}, errors.New("wire: address family incompatible, expected IPv4")
	}
	var a Addr
	copy(a.IP[:], ip4)
	a.Port = uint16(u.Port)
	return a, nil
}

// UDPAddr converts an Addr back into a net.UDPAddr for socket I/O.
func (a Addr) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(a.IP[0], a.IP[1], a.IP[2], a.IP[3]), Port: int(a.Port)}
}

// addrTypeIPv4 is the 1-byte type tag preceding every serialized address.
// IPv4 is the only family the wire format carries.
const addrTypeIPv4 = 1

// encodeAddr appends the serialized form of a to buf: 1-byte type, 1-byte
// length, then the raw body (IP bytes followed by the 2-byte port).
func encodeAddr(buf []byte, a Addr) []byte {
	buf = append(buf, addrTypeIPv4, 6)
	buf = append(buf, a.IP[:]...)
	var portBuf [2]byte
	binary.LittleEndian.PutUint16(portBuf[:], a.Port)
	return append(buf, portBuf[:]...)
}

// decodeAddr parses one serialized address starting at buf[0], returning
// the address and the number of bytes consumed (len+2, per the receiver's
// length-prefixed parser).
func decodeAddr(buf []byte) (Addr, int, error) {
	if len(buf) < 2 {
		return Addr{}, 0, ErrShortFrame
	}
	length := int(buf[1])
	if len(buf) < 2+length || length != 6 {
		return Addr{}, 0, ErrShortFrame
	}
	body := buf[2 : 2+length]
	var a Addr
	copy(a.IP[:], body[0:4])
	a.Port = binary.LittleEndian.Uint16(body[4:6])
	return a, 2 + length, nil
}

// EncodeAttach encodes an ATTACH frame.
func EncodeAttach() []byte { return append([]byte{}, tagAttach...) }

// EncodePing encodes a PING frame.
func EncodePing() []byte { return append([]byte{}, tagPing...) }

// EncodePingResponse encodes a PINGRESPONSE frame: 8-byte RTT-to-root
// (float64, little-endian) followed by a 1-byte is_root flag.
func EncodePingResponse(rootPing float64, isRoot bool) []byte {
	buf := append([]byte{}, tagPingResponse...)
	var f [8]byte
	binary.LittleEndian.PutUint64(f[:], math.Float64bits(rootPing))
	buf = append(buf, f[:]...)
	if isRoot {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// EncodeTry encodes a TRY frame carrying the given candidate addresses.
func EncodeTry(candidates []Addr) []byte {
	buf := append([]byte{}, tagTry...)
	buf = append(buf, byte(len(candidates)))
	for _, c := range candidates {
		buf = encodeAddr(buf, c)
	}
	return buf
}

// EncodeAttachSuccess encodes an ATTACH_SUC frame using the canonical
// SUCCESSATTACH spelling; Decode also accepts the ATTACHSUCCESS variant.
func EncodeAttachSuccess() []byte { return append([]byte{}, tagAttachSucA...) }

// EncodeNack encodes a NACK frame for the given block-aligned byte offset.
func EncodeNack(offset uint32) []byte {
	buf := append([]byte{}, tagNack...)
	var o [4]byte
	binary.LittleEndian.PutUint32(o[:], offset)
	return append(buf, o[:]...)
}

// EncodeReattach encodes a REATTACH frame.
func EncodeReattach() []byte { return append([]byte{}, tagReattach...) }

// EncodeChildren encodes a CHILDREN frame.
func EncodeChildren() []byte { return append([]byte{}, tagChildren...) }

// EncodeData encodes a DATA frame: 4-byte little-endian start offset
// followed by payload.
func EncodeData(startOffset uint32, payload []byte) []byte {
	buf := make([]byte, 4, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, startOffset)
	return append(buf, payload...)
}

// Frame is a decoded inbound datagram.
type Frame struct {
	Kind Kind

	// PingResponse
	RootPing float64
	IsRoot   bool

	// Try
	Candidates []Addr

	// Nack / Data
	Offset  uint32
	Payload []byte
}

// hasPrefix reports whether buf starts with tag, matching by length-bounded
// compare (memcmp against the full literal).
func hasPrefix(buf, tag []byte) bool {
	return len(buf) >= len(tag) && string(buf[:len(tag)]) == string(tag)
}

// Decode dispatches an inbound datagram to its frame type. Anything not
// recognized by tag, and at least 5 bytes long, is treated as DATA.
// Malformed frames (too short for their tag, or a TRY body shorter than
// declared) are reported via the returned error and must be dropped
// silently by the caller.
func Decode(buf []byte) (Frame, error) {
	switch {
	case hasPrefix(buf, tagAttach):
		return Frame{Kind: KindAttach}, nil
	case hasPrefix(buf, tagPingResponse):
		if len(buf) < len(tagPingResponse)+9 {
			return Frame{}, ErrShortFrame
		}
		body := buf[len(tagPingResponse):]
		rtt := math.Float64frombits(binary.LittleEndian.Uint64(body[:8]))
		return Frame{Kind: KindPingResponse, RootPing: rtt, IsRoot: body[8] != 0}, nil
	case hasPrefix(buf, tagPing):
		return Frame{Kind: KindPing}, nil
	case hasPrefix(buf, tagAttachSucA), hasPrefix(buf, tagAttachSucB):
		return Frame{Kind: KindAttachSuccess}, nil
	case hasPrefix(buf, tagReattach):
		return Frame{Kind: KindReattach}, nil
	case hasPrefix(buf, tagChildren):
		return Frame{Kind: KindChildren}, nil
	case hasPrefix(buf, tagTry):
		if len(buf) < 4 {
			return Frame{}, ErrShortFrame
		}
		n := int(buf[3])
		rest := buf[4:]
		candidates := make([]Addr, 0, n)
		for i := 0; i < n; i++ {
			a, consumed, err := decodeAddr(rest)
			if err != nil {
				return Frame{}, err
			}
			candidates = append(candidates, a)
			rest = rest[consumed:]
		}
		return Frame{Kind: KindTry, Candidates: candidates}, nil
	case hasPrefix(buf, tagNack):
		if len(buf) < len(tagNack)+4 {
			return Frame{}, ErrShortFrame
		}
		off := binary.LittleEndian.Uint32(buf[len(tagNack) : len(tagNack)+4])
		return Frame{Kind: KindNack, Offset: off}, nil
	default:
		if len(buf) < 5 {
			return Frame{}, ErrShortFrame
		}
		off := binary.LittleEndian.Uint32(buf[:4])
		return Frame{Kind: KindData, Offset: off, Payload: buf[4:]}, nil
	}
}
