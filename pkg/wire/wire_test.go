package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(ip string, port int) Addr {
	a, err := AddrFromUDP(&net.UDPAddr{IP: net.ParseIP(ip), Port: port})
	if err != nil {
		panic(err)
	}
	return a
}

func TestTryRoundTrip(t *testing.T) {
	candidates := []Addr{addr("10.0.0.1", 9000), addr("10.0.0.2", 9001), addr("192.168.1.5", 1)}
	buf := EncodeTry(candidates)
	frame, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, KindTry, frame.Kind)
	assert.Equal(t, candidates, frame.Candidates)
}

func TestTryEmpty(t *testing.T) {
	frame, err := Decode(EncodeTry(nil))
	require.NoError(t, err)
	assert.Equal(t, KindTry, frame.Kind)
	assert.Empty(t, frame.Candidates)
}

func TestPingResponseRoundTrip(t *testing.T) {
	buf := EncodePingResponse(1.5, true)
	frame, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, KindPingResponse, frame.Kind)
	assert.InDelta(t, 1.5, frame.RootPing, 1e-9)
	assert.True(t, frame.IsRoot)
}

func TestNackRoundTrip(t *testing.T) {
	frame, err := Decode(EncodeNack(4096))
	require.NoError(t, err)
	assert.Equal(t, KindNack, frame.Kind)
	assert.EqualValues(t, 4096, frame.Offset)
}

func TestDataFallthrough(t *testing.T) {
	frame, err := Decode(EncodeData(256, []byte("hello world")))
	require.NoError(t, err)
	assert.Equal(t, KindData, frame.Kind)
	assert.EqualValues(t, 256, frame.Offset)
	assert.Equal(t, []byte("hello world"), frame.Payload)
}

func TestDataTooShortDropped(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestControlTags(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
		kind Kind
	}{
		{"attach", EncodeAttach(), KindAttach},
		{"ping", EncodePing(), KindPing},
		{"attach-success", EncodeAttachSuccess(), KindAttachSuccess},
		{"attach-success-alt", tagAttachSucB, KindAttachSuccess},
		{"reattach", EncodeReattach(), KindReattach},
		{"children", EncodeChildren(), KindChildren},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			frame, err := Decode(c.buf)
			require.NoError(t, err)
			assert.Equal(t, c.kind, frame.Kind)
		})
	}
}

func TestTryTruncatedBodyErrors(t *testing.T) {
	buf := EncodeTry([]Addr{addr("10.0.0.1", 1)})
	_, err := Decode(buf[:len(buf)-2])
	assert.Error(t, err)
}
