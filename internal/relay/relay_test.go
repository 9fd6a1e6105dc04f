package relay

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctolnik/Proxy-Mail/internal/iobuf"
)

func TestPumpForwardsBothDirections(t *testing.T) {
	clientProxy, clientPeer := net.Pipe()
	upstreamProxy, upstreamPeer := net.Pipe()

	p := &Pump{
		Client:      clientProxy,
		Upstream:    upstreamProxy,
		ClientBuf:   iobuf.New(4096),
		UpstreamBuf: iobuf.New(4096),
		Timeout:     time.Second,
	}

	done := make(chan error, 1)
	go func() { done <- p.Run() }()

	go func() { io.WriteString(clientPeer, "MAIL FROM:<a@b>\r\n") }()

	buf := make([]byte, 64)
	n, err := upstreamPeer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "MAIL FROM:<a@b>\r\n", string(buf[:n]))

	io.WriteString(upstreamPeer, "250 OK\r\n")
	buf2 := make([]byte, 64)
	n2, err := clientPeer.Read(buf2)
	require.NoError(t, err)
	assert.Equal(t, "250 OK\r\n", string(buf2[:n2]))

	clientPeer.Close()
	upstreamPeer.Close()

	select {
	case err := <-done:
		_ = err
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not terminate after both peers closed")
	}
}

func TestPrimeClientToUpstreamReportsResidualBytes(t *testing.T) {
	buf := iobuf.New(16)
	p := &Pump{ClientBuf: buf}
	assert.False(t, p.PrimeClientToUpstream())

	buf.Grow(copy(buf.Free(), []byte("DATA\r\n")))
	assert.True(t, p.PrimeClientToUpstream())
}

func TestClientTimeoutSurfacesAsErrClientTimeout(t *testing.T) {
	clientProxy, clientPeer := net.Pipe()
	defer clientPeer.Close()
	upstreamProxy, upstreamPeer := net.Pipe()
	defer upstreamPeer.Close()

	p := &Pump{
		Client:      clientProxy,
		Upstream:    upstreamProxy,
		ClientBuf:   iobuf.New(4096),
		UpstreamBuf: iobuf.New(4096),
		Timeout:     10 * time.Millisecond,
	}

	err := p.Run()
	assert.ErrorIs(t, err, ErrClientTimeout)
}
