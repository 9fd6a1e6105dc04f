package session

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctolnik/Proxy-Mail/internal/mailproto"
)

func TestPOP3HappyPathEntersRelay(t *testing.T) {
	clientProxy, clientPeer := net.Pipe()
	upstreamProxy, upstreamPeer := net.Pipe()
	defer clientPeer.Close()

	go func() {
		r := bufio.NewReader(upstreamPeer)
		io.WriteString(upstreamPeer, "+OK ready\r\n")
		r.ReadString('\n') // USER alice
		io.WriteString(upstreamPeer, "+OK\r\n")
		r.ReadString('\n') // PASS secret
		io.WriteString(upstreamPeer, "+OK logged in\r\n")
		// relay phase: echo whatever the proxy forwards, once.
		line, err := r.ReadString('\n')
		if err == nil {
			io.WriteString(upstreamPeer, "echo:"+line)
		}
	}()

	s := New(Params{
		ClientConn:   clientProxy,
		UpstreamConn: upstreamProxy,
		Protocol:     mailproto.POP3,
		Login:        []byte("alice"),
		Passwd:       []byte("secret"),
		AuthTimeout:  time.Second,
		RelayTimeout: time.Second,
	})

	done := make(chan Outcome, 1)
	go func() { done <- s.Run() }()

	io.WriteString(clientPeer, "STAT\r\n")
	buf := make([]byte, 64)
	clientPeer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := clientPeer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "echo:STAT\r\n", string(buf[:n]))

	clientPeer.Close()

	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeClosed, outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestSMTPAuthPlainHandsOffAndFlushesReply(t *testing.T) {
	clientProxy, clientPeer := net.Pipe()
	upstreamProxy, upstreamPeer := net.Pipe()
	defer clientPeer.Close()
	defer upstreamPeer.Close()

	go func() {
		r := bufio.NewReader(upstreamPeer)
		io.WriteString(upstreamPeer, "220 hi\r\n")
		r.ReadString('\n') // EHLO
		io.WriteString(upstreamPeer, "250-gw\r\n250 AUTH PLAIN LOGIN\r\n")
		r.ReadString('\n') // AUTH PLAIN ...
		io.WriteString(upstreamPeer, "235 2.0.0 OK\r\n")
	}()

	s := New(Params{
		ClientConn:   clientProxy,
		UpstreamConn: upstreamProxy,
		Protocol:     mailproto.SMTP,
		Login:        []byte("u"),
		Passwd:       []byte("p"),
		AuthMethod:   mailproto.AuthPlain,
		ESMTP:        true,
		ServerName:   "gw.example",
		AuthTimeout:  time.Second,
		RelayTimeout: time.Second,
	})

	done := make(chan Outcome, 1)
	go func() { done <- s.Run() }()

	buf := make([]byte, 64)
	clientPeer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := clientPeer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "235 2.0.0 OK\r\n", string(buf[:n]))

	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeHandoff, outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestSMTPAuthRejectedWithPassErrorMessageFlushesUpstreamReply(t *testing.T) {
	clientProxy, clientPeer := net.Pipe()
	upstreamProxy, upstreamPeer := net.Pipe()
	defer clientPeer.Close()
	defer upstreamPeer.Close()

	go func() {
		r := bufio.NewReader(upstreamPeer)
		io.WriteString(upstreamPeer, "220 hi\r\n")
		r.ReadString('\n') // HELO
		io.WriteString(upstreamPeer, "250 gw\r\n")
		r.ReadString('\n') // AUTH LOGIN
		io.WriteString(upstreamPeer, "334 VXNlcm5hbWU6\r\n")
		r.ReadString('\n') // base64(login)
		io.WriteString(upstreamPeer, "334 UGFzc3dvcmQ6\r\n")
		r.ReadString('\n') // base64(passwd)
		io.WriteString(upstreamPeer, "535 5.7.8 bad creds\r\n")
	}()

	s := New(Params{
		ClientConn:       clientProxy,
		UpstreamConn:     upstreamProxy,
		Protocol:         mailproto.SMTP,
		Login:            []byte("u"),
		Passwd:           []byte("p"),
		AuthMethod:       mailproto.AuthLogin,
		ServerName:       "gw.example",
		AuthTimeout:      time.Second,
		RelayTimeout:     time.Second,
		PassErrorMessage: true,
	})

	done := make(chan Outcome, 1)
	go func() { done <- s.Run() }()

	buf := make([]byte, 64)
	clientPeer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := clientPeer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "535 5.7.8 bad creds\r\n", string(buf[:n]))

	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeClosed, outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
	assert.Equal(t, "535 5.7.8 bad creds", string(s.DeferredReply()))
}

func TestUpstreamOverflowNeverPassesThroughToClient(t *testing.T) {
	clientProxy, clientPeer := net.Pipe()
	upstreamProxy, upstreamPeer := net.Pipe()
	defer clientPeer.Close()
	defer upstreamPeer.Close()

	go func() {
		// Greeting the proxy would normally classify fine, but with an
		// 8-byte buffer and no CRLF anywhere, the reply line never
		// completes — this must surface as overflow, not a classified
		// protocol failure.
		io.WriteString(upstreamPeer, "NOCRLF12")
	}()

	s := New(Params{
		ClientConn:       clientProxy,
		UpstreamConn:     upstreamProxy,
		Protocol:         mailproto.POP3,
		Login:            []byte("alice"),
		Passwd:           []byte("secret"),
		AuthTimeout:      time.Second,
		RelayTimeout:     time.Second,
		BufferSize:       8,
		PassErrorMessage: true,
	})

	done := make(chan Outcome, 1)
	go func() { done <- s.Run() }()

	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeInternalServerError, outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}

	assert.Empty(t, s.DeferredReply(), "overflow must never be captured for pass_error_message")

	clientPeer.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 64)
	n, err := clientPeer.Read(buf)
	assert.Error(t, err, "client must not receive anything on overflow")
	assert.Zero(t, n)
}

func TestIMAPCapabilityBeforeTagSplitAcrossSegments(t *testing.T) {
	clientProxy, clientPeer := net.Pipe()
	upstreamProxy, upstreamPeer := net.Pipe()
	defer clientPeer.Close()
	defer upstreamPeer.Close()

	go func() {
		r := bufio.NewReader(upstreamPeer)
		io.WriteString(upstreamPeer, "* OK IMAP4rev1 ready\r\n")
		r.ReadString('\n') // a001 LOGIN alice secret
		io.WriteString(upstreamPeer, "* CAPABILITY IMAP4rev1\r\n")
		time.Sleep(20 * time.Millisecond)
		io.WriteString(upstreamPeer, "a001 OK LOGIN completed\r\n")
		line, err := r.ReadString('\n')
		if err == nil {
			io.WriteString(upstreamPeer, "echo:"+line)
		}
	}()

	s := New(Params{
		ClientConn:       clientProxy,
		UpstreamConn:     upstreamProxy,
		Protocol:         mailproto.IMAP,
		Login:            []byte("alice"),
		Passwd:           []byte("secret"),
		Tag:              "a001 ",
		IMAPInitialState: mailproto.IMAPStart,
		AuthTimeout:      time.Second,
		RelayTimeout:     time.Second,
	})

	done := make(chan Outcome, 1)
	go func() { done <- s.Run() }()

	io.WriteString(clientPeer, "a002 NOOP\r\n")
	buf := make([]byte, 64)
	clientPeer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := clientPeer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "echo:a002 NOOP\r\n", string(buf[:n]))

	clientPeer.Close()

	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeClosed, outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}
