// Package session implements ProxySession (spec.md §3, §7): the owner of
// one client's auth-then-relay lifecycle. It wires together
// internal/classify, internal/authstate, and internal/relay the way the
// teacher's pop3.go/smtp.go wire a bufio.Scanner loop to a relay copy, but
// splits "read classified reply" / "advance state machine" / "forward
// bytes" into the pure, independently-tested pieces those files keep
// tangled together.
//
// Upstream TLS (internal/tlsupgrade) is applied by the caller before
// constructing a Session: spec.md §4.7 happens "after the TCP connection
// is established but before the AuthStateMachine receives the first
// byte", which in this package's terms just means UpstreamConn is already
// the *tls.Conn by the time New is called.
package session

import (
	"bytes"
	"errors"
	"io"
	"net"
	"time"

	"github.com/ctolnik/Proxy-Mail/internal/authstate"
	"github.com/ctolnik/Proxy-Mail/internal/classify"
	"github.com/ctolnik/Proxy-Mail/internal/iobuf"
	"github.com/ctolnik/Proxy-Mail/internal/logging"
	"github.com/ctolnik/Proxy-Mail/internal/mailproto"
	"github.com/ctolnik/Proxy-Mail/internal/relay"
)

// Outcome is the terminal result of Session.Run, corresponding to the
// lifecycle exits of spec.md §3 and the error kinds of §7.
type Outcome int

const (
	// OutcomeClosed is a graceful close: either the relay phase drained
	// both sides normally, or an upstream protocol failure was forwarded
	// to the client under pass_error_message (quit=1 in spec.md §7.2). A
	// relay-phase transport error also ends with OutcomeClosed.
	OutcomeClosed Outcome = iota
	// OutcomeHandoff is SMTP-only: login succeeded, the last upstream
	// reply was flushed to the client, and control returns to the
	// (out-of-scope) pre-auth SMTP parser.
	OutcomeHandoff
	// OutcomeInternalServerError covers spec.md §7 kinds 1, 2 (without a
	// captured reply), 4 (auth-phase timeout), 5, 6, and 7.
	OutcomeInternalServerError
	// OutcomeUpstreamError is spec.md §7 kind 3: recv returned 0 or an
	// error during auth, distinct from a classified protocol failure.
	OutcomeUpstreamError
	// OutcomeClientTimeout and OutcomeUpstreamTimeout are relay-phase
	// idle timeouts (spec.md §7 kind 4, relay case).
	OutcomeClientTimeout
	OutcomeUpstreamTimeout
)

// Metrics is the surface a Session reports through. internal/metrics's
// Collector implements it; nil is accepted and treated as a no-op.
type Metrics interface {
	relay.Metrics
	SessionStarted(protocol string)
	SessionEnded()
	AuthOutcome(protocol, outcome string)
}

// Params carries everything the pre-auth layer is assumed to have already
// collected (spec.md §6's "interfaces consumed from the pre-auth layer").
type Params struct {
	ClientConn   net.Conn
	UpstreamConn net.Conn
	Protocol     mailproto.Protocol

	Login, Passwd []byte

	// IMAPInitialState chooses the fast path (mailproto.IMAPStart) or the
	// literal path (mailproto.IMAPLogin); ignored for other protocols.
	IMAPInitialState mailproto.IMAPState
	Tag              string

	AuthMethod mailproto.AuthMethod
	SMTPFrom   []byte
	ESMTP      bool
	XClient    bool
	ServerName string

	// ClientPipelined is any bytes the pre-auth parser already read from
	// the client and didn't consume (e.g. a pipelined SMTP DATA body
	// riding behind the final RCPT TO). It seeds clientBuf so the relay
	// pump's client-buffer-residual kick (SPEC_FULL.md supplemented
	// feature #5) has something to act on.
	ClientPipelined []byte

	BufferSize       int
	AuthTimeout      time.Duration
	RelayTimeout     time.Duration
	PassErrorMessage bool

	Metrics Metrics
}

// Session is one ProxySession.
type Session struct {
	p           Params
	clientBuf   *iobuf.Buffer
	upstreamBuf *iobuf.Buffer

	deferredReply []byte
}

// New constructs a Session. BufferSize defaults to 4096 if unset.
func New(p Params) *Session {
	size := p.BufferSize
	if size == 0 {
		size = 4096
	}
	s := &Session{
		p:           p,
		clientBuf:   iobuf.New(size),
		upstreamBuf: iobuf.New(size),
	}
	if len(p.ClientPipelined) > 0 {
		n := copy(s.clientBuf.Free(), p.ClientPipelined)
		s.clientBuf.Grow(n)
	}
	return s
}

// DeferredReply returns the upstream reply line captured for
// pass_error_message, if any (spec.md §3's deferred_reply field).
func (s *Session) DeferredReply() []byte {
	return s.deferredReply
}

// authError classifies why the auth phase ended without reaching Relay or
// Handoff, driving the spec.md §7 error-kind dispatch in handleAuthError.
type authError struct {
	kind  authErrorKind
	reply []byte // captured upstream reply, minus CRLF, when pass_error_message applies
}

type authErrorKind int

const (
	errKindTransport authErrorKind = iota
	errKindProtocol
	errKindOverflow
	errKindShortWrite
	errKindTimeout
)

// Run drives the full session lifecycle: authenticate against upstream,
// then either hand off (SMTP) or relay (all protocols), closing both
// connections — upstream before client, per SPEC_FULL.md supplemented
// feature #6 — before returning.
func (s *Session) Run() Outcome {
	if s.p.Metrics != nil {
		s.p.Metrics.SessionStarted(s.p.Protocol.String())
		defer s.p.Metrics.SessionEnded()
	}

	var outcome authstate.Outcome
	var aerr *authError
	var handoffReply []byte

	switch s.p.Protocol {
	case mailproto.POP3:
		outcome, aerr = s.runPOP3()
	case mailproto.IMAP:
		outcome, aerr = s.runIMAP()
	case mailproto.SMTP:
		outcome, aerr, handoffReply = s.runSMTP()
	default:
		s.closeConns()
		return OutcomeInternalServerError
	}

	if aerr != nil {
		return s.handleAuthError(aerr)
	}

	switch outcome {
	case authstate.Relay:
		s.recordAuthOutcome("relay")
		logging.Info("client logged in")
		err := s.runRelay()
		s.closeConns()
		return relayOutcome(err)

	case authstate.Handoff:
		s.recordAuthOutcome("handoff")
		s.flushToClient(handoffReply)
		s.closeConns()
		return OutcomeHandoff

	default: // authstate.InternalError
		s.recordAuthOutcome("internal_error")
		logging.Error("unsupported auth mechanism refused at the gate")
		s.closeConns()
		return OutcomeInternalServerError
	}
}

func (s *Session) recordAuthOutcome(outcome string) {
	if s.p.Metrics != nil {
		s.p.Metrics.AuthOutcome(s.p.Protocol.String(), outcome)
	}
}

func (s *Session) runPOP3() (authstate.Outcome, *authError) {
	m := authstate.NewPOP3(s.p.Login, s.p.Passwd)
	for {
		_, aerr := s.readUpstreamReply(func(buf []byte) classify.Verdict {
			return classify.POP3(buf)
		})
		if aerr != nil {
			return 0, aerr
		}
		line, outcome := m.Advance()
		if outcome != authstate.Continue {
			return outcome, nil
		}
		logging.Debug("sending %d bytes to upstream", len(line))
		if err := s.sendLine(line); err != nil {
			return 0, &authError{kind: errKindShortWrite}
		}
	}
}

func (s *Session) runIMAP() (authstate.Outcome, *authError) {
	m := authstate.NewIMAP(s.p.IMAPInitialState, s.p.Tag, s.p.Login, s.p.Passwd)
	for {
		_, aerr := s.readUpstreamReply(func(buf []byte) classify.Verdict {
			return classify.IMAP(m.State(), m.Tag(), buf)
		})
		if aerr != nil {
			return 0, aerr
		}
		line, outcome := m.Advance()
		if outcome != authstate.Continue {
			return outcome, nil
		}
		logging.Debug("sending %d bytes to upstream", len(line))
		if err := s.sendLine(line); err != nil {
			return 0, &authError{kind: errKindShortWrite}
		}
	}
}

func (s *Session) runSMTP() (authstate.Outcome, *authError, []byte) {
	m := authstate.NewSMTP(mailproto.SMTPStart, s.p.AuthMethod, s.p.Login, s.p.Passwd, s.p.SMTPFrom, s.p.ESMTP, s.p.XClient, s.p.ServerName)
	var lastReply []byte
	for {
		state := m.State()
		reply, aerr := s.readUpstreamReply(func(buf []byte) classify.Verdict {
			return classify.SMTP(state, buf)
		})
		if aerr != nil {
			return 0, aerr, nil
		}
		lastReply = reply
		line, outcome := m.Advance()
		if outcome != authstate.Continue {
			return outcome, nil, lastReply
		}
		logging.Debug("sending %d bytes to upstream", len(line))
		if err := s.sendLine(line); err != nil {
			return 0, &authError{kind: errKindShortWrite}, nil
		}
	}
}

// sendLine writes line to upstream. A short write during auth is treated
// as fatal, never as ordinary backpressure (SPEC_FULL.md supplemented
// feature #3; spec.md §7 kind 6, §9's design note) — this is exactly why
// the relay pump's flush, which tolerates short writes, lives in a
// different package and is never reused here.
func (s *Session) sendLine(line []byte) error {
	if len(line) == 0 {
		return nil
	}
	n, err := s.p.UpstreamConn.Write(line)
	if err != nil {
		return err
	}
	if n < len(line) {
		return errors.New("session: short write to upstream during auth")
	}
	return nil
}

// readUpstreamReply accumulates bytes from upstream into s.upstreamBuf,
// arming a read deadline on every call (the upstream-read-only auth timer
// of SPEC_FULL.md supplemented feature #4), until classifyFn reports a
// verdict other than Again.
func (s *Session) readUpstreamReply(classifyFn func([]byte) classify.Verdict) ([]byte, *authError) {
	for {
		if s.upstreamBuf.Full() {
			s.upstreamBuf.Reset()
			return nil, &authError{kind: errKindOverflow}
		}

		s.p.UpstreamConn.SetReadDeadline(time.Now().Add(s.p.AuthTimeout))
		n, err := s.p.UpstreamConn.Read(s.upstreamBuf.Free())
		if n > 0 {
			s.upstreamBuf.Grow(n)
			ready, overflow := classify.Frame(s.upstreamBuf.Unread(), s.upstreamBuf.Full())
			if overflow {
				s.upstreamBuf.Reset()
				return nil, &authError{kind: errKindOverflow}
			}
			if ready {
				switch classifyFn(s.upstreamBuf.Unread()) {
				case classify.OK:
					reply := append([]byte(nil), s.upstreamBuf.Unread()...)
					s.upstreamBuf.Reset()
					return reply, nil
				case classify.Bad:
					return nil, &authError{kind: errKindProtocol, reply: s.maybeCapture(s.captureAndReset())}
				case classify.Again:
					// fall through to read more without resetting
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil, &authError{kind: errKindTransport}
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, &authError{kind: errKindTimeout}
			}
			return nil, &authError{kind: errKindTransport}
		}
	}
}

func (s *Session) captureAndReset() []byte {
	raw := append([]byte(nil), s.upstreamBuf.Unread()...)
	s.upstreamBuf.Reset()
	return bytes.TrimRight(raw, "\r\n")
}

// maybeCapture returns raw only when pass_error_message is enabled;
// otherwise nil, so handleAuthError never flushes a reply the
// configuration didn't ask for (spec.md §3 invariant 4).
func (s *Session) maybeCapture(raw []byte) []byte {
	if !s.p.PassErrorMessage {
		return nil
	}
	return raw
}

func (s *Session) handleAuthError(e *authError) Outcome {
	switch e.kind {
	case errKindProtocol:
		if len(e.reply) > 0 {
			s.deferredReply = e.reply
			logging.Error("upstream sent invalid response %q", string(e.reply))
			s.flushToClient(append(append([]byte(nil), e.reply...), mailproto.CRLF...))
			s.closeConns()
			return OutcomeClosed
		}
		logging.Error("upstream sent invalid response")
		s.closeConns()
		return OutcomeInternalServerError

	case errKindOverflow:
		// spec.md §7 kind 5: overflow never gets the pass_error_message
		// pass-through kind 2 gets — ngx_mail_proxy_read_response's
		// overflow branch returns NGX_ERROR without ever touching s->out.
		logging.Error("upstream sent too long response line")
		s.closeConns()
		return OutcomeInternalServerError

	case errKindTimeout:
		logging.Error("upstream timed out")
		s.closeConns()
		return OutcomeInternalServerError

	case errKindShortWrite:
		logging.Error("short write to upstream during auth")
		s.closeConns()
		return OutcomeInternalServerError

	default: // errKindTransport
		logging.Error("upstream connection error during auth")
		s.closeConns()
		return OutcomeUpstreamError
	}
}

func (s *Session) runRelay() error {
	// The auth-phase timer is upstream-read-only; relay arms its own idle
	// timeout on client reads only, so clear it here rather than leave a stale
	// deadline racing the pump (SPEC_FULL.md supplemented feature #4).
	s.p.UpstreamConn.SetReadDeadline(time.Time{})

	pump := &relay.Pump{
		Client:      s.p.ClientConn,
		Upstream:    s.p.UpstreamConn,
		ClientBuf:   s.clientBuf,
		UpstreamBuf: s.upstreamBuf,
		Timeout:     s.p.RelayTimeout,
		Metrics:     s.p.Metrics,
	}
	return pump.Run()
}

func relayOutcome(err error) Outcome {
	switch {
	case err == nil:
		logging.Info("proxied session done")
		return OutcomeClosed
	case errors.Is(err, relay.ErrClientTimeout):
		logging.Error("client timed out")
		return OutcomeClientTimeout
	case errors.Is(err, relay.ErrUpstreamTimeout):
		logging.Error("upstream timed out")
		return OutcomeUpstreamTimeout
	default:
		logging.Error("relay transport error: %v", err)
		return OutcomeClosed
	}
}

func (s *Session) flushToClient(reply []byte) {
	if len(reply) == 0 {
		return
	}
	s.p.ClientConn.Write(reply)
}

// closeConns tears down both connections, upstream first (SPEC_FULL.md
// supplemented feature #6).
func (s *Session) closeConns() {
	s.p.UpstreamConn.Close()
	s.p.ClientConn.Close()
}
