// Package relay implements the bidirectional byte pump of spec.md §4.6,
// the phase a ProxySession enters once an AuthStateMachine signals Relay.
// The teacher drives its POP3/SMTP proxying with a goroutine-per-direction,
// blocking-I/O style (see pop3.go's io.Copy-based relay in
// handleIMAPBackend); this package generalizes that idiom into a pump that
// also honours the client-buffer-residual-kick and half-close termination
// rules the plain teacher code didn't need.
package relay

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/ctolnik/Proxy-Mail/internal/iobuf"
)

// ErrClientTimeout and ErrUpstreamTimeout distinguish which side a relay
// idle timeout happened on, for the "client timed out"/"upstream timed
// out" log events of spec.md §6.
var (
	ErrClientTimeout   = errors.New("relay: client read timed out")
	ErrUpstreamTimeout = errors.New("relay: upstream read timed out")
)

// Metrics is the narrow surface RelayPump reports through. internal/metrics
// provides the prometheus-backed implementation; nil is accepted and every
// call becomes a no-op, so packages that don't care about metrics (tests)
// don't need to stub one out.
type Metrics interface {
	RelayBytes(direction string, n int)
	RelayTimeout(side string)
}

// Pump forwards bytes between client and upstream in both directions until
// either side reaches EOF with its buffer drained, or a transport error or
// timeout occurs (spec.md §4.6).
type Pump struct {
	Client, Upstream       net.Conn
	ClientBuf, UpstreamBuf *iobuf.Buffer
	Timeout                time.Duration
	Metrics                Metrics
}

// Run drives both directions to completion and returns the first error
// encountered (nil when the first direction to finish ended in a clean
// EOF and the other did not time out). Per spec.md §4.6's termination
// condition, as soon as one direction finishes — cleanly or not — the pump
// tears down both connections so the other direction unblocks; close
// ordering within that teardown always closes Upstream before Client
// (SPEC_FULL.md supplemented feature #6).
func (p *Pump) Run() error {
	type result struct {
		name string
		err  error
	}
	done := make(chan result, 2)

	go func() {
		done <- result{"client->upstream", p.pumpDirection("client->upstream", p.Client, p.Upstream, p.ClientBuf, true)}
	}()
	go func() {
		done <- result{"upstream->client", p.pumpDirection("upstream->client", p.Upstream, p.Client, p.UpstreamBuf, false)}
	}()

	first := <-done
	p.closeBoth()
	second := <-done

	if first.err != nil {
		return first.err
	}
	// second's error, if any, is almost always just the side effect of
	// us forcibly closing both connections to unblock it once first
	// finished cleanly; a timeout is still a real condition worth
	// surfacing, anything else is teardown noise.
	if errors.Is(second.err, ErrClientTimeout) || errors.Is(second.err, ErrUpstreamTimeout) {
		return second.err
	}
	return nil
}

// PrimeClientToUpstream reports whether the client-to-upstream buffer
// already holds residual bytes from the auth phase (e.g. pipelined SMTP
// DATA payload). When true, Run's client->upstream direction flushes them
// before attempting another read, exactly as the original module kicks the
// write-ready side first when s->buffer->pos != s->buffer->last at the
// smtp_data/smtp_xclient transition (SPEC_FULL.md supplemented feature #5).
// The pump's own loop already drains any residual bytes first regardless of
// which direction is entered first, so this is informational for callers
// that want to log or assert the priming behaviour explicitly.
func (p *Pump) PrimeClientToUpstream() bool {
	return !p.ClientBuf.Empty()
}

func (p *Pump) closeBoth() {
	p.Upstream.Close()
	p.Client.Close()
}

func (p *Pump) pumpDirection(name string, src, dst net.Conn, buf *iobuf.Buffer, srcIsClient bool) error {
	for {
		if err := p.flush(name, dst, buf); err != nil {
			return err
		}

		if srcIsClient {
			src.SetReadDeadline(time.Now().Add(p.Timeout))
		} else {
			src.SetReadDeadline(time.Time{})
		}

		n, err := src.Read(buf.Free())
		if n > 0 {
			buf.Grow(n)
			if ferr := p.flush(name, dst, buf); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if p.Metrics != nil {
					if srcIsClient {
						p.Metrics.RelayTimeout("client")
					} else {
						p.Metrics.RelayTimeout("upstream")
					}
				}
				if srcIsClient {
					return ErrClientTimeout
				}
				return ErrUpstreamTimeout
			}
			return err
		}
	}
}

// flush writes out buf's unread bytes fully, tolerating partial writes as
// ordinary backpressure (spec.md's design note: relay-phase short writes
// are normal, unlike the auth phase's fatal short write).
func (p *Pump) flush(direction string, dst net.Conn, buf *iobuf.Buffer) error {
	for !buf.Empty() {
		n, err := dst.Write(buf.Unread())
		if n > 0 {
			buf.Consume(n)
			if p.Metrics != nil {
				p.Metrics.RelayBytes(direction, n)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}
