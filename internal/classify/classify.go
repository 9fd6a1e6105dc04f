// Package classify implements the upstream response classifier described
// in spec.md §4.1: a pure function from (protocol, current auth state,
// accumulated bytes) to a verdict. It never touches a socket, a timer, or
// config, which is what makes the IMAP capability-before-tag and SMTP
// multiline quirks safe to table-test exhaustively (see classify_test.go).
package classify

import (
	"bytes"

	"github.com/ctolnik/Proxy-Mail/internal/mailproto"
)

// Verdict is the outcome of classifying one accumulated upstream buffer.
type Verdict int

const (
	// Again means the buffer is not yet a complete, classifiable reply;
	// the caller must read more bytes from upstream into the same
	// buffer without resetting it.
	Again Verdict = iota
	// OK means the buffer holds a complete reply that satisfies the
	// current state's success grammar.
	OK
	// Bad means the buffer holds a complete reply that the current
	// state rejects, or the buffer overflowed before completing.
	Bad
)

// Frame reports whether buf already ends with a complete upstream reply
// line, without looking at protocol semantics at all: at least 4 bytes,
// terminated by CRLF. full indicates the caller's buffer has no room
// left for further reads; Frame uses it to distinguish "need more bytes"
// from "overflowed without ever completing a line".
func Frame(buf []byte, full bool) (ready bool, overflow bool) {
	if len(buf) < 4 {
		if full {
			return false, true
		}
		return false, false
	}
	if buf[len(buf)-2] != '\r' || buf[len(buf)-1] != '\n' {
		if full {
			return false, true
		}
		return false, false
	}
	return true, false
}

// POP3 classifies a framed POP3 reply: OK iff it starts with "+OK".
func POP3(buf []byte) Verdict {
	if len(buf) >= 3 && buf[0] == '+' && buf[1] == 'O' && buf[2] == 'K' {
		return OK
	}
	return Bad
}

// IMAP classifies a framed IMAP reply for the given auth state. tag is
// the session's chosen LOGIN tag, verbatim (including any trailing
// space the pre-auth parser left on it), used only in IMAPPasswd.
func IMAP(state mailproto.IMAPState, tag string, buf []byte) Verdict {
	switch state {
	case mailproto.IMAPStart:
		if len(buf) >= 4 && buf[0] == '*' && buf[1] == ' ' && buf[2] == 'O' && buf[3] == 'K' {
			return OK
		}
		return Bad

	case mailproto.IMAPLogin, mailproto.IMAPUser:
		if len(buf) >= 1 && buf[0] == '+' {
			return OK
		}
		return Bad

	case mailproto.IMAPPasswd:
		return imapPasswd(tag, buf)

	default:
		return Bad
	}
}

// imapPasswd implements the tagged/untagged scan of spec.md §4.1: walk
// the buffer line by line. An untagged line (doesn't start with our
// tag) just means "keep looking, maybe the tagged result follows" — per
// RFC 3501 §6.2.3, a capability response may precede the tagged LOGIN
// result. The tagged line itself is decisive the moment it's seen: OK
// if followed by "OK", Bad otherwise — once its terminating LF has
// arrived; a tagged line still missing its LF means more data is needed,
// as does running out of lines without finding the tag.
func imapPasswd(tag string, buf []byte) Verdict {
	p := buf
	tagBytes := []byte(tag)
	for len(p) > 0 {
		nl := bytes.IndexByte(p, '\n')
		var line []byte
		if nl >= 0 {
			line = p[:nl+1]
		} else {
			line = p
		}

		if bytes.HasPrefix(line, tagBytes) {
			if nl < 0 {
				return Again
			}
			rest := line[len(tagBytes):]
			if len(rest) >= 2 && rest[0] == 'O' && rest[1] == 'K' {
				return OK
			}
			return Bad
		}

		if nl < 0 {
			break
		}
		p = p[nl+1:]
	}
	return Again
}

// SMTP classifies a framed SMTP reply for the given auth state; a buffer
// that does not yet end in CRLF is Again. The multiline check applies regardless of state: a reply whose first
// line's 4th byte is '-' is only complete once a line ending at a CRLF
// boundary has a space in its 4th byte (spec.md §4.1). The status code
// examined for the verdict is always the first line's — by construction
// every line of a multiline reply repeats the same code.
func SMTP(state mailproto.SMTPState, buf []byte) Verdict {
	if len(buf) < 4 {
		return Bad
	}
	if buf[len(buf)-2] != '\r' || buf[len(buf)-1] != '\n' {
		return Again
	}

	if buf[3] == '-' && !smtpMultilineDone(buf) {
		return Again
	}

	code := buf[0:3]

	switch state {
	case mailproto.SMTPStart:
		return codeEquals(code, "220")

	case mailproto.SMTPHelo, mailproto.SMTPHeloXClient, mailproto.SMTPHeloFrom, mailproto.SMTPFrom:
		return codeEquals(code, "250")

	case mailproto.SMTPXClient, mailproto.SMTPXClientFrom, mailproto.SMTPXClientHelo:
		return codeIn(code, "220", "250")

	case mailproto.SMTPTo:
		// Deliberately unconditional: the client gets to see
		// upstream's RCPT TO reply even if it is 4xx/5xx. See
		// SPEC_FULL.md's supplemented-features note on smtp_to.
		return OK

	case mailproto.SMTPAuthLogin, mailproto.SMTPAuthUsername:
		return codeEquals(code, "334")

	case mailproto.SMTPAuthPlain, mailproto.SMTPAuthPassword:
		return codeEquals(code, "235")

	case mailproto.SMTPData:
		return codeEquals(code, "354")

	default:
		return Bad
	}
}

func codeEquals(code []byte, want string) Verdict {
	if string(code) == want {
		return OK
	}
	return Bad
}

func codeIn(code []byte, choices ...string) Verdict {
	for _, c := range choices {
		if string(code) == c {
			return OK
		}
	}
	return Bad
}

// smtpMultilineDone scans backward from near the end of buf for the
// CRLF that starts the final line, then checks whether that line's
// separator byte (4th byte) is a space rather than a dash. This walks
// the same window nginx's ngx_mail_proxy_read_response does: starting
// 7 bytes before the end (the shortest possible "\r\nNNN \r\n" footer)
// and scanning left for a CRLF. If no such CRLF exists yet, or the
// final line found is itself still a continuation, the reply is not
// complete.
func smtpMultilineDone(buf []byte) bool {
	if len(buf) < 7 {
		return false
	}
	m := len(buf) - 7
	for m > 0 {
		if buf[m] == '\r' && buf[m+1] == '\n' {
			break
		}
		m--
	}
	if m <= 0 || buf[m+5] == '-' {
		return false
	}
	return true
}
