package authstate

import (
	"fmt"

	"github.com/ctolnik/Proxy-Mail/internal/mailproto"
)

// IMAPMachine drives either the fast path (imap_start -> imap_passwd)
// or the literal path (imap_start==imap_login -> imap_user ->
// imap_passwd) depending on which state it is constructed with
// (spec.md §4.3). The pre-auth layer decides which path based on
// whether it observed IMAP literal syntax from the client; this package
// only needs to honour whichever initial state it's given.
type IMAPMachine struct {
	state  mailproto.IMAPState
	tag    string
	login  []byte
	passwd []byte
}

// NewIMAP builds a machine. initial must be IMAPStart (fast path, sends
// one LOGIN line) or IMAPLogin (literal path: Advance itself sends the
// "<login> {<len>}" announcement line before waiting for the server's
// "+" continuation).
func NewIMAP(initial mailproto.IMAPState, tag string, login, passwd []byte) *IMAPMachine {
	return &IMAPMachine{state: initial, tag: tag, login: login, passwd: passwd}
}

// State returns the state the machine is awaiting a response for.
func (m *IMAPMachine) State() mailproto.IMAPState {
	return m.state
}

// Tag returns the session's LOGIN tag, used by the classifier to scan
// for the tagged result in imap_passwd.
func (m *IMAPMachine) Tag() string {
	return m.tag
}

// Advance is called once classify has returned OK for m.State().
func (m *IMAPMachine) Advance() ([]byte, Outcome) {
	switch m.state {
	case mailproto.IMAPStart:
		// Fast path: one LOGIN command carries both credentials.
		line := []byte(fmt.Sprintf("%sLOGIN %s %s%s", m.tag, m.login, m.passwd, mailproto.CRLF))
		m.state = mailproto.IMAPPasswd
		return line, Continue

	case mailproto.IMAPLogin:
		// Literal path, step 1: announce the password as an IMAP
		// literal so the server issues a "+" continuation request.
		line := []byte(fmt.Sprintf("%s {%d}%s", m.login, len(m.passwd), mailproto.CRLF))
		m.state = mailproto.IMAPUser
		return line, Continue

	case mailproto.IMAPUser:
		// Literal path, step 2: the literal bytes themselves.
		line := buildLine("", m.passwd)
		m.state = mailproto.IMAPPasswd
		return line, Continue

	case mailproto.IMAPPasswd:
		return nil, Relay

	default:
		return nil, InternalError
	}
}
