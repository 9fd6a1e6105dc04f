package authstate

import "github.com/ctolnik/Proxy-Mail/internal/mailproto"

// POP3Machine drives pop3_start -> pop3_user -> pop3_passwd -> relay
// (spec.md §4.2).
type POP3Machine struct {
	state  mailproto.POP3State
	login  []byte
	passwd []byte
}

// NewPOP3 builds a machine starting at pop3_start, awaiting the
// upstream's initial greeting.
func NewPOP3(login, passwd []byte) *POP3Machine {
	return &POP3Machine{state: mailproto.POP3Start, login: login, passwd: passwd}
}

// State returns the state the machine is currently awaiting a response
// for. The driver must classify against this value.
func (m *POP3Machine) State() mailproto.POP3State {
	return m.state
}

// Advance is called once classify has returned OK for m.State(). It
// returns the next line to send upstream (with trailing CRLF) and
// transitions the state, or signals Relay once pop3_passwd succeeds.
func (m *POP3Machine) Advance() ([]byte, Outcome) {
	switch m.state {
	case mailproto.POP3Start:
		m.state = mailproto.POP3User
		return buildLine("USER ", m.login), Continue

	case mailproto.POP3User:
		m.state = mailproto.POP3Passwd
		return buildLine("PASS ", m.passwd), Continue

	case mailproto.POP3Passwd:
		return nil, Relay

	default:
		return nil, InternalError
	}
}

func buildLine(verb string, arg []byte) []byte {
	line := make([]byte, 0, len(verb)+len(arg)+2)
	line = append(line, verb...)
	line = append(line, arg...)
	line = append(line, mailproto.CRLF...)
	return line
}
