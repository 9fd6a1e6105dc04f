package authstate

import (
	"github.com/ctolnik/Proxy-Mail/internal/mailproto"
	"github.com/ctolnik/Proxy-Mail/internal/smtpauth"
)

// SMTPMachine drives the SMTP decision tree of spec.md §4.4. It is the
// most elaborate of the three: the greeting choice depends on whether
// the client spoke EHLO or xclient is enabled (supplemented feature #2
// in SPEC_FULL.md), and the next state after the greeting branches on
// auth_method.
type SMTPMachine struct {
	state      mailproto.SMTPState
	login      []byte
	passwd     []byte
	smtpFrom   []byte
	authMethod mailproto.AuthMethod
	esmtp      bool
	xclient    bool
	serverName string
}

// NewSMTP builds a machine starting at the given initial state.
// Ordinarily that's SMTPStart; a machine can also be constructed
// directly at SMTPXClientFrom/SMTPXClient/SMTPXClientHelo when the
// external pre-auth SMTP parser has already driven an XCLIENT exchange
// and wants this package to continue the remaining, shared tail of the
// decision tree (see DESIGN.md's note on xclient states).
func NewSMTP(initial mailproto.SMTPState, authMethod mailproto.AuthMethod, login, passwd, smtpFrom []byte, esmtp, xclient bool, serverName string) *SMTPMachine {
	return &SMTPMachine{
		state:      initial,
		login:      login,
		passwd:     passwd,
		smtpFrom:   smtpFrom,
		authMethod: authMethod,
		esmtp:      esmtp,
		xclient:    xclient,
		serverName: serverName,
	}
}

// State returns the state the machine is awaiting a response for.
func (m *SMTPMachine) State() mailproto.SMTPState {
	return m.state
}

// Advance is called once classify has returned OK for m.State().
func (m *SMTPMachine) Advance() ([]byte, Outcome) {
	switch m.state {
	case mailproto.SMTPStart:
		return m.sendGreeting()

	case mailproto.SMTPHelo:
		return m.afterHelo()

	case mailproto.SMTPPreAuthPlain:
		return m.sendAuthPlain()

	case mailproto.SMTPPreAuthLogin:
		return m.sendAuthLoginVerb()

	case mailproto.SMTPAuthLogin:
		line := buildLine("", smtpauth.LoginUsername(m.login))
		m.state = mailproto.SMTPAuthUsername
		return line, Continue

	case mailproto.SMTPAuthUsername:
		line := buildLine("", smtpauth.LoginPassword(m.passwd))
		m.state = mailproto.SMTPAuthPassword
		return line, Continue

	case mailproto.SMTPHeloFrom, mailproto.SMTPXClientFrom:
		line := buildLine("", m.smtpFrom)
		m.state = mailproto.SMTPFrom
		return line, Continue

	case mailproto.SMTPAuthPlain, mailproto.SMTPAuthPassword, mailproto.SMTPFrom, mailproto.SMTPTo:
		// spec.md §4.5: the module never sends the next command
		// itself from these states — it exposes the reply and hands
		// control back to the pre-auth SMTP parser.
		return nil, Handoff

	case mailproto.SMTPData, mailproto.SMTPXClient:
		return nil, Relay

	default:
		// SMTPHeloXClient / SMTPXClientHelo: referenced by the
		// classifier but, per the original module, never assigned a
		// transition here — they are driven entirely by the external
		// pre-auth parser once it takes over the XCLIENT exchange.
		// Treat reaching them as a request to hand control back.
		return nil, Handoff
	}
}

func (m *SMTPMachine) sendGreeting() ([]byte, Outcome) {
	verb := "HELO "
	if m.esmtp || m.xclient {
		verb = "EHLO "
	}
	line := buildLine(verb, []byte(m.serverName))

	if m.authMethod == mailproto.AuthNone {
		m.state = mailproto.SMTPHeloFrom
	} else {
		m.state = mailproto.SMTPHelo
	}
	return line, Continue
}

func (m *SMTPMachine) afterHelo() ([]byte, Outcome) {
	switch m.authMethod {
	case mailproto.AuthPlain:
		m.state = mailproto.SMTPPreAuthPlain
	case mailproto.AuthLogin:
		m.state = mailproto.SMTPPreAuthLogin
	default:
		// LOGIN_USERNAME, CRAM_MD5, EXTERNAL, APOP or unknown: refuse
		// at the gate (spec.md §4.4, §7.7). HELO has already been
		// exchanged — only the mechanism-specific dialogue is refused.
		return nil, InternalError
	}
	return m.Advance()
}

func (m *SMTPMachine) sendAuthPlain() ([]byte, Outcome) {
	blob, err := smtpauth.PlainInitialResponse(m.login, m.passwd)
	if err != nil {
		return nil, InternalError
	}
	line := buildLine("AUTH PLAIN ", blob)
	m.state = mailproto.SMTPAuthPlain
	return line, Continue
}

func (m *SMTPMachine) sendAuthLoginVerb() ([]byte, Outcome) {
	line := buildLine("", []byte("AUTH LOGIN"))
	m.state = mailproto.SMTPAuthLogin
	return line, Continue
}
