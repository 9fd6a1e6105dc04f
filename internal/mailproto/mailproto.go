// Package mailproto holds the protocol-level vocabulary shared by the
// classifier, the three auth state machines, and the session that drives
// them: the protocol tag, the per-protocol auth states, and the SMTP auth
// method gate.
package mailproto

// CRLF is the line terminator required by every command this proxy
// writes to an upstream mail server.
const CRLF = "\r\n"

// Protocol identifies which wire protocol a session speaks.
type Protocol int

const (
	POP3 Protocol = iota
	IMAP
	SMTP
)

func (p Protocol) String() string {
	switch p {
	case POP3:
		return "pop3"
	case IMAP:
		return "imap"
	case SMTP:
		return "smtp"
	default:
		return "unknown"
	}
}

// AuthMethod is the SASL-ish mechanism the client used against the
// gateway's own pre-auth layer. Only None, Plain and Login are ever
// replayed against the upstream; the rest are refused at the gate.
type AuthMethod int

const (
	AuthNone AuthMethod = iota
	AuthPlain
	AuthLogin
	AuthLoginUsername
	AuthCramMD5
	AuthExternal
	AuthAPOP
)

func (m AuthMethod) String() string {
	switch m {
	case AuthNone:
		return "none"
	case AuthPlain:
		return "plain"
	case AuthLogin:
		return "login"
	case AuthLoginUsername:
		return "login_username"
	case AuthCramMD5:
		return "cram-md5"
	case AuthExternal:
		return "external"
	case AuthAPOP:
		return "apop"
	default:
		return "unknown"
	}
}

// POP3State enumerates the POP3 auth state machine's states, in the
// order they are visited.
type POP3State int

const (
	POP3Start POP3State = iota
	POP3User
	POP3Passwd
)

// IMAPState enumerates the IMAP auth state machine's states. The
// pre-auth layer picks the entry point: IMAPStart for the common
// tag-based LOGIN, or IMAPLogin for clients that used IMAP literal
// syntax for the password.
type IMAPState int

const (
	IMAPStart IMAPState = iota
	IMAPLogin
	IMAPUser
	IMAPPasswd
)

// SMTPState enumerates every SMTP auth state named in the spec,
// including the xclient states, whose transitions into/out of them are
// driven by the external pre-auth SMTP parser rather than by this
// package (see authstate.SMTPMachine.Advance).
type SMTPState int

const (
	SMTPStart SMTPState = iota
	SMTPHelo
	SMTPHeloXClient
	SMTPHeloFrom
	SMTPXClient
	SMTPXClientHelo
	SMTPXClientFrom
	SMTPPreAuthPlain
	SMTPPreAuthLogin
	SMTPAuthLogin
	SMTPAuthUsername
	SMTPAuthPassword
	SMTPAuthPlain
	SMTPFrom
	SMTPTo
	SMTPData
)
