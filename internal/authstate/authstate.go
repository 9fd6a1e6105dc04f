// Package authstate implements the three per-protocol AuthStateMachine
// variants of spec.md §4: POP3, IMAP and SMTP. Each machine is a pure
// state holder — it never touches a socket. A driver (internal/session)
// calls classify on the machine's current State(), and on OK calls
// Advance to get the next outbound line and the machine's new state, or
// a terminal Outcome.
package authstate

// Outcome tells the driver what to do once a machine's Advance returns.
type Outcome int

const (
	// Continue means: write the returned line to upstream and keep
	// driving this machine.
	Continue Outcome = iota
	// Relay means: login is complete, hand off to the RelayPump.
	Relay
	// Handoff is SMTP-only: expose the upstream's last reply to the
	// client verbatim and re-install the pre-auth SMTP parser as the
	// client's read handler (spec.md §4.5), instead of sending
	// anything further to upstream ourselves.
	Handoff
	// InternalError means the state machine hit a gate it cannot pass
	// (an unsupported SASL mechanism) without ever having attempted to
	// dialogue with upstream about it (spec.md §4.4, §7.7).
	InternalError
)
