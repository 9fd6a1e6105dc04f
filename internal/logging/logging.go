// Package logging generalizes the teacher's leveled logger (logger.go) into
// a package usable from every proxy component. Call sites pass pre-redacted
// strings for anything credential-shaped — this package has no way to know
// which argument is a password, so the invariant that passwd never reaches
// a log channel (spec.md §3 invariant 4) is enforced by callers, the same
// way the teacher's pop3.go logs "PASS [hidden]" rather than the real PASS
// line.
package logging

import (
	"log"
	"strings"
)

// Level selects which Debug calls are emitted.
type Level int

const (
	LevelInfo Level = iota
	LevelDebug
)

var currentLevel = LevelInfo

// SetLevel configures the logging level from a config string ("debug",
// "info", or "" which defaults to info).
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		currentLevel = LevelDebug
	case "info", "":
		currentLevel = LevelInfo
	default:
		currentLevel = LevelInfo
	}
}

// Info logs high-level operations: connecting to upstream, SSL handshaking,
// sending a command upstream, client logged in, proxied session done
// (spec.md §6's observable log events). Always shown.
func Info(format string, args ...interface{}) {
	log.Printf("[INFO] "+format, args...)
}

// Debug logs detailed protocol exchanges. Only shown when the level is set
// to debug.
func Debug(format string, args ...interface{}) {
	if currentLevel >= LevelDebug {
		log.Printf("[DEBUG] "+format, args...)
	}
}

// Error logs errors: upstream sent invalid response, upstream sent too long
// response line, upstream/client timed out, shutdown timeout. Always shown.
func Error(format string, args ...interface{}) {
	log.Printf("[ERROR] "+format, args...)
}

// Stats logs statistics and summaries. Always shown.
func Stats(format string, args ...interface{}) {
	log.Printf("[STATS] "+format, args...)
}

// RedactPasswd returns the fixed placeholder the teacher's pop3.go logs
// in place of a real PASS argument ("PASS [hidden]"). Never pass the real
// passwd bytes to Info/Debug/Error/Stats, even under this name.
func RedactPasswd() string {
	return "[hidden]"
}

// RedactLogin returns a placeholder suitable for logging in place of a
// login name where only the shape of the exchange matters, not the
// identity ("USER [client_provided]" in the teacher's pop3.go).
func RedactLogin() string {
	return "[client_provided]"
}
