// Package smtpauth builds the wire bytes for the two SASL mechanisms
// this proxy is allowed to replay against an upstream SMTP server: AUTH
// PLAIN and AUTH LOGIN (spec.md §4.4, §6).
package smtpauth

import (
	"encoding/base64"

	"github.com/emersion/go-sasl"
)

// PlainInitialResponse builds the base64 blob for "AUTH PLAIN <blob>".
// It is deliberately built with go-sasl's client, not hand-rolled
// concatenation: sasl.NewPlainClient(identity, username, password).Start()
// produces exactly "identity\x00username\x00password" per RFC 4616,
// and spec.md §4.4 calls for login used as both identity and username
// ("login appears twice; this is deliberate").
func PlainInitialResponse(login, passwd []byte) ([]byte, error) {
	client := sasl.NewPlainClient(string(login), string(login), string(passwd))
	_, ir, err := client.Start()
	if err != nil {
		return nil, err
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(ir)))
	base64.StdEncoding.Encode(out, ir)
	return out, nil
}

// LoginUsername base64-encodes login alone, for the raw sub-reply to
// AUTH LOGIN's first "334 Username:" challenge.
//
// This does not go through go-sasl's LOGIN client: that client decides
// whether to answer with the username or the password by inspecting the
// challenge text itself, and spec.md's classifier for
// smtp_auth_login/smtp_auth_username never looks past the numeric 334
// code (§4.1) — there is no parsed challenge to hand it. Hand-rolling
// the two base64 sub-replies here keeps that boundary honest instead of
// inventing challenge-text parsing nothing else in the state machine
// does.
func LoginUsername(login []byte) []byte {
	return encodeB64(login)
}

// LoginPassword base64-encodes passwd alone, for the raw sub-reply to
// AUTH LOGIN's second "334 Password:" challenge. See LoginUsername for
// why this bypasses go-sasl's LOGIN client.
func LoginPassword(passwd []byte) []byte {
	return encodeB64(passwd)
}

func encodeB64(b []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(b)))
	base64.StdEncoding.Encode(out, b)
	return out
}
