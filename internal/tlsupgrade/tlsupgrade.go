// Package tlsupgrade wraps the upstream leg of a proxy session in TLS
// (spec.md §4.7). It never touches the client connection: client-to-proxy
// TLS is explicitly out of scope (spec.md §1).
package tlsupgrade

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
)

// VerifyMode mirrors nginx's ssl_verify levels for the upstream leg
// (spec.md §4.7).
type VerifyMode int

const (
	// VerifyNone performs no certificate verification at all.
	VerifyNone VerifyMode = iota
	// VerifyRequirePeerCert requires a peer certificate and a clean chain.
	VerifyRequirePeerCert
	// VerifyChainOnly requires the chain to verify OK; a bare certificate
	// is not mandatory (an upstream that sends no certificate is accepted).
	VerifyChainOnly
	// VerifyOptionalNoCA accepts a clean chain, and additionally accepts
	// the "missing issuer" family of x509 verification errors.
	VerifyOptionalNoCA
)

// ErrHandshakeFailed is returned when the TLS handshake itself never
// completed — distinct from ErrVerificationFailed, which is returned when
// the handshake completed but the resulting certificate chain failed the
// configured VerifyMode. Both are internal_server_error conditions to the
// caller, but the original module's upstream SSL handshake handler
// (ngx_mail_upstream_ssl_handshake_handler) distinguishes them internally,
// and SPEC_FULL.md's supplemented feature #1 asks that this core preserve
// that distinction even though both map onto the same client-visible 5xx.
var ErrHandshakeFailed = errors.New("tlsupgrade: upstream TLS handshake did not complete")

// ErrVerificationFailed is returned when the handshake completed but the
// certificate chain did not satisfy the configured VerifyMode.
type ErrVerificationFailed struct {
	Mode VerifyMode
	Err  error
}

func (e *ErrVerificationFailed) Error() string {
	return fmt.Sprintf("tlsupgrade: upstream certificate verification failed (mode %d): %v", e.Mode, e.Err)
}

func (e *ErrVerificationFailed) Unwrap() error { return e.Err }

// Upgrade wraps conn in a *tls.Conn, drives the handshake to completion,
// and enforces mode. On success it returns the upgraded connection ready
// to hand to an AuthStateMachine. On failure the returned error is either
// ErrHandshakeFailed or an *ErrVerificationFailed; the caller
// (cmd/mailproxy's Service.ProxyInit, before any Session exists) is expected to treat either as an internal_server_error path and must
// close the raw conn itself — Upgrade does not close conn on failure,
// mirroring the teacher's style of leaving cleanup to the caller that owns
// the connection's lifetime.
func Upgrade(conn net.Conn, serverName string, mode VerifyMode) (*tls.Conn, error) {
	cfg := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: true, // verification is done explicitly below, per mode
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, ErrHandshakeFailed
	}

	if err := verify(tlsConn, mode); err != nil {
		return nil, &ErrVerificationFailed{Mode: mode, Err: err}
	}
	return tlsConn, nil
}

func verify(conn *tls.Conn, mode VerifyMode) error {
	if mode == VerifyNone {
		return nil
	}

	state := conn.ConnectionState()
	certs := state.PeerCertificates
	if len(certs) == 0 {
		if mode == VerifyRequirePeerCert {
			return errors.New("no peer certificate presented")
		}
		// VerifyChainOnly and VerifyOptionalNoCA both tolerate a bare
		// upstream that never presented a certificate at all.
		return nil
	}

	opts := x509.VerifyOptions{
		DNSName:       conn.ConnectionState().ServerName,
		Intermediates: x509.NewCertPool(),
	}
	for _, c := range certs[1:] {
		opts.Intermediates.AddCert(c)
	}

	_, err := certs[0].Verify(opts)
	if err == nil {
		return nil
	}

	if mode == VerifyOptionalNoCA && isMissingIssuer(err) {
		return nil
	}
	return err
}

// isMissingIssuer reports whether err belongs to the "missing issuer"
// family mode 3 whitelists: the verifier walked off the end of the chain
// without finding a trusted root, which Go surfaces as
// x509.UnknownAuthorityError.
func isMissingIssuer(err error) bool {
	var uae x509.UnknownAuthorityError
	return errors.As(err, &uae)
}
