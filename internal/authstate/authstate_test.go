package authstate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctolnik/Proxy-Mail/internal/mailproto"
)

func TestPOP3HappyPath(t *testing.T) {
	m := NewPOP3([]byte("alice"), []byte("secret"))
	require.Equal(t, mailproto.POP3Start, m.State())

	line, outcome := m.Advance()
	assert.Equal(t, Continue, outcome)
	assert.Equal(t, "USER alice\r\n", string(line))
	assert.Equal(t, mailproto.POP3User, m.State())

	line, outcome = m.Advance()
	assert.Equal(t, Continue, outcome)
	assert.Equal(t, "PASS secret\r\n", string(line))
	assert.Equal(t, mailproto.POP3Passwd, m.State())

	_, outcome = m.Advance()
	assert.Equal(t, Relay, outcome)
}

func TestIMAPFastPath(t *testing.T) {
	m := NewIMAP(mailproto.IMAPStart, "a001 ", []byte("alice"), []byte("secret"))
	line, outcome := m.Advance()
	assert.Equal(t, Continue, outcome)
	assert.Equal(t, "a001 LOGIN alice secret\r\n", string(line))
	assert.Equal(t, mailproto.IMAPPasswd, m.State())

	_, outcome = m.Advance()
	assert.Equal(t, Relay, outcome)
}

func TestIMAPLiteralPath(t *testing.T) {
	m := NewIMAP(mailproto.IMAPLogin, "a001 ", []byte("alice"), []byte("secret"))
	line, outcome := m.Advance()
	assert.Equal(t, Continue, outcome)
	assert.Equal(t, "alice {6}\r\n", string(line))
	assert.Equal(t, mailproto.IMAPUser, m.State())

	line, outcome = m.Advance()
	assert.Equal(t, Continue, outcome)
	assert.Equal(t, "secret\r\n", string(line))
	assert.Equal(t, mailproto.IMAPPasswd, m.State())

	_, outcome = m.Advance()
	assert.Equal(t, Relay, outcome)
}

func TestSMTPPlainHappyPath(t *testing.T) {
	m := NewSMTP(mailproto.SMTPStart, mailproto.AuthPlain, []byte("u"), []byte("p"), nil, true, false, "gw.example")

	line, outcome := m.Advance()
	assert.Equal(t, Continue, outcome)
	assert.Equal(t, "EHLO gw.example\r\n", string(line))
	assert.Equal(t, mailproto.SMTPHelo, m.State())

	line, outcome = m.Advance()
	assert.Equal(t, Continue, outcome)
	assert.True(t, strings.HasPrefix(string(line), "AUTH PLAIN "))
	assert.True(t, strings.HasSuffix(string(line), "\r\n"))
	assert.Equal(t, "AUTH PLAIN dQB1AHA=\r\n", string(line))
	assert.Equal(t, mailproto.SMTPAuthPlain, m.State())

	_, outcome = m.Advance()
	assert.Equal(t, Handoff, outcome)
}

func TestSMTPLoginHappyPath(t *testing.T) {
	m := NewSMTP(mailproto.SMTPStart, mailproto.AuthLogin, []byte("u"), []byte("p"), nil, false, false, "gw.example")

	line, _ := m.Advance()
	assert.Equal(t, "HELO gw.example\r\n", string(line))

	line, outcome := m.Advance()
	assert.Equal(t, Continue, outcome)
	assert.Equal(t, "AUTH LOGIN\r\n", string(line))
	assert.Equal(t, mailproto.SMTPAuthLogin, m.State())

	line, outcome = m.Advance()
	assert.Equal(t, Continue, outcome)
	assert.Equal(t, "dQ==\r\n", string(line)) // base64("u")
	assert.Equal(t, mailproto.SMTPAuthUsername, m.State())

	line, outcome = m.Advance()
	assert.Equal(t, Continue, outcome)
	assert.Equal(t, "cA==\r\n", string(line)) // base64("p")
	assert.Equal(t, mailproto.SMTPAuthPassword, m.State())

	_, outcome = m.Advance()
	assert.Equal(t, Handoff, outcome)
}

func TestSMTPNoneSkipsAuth(t *testing.T) {
	m := NewSMTP(mailproto.SMTPStart, mailproto.AuthNone, nil, nil, []byte("MAIL FROM:<a@b>"), false, false, "gw.example")

	_, outcome := m.Advance()
	assert.Equal(t, Continue, outcome)
	assert.Equal(t, mailproto.SMTPHeloFrom, m.State())

	line, outcome := m.Advance()
	assert.Equal(t, Continue, outcome)
	assert.Equal(t, "MAIL FROM:<a@b>\r\n", string(line))
	assert.Equal(t, mailproto.SMTPFrom, m.State())

	_, outcome = m.Advance()
	assert.Equal(t, Handoff, outcome)
}

func TestSMTPXClientForcesEHLO(t *testing.T) {
	m := NewSMTP(mailproto.SMTPStart, mailproto.AuthNone, nil, nil, nil, false, true, "gw.example")
	line, _ := m.Advance()
	assert.Equal(t, "EHLO gw.example\r\n", string(line))
}

func TestSMTPUnsupportedMechanismRefused(t *testing.T) {
	for _, am := range []mailproto.AuthMethod{
		mailproto.AuthLoginUsername,
		mailproto.AuthCramMD5,
		mailproto.AuthExternal,
		mailproto.AuthAPOP,
	} {
		m := NewSMTP(mailproto.SMTPStart, am, []byte("u"), []byte("p"), nil, true, false, "gw.example")
		m.Advance() // HELO is still sent
		_, outcome := m.Advance()
		assert.Equal(t, InternalError, outcome, "auth method %v", am)
	}
}
