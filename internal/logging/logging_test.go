package logging

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureLog(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(orig)
	fn()
	return buf.String()
}

func TestDebugSuppressedUnlessLevelSet(t *testing.T) {
	SetLevel("info")
	out := captureLog(t, func() { Debug("should not appear") })
	assert.Empty(t, out)

	SetLevel("debug")
	defer SetLevel("info")
	out = captureLog(t, func() { Debug("shows up %d", 1) })
	assert.Contains(t, out, "[DEBUG] shows up 1")
}

func TestInfoAndErrorAlwaysEmit(t *testing.T) {
	SetLevel("info")
	out := captureLog(t, func() { Info("connecting to %s", "upstream") })
	assert.Contains(t, out, "[INFO] connecting to upstream")

	out = captureLog(t, func() { Error("upstream sent invalid response %q", "garbage") })
	assert.Contains(t, out, "[ERROR] upstream sent invalid response")
}

func TestRedactionPlaceholdersNeverLeakRealBytes(t *testing.T) {
	assert.Equal(t, "[hidden]", RedactPasswd())
	assert.Equal(t, "[client_provided]", RedactLogin())
}
