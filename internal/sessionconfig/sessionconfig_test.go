package sessionconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gridkv/grid-go-client/internal/coherrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	o, err := New()
	require.NoError(t, err)
	assert.Equal(t, "localhost:1408", o.Address)
	assert.Equal(t, "json", o.Format)
	assert.False(t, o.TLS.Enabled)
}

func TestNew_RejectsMalformedAddress(t *testing.T) {
	_, err := New(WithAddress("not-an-address"))
	require.Error(t, err)
	assert.True(t, coherrors.Is(err, coherrors.BadConfig))
}

func TestNew_AcceptsHostPort(t *testing.T) {
	o, err := New(WithAddress("grid.internal:40000"))
	require.NoError(t, err)
	assert.Equal(t, "grid.internal:40000", o.Address)
}

func TestNew_TLSMissingCertFile(t *testing.T) {
	_, err := New(WithTLS("/nonexistent/ca.pem", "/nonexistent/cert.pem", "/nonexistent/key.pem"))
	require.Error(t, err)
	assert.True(t, coherrors.Is(err, coherrors.BadConfig))
}

func TestNew_TLSAllCertsPresent(t *testing.T) {
	dir := t.TempDir()
	ca := filepath.Join(dir, "ca.pem")
	cert := filepath.Join(dir, "cert.pem")
	key := filepath.Join(dir, "key.pem")
	for _, p := range []string{ca, cert, key} {
		require.NoError(t, os.WriteFile(p, []byte("placeholder"), 0o600))
	}

	o, err := New(WithTLS(ca, cert, key))
	require.NoError(t, err)
	assert.True(t, o.TLS.Enabled)
	assert.Equal(t, ca, o.TLS.CACertPath)
}
