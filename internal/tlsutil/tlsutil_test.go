package tlsutil

import (
	"crypto/tls"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTLSConfig(t *testing.T) {
	cfg := DefaultTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	require.NotEmpty(t, cfg.CipherSuites)
	for _, cs := range cfg.CipherSuites {
		switch cs {
		case tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305:
		default:
			t.Errorf("unexpected non-AEAD cipher suite: %d", cs)
		}
	}
}

func TestClientConfig(t *testing.T) {
	cfg, err := ClientConfig(Options{ServerName: "chat.internal"})
	require.NoError(t, err)
	assert.Equal(t, "chat.internal", cfg.ServerName)
	assert.Nil(t, cfg.RootCAs)
	assert.False(t, cfg.InsecureSkipVerify)

	_, err = ClientConfig(Options{CAFile: "/nonexistent/ca.pem"})
	assert.Error(t, err)

	bogus := filepath.Join(t.TempDir(), "bogus.pem")
	require.NoError(t, os.WriteFile(bogus, []byte("not a certificate"), 0o600))
	_, err = ClientConfig(Options{CAFile: bogus})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no certificates")
}

func TestClientConfig_TrustsCAFile(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	block := &pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}
	require.NoError(t, os.WriteFile(caFile, pem.EncodeToMemory(block), 0o600))

	cfg, err := ClientConfig(Options{CAFile: caFile})
	require.NoError(t, err)
	require.NotNil(t, cfg.RootCAs)

	resp, err := StreamingHTTPClient(cfg).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, resp.ProtoMajor, "streaming client stays on HTTP/1.1")

	// 未信任测试 CA 时握手失败
	_, err = StreamingHTTPClient(DefaultTLSConfig()).Get(srv.URL)
	assert.Error(t, err)
}

func TestStreamingTransport(t *testing.T) {
	base := DefaultTLSConfig()
	tr := StreamingTransport(base)
	require.NotNil(t, tr.TLSClientConfig)
	assert.Equal(t, []string{"http/1.1"}, tr.TLSClientConfig.NextProtos)
	assert.False(t, tr.ForceAttemptHTTP2)
	assert.Empty(t, base.NextProtos, "caller config is not mutated")

	assert.NotNil(t, StreamingTransport(nil).TLSClientConfig)
	assert.Zero(t, StreamingHTTPClient(nil).Timeout)
}
