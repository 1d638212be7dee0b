package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateTestCert creates a self-signed certificate for testing
func generateTestCert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM
}

// setupTestFiles writes a key pair and uses the certificate as its own CA
func setupTestFiles(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	tmpDir := t.TempDir()
	certPEM, keyPEM := generateTestCert(t)

	certFile = filepath.Join(tmpDir, "cert.pem")
	keyFile = filepath.Join(tmpDir, "key.pem")
	caFile = filepath.Join(tmpDir, "ca.pem")

	require.NoError(t, os.WriteFile(certFile, certPEM, 0o644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0o644))
	return certFile, keyFile, caFile
}

func TestLoadServerConfig(t *testing.T) {
	certFile, keyFile, _ := setupTestFiles(t)

	t.Run("disabled returns nil", func(t *testing.T) {
		got, err := LoadServerConfig(ServerConfig{})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("key pair with TLS 1.3", func(t *testing.T) {
		got, err := LoadServerConfig(ServerConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Len(t, got.Certificates, 1)
		assert.Equal(t, uint16(tls.VersionTLS13), got.MinVersion)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := LoadServerConfig(ServerConfig{Enabled: true, CertFile: certFile, KeyFile: "/nonexistent/key.pem"})
		assert.Error(t, err)
	})
}

func TestLoadClientConfig(t *testing.T) {
	certFile, keyFile, caFile := setupTestFiles(t)
	bogus := filepath.Join(t.TempDir(), "bogus.pem")
	require.NoError(t, os.WriteFile(bogus, []byte("not pem"), 0o644))

	tests := []struct {
		name    string
		cfg     ClientConfig
		wantErr bool
		checkFn func(*testing.T, *tls.Config)
	}{
		{
			name: "default config with system CA pool",
			cfg:  ClientConfig{},
			checkFn: func(t *testing.T, c *tls.Config) {
				assert.NotNil(t, c.RootCAs)
				assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
				assert.False(t, c.InsecureSkipVerify)
				assert.Empty(t, c.Certificates)
			},
		},
		{
			name: "additional CA file",
			cfg:  ClientConfig{CAFiles: []string{caFile}},
			checkFn: func(t *testing.T, c *tls.Config) {
				assert.NotNil(t, c.RootCAs)
			},
		},
		{
			name: "insecure skip verify",
			cfg:  ClientConfig{InsecureSkipVerify: true},
			checkFn: func(t *testing.T, c *tls.Config) {
				assert.True(t, c.InsecureSkipVerify)
			},
		},
		{
			name: "client certificate",
			cfg:  ClientConfig{CertFile: certFile, KeyFile: keyFile},
			checkFn: func(t *testing.T, c *tls.Config) {
				assert.Len(t, c.Certificates, 1)
			},
		},
		{name: "missing CA file", cfg: ClientConfig{CAFiles: []string{"/nonexistent/ca.pem"}}, wantErr: true},
		{name: "CA file without PEM", cfg: ClientConfig{CAFiles: []string{bogus}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadClientConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, got)
			if tt.checkFn != nil {
				tt.checkFn(t, got)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, ServerConfig{}.Validate())
	assert.Error(t, ServerConfig{Enabled: true}.Validate())
	assert.Error(t, ServerConfig{MinVersion: "1.0"}.Validate())

	assert.NoError(t, ClientConfig{MinVersion: "1.3"}.Validate())
	assert.Error(t, ClientConfig{CertFile: "cert.pem"}.Validate())
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion(""))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("bogus"))
}
