package stream

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
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
	"github.com/youmark/pkcs8"
)

const testPassphrase = "s3cret!"

type certFiles struct {
	dir  string
	key  *ecdsa.PrivateKey
	cert string
}

func newCertFiles(t *testing.T) certFiles {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "faultgate-client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath := filepath.Join(dir, "client.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))

	return certFiles{dir: dir, key: key, cert: certPath}
}

func (c certFiles) write(t *testing.T, name string, block *pem.Block) string {
	path := filepath.Join(c.dir, name)
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestTLSConfig_EncryptedPKCS8Key(t *testing.T) {
	files := newCertFiles(t)
	der, err := pkcs8.MarshalPrivateKey(files.key, []byte(testPassphrase), nil)
	require.NoError(t, err)
	keyPath := files.write(t, "key.pem", &pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: der})

	cfg, err := TLSConfig{
		CAFile:     files.cert,
		CertFile:   files.cert,
		KeyFile:    keyPath,
		Passphrase: testPassphrase,
	}.Build()
	require.NoError(t, err)

	assert.True(t, cfg.InsecureSkipVerify)
	assert.NotNil(t, cfg.RootCAs)
	require.Len(t, cfg.Certificates, 1)

	_, err = TLSConfig{CertFile: files.cert, KeyFile: keyPath, Passphrase: "wrong"}.Build()
	assert.Error(t, err)
}

func TestTLSConfig_LegacyEncryptedKey(t *testing.T) {
	files := newCertFiles(t)
	der, err := x509.MarshalECPrivateKey(files.key)
	require.NoError(t, err)
	block, err := x509.EncryptPEMBlock(rand.Reader, "EC PRIVATE KEY", der, []byte(testPassphrase), x509.PEMCipherAES256) //nolint:staticcheck
	require.NoError(t, err)
	keyPath := files.write(t, "legacy.pem", block)

	cfg, err := TLSConfig{CertFile: files.cert, KeyFile: keyPath, Passphrase: testPassphrase}.Build()
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
}

func TestTLSConfig_PlainKey(t *testing.T) {
	files := newCertFiles(t)
	der, err := x509.MarshalPKCS8PrivateKey(files.key)
	require.NoError(t, err)
	keyPath := files.write(t, "plain.pem", &pem.Block{Type: "PRIVATE KEY", Bytes: der})

	cfg, err := TLSConfig{CertFile: files.cert, KeyFile: keyPath}.Build()
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
}

func TestTLSConfig_Errors(t *testing.T) {
	files := newCertFiles(t)

	_, err := TLSConfig{CertFile: files.cert}.Build()
	assert.Error(t, err, "key is required with a certificate")

	_, err = TLSConfig{CertFile: files.cert, KeyFile: files.cert}.Build()
	assert.ErrorContains(t, err, "no private key")

	_, err = TLSConfig{CAFile: filepath.Join(files.dir, "missing.pem")}.Build()
	assert.Error(t, err)

	cfg, err := TLSConfig{}.Build()
	require.NoError(t, err)
	assert.Empty(t, cfg.Certificates)
}
