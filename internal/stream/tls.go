package stream

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/youmark/pkcs8"
)

// TLSConfig names the broker's certificate material
type TLSConfig struct {
	CAFile     string
	CertFile   string
	KeyFile    string
	Passphrase string
}

// Build loads the client certificate and key. Server verification is
// disabled; a PEM CA bundle is still placed in RootCAs.
func (t TLSConfig) Build() (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec
		MinVersion:         tls.VersionTLS12,
	}

	if t.CAFile != "" {
		caPEM, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM(caPEM) {
			cfg.RootCAs = pool
		}
	}

	if t.CertFile == "" && t.KeyFile == "" {
		return cfg, nil
	}
	if t.CertFile == "" || t.KeyFile == "" {
		return nil, errors.New("client certificate and key must be configured together")
	}

	certPEM, err := os.ReadFile(t.CertFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read client certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read client key: %w", err)
	}

	keyPEM, err = decryptKey(keyPEM, []byte(t.Passphrase))
	if err != nil {
		return nil, err
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load client key pair: %w", err)
	}
	cfg.Certificates = []tls.Certificate{cert}
	return cfg, nil
}

// decryptKey returns an unencrypted PEM private key. PKCS#8 encrypted keys
// and legacy Proc-Type encrypted keys are both accepted; plain keys pass
// through untouched.
func decryptKey(keyPEM, passphrase []byte) ([]byte, error) {
	rest := keyPEM
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, errors.New("no private key found in key file")
		}

		switch {
		case block.Type == "ENCRYPTED PRIVATE KEY":
			key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, passphrase)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt PKCS#8 key: %w", err)
			}
			der, err := x509.MarshalPKCS8PrivateKey(key)
			if err != nil {
				return nil, fmt.Errorf("failed to encode private key: %w", err)
			}
			return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil

		case x509.IsEncryptedPEMBlock(block): //nolint:staticcheck
			der, err := x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt private key: %w", err)
			}
			return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil

		case block.Type == "PRIVATE KEY" || block.Type == "RSA PRIVATE KEY" || block.Type == "EC PRIVATE KEY":
			return pem.EncodeToMemory(block), nil
		}
	}
}
