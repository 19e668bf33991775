// Package testpki generates throwaway certificates for tests: self-signed
// leaves for expiry checks and CA-signed chains for staple fetching.
package testpki

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
)

// Certificate is a generated leaf with its key and PEM encodings.
type Certificate struct {
	Leaf     *x509.Certificate
	Key      *ecdsa.PrivateKey
	CertPEM  []byte
	KeyPEM   []byte
	ChainPEM []byte // leaf followed by the issuer, or just the leaf when self-signed
}

// Issuer is a test CA.
type Issuer struct {
	Cert    *x509.Certificate
	Key     *ecdsa.PrivateKey
	CertPEM []byte
}

// NewIssuer creates a self-signed test CA.
func NewIssuer(t *testing.T) *Issuer {
	t.Helper()

	key := newKey(t)
	template := &x509.Certificate{
		SerialNumber:          newSerial(t),
		Subject:               pkix.Name{CommonName: "testpki root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating issuer certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing issuer certificate: %v", err)
	}

	return &Issuer{Cert: cert, Key: key, CertPEM: certPEM(der)}
}

// Spec describes the leaf to generate.
type Spec struct {
	CN         string
	SANs       []string
	NotAfter   time.Time
	OCSPServer string
}

// SelfSigned generates a leaf signed by its own key.
func SelfSigned(t *testing.T, spec Spec) *Certificate {
	t.Helper()
	return issue(t, spec, nil)
}

// Issue generates a leaf signed by the test CA; ChainPEM carries the leaf
// followed by the CA certificate, like a fullchain.pem.
func (ca *Issuer) Issue(t *testing.T, spec Spec) *Certificate {
	t.Helper()
	return issue(t, spec, ca)
}

func issue(t *testing.T, spec Spec, ca *Issuer) *Certificate {
	t.Helper()

	key := newKey(t)
	template := &x509.Certificate{
		SerialNumber:          newSerial(t),
		Subject:               pkix.Name{CommonName: spec.CN},
		DNSNames:              spec.SANs,
		NotBefore:             spec.NotAfter.Add(-90 * 24 * time.Hour),
		NotAfter:              spec.NotAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if spec.OCSPServer != "" {
		template.OCSPServer = []string{spec.OCSPServer}
	}

	parent := template
	signer := key
	if ca != nil {
		parent = ca.Cert
		signer = ca.Key
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, signer)
	if err != nil {
		t.Fatalf("creating certificate for %s: %v", spec.CN, err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing certificate for %s: %v", spec.CN, err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshaling key for %s: %v", spec.CN, err)
	}

	chain := certPEM(der)
	if ca != nil {
		chain = append(chain, ca.CertPEM...)
	}

	return &Certificate{
		Leaf:     leaf,
		Key:      key,
		CertPEM:  certPEM(der),
		KeyPEM:   pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
		ChainPEM: chain,
	}
}

// WriteStoreFolder writes cert.pem, privkey.pem and fullchain.pem into
// folder, creating it like the CA client would.
func WriteStoreFolder(t *testing.T, folder string, cert *Certificate) {
	t.Helper()

	if err := os.MkdirAll(folder, 0o755); err != nil {
		t.Fatalf("creating store folder: %v", err)
	}
	write := func(name string, data []byte) {
		if err := os.WriteFile(filepath.Join(folder, name), data, 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	write("cert.pem", cert.CertPEM)
	write("privkey.pem", cert.KeyPEM)
	write("fullchain.pem", cert.ChainPEM)
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return key
}

func newSerial(t *testing.T) *big.Int {
	t.Helper()
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatalf("generating serial: %v", err)
	}
	return serial
}

func certPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}
