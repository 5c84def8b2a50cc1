package tlsterm

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

// writeSelfSignedPair generates a throwaway self-signed cert/key pair on
// disk so ServerConfig/ClientConfig can be exercised without real CTF
// lab material.
func writeSelfSignedPair(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: mustSerial(t),
		Subject:      pkix.Name{CommonName: "proxad-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")

	certOut, err := os.Create(certPath)
	if err != nil {
		t.Fatalf("creating cert file: %v", err)
	}
	defer certOut.Close()
	pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("marshaling key: %v", err)
	}
	keyOut, err := os.Create(keyPath)
	if err != nil {
		t.Fatalf("creating key file: %v", err)
	}
	defer keyOut.Close()
	pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	return certPath, keyPath
}

func mustSerial(t *testing.T) *big.Int {
	t.Helper()
	return big.NewInt(1)
}

func TestServerConfigLoadsCertAndALPN(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedPair(t, dir)

	tc, err := ServerConfig(Config{
		CertFile:   certPath,
		KeyFile:    keyPath,
		VerifyMode: VerifyNone,
		ALPN:       []string{"http/1.1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tc.Certificates) != 1 {
		t.Fatalf("expected one loaded certificate, got %d", len(tc.Certificates))
	}
	if tc.ClientAuth != 0 {
		t.Fatalf("expected NoClientCert (0), got %v", tc.ClientAuth)
	}
	if len(tc.NextProtos) != 1 || tc.NextProtos[0] != "http/1.1" {
		t.Fatalf("expected ALPN http/1.1, got %v", tc.NextProtos)
	}
}

func TestServerConfigRequiresClientCertWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedPair(t, dir)

	tc, err := ServerConfig(Config{
		CertFile:   certPath,
		KeyFile:    keyPath,
		ClientCA:   certPath, // self-signed cert doubles as its own CA for this test
		VerifyMode: VerifyRequired,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tc.ClientCAs == nil {
		t.Fatalf("expected client CA pool to be set")
	}
}

func TestClientConfigInsecureSkipVerifyWhenVerifyNone(t *testing.T) {
	tc, err := ClientConfig(Config{VerifyMode: VerifyNone}, "upstream.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tc.InsecureSkipVerify {
		t.Fatalf("expected InsecureSkipVerify for VerifyNone")
	}
	if tc.ServerName != "upstream.example" {
		t.Fatalf("expected ServerName set, got %q", tc.ServerName)
	}
}

func TestServerConfigErrorsOnMissingCertFile(t *testing.T) {
	_, err := ServerConfig(Config{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"})
	if err == nil {
		t.Fatalf("expected error for missing cert file")
	}
}
