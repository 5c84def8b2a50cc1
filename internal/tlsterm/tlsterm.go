// Package tlsterm builds the two crypto/tls configurations proxad needs:
// server-terminate (decrypt client traffic at the listener, matching the
// cert/key/CA/verify_mode/ALPN setup in
// original_source/test/tls_server.py and https.py) and client-initiate
// (re-encrypt outbound traffic to the real upstream).
//
// No third-party TLS library appears anywhere in the example corpus —
// every TLS-touching file in the pack builds on crypto/tls directly, so
// this package is stdlib by convention, not by exception.
package tlsterm

import (
	"crypto/tls"
	"fmt"
)

// VerifyMode mirrors Python ssl's CERT_NONE/CERT_OPTIONAL/CERT_REQUIRED,
// per original_source/test/tls_server.py's commented-out verify_mode line
// and https.py's explicit ssl.CERT_OPTIONAL.
type VerifyMode int

const (
	VerifyNone VerifyMode = iota
	VerifyOptional
	VerifyRequired
)

// Config describes one TLS termination point's material, generalized
// from the cert_chain/private_key/client_ca/verify_mode/alpn fields
// original_source/test/tls_server.py and https.py load explicitly.
type Config struct {
	CertFile   string
	KeyFile    string
	ClientCA   string // optional: verify client certs against this CA
	VerifyMode VerifyMode
	ALPN       []string // e.g. []string{"http/1.1"}
}

// ServerConfig builds a *tls.Config suitable for tls.Server — the
// server-terminate mode of spec.md §4.4, where proxad decrypts the
// client's TLS connection itself.
func ServerConfig(c Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading server cert/key: %w", err)
	}

	tc := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   c.ALPN,
	}

	if c.ClientCA != "" {
		pool, err := loadCAPool(c.ClientCA)
		if err != nil {
			return nil, err
		}
		tc.ClientCAs = pool
	}

	switch c.VerifyMode {
	case VerifyRequired:
		tc.ClientAuth = tls.RequireAndVerifyClientCert
	case VerifyOptional:
		tc.ClientAuth = tls.VerifyClientCertIfGiven
	default:
		tc.ClientAuth = tls.NoClientCert
	}

	return tc, nil
}

// ClientConfig builds a *tls.Config suitable for tls.Client — the
// client-initiate mode of spec.md §4.4, where proxad re-wraps the
// already-decrypted (and possibly filtered) plaintext in a fresh TLS
// connection to the real upstream.
func ClientConfig(c Config, serverName string) (*tls.Config, error) {
	tc := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
		NextProtos: c.ALPN,
	}

	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client cert/key: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	if c.ClientCA != "" {
		pool, err := loadCAPool(c.ClientCA)
		if err != nil {
			return nil, err
		}
		tc.RootCAs = pool
	}

	if c.VerifyMode == VerifyNone {
		tc.InsecureSkipVerify = true
	}

	return tc, nil
}
