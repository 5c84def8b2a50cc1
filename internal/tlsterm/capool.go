package tlsterm

import (
	"crypto/x509"
	"fmt"
	"os"
)

func loadCAPool(path string) (*x509.CertPool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading CA file %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(b) {
		return nil, fmt.Errorf("no valid certificates found in %s", path)
	}
	return pool, nil
}
