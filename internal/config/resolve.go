package config

import (
	"fmt"
	"time"

	"github.com/simoneerrigo/proxad/internal/listener"
	"github.com/simoneerrigo/proxad/internal/tlsterm"
)

// ResolveListeners turns the parsed config's listener entries into
// listener.Spec values ready for Manager.Bind, building any tls.Config
// the entry names along the way.
func ResolveListeners(cfg *Config) ([]listener.Spec, error) {
	specs := make([]listener.Spec, 0, len(cfg.Listeners))
	for _, l := range cfg.Listeners {
		spec := listener.Spec{
			Name:        l.Name,
			Network:     "tcp",
			Addr:        l.Addr,
			Upstream:    l.Upstream,
			IdleTimeout: time.Duration(l.IdleTimeoutMs) * time.Millisecond,
		}
		if l.Mode == "http" {
			spec.Mode = listener.ModeHTTP
		} else {
			spec.Mode = listener.ModeRaw
		}

		if l.TLS != nil {
			tc, err := tlsterm.ServerConfig(toTermConfig(l.TLS))
			if err != nil {
				return nil, fmt.Errorf("listener %q: %w", l.Name, err)
			}
			spec.TLSConfig = tc
		}

		if l.UpstreamTLS != nil {
			tc, err := tlsterm.ClientConfig(toTermConfig(l.UpstreamTLS), serverNameFor(l.Upstream))
			if err != nil {
				return nil, fmt.Errorf("listener %q upstreamTLS: %w", l.Name, err)
			}
			spec.DialTLS = tc
		}

		specs = append(specs, spec)
	}
	return specs, nil
}

func toTermConfig(t *TLSConfig) tlsterm.Config {
	return tlsterm.Config{
		CertFile:   t.CertFile,
		KeyFile:    t.KeyFile,
		ClientCA:   t.ClientCA,
		VerifyMode: toVerifyMode(t.VerifyMode),
		ALPN:       t.ALPN,
	}
}

func toVerifyMode(s string) tlsterm.VerifyMode {
	switch s {
	case "optional":
		return tlsterm.VerifyOptional
	case "required":
		return tlsterm.VerifyRequired
	default:
		return tlsterm.VerifyNone
	}
}

// serverNameFor strips the port off a host:port upstream address for use
// as the TLS ServerName, falling back to the whole string if it has no
// port (e.g. already a bare host).
func serverNameFor(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
		if addr[i] == ']' {
			break
		}
	}
	return addr
}
