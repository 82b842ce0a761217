package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/meshwise/depscope/pkg/config"
)

// ServerConfig builds the server-side tls.Config for the data listener.
// With a client CA configured the listener requests (or, when
// require_client_cert is set, demands) a client certificate so the peer
// identity can be observed.
func ServerConfig(cfg *config.TLSConfig) (*tls.Config, error) {
	if cfg == nil || cfg.CertFile == "" {
		return nil, nil
	}

	certificate, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("server certificate: %w", err)
	}

	out := &tls.Config{
		Certificates: []tls.Certificate{certificate},
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.MinVersion == "1.3" {
		out.MinVersion = tls.VersionTLS13
	}

	if cfg.ClientCAFile != "" {
		pool, err := clientPool(cfg.ClientCAFile)
		if err != nil {
			return nil, err
		}
		out.ClientCAs = pool
		// Verification stays on so VerifiedChains reflects mutual auth, but
		// a missing certificate only downgrades the observation, it never
		// rejects the connection unless require_client_cert is set.
		out.ClientAuth = tls.VerifyClientCertIfGiven
		if cfg.RequireClientCert {
			out.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}

	return out, nil
}

func clientPool(caFile string) (*x509.CertPool, error) {
	//nolint:gosec // CA path is controlled by admin/operator
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("client CA bundle: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("client CA bundle %s contains no certificates", caFile)
	}
	return pool, nil
}
