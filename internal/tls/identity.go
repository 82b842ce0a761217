// Package tls terminates the downstream mTLS connection for the depscope
// sidecar and extracts the peer's URI SAN identity from it.
package tls

import (
	"crypto/tls"
	"crypto/x509"
)

// PeerURI returns the first URI subject-alternative-name of the certificate
// (the SPIFFE-style workload identity in a mesh deployment). It reports
// false when the certificate carries no URI SAN.
func PeerURI(cert *x509.Certificate) (string, bool) {
	if cert == nil || len(cert.URIs) == 0 {
		return "", false
	}
	return cert.URIs[0].String(), true
}

// ConnectionIdentity summarizes the downstream connection facts the
// observer consumes: whether the handshake was mutually authenticated and
// the peer's URI SAN identity when one was presented.
type ConnectionIdentity struct {
	Mutual  bool
	PeerURI string
	HasPeer bool
}

// IdentityFromState derives the connection identity from a completed TLS
// handshake. A nil state (plaintext connection) yields a zero identity.
func IdentityFromState(state *tls.ConnectionState) ConnectionIdentity {
	if state == nil {
		return ConnectionIdentity{}
	}

	identity := ConnectionIdentity{
		// VerifiedChains is only populated when the client certificate was
		// requested and verified against the configured CA pool.
		Mutual: len(state.VerifiedChains) > 0,
	}

	if len(state.PeerCertificates) > 0 {
		if uri, ok := PeerURI(state.PeerCertificates[0]); ok {
			identity.PeerURI = uri
			identity.HasPeer = true
		}
	}

	return identity
}
